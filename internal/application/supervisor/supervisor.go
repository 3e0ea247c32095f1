package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	appneg "github.com/accord-hub/accord-hub/internal/application/negotiation"
	"github.com/accord-hub/accord-hub/internal/domain/audit"
	domain "github.com/accord-hub/accord-hub/internal/domain/negotiation"
)

// Config tunes the sweep loop.
type Config struct {
	Interval  time.Duration
	BatchSize int
}

func (c Config) normalized() Config {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	return c
}

// Supervisor expires sessions whose deadlines have passed. Transitions are
// CAS-guarded, so concurrent sweeps and participant-driven transitions race
// safely: exactly one writer wins and the loser moves on.
type Supervisor struct {
	repo    domain.Repository
	emitter appneg.Emitter
	cfg     Config
	logger  zerolog.Logger
}

func New(repo domain.Repository, emitter appneg.Emitter, cfg Config, logger zerolog.Logger) *Supervisor {
	return &Supervisor{
		repo:    repo,
		emitter: emitter,
		cfg:     cfg.normalized(),
		logger:  logger.With().Str("service", "supervisor").Logger(),
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.Sweep(ctx); err != nil {
				s.logger.Error().Err(err).Msg("sweep failed")
			} else if n > 0 {
				s.logger.Info().Int("expired", n).Msg("sweep expired sessions")
			}
		}
	}
}

// Sweep expires every due session it can claim and returns the count.
func (s *Supervisor) Sweep(ctx context.Context) (int, error) {
	now := time.Now()
	sessions, err := s.repo.ListExpirable(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list expirable sessions: %w", err)
	}
	expired := 0
	for _, session := range sessions {
		if domain.IsTerminal(session.State) {
			continue
		}
		ok, err := s.repo.UpdateSessionStateCAS(ctx, session.SessionID, session.State, domain.StateExpired)
		if err != nil {
			s.logger.Error().Err(err).
				Str("session_id", session.SessionID.String()).
				Msg("expire failed")
			continue
		}
		if !ok {
			// another writer got there first
			continue
		}
		expired++
		if s.emitter != nil {
			s.emitter.EmitTransition(session.SessionID, audit.ActorSupervisor,
				string(session.State), string(domain.StateExpired), "")
		}
		s.logger.Debug().
			Str("session_id", session.SessionID.String()).
			Str("from", string(session.State)).
			Msg("session expired")
	}
	return expired, nil
}
