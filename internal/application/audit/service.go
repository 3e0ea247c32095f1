package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/accord-hub/accord-hub/internal/domain/audit"
	"github.com/accord-hub/accord-hub/internal/infrastructure/sse"
)

// Service records session transition events: signs them when a key is
// configured, persists them, and broadcasts them on the event stream.
type Service struct {
	repo    audit.Repository
	hub     *sse.Hub
	signKey []byte
	keyID   string
	logger  zerolog.Logger
}

// NewService builds the audit service. hub may be nil to disable streaming;
// an empty signKey disables event signing.
func NewService(repo audit.Repository, hub *sse.Hub, keyID string, signKey []byte, logger zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		hub:     hub,
		signKey: signKey,
		keyID:   keyID,
		logger:  logger.With().Str("service", "audit").Logger(),
	}
}

// EmitTransition records a transition event asynchronously so state-machine
// writers never block on the audit path.
func (s *Service) EmitTransition(sessionID uuid.UUID, actor, fromState, toState, resultingHash string) {
	event := &audit.TransitionEvent{
		EventID:       uuid.New(),
		SessionID:     sessionID,
		Actor:         actor,
		FromState:     fromState,
		ToState:       toState,
		Timestamp:     time.Now().UTC(),
		ResultingHash: resultingHash,
	}
	go func() {
		if err := s.EmitSync(context.Background(), event); err != nil {
			s.logger.Error().Err(err).
				Str("session_id", sessionID.String()).
				Str("from", fromState).
				Str("to", toState).
				Msg("failed to record transition event")
		}
	}()
}

// EmitSync signs, stores, and broadcasts one transition event.
func (s *Service) EmitSync(ctx context.Context, event *audit.TransitionEvent) error {
	if len(s.signKey) > 0 {
		sig, err := audit.SignEvent(event, s.signKey)
		if err != nil {
			return fmt.Errorf("sign transition event: %w", err)
		}
		event.Signature = sig
		event.KeyID = s.keyID
	}
	if err := s.repo.Insert(ctx, event); err != nil {
		return fmt.Errorf("store transition event: %w", err)
	}
	if s.hub != nil {
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("encode transition event: %w", err)
		}
		s.hub.Broadcast(event.SessionID, &sse.Event{Type: "transition", Data: data})
	}
	s.logger.Debug().
		Str("session_id", event.SessionID.String()).
		Str("actor", event.Actor).
		Str("from", event.FromState).
		Str("to", event.ToState).
		Msg("transition event recorded")
	return nil
}

// History returns the transition events of one session.
func (s *Service) History(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*audit.TransitionEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	return s.repo.ListBySession(ctx, sessionID, limit, offset)
}

// VerifyEvent checks a stored event's signature against the configured key.
func (s *Service) VerifyEvent(event *audit.TransitionEvent) (bool, error) {
	if len(s.signKey) == 0 {
		return false, fmt.Errorf("no signing key configured")
	}
	return audit.VerifyEvent(event, s.signKey)
}
