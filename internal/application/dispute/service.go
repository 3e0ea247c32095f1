package dispute

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appneg "github.com/accord-hub/accord-hub/internal/application/negotiation"
	domain "github.com/accord-hub/accord-hub/internal/domain/dispute"
	"github.com/accord-hub/accord-hub/internal/domain/negotiation"
)

// Service is the escalation gateway: it validates a dispute against the
// binding session, moves the session to DISPUTED, records the dispute, and
// hands it to the external arbitration system.
type Service struct {
	disputes  domain.Repository
	sessions  *appneg.Service
	escalator domain.Escalator
	logger    zerolog.Logger
}

func NewService(disputes domain.Repository, sessions *appneg.Service, escalator domain.Escalator, logger zerolog.Logger) *Service {
	return &Service{
		disputes:  disputes,
		sessions:  sessions,
		escalator: escalator,
		logger:    logger.With().Str("service", "dispute").Logger(),
	}
}

// RaiseInput challenges a binding commitment.
type RaiseInput struct {
	SessionID      uuid.UUID
	Participant    string
	BindingHash    string
	Evidence       json.RawMessage
	IdempotencyKey string
}

// Raise escalates a dispute. The session transition happens before the
// external handoff; if the escalator fails, the dispute record keeps the
// failure and the session stays DISPUTED for a retried escalation.
func (s *Service) Raise(ctx context.Context, input RaiseInput) (*domain.Dispute, error) {
	session, err := s.sessions.RaiseDispute(ctx, appneg.DisputeInput{
		ActionInput: appneg.ActionInput{
			SessionID:      input.SessionID,
			Participant:    input.Participant,
			IdempotencyKey: input.IdempotencyKey,
		},
		BindingHash: input.BindingHash,
		Evidence:    input.Evidence,
	})
	if err != nil {
		return nil, err
	}
	if session.State != negotiation.StateDisputed {
		// idempotent replay of a key from before the dispute
		return nil, negotiation.StateErrorf("session %s is in state %s, not DISPUTED", session.SessionID, session.State)
	}

	if existing, err := s.disputes.GetBySession(ctx, input.SessionID); err == nil && existing != nil {
		return existing, nil
	}

	now := time.Now().UTC()
	d := &domain.Dispute{
		DisputeID:   uuid.New(),
		SessionID:   input.SessionID,
		RaisedBy:    input.Participant,
		BindingHash: input.BindingHash,
		Evidence:    input.Evidence,
		Status:      domain.StatusEscalating,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.disputes.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("create dispute record: %w", err)
	}

	ref, err := s.escalator.Escalate(ctx, input.SessionID, input.BindingHash, input.Evidence)
	if err != nil {
		d.Status = domain.StatusFailed
		d.Error = err.Error()
		if uerr := s.disputes.UpdateStatus(ctx, d.DisputeID, domain.StatusFailed, "", err.Error()); uerr != nil {
			s.logger.Error().Err(uerr).Str("dispute_id", d.DisputeID.String()).Msg("record escalation failure")
		}
		s.logger.Error().Err(err).
			Str("session_id", input.SessionID.String()).
			Str("dispute_id", d.DisputeID.String()).
			Msg("escalation handoff failed")
		return d, nil
	}
	d.Status = domain.StatusEscalated
	d.ExternalReference = ref
	if err := s.disputes.UpdateStatus(ctx, d.DisputeID, domain.StatusEscalated, ref, ""); err != nil {
		return nil, fmt.Errorf("update dispute status: %w", err)
	}
	s.logger.Info().
		Str("session_id", input.SessionID.String()).
		Str("dispute_id", d.DisputeID.String()).
		Str("external_ref", ref).
		Msg("dispute escalated")
	return d, nil
}

// Get returns one dispute record.
func (s *Service) Get(ctx context.Context, disputeID uuid.UUID) (*domain.Dispute, error) {
	return s.disputes.Get(ctx, disputeID)
}

// GetBySession returns the dispute raised against a session, if any.
func (s *Service) GetBySession(ctx context.Context, sessionID uuid.UUID) (*domain.Dispute, error) {
	return s.disputes.GetBySession(ctx, sessionID)
}
