package negotiation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists sessions, their append-only message log, and the
// acceptance/finalization record sets.
type Repository interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, sessionID uuid.UUID) (*Session, error)
	ListSessions(ctx context.Context, state State, limit, offset int) ([]*Session, error)
	// UpdateSessionStateCAS transitions state only when the stored state
	// still equals expected; ok=false means the row was changed underneath.
	UpdateSessionStateCAS(ctx context.Context, sessionID uuid.UUID, expected, next State) (bool, error)
	UpdateSessionTerms(ctx context.Context, sessionID uuid.UUID, terms []byte, termsVersion int) error
	AddJoined(ctx context.Context, sessionID uuid.UUID, participant string) error
	SetCommitment(ctx context.Context, sessionID uuid.UUID, c *BindingCommitment) error
	MarkChainCorrupt(ctx context.Context, sessionID uuid.UUID) error
	// ListExpirable returns sessions in non-terminal states whose applicable
	// deadline has passed: the negotiation deadline for INITIATED and
	// NEGOTIATING, the finalization deadline for CONSENSUS_REACHED.
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]*Session, error)

	AppendMessage(ctx context.Context, m *Message) error
	ListMessages(ctx context.Context, sessionID uuid.UUID) ([]*Message, error)
	LastMessage(ctx context.Context, sessionID uuid.UUID) (*Message, error)
	// FindByIdempotencyKey resolves a previously appended message for the
	// same session and key, or nil if the key is new.
	FindByIdempotencyKey(ctx context.Context, sessionID uuid.UUID, key string) (*Message, error)
	// FindInitiateByIdempotencyKey resolves a prior INITIATE message carrying
	// the key. INITIATE precedes its session, so the lookup spans all
	// sessions; nil means the key is new.
	FindInitiateByIdempotencyKey(ctx context.Context, key string) (*Message, error)

	AddAcceptance(ctx context.Context, r *AcceptanceRecord) error
	ListAcceptances(ctx context.Context, sessionID uuid.UUID) ([]AcceptanceRecord, error)
	AddFinalization(ctx context.Context, r *FinalizationRecord) error
	ListFinalizations(ctx context.Context, sessionID uuid.UUID) ([]FinalizationRecord, error)
}
