package dispute

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status of an escalated dispute as known locally. Resolution happens in the
// external arbitration system; this service only tracks the handoff.
type Status string

const (
	StatusEscalating Status = "ESCALATING"
	StatusEscalated  Status = "ESCALATED"
	StatusFailed     Status = "FAILED"
)

// Dispute is the local record of an escalation against a binding session.
type Dispute struct {
	ID                int64           `json:"id"`
	DisputeID         uuid.UUID       `json:"disputeId"`
	SessionID         uuid.UUID       `json:"sessionId"`
	RaisedBy          string          `json:"raisedBy"`
	BindingHash       string          `json:"bindingHash"`
	Evidence          json.RawMessage `json:"evidence"`
	Status            Status          `json:"status"`
	ExternalReference string          `json:"externalReference,omitempty"`
	Error             string          `json:"error,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_escalator.go -package=mocks . Escalator

// Escalator hands a dispute to the external arbitration system and returns
// its reference for the case.
type Escalator interface {
	Escalate(ctx context.Context, sessionID uuid.UUID, bindingHash string, evidence json.RawMessage) (string, error)
}

// Repository persists dispute records.
type Repository interface {
	Create(ctx context.Context, d *Dispute) error
	Get(ctx context.Context, disputeID uuid.UUID) (*Dispute, error)
	GetBySession(ctx context.Context, sessionID uuid.UUID) (*Dispute, error)
	UpdateStatus(ctx context.Context, disputeID uuid.UUID, status Status, externalRef, errMsg string) error
}
