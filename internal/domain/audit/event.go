package audit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TransitionEvent records one session state transition, whether driven by a
// participant action or by the timeout supervisor.
type TransitionEvent struct {
	ID            int64     `json:"id"`
	EventID       uuid.UUID `json:"eventId"`
	SessionID     uuid.UUID `json:"sessionId"`
	Actor         string    `json:"actor"`
	FromState     string    `json:"fromState"`
	ToState       string    `json:"toState"`
	Timestamp     time.Time `json:"timestamp"`
	ResultingHash string    `json:"resultingHash,omitempty"`
	Signature     string    `json:"signature,omitempty"`
	KeyID         string    `json:"keyId,omitempty"`
}

// ActorSupervisor marks transitions applied by the timeout supervisor rather
// than a participant.
const ActorSupervisor = "supervisor"

// signaturePayload is the canonical form signed for a transition event.
type signaturePayload struct {
	EventID       string `json:"eventId"`
	SessionID     string `json:"sessionId"`
	Actor         string `json:"actor"`
	FromState     string `json:"fromState"`
	ToState       string `json:"toState"`
	Timestamp     string `json:"timestamp"`
	ResultingHash string `json:"resultingHash,omitempty"`
}

// SignEvent computes an HMAC-SHA256 signature over the event's canonical form.
func SignEvent(e *TransitionEvent, key []byte) (string, error) {
	payload := signaturePayload{
		EventID:       e.EventID.String(),
		SessionID:     e.SessionID.String(),
		Actor:         e.Actor,
		FromState:     e.FromState,
		ToState:       e.ToState,
		Timestamp:     e.Timestamp.UTC().Format(time.RFC3339Nano),
		ResultingHash: e.ResultingHash,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifyEvent recomputes the signature and compares it with the stored one.
func VerifyEvent(e *TransitionEvent, key []byte) (bool, error) {
	expected, err := SignEvent(e, key)
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(expected), []byte(e.Signature)), nil
}

// Repository persists transition events.
type Repository interface {
	Insert(ctx context.Context, e *TransitionEvent) error
	ListBySession(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*TransitionEvent, error)
	ListRecent(ctx context.Context, limit int, afterID int64) ([]*TransitionEvent, error)
}
