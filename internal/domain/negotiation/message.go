package negotiation

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind describes a negotiation message type.
type Kind string

const (
	KindInitiate     Kind = "INITIATE"
	KindJoin         Kind = "JOIN"
	KindOffer        Kind = "OFFER"
	KindCounterOffer Kind = "COUNTER_OFFER"
	KindAccept       Kind = "ACCEPT"
	KindReject       Kind = "REJECT"
	KindWithdraw     Kind = "WITHDRAW"
	KindFinalize     Kind = "FINALIZE"
	KindDispute      Kind = "DISPUTE"
)

var validKinds = map[Kind]struct{}{
	KindInitiate:     {},
	KindJoin:         {},
	KindOffer:        {},
	KindCounterOffer: {},
	KindAccept:       {},
	KindReject:       {},
	KindWithdraw:     {},
	KindFinalize:     {},
	KindDispute:      {},
}

// Message is one append-only ledger entry. ContentHash covers the canonical
// fields of the message itself; ChainHash links it to the previous entry,
// giving tamper evidence across the whole session history.
type Message struct {
	ID             int64           `json:"id"`
	MessageID      uuid.UUID       `json:"messageId"`
	SessionID      uuid.UUID       `json:"sessionId"`
	Sequence       int64           `json:"sequence"`
	Sender         string          `json:"sender"`
	Kind           Kind            `json:"kind"`
	Payload        json.RawMessage `json:"payload"`
	Timestamp      time.Time       `json:"timestamp"`
	ContentHash    string          `json:"contentHash"`
	PrevHash       string          `json:"prevHash,omitempty"`
	ChainHash      string          `json:"chainHash"`
	Signature      string          `json:"signature,omitempty"`
	KeyID          string          `json:"keyId,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
}

// Typed payloads, one per message kind. Payloads are validated on ingress so
// a malformed one is rejected before it can be appended.

type InitiatePayload struct {
	Participants         []string        `json:"participants"`
	Terms                json.RawMessage `json:"terms"`
	QuorumCount          int             `json:"quorum_count"`
	NegotiationDeadline  time.Time       `json:"negotiation_deadline"`
	FinalizationDeadline time.Time       `json:"finalization_deadline"`
	TermsPolicy          string          `json:"terms_policy,omitempty"`
}

type JoinPayload struct {
	Participant string `json:"participant"`
}

type OfferPayload struct {
	Terms        json.RawMessage `json:"terms"`
	TermsVersion int             `json:"terms_version"`
}

type AcceptPayload struct {
	TermsVersion int `json:"terms_version"`
}

type RejectPayload struct {
	TermsVersion int    `json:"terms_version"`
	Reason       string `json:"reason,omitempty"`
}

type WithdrawPayload struct {
	Reason string `json:"reason,omitempty"`
}

type FinalizePayload struct {
	TermsVersion int `json:"terms_version"`
}

type DisputePayload struct {
	BindingHash string          `json:"binding_hash"`
	Evidence    json.RawMessage `json:"evidence"`
}

// DecodePayload strictly decodes a payload for one message kind.
func DecodePayload[T any](raw json.RawMessage) (T, error) {
	var out T
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

// ValidatePayload checks that raw is a well-formed payload for kind.
func ValidatePayload(kind Kind, raw json.RawMessage) error {
	if _, ok := validKinds[kind]; !ok {
		return ValidationErrorf("unsupported message kind: %s", kind)
	}
	if len(raw) == 0 {
		return ValidationErrorf("payload is required for %s", kind)
	}
	switch kind {
	case KindInitiate:
		p, err := DecodePayload[InitiatePayload](raw)
		if err != nil {
			return ValidationErrorf("malformed %s payload: %v", kind, err)
		}
		if len(p.Participants) < 2 {
			return ValidationErrorf("at least two participants are required")
		}
		if !json.Valid(p.Terms) {
			return ValidationErrorf("terms must be valid JSON")
		}
	case KindJoin:
		p, err := DecodePayload[JoinPayload](raw)
		if err != nil {
			return ValidationErrorf("malformed %s payload: %v", kind, err)
		}
		if strings.TrimSpace(p.Participant) == "" {
			return ValidationErrorf("participant is required")
		}
	case KindOffer, KindCounterOffer:
		p, err := DecodePayload[OfferPayload](raw)
		if err != nil {
			return ValidationErrorf("malformed %s payload: %v", kind, err)
		}
		if !json.Valid(p.Terms) {
			return ValidationErrorf("terms must be valid JSON")
		}
		if p.TermsVersion <= 0 {
			return ValidationErrorf("terms_version must be positive")
		}
	case KindAccept:
		p, err := DecodePayload[AcceptPayload](raw)
		if err != nil {
			return ValidationErrorf("malformed %s payload: %v", kind, err)
		}
		if p.TermsVersion <= 0 {
			return ValidationErrorf("terms_version must be positive")
		}
	case KindReject:
		if _, err := DecodePayload[RejectPayload](raw); err != nil {
			return ValidationErrorf("malformed %s payload: %v", kind, err)
		}
	case KindWithdraw:
		if _, err := DecodePayload[WithdrawPayload](raw); err != nil {
			return ValidationErrorf("malformed %s payload: %v", kind, err)
		}
	case KindFinalize:
		p, err := DecodePayload[FinalizePayload](raw)
		if err != nil {
			return ValidationErrorf("malformed %s payload: %v", kind, err)
		}
		if p.TermsVersion <= 0 {
			return ValidationErrorf("terms_version must be positive")
		}
	case KindDispute:
		p, err := DecodePayload[DisputePayload](raw)
		if err != nil {
			return ValidationErrorf("malformed %s payload: %v", kind, err)
		}
		if strings.TrimSpace(p.BindingHash) == "" {
			return ValidationErrorf("binding_hash is required")
		}
		if !json.Valid(p.Evidence) {
			return ValidationErrorf("evidence must be valid JSON")
		}
	}
	return nil
}

// messageHashInput is the canonical serialization hashed into ContentHash.
type messageHashInput struct {
	SessionID string          `json:"sessionId"`
	Sequence  int64           `json:"sequence"`
	Sender    string          `json:"sender"`
	Kind      Kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp string          `json:"timestamp"`
}

// ComputeContentHash computes the SHA-256 hash of the message's canonical fields.
func ComputeContentHash(m *Message) (string, error) {
	input := messageHashInput{
		SessionID: m.SessionID.String(),
		Sequence:  m.Sequence,
		Sender:    m.Sender,
		Kind:      m.Kind,
		Payload:   m.Payload,
		Timestamp: m.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(input)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ComputeChainHash links a content hash to the previous entry's chain hash.
// The genesis message has an empty prevHash.
func ComputeChainHash(contentHash, prevHash string) string {
	sum := sha256.Sum256([]byte(contentHash + prevHash))
	return hex.EncodeToString(sum[:])
}

// Seal fills ContentHash, PrevHash and ChainHash from the previous message.
// prev is nil for the genesis entry.
func (m *Message) Seal(prev *Message) error {
	contentHash, err := ComputeContentHash(m)
	if err != nil {
		return err
	}
	m.ContentHash = contentHash
	if prev != nil {
		m.PrevHash = prev.ChainHash
	} else {
		m.PrevHash = ""
	}
	m.ChainHash = ComputeChainHash(m.ContentHash, m.PrevHash)
	return nil
}

// VerifyIntegrity recomputes the message's own hashes.
func (m *Message) VerifyIntegrity() bool {
	contentHash, err := ComputeContentHash(m)
	if err != nil {
		return false
	}
	if contentHash != m.ContentHash {
		return false
	}
	return ComputeChainHash(m.ContentHash, m.PrevHash) == m.ChainHash
}

// ChainBreak describes where a session's hash chain failed verification.
type ChainBreak struct {
	Sequence     int64  `json:"sequence"`
	ExpectedHash string `json:"expectedHash"`
	ActualHash   string `json:"actualHash"`
}

// VerifyChain walks messages in sequence order and returns the first break,
// or nil if the chain is intact.
func VerifyChain(messages []*Message) *ChainBreak {
	prevChain := ""
	for _, m := range messages {
		contentHash, err := ComputeContentHash(m)
		if err != nil || contentHash != m.ContentHash {
			return &ChainBreak{Sequence: m.Sequence, ExpectedHash: contentHash, ActualHash: m.ContentHash}
		}
		if m.PrevHash != prevChain {
			return &ChainBreak{Sequence: m.Sequence, ExpectedHash: prevChain, ActualHash: m.PrevHash}
		}
		expected := ComputeChainHash(m.ContentHash, m.PrevHash)
		if expected != m.ChainHash {
			return &ChainBreak{Sequence: m.Sequence, ExpectedHash: expected, ActualHash: m.ChainHash}
		}
		prevChain = m.ChainHash
	}
	return nil
}
