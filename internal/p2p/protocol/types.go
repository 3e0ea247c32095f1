package protocol

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Operation defines the replicated negotiation writes.
type Operation string

const (
	OpNegotiationInitiate Operation = "NEGOTIATION_INITIATE"
	OpParticipantJoin     Operation = "PARTICIPANT_JOIN"
	OpTermsOffer          Operation = "TERMS_OFFER"
	OpTermsAccept         Operation = "TERMS_ACCEPT"
	OpTermsReject         Operation = "TERMS_REJECT"
	OpTermsFinalize       Operation = "TERMS_FINALIZE"
	OpParticipantWithdraw Operation = "PARTICIPANT_WITHDRAW"
	OpDisputeRaise        Operation = "DISPUTE_RAISE"
)

var validOps = map[Operation]struct{}{
	OpNegotiationInitiate: {},
	OpParticipantJoin:     {},
	OpTermsOffer:          {},
	OpTermsAccept:         {},
	OpTermsReject:         {},
	OpTermsFinalize:       {},
	OpParticipantWithdraw: {},
	OpDisputeRaise:        {},
}

// Tx is the signed, replicated command envelope. Actor is the participant
// performing the operation; every node re-verifies the signature before
// applying the command, so a forged envelope never reaches the state machine.
type Tx struct {
	TxID      string          `json:"tx_id"`
	SessionID string          `json:"session_id,omitempty"`
	Nonce     string          `json:"nonce"`
	Timestamp time.Time       `json:"timestamp"`
	Actor     string          `json:"actor"`
	Op        Operation       `json:"op"`
	Payload   json.RawMessage `json:"payload"`
	PublicKey string          `json:"public_key"` // base64 raw ed25519 public key
	Signature string          `json:"signature"`  // base64 raw signature
}

type txSignable struct {
	TxID      string          `json:"tx_id"`
	SessionID string          `json:"session_id,omitempty"`
	Nonce     string          `json:"nonce"`
	Timestamp time.Time       `json:"timestamp"`
	Actor     string          `json:"actor"`
	Op        Operation       `json:"op"`
	Payload   json.RawMessage `json:"payload"`
	PublicKey string          `json:"public_key"`
}

// CanonicalBytes returns the deterministic signing payload.
func (t Tx) CanonicalBytes() ([]byte, error) {
	signable := txSignable{
		TxID:      strings.TrimSpace(t.TxID),
		SessionID: strings.TrimSpace(t.SessionID),
		Nonce:     strings.TrimSpace(t.Nonce),
		Timestamp: t.Timestamp.UTC(),
		Actor:     strings.TrimSpace(t.Actor),
		Op:        t.Op,
		Payload:   t.Payload,
		PublicKey: strings.TrimSpace(t.PublicKey),
	}
	return json.Marshal(signable)
}

// ValidateBasic checks required immutable tx fields.
func (t Tx) ValidateBasic() error {
	if strings.TrimSpace(t.TxID) == "" {
		return errors.New("tx_id is required")
	}
	if strings.TrimSpace(t.Nonce) == "" {
		return errors.New("nonce is required")
	}
	if strings.TrimSpace(t.Actor) == "" {
		return errors.New("actor is required")
	}
	if t.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	if _, ok := validOps[t.Op]; !ok {
		return fmt.Errorf("unsupported op: %s", t.Op)
	}
	if len(t.Payload) == 0 {
		return errors.New("payload is required")
	}
	if strings.TrimSpace(t.PublicKey) == "" {
		return errors.New("public_key is required")
	}
	if strings.TrimSpace(t.Signature) == "" {
		return errors.New("signature is required")
	}
	return nil
}

// Sign sets tx public key/signature for the given private key.
func (t *Tx) Sign(privateKey ed25519.PrivateKey) error {
	if len(privateKey) != ed25519.PrivateKeySize {
		return errors.New("invalid private key")
	}
	t.PublicKey = base64.StdEncoding.EncodeToString(privateKey.Public().(ed25519.PublicKey))
	payload, err := t.CanonicalBytes()
	if err != nil {
		return err
	}
	sig := ed25519.Sign(privateKey, payload)
	t.Signature = base64.StdEncoding.EncodeToString(sig)
	return nil
}

// Verify validates tx signature using included public key.
func (t Tx) Verify() error {
	if err := t.ValidateBasic(); err != nil {
		return err
	}
	pubRaw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(t.PublicKey))
	if err != nil {
		return fmt.Errorf("invalid public_key: %w", err)
	}
	if len(pubRaw) != ed25519.PublicKeySize {
		return errors.New("invalid public_key size")
	}
	sigRaw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(t.Signature))
	if err != nil {
		return fmt.Errorf("invalid signature: %w", err)
	}
	if len(sigRaw) != ed25519.SignatureSize {
		return errors.New("invalid signature size")
	}
	payload, err := t.CanonicalBytes()
	if err != nil {
		return err
	}
	if !ed25519.Verify(ed25519.PublicKey(pubRaw), payload, sigRaw) {
		return errors.New("signature verification failed")
	}
	return nil
}

// DecodePayload decodes operation payloads.
func DecodePayload[T any](raw json.RawMessage) (T, error) {
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

// InitiatePayload opens a session. The actor is the initiator and belongs to
// the roster whether or not it is listed in Participants.
type InitiatePayload struct {
	SessionID            string          `json:"session_id"`
	Participants         []string        `json:"participants"`
	Terms                json.RawMessage `json:"terms"`
	QuorumCount          int             `json:"quorum_count,omitempty"`
	NegotiationDeadline  time.Time       `json:"negotiation_deadline"`
	FinalizationDeadline time.Time       `json:"finalization_deadline"`
}

type JoinPayload struct {
	SessionID string `json:"session_id"`
}

// OfferPayload proposes replacement terms. BaseVersion must name the version
// the sender last saw; a mismatch means someone else offered in between.
type OfferPayload struct {
	SessionID   string          `json:"session_id"`
	Terms       json.RawMessage `json:"terms"`
	BaseVersion int             `json:"base_version"`
}

type AcceptPayload struct {
	SessionID    string `json:"session_id"`
	TermsVersion int    `json:"terms_version"`
}

type RejectPayload struct {
	SessionID    string `json:"session_id"`
	TermsVersion int    `json:"terms_version"`
	Reason       string `json:"reason,omitempty"`
}

type FinalizePayload struct {
	SessionID    string `json:"session_id"`
	TermsVersion int    `json:"terms_version"`
}

type WithdrawPayload struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason,omitempty"`
}

// DisputePayload contests a binding outcome. BindingHash must match the
// sealed commitment hash exactly.
type DisputePayload struct {
	SessionID   string          `json:"session_id"`
	BindingHash string          `json:"binding_hash"`
	Evidence    json.RawMessage `json:"evidence"`
}
