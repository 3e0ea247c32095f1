package negotiation

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// SignatureMode controls whether ledger messages carry signatures.
type SignatureMode string

const (
	// SignatureModeOff appends messages unsigned.
	SignatureModeOff SignatureMode = "off"
	// SignatureModeOptional signs when a key is configured and verifies
	// any signature that is present.
	SignatureModeOptional SignatureMode = "optional"
	// SignatureModeRequired rejects unsigned messages.
	SignatureModeRequired SignatureMode = "required"
)

// ParseSignatureMode validates a configured mode string.
func ParseSignatureMode(s string) (SignatureMode, error) {
	switch SignatureMode(s) {
	case SignatureModeOff, SignatureModeOptional, SignatureModeRequired:
		return SignatureMode(s), nil
	case "":
		return SignatureModeOff, nil
	}
	return "", fmt.Errorf("invalid signature mode: %q", s)
}

// Signer produces a signature over a message's content hash. The concrete
// scheme is a deployment capability; the protocol only requires that
// Sign/Verify agree.
type Signer interface {
	KeyID() string
	Sign(contentHash string) (string, error)
}

// Verifier checks a signature produced by a Signer with the same key id.
type Verifier interface {
	Verify(keyID, contentHash, signature string) error
}

// HMACSigner signs content hashes with HMAC-SHA256 keys held in memory.
type HMACSigner struct {
	activeKeyID string
	keys        map[string][]byte
}

// NewHMACSigner builds a signer over the given key set. activeKeyID selects
// the key used for new signatures; all keys remain valid for verification.
func NewHMACSigner(activeKeyID string, keys map[string][]byte) (*HMACSigner, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("no signing keys configured")
	}
	if _, ok := keys[activeKeyID]; !ok {
		return nil, fmt.Errorf("active key %q not present in key set", activeKeyID)
	}
	return &HMACSigner{activeKeyID: activeKeyID, keys: keys}, nil
}

func (s *HMACSigner) KeyID() string { return s.activeKeyID }

func (s *HMACSigner) Sign(contentHash string) (string, error) {
	key := s.keys[s.activeKeyID]
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(contentHash))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func (s *HMACSigner) Verify(keyID, contentHash, signature string) error {
	key, ok := s.keys[keyID]
	if !ok {
		return fmt.Errorf("unknown signing key: %s", keyID)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(contentHash))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("signature mismatch for key %s", keyID)
	}
	return nil
}
