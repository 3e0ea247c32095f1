package keystore

import (
	"encoding/hex"
	"errors"
	"os"
	"strings"
)

// StaticKeyStore holds signing keys loaded once at startup.
type StaticKeyStore struct {
	keys         map[string][]byte
	defaultKeyID string
}

// NewFromEnv builds a keystore from environment variables.
// SIGNING_KEYS format: "keyId:hex,keyId2:hex".
// SIGNING_DEFAULT_KEY_ID selects the key used for new signatures.
func NewFromEnv() (*StaticKeyStore, error) {
	keys := make(map[string][]byte)
	raw := os.Getenv("SIGNING_KEYS")
	if raw != "" {
		for _, p := range strings.Split(raw, ",") {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			parts := strings.SplitN(p, ":", 2)
			if len(parts) != 2 {
				return nil, errors.New("invalid SIGNING_KEYS format")
			}
			keyBytes, err := hex.DecodeString(parts[1])
			if err != nil {
				return nil, err
			}
			keys[parts[0]] = keyBytes
		}
	}

	defaultKeyID := os.Getenv("SIGNING_DEFAULT_KEY_ID")
	if defaultKeyID == "" && len(keys) == 1 {
		for id := range keys {
			defaultKeyID = id
		}
	}
	return &StaticKeyStore{keys: keys, defaultKeyID: defaultKeyID}, nil
}

func (s *StaticKeyStore) GetKey(keyID string) ([]byte, error) {
	key, ok := s.keys[keyID]
	if !ok {
		return nil, errors.New("key not found")
	}
	return key, nil
}

func (s *StaticKeyStore) DefaultKeyID() string {
	return s.defaultKeyID
}

// Keys returns a copy of the full key set.
func (s *StaticKeyStore) Keys() map[string][]byte {
	out := make(map[string][]byte, len(s.keys))
	for id, key := range s.keys {
		out[id] = key
	}
	return out
}

// Empty reports whether no keys are configured.
func (s *StaticKeyStore) Empty() bool {
	return len(s.keys) == 0
}
