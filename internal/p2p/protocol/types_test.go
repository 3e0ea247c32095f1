package protocol

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"testing"
	"time"
)

func TestTxSignAndVerify(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	payload, _ := json.Marshal(InitiatePayload{
		SessionID:            "6f1b1c9a-4a18-44c2-9f04-1d2f3a4b5c6d",
		Participants:         []string{"bob"},
		Terms:                json.RawMessage(`{"price":100}`),
		NegotiationDeadline:  time.Now().Add(time.Hour).UTC(),
		FinalizationDeadline: time.Now().Add(2 * time.Hour).UTC(),
	})
	tx := Tx{
		TxID:      "tx-1",
		SessionID: "6f1b1c9a-4a18-44c2-9f04-1d2f3a4b5c6d",
		Nonce:     "n1",
		Timestamp: time.Now().UTC(),
		Actor:     "alice",
		Op:        OpNegotiationInitiate,
		Payload:   payload,
	}
	if err := tx.Sign(priv); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := tx.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}

	tx.Actor = "mallory"
	if err := tx.Verify(); err == nil {
		t.Fatalf("expected verify failure after tamper")
	}
}

func TestTxValidateBasic(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	valid := Tx{
		TxID:      "tx-1",
		Nonce:     "n1",
		Timestamp: time.Now().UTC(),
		Actor:     "alice",
		Op:        OpTermsAccept,
		Payload:   json.RawMessage(`{"session_id":"s","terms_version":1}`),
	}
	if err := valid.Sign(priv); err != nil {
		t.Fatalf("sign: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Tx)
	}{
		{"missing tx_id", func(tx *Tx) { tx.TxID = "" }},
		{"missing nonce", func(tx *Tx) { tx.Nonce = "" }},
		{"missing actor", func(tx *Tx) { tx.Actor = "" }},
		{"zero timestamp", func(tx *Tx) { tx.Timestamp = time.Time{} }},
		{"unknown op", func(tx *Tx) { tx.Op = "STEP_CLAIM" }},
		{"empty payload", func(tx *Tx) { tx.Payload = nil }},
		{"missing signature", func(tx *Tx) { tx.Signature = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tx := valid
			tc.mutate(&tx)
			if err := tx.ValidateBasic(); err == nil {
				t.Fatalf("expected validation failure")
			}
		})
	}
	if err := valid.ValidateBasic(); err != nil {
		t.Fatalf("valid tx rejected: %v", err)
	}
}

func TestTxSignatureBoundToPayload(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tx := Tx{
		TxID:      "tx-2",
		Nonce:     "n2",
		Timestamp: time.Now().UTC(),
		Actor:     "bob",
		Op:        OpTermsOffer,
		Payload:   json.RawMessage(`{"session_id":"s","terms":{"price":100},"base_version":1}`),
	}
	if err := tx.Sign(priv); err != nil {
		t.Fatalf("sign: %v", err)
	}
	tx.Payload = json.RawMessage(`{"session_id":"s","terms":{"price":1},"base_version":1}`)
	if err := tx.Verify(); err == nil {
		t.Fatalf("expected verify failure after payload swap")
	}
}
