package negotiation

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildChain(t *testing.T, sessionID uuid.UUID, count int) []*Message {
	t.Helper()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msgs := make([]*Message, 0, count)
	var prev *Message
	for i := 0; i < count; i++ {
		m := &Message{
			MessageID: uuid.New(),
			SessionID: sessionID,
			Sequence:  int64(i + 1),
			Sender:    "alice",
			Kind:      KindOffer,
			Payload:   json.RawMessage(`{"terms":{"price":100},"terms_version":1}`),
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, m.Seal(prev))
		msgs = append(msgs, m)
		prev = m
	}
	return msgs
}

func TestSealAndVerifyIntegrity(t *testing.T) {
	msgs := buildChain(t, uuid.New(), 3)

	assert.Empty(t, msgs[0].PrevHash)
	assert.Equal(t, msgs[0].ChainHash, msgs[1].PrevHash)
	assert.Equal(t, msgs[1].ChainHash, msgs[2].PrevHash)
	for _, m := range msgs {
		assert.True(t, m.VerifyIntegrity())
	}
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	sessionID := uuid.New()

	t.Run("intact chain", func(t *testing.T) {
		msgs := buildChain(t, sessionID, 4)
		assert.Nil(t, VerifyChain(msgs))
	})

	t.Run("payload rewritten", func(t *testing.T) {
		msgs := buildChain(t, sessionID, 4)
		msgs[1].Payload = json.RawMessage(`{"terms":{"price":999},"terms_version":1}`)
		br := VerifyChain(msgs)
		require.NotNil(t, br)
		assert.Equal(t, int64(2), br.Sequence)
	})

	t.Run("link severed", func(t *testing.T) {
		msgs := buildChain(t, sessionID, 4)
		// drop a middle message: the successor's prev link no longer matches
		spliced := append([]*Message{msgs[0]}, msgs[2], msgs[3])
		br := VerifyChain(spliced)
		require.NotNil(t, br)
		assert.Equal(t, int64(3), br.Sequence)
	})

	t.Run("chain hash recomputed dishonestly", func(t *testing.T) {
		msgs := buildChain(t, sessionID, 2)
		msgs[1].ChainHash = ComputeChainHash(msgs[1].ContentHash, "forged")
		br := VerifyChain(msgs)
		require.NotNil(t, br)
		assert.Equal(t, int64(2), br.Sequence)
	})
}

func TestContentHashDeterminism(t *testing.T) {
	m := &Message{
		SessionID: uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"),
		Sequence:  7,
		Sender:    "bob",
		Kind:      KindAccept,
		Payload:   json.RawMessage(`{"terms_version":3}`),
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	h1, err := ComputeContentHash(m)
	require.NoError(t, err)
	h2, err := ComputeContentHash(m)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestValidatePayload(t *testing.T) {
	tests := []struct {
		name    string
		kind    Kind
		payload string
		wantErr bool
	}{
		{
			name:    "valid initiate",
			kind:    KindInitiate,
			payload: `{"participants":["alice","bob"],"terms":{"price":100},"quorum_count":2,"negotiation_deadline":"2026-03-01T12:00:00Z","finalization_deadline":"2026-03-02T12:00:00Z"}`,
		},
		{
			name:    "initiate with one participant",
			kind:    KindInitiate,
			payload: `{"participants":["alice"],"terms":{},"quorum_count":1,"negotiation_deadline":"2026-03-01T12:00:00Z","finalization_deadline":"2026-03-02T12:00:00Z"}`,
			wantErr: true,
		},
		{
			name:    "valid offer",
			kind:    KindOffer,
			payload: `{"terms":{"price":50},"terms_version":2}`,
		},
		{
			name:    "offer with zero version",
			kind:    KindOffer,
			payload: `{"terms":{"price":50},"terms_version":0}`,
			wantErr: true,
		},
		{
			name:    "offer with unknown field",
			kind:    KindOffer,
			payload: `{"terms":{},"terms_version":1,"extra":true}`,
			wantErr: true,
		},
		{
			name:    "valid accept",
			kind:    KindAccept,
			payload: `{"terms_version":1}`,
		},
		{
			name:    "valid withdraw without reason",
			kind:    KindWithdraw,
			payload: `{}`,
		},
		{
			name:    "dispute without binding hash",
			kind:    KindDispute,
			payload: `{"binding_hash":"","evidence":{}}`,
			wantErr: true,
		},
		{
			name:    "valid dispute",
			kind:    KindDispute,
			payload: `{"binding_hash":"abc123","evidence":{"doc":"x"}}`,
		},
		{
			name:    "unknown kind",
			kind:    Kind("GOSSIP"),
			payload: `{}`,
			wantErr: true,
		},
		{
			name:    "empty payload",
			kind:    KindJoin,
			payload: ``,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePayload(tt.kind, json.RawMessage(tt.payload))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsKind(err, KindValidation))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
