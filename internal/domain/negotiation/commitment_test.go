package negotiation

import (
	"encoding/json"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleCommitment() *BindingCommitment {
	committedAt := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	sessionID := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	return &BindingCommitment{
		SessionID:    sessionID,
		Participants: []string{"carol", "alice", "bob"},
		Terms:        json.RawMessage(`{"price":100,"currency":"EUR"}`),
		TermsVersion: 3,
		Acceptances: []AcceptanceRecord{
			{SessionID: sessionID, Participant: "bob", TermsVersion: 3, AcceptedAt: committedAt.Add(-2 * time.Minute)},
			{SessionID: sessionID, Participant: "alice", TermsVersion: 3, AcceptedAt: committedAt.Add(-3 * time.Minute)},
			{SessionID: sessionID, Participant: "carol", TermsVersion: 3, AcceptedAt: committedAt.Add(-time.Minute)},
		},
		Finalizations: []FinalizationRecord{
			{SessionID: sessionID, Participant: "carol", TermsVersion: 3, FinalizedAt: committedAt.Add(-30 * time.Second)},
			{SessionID: sessionID, Participant: "alice", TermsVersion: 3, FinalizedAt: committedAt.Add(-20 * time.Second)},
			{SessionID: sessionID, Participant: "bob", TermsVersion: 3, FinalizedAt: committedAt.Add(-10 * time.Second)},
		},
		CommittedAt: committedAt,
	}
}

func TestBindingHashOrderInsensitive(t *testing.T) {
	c := sampleCommitment()
	require.NoError(t, c.Seal())
	baseline := c.Hash

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 10; i++ {
		shuffled := sampleCommitment()
		rng.Shuffle(len(shuffled.Participants), func(a, b int) {
			shuffled.Participants[a], shuffled.Participants[b] = shuffled.Participants[b], shuffled.Participants[a]
		})
		rng.Shuffle(len(shuffled.Acceptances), func(a, b int) {
			shuffled.Acceptances[a], shuffled.Acceptances[b] = shuffled.Acceptances[b], shuffled.Acceptances[a]
		})
		rng.Shuffle(len(shuffled.Finalizations), func(a, b int) {
			shuffled.Finalizations[a], shuffled.Finalizations[b] = shuffled.Finalizations[b], shuffled.Finalizations[a]
		})
		hash, err := ComputeBindingHash(shuffled)
		require.NoError(t, err)
		assert.Equal(t, baseline, hash)
	}
}

func TestBindingHashSensitiveToContent(t *testing.T) {
	c := sampleCommitment()
	require.NoError(t, c.Seal())

	changed := sampleCommitment()
	changed.Terms = json.RawMessage(`{"price":101,"currency":"EUR"}`)
	hash, err := ComputeBindingHash(changed)
	require.NoError(t, err)
	assert.NotEqual(t, c.Hash, hash)
}

func TestCommitmentVerify(t *testing.T) {
	c := sampleCommitment()
	require.NoError(t, c.Seal())

	ok, err := c.Verify()
	require.NoError(t, err)
	assert.True(t, ok)

	c.TermsVersion = 4
	ok, err = c.Verify()
	require.NoError(t, err)
	assert.False(t, ok)
}
