package negotiation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateConsensus(t *testing.T) {
	session := func() *Session {
		return &Session{
			Participants: []string{"alice", "bob", "carol"},
			TermsVersion: 2,
			QuorumCount:  3,
		}
	}

	t.Run("no acceptances", func(t *testing.T) {
		res := EvaluateConsensus(session(), nil)
		assert.False(t, res.Reached)
		assert.Equal(t, 3, res.Required)
		assert.Empty(t, res.Accepted)
	})

	t.Run("stale versions do not count", func(t *testing.T) {
		records := []AcceptanceRecord{
			{Participant: "alice", TermsVersion: 1},
			{Participant: "bob", TermsVersion: 1},
			{Participant: "carol", TermsVersion: 1},
		}
		res := EvaluateConsensus(session(), records)
		assert.False(t, res.Reached)
		assert.Empty(t, res.Accepted)
	})

	t.Run("full quorum on current version", func(t *testing.T) {
		records := []AcceptanceRecord{
			{Participant: "alice", TermsVersion: 2},
			{Participant: "bob", TermsVersion: 2},
			{Participant: "carol", TermsVersion: 2},
		}
		res := EvaluateConsensus(session(), records)
		assert.True(t, res.Reached)
		assert.Len(t, res.Accepted, 3)
	})

	t.Run("duplicates and outsiders ignored", func(t *testing.T) {
		records := []AcceptanceRecord{
			{Participant: "alice", TermsVersion: 2},
			{Participant: "alice", TermsVersion: 2},
			{Participant: "mallory", TermsVersion: 2},
		}
		res := EvaluateConsensus(session(), records)
		assert.False(t, res.Reached)
		assert.Equal(t, []string{"alice"}, res.Accepted)
	})

	t.Run("partial quorum", func(t *testing.T) {
		s := session()
		s.QuorumCount = 2
		records := []AcceptanceRecord{
			{Participant: "alice", TermsVersion: 2},
			{Participant: "carol", TermsVersion: 2},
		}
		res := EvaluateConsensus(s, records)
		assert.True(t, res.Reached)
	})

	t.Run("quorum clamped to roster size", func(t *testing.T) {
		s := session()
		s.QuorumCount = 99
		res := EvaluateConsensus(s, nil)
		assert.Equal(t, 3, res.Required)
	})
}

func TestEvaluateFinalization(t *testing.T) {
	s := &Session{
		Participants: []string{"alice", "bob"},
		TermsVersion: 2,
	}

	assert.False(t, EvaluateFinalization(s, nil))
	assert.False(t, EvaluateFinalization(s, []FinalizationRecord{
		{Participant: "alice", TermsVersion: 2},
	}))
	// finalizations of a stale version never satisfy the check
	assert.False(t, EvaluateFinalization(s, []FinalizationRecord{
		{Participant: "alice", TermsVersion: 2},
		{Participant: "bob", TermsVersion: 1},
	}))
	assert.True(t, EvaluateFinalization(s, []FinalizationRecord{
		{Participant: "alice", TermsVersion: 2},
		{Participant: "bob", TermsVersion: 2},
	}))
}
