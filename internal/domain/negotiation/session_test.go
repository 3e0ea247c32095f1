package negotiation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from State
		to   State
		want bool
	}{
		{"initiated to negotiating", StateInitiated, StateNegotiating, true},
		{"initiated to terminated", StateInitiated, StateTerminated, true},
		{"initiated to expired", StateInitiated, StateExpired, true},
		{"initiated to binding", StateInitiated, StateBinding, false},
		{"negotiating to consensus", StateNegotiating, StateConsensusReached, true},
		{"negotiating to binding", StateNegotiating, StateBinding, false},
		{"consensus back to negotiating", StateConsensusReached, StateNegotiating, true},
		{"consensus to binding", StateConsensusReached, StateBinding, true},
		{"binding to disputed", StateBinding, StateDisputed, true},
		{"binding to negotiating", StateBinding, StateNegotiating, false},
		{"binding to terminated", StateBinding, StateTerminated, false},
		{"binding to expired", StateBinding, StateExpired, false},
		{"terminated is final", StateTerminated, StateNegotiating, false},
		{"expired is final", StateExpired, StateNegotiating, false},
		{"disputed is final", StateDisputed, StateBinding, false},
		{"negotiating to disputed skips binding", StateNegotiating, StateDisputed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, IsTerminal(StateInitiated))
	assert.False(t, IsTerminal(StateNegotiating))
	assert.False(t, IsTerminal(StateConsensusReached))
	assert.True(t, IsTerminal(StateBinding))
	assert.True(t, IsTerminal(StateTerminated))
	assert.True(t, IsTerminal(StateExpired))
	assert.True(t, IsTerminal(StateDisputed))
}

func TestSessionMembership(t *testing.T) {
	s := &Session{
		Participants: []string{"alice", "bob", "carol"},
		Joined:       []string{"alice", "bob"},
	}

	assert.True(t, s.HasParticipant("bob"))
	assert.True(t, s.HasParticipant(" bob "))
	assert.False(t, s.HasParticipant("mallory"))

	assert.True(t, s.HasJoined("alice"))
	assert.False(t, s.HasJoined("carol"))
	assert.False(t, s.AllJoined())

	s.Joined = append(s.Joined, "carol")
	assert.True(t, s.AllJoined())
}

func TestSessionDeadlines(t *testing.T) {
	now := time.Now()
	s := &Session{
		NegotiationDeadline:  now.Add(time.Hour),
		FinalizationDeadline: now.Add(2 * time.Hour),
	}

	assert.False(t, s.PastNegotiationDeadline(now))
	assert.True(t, s.PastNegotiationDeadline(now.Add(61*time.Minute)))
	assert.False(t, s.PastFinalizationDeadline(now.Add(90*time.Minute)))
	assert.True(t, s.PastFinalizationDeadline(now.Add(3*time.Hour)))
}

func TestSortedParticipants(t *testing.T) {
	s := &Session{Participants: []string{"carol", "alice", "bob"}}
	assert.Equal(t, []string{"alice", "bob", "carol"}, s.SortedParticipants())
	// original order untouched
	assert.Equal(t, []string{"carol", "alice", "bob"}, s.Participants)
}
