package negotiation

import (
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// State describes the negotiation session lifecycle.
type State string

const (
	StateInitiated        State = "INITIATED"
	StateNegotiating      State = "NEGOTIATING"
	StateConsensusReached State = "CONSENSUS_REACHED"
	StateBinding          State = "BINDING"
	StateTerminated       State = "TERMINATED"
	StateExpired          State = "EXPIRED"
	StateDisputed         State = "DISPUTED"
)

// validTransitions is the full lifecycle graph. BINDING is reachable only
// from CONSENSUS_REACHED, and DISPUTED only from BINDING.
var validTransitions = map[State][]State{
	StateInitiated:        {StateNegotiating, StateTerminated, StateExpired},
	StateNegotiating:      {StateConsensusReached, StateTerminated, StateExpired},
	StateConsensusReached: {StateNegotiating, StateBinding, StateTerminated, StateExpired},
	StateBinding:          {StateDisputed},
	StateTerminated:       {},
	StateExpired:          {},
	StateDisputed:         {},
}

// CanTransition reports whether from -> to is part of the lifecycle graph.
func CanTransition(from, to State) bool {
	return slices.Contains(validTransitions[from], to)
}

// IsTerminal reports whether no client action may change the state further.
// BINDING is included: after BINDING the only admissible message is a
// DISPUTE, which is handled as an explicit exception by the gateway.
func IsTerminal(s State) bool {
	switch s {
	case StateBinding, StateTerminated, StateExpired, StateDisputed:
		return true
	}
	return false
}

// Session is one run of the bargaining protocol among a fixed participant set.
type Session struct {
	ID                   int64              `json:"id"`
	SessionID            uuid.UUID          `json:"sessionId"`
	Initiator            string             `json:"initiator"`
	Participants         []string           `json:"participants"`
	Joined               []string           `json:"joined"`
	State                State              `json:"state"`
	Terms                json.RawMessage    `json:"terms"`
	TermsVersion         int                `json:"termsVersion"`
	QuorumCount          int                `json:"quorumCount"`
	TermsPolicy          string             `json:"termsPolicy,omitempty"`
	NegotiationDeadline  time.Time          `json:"negotiationDeadline"`
	FinalizationDeadline time.Time          `json:"finalizationDeadline"`
	Commitment           *BindingCommitment `json:"commitment,omitempty"`
	ChainCorrupt         bool               `json:"chainCorrupt"`
	TraceID              string             `json:"traceId"`
	CreatedAt            time.Time          `json:"createdAt"`
	UpdatedAt            time.Time          `json:"updatedAt"`
}

// HasParticipant reports roster membership.
func (s *Session) HasParticipant(ref string) bool {
	return slices.Contains(s.Participants, strings.TrimSpace(ref))
}

// HasJoined reports whether the participant has joined the session.
func (s *Session) HasJoined(ref string) bool {
	return slices.Contains(s.Joined, strings.TrimSpace(ref))
}

// AllJoined reports whether every roster participant has joined.
func (s *Session) AllJoined() bool {
	for _, p := range s.Participants {
		if !slices.Contains(s.Joined, p) {
			return false
		}
	}
	return true
}

// ActiveParticipants returns the participants whose finalization is required
// for BINDING. Any withdrawal terminates the whole session, so the active set
// is always the full roster.
func (s *Session) ActiveParticipants() []string {
	out := make([]string, len(s.Participants))
	copy(out, s.Participants)
	return out
}

// PastNegotiationDeadline reports whether the bargaining window has closed.
func (s *Session) PastNegotiationDeadline(now time.Time) bool {
	return now.After(s.NegotiationDeadline)
}

// PastFinalizationDeadline reports whether the finalization window has closed.
func (s *Session) PastFinalizationDeadline(now time.Time) bool {
	return now.After(s.FinalizationDeadline)
}

// SortedParticipants returns the roster in canonical order for hashing.
func (s *Session) SortedParticipants() []string {
	out := make([]string, len(s.Participants))
	copy(out, s.Participants)
	slices.Sort(out)
	return out
}
