package negotiation

import (
	"context"

	"github.com/google/uuid"
)

// QuorumSource yields the acceptance and finalization records consensus
// decisions are made from. Repository satisfies it; the interface exists so a
// differently-consistent source can be swapped in without touching the
// transition logic.
type QuorumSource interface {
	ListAcceptances(ctx context.Context, sessionID uuid.UUID) ([]AcceptanceRecord, error)
	ListFinalizations(ctx context.Context, sessionID uuid.UUID) ([]FinalizationRecord, error)
}

// ConsensusResult reports how close a terms version is to consensus.
type ConsensusResult struct {
	TermsVersion int      `json:"termsVersion"`
	Accepted     []string `json:"accepted"`
	Required     int      `json:"required"`
	Reached      bool     `json:"reached"`
}

// EvaluateConsensus checks whether the current terms version has acceptances
// from at least quorum distinct active participants. Acceptances for other
// versions never count.
func EvaluateConsensus(s *Session, records []AcceptanceRecord) ConsensusResult {
	required := s.QuorumCount
	if required <= 0 || required > len(s.Participants) {
		required = len(s.Participants)
	}
	seen := make(map[string]struct{})
	accepted := make([]string, 0, len(records))
	for _, r := range AcceptancesForVersion(records, s.TermsVersion) {
		if !s.HasParticipant(r.Participant) {
			continue
		}
		if _, dup := seen[r.Participant]; dup {
			continue
		}
		seen[r.Participant] = struct{}{}
		accepted = append(accepted, r.Participant)
	}
	return ConsensusResult{
		TermsVersion: s.TermsVersion,
		Accepted:     accepted,
		Required:     required,
		Reached:      len(accepted) >= required,
	}
}

// EvaluateFinalization reports whether every active participant has finalized
// the consensus terms version. Unlike consensus, finalization is always
// unanimous over the active set.
func EvaluateFinalization(s *Session, records []FinalizationRecord) bool {
	seen := make(map[string]struct{})
	for _, r := range FinalizationsForVersion(records, s.TermsVersion) {
		if s.HasParticipant(r.Participant) {
			seen[r.Participant] = struct{}{}
		}
	}
	for _, p := range s.ActiveParticipants() {
		if _, ok := seen[p]; !ok {
			return false
		}
	}
	return true
}
