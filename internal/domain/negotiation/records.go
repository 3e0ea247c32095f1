package negotiation

import (
	"time"

	"github.com/google/uuid"
)

// AcceptanceRecord marks one participant's acceptance of a specific terms
// version. Records are never deleted; a new offer makes older versions stale
// rather than removing anything.
type AcceptanceRecord struct {
	ID           int64     `json:"id"`
	SessionID    uuid.UUID `json:"sessionId"`
	Participant  string    `json:"participant"`
	TermsVersion int       `json:"termsVersion"`
	AcceptedAt   time.Time `json:"acceptedAt"`
}

// FinalizationRecord marks one participant's finalization of the consensus
// terms version during CONSENSUS_REACHED.
type FinalizationRecord struct {
	ID           int64     `json:"id"`
	SessionID    uuid.UUID `json:"sessionId"`
	Participant  string    `json:"participant"`
	TermsVersion int       `json:"termsVersion"`
	FinalizedAt  time.Time `json:"finalizedAt"`
}

// AcceptancesForVersion filters records down to the given terms version.
func AcceptancesForVersion(records []AcceptanceRecord, version int) []AcceptanceRecord {
	out := make([]AcceptanceRecord, 0, len(records))
	for _, r := range records {
		if r.TermsVersion == version {
			out = append(out, r)
		}
	}
	return out
}

// HasAcceptance reports whether the participant holds an acceptance record
// for the given terms version.
func HasAcceptance(records []AcceptanceRecord, participant string, version int) bool {
	for _, r := range records {
		if r.Participant == participant && r.TermsVersion == version {
			return true
		}
	}
	return false
}

// FinalizationsForVersion filters records down to the given terms version.
func FinalizationsForVersion(records []FinalizationRecord, version int) []FinalizationRecord {
	out := make([]FinalizationRecord, 0, len(records))
	for _, r := range records {
		if r.TermsVersion == version {
			out = append(out, r)
		}
	}
	return out
}
