package negotiation

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
)

// BindingCommitment is the artifact produced when a session reaches BINDING.
// Hash is recomputable by any party from the commitment's own fields, so a
// holder can prove what was agreed without trusting this service.
type BindingCommitment struct {
	SessionID     uuid.UUID            `json:"sessionId"`
	Participants  []string             `json:"participants"`
	Terms         json.RawMessage      `json:"terms"`
	TermsVersion  int                  `json:"termsVersion"`
	Acceptances   []AcceptanceRecord   `json:"acceptances"`
	Finalizations []FinalizationRecord `json:"finalizations"`
	CommittedAt   time.Time            `json:"committedAt"`
	Hash          string               `json:"hash"`
}

// commitmentHashInput is the canonical document hashed into the commitment.
// Participants are sorted and records are keyed by participant only, so
// recomputation is insensitive to insertion order and database row ids.
type commitmentHashInput struct {
	SessionID     string                 `json:"sessionId"`
	Participants  []string               `json:"participants"`
	Terms         json.RawMessage        `json:"terms"`
	TermsVersion  int                    `json:"termsVersion"`
	Acceptances   []commitmentRecordHash `json:"acceptances"`
	Finalizations []commitmentRecordHash `json:"finalizations"`
	CommittedAt   string                 `json:"committedAt"`
}

type commitmentRecordHash struct {
	Participant  string `json:"participant"`
	TermsVersion int    `json:"termsVersion"`
	At           string `json:"at"`
}

// ComputeBindingHash computes the SHA-256 hash of the commitment's canonical
// JSON form. The stored Hash field is ignored.
func ComputeBindingHash(c *BindingCommitment) (string, error) {
	participants := make([]string, len(c.Participants))
	copy(participants, c.Participants)
	sort.Strings(participants)

	acceptances := make([]commitmentRecordHash, 0, len(c.Acceptances))
	for _, r := range c.Acceptances {
		acceptances = append(acceptances, commitmentRecordHash{
			Participant:  r.Participant,
			TermsVersion: r.TermsVersion,
			At:           r.AcceptedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	sort.Slice(acceptances, func(i, j int) bool {
		return acceptances[i].Participant < acceptances[j].Participant
	})

	finalizations := make([]commitmentRecordHash, 0, len(c.Finalizations))
	for _, r := range c.Finalizations {
		finalizations = append(finalizations, commitmentRecordHash{
			Participant:  r.Participant,
			TermsVersion: r.TermsVersion,
			At:           r.FinalizedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	sort.Slice(finalizations, func(i, j int) bool {
		return finalizations[i].Participant < finalizations[j].Participant
	})

	input := commitmentHashInput{
		SessionID:     c.SessionID.String(),
		Participants:  participants,
		Terms:         c.Terms,
		TermsVersion:  c.TermsVersion,
		Acceptances:   acceptances,
		Finalizations: finalizations,
		CommittedAt:   c.CommittedAt.UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(input)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Seal computes and stores the commitment hash.
func (c *BindingCommitment) Seal() error {
	hash, err := ComputeBindingHash(c)
	if err != nil {
		return err
	}
	c.Hash = hash
	return nil
}

// Verify recomputes the hash and compares it with the stored one.
func (c *BindingCommitment) Verify() (bool, error) {
	hash, err := ComputeBindingHash(c)
	if err != nil {
		return false, err
	}
	return hash == c.Hash, nil
}
