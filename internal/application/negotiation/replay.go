package negotiation

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	domain "github.com/accord-hub/accord-hub/internal/domain/negotiation"
)

// ReplaySnapshot is a session state rebuilt purely from the message log.
type ReplaySnapshot struct {
	SessionID     uuid.UUID
	Initiator     string
	Participants  []string
	Joined        []string
	State         domain.State
	Terms         []byte
	TermsVersion  int
	QuorumCount   int
	Acceptances   []domain.AcceptanceRecord
	Finalizations []domain.FinalizationRecord
	Commitment    *domain.BindingCommitment
}

// Replay applies a session's message log in sequence order and returns the
// resulting snapshot. asOf supplies the clock for deadline expiry: EXPIRED
// never appears in the log, it is derived from the INITIATE deadlines, so the
// same log and asOf always reproduce the same snapshot.
func Replay(messages []*domain.Message, asOf time.Time) (*ReplaySnapshot, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("message log is empty")
	}
	first := messages[0]
	if first.Kind != domain.KindInitiate {
		return nil, fmt.Errorf("log does not begin with %s", domain.KindInitiate)
	}
	init, err := domain.DecodePayload[domain.InitiatePayload](first.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode initiate payload: %w", err)
	}

	snap := &ReplaySnapshot{
		SessionID:    first.SessionID,
		Initiator:    first.Sender,
		Participants: init.Participants,
		Joined:       []string{first.Sender},
		State:        domain.StateInitiated,
		Terms:        init.Terms,
		TermsVersion: 1,
		QuorumCount:  init.QuorumCount,
	}

	session := func() *domain.Session {
		return &domain.Session{
			SessionID:    snap.SessionID,
			Initiator:    snap.Initiator,
			Participants: snap.Participants,
			Joined:       snap.Joined,
			State:        snap.State,
			TermsVersion: snap.TermsVersion,
			QuorumCount:  snap.QuorumCount,
		}
	}
	expireAt := func(at time.Time) {
		if snap.State == domain.StateTerminated || snap.State == domain.StateExpired ||
			snap.State == domain.StateDisputed || snap.State == domain.StateBinding {
			return
		}
		due := at.After(init.NegotiationDeadline)
		if snap.State == domain.StateConsensusReached {
			due = at.After(init.FinalizationDeadline)
		}
		if due {
			snap.State = domain.StateExpired
		}
	}

	for _, m := range messages[1:] {
		expireAt(m.Timestamp)
		switch m.Kind {
		case domain.KindJoin:
			p, err := domain.DecodePayload[domain.JoinPayload](m.Payload)
			if err != nil {
				return nil, fmt.Errorf("seq %d: decode join: %w", m.Sequence, err)
			}
			snap.Joined = append(snap.Joined, p.Participant)
			if session().AllJoined() {
				snap.State = domain.StateNegotiating
			}
		case domain.KindOffer, domain.KindCounterOffer:
			p, err := domain.DecodePayload[domain.OfferPayload](m.Payload)
			if err != nil {
				return nil, fmt.Errorf("seq %d: decode offer: %w", m.Sequence, err)
			}
			snap.Terms = p.Terms
			snap.TermsVersion = p.TermsVersion
			if snap.State == domain.StateConsensusReached {
				snap.State = domain.StateNegotiating
			}
		case domain.KindAccept:
			p, err := domain.DecodePayload[domain.AcceptPayload](m.Payload)
			if err != nil {
				return nil, fmt.Errorf("seq %d: decode accept: %w", m.Sequence, err)
			}
			snap.Acceptances = append(snap.Acceptances, domain.AcceptanceRecord{
				SessionID:    snap.SessionID,
				Participant:  m.Sender,
				TermsVersion: p.TermsVersion,
				AcceptedAt:   m.Timestamp,
			})
			if res := domain.EvaluateConsensus(session(), snap.Acceptances); res.Reached {
				snap.State = domain.StateConsensusReached
			}
		case domain.KindReject:
			if snap.State == domain.StateConsensusReached {
				snap.State = domain.StateNegotiating
			}
		case domain.KindWithdraw:
			snap.State = domain.StateTerminated
		case domain.KindFinalize:
			p, err := domain.DecodePayload[domain.FinalizePayload](m.Payload)
			if err != nil {
				return nil, fmt.Errorf("seq %d: decode finalize: %w", m.Sequence, err)
			}
			// finalizing implies accepting, mirroring the live transition
			if !domain.HasAcceptance(snap.Acceptances, m.Sender, p.TermsVersion) {
				snap.Acceptances = append(snap.Acceptances, domain.AcceptanceRecord{
					SessionID:    snap.SessionID,
					Participant:  m.Sender,
					TermsVersion: p.TermsVersion,
					AcceptedAt:   m.Timestamp,
				})
			}
			snap.Finalizations = append(snap.Finalizations, domain.FinalizationRecord{
				SessionID:    snap.SessionID,
				Participant:  m.Sender,
				TermsVersion: p.TermsVersion,
				FinalizedAt:  m.Timestamp,
			})
			if domain.EvaluateFinalization(session(), snap.Finalizations) {
				sess := session()
				commitment := &domain.BindingCommitment{
					SessionID:     snap.SessionID,
					Participants:  sess.SortedParticipants(),
					Terms:         snap.Terms,
					TermsVersion:  snap.TermsVersion,
					Acceptances:   domain.AcceptancesForVersion(snap.Acceptances, snap.TermsVersion),
					Finalizations: domain.FinalizationsForVersion(snap.Finalizations, snap.TermsVersion),
					CommittedAt:   m.Timestamp,
				}
				if err := commitment.Seal(); err != nil {
					return nil, fmt.Errorf("seq %d: seal replayed commitment: %w", m.Sequence, err)
				}
				snap.Commitment = commitment
				snap.State = domain.StateBinding
			}
		case domain.KindDispute:
			snap.State = domain.StateDisputed
		default:
			return nil, fmt.Errorf("seq %d: unexpected message kind %s", m.Sequence, m.Kind)
		}
	}
	expireAt(asOf)
	return snap, nil
}

// VerificationResult reports chain integrity, signature validity, and
// whether the stored snapshot matches the replayed one.
type VerificationResult struct {
	SessionID        uuid.UUID          `json:"sessionId"`
	ChainIntact      bool               `json:"chainIntact"`
	ChainBreak       *domain.ChainBreak `json:"chainBreak,omitempty"`
	SignaturesValid  bool               `json:"signaturesValid"`
	SnapshotMatches  bool               `json:"snapshotMatches"`
	Differences      []string           `json:"differences,omitempty"`
	ReplayedState    domain.State       `json:"replayedState"`
	PersistedState   domain.State       `json:"persistedState"`
	MessagesReplayed int                `json:"messagesReplayed"`
}

// Verify recomputes the session's hash chain, checks message signatures, and
// compares the persisted snapshot against a full replay of the log. A broken
// chain marks the session corrupt; it refuses further mutation from then on.
func (s *Service) Verify(ctx context.Context, sessionID uuid.UUID) (*VerificationResult, error) {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	messages, err := s.repo.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	result := &VerificationResult{
		SessionID:        sessionID,
		PersistedState:   session.State,
		MessagesReplayed: len(messages),
		SignaturesValid:  true,
	}

	if br := domain.VerifyChain(messages); br != nil {
		result.ChainBreak = br
		if !session.ChainCorrupt {
			if err := s.repo.MarkChainCorrupt(ctx, sessionID); err != nil {
				return nil, fmt.Errorf("mark chain corrupt: %w", err)
			}
		}
		s.logger.Error().
			Str("session_id", sessionID.String()).
			Int64("sequence", br.Sequence).
			Msg("message hash chain broken")
		return result, nil
	}
	result.ChainIntact = true

	if s.cfg.SignatureMode != domain.SignatureModeOff && s.verifier != nil {
		for _, m := range messages {
			if m.Signature == "" {
				if s.cfg.SignatureMode == domain.SignatureModeRequired {
					result.SignaturesValid = false
					result.Differences = append(result.Differences,
						fmt.Sprintf("message %d is unsigned", m.Sequence))
				}
				continue
			}
			if err := s.verifier.Verify(m.KeyID, m.ContentHash, m.Signature); err != nil {
				result.SignaturesValid = false
				result.Differences = append(result.Differences,
					fmt.Sprintf("message %d signature invalid: %v", m.Sequence, err))
			}
		}
	}

	snap, err := Replay(messages, s.now())
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	result.ReplayedState = snap.State

	if snap.State != session.State {
		result.Differences = append(result.Differences,
			fmt.Sprintf("state: replayed %s, persisted %s", snap.State, session.State))
	}
	if snap.TermsVersion != session.TermsVersion {
		result.Differences = append(result.Differences,
			fmt.Sprintf("terms version: replayed %d, persisted %d", snap.TermsVersion, session.TermsVersion))
	}
	if !jsonEqual(snap.Terms, session.Terms) {
		result.Differences = append(result.Differences, "terms: replayed document differs from persisted")
	}
	switch {
	case snap.Commitment == nil && session.Commitment != nil:
		result.Differences = append(result.Differences, "commitment: persisted but not reproducible from log")
	case snap.Commitment != nil && session.Commitment == nil:
		result.Differences = append(result.Differences, "commitment: reproducible from log but not persisted")
	case snap.Commitment != nil && session.Commitment != nil && snap.Commitment.Hash != session.Commitment.Hash:
		result.Differences = append(result.Differences,
			fmt.Sprintf("commitment hash: replayed %s, persisted %s", snap.Commitment.Hash, session.Commitment.Hash))
	}
	result.SnapshotMatches = len(result.Differences) == 0 && result.SignaturesValid
	return result, nil
}

func jsonEqual(a, b []byte) bool {
	return bytes.Equal(bytes.TrimSpace(a), bytes.TrimSpace(b))
}
