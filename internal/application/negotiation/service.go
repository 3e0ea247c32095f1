package negotiation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	domain "github.com/accord-hub/accord-hub/internal/domain/negotiation"
)

// Emitter receives one event per session state transition, including
// supervisor-driven ones. Implementations must not block the caller.
type Emitter interface {
	EmitTransition(sessionID uuid.UUID, actor, fromState, toState, resultingHash string)
}

// Config tunes the state-machine service.
type Config struct {
	SignatureMode     domain.SignatureMode
	MaxParticipants   int
	MinDeadlineWindow time.Duration
}

func (c Config) normalized() Config {
	if c.MaxParticipants <= 0 {
		c.MaxParticipants = 32
	}
	if c.MinDeadlineWindow <= 0 {
		c.MinDeadlineWindow = time.Minute
	}
	if c.SignatureMode == "" {
		c.SignatureMode = domain.SignatureModeOff
	}
	return c
}

// Service drives the negotiation session lifecycle. Every mutation is
// check-then-append: the full precondition set is verified before any ledger
// message is written, so a rejected action leaves no trace in the log.
type Service struct {
	repo     domain.Repository
	quorum   domain.QuorumSource
	signer   domain.Signer
	verifier domain.Verifier
	emitter  Emitter
	cfg      Config
	locks    *sessionLocks
	logger   zerolog.Logger
	now      func() time.Time
}

// NewService builds the service. signer may be nil when the signature mode is
// off; emitter may be nil to disable transition events.
func NewService(repo domain.Repository, signer domain.Signer, verifier domain.Verifier, emitter Emitter, cfg Config, logger zerolog.Logger) (*Service, error) {
	cfg = cfg.normalized()
	if cfg.SignatureMode != domain.SignatureModeOff && signer == nil {
		return nil, fmt.Errorf("signature mode %s requires a signer", cfg.SignatureMode)
	}
	return &Service{
		repo:     repo,
		quorum:   repo,
		signer:   signer,
		verifier: verifier,
		emitter:  emitter,
		cfg:      cfg,
		locks:    newSessionLocks(),
		logger:   logger.With().Str("service", "negotiation").Logger(),
		now:      time.Now,
	}, nil
}

// InitiateInput creates a new session. The initiator is always part of the
// roster and counts as joined from the start.
type InitiateInput struct {
	Initiator            string          `json:"initiator"`
	Participants         []string        `json:"participants"`
	Terms                json.RawMessage `json:"terms"`
	QuorumCount          int             `json:"quorum_count"`
	NegotiationDeadline  time.Time       `json:"negotiation_deadline"`
	FinalizationDeadline time.Time       `json:"finalization_deadline"`
	TermsPolicy          string          `json:"terms_policy"`
	IdempotencyKey       string          `json:"idempotency_key"`
	TraceID              string          `json:"trace_id"`
}

// ActionInput identifies a participant action against an existing session.
type ActionInput struct {
	SessionID      uuid.UUID
	Participant    string
	IdempotencyKey string
}

// OfferInput proposes replacement terms.
type OfferInput struct {
	ActionInput
	Terms json.RawMessage
}

// AcceptInput accepts a specific terms version.
type AcceptInput struct {
	ActionInput
	TermsVersion int
}

// RejectInput records a non-binding rejection of a terms version.
type RejectInput struct {
	ActionInput
	TermsVersion int
	Reason       string
}

// FinalizeInput confirms the consensus terms version.
type FinalizeInput struct {
	ActionInput
	TermsVersion int
}

// WithdrawInput exits the session, terminating it for everyone.
type WithdrawInput struct {
	ActionInput
	Reason string
}

// DisputeInput challenges a binding commitment.
type DisputeInput struct {
	ActionInput
	BindingHash string
	Evidence    json.RawMessage
}

// Initiate creates a session in INITIATED and appends the genesis message.
func (s *Service) Initiate(ctx context.Context, input InitiateInput) (*domain.Session, error) {
	if input.Initiator == "" {
		return nil, domain.ValidationErrorf("initiator is required")
	}
	if input.IdempotencyKey != "" {
		prior, err := s.repo.FindInitiateByIdempotencyKey(ctx, input.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("idempotency lookup: %w", err)
		}
		if prior != nil {
			return s.repo.GetSession(ctx, prior.SessionID)
		}
	}
	participants := uniqNonEmpty(append([]string{input.Initiator}, input.Participants...))
	if len(participants) < 2 {
		return nil, domain.ValidationErrorf("at least two distinct participants are required")
	}
	if len(participants) > s.cfg.MaxParticipants {
		return nil, domain.ValidationErrorf("participant count %d exceeds maximum %d", len(participants), s.cfg.MaxParticipants)
	}
	if len(input.Terms) == 0 || !json.Valid(input.Terms) {
		return nil, domain.ValidationErrorf("initial terms must be valid JSON")
	}
	now := s.now()
	if !input.NegotiationDeadline.After(now.Add(s.cfg.MinDeadlineWindow)) {
		return nil, domain.ValidationErrorf("negotiation deadline must be at least %s in the future", s.cfg.MinDeadlineWindow)
	}
	if !input.FinalizationDeadline.After(input.NegotiationDeadline) {
		return nil, domain.ValidationErrorf("finalization deadline must be after the negotiation deadline")
	}
	quorum := input.QuorumCount
	if quorum == 0 {
		quorum = len(participants)
	}
	if quorum < 1 || quorum > len(participants) {
		return nil, domain.ValidationErrorf("quorum_count must be between 1 and %d", len(participants))
	}
	if input.TermsPolicy != "" {
		if ok, err := EvaluateTermsPolicy(input.TermsPolicy, input.Terms); err != nil {
			return nil, domain.ValidationErrorf("terms policy is not evaluable: %v", err)
		} else if !ok {
			return nil, domain.ValidationErrorf("initial terms violate the session terms policy")
		}
	}

	session := &domain.Session{
		SessionID:            uuid.New(),
		Initiator:            input.Initiator,
		Participants:         participants,
		Joined:               []string{input.Initiator},
		State:                domain.StateInitiated,
		Terms:                input.Terms,
		TermsVersion:         1,
		QuorumCount:          quorum,
		TermsPolicy:          input.TermsPolicy,
		NegotiationDeadline:  input.NegotiationDeadline.UTC(),
		FinalizationDeadline: input.FinalizationDeadline.UTC(),
		TraceID:              input.TraceID,
		CreatedAt:            now.UTC(),
		UpdatedAt:            now.UTC(),
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	payload, err := json.Marshal(domain.InitiatePayload{
		Participants:         participants,
		Terms:                input.Terms,
		QuorumCount:          quorum,
		NegotiationDeadline:  session.NegotiationDeadline,
		FinalizationDeadline: session.FinalizationDeadline,
		TermsPolicy:          input.TermsPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal initiate payload: %w", err)
	}
	if _, err := s.appendMessage(ctx, session, input.Initiator, domain.KindInitiate, payload, input.IdempotencyKey); err != nil {
		return nil, err
	}
	s.emit(session.SessionID, input.Initiator, "", string(domain.StateInitiated), "")
	s.logger.Info().
		Str("session_id", session.SessionID.String()).
		Str("initiator", input.Initiator).
		Int("participants", len(participants)).
		Msg("session initiated")
	return session, nil
}

// Join records a roster participant's entry. When the last participant joins,
// the session moves to NEGOTIATING.
func (s *Service) Join(ctx context.Context, input ActionInput) (*domain.Session, error) {
	unlock := s.locks.lock(input.SessionID)
	defer unlock()

	session, done, err := s.loadForAction(ctx, input)
	if err != nil || done {
		return session, err
	}
	if session.State != domain.StateInitiated {
		return nil, domain.StateErrorf("cannot join a session in state %s", session.State)
	}
	if !session.HasParticipant(input.Participant) {
		return nil, domain.AuthorizationErrorf("%s is not on the session roster", input.Participant)
	}
	if session.HasJoined(input.Participant) {
		return nil, domain.StateErrorf("%s has already joined", input.Participant)
	}

	payload, err := json.Marshal(domain.JoinPayload{Participant: input.Participant})
	if err != nil {
		return nil, fmt.Errorf("marshal join payload: %w", err)
	}
	if _, err := s.appendMessage(ctx, session, input.Participant, domain.KindJoin, payload, input.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := s.repo.AddJoined(ctx, session.SessionID, input.Participant); err != nil {
		return nil, fmt.Errorf("record join: %w", err)
	}
	session.Joined = append(session.Joined, input.Participant)

	if session.AllJoined() {
		if err := s.transition(ctx, session, domain.StateNegotiating, input.Participant, ""); err != nil {
			return nil, err
		}
	}
	return session, nil
}

// Offer proposes replacement terms, bumping the terms version and making all
// prior acceptances stale. The initiator's proposals are recorded as OFFER,
// everyone else's as COUNTER_OFFER.
func (s *Service) Offer(ctx context.Context, input OfferInput) (*domain.Session, error) {
	unlock := s.locks.lock(input.SessionID)
	defer unlock()

	session, done, err := s.loadForAction(ctx, input.ActionInput)
	if err != nil || done {
		return session, err
	}
	if session.State != domain.StateNegotiating && session.State != domain.StateConsensusReached {
		return nil, domain.StateErrorf("cannot offer terms in state %s", session.State)
	}
	if err := s.requireJoined(session, input.Participant); err != nil {
		return nil, err
	}
	if len(input.Terms) == 0 || !json.Valid(input.Terms) {
		return nil, domain.ValidationErrorf("terms must be valid JSON")
	}
	if session.TermsPolicy != "" {
		if ok, err := EvaluateTermsPolicy(session.TermsPolicy, input.Terms); err != nil {
			return nil, domain.ValidationErrorf("terms policy evaluation failed: %v", err)
		} else if !ok {
			return nil, domain.ValidationErrorf("terms violate the session terms policy")
		}
	}

	kind := domain.KindCounterOffer
	if input.Participant == session.Initiator {
		kind = domain.KindOffer
	}
	nextVersion := session.TermsVersion + 1
	payload, err := json.Marshal(domain.OfferPayload{Terms: input.Terms, TermsVersion: nextVersion})
	if err != nil {
		return nil, fmt.Errorf("marshal offer payload: %w", err)
	}
	if _, err := s.appendMessage(ctx, session, input.Participant, kind, payload, input.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateSessionTerms(ctx, session.SessionID, input.Terms, nextVersion); err != nil {
		return nil, fmt.Errorf("update terms: %w", err)
	}
	session.Terms = input.Terms
	session.TermsVersion = nextVersion

	// a new proposal dissolves previously detected consensus
	if session.State == domain.StateConsensusReached {
		if err := s.transition(ctx, session, domain.StateNegotiating, input.Participant, ""); err != nil {
			return nil, err
		}
	}
	return session, nil
}

// Accept records acceptance of the current terms version. Acceptances of any
// other version are rejected outright.
func (s *Service) Accept(ctx context.Context, input AcceptInput) (*domain.Session, error) {
	unlock := s.locks.lock(input.SessionID)
	defer unlock()

	session, done, err := s.loadForAction(ctx, input.ActionInput)
	if err != nil || done {
		return session, err
	}
	if session.State != domain.StateNegotiating {
		return nil, domain.StateErrorf("cannot accept terms in state %s", session.State)
	}
	if err := s.requireJoined(session, input.Participant); err != nil {
		return nil, err
	}
	if input.TermsVersion != session.TermsVersion {
		return nil, domain.ValidationErrorf("acceptance references terms version %d but current version is %d", input.TermsVersion, session.TermsVersion)
	}

	acceptances, err := s.quorum.ListAcceptances(ctx, session.SessionID)
	if err != nil {
		return nil, fmt.Errorf("list acceptances: %w", err)
	}
	for _, r := range domain.AcceptancesForVersion(acceptances, session.TermsVersion) {
		if r.Participant == input.Participant {
			return nil, domain.StateErrorf("%s has already accepted version %d", input.Participant, session.TermsVersion)
		}
	}

	payload, err := json.Marshal(domain.AcceptPayload{TermsVersion: input.TermsVersion})
	if err != nil {
		return nil, fmt.Errorf("marshal accept payload: %w", err)
	}
	msg, err := s.appendMessage(ctx, session, input.Participant, domain.KindAccept, payload, input.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	record := domain.AcceptanceRecord{
		SessionID:    session.SessionID,
		Participant:  input.Participant,
		TermsVersion: input.TermsVersion,
		AcceptedAt:   msg.Timestamp,
	}
	if err := s.repo.AddAcceptance(ctx, &record); err != nil {
		return nil, fmt.Errorf("record acceptance: %w", err)
	}
	acceptances = append(acceptances, record)

	if res := domain.EvaluateConsensus(session, acceptances); res.Reached {
		if err := s.transition(ctx, session, domain.StateConsensusReached, input.Participant, ""); err != nil {
			return nil, err
		}
	}
	return session, nil
}

// Reject records a non-binding rejection. It retracts nothing; from
// CONSENSUS_REACHED it reopens negotiation.
func (s *Service) Reject(ctx context.Context, input RejectInput) (*domain.Session, error) {
	unlock := s.locks.lock(input.SessionID)
	defer unlock()

	session, done, err := s.loadForAction(ctx, input.ActionInput)
	if err != nil || done {
		return session, err
	}
	if session.State != domain.StateNegotiating && session.State != domain.StateConsensusReached {
		return nil, domain.StateErrorf("cannot reject terms in state %s", session.State)
	}
	if err := s.requireJoined(session, input.Participant); err != nil {
		return nil, err
	}
	if input.TermsVersion != session.TermsVersion {
		return nil, domain.ValidationErrorf("rejection references terms version %d but current version is %d", input.TermsVersion, session.TermsVersion)
	}

	payload, err := json.Marshal(domain.RejectPayload{TermsVersion: input.TermsVersion, Reason: input.Reason})
	if err != nil {
		return nil, fmt.Errorf("marshal reject payload: %w", err)
	}
	if _, err := s.appendMessage(ctx, session, input.Participant, domain.KindReject, payload, input.IdempotencyKey); err != nil {
		return nil, err
	}
	if session.State == domain.StateConsensusReached {
		if err := s.transition(ctx, session, domain.StateNegotiating, input.Participant, ""); err != nil {
			return nil, err
		}
	}
	return session, nil
}

// Finalize confirms the consensus terms. When the last active participant
// finalizes, the commitment is generated and the session becomes BINDING.
func (s *Service) Finalize(ctx context.Context, input FinalizeInput) (*domain.Session, error) {
	unlock := s.locks.lock(input.SessionID)
	defer unlock()

	session, done, err := s.loadForAction(ctx, input.ActionInput)
	if err != nil || done {
		return session, err
	}
	if session.State != domain.StateConsensusReached {
		return nil, domain.StateErrorf("cannot finalize in state %s", session.State)
	}
	if err := s.requireJoined(session, input.Participant); err != nil {
		return nil, err
	}
	if input.TermsVersion != session.TermsVersion {
		return nil, domain.ValidationErrorf("finalization references terms version %d but current version is %d", input.TermsVersion, session.TermsVersion)
	}

	finalizations, err := s.quorum.ListFinalizations(ctx, session.SessionID)
	if err != nil {
		return nil, fmt.Errorf("list finalizations: %w", err)
	}
	for _, r := range domain.FinalizationsForVersion(finalizations, session.TermsVersion) {
		if r.Participant == input.Participant {
			return nil, domain.StateErrorf("%s has already finalized version %d", input.Participant, session.TermsVersion)
		}
	}

	acceptances, err := s.quorum.ListAcceptances(ctx, session.SessionID)
	if err != nil {
		return nil, fmt.Errorf("list acceptances: %w", err)
	}

	payload, err := json.Marshal(domain.FinalizePayload{TermsVersion: input.TermsVersion})
	if err != nil {
		return nil, fmt.Errorf("marshal finalize payload: %w", err)
	}
	msg, err := s.appendMessage(ctx, session, input.Participant, domain.KindFinalize, payload, input.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	// Finalizing implies accepting: under a threshold quorum, consensus can
	// form without every participant's acceptance, and the state gate rules
	// out a late ACCEPT. Nobody reaches BINDING without an acceptance record
	// for the committed version.
	if !domain.HasAcceptance(acceptances, input.Participant, session.TermsVersion) {
		implied := domain.AcceptanceRecord{
			SessionID:    session.SessionID,
			Participant:  input.Participant,
			TermsVersion: session.TermsVersion,
			AcceptedAt:   msg.Timestamp,
		}
		if err := s.repo.AddAcceptance(ctx, &implied); err != nil {
			return nil, fmt.Errorf("record implied acceptance: %w", err)
		}
		acceptances = append(acceptances, implied)
	}
	record := domain.FinalizationRecord{
		SessionID:    session.SessionID,
		Participant:  input.Participant,
		TermsVersion: input.TermsVersion,
		FinalizedAt:  msg.Timestamp,
	}
	if err := s.repo.AddFinalization(ctx, &record); err != nil {
		return nil, fmt.Errorf("record finalization: %w", err)
	}
	finalizations = append(finalizations, record)

	if !domain.EvaluateFinalization(session, finalizations) {
		return session, nil
	}

	commitment := &domain.BindingCommitment{
		SessionID:     session.SessionID,
		Participants:  session.SortedParticipants(),
		Terms:         session.Terms,
		TermsVersion:  session.TermsVersion,
		Acceptances:   domain.AcceptancesForVersion(acceptances, session.TermsVersion),
		Finalizations: domain.FinalizationsForVersion(finalizations, session.TermsVersion),
		CommittedAt:   msg.Timestamp,
	}
	if err := commitment.Seal(); err != nil {
		return nil, fmt.Errorf("seal commitment: %w", err)
	}
	if err := s.transition(ctx, session, domain.StateBinding, input.Participant, commitment.Hash); err != nil {
		return nil, err
	}
	if err := s.repo.SetCommitment(ctx, session.SessionID, commitment); err != nil {
		return nil, fmt.Errorf("store commitment: %w", err)
	}
	session.Commitment = commitment
	s.logger.Info().
		Str("session_id", session.SessionID.String()).
		Str("binding_hash", commitment.Hash).
		Msg("session became binding")
	return session, nil
}

// Withdraw exits the session. Any withdrawal terminates the session for all
// participants; there is no partial continuation.
func (s *Service) Withdraw(ctx context.Context, input WithdrawInput) (*domain.Session, error) {
	unlock := s.locks.lock(input.SessionID)
	defer unlock()

	session, done, err := s.loadForAction(ctx, input.ActionInput)
	if err != nil || done {
		return session, err
	}
	if domain.IsTerminal(session.State) {
		return nil, domain.StateErrorf("cannot withdraw from a session in state %s", session.State)
	}
	if !session.HasParticipant(input.Participant) {
		return nil, domain.AuthorizationErrorf("%s is not on the session roster", input.Participant)
	}

	payload, err := json.Marshal(domain.WithdrawPayload{Reason: input.Reason})
	if err != nil {
		return nil, fmt.Errorf("marshal withdraw payload: %w", err)
	}
	if _, err := s.appendMessage(ctx, session, input.Participant, domain.KindWithdraw, payload, input.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := s.transition(ctx, session, domain.StateTerminated, input.Participant, ""); err != nil {
		return nil, err
	}
	return session, nil
}

// RaiseDispute moves a BINDING session to DISPUTED. The supplied binding hash
// must match the stored commitment, proving the challenger has seen it.
func (s *Service) RaiseDispute(ctx context.Context, input DisputeInput) (*domain.Session, error) {
	unlock := s.locks.lock(input.SessionID)
	defer unlock()

	session, done, err := s.loadForAction(ctx, input.ActionInput)
	if err != nil || done {
		return session, err
	}
	if session.State != domain.StateBinding {
		return nil, domain.StateErrorf("disputes can only be raised against a BINDING session, not %s", session.State)
	}
	if !session.HasParticipant(input.Participant) {
		return nil, domain.AuthorizationErrorf("%s is not on the session roster", input.Participant)
	}
	if session.Commitment == nil {
		return nil, fmt.Errorf("binding session %s has no stored commitment", session.SessionID)
	}
	if input.BindingHash != session.Commitment.Hash {
		return nil, domain.ValidationErrorf("binding hash does not match the session commitment")
	}
	if len(input.Evidence) == 0 || !json.Valid(input.Evidence) {
		return nil, domain.ValidationErrorf("evidence must be valid JSON")
	}

	payload, err := json.Marshal(domain.DisputePayload{BindingHash: input.BindingHash, Evidence: input.Evidence})
	if err != nil {
		return nil, fmt.Errorf("marshal dispute payload: %w", err)
	}
	if _, err := s.appendMessage(ctx, session, input.Participant, domain.KindDispute, payload, input.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := s.transition(ctx, session, domain.StateDisputed, input.Participant, session.Commitment.Hash); err != nil {
		return nil, err
	}
	return session, nil
}

// GetSession returns a session snapshot.
func (s *Service) GetSession(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error) {
	return s.repo.GetSession(ctx, sessionID)
}

// ListSessions returns session snapshots, optionally filtered by state.
func (s *Service) ListSessions(ctx context.Context, state domain.State, limit, offset int) ([]*domain.Session, error) {
	return s.repo.ListSessions(ctx, state, limit, offset)
}

// ListMessages returns the immutable message log in sequence order.
func (s *Service) ListMessages(ctx context.Context, sessionID uuid.UUID) ([]*domain.Message, error) {
	if _, err := s.repo.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.repo.ListMessages(ctx, sessionID)
}

// GetCommitment returns the binding commitment of a BINDING or DISPUTED
// session.
func (s *Service) GetCommitment(ctx context.Context, sessionID uuid.UUID) (*domain.BindingCommitment, error) {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Commitment == nil {
		return nil, domain.StateErrorf("session in state %s has no binding commitment", session.State)
	}
	return session.Commitment, nil
}

// ConsensusStatus reports acceptance progress for the current terms version.
func (s *Service) ConsensusStatus(ctx context.Context, sessionID uuid.UUID) (*domain.ConsensusResult, error) {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	acceptances, err := s.quorum.ListAcceptances(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list acceptances: %w", err)
	}
	res := domain.EvaluateConsensus(session, acceptances)
	return &res, nil
}

// loadForAction fetches the session, resolves idempotency-key replays and
// lazily expires sessions whose deadline has passed. done=true means the
// action was already applied and the current snapshot should be returned.
func (s *Service) loadForAction(ctx context.Context, input ActionInput) (*domain.Session, bool, error) {
	if input.Participant == "" {
		return nil, false, domain.ValidationErrorf("participant is required")
	}
	session, err := s.repo.GetSession(ctx, input.SessionID)
	if err != nil {
		return nil, false, err
	}
	if session.ChainCorrupt {
		return nil, false, domain.ErrChainCorrupt
	}
	if input.IdempotencyKey != "" {
		prior, err := s.repo.FindByIdempotencyKey(ctx, input.SessionID, input.IdempotencyKey)
		if err != nil {
			return nil, false, fmt.Errorf("idempotency lookup: %w", err)
		}
		if prior != nil {
			return session, true, nil
		}
	}
	if expired, err := s.expireIfDue(ctx, session); err != nil {
		return nil, false, err
	} else if expired {
		return nil, false, domain.TimeoutErrorf("session %s has expired", session.SessionID)
	}
	return session, false, nil
}

// expireIfDue applies the deadline rule without waiting for the supervisor
// sweep. BINDING and other terminal states never expire.
func (s *Service) expireIfDue(ctx context.Context, session *domain.Session) (bool, error) {
	if domain.IsTerminal(session.State) {
		return false, nil
	}
	now := s.now()
	var due bool
	if session.State == domain.StateConsensusReached {
		due = session.PastFinalizationDeadline(now)
	} else {
		due = session.PastNegotiationDeadline(now)
	}
	if !due {
		return false, nil
	}
	ok, err := s.repo.UpdateSessionStateCAS(ctx, session.SessionID, session.State, domain.StateExpired)
	if err != nil {
		return false, fmt.Errorf("expire session: %w", err)
	}
	if !ok {
		// a concurrent transition won the race; the winner may have moved the
		// session somewhere other than EXPIRED, so report a conflict rather
		// than a timeout and let the caller re-read
		return false, domain.ConflictErrorf("session %s changed concurrently, retry", session.SessionID)
	}
	s.emit(session.SessionID, "supervisor", string(session.State), string(domain.StateExpired), "")
	session.State = domain.StateExpired
	return true, nil
}

func (s *Service) requireJoined(session *domain.Session, participant string) error {
	if !session.HasParticipant(participant) {
		return domain.AuthorizationErrorf("%s is not on the session roster", participant)
	}
	if !session.HasJoined(participant) {
		return domain.AuthorizationErrorf("%s has not joined the session", participant)
	}
	return nil
}

// appendMessage seals and appends one ledger entry, chaining it to the
// session's last message and signing it per the configured mode.
func (s *Service) appendMessage(ctx context.Context, session *domain.Session, sender string, kind domain.Kind, payload json.RawMessage, idemKey string) (*domain.Message, error) {
	if err := domain.ValidatePayload(kind, payload); err != nil {
		return nil, err
	}
	last, err := s.repo.LastMessage(ctx, session.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load last message: %w", err)
	}
	var seq int64 = 1
	if last != nil {
		seq = last.Sequence + 1
	}
	msg := &domain.Message{
		MessageID:      uuid.New(),
		SessionID:      session.SessionID,
		Sequence:       seq,
		Sender:         sender,
		Kind:           kind,
		Payload:        payload,
		Timestamp:      s.now().UTC(),
		IdempotencyKey: idemKey,
	}
	if err := msg.Seal(last); err != nil {
		return nil, fmt.Errorf("seal message: %w", err)
	}
	if s.cfg.SignatureMode != domain.SignatureModeOff {
		sig, err := s.signer.Sign(msg.ContentHash)
		if err != nil {
			return nil, fmt.Errorf("sign message: %w", err)
		}
		msg.Signature = sig
		msg.KeyID = s.signer.KeyID()
	}
	if err := s.repo.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

// transition CAS-updates the session state and emits the transition event.
func (s *Service) transition(ctx context.Context, session *domain.Session, to domain.State, actor, resultingHash string) error {
	from := session.State
	if !domain.CanTransition(from, to) {
		return domain.StateErrorf("transition %s -> %s is not allowed", from, to)
	}
	ok, err := s.repo.UpdateSessionStateCAS(ctx, session.SessionID, from, to)
	if err != nil {
		return fmt.Errorf("transition %s -> %s: %w", from, to, err)
	}
	if !ok {
		return domain.ConflictErrorf("session %s changed concurrently, retry", session.SessionID)
	}
	session.State = to
	s.emit(session.SessionID, actor, string(from), string(to), resultingHash)
	s.logger.Debug().
		Str("session_id", session.SessionID.String()).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("actor", actor).
		Msg("state transition")
	return nil
}

func (s *Service) emit(sessionID uuid.UUID, actor, from, to, resultingHash string) {
	if s.emitter == nil {
		return
	}
	s.emitter.EmitTransition(sessionID, actor, from, to, resultingHash)
}

func uniqNonEmpty(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
