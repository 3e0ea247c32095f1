package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/accord-hub/accord-hub/internal/domain/negotiation"
	"github.com/accord-hub/accord-hub/internal/p2p/protocol"
)

// NegotiationSession is the replicated view of one session. It mirrors the
// persistent model but is keyed by string session id so snapshots stay plain
// JSON maps.
type NegotiationSession struct {
	SessionID            string                         `json:"sessionId"`
	Initiator            string                         `json:"initiator"`
	Participants         []string                       `json:"participants"`
	Joined               []string                       `json:"joined"`
	State                negotiation.State              `json:"state"`
	Terms                json.RawMessage                `json:"terms"`
	TermsVersion         int                            `json:"termsVersion"`
	QuorumCount          int                            `json:"quorumCount"`
	NegotiationDeadline  time.Time                      `json:"negotiationDeadline"`
	FinalizationDeadline time.Time                      `json:"finalizationDeadline"`
	Commitment           *negotiation.BindingCommitment `json:"commitment,omitempty"`
	CreatedAt            time.Time                      `json:"createdAt"`
	UpdatedAt            time.Time                      `json:"updatedAt"`
	LastEventID          string                         `json:"lastEventId,omitempty"`
}

// Event is one entry in a session's replicated timeline.
type Event struct {
	EventID    string          `json:"eventId"`
	SessionID  string          `json:"sessionId"`
	Type       string          `json:"type"`
	Actor      string          `json:"actor"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	TxID       string          `json:"txId"`
	CommitTime time.Time       `json:"commitTime"`
}

type snapshot struct {
	Sessions      map[string]NegotiationSession               `json:"sessions"`
	Acceptances   map[string][]negotiation.AcceptanceRecord   `json:"acceptances"`
	Finalizations map[string][]negotiation.FinalizationRecord `json:"finalizations"`
	Events        map[string][]Event                          `json:"events"`
	AppliedTx     map[string]bool                             `json:"appliedTx"`
}

// Machine is the deterministic negotiation state machine every cluster node
// applies the replicated log against. Given the same tx sequence, every node
// reaches the same sessions, the same acceptance records and the same
// commitment hashes.
type Machine struct {
	mu sync.RWMutex
	s  snapshot
}

func NewMachine() *Machine {
	m := &Machine{}
	m.s = emptySnapshot()
	return m
}

func emptySnapshot() snapshot {
	return snapshot{
		Sessions:      map[string]NegotiationSession{},
		Acceptances:   map[string][]negotiation.AcceptanceRecord{},
		Finalizations: map[string][]negotiation.FinalizationRecord{},
		Events:        map[string][]Event{},
		AppliedTx:     map[string]bool{},
	}
}

// Marshal serializes the current machine snapshot.
func (m *Machine) Marshal() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return json.Marshal(m.copySnapshotLocked())
}

// Unmarshal restores machine state from a snapshot payload.
func (m *Machine) Unmarshal(data []byte) error {
	if len(data) == 0 {
		return errors.New("empty snapshot")
	}
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	normalizeSnapshot(&s)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s = s
	return nil
}

func normalizeSnapshot(s *snapshot) {
	if s.Sessions == nil {
		s.Sessions = map[string]NegotiationSession{}
	}
	if s.Acceptances == nil {
		s.Acceptances = map[string][]negotiation.AcceptanceRecord{}
	}
	if s.Finalizations == nil {
		s.Finalizations = map[string][]negotiation.FinalizationRecord{}
	}
	if s.Events == nil {
		s.Events = map[string][]Event{}
	}
	if s.AppliedTx == nil {
		s.AppliedTx = map[string]bool{}
	}
}

func (m *Machine) copySnapshotLocked() snapshot {
	out := emptySnapshot()
	for k, v := range m.s.Sessions {
		out.Sessions[k] = cloneSession(v)
	}
	for k, v := range m.s.Acceptances {
		out.Acceptances[k] = append([]negotiation.AcceptanceRecord(nil), v...)
	}
	for k, v := range m.s.Finalizations {
		out.Finalizations[k] = append([]negotiation.FinalizationRecord(nil), v...)
	}
	for k, v := range m.s.Events {
		out.Events[k] = append([]Event(nil), v...)
	}
	for k, v := range m.s.AppliedTx {
		out.AppliedTx[k] = v
	}
	return out
}

func cloneSession(in NegotiationSession) NegotiationSession {
	in.Participants = append([]string(nil), in.Participants...)
	in.Joined = append([]string(nil), in.Joined...)
	if in.Terms != nil {
		in.Terms = append([]byte(nil), in.Terms...)
	}
	if in.Commitment != nil {
		c := *in.Commitment
		c.Participants = append([]string(nil), c.Participants...)
		c.Acceptances = append([]negotiation.AcceptanceRecord(nil), c.Acceptances...)
		c.Finalizations = append([]negotiation.FinalizationRecord(nil), c.Finalizations...)
		if c.Terms != nil {
			c.Terms = append([]byte(nil), c.Terms...)
		}
		in.Commitment = &c
	}
	return in
}

func cloneEvent(in Event) Event {
	if in.Payload != nil {
		in.Payload = append([]byte(nil), in.Payload...)
	}
	return in
}

// domainView adapts the replicated session into the persistent model so the
// shared consensus and lifecycle rules apply verbatim.
func domainView(ns NegotiationSession, uid uuid.UUID) *negotiation.Session {
	return &negotiation.Session{
		SessionID:            uid,
		Initiator:            ns.Initiator,
		Participants:         ns.Participants,
		Joined:               ns.Joined,
		State:                ns.State,
		Terms:                ns.Terms,
		TermsVersion:         ns.TermsVersion,
		QuorumCount:          ns.QuorumCount,
		NegotiationDeadline:  ns.NegotiationDeadline,
		FinalizationDeadline: ns.FinalizationDeadline,
	}
}

// ApplyTx validates and applies one signed transaction. Re-applying an
// already committed tx id is a no-op, so log replays converge.
func (m *Machine) ApplyTx(tx protocol.Tx) error {
	if err := tx.Verify(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.s.AppliedTx[tx.TxID] {
		return nil
	}
	at := tx.Timestamp.UTC()
	m.expireSessionsLocked(at, tx.TxID)

	var err error
	switch tx.Op {
	case protocol.OpNegotiationInitiate:
		err = m.applyInitiateLocked(tx, at)
	case protocol.OpParticipantJoin:
		err = m.applyJoinLocked(tx, at)
	case protocol.OpTermsOffer:
		err = m.applyOfferLocked(tx, at)
	case protocol.OpTermsAccept:
		err = m.applyAcceptLocked(tx, at)
	case protocol.OpTermsReject:
		err = m.applyRejectLocked(tx, at)
	case protocol.OpTermsFinalize:
		err = m.applyFinalizeLocked(tx, at)
	case protocol.OpParticipantWithdraw:
		err = m.applyWithdrawLocked(tx, at)
	case protocol.OpDisputeRaise:
		err = m.applyDisputeLocked(tx, at)
	default:
		err = fmt.Errorf("unsupported op: %s", tx.Op)
	}
	if err != nil {
		return err
	}
	m.s.AppliedTx[tx.TxID] = true
	return nil
}

func (m *Machine) applyInitiateLocked(tx protocol.Tx, at time.Time) error {
	payload, err := protocol.DecodePayload[protocol.InitiatePayload](tx.Payload)
	if err != nil {
		return err
	}
	sessionID := strings.TrimSpace(payload.SessionID)
	if sessionID == "" {
		return errors.New("session_id is required")
	}
	if _, err := uuid.Parse(sessionID); err != nil {
		return errors.New("session_id must be a UUID")
	}
	if _, ok := m.s.Sessions[sessionID]; ok {
		return fmt.Errorf("session already exists: %s", sessionID)
	}
	actor := strings.TrimSpace(tx.Actor)
	roster := uniqueNonEmpty(append([]string{actor}, payload.Participants...))
	if len(roster) < 2 {
		return errors.New("at least two participants are required")
	}
	if len(payload.Terms) == 0 || !json.Valid(payload.Terms) {
		return errors.New("terms must be valid JSON")
	}
	if payload.NegotiationDeadline.IsZero() || payload.FinalizationDeadline.IsZero() {
		return errors.New("negotiation_deadline and finalization_deadline are required")
	}
	if !payload.NegotiationDeadline.After(at) {
		return errors.New("negotiation_deadline must be in the future")
	}
	if !payload.FinalizationDeadline.After(payload.NegotiationDeadline) {
		return errors.New("finalization_deadline must follow negotiation_deadline")
	}
	quorum := payload.QuorumCount
	if quorum <= 0 || quorum > len(roster) {
		quorum = len(roster)
	}
	session := NegotiationSession{
		SessionID:            sessionID,
		Initiator:            actor,
		Participants:         roster,
		Joined:               []string{actor},
		State:                negotiation.StateInitiated,
		Terms:                append([]byte(nil), payload.Terms...),
		TermsVersion:         1,
		QuorumCount:          quorum,
		NegotiationDeadline:  payload.NegotiationDeadline.UTC(),
		FinalizationDeadline: payload.FinalizationDeadline.UTC(),
		CreatedAt:            at,
		UpdatedAt:            at,
	}
	m.s.Sessions[sessionID] = session
	m.appendEventLocked(sessionID, string(protocol.OpNegotiationInitiate), tx.Actor, payload, at, tx.TxID)
	return nil
}

func (m *Machine) applyJoinLocked(tx protocol.Tx, at time.Time) error {
	payload, err := protocol.DecodePayload[protocol.JoinPayload](tx.Payload)
	if err != nil {
		return err
	}
	session, uid, err := m.sessionLocked(payload.SessionID)
	if err != nil {
		return err
	}
	if session.State != negotiation.StateInitiated {
		return fmt.Errorf("session is %s, join requires INITIATED", session.State)
	}
	actor := strings.TrimSpace(tx.Actor)
	view := domainView(session, uid)
	if !view.HasParticipant(actor) {
		return fmt.Errorf("participant not on roster: %s", actor)
	}
	if view.HasJoined(actor) {
		return fmt.Errorf("participant already joined: %s", actor)
	}
	session.Joined = append(session.Joined, actor)
	session.UpdatedAt = at
	view.Joined = session.Joined
	if view.AllJoined() {
		session.State = negotiation.StateNegotiating
		m.appendEventLocked(session.SessionID, "STATE_NEGOTIATING", "system", nil, at, tx.TxID)
	}
	m.s.Sessions[session.SessionID] = session
	m.appendEventLocked(session.SessionID, string(protocol.OpParticipantJoin), tx.Actor, payload, at, tx.TxID)
	return nil
}

func (m *Machine) applyOfferLocked(tx protocol.Tx, at time.Time) error {
	payload, err := protocol.DecodePayload[protocol.OfferPayload](tx.Payload)
	if err != nil {
		return err
	}
	session, uid, err := m.sessionLocked(payload.SessionID)
	if err != nil {
		return err
	}
	if session.State != negotiation.StateNegotiating && session.State != negotiation.StateConsensusReached {
		return fmt.Errorf("session is %s, offers require NEGOTIATING or CONSENSUS_REACHED", session.State)
	}
	if err := requireJoined(session, uid, tx.Actor); err != nil {
		return err
	}
	if len(payload.Terms) == 0 || !json.Valid(payload.Terms) {
		return errors.New("terms must be valid JSON")
	}
	if payload.BaseVersion != session.TermsVersion {
		return fmt.Errorf("stale base_version %d, current is %d", payload.BaseVersion, session.TermsVersion)
	}
	session.Terms = append([]byte(nil), payload.Terms...)
	session.TermsVersion++
	session.UpdatedAt = at
	if session.State == negotiation.StateConsensusReached {
		// A fresh offer dissolves the standing consensus.
		session.State = negotiation.StateNegotiating
		m.appendEventLocked(session.SessionID, "STATE_NEGOTIATING", "system", nil, at, tx.TxID)
	}
	m.s.Sessions[session.SessionID] = session
	m.appendEventLocked(session.SessionID, string(protocol.OpTermsOffer), tx.Actor, payload, at, tx.TxID)
	return nil
}

func (m *Machine) applyAcceptLocked(tx protocol.Tx, at time.Time) error {
	payload, err := protocol.DecodePayload[protocol.AcceptPayload](tx.Payload)
	if err != nil {
		return err
	}
	session, uid, err := m.sessionLocked(payload.SessionID)
	if err != nil {
		return err
	}
	if session.State != negotiation.StateNegotiating {
		return fmt.Errorf("session is %s, accept requires NEGOTIATING", session.State)
	}
	if err := requireJoined(session, uid, tx.Actor); err != nil {
		return err
	}
	if payload.TermsVersion != session.TermsVersion {
		return fmt.Errorf("stale terms_version %d, current is %d", payload.TermsVersion, session.TermsVersion)
	}
	actor := strings.TrimSpace(tx.Actor)
	for _, rec := range m.s.Acceptances[session.SessionID] {
		if rec.Participant == actor && rec.TermsVersion == session.TermsVersion {
			return fmt.Errorf("participant already accepted version %d", session.TermsVersion)
		}
	}
	records := append(m.s.Acceptances[session.SessionID], negotiation.AcceptanceRecord{
		SessionID:    uid,
		Participant:  actor,
		TermsVersion: session.TermsVersion,
		AcceptedAt:   at,
	})
	m.s.Acceptances[session.SessionID] = records
	session.UpdatedAt = at
	m.appendEventLocked(session.SessionID, string(protocol.OpTermsAccept), tx.Actor, payload, at, tx.TxID)

	result := negotiation.EvaluateConsensus(domainView(session, uid), records)
	if result.Reached {
		session.State = negotiation.StateConsensusReached
		m.appendEventLocked(session.SessionID, "STATE_CONSENSUS_REACHED", "system", result, at, tx.TxID)
	}
	m.s.Sessions[session.SessionID] = session
	return nil
}

func (m *Machine) applyRejectLocked(tx protocol.Tx, at time.Time) error {
	payload, err := protocol.DecodePayload[protocol.RejectPayload](tx.Payload)
	if err != nil {
		return err
	}
	session, uid, err := m.sessionLocked(payload.SessionID)
	if err != nil {
		return err
	}
	if session.State != negotiation.StateNegotiating && session.State != negotiation.StateConsensusReached {
		return fmt.Errorf("session is %s, reject requires NEGOTIATING or CONSENSUS_REACHED", session.State)
	}
	if err := requireJoined(session, uid, tx.Actor); err != nil {
		return err
	}
	if payload.TermsVersion != session.TermsVersion {
		return fmt.Errorf("stale terms_version %d, current is %d", payload.TermsVersion, session.TermsVersion)
	}
	// Rejection is advisory: it retracts nothing already accepted, but it
	// does dissolve a standing consensus so bargaining resumes.
	if session.State == negotiation.StateConsensusReached {
		session.State = negotiation.StateNegotiating
		m.appendEventLocked(session.SessionID, "STATE_NEGOTIATING", "system", nil, at, tx.TxID)
	}
	session.UpdatedAt = at
	m.s.Sessions[session.SessionID] = session
	m.appendEventLocked(session.SessionID, string(protocol.OpTermsReject), tx.Actor, payload, at, tx.TxID)
	return nil
}

func (m *Machine) applyFinalizeLocked(tx protocol.Tx, at time.Time) error {
	payload, err := protocol.DecodePayload[protocol.FinalizePayload](tx.Payload)
	if err != nil {
		return err
	}
	session, uid, err := m.sessionLocked(payload.SessionID)
	if err != nil {
		return err
	}
	if session.State != negotiation.StateConsensusReached {
		return fmt.Errorf("session is %s, finalize requires CONSENSUS_REACHED", session.State)
	}
	if err := requireJoined(session, uid, tx.Actor); err != nil {
		return err
	}
	if payload.TermsVersion != session.TermsVersion {
		return fmt.Errorf("stale terms_version %d, current is %d", payload.TermsVersion, session.TermsVersion)
	}
	actor := strings.TrimSpace(tx.Actor)
	for _, rec := range m.s.Finalizations[session.SessionID] {
		if rec.Participant == actor && rec.TermsVersion == session.TermsVersion {
			return fmt.Errorf("participant already finalized version %d", session.TermsVersion)
		}
	}
	// Finalizing implies accepting, so threshold-quorum sessions still bind
	// with every participant's acceptance on record.
	if !negotiation.HasAcceptance(m.s.Acceptances[session.SessionID], actor, session.TermsVersion) {
		m.s.Acceptances[session.SessionID] = append(m.s.Acceptances[session.SessionID], negotiation.AcceptanceRecord{
			SessionID:    uid,
			Participant:  actor,
			TermsVersion: session.TermsVersion,
			AcceptedAt:   at,
		})
	}
	records := append(m.s.Finalizations[session.SessionID], negotiation.FinalizationRecord{
		SessionID:    uid,
		Participant:  actor,
		TermsVersion: session.TermsVersion,
		FinalizedAt:  at,
	})
	m.s.Finalizations[session.SessionID] = records
	session.UpdatedAt = at
	m.appendEventLocked(session.SessionID, string(protocol.OpTermsFinalize), tx.Actor, payload, at, tx.TxID)

	view := domainView(session, uid)
	if negotiation.EvaluateFinalization(view, records) {
		commitment := &negotiation.BindingCommitment{
			SessionID:     uid,
			Participants:  view.SortedParticipants(),
			Terms:         session.Terms,
			TermsVersion:  session.TermsVersion,
			Acceptances:   negotiation.AcceptancesForVersion(m.s.Acceptances[session.SessionID], session.TermsVersion),
			Finalizations: negotiation.FinalizationsForVersion(records, session.TermsVersion),
			CommittedAt:   at,
		}
		if err := commitment.Seal(); err != nil {
			return fmt.Errorf("seal commitment: %w", err)
		}
		session.Commitment = commitment
		session.State = negotiation.StateBinding
		m.appendEventLocked(session.SessionID, "STATE_BINDING", "system", map[string]any{
			"bindingHash": commitment.Hash,
		}, at, tx.TxID)
	}
	m.s.Sessions[session.SessionID] = session
	return nil
}

func (m *Machine) applyWithdrawLocked(tx protocol.Tx, at time.Time) error {
	payload, err := protocol.DecodePayload[protocol.WithdrawPayload](tx.Payload)
	if err != nil {
		return err
	}
	session, uid, err := m.sessionLocked(payload.SessionID)
	if err != nil {
		return err
	}
	if negotiation.IsTerminal(session.State) {
		return fmt.Errorf("session is %s, withdrawal is no longer possible", session.State)
	}
	view := domainView(session, uid)
	if !view.HasParticipant(strings.TrimSpace(tx.Actor)) {
		return fmt.Errorf("participant not on roster: %s", tx.Actor)
	}
	session.State = negotiation.StateTerminated
	session.UpdatedAt = at
	m.s.Sessions[session.SessionID] = session
	m.appendEventLocked(session.SessionID, string(protocol.OpParticipantWithdraw), tx.Actor, payload, at, tx.TxID)
	m.appendEventLocked(session.SessionID, "STATE_TERMINATED", "system", nil, at, tx.TxID)
	return nil
}

func (m *Machine) applyDisputeLocked(tx protocol.Tx, at time.Time) error {
	payload, err := protocol.DecodePayload[protocol.DisputePayload](tx.Payload)
	if err != nil {
		return err
	}
	session, uid, err := m.sessionLocked(payload.SessionID)
	if err != nil {
		return err
	}
	if session.State != negotiation.StateBinding {
		return fmt.Errorf("session is %s, disputes require BINDING", session.State)
	}
	view := domainView(session, uid)
	if !view.HasParticipant(strings.TrimSpace(tx.Actor)) {
		return fmt.Errorf("participant not on roster: %s", tx.Actor)
	}
	if session.Commitment == nil || strings.TrimSpace(payload.BindingHash) != session.Commitment.Hash {
		return errors.New("binding_hash does not match the sealed commitment")
	}
	if len(payload.Evidence) == 0 || !json.Valid(payload.Evidence) {
		return errors.New("evidence must be valid JSON")
	}
	session.State = negotiation.StateDisputed
	session.UpdatedAt = at
	m.s.Sessions[session.SessionID] = session
	m.appendEventLocked(session.SessionID, string(protocol.OpDisputeRaise), tx.Actor, payload, at, tx.TxID)
	return nil
}

// expireSessionsLocked applies deadline expiry as of the incoming tx
// timestamp. Expiry is derived from the replicated log alone, so every node
// expires the same sessions at the same log positions.
func (m *Machine) expireSessionsLocked(at time.Time, txID string) {
	ids := make([]string, 0, len(m.s.Sessions))
	for id := range m.s.Sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		session := m.s.Sessions[id]
		expired := false
		switch session.State {
		case negotiation.StateInitiated, negotiation.StateNegotiating:
			expired = at.After(session.NegotiationDeadline)
		case negotiation.StateConsensusReached:
			expired = at.After(session.FinalizationDeadline)
		}
		if !expired {
			continue
		}
		session.State = negotiation.StateExpired
		session.UpdatedAt = at
		m.s.Sessions[id] = session
		m.appendEventLocked(id, "STATE_EXPIRED", "system", map[string]any{
			"negotiationDeadline":  session.NegotiationDeadline,
			"finalizationDeadline": session.FinalizationDeadline,
		}, at, txID)
	}
}

func (m *Machine) sessionLocked(rawID string) (NegotiationSession, uuid.UUID, error) {
	sessionID := strings.TrimSpace(rawID)
	if sessionID == "" {
		return NegotiationSession{}, uuid.Nil, errors.New("session_id is required")
	}
	session, ok := m.s.Sessions[sessionID]
	if !ok {
		return NegotiationSession{}, uuid.Nil, fmt.Errorf("session not found: %s", sessionID)
	}
	uid, err := uuid.Parse(sessionID)
	if err != nil {
		return NegotiationSession{}, uuid.Nil, errors.New("session_id must be a UUID")
	}
	return session, uid, nil
}

func requireJoined(session NegotiationSession, uid uuid.UUID, actor string) error {
	view := domainView(session, uid)
	actor = strings.TrimSpace(actor)
	if !view.HasParticipant(actor) {
		return fmt.Errorf("participant not on roster: %s", actor)
	}
	if !view.HasJoined(actor) {
		return fmt.Errorf("participant has not joined: %s", actor)
	}
	return nil
}

func (m *Machine) appendEventLocked(sessionID, eventType, actor string, payload any, at time.Time, txID string) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		actor = "system"
	}
	rawPayload := json.RawMessage(nil)
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			rawPayload = b
		}
	}
	seq := len(m.s.Events[sessionID]) + 1
	eventID := fmt.Sprintf("%s:%s:%06d", strings.TrimSpace(txID), sessionID, seq)
	event := Event{
		EventID:    eventID,
		SessionID:  sessionID,
		Type:       strings.TrimSpace(eventType),
		Actor:      actor,
		Payload:    rawPayload,
		CreatedAt:  at,
		TxID:       txID,
		CommitTime: at,
	}
	m.s.Events[sessionID] = append(m.s.Events[sessionID], event)
	if session, ok := m.s.Sessions[sessionID]; ok {
		session.LastEventID = event.EventID
		session.UpdatedAt = at
		m.s.Sessions[sessionID] = session
	}
}

func uniqueNonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, item := range in {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if _, exists := seen[item]; exists {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

func pageWindow(total, limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return total, total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return offset, end
}

func (m *Machine) GetSession(sessionID string) (NegotiationSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.s.Sessions[strings.TrimSpace(sessionID)]
	if !ok {
		return NegotiationSession{}, false
	}
	return cloneSession(session), true
}

func (m *Machine) ListSessions(limit, offset int) []NegotiationSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]NegotiationSession, 0, len(m.s.Sessions))
	for _, session := range m.s.Sessions {
		out = append(out, cloneSession(session))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	start, end := pageWindow(len(out), limit, offset)
	return append([]NegotiationSession(nil), out[start:end]...)
}

// ConsensusStatus reports acceptance progress for the session's current
// terms version.
func (m *Machine) ConsensusStatus(sessionID string) (negotiation.ConsensusResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, uid, err := m.sessionLocked(sessionID)
	if err != nil {
		return negotiation.ConsensusResult{}, err
	}
	return negotiation.EvaluateConsensus(domainView(session, uid), m.s.Acceptances[session.SessionID]), nil
}

func (m *Machine) GetCommitment(sessionID string) (*negotiation.BindingCommitment, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.s.Sessions[strings.TrimSpace(sessionID)]
	if !ok || session.Commitment == nil {
		return nil, false
	}
	cp := cloneSession(session)
	return cp.Commitment, true
}

func (m *Machine) ListEvents(sessionID string, limit, offset int) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sessionID = strings.TrimSpace(sessionID)
	items := append([]Event(nil), m.s.Events[sessionID]...)
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].EventID > items[j].EventID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	start, end := pageWindow(len(items), limit, offset)
	out := make([]Event, 0, end-start)
	for _, event := range items[start:end] {
		out = append(out, cloneEvent(event))
	}
	return out
}

type Stats struct {
	Sessions      int            `json:"sessions"`
	ByState       map[string]int `json:"byState"`
	Acceptances   int            `json:"acceptances"`
	Finalizations int            `json:"finalizations"`
	Events        int            `json:"events"`
	AppliedTx     int            `json:"appliedTx"`
}

func (m *Machine) StateStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := Stats{
		Sessions:  len(m.s.Sessions),
		ByState:   map[string]int{},
		AppliedTx: len(m.s.AppliedTx),
	}
	for _, session := range m.s.Sessions {
		stats.ByState[string(session.State)]++
	}
	for _, records := range m.s.Acceptances {
		stats.Acceptances += len(records)
	}
	for _, records := range m.s.Finalizations {
		stats.Finalizations += len(records)
	}
	for _, events := range m.s.Events {
		stats.Events += len(events)
	}
	return stats
}
