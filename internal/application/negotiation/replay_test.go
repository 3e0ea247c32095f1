package negotiation

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	domain "github.com/accord-hub/accord-hub/internal/domain/negotiation"
)

func TestReplayReproducesBindingSession(t *testing.T) {
	svc, repo, _ := newTestService(t)
	session := bindTestSession(t, svc)

	snap, err := Replay(repo.messages[session.SessionID], testClock)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if snap.State != domain.StateBinding {
		t.Fatalf("expected replayed BINDING, got %s", snap.State)
	}
	if snap.TermsVersion != session.TermsVersion {
		t.Fatalf("terms version mismatch: replayed %d, live %d", snap.TermsVersion, session.TermsVersion)
	}
	if snap.Commitment == nil {
		t.Fatal("expected replayed commitment")
	}
	if snap.Commitment.Hash != session.Commitment.Hash {
		t.Fatalf("commitment hash mismatch: replayed %s, live %s", snap.Commitment.Hash, session.Commitment.Hash)
	}
}

func TestReplayReproducesThresholdQuorumCommitment(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	session, err := svc.Initiate(ctx, InitiateInput{
		Initiator:            "alice",
		Participants:         []string{"bob", "carol"},
		Terms:                json.RawMessage(`{"price":100}`),
		QuorumCount:          2,
		NegotiationDeadline:  testClock.Add(time.Hour),
		FinalizationDeadline: testClock.Add(2 * time.Hour),
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	joinAll(t, svc, session, "bob", "carol")
	acceptAll(t, svc, session, 1, "alice", "bob")
	for _, p := range []string{"carol", "alice", "bob"} {
		session, err = svc.Finalize(ctx, FinalizeInput{
			ActionInput:  ActionInput{SessionID: session.SessionID, Participant: p},
			TermsVersion: 1,
		})
		if err != nil {
			t.Fatalf("finalize %s: %v", p, err)
		}
	}

	snap, err := Replay(repo.messages[session.SessionID], testClock)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if snap.State != domain.StateBinding {
		t.Fatalf("expected replayed BINDING, got %s", snap.State)
	}
	// carol's acceptance is implied by her finalization; the replayed
	// commitment must reproduce it and hash identically
	if !domain.HasAcceptance(snap.Acceptances, "carol", 1) {
		t.Fatal("replay did not derive the implied acceptance")
	}
	if snap.Commitment == nil || snap.Commitment.Hash != session.Commitment.Hash {
		t.Fatalf("commitment hash mismatch: replayed %+v, live %s", snap.Commitment, session.Commitment.Hash)
	}
}

func TestReplayCountersAndStaleAcceptances(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	session := initiateTestSession(t, svc)
	joinAll(t, svc, session, "bob")
	acceptAll(t, svc, session, 1, "alice")
	if _, err := svc.Offer(ctx, OfferInput{
		ActionInput: ActionInput{SessionID: session.SessionID, Participant: "bob"},
		Terms:       json.RawMessage(`{"price":80}`),
	}); err != nil {
		t.Fatalf("offer: %v", err)
	}

	snap, err := Replay(repo.messages[session.SessionID], testClock)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if snap.State != domain.StateNegotiating {
		t.Fatalf("expected NEGOTIATING, got %s", snap.State)
	}
	if snap.TermsVersion != 2 {
		t.Fatalf("expected terms version 2, got %d", snap.TermsVersion)
	}
	if got := len(domain.AcceptancesForVersion(snap.Acceptances, 2)); got != 0 {
		t.Fatalf("expected no acceptances for version 2, got %d", got)
	}
}

func TestReplayDerivesExpiryFromAsOf(t *testing.T) {
	svc, repo, _ := newTestService(t)
	session := initiateTestSession(t, svc)

	snap, err := Replay(repo.messages[session.SessionID], testClock.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if snap.State != domain.StateExpired {
		t.Fatalf("expected EXPIRED as of a later clock, got %s", snap.State)
	}

	snap, err = Replay(repo.messages[session.SessionID], testClock)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if snap.State != domain.StateInitiated {
		t.Fatalf("expected INITIATED as of the original clock, got %s", snap.State)
	}
}

func TestReplayRejectsMalformedLog(t *testing.T) {
	if _, err := Replay(nil, testClock); err == nil {
		t.Fatal("expected error for empty log")
	}

	msg := &domain.Message{Kind: domain.KindJoin, Payload: json.RawMessage(`{"participant":"bob"}`)}
	if _, err := Replay([]*domain.Message{msg}, testClock); err == nil {
		t.Fatal("expected error for log not starting with INITIATE")
	}
}

func TestVerifyCleanSession(t *testing.T) {
	svc, _, _ := newTestService(t)
	session := bindTestSession(t, svc)

	result, err := svc.Verify(context.Background(), session.SessionID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.ChainIntact {
		t.Fatal("expected intact chain")
	}
	if !result.SnapshotMatches {
		t.Fatalf("expected matching snapshot, differences: %v", result.Differences)
	}
	if result.ReplayedState != domain.StateBinding || result.PersistedState != domain.StateBinding {
		t.Fatalf("unexpected states: replayed %s persisted %s", result.ReplayedState, result.PersistedState)
	}
}

func TestVerifyDetectsTamperedPayload(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	session := initiateTestSession(t, svc)
	joinAll(t, svc, session, "bob")

	msgs := repo.messages[session.SessionID]
	msgs[1].Payload = json.RawMessage(`{"participant":"mallory"}`)

	result, err := svc.Verify(ctx, session.SessionID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.ChainIntact {
		t.Fatal("expected broken chain after payload tamper")
	}
	if result.ChainBreak == nil || result.ChainBreak.Sequence != 2 {
		t.Fatalf("expected break at sequence 2, got %+v", result.ChainBreak)
	}
	if !repo.sessions[session.SessionID].ChainCorrupt {
		t.Fatal("expected session marked corrupt")
	}

	// a corrupt session refuses further mutation
	_, err = svc.Offer(ctx, OfferInput{
		ActionInput: ActionInput{SessionID: session.SessionID, Participant: "bob"},
		Terms:       json.RawMessage(`{"price":1}`),
	})
	if err == nil {
		t.Fatal("expected mutation on corrupt session to fail")
	}
}

func TestVerifyReportsSnapshotDrift(t *testing.T) {
	svc, repo, _ := newTestService(t)
	session := initiateTestSession(t, svc)
	joinAll(t, svc, session, "bob")

	repo.sessions[session.SessionID].TermsVersion = 9

	result, err := svc.Verify(context.Background(), session.SessionID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.ChainIntact {
		t.Fatal("chain should still be intact")
	}
	if result.SnapshotMatches {
		t.Fatal("expected snapshot mismatch")
	}
	if len(result.Differences) == 0 {
		t.Fatal("expected recorded differences")
	}
}
