//go:build integration
// +build integration

package integration

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	httpapi "github.com/accord-hub/accord-hub/internal/api/http"
	appAudit "github.com/accord-hub/accord-hub/internal/application/audit"
	appDispute "github.com/accord-hub/accord-hub/internal/application/dispute"
	appNegotiation "github.com/accord-hub/accord-hub/internal/application/negotiation"
	"github.com/accord-hub/accord-hub/internal/infrastructure/arbitration"
	"github.com/accord-hub/accord-hub/internal/infrastructure/postgres"
	"github.com/accord-hub/accord-hub/internal/infrastructure/sse"
)

const auditKeyHex = "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"

type sessionResponse struct {
	SessionID    string          `json:"sessionId"`
	State        string          `json:"state"`
	TermsVersion int             `json:"termsVersion"`
	Terms        json.RawMessage `json:"terms"`
	Commitment   *struct {
		Hash string `json:"hash"`
	} `json:"commitment"`
}

func TestNegotiationLifecycleIntegration(t *testing.T) {
	server, cleanup := newTestServer(t)
	defer cleanup()
	client := &http.Client{Timeout: 10 * time.Second}

	// A initiates with B and C; counter-offers push the version to 3;
	// everyone accepts version 3 and finalizes.
	var session sessionResponse
	postJSON(t, client, server.URL+"/v1/sessions", map[string]interface{}{
		"initiator":             "A",
		"participants":          []string{"B", "C"},
		"terms":                 map[string]interface{}{"price": 100},
		"negotiation_deadline":  time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		"finalization_deadline": time.Now().Add(2 * time.Hour).UTC().Format(time.RFC3339),
	}, &session)
	if session.State != "INITIATED" {
		t.Fatalf("expected INITIATED, got %s", session.State)
	}
	base := server.URL + "/v1/sessions/" + session.SessionID

	for _, p := range []string{"B", "C"} {
		postJSON(t, client, base+"/join", map[string]string{"participant": p}, &session)
	}
	if session.State != "NEGOTIATING" {
		t.Fatalf("expected NEGOTIATING after full roster joined, got %s", session.State)
	}

	postJSON(t, client, base+"/offers", map[string]interface{}{
		"participant": "B",
		"terms":       map[string]interface{}{"price": 90},
	}, &session)
	postJSON(t, client, base+"/offers", map[string]interface{}{
		"participant": "C",
		"terms":       map[string]interface{}{"price": 95},
	}, &session)
	if session.TermsVersion != 3 {
		t.Fatalf("expected terms version 3 after two counter-offers, got %d", session.TermsVersion)
	}

	for _, p := range []string{"A", "B", "C"} {
		postJSON(t, client, base+"/accept", map[string]interface{}{
			"participant":   p,
			"terms_version": 3,
		}, &session)
	}
	if session.State != "CONSENSUS_REACHED" {
		t.Fatalf("expected CONSENSUS_REACHED, got %s", session.State)
	}

	for _, p := range []string{"A", "B", "C"} {
		postJSON(t, client, base+"/finalize", map[string]interface{}{
			"participant":   p,
			"terms_version": 3,
		}, &session)
	}
	if session.State != "BINDING" {
		t.Fatalf("expected BINDING, got %s", session.State)
	}
	if session.Commitment == nil || session.Commitment.Hash == "" {
		t.Fatal("expected binding commitment")
	}

	var commitment struct {
		Hash string `json:"hash"`
	}
	getJSON(t, client, base+"/commitment", &commitment)
	if commitment.Hash != session.Commitment.Hash {
		t.Fatalf("commitment endpoint returned %s, session holds %s", commitment.Hash, session.Commitment.Hash)
	}

	// replaying the stored log must reproduce the persisted snapshot,
	// including the commitment hash
	var verification struct {
		ChainIntact     bool     `json:"chainIntact"`
		SnapshotMatches bool     `json:"snapshotMatches"`
		Differences     []string `json:"differences"`
	}
	getJSON(t, client, base+"/verify", &verification)
	if !verification.ChainIntact {
		t.Fatal("expected intact message chain")
	}
	if !verification.SnapshotMatches {
		t.Fatalf("replay differs from snapshot: %v", verification.Differences)
	}

	var log struct {
		Messages []struct {
			Kind     string `json:"kind"`
			Sequence int64  `json:"sequence"`
		} `json:"messages"`
	}
	getJSON(t, client, base+"/messages", &log)
	// INITIATE + 2 JOIN + 2 COUNTER_OFFER + 3 ACCEPT + 3 FINALIZE
	if len(log.Messages) != 11 {
		t.Fatalf("expected 11 ledger messages, got %d", len(log.Messages))
	}

	// dispute the binding commitment
	var dispute struct {
		Status      string `json:"status"`
		BindingHash string `json:"bindingHash"`
	}
	postJSON(t, client, base+"/disputes", map[string]interface{}{
		"participant":  "B",
		"binding_hash": session.Commitment.Hash,
		"evidence":     map[string]interface{}{"claim": "delivered terms differ"},
	}, &dispute)
	if dispute.Status != "ESCALATED" {
		t.Fatalf("expected ESCALATED dispute, got %s", dispute.Status)
	}

	getJSON(t, client, base, &session)
	if session.State != "DISPUTED" {
		t.Fatalf("expected DISPUTED, got %s", session.State)
	}
}

func TestTransitionStreamIntegration(t *testing.T) {
	server, cleanup := newTestServer(t)
	defer cleanup()
	client := &http.Client{Timeout: 10 * time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/v1/events/stream?client_id=it-client", nil)
	if err != nil {
		t.Fatalf("stream request: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("stream connect: %v", err)
	}
	defer resp.Body.Close()

	msgCh := make(chan map[string]interface{}, 1)
	go func() {
		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			if strings.HasPrefix(line, "data: ") {
				payload := strings.TrimSpace(strings.TrimPrefix(line, "data: "))
				var msg map[string]interface{}
				if err := json.Unmarshal([]byte(payload), &msg); err == nil {
					msgCh <- msg
					return
				}
			}
		}
	}()

	var session sessionResponse
	postJSON(t, client, server.URL+"/v1/sessions", map[string]interface{}{
		"initiator":             "A",
		"participants":          []string{"B"},
		"terms":                 map[string]interface{}{"price": 1},
		"negotiation_deadline":  time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		"finalization_deadline": time.Now().Add(2 * time.Hour).UTC().Format(time.RFC3339),
	}, &session)

	select {
	case msg := <-msgCh:
		if msg["sessionId"] != session.SessionID {
			t.Fatalf("unexpected stream payload: %v", msg)
		}
		if msg["toState"] != "INITIATED" {
			t.Fatalf("expected INITIATED transition, got %v", msg["toState"])
		}
	case <-time.After(5 * time.Second):
		t.Fatal("transition event not received on stream")
	}
}

func TestIdempotencyKeyIntegration(t *testing.T) {
	server, cleanup := newTestServer(t)
	defer cleanup()
	client := &http.Client{Timeout: 10 * time.Second}

	var session sessionResponse
	postJSON(t, client, server.URL+"/v1/sessions", map[string]interface{}{
		"initiator":             "A",
		"participants":          []string{"B"},
		"terms":                 map[string]interface{}{"price": 1},
		"negotiation_deadline":  time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		"finalization_deadline": time.Now().Add(2 * time.Hour).UTC().Format(time.RFC3339),
	}, &session)
	base := server.URL + "/v1/sessions/" + session.SessionID

	join := map[string]string{"participant": "B", "idempotency_key": "join-B-1"}
	postJSON(t, client, base+"/join", join, &session)
	postJSON(t, client, base+"/join", join, &session)
	if session.State != "NEGOTIATING" {
		t.Fatalf("expected NEGOTIATING, got %s", session.State)
	}

	var log struct {
		Messages []json.RawMessage `json:"messages"`
	}
	getJSON(t, client, base+"/messages", &log)
	if len(log.Messages) != 2 {
		t.Fatalf("replayed join must not append: got %d messages", len(log.Messages))
	}
}

func postJSON(t *testing.T, client *http.Client, url string, body interface{}, out interface{}) {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		t.Fatalf("post %s status %d: %s", url, resp.StatusCode, string(bodyBytes))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
}

func getJSON(t *testing.T, client *http.Client, url string, out interface{}) {
	t.Helper()
	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		t.Fatalf("get %s status %d: %s", url, resp.StatusCode, string(bodyBytes))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func newTestServer(t *testing.T) (*httptest.Server, func()) {
	t.Helper()
	dsn := testDatabaseURL(t)

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("db pool: %v", err)
	}

	root := repoRoot(t)
	if err := postgres.RunMigrations(ctx, pool, filepath.Join(root, "internal", "migrations")); err != nil {
		pool.Close()
		t.Fatalf("migrations: %v", err)
	}
	if err := resetDatabase(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("reset db: %v", err)
	}

	logger := zerolog.Nop()
	sessionRepo := postgres.NewNegotiationRepository(pool)
	auditRepo := postgres.NewAuditRepository(pool)
	disputeRepo := postgres.NewDisputeRepository(pool)

	sseHub := sse.NewHub()
	auditSvc := appAudit.NewService(auditRepo, sseHub, "it-key", mustDecodeHex(t, auditKeyHex), logger)

	negotiationSvc, err := appNegotiation.NewService(sessionRepo, nil, nil, auditSvc, appNegotiation.Config{}, logger)
	if err != nil {
		pool.Close()
		t.Fatalf("negotiation service: %v", err)
	}
	disputeSvc := appDispute.NewService(disputeRepo, negotiationSvc, arbitration.NewLogEscalator(logger), logger)

	apiServer := httpapi.NewServer(negotiationSvc, disputeSvc, auditSvc, sseHub, nil)
	server := httptest.NewServer(apiServer.Router())

	cleanup := func() {
		server.Close()
		sseHub.Stop()
		pool.Close()
	}
	return server, cleanup
}

func testDatabaseURL(t *testing.T) string {
	t.Helper()
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		return dsn
	}
	t.Skip("TEST_DATABASE_URL not set; skipping integration tests")
	return ""
}

func repoRoot(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	return filepath.Clean(filepath.Join(wd, "..", ".."))
}

func resetDatabase(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		TRUNCATE TABLE
			negotiation_transitions,
			negotiation_disputes,
			negotiation_finalizations,
			negotiation_acceptances,
			negotiation_messages,
			negotiation_sessions
		RESTART IDENTITY CASCADE
	`)
	return err
}

func mustDecodeHex(t *testing.T, value string) []byte {
	t.Helper()
	b, err := hex.DecodeString(value)
	if err != nil {
		t.Fatalf("invalid hex: %v", err)
	}
	return b
}
