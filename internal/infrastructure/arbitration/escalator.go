package arbitration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// HTTPEscalator hands disputes to an external arbitration service over a
// single POST call.
type HTTPEscalator struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

func NewHTTPEscalator(url string, timeout time.Duration, logger zerolog.Logger) *HTTPEscalator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPEscalator{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("service", "arbitration").Logger(),
	}
}

type escalateRequest struct {
	SessionID   uuid.UUID       `json:"session_id"`
	BindingHash string          `json:"binding_hash"`
	Evidence    json.RawMessage `json:"evidence"`
}

type escalateResponse struct {
	Reference string `json:"reference"`
}

func (e *HTTPEscalator) Escalate(ctx context.Context, sessionID uuid.UUID, bindingHash string, evidence json.RawMessage) (string, error) {
	body, err := json.Marshal(escalateRequest{
		SessionID:   sessionID,
		BindingHash: bindingHash,
		Evidence:    evidence,
	})
	if err != nil {
		return "", fmt.Errorf("encode escalation request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build escalation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("escalation call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("arbitration service returned %d", resp.StatusCode)
	}
	var out escalateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode escalation response: %w", err)
	}
	if out.Reference == "" {
		return "", fmt.Errorf("arbitration service returned no reference")
	}
	return out.Reference, nil
}

// LogEscalator is the fallback when no arbitration endpoint is configured:
// it records the handoff locally and fabricates a reference so the dispute
// flow stays exercisable in development.
type LogEscalator struct {
	logger zerolog.Logger
}

func NewLogEscalator(logger zerolog.Logger) *LogEscalator {
	return &LogEscalator{logger: logger.With().Str("service", "arbitration").Logger()}
}

func (e *LogEscalator) Escalate(ctx context.Context, sessionID uuid.UUID, bindingHash string, evidence json.RawMessage) (string, error) {
	ref := "local-" + uuid.NewString()
	e.logger.Warn().
		Str("session_id", sessionID.String()).
		Str("binding_hash", bindingHash).
		Str("reference", ref).
		Msg("no arbitration endpoint configured, dispute recorded locally")
	return ref, nil
}
