package httpapi

import (
	"encoding/json"
	"net/http"

	appDispute "github.com/accord-hub/accord-hub/internal/application/dispute"
)

type disputeRequest struct {
	Participant    string          `json:"participant"`
	BindingHash    string          `json:"binding_hash"`
	Evidence       json.RawMessage `json:"evidence"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

func (s *Server) raiseDispute(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "sessionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid sessionId")
		return
	}
	var req disputeRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	d, err := s.disputeSvc.Raise(r.Context(), appDispute.RaiseInput{
		SessionID:      id,
		Participant:    req.Participant,
		BindingHash:    req.BindingHash,
		Evidence:       req.Evidence,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, d)
}

func (s *Server) getSessionDispute(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "sessionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid sessionId")
		return
	}
	d, err := s.disputeSvc.GetBySession(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if d == nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "no dispute for session")
		return
	}
	respondJSON(w, http.StatusOK, d)
}

func (s *Server) getDispute(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "disputeId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid disputeId")
		return
	}
	d, err := s.disputeSvc.Get(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if d == nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "dispute not found")
		return
	}
	respondJSON(w, http.StatusOK, d)
}
