package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	appNegotiation "github.com/accord-hub/accord-hub/internal/application/negotiation"
	"github.com/accord-hub/accord-hub/internal/domain/negotiation"
	"github.com/accord-hub/accord-hub/internal/infrastructure/sse"
)

type initiateRequest struct {
	Initiator            string          `json:"initiator"`
	Participants         []string        `json:"participants"`
	Terms                json.RawMessage `json:"terms"`
	QuorumCount          int             `json:"quorum_count,omitempty"`
	NegotiationDeadline  time.Time       `json:"negotiation_deadline"`
	FinalizationDeadline time.Time       `json:"finalization_deadline"`
	TermsPolicy          string          `json:"terms_policy,omitempty"`
	IdempotencyKey       string          `json:"idempotency_key,omitempty"`
}

type participantRequest struct {
	Participant    string `json:"participant"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type offerRequest struct {
	Participant    string          `json:"participant"`
	Terms          json.RawMessage `json:"terms"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

type versionedRequest struct {
	Participant    string `json:"participant"`
	TermsVersion   int    `json:"terms_version"`
	Reason         string `json:"reason,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type withdrawRequest struct {
	Participant    string `json:"participant"`
	Reason         string `json:"reason,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

func (s *Server) initiateSession(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	session, err := s.negotiationSvc.Initiate(r.Context(), appNegotiation.InitiateInput{
		Initiator:            req.Initiator,
		Participants:         req.Participants,
		Terms:                req.Terms,
		QuorumCount:          req.QuorumCount,
		NegotiationDeadline:  req.NegotiationDeadline,
		FinalizationDeadline: req.FinalizationDeadline,
		TermsPolicy:          req.TermsPolicy,
		IdempotencyKey:       req.IdempotencyKey,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, session)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	limit, offset := parseLimitOffset(r, 100, 200)
	state := negotiation.State(r.URL.Query().Get("state"))
	sessions, err := s.negotiationSvc.ListSessions(r.Context(), state, limit, offset)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "sessionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid sessionId")
		return
	}
	session, err := s.negotiationSvc.GetSession(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

func (s *Server) joinSession(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "sessionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid sessionId")
		return
	}
	var req participantRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	session, err := s.negotiationSvc.Join(r.Context(), appNegotiation.ActionInput{
		SessionID:      id,
		Participant:    req.Participant,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

func (s *Server) offerTerms(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "sessionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid sessionId")
		return
	}
	var req offerRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	session, err := s.negotiationSvc.Offer(r.Context(), appNegotiation.OfferInput{
		ActionInput: appNegotiation.ActionInput{
			SessionID:      id,
			Participant:    req.Participant,
			IdempotencyKey: req.IdempotencyKey,
		},
		Terms: req.Terms,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

func (s *Server) acceptTerms(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "sessionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid sessionId")
		return
	}
	var req versionedRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	session, err := s.negotiationSvc.Accept(r.Context(), appNegotiation.AcceptInput{
		ActionInput: appNegotiation.ActionInput{
			SessionID:      id,
			Participant:    req.Participant,
			IdempotencyKey: req.IdempotencyKey,
		},
		TermsVersion: req.TermsVersion,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

func (s *Server) rejectTerms(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "sessionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid sessionId")
		return
	}
	var req versionedRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	session, err := s.negotiationSvc.Reject(r.Context(), appNegotiation.RejectInput{
		ActionInput: appNegotiation.ActionInput{
			SessionID:      id,
			Participant:    req.Participant,
			IdempotencyKey: req.IdempotencyKey,
		},
		TermsVersion: req.TermsVersion,
		Reason:       req.Reason,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

func (s *Server) finalizeSession(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "sessionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid sessionId")
		return
	}
	var req versionedRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	session, err := s.negotiationSvc.Finalize(r.Context(), appNegotiation.FinalizeInput{
		ActionInput: appNegotiation.ActionInput{
			SessionID:      id,
			Participant:    req.Participant,
			IdempotencyKey: req.IdempotencyKey,
		},
		TermsVersion: req.TermsVersion,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

func (s *Server) withdrawSession(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "sessionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid sessionId")
		return
	}
	var req withdrawRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	session, err := s.negotiationSvc.Withdraw(r.Context(), appNegotiation.WithdrawInput{
		ActionInput: appNegotiation.ActionInput{
			SessionID:      id,
			Participant:    req.Participant,
			IdempotencyKey: req.IdempotencyKey,
		},
		Reason: req.Reason,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "sessionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid sessionId")
		return
	}
	messages, err := s.negotiationSvc.ListMessages(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"session_id": id, "messages": messages})
}

func (s *Server) getCommitment(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "sessionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid sessionId")
		return
	}
	commitment, err := s.negotiationSvc.GetCommitment(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, commitment)
}

func (s *Server) getConsensusStatus(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "sessionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid sessionId")
		return
	}
	status, err := s.negotiationSvc.ConsensusStatus(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) verifySession(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "sessionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid sessionId")
		return
	}
	result, err := s.negotiationSvc.Verify(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) listTransitionEvents(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "sessionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid sessionId")
		return
	}
	limit, offset := parseLimitOffset(r, 50, 200)
	events, err := s.auditSvc.History(r.Context(), id, limit, offset)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"session_id": id, "events": events})
}

func (s *Server) eventStream(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}
	var sessionFilter *uuid.UUID
	if v := r.URL.Query().Get("session_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid session_id")
			return
		}
		sessionFilter = &id
	}

	client := sse.NewClient(clientID, sessionFilter, 16)
	s.sseHub.Register(client)
	defer s.sseHub.Unregister(clientID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher, ok := w.(http.Flusher)
	if !ok {
		return
	}
	// Send an initial comment to flush headers and keep the connection alive.
	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case event := <-client.MessageChan:
			if event == nil {
				return
			}
			_, _ = w.Write([]byte("event: " + event.Type + "\ndata: "))
			_, _ = w.Write(event.Data)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}
