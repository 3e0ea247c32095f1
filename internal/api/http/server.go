package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	appAudit "github.com/accord-hub/accord-hub/internal/application/audit"
	appDispute "github.com/accord-hub/accord-hub/internal/application/dispute"
	appNegotiation "github.com/accord-hub/accord-hub/internal/application/negotiation"
	"github.com/accord-hub/accord-hub/internal/domain/negotiation"
	"github.com/accord-hub/accord-hub/internal/infrastructure/sse"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	negotiationSvc *appNegotiation.Service
	disputeSvc     *appDispute.Service
	auditSvc       *appAudit.Service
	sseHub         *sse.Hub
	// apiTokens maps token names to bcrypt hashes; empty disables auth.
	apiTokens map[string]string
}

func NewServer(
	negotiationSvc *appNegotiation.Service,
	disputeSvc *appDispute.Service,
	auditSvc *appAudit.Service,
	sseHub *sse.Hub,
	apiTokens map[string]string,
) *Server {
	return &Server{
		negotiationSvc: negotiationSvc,
		disputeSvc:     disputeSvc,
		auditSvc:       auditSvc,
		sseHub:         sseHub,
		apiTokens:      apiTokens,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.health)

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Route("/sessions", func(r chi.Router) {
				r.Post("/", s.initiateSession)
				r.Get("/", s.listSessions)
				r.Get("/{sessionId}", s.getSession)
				r.Post("/{sessionId}/join", s.joinSession)
				r.Post("/{sessionId}/offers", s.offerTerms)
				r.Post("/{sessionId}/accept", s.acceptTerms)
				r.Post("/{sessionId}/reject", s.rejectTerms)
				r.Post("/{sessionId}/finalize", s.finalizeSession)
				r.Post("/{sessionId}/withdraw", s.withdrawSession)
				r.Post("/{sessionId}/disputes", s.raiseDispute)
				r.Get("/{sessionId}/disputes", s.getSessionDispute)
				r.Get("/{sessionId}/messages", s.listMessages)
				r.Get("/{sessionId}/commitment", s.getCommitment)
				r.Get("/{sessionId}/consensus", s.getConsensusStatus)
				r.Get("/{sessionId}/verify", s.verifySession)
				r.Get("/{sessionId}/events", s.listTransitionEvents)
			})

			r.Get("/disputes/{disputeId}", s.getDispute)
			r.Get("/events/stream", s.eventStream)
		})
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

// Helpers
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

// respondDomainError maps classified negotiation failures to stable HTTP
// codes so clients can make automated retry decisions.
func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, negotiation.ErrSessionNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", "session not found")
	case errors.Is(err, negotiation.ErrChainCorrupt):
		respondError(w, http.StatusInternalServerError, "LEDGER_CORRUPT", err.Error())
	case negotiation.IsKind(err, negotiation.KindValidation):
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case negotiation.IsKind(err, negotiation.KindState):
		respondError(w, http.StatusConflict, "STATE_ERROR", err.Error())
	case negotiation.IsKind(err, negotiation.KindAuthorization):
		respondError(w, http.StatusForbidden, "AUTHORIZATION_ERROR", err.Error())
	case negotiation.IsKind(err, negotiation.KindTimeout):
		respondError(w, http.StatusGone, "TIMEOUT_ERROR", err.Error())
	case negotiation.IsKind(err, negotiation.KindConflict):
		respondError(w, http.StatusConflict, "CONFLICT_RETRY", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

func parseUUIDParam(r *http.Request, key string) (uuid.UUID, error) {
	val := chi.URLParam(r, key)
	return uuid.Parse(val)
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func parseLimitOffset(r *http.Request, defaultLimit, maxLimit int) (int, int) {
	limit := defaultLimit
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil {
			limit = l
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if o, err := strconv.Atoi(v); err == nil {
			offset = o
		}
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
