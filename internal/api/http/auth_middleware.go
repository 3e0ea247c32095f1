package httpapi

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// requireAuth checks a bearer token against the configured bcrypt hashes.
// An empty token set disables auth entirely, for local development.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.apiTokens) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		token := extractToken(r)
		if token == "" {
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
			return
		}
		for _, hash := range s.apiTokens {
			if bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil {
				next.ServeHTTP(w, r)
				return
			}
		}
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid bearer token")
	})
}

func extractToken(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
	}
	return ""
}
