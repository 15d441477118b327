package server

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// requireKey guards the API with a bearer key checked against the
// configured bcrypt hash. With no hash configured the middleware passes
// everything through (local development).
func (s *Server) requireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKeyHash == "" {
			next.ServeHTTP(w, r)
			return
		}

		key, ok := bearerToken(r)
		if !ok || bcrypt.CompareHashAndPassword([]byte(s.apiKeyHash), []byte(key)) != nil {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid or missing API key"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the token from an "Authorization: Bearer ..."
// header.
func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	return strings.TrimPrefix(auth, prefix), true
}
