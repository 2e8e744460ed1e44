package api

import (
	"context"
	"net/http"
	"strings"
)

type ctxKey int

const userIDKey ctxKey = iota

// requireUser validates the Authorization: Bearer <jwt> header and
// stashes the caller's user id in the request context.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			writeErrorKind(w, r, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}

		claims, err := s.auth.ParseAccessToken(strings.TrimPrefix(header, prefix))
		if err != nil {
			writeErrorKind(w, r, http.StatusUnauthorized, "invalid_token", "invalid or expired access token")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userIDFrom(r *http.Request) string {
	v, _ := r.Context().Value(userIDKey).(string)
	return v
}

// requireInternalKey validates the relay-facing X-Internal-Api-Key header.
func (s *Server) requireInternalKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.internalAPIKey == "" || r.Header.Get("X-Internal-Api-Key") != s.internalAPIKey {
			writeErrorKind(w, r, http.StatusUnauthorized, "unauthorized", "missing or invalid internal api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}
