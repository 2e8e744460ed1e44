package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/tunnelnet/controlplane/internal/domain"
)

// errorEnvelope is the stable error body shape (§6, §7).
type errorEnvelope struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// kindFor maps a domain/service error to its snake_case kind and HTTP
// status (§7 taxonomy). Unrecognized errors map to internal_error/500.
func kindFor(err error) (kind string, status int) {
	switch {
	case errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrInstanceNotFound),
		errors.Is(err, domain.ErrTokenNotFound),
		errors.Is(err, domain.ErrRelayNotFound):
		return "not_found", http.StatusNotFound

	case errors.Is(err, domain.ErrUserExists):
		return "conflict", http.StatusConflict

	case errors.Is(err, domain.ErrInvalidCredentials):
		return "invalid_credentials", http.StatusUnauthorized

	case errors.Is(err, domain.ErrInvalidToken), errors.Is(err, domain.ErrTokenInvalid), errors.Is(err, domain.ErrTokenExpired):
		return "invalid_token", http.StatusUnauthorized

	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrNotOwner):
		return "forbidden", http.StatusForbidden

	case errors.Is(err, domain.ErrQuotaExceeded):
		return "quota_exceeded", http.StatusTooManyRequests

	case errors.Is(err, domain.ErrCapacityExceeded):
		return "capacity_exceeded", http.StatusServiceUnavailable

	case errors.Is(err, domain.ErrBreakerOpen), errors.Is(err, domain.ErrNoRelaySelectable), errors.Is(err, domain.ErrConnectTimeout):
		return "service_unavailable", http.StatusServiceUnavailable

	case errors.Is(err, domain.ErrInvalidTransition):
		return "internal_error", http.StatusInternalServerError

	case errors.Is(err, domain.ErrUnavailable):
		return "service_unavailable", http.StatusServiceUnavailable

	default:
		return "internal_error", http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind, status := kindFor(err)
	writeJSON(w, status, errorEnvelope{
		Error:     kind,
		Message:   err.Error(),
		RequestID: middleware.GetReqID(r.Context()),
		Timestamp: nowUnix(),
	})
}

func writeErrorKind(w http.ResponseWriter, r *http.Request, status int, kind, message string) {
	writeJSON(w, status, errorEnvelope{
		Error:     kind,
		Message:   message,
		RequestID: middleware.GetReqID(r.Context()),
		Timestamp: nowUnix(),
	})
}
