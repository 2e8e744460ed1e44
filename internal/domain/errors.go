package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency.

var (
	// Lookup errors
	ErrUserNotFound     = errors.New("user not found")
	ErrInstanceNotFound = errors.New("instance not found")
	ErrTokenNotFound    = errors.New("tunnel token not found")
	ErrRelayNotFound    = errors.New("relay not found")

	// Conflict errors
	ErrUserExists = errors.New("user already exists")

	// Infra errors (surfaced by the Store)
	ErrUnavailable = errors.New("store unavailable")

	// FSM errors
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrNoRelaySelectable = errors.New("no relay available for selection")
	ErrConnectTimeout    = errors.New("connect preconditions failed or timed out")

	// Token broker errors
	ErrTokenExpired     = errors.New("tunnel token expired")
	ErrTokenInvalid     = errors.New("tunnel token invalid")
	ErrPlanExpired      = errors.New("user plan has expired")

	// Auth / ownership errors
	ErrNotOwner           = errors.New("caller does not own this instance")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid or expired token")

	// Admission errors
	ErrQuotaExceeded    = errors.New("user quota exceeded")
	ErrCapacityExceeded = errors.New("system capacity exceeded")

	// Circuit breaker errors
	ErrBreakerOpen = errors.New("circuit breaker is open")
)
