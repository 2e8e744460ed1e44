package domain

import "time"

// TunnelToken is an opaque bearer credential consumed by relays to
// authorize inbound client tunnels. At most one may be active per
// instance (I1); the broker enforces this by replacing atomically.
type TunnelToken struct {
	Token     string    `json:"token"`
	Instance  string    `json:"instance"`
	User      string    `json:"user"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the token is past its expiry as of now.
func (t TunnelToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// ValidationVerdict is the relay-facing response to /internal/validate-key.
type ValidationVerdict struct {
	Valid          bool   `json:"valid"`
	UsageAllowed   bool   `json:"usage_allowed"`
	UserID         string `json:"user_id,omitempty"`
	PlanType       Plan   `json:"plan_type,omitempty"`
	MaxConcurrent  int    `json:"max_concurrent,omitempty"`
	MaxBandwidthGB int     `json:"max_bandwidth_gb,omitempty"`
	InstanceID     string `json:"instance_id,omitempty"`
	Message        string `json:"message,omitempty"`
}
