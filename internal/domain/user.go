package domain

import "time"

// User is an account holder. Plan governs quota (see Plan.MaxConcurrent).
// Users are never hard-deleted; plan expiry is modeled as soft state.
type User struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	PasswordHash  string     `json:"-"`
	Name          string     `json:"name"`
	Plan          Plan       `json:"plan"`
	PlanExpiresAt *time.Time `json:"plan_expires_at,omitempty"`
	IsAdmin       bool       `json:"is_admin"`
	CreatedAt     time.Time  `json:"created_at"`
}

// PlanActive reports whether the user's plan has not expired as of now.
// A nil PlanExpiresAt means the plan never expires.
func (u User) PlanActive(now time.Time) bool {
	if u.PlanExpiresAt == nil {
		return true
	}
	return now.Before(*u.PlanExpiresAt)
}
