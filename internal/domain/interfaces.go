package domain

import (
	"context"
	"time"
)

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// Store is the durable, transactional storage boundary (C1). Each method
// either succeeds atomically or fails without partial effect.
type Store interface {
	CreateUserAndAssignTrial(ctx context.Context, email, passwordHash, name string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	UpdatePlan(ctx context.Context, userID string, plan Plan, expiresAt *time.Time) error

	CreateInstance(ctx context.Context, inst Instance) (*Instance, error)
	GetInstance(ctx context.Context, id string) (*Instance, error)
	ListInstancesByUser(ctx context.Context, userID string) ([]Instance, error)
	ListConnectedInstances(ctx context.Context) ([]Instance, error)
	ListInstancesByStatus(ctx context.Context, status Status) ([]Instance, error)
	UpdateInstance(ctx context.Context, id string, patch InstancePatch) (*Instance, error)
	DeleteInstance(ctx context.Context, id string) error

	SaveToken(ctx context.Context, t TunnelToken) error
	GetToken(ctx context.Context, token string) (*TunnelToken, error)
	DeleteToken(ctx context.Context, token string) error
	DeleteUserTokens(ctx context.Context, userID string) error
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error)

	SaveRefreshToken(ctx context.Context, token, userID string, expiresAt time.Time) error
	GetRefreshToken(ctx context.Context, token string) (userID string, expiresAt time.Time, err error)
	DeleteRefreshToken(ctx context.Context, token string) error
	DeleteUserRefreshTokens(ctx context.Context, userID string) error

	SaveHealthSample(ctx context.Context, s HealthSample) error
	GetLatestHealthSampleByInstance(ctx context.Context, instanceID string) (*HealthSample, error)

	AppendStatusHistory(ctx context.Context, instanceID string, status Status, reason string) error
	ListStatusHistory(ctx context.Context, instanceID string, limit int) ([]StatusHistoryEntry, error)

	RelayUpsert(ctx context.Context, r Relay) error
	RelaySetStatus(ctx context.Context, id string, status RelayStatus) error
	ListRelays(ctx context.Context) ([]Relay, error)
	CountActiveTunnels(ctx context.Context) (int, error)
	CountUserActiveTunnels(ctx context.Context, userID string) (int, error)

	// Transaction executes fn with a store bound to a single transaction;
	// commits on nil return, rolls back otherwise.
	Transaction(ctx context.Context, fn func(tx Store) error) error
}

// Cache is the shared ephemeral key/value boundary (C2): per-key TTL,
// heartbeat timestamps and relay load snapshots. Implementations must
// degrade to a process-local fallback on error without surfacing it.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
}

// Clock abstracts time for deterministic tests of the breaker and sweeper.
type Clock func() time.Time

// EventBus is the per-user authenticated push boundary (C8).
type EventBus interface {
	Publish(event InstanceEvent)
	Subscribe(userID string) (ch <-chan InstanceEvent, cancel func())
}

// InstanceEvent is published by the FSM on every status transition.
type InstanceEvent struct {
	UserID     string    `json:"user_id"`
	InstanceID string    `json:"instance_id"`
	Status     Status    `json:"status"`
	Reason     string    `json:"reason"`
	TS         time.Time `json:"ts"`
}
