// Package fsm owns the per-instance state machine (C4) — the sole
// gatekeeper for all status mutations. Every other component asks the
// FSM to transition an instance; nothing else writes instance status
// directly (§9 Design Notes — "model C4 as the sole publisher").
package fsm

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/tunnelnet/controlplane/internal/domain"
	"github.com/tunnelnet/controlplane/internal/relay"
	"github.com/tunnelnet/controlplane/internal/tokenbroker"
)

// HeartbeatCacheTTLMultiple is the multiplier applied to
// HEARTBEAT_TIMEOUT for the liveness cache entry's TTL (§4.3 step 2).
const HeartbeatCacheTTLMultiple = 2

// FSM is the gatekeeper for instance status transitions.
type FSM struct {
	store  domain.Store
	relays *relay.Registry
	broker *tokenbroker.Broker
	cache  domain.Cache
	bus    domain.EventBus
	now    domain.Clock

	heartbeatTimeout time.Duration
}

// New constructs an FSM.
func New(store domain.Store, relays *relay.Registry, broker *tokenbroker.Broker, cache domain.Cache, bus domain.EventBus, heartbeatTimeout time.Duration) *FSM {
	return &FSM{
		store:            store,
		relays:           relays,
		broker:           broker,
		cache:            cache,
		bus:              bus,
		now:              time.Now,
		heartbeatTimeout: heartbeatTimeout,
	}
}

func heartbeatCacheKey(instanceID string) string { return "hb:" + instanceID }

// connectableFrom lists the statuses ∅ → starting may legally source
// from (§4.4: inactive/error/offline → starting).
func connectableFrom(s domain.Status) bool {
	switch s {
	case domain.StatusInactive, domain.StatusError, domain.StatusOffline:
		return true
	}
	return false
}

// tunnelConnectedSources lists statuses for which a relay
// tunnel-connected callback is legal, including the idempotent re-call
// (§4.4: starting → active is the real transition; active/online/idle/
// degraded → active is an idempotent no-op re-callback).
func tunnelConnectedSources(s domain.Status) bool {
	switch s {
	case domain.StatusStarting, domain.StatusActive, domain.StatusOnline, domain.StatusIdle, domain.StatusDegraded:
		return true
	}
	return false
}

// CreateInstance creates a fresh instance in the inactive state. The
// caller (HTTP edge / admission) must have already passed Capacity
// Admission (§4.4: ∅ → inactive | user creates instance | Capacity
// Admission passes).
func (f *FSM) CreateInstance(ctx context.Context, ownerID, name string, localPort int, region domain.Region, preferredHost string) (*domain.Instance, error) {
	inst := domain.Instance{
		Owner:         ownerID,
		Name:          name,
		LocalPort:     localPort,
		Region:        region,
		PreferredHost: preferredHost,
		Status:        domain.StatusInactive,
		StatusReason:  "instance created",
	}

	created, err := f.store.CreateInstance(ctx, inst)
	if err != nil {
		return nil, err
	}
	if err := f.store.AppendStatusHistory(ctx, created.ID, domain.StatusInactive, created.StatusReason); err != nil {
		return nil, err
	}
	f.publish(created.Owner, created.ID, created.Status, created.StatusReason)
	return created, nil
}

// Connect drives inactive/error/offline → starting, selecting a relay
// and minting a tunnel token atomically (§4.4, §4.5).
func (f *FSM) Connect(ctx context.Context, instanceID, callerUserID string) (*domain.Instance, *domain.TunnelToken, *domain.Relay, error) {
	var result *domain.Instance
	var tok *domain.TunnelToken
	var selected *domain.Relay

	err := f.store.Transaction(ctx, func(tx domain.Store) error {
		inst, err := tx.GetInstance(ctx, instanceID)
		if err != nil {
			return err
		}
		if inst.Owner != callerUserID {
			// Avoid an existence oracle across users (scenario 6): report
			// the same not-found a nonexistent instance would produce.
			return domain.ErrInstanceNotFound
		}
		if !connectableFrom(inst.Status) {
			return fmt.Errorf("connect from %s: %w", inst.Status, domain.ErrInvalidTransition)
		}

		rl := f.relays.Select()
		if rl == nil {
			return domain.ErrNoRelaySelectable
		}
		selected = rl

		relayID := rl.ID
		reason := "relay selected, awaiting tunnel-connected callback"
		patch := domain.InstancePatch{
			Status:        statusp(domain.StatusStarting),
			StatusReason:  &reason,
			AssignedRelay: &relayID,
		}
		if _, err := tx.UpdateInstance(ctx, instanceID, patch); err != nil {
			return err
		}
		if err := tx.AppendStatusHistory(ctx, instanceID, domain.StatusStarting, reason); err != nil {
			return err
		}

		t, err := f.broker.ConnectTx(ctx, tx, *inst, callerUserID)
		if err != nil {
			return err
		}
		tok = t

		result, err = tx.GetInstance(ctx, instanceID)
		return err
	})
	if err != nil {
		return nil, nil, nil, err
	}

	f.publish(result.Owner, result.ID, result.Status, result.StatusReason)
	return result, tok, selected, nil
}

// TunnelConnected drives starting → active (or an idempotent re-call
// from active/online/idle/degraded → active). publicURL, if empty, is
// derived from the assigned relay's host and the given remote port.
func (f *FSM) TunnelConnected(ctx context.Context, instanceID string, remotePort int, publicURL string) (*domain.Instance, error) {
	var result *domain.Instance

	err := f.store.Transaction(ctx, func(tx domain.Store) error {
		inst, err := tx.GetInstance(ctx, instanceID)
		if err != nil {
			return err
		}
		if !tunnelConnectedSources(inst.Status) {
			log.Printf("[fsm] invariant violation: tunnel-connected callback on instance %s in status %s", instanceID, inst.Status)
			return fmt.Errorf("tunnel-connected from %s: %w", inst.Status, domain.ErrInvalidTransition)
		}
		if inst.Status == domain.StatusStarting && inst.CurrentToken == "" {
			return fmt.Errorf("tunnel-connected with no current token: %w", domain.ErrConnectTimeout)
		}

		wasAlreadyActive := inst.Status != domain.StatusStarting

		if publicURL == "" {
			host := inst.AssignedRelay
			if rl, ok := f.relays.Get(inst.AssignedRelay); ok && rl.Host != "" {
				host = rl.Host
			}
			publicURL = fmt.Sprintf("%s:%d", host, remotePort)
		}
		patch := domain.ConnectedPatch(remotePort, publicURL)
		if _, err := tx.UpdateInstance(ctx, instanceID, patch); err != nil {
			return err
		}
		if !wasAlreadyActive {
			if err := tx.AppendStatusHistory(ctx, instanceID, domain.StatusActive, *patch.StatusReason); err != nil {
				return err
			}
		}

		result, err = tx.GetInstance(ctx, instanceID)
		return err
	})
	if err != nil {
		return nil, err
	}

	_ = f.cache.Set(ctx, heartbeatCacheKey(instanceID), []byte(f.now().Format(time.RFC3339)), HeartbeatCacheTTLMultiple*f.heartbeatTimeout)
	f.publish(result.Owner, result.ID, result.Status, result.StatusReason)
	return result, nil
}

// ConnectTimeout drives starting → error when a relay never calls back
// with tunnel-connected before the sweeper's connect-timeout threshold
// elapses (§4.4's "starting → error | connect preconditions fail or
// timeout" edge). A no-op if the instance has already left starting by
// the time this runs, so a slow sweeper tick racing a real
// tunnel-connected callback can't clobber it.
func (f *FSM) ConnectTimeout(ctx context.Context, instanceID, reason string) (*domain.Instance, error) {
	var result *domain.Instance
	var revokedToken string
	var changed bool

	err := f.store.Transaction(ctx, func(tx domain.Store) error {
		inst, err := tx.GetInstance(ctx, instanceID)
		if err != nil {
			return err
		}
		changed = inst.Status == domain.StatusStarting
		if !changed {
			result = inst
			return nil
		}
		revokedToken = inst.CurrentToken

		patch := domain.ConnectTimeoutPatch(reason)
		if _, err := tx.UpdateInstance(ctx, instanceID, patch); err != nil {
			return err
		}
		if err := tx.AppendStatusHistory(ctx, instanceID, domain.StatusError, reason); err != nil {
			return err
		}
		if revokedToken != "" {
			if err := tx.DeleteToken(ctx, revokedToken); err != nil {
				return err
			}
		}
		result, err = tx.GetInstance(ctx, instanceID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if changed {
		_ = f.cache.Delete(ctx, heartbeatCacheKey(instanceID))
		f.publish(result.Owner, result.ID, result.Status, result.StatusReason)
	}
	return result, nil
}

// TunnelDisconnected drives any status → offline on a relay callback,
// revoking the token and clearing the heartbeat cache entry.
func (f *FSM) TunnelDisconnected(ctx context.Context, instanceID, reason string) (*domain.Instance, error) {
	return f.demoteToOffline(ctx, instanceID, reason)
}

// ApplyClassification drives any status → {online, idle, degraded,
// offline} per the classifier's verdict (§4.3). If the status didn't
// change, only the status reason is rewritten: no history entry is
// appended and no event is published (I6).
func (f *FSM) ApplyClassification(ctx context.Context, instanceID string, c domain.Classification) (*domain.Instance, error) {
	if c.Status == domain.StatusOffline {
		return f.demoteToOffline(ctx, instanceID, c.Reason)
	}

	var result *domain.Instance
	var changed bool
	err := f.store.Transaction(ctx, func(tx domain.Store) error {
		inst, err := tx.GetInstance(ctx, instanceID)
		if err != nil {
			return err
		}
		changed = inst.Status != c.Status

		patch := domain.InstancePatch{Status: statusp(c.Status), StatusReason: &c.Reason}
		if _, err := tx.UpdateInstance(ctx, instanceID, patch); err != nil {
			return err
		}
		if changed {
			if err := tx.AppendStatusHistory(ctx, instanceID, c.Status, c.Reason); err != nil {
				return err
			}
		}
		result, err = tx.GetInstance(ctx, instanceID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if changed {
		f.publish(result.Owner, result.ID, result.Status, result.StatusReason)
	}
	return result, nil
}

// demoteToOffline is the shared path for any → offline, whether driven
// by a relay disconnect callback or the sweeper's heartbeat-timeout
// demoter (§4.4, §4.9). Revokes the token and clears the heartbeat
// cache entry as part of the terminal-disconnect contract.
func (f *FSM) demoteToOffline(ctx context.Context, instanceID, reason string) (*domain.Instance, error) {
	var result *domain.Instance
	var revokedToken string
	var changed bool

	err := f.store.Transaction(ctx, func(tx domain.Store) error {
		inst, err := tx.GetInstance(ctx, instanceID)
		if err != nil {
			return err
		}
		changed = inst.Status != domain.StatusOffline
		revokedToken = inst.CurrentToken

		patch := domain.DisconnectedPatch(reason)
		if _, err := tx.UpdateInstance(ctx, instanceID, patch); err != nil {
			return err
		}
		if changed {
			if err := tx.AppendStatusHistory(ctx, instanceID, domain.StatusOffline, reason); err != nil {
				return err
			}
		}
		if revokedToken != "" {
			if err := tx.DeleteToken(ctx, revokedToken); err != nil {
				return err
			}
		}
		result, err = tx.GetInstance(ctx, instanceID)
		return err
	})
	if err != nil {
		return nil, err
	}

	_ = f.cache.Delete(ctx, heartbeatCacheKey(instanceID))
	if changed {
		f.publish(result.Owner, result.ID, result.Status, result.StatusReason)
	}
	return result, nil
}

// DeleteInstance drives any → ∅ (user delete): revokes the token,
// clears the heartbeat cache entry, and removes the instance row.
func (f *FSM) DeleteInstance(ctx context.Context, instanceID, callerUserID string) error {
	inst, err := f.store.GetInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	if inst.Owner != callerUserID {
		return domain.ErrInstanceNotFound
	}

	if inst.CurrentToken != "" {
		if err := f.broker.Revoke(ctx, inst.CurrentToken); err != nil {
			return err
		}
	}
	_ = f.cache.Delete(ctx, heartbeatCacheKey(instanceID))
	return f.store.DeleteInstance(ctx, instanceID)
}

func (f *FSM) publish(userID, instanceID string, status domain.Status, reason string) {
	if f.bus == nil {
		return
	}
	f.bus.Publish(domain.InstanceEvent{
		UserID:     userID,
		InstanceID: instanceID,
		Status:     status,
		Reason:     reason,
		TS:         f.now(),
	})
}

func statusp(s domain.Status) *domain.Status { return &s }
