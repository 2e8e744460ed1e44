package heartbeat

import (
	"context"
	"time"

	"github.com/tunnelnet/controlplane/internal/domain"
	"github.com/tunnelnet/controlplane/internal/fsm"
	"github.com/tunnelnet/controlplane/internal/infra/metrics"
)

// heartbeatCacheKey must match fsm's key derivation so the FSM and the
// handler agree on a single liveness entry per instance.
func heartbeatCacheKey(instanceID string) string { return "hb:" + instanceID }

// Engine wires the classifier to the Store, Cache, and FSM.
type Engine struct {
	store  domain.Store
	cache  domain.Cache
	fsm    *fsm.FSM
	now    domain.Clock
	params Params
}

// New constructs a heartbeat Engine.
func New(store domain.Store, cache domain.Cache, f *fsm.FSM, params Params) *Engine {
	return &Engine{store: store, cache: cache, fsm: f, now: time.Now, params: params}
}

// Handle implements the heartbeat handler (§4.3): verify ownership,
// touch the liveness cache, persist the optional sample, classify, and —
// only if the status changed — drive the FSM (which itself performs the
// instance-row update, status-history append, and publish in one
// transaction, per I6).
func (e *Engine) Handle(ctx context.Context, instanceID, callerUserID string, sample *domain.HealthSample) (domain.Classification, error) {
	start := e.now()
	defer func() { metrics.HeartbeatLatency.Observe(e.now().Sub(start).Seconds()) }()

	inst, err := e.store.GetInstance(ctx, instanceID)
	if err != nil {
		return domain.Classification{}, err
	}
	if inst.Owner != callerUserID {
		return domain.Classification{}, domain.ErrInstanceNotFound
	}

	now := e.now()
	_ = e.cache.Set(ctx, heartbeatCacheKey(instanceID), []byte(now.Format(time.RFC3339)), 2*e.params.HeartbeatTimeout)

	if sample != nil {
		sample.Instance = instanceID
		sample.TS = now
		if err := e.store.SaveHealthSample(ctx, *sample); err != nil {
			return domain.Classification{}, err
		}
	}

	classification := Classify(*inst, sample, &now, now, e.params)

	if classification.Status != inst.Status {
		metrics.StatusTransitions.WithLabelValues(string(inst.Status), string(classification.Status)).Inc()
		if _, err := e.fsm.ApplyClassification(ctx, instanceID, classification); err != nil {
			return domain.Classification{}, err
		}
	}

	return classification, nil
}
