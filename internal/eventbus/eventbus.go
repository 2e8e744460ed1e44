// Package eventbus implements the per-user authenticated Event Bus
// (C8): a run-loop broadcaster that routes each InstanceEvent only to
// subscribers whose user_id matches, rejecting cross-user leakage by
// construction (a subscriber channel is bound to exactly one user_id at
// registration time, never exposed by any other user's key).
package eventbus

import (
	"sync"
	"time"

	"github.com/tunnelnet/controlplane/internal/domain"
)

const (
	clientBuffer     = 16
	heartbeatInterval = 30 * time.Second
)

type registration struct {
	userID string
	ch     chan domain.InstanceEvent
}

// Bus is a run-loop broadcaster implementing domain.EventBus.
type Bus struct {
	publish    chan domain.InstanceEvent
	register   chan registration
	unregister chan chan domain.InstanceEvent
	stop       chan struct{}
	stopOnce   sync.Once
	now        domain.Clock
}

// New constructs a Bus. Call Run in its own goroutine before use.
func New() *Bus {
	return &Bus{
		publish:    make(chan domain.InstanceEvent, 64),
		register:   make(chan registration),
		unregister: make(chan chan domain.InstanceEvent),
		stop:       make(chan struct{}),
		now:        time.Now,
	}
}

// Run is the broadcaster's single-threaded event loop. Blocks until
// Stop is called; run it in its own goroutine.
func (b *Bus) Run() {
	clients := make(map[chan domain.InstanceEvent]string) // ch -> userID

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			for ch := range clients {
				close(ch)
			}
			return

		case reg := <-b.register:
			clients[reg.ch] = reg.userID

		case ch := <-b.unregister:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publish:
			for ch, userID := range clients {
				if userID != event.UserID {
					continue
				}
				safeSend(ch, event)
			}

		case <-ticker.C:
			hb := domain.InstanceEvent{Reason: "heartbeat", TS: b.now()}
			for ch, userID := range clients {
				hb.UserID = userID
				safeSend(ch, hb)
			}
		}
	}
}

// Stop shuts the bus down, closing every subscriber channel.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() { close(b.stop) })
}

// Publish implements domain.EventBus.
func (b *Bus) Publish(event domain.InstanceEvent) {
	select {
	case b.publish <- event:
	case <-b.stop:
	}
}

// Subscribe implements domain.EventBus: registers a channel scoped to
// userID and returns a cancel func that unregisters it. The bus never
// accepts a subscription to another user's stream — there is no
// parameter through which a caller could name a different user's
// channel than the one handed back here.
func (b *Bus) Subscribe(userID string) (<-chan domain.InstanceEvent, func()) {
	ch := make(chan domain.InstanceEvent, clientBuffer)
	select {
	case b.register <- registration{userID: userID, ch: ch}:
	case <-b.stop:
		close(ch)
		return ch, func() {}
	}

	cancel := func() {
		select {
		case b.unregister <- ch:
		case <-b.stop:
		}
	}
	return ch, cancel
}

// safeSend drops the event rather than blocking a slow subscriber
// (§4.8 delivery guarantee: best-effort at-most-once).
func safeSend(ch chan domain.InstanceEvent, event domain.InstanceEvent) {
	defer func() { recover() }()
	select {
	case ch <- event:
	default:
	}
}

var _ domain.EventBus = (*Bus)(nil)
