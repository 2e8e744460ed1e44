// Package breaker implements the generic circuit breaker (C10) wrapping
// outbound calls to external collaborators such as the Cache or a relay.
// Adapted from the CLOSED/OPEN/HALF_OPEN pattern the teacher uses for
// node self-healing, with an injectable clock for deterministic tests.
package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tunnelnet/controlplane/internal/domain"
)

// State is the circuit breaker state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config configures a Breaker. Zero-value Config is invalid; use
// DefaultConfig.
type Config struct {
	FailureThreshold int           // consecutive failures to trip CLOSED → OPEN (default 3)
	SuccessThreshold int           // consecutive successes to close HALF_OPEN → CLOSED (default 2)
	Timeout          time.Duration // per-call timeout (default 1s)
	ResetTimeout     time.Duration // time in OPEN before trying HALF_OPEN (default 5s)
}

// DefaultConfig returns the §4.10 defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          time.Second,
		ResetTimeout:     5 * time.Second,
	}
}

// Stats is the point-in-time snapshot exposed by §4.10.
type Stats struct {
	Total          int       `json:"total"`
	Successful     int       `json:"successful"`
	Failed         int       `json:"failed"`
	Rejected       int       `json:"rejected"`
	Timeouts       int       `json:"timeouts"`
	State          string    `json:"state"`
	FailureCount   int       `json:"failure_count"`
	SuccessCount   int       `json:"success_count"`
	SuccessRatePct float64   `json:"success_rate_pct"`
	NextAttemptAt  time.Time `json:"next_attempt_at,omitempty"`
}

// Breaker is a generic, thread-safe circuit breaker. One instance should
// wrap one callee (e.g. one relay, or the shared cache backend).
type Breaker struct {
	mu     sync.Mutex
	name   string
	config Config
	now    domain.Clock

	state     State
	failures  int // consecutive failures in CLOSED, or since trip
	successes int // consecutive successes in HALF_OPEN
	trippedAt time.Time

	total, successful, failed, rejected, timeouts int
}

// New creates a Breaker with the given name and config. A nil clock
// defaults to time.Now.
func New(name string, cfg Config, clock domain.Clock) *Breaker {
	if clock == nil {
		clock = time.Now
	}
	return &Breaker{name: name, config: cfg, now: clock, state: Closed}
}

// Allow reports whether a call should proceed, auto-transitioning
// OPEN → HALF_OPEN once reset_timeout has elapsed.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.total++

	switch b.state {
	case Closed:
		return nil
	case Open:
		if b.now().Sub(b.trippedAt) >= b.config.ResetTimeout {
			b.state = HalfOpen
			b.successes = 0
			return nil
		}
		b.rejected++
		return fmt.Errorf("%s: %w", b.name, domain.ErrBreakerOpen)
	case HalfOpen:
		return nil
	}
	return nil
}

// RecordSuccess records a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.successful++

	switch b.state {
	case HalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.state = Closed
			b.failures = 0
			b.successes = 0
		}
	case Closed:
		b.failures = 0
	}
}

// RecordFailure records a failed call. For a call that timed out, call
// RecordTimeout instead: it counts the failure as well as the timeout.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failed++
	b.recordFailureLocked()
}

// RecordTimeout records a call that exceeded the per-call timeout.
// Timeouts count as failures toward the trip threshold but are tallied
// distinctly in Stats (§4.10).
func (b *Breaker) RecordTimeout() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timeouts++
	b.failed++
	b.recordFailureLocked()
}

func (b *Breaker) recordFailureLocked() {
	switch b.state {
	case Closed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.state = Open
			b.trippedAt = b.now()
		}
	case HalfOpen:
		b.state = Open
		b.trippedAt = b.now()
		b.successes = 0
	}
}

// Call runs fn, enforcing the per-call timeout and updating state.
// Returns domain.ErrBreakerOpen without invoking fn if the breaker is
// open.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	err := fn(cctx)
	switch {
	case err == nil:
		b.RecordSuccess()
		return nil
	case cctx.Err() == context.DeadlineExceeded:
		b.RecordTimeout()
		return err
	default:
		b.RecordFailure()
		return err
	}
}

// State returns the current state, applying the OPEN → HALF_OPEN
// auto-transition.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Breaker) stateLocked() State {
	if b.state == Open && b.now().Sub(b.trippedAt) >= b.config.ResetTimeout {
		b.state = HalfOpen
		b.successes = 0
	}
	return b.state
}

// Snapshot returns the current Stats.
func (b *Breaker) Snapshot() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.stateLocked()
	var rate float64
	if b.total > 0 {
		rate = float64(b.successful) / float64(b.total) * 100
	}

	var next time.Time
	if st == Open || st == HalfOpen {
		next = b.trippedAt.Add(b.config.ResetTimeout)
	}

	return Stats{
		Total:          b.total,
		Successful:     b.successful,
		Failed:         b.failed,
		Rejected:       b.rejected,
		Timeouts:       b.timeouts,
		State:          st.String(),
		FailureCount:   b.failures,
		SuccessCount:   b.successes,
		SuccessRatePct: rate,
		NextAttemptAt:  next,
	}
}

// Reset forces the breaker back to CLOSED, clearing the consecutive
// failure and success counters. The cumulative Stats totals are kept.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.successes = 0
}
