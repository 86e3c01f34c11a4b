// Package throttle gates how often a new caption round is started.
//
// Hosts emit scroll signals far more often than a matching round is useful:
// every caption re-render fires one. A [Throttle] counts those signals and
// hands out a [Round] token once the count reaches the configured threshold,
// but only while no other round is in flight. The caption/tree snapshot is a
// single buffer shared by all rounds, so at most one round may run at a time.
//
// The throttle is a two-state machine:
//
//	Idle --(count >= threshold)--> AwaitingSnapshot --(Round.Done)--> Idle
//
// Every signal increments the counter, including signals that arrive while a
// round is in flight; the threshold is only checked while Idle. A signal that
// arrives while AwaitingSnapshot therefore counts toward the next round.
//
// All types are safe for concurrent use.
package throttle

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultThreshold is the number of scroll signals per round used when the
// configured threshold is not positive.
const DefaultThreshold = 2

// State is the current mode of a [Throttle].
type State int

const (
	// StateIdle means no round is in flight.
	StateIdle State = iota

	// StateAwaitingSnapshot means a round has been started and has not yet
	// reported completion.
	StateAwaitingSnapshot
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingSnapshot:
		return "awaiting-snapshot"
	default:
		return "unknown"
	}
}

// Throttle implements the scroll-signal debounce.
type Throttle struct {
	mu        sync.Mutex
	threshold int
	count     int
	state     State
	seq       uint64
	current   *Round
	now       func() time.Time
}

// Option is a functional option for configuring a [Throttle].
type Option func(*Throttle)

// WithClock replaces time.Now. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Throttle) {
		if now != nil {
			t.now = now
		}
	}
}

// New creates an idle [Throttle] that starts a round every threshold signals.
// A threshold below 1 is replaced with [DefaultThreshold].
func New(threshold int, opts ...Option) *Throttle {
	t := &Throttle{
		threshold: normalise(threshold),
		state:     StateIdle,
		now:       time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Signal records one scroll signal. When the counter has reached the
// threshold and no round is in flight, the counter resets to zero, the
// throttle moves to [StateAwaitingSnapshot], and a new [Round] is returned
// with ok set. The caller must call [Round.Done] when the round ends,
// whatever its outcome; deferring it is the intended pattern.
func (t *Throttle) Signal() (r *Round, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.count++
	if t.state != StateIdle || t.count < t.threshold {
		return nil, false
	}

	t.count = 0
	t.state = StateAwaitingSnapshot
	t.seq++
	r = &Round{owner: t, id: t.seq, started: t.now()}
	t.current = r
	slog.Debug("throttle: round started", "round", r.id)
	return r, true
}

// State returns the current [State].
func (t *Throttle) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Pending returns the number of signals counted toward the next round.
func (t *Throttle) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Threshold returns the current threshold.
func (t *Throttle) Threshold() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.threshold
}

// SetThreshold changes the threshold for subsequent signals. Signals already
// counted are kept. A threshold below 1 is replaced with [DefaultThreshold].
func (t *Throttle) SetThreshold(threshold int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.threshold = normalise(threshold)
}

// InFlight returns the round currently in flight and how long it has been
// running. ok is false when the throttle is idle.
func (t *Throttle) InFlight() (id uint64, age time.Duration, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return 0, 0, false
	}
	return t.current.id, t.now().Sub(t.current.started), true
}

// finish moves the throttle back to idle if r is the round in flight.
func (t *Throttle) finish(r *Round) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current != r {
		return
	}
	t.current = nil
	t.state = StateIdle
	slog.Debug("throttle: round finished", "round", r.id, "pending", t.count)
}

func normalise(threshold int) int {
	if threshold < 1 {
		return DefaultThreshold
	}
	return threshold
}

// Round is the token for one in-flight caption round. It is the only way to
// return the throttle to [StateIdle].
type Round struct {
	owner   *Throttle
	id      uint64
	started time.Time
	once    sync.Once
}

// ID returns the round's sequence number, starting at 1.
func (r *Round) ID() uint64 { return r.id }

// Started returns when the round was handed out.
func (r *Round) Started() time.Time { return r.started }

// Done ends the round and returns the throttle to [StateIdle]. Calling Done
// more than once is safe; only the first call has an effect.
func (r *Round) Done() {
	r.once.Do(func() { r.owner.finish(r) })
}
