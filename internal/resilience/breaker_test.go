package resilience

import (
	"errors"
	"testing"
	"time"
)

var errTest = errors.New("test error")

// fakeClock is a manually advanced clock.
type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBreaker(maxFailures, halfOpenMax int) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	b := NewBreaker(BreakerConfig{
		Name:         "test",
		MaxFailures:  maxFailures,
		ResetTimeout: time.Minute,
		HalfOpenMax:  halfOpenMax,
		Now:          clock.Now,
	})
	return b, clock
}

func fail() error    { return errTest }
func succeed() error { return nil }

func TestNewBreaker_Defaults(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{Name: "test"})
	if b.maxFailures != DefaultMaxFailures {
		t.Errorf("maxFailures = %d, want %d", b.maxFailures, DefaultMaxFailures)
	}
	if b.resetTimeout != DefaultResetTimeout {
		t.Errorf("resetTimeout = %v, want %v", b.resetTimeout, DefaultResetTimeout)
	}
	if b.halfOpenMax != DefaultHalfOpenMax {
		t.Errorf("halfOpenMax = %d, want %d", b.halfOpenMax, DefaultHalfOpenMax)
	}
	if b.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", b.State())
	}
}

func TestBreaker_ClosedToOpen(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(3, 1)
	for range 3 {
		if err := b.Execute(fail); !errors.Is(err, errTest) {
			t.Fatalf("Execute: err = %v, want errTest", err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open after 3 failures", b.State())
	}

	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn called while the breaker was open")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(3, 1)
	_ = b.Execute(fail)
	_ = b.Execute(fail)
	_ = b.Execute(succeed)
	_ = b.Execute(fail)
	_ = b.Execute(fail)

	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed: a success resets the counter", b.State())
	}
}

func TestBreaker_HalfOpenProbes(t *testing.T) {
	t.Parallel()

	b, clock := newTestBreaker(1, 2)
	_ = b.Execute(fail)
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	clock.Advance(59 * time.Second)
	if b.State() != StateOpen {
		t.Fatalf("state = %v before the reset timeout, want open", b.State())
	}
	clock.Advance(time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %v after the reset timeout, want half-open", b.State())
	}

	if err := b.Execute(succeed); err != nil {
		t.Fatalf("first probe: %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %v after one of two probes, want half-open", b.State())
	}
	if err := b.Execute(succeed); err != nil {
		t.Fatalf("second probe: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v after successful probes, want closed", b.State())
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	t.Parallel()

	b, clock := newTestBreaker(2, 3)
	_ = b.Execute(fail)
	_ = b.Execute(fail)
	clock.Advance(time.Minute)

	if err := b.Execute(fail); !errors.Is(err, errTest) {
		t.Fatalf("probe: err = %v, want errTest", err)
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v after a failed probe, want open", b.State())
	}
	if err := b.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen right after re-opening", err)
	}
}

func TestBreaker_ProbeBudget(t *testing.T) {
	t.Parallel()

	b, clock := newTestBreaker(1, 1)
	_ = b.Execute(fail)
	clock.Advance(time.Minute)

	release := make(chan struct{})
	probeStarted := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Execute(func() error {
			close(probeStarted)
			<-release
			return nil
		})
	}()
	<-probeStarted

	if err := b.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second concurrent probe: err = %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first probe: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(1, 1)
	_ = b.Execute(fail)
	b.Reset()
	if b.State() != StateClosed {
		t.Fatalf("state = %v after Reset, want closed", b.State())
	}
	if err := b.Execute(succeed); err != nil {
		t.Fatalf("Execute after Reset: %v", err)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
