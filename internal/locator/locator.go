// Package locator runs caption rounds: it turns scroll signals into throttled
// rounds, asks the caption provider for the text in the watched region,
// matches it against the current layout snapshot, and brings the unique
// matching element into view.
//
// A round never fails the host. Capture failures, empty captions, and
// ambiguous captions are logged and counted; a failed show-on-screen action
// additionally sends [AdvisoryText] to the configured [Advisor]. Every such
// failure advises unless [WithAdvisoryInterval] opts into a rate limit.
//
// Typical usage:
//
//	loc := locator.New(captions, tree, locator.WithAdvisor(adv))
//	for sig := range signals {
//	    _ = loc.HandleScroll(ctx, sig)
//	}
//	_ = loc.Close(ctx)
package locator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/MrWong99/captionseek/internal/match"
	"github.com/MrWong99/captionseek/internal/observe"
	"github.com/MrWong99/captionseek/internal/throttle"
	"github.com/MrWong99/captionseek/pkg/layout"
	"github.com/MrWong99/captionseek/pkg/provider/caption"
	"github.com/MrWong99/captionseek/pkg/types"
)

// AdvisoryText is sent to the [Advisor] when a unique match was found but
// could not be brought into view.
const AdvisoryText = "found matching text but failed to scroll; try reloading"

// Defaults applied by [New].
const (
	DefaultCaptureTimeout   = 5 * time.Second
	DefaultAdvisoryInterval = time.Duration(0)
)

// ErrClosed is returned by [Locator.HandleScroll] after [Locator.Close].
var ErrClosed = errors.New("locator: closed")

// Advisor shows a short message to the user.
type Advisor interface {
	Advise(ctx context.Context, message string) error
}

// AdvisorFunc adapts a function to [Advisor].
type AdvisorFunc func(ctx context.Context, message string) error

// Advise calls f.
func (f AdvisorFunc) Advise(ctx context.Context, message string) error { return f(ctx, message) }

// Report summarises one finished round. The matched node itself is not
// included because it is released before the report is produced.
type Report struct {
	// Round is the throttle's sequence number for the round.
	Round uint64

	// Caption is the captured text and the region it came from.
	Caption types.Caption

	// Outcome is the matcher's verdict. Only meaningful when CaptureErr is nil.
	Outcome match.Outcome

	// Anchor is the word used to gather candidates.
	Anchor string

	// Candidates, Survivors, and Steps mirror the matcher's [match.Result].
	Candidates int
	Survivors  int
	Steps      int

	// CaptureErr is set when the caption provider failed.
	CaptureErr error

	// ShowErr is set when the matched element could not be brought into view.
	ShowErr error

	// Advised reports whether [AdvisoryText] was sent for this round.
	Advised bool

	// Duration is the wall time of the round.
	Duration time.Duration
}

// Status returns a short label for the round's result, used as the metric
// outcome attribute: a [match.Outcome] string, "capture_failed", or
// "show_failed".
func (r Report) Status() string {
	switch {
	case r.CaptureErr != nil:
		return "capture_failed"
	case r.ShowErr != nil:
		return "show_failed"
	default:
		return r.Outcome.String()
	}
}

// Option is a functional option for [New].
type Option func(*Locator)

// WithThrottle replaces the default throttle (threshold
// [throttle.DefaultThreshold]).
func WithThrottle(t *throttle.Throttle) Option {
	return func(l *Locator) { l.throttle = t }
}

// WithMatcher replaces the default substring matcher.
func WithMatcher(m *match.Matcher) Option {
	return func(l *Locator) { l.matcher = m }
}

// WithAdvisor sets the advisor notified when a matched element cannot be
// shown. Without one, failures are only logged.
func WithAdvisor(a Advisor) Option {
	return func(l *Locator) { l.advisor = a }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(l *Locator) { l.metrics = m }
}

// WithRegion sets the caption region used until the first scroll signal
// carrying non-empty bounds arrives.
func WithRegion(r types.Rect) Option {
	return func(l *Locator) { l.region.Store(&r) }
}

// WithCaptureTimeout bounds each caption request. Zero or negative disables
// the per-round timeout.
func WithCaptureTimeout(d time.Duration) Option {
	return func(l *Locator) { l.captureTimeout = d }
}

// WithAdvisoryInterval sets the minimum time between two advisories. Zero,
// the default, sends one for every failed show-on-screen action.
func WithAdvisoryInterval(d time.Duration) Option {
	return func(l *Locator) { l.limiter.SetLimit(advisoryLimit(d)) }
}

// WithReportHook registers fn to receive the [Report] of every finished
// round. fn runs on the round's goroutine and must not block for long.
func WithReportHook(fn func(Report)) Option {
	return func(l *Locator) { l.onReport = fn }
}

// Locator owns the round lifecycle. All methods are safe for concurrent use.
type Locator struct {
	captions caption.Provider
	tree     layout.Tree

	throttle       *throttle.Throttle
	matcher        *match.Matcher
	advisor        Advisor
	metrics        *observe.Metrics
	limiter        *rate.Limiter
	captureTimeout time.Duration
	onReport       func(Report)

	region atomic.Pointer[types.Rect]

	mu      sync.Mutex
	closed  bool
	running int
	idle    chan struct{}
}

// New creates a Locator reading captions from captions and matching them
// against tree.
func New(captions caption.Provider, tree layout.Tree, opts ...Option) *Locator {
	l := &Locator{
		captions:       captions,
		tree:           tree,
		limiter:        rate.NewLimiter(advisoryLimit(DefaultAdvisoryInterval), 1),
		captureTimeout: DefaultCaptureTimeout,
	}
	l.region.Store(&types.Rect{})
	for _, o := range opts {
		o(l)
	}
	if l.throttle == nil {
		l.throttle = throttle.New(throttle.DefaultThreshold)
	}
	if l.matcher == nil {
		l.matcher = match.New()
	}
	if l.metrics == nil {
		l.metrics = observe.DefaultMetrics()
	}
	return l
}

// Throttle returns the throttle gating rounds.
func (l *Locator) Throttle() *throttle.Throttle { return l.throttle }

// Region returns a copy of the current caption region.
func (l *Locator) Region() types.Rect { return *l.region.Load() }

// SetRegion replaces the caption region for subsequent rounds.
func (l *Locator) SetRegion(r types.Rect) { l.region.Store(&r) }

// SetAdvisoryInterval changes the minimum time between two advisories.
func (l *Locator) SetAdvisoryInterval(d time.Duration) {
	l.limiter.SetLimit(advisoryLimit(d))
}

// HandleScroll records one scroll signal. Non-empty bounds replace the
// caption region. When the throttle decides a round is due, the round is
// started on its own goroutine and HandleScroll returns immediately; ctx
// bounds that round.
func (l *Locator) HandleScroll(ctx context.Context, sig types.ScrollSignal) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if !sig.Bounds.Empty() {
		l.SetRegion(sig.Bounds)
	}
	round, ok := l.throttle.Signal()
	l.metrics.RecordScrollSignal(ctx, ok)
	if !ok {
		l.mu.Unlock()
		return nil
	}
	if l.running == 0 {
		l.idle = make(chan struct{})
	}
	l.running++
	l.mu.Unlock()

	go func() {
		defer l.roundExited()
		defer func() {
			if p := recover(); p != nil {
				slog.Error("locator: round panicked", "round", round.ID(), "panic", p)
			}
		}()
		l.RunRound(ctx, round)
	}()
	return nil
}

func (l *Locator) roundExited() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.running--
	if l.running == 0 {
		close(l.idle)
	}
}

// Wait blocks until no round started by [Locator.HandleScroll] is running,
// or ctx is done.
func (l *Locator) Wait(ctx context.Context) error {
	l.mu.Lock()
	if l.running == 0 {
		l.mu.Unlock()
		return nil
	}
	idle := l.idle
	l.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close rejects further scroll signals and waits for the running round, if
// any, to finish. It is safe to call more than once.
func (l *Locator) Close(ctx context.Context) error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return l.Wait(ctx)
}

// RunRound executes round r synchronously and returns its report. r is
// always ended before RunRound returns, panics included.
func (l *Locator) RunRound(ctx context.Context, r *throttle.Round) (rep Report) {
	defer r.Done()

	start := time.Now()
	l.metrics.RoundsInFlight.Add(ctx, 1)
	defer l.metrics.RoundsInFlight.Add(ctx, -1)

	ctx, span := observe.StartRoundSpan(ctx, r.ID())
	log := observe.Logger(ctx).With("round", r.ID())

	rep.Round = r.ID()
	rep.Caption.Region = l.Region()
	defer func() {
		rep.Duration = time.Since(start)
		l.metrics.RecordRound(ctx, observe.RoundStats{
			Outcome:    rep.Status(),
			Duration:   rep.Duration,
			Candidates: rep.Candidates,
			Steps:      rep.Steps,
		})
		observe.EndSpan(span, errors.Join(rep.CaptureErr, rep.ShowErr))
		if l.onReport != nil {
			l.onReport(rep)
		}
	}()

	text, err := l.capture(ctx, rep.Caption.Region)
	if err != nil {
		rep.CaptureErr = err
		if errors.Is(err, caption.ErrNoCaption) {
			log.Debug("locator: no caption available")
		} else {
			log.Warn("locator: caption capture failed", "err", err)
		}
		return rep
	}
	rep.Caption.Text = text
	rep.Caption.CapturedAt = time.Now()

	res := l.matcher.Match(text, l.tree)
	rep.Outcome = res.Outcome
	rep.Anchor = res.AnchorWord()
	rep.Candidates = res.Candidates
	rep.Survivors = res.Survivors
	rep.Steps = res.Steps

	log = log.With("anchor", rep.Anchor, "candidates", rep.Candidates, "steps", rep.Steps, "outcome", res.Outcome.String())
	if res.Outcome != match.OutcomeMatched {
		log.Debug("locator: no unique match", "survivors", res.Survivors)
		return rep
	}

	if err := l.show(ctx, res.Node); err != nil {
		rep.ShowErr = fmt.Errorf("locator: show on screen: %w", err)
		log.Warn("locator: matched element could not be shown", "err", err)
		rep.Advised = l.advise(ctx, log)
		return rep
	}
	log.Info("locator: element shown")
	return rep
}

// show brings n into view and releases it back to the tree.
func (l *Locator) show(ctx context.Context, n layout.Node) error {
	defer l.tree.Release(n)
	return n.ShowOnScreen(ctx)
}

// capture requests the caption for region, bounded by the capture timeout.
func (l *Locator) capture(ctx context.Context, region types.Rect) (string, error) {
	if l.captureTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.captureTimeout)
		defer cancel()
	}

	ctx, span := observe.StartSpan(ctx, "caption.capture")
	start := time.Now()
	text, err := l.captions.Capture(ctx, region)
	status := "ok"
	if err != nil {
		status = "error"
	}
	l.metrics.RecordCapture(ctx, time.Since(start), status)
	observe.EndSpan(span, err)

	if err != nil {
		return "", fmt.Errorf("locator: capture: %w", err)
	}
	return text, nil
}

// advise sends [AdvisoryText] unless the rate limit suppresses it. It
// reports whether the advisory was sent.
func (l *Locator) advise(ctx context.Context, log *slog.Logger) bool {
	if l.advisor == nil {
		return false
	}
	if !l.limiter.Allow() {
		l.metrics.RecordAdvisory(ctx, "suppressed")
		log.Debug("locator: advisory suppressed by rate limit")
		return false
	}
	if err := l.advisor.Advise(ctx, AdvisoryText); err != nil {
		log.Warn("locator: advisory delivery failed", "err", err)
	}
	l.metrics.RecordAdvisory(ctx, "sent")
	return true
}

func advisoryLimit(d time.Duration) rate.Limit {
	if d <= 0 {
		return rate.Inf
	}
	return rate.Every(d)
}
