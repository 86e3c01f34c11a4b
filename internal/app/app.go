// Package app wires all captionseek subsystems into a running host.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the caption loop next to the admin server and the
// file watchers, and Shutdown tears everything down in order.
//
// For testing, inject test doubles via functional options (WithTree,
// WithInput, WithAdvisor, etc.). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/captionseek/internal/config"
	"github.com/MrWong99/captionseek/internal/health"
	"github.com/MrWong99/captionseek/internal/locator"
	"github.com/MrWong99/captionseek/internal/match"
	"github.com/MrWong99/captionseek/internal/observe"
	"github.com/MrWong99/captionseek/internal/resilience"
	"github.com/MrWong99/captionseek/internal/throttle"
	"github.com/MrWong99/captionseek/pkg/layout"
	"github.com/MrWong99/captionseek/pkg/layout/htmltree"
	"github.com/MrWong99/captionseek/pkg/provider/caption"
	"github.com/MrWong99/captionseek/pkg/types"
)

// shutdownTimeout bounds the admin server's graceful shutdown once Run's
// context is done.
const shutdownTimeout = 5 * time.Second

// errInputClosed ends the run group when the caption input reaches EOF.
var errInputClosed = errors.New("app: caption input closed")

// App owns all subsystem lifetimes and orchestrates the caption host.
type App struct {
	cfg   *config.Config
	level *slog.LevelVar

	// Subsystems, initialised in New and torn down in Shutdown.
	registry *config.Registry
	tree     layout.Tree
	source   *htmltree.FileSource
	captions *caption.Latest
	sources  []namedSource
	failover *resilience.CaptionFailover
	locator  *locator.Locator
	metrics  *observe.Metrics
	health   *health.Handler
	watcher  *config.Watcher
	advisor  locator.Advisor

	configPath     string
	metricsHandler http.Handler
	handler        http.Handler

	input  io.Reader
	outMu  sync.Mutex
	output io.Writer

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// namedSource is a caption provider added with WithCaptionSource.
type namedSource struct {
	name     string
	provider caption.Provider
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithCaptionSource adds a caption source that is asked before the input
// lines, e.g. an OCR pipeline over the caption region. Sources are asked in
// the order they are added, each behind a circuit breaker configured by
// caption.breaker; the input lines remain the last fallback.
func WithCaptionSource(name string, p caption.Provider) Option {
	return func(a *App) { a.sources = append(a.sources, namedSource{name: name, provider: p}) }
}

// WithTree injects a layout tree instead of loading document.path.
func WithTree(t layout.Tree) Option {
	return func(a *App) { a.tree = t }
}

// WithRegistry injects the containment registry instead of
// [config.NewDefaultRegistry].
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithAdvisor injects the advisor that receives failed-scroll advisories.
// The default writes them to the output.
func WithAdvisor(adv locator.Advisor) Option {
	return func(a *App) { a.advisor = adv }
}

// WithMetrics injects the metrics instruments instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler sets the handler served at /metrics. The default is
// [observe.MetricsHandler] on the global Prometheus registry.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithInput sets the reader caption lines are read from. The default is
// os.Stdin.
func WithInput(r io.Reader) Option {
	return func(a *App) { a.input = r }
}

// WithOutput sets the writer that receives shown element paths, unmatched
// round summaries, and advisories. The default is os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.output = w }
}

// WithLevelVar lets config hot reloads adjust the log level of a handler
// built on v.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithConfigWatch makes Run poll the config file at path and apply
// hot-reloadable changes.
func WithConfigWatch(path string) Option {
	return func(a *App) { a.configPath = path }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: document loading, matcher
// construction, locator assembly, and admin route setup.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:      cfg,
		captions: &caption.Latest{},
		input:    os.Stdin,
		output:   os.Stdout,
	}
	for _, o := range opts {
		o(a)
	}
	if a.registry == nil {
		a.registry = config.NewDefaultRegistry()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.metricsHandler == nil {
		a.metricsHandler = observe.MetricsHandler(nil)
	}
	if a.advisor == nil {
		a.advisor = locator.AdvisorFunc(a.printAdvisory)
	}

	// ── 1. Document ──────────────────────────────────────────────────────
	if err := a.initDocument(); err != nil {
		return nil, fmt.Errorf("app: init document: %w", err)
	}

	// ── 2. Matcher + locator ─────────────────────────────────────────────
	if err := a.initLocator(); err != nil {
		return nil, fmt.Errorf("app: init locator: %w", err)
	}

	// ── 3. Config watcher ────────────────────────────────────────────────
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.ApplyConfig)
		if err != nil {
			return nil, fmt.Errorf("app: init config watcher: %w", err)
		}
		a.watcher = w
		a.closers = append(a.closers, func() error {
			w.Stop()
			return nil
		})
	}

	// ── 4. Admin routes ──────────────────────────────────────────────────
	a.initAdmin()

	slog.InfoContext(ctx, "captionseek initialised",
		"containment", cfg.Matcher.Containment,
		"threshold", a.locator.Throttle().Threshold(),
		"region", cfg.Caption.Region,
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initDocument opens document.path unless a tree was injected.
func (a *App) initDocument() error {
	if a.tree != nil {
		return nil
	}
	src, err := htmltree.NewFileSource(a.cfg.Document.Path,
		htmltree.WithParseOptions(htmltree.WithScroller(a.scrollTo)),
	)
	if err != nil {
		return err
	}
	a.source = src
	a.tree = src
	slog.Info("document loaded", "path", a.cfg.Document.Path, "elements", src.Document().Len())
	return nil
}

// initLocator builds the matcher from the configured containment and
// assembles the locator around it.
func (a *App) initLocator() error {
	c, err := a.registry.CreateContainment(a.cfg.Matcher)
	if err != nil {
		return err
	}
	a.locator = locator.New(a.captionProvider(), a.tree,
		locator.WithThrottle(throttle.New(a.cfg.Throttle.Threshold)),
		locator.WithMatcher(match.New(match.WithContainment(c))),
		locator.WithAdvisor(a.advisor),
		locator.WithMetrics(a.metrics),
		locator.WithRegion(a.cfg.Caption.Region),
		locator.WithCaptureTimeout(a.cfg.Caption.CaptureTimeout),
		locator.WithAdvisoryInterval(a.cfg.Advisory.MinInterval),
		locator.WithReportHook(a.printReport),
	)
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.locator.Close(ctx)
	})
	return nil
}

// captionProvider returns the input-fed provider, or a failover over the
// added sources followed by the input when sources were added.
func (a *App) captionProvider() caption.Provider {
	if len(a.sources) == 0 {
		return a.captions
	}
	a.failover = resilience.NewCaptionFailover(resilience.BreakerConfig{
		MaxFailures:  a.cfg.Caption.Breaker.MaxFailures,
		ResetTimeout: a.cfg.Caption.Breaker.ResetTimeout,
	})
	for _, s := range a.sources {
		a.failover.Add(s.name, s.provider)
	}
	a.failover.Add("input", a.captions)
	return a.failover
}

// initAdmin builds the admin mux: health probes and Prometheus metrics,
// instrumented per route.
func (a *App) initAdmin() {
	checkers := []health.Checker{
		health.DocumentChecker(a.tree),
		health.ThrottleChecker(a.locator.Throttle(), a.cfg.Throttle.MaxRoundAge),
	}
	if a.failover != nil {
		checkers = append(checkers, health.Checker{Name: "captions", Check: a.failover.Healthy})
	}
	a.health = health.New(checkers...)
	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("GET /metrics", a.metricsHandler)
	a.handler = observe.InstrumentAdmin(a.metrics, mux)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Locator returns the locator running rounds for this app.
func (a *App) Locator() *locator.Locator { return a.locator }

// Captions returns the caption provider fed from the input.
func (a *App) Captions() *caption.Latest { return a.captions }

// Handler returns the admin HTTP handler (/healthz, /readyz, /metrics).
func (a *App) Handler() http.Handler { return a.handler }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run reads caption lines from the input and blocks until ctx is cancelled
// or the input ends. Every non-blank line replaces the current caption and
// counts as one scroll signal of the caption region. Alongside the caption
// loop Run serves the admin endpoints on server.listen_addr (unless empty),
// follows document changes, and polls the config file when configured.
//
// Run returns nil on cancellation and at the end of the input, once the
// running round has finished.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.readCaptions(gctx) })

	if a.source != nil {
		g.Go(func() error { return a.source.Watch(gctx) })
	}
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}
	if a.cfg.Server.ListenAddr != "" {
		a.serveAdmin(gctx, g)
	}

	err := g.Wait()
	if errors.Is(err, errInputClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// readCaptions feeds input lines into the caption provider and the locator.
//
// The scanner runs on its own goroutine because reads cannot be cancelled.
// When the input is an [io.Closer] (os.Stdin, pipes) it is closed on
// cancellation so the pending read returns and the goroutine exits. Any
// other reader keeps that goroutine parked in Read until the process exits.
func (a *App) readCaptions(ctx context.Context) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(a.input)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			if c, ok := a.input.(io.Closer); ok {
				_ = c.Close()
			}
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				if err := <-scanErr; err != nil {
					return fmt.Errorf("app: read captions: %w", err)
				}
				slog.Info("caption input closed, waiting for running round")
				if err := a.locator.Wait(ctx); err != nil {
					return err
				}
				return errInputClosed
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			a.captions.Set(text)
			err := a.locator.HandleScroll(ctx, types.ScrollSignal{At: time.Now()})
			if err != nil {
				return fmt.Errorf("app: scroll signal: %w", err)
			}
		}
	}
}

// serveAdmin starts the admin HTTP server in g and shuts it down once ctx is
// done.
func (a *App) serveAdmin(ctx context.Context, g *errgroup.Group) {
	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		slog.Info("admin server listening", "addr", srv.Addr, "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: admin server: %w", err)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// ─── Config hot reload ───────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable part of a config change: log level,
// throttle threshold, and advisory interval. Changes to other fields are
// logged by the watcher and take effect on restart. It has the
// [config.ChangeFunc] signature.
func (a *App) ApplyConfig(_, _ *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.ThresholdChanged {
		a.locator.Throttle().SetThreshold(d.NewThreshold)
		slog.Info("throttle threshold changed", "threshold", d.NewThreshold)
	}
	if d.AdvisoryIntervalChanged {
		a.locator.SetAdvisoryInterval(d.NewAdvisoryInterval)
		slog.Info("advisory interval changed", "interval", d.NewAdvisoryInterval)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Output ──────────────────────────────────────────────────────────────────

// scrollTo is the document's scroller: it announces the shown element.
func (a *App) scrollTo(_ context.Context, n *htmltree.Node) error {
	return a.printf("show %s\n", n.Path())
}

// printReport announces rounds that did not end in a shown element.
func (a *App) printReport(rep locator.Report) {
	switch {
	case rep.CaptureErr != nil:
		_ = a.printf("round %d: %s: %v\n", rep.Round, rep.Status(), rep.CaptureErr)
	case rep.ShowErr != nil:
		_ = a.printf("round %d: %s: %v\n", rep.Round, rep.Status(), rep.ShowErr)
	case rep.Outcome != match.OutcomeMatched:
		_ = a.printf("round %d: %s (anchor %q, %d candidates)\n", rep.Round, rep.Status(), rep.Anchor, rep.Candidates)
	}
}

func (a *App) printAdvisory(_ context.Context, message string) error {
	return a.printf("advisory: %s\n", message)
}

func (a *App) printf(format string, args ...any) error {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	_, err := fmt.Fprintf(a.output, format, args...)
	return err
}
