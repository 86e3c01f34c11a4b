package app_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/captionseek/internal/app"
	"github.com/MrWong99/captionseek/internal/config"
	"github.com/MrWong99/captionseek/internal/locator"
	"github.com/MrWong99/captionseek/internal/observe"
	"github.com/MrWong99/captionseek/pkg/layout/mock"
	captionmock "github.com/MrWong99/captionseek/pkg/provider/caption/mock"
	"github.com/MrWong99/captionseek/pkg/types"
)

// testConfig returns a config that starts a round on every caption line and
// serves no admin endpoint.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.ListenAddr = ""
	cfg.Throttle.Threshold = 1
	cfg.Document.Path = "unused.html"
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// storyTree builds a page where "quick" appears in three paragraphs and only
// the second one continues with "brown".
func storyTree() (*mock.Tree, *mock.Node) {
	target := mock.NewNode("p2", "the quick brown fox", "")
	root := mock.NewNode("body", "", "",
		mock.NewNode("p1", "a quick reply", ""),
		target,
		mock.NewNode("p3", "quick thinking saves lives", ""),
	)
	return &mock.Tree{RootNode: root}, target
}

// newApp builds an App around tree that reads captions from input.
func newApp(t *testing.T, cfg *config.Config, tree *mock.Tree, input string, opts ...app.Option) (*app.App, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	opts = append([]app.Option{
		app.WithTree(tree),
		app.WithMetrics(testMetrics(t)),
		app.WithInput(strings.NewReader(input)),
		app.WithOutput(&out),
	}, opts...)
	a, err := app.New(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a, &out
}

func run(t *testing.T, a *app.App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Run(ctx); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()

	tree, _ := storyTree()
	a, _ := newApp(t, testConfig(), tree, "")

	if a.Locator() == nil {
		t.Fatal("Locator() returned nil")
	}
	if got := a.Locator().Throttle().Threshold(); got != 1 {
		t.Errorf("threshold = %d, want 1", got)
	}
}

func TestNew_UnknownContainment(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Matcher.Containment = "soundex"
	tree, _ := storyTree()

	_, err := app.New(context.Background(), cfg, app.WithTree(tree), app.WithMetrics(testMetrics(t)))
	if !errors.Is(err, config.ErrContainmentNotRegistered) {
		t.Fatalf("err = %v, want ErrContainmentNotRegistered", err)
	}
}

func TestNew_MissingDocument(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Document.Path = filepath.Join(t.TempDir(), "missing.html")

	_, err := app.New(context.Background(), cfg, app.WithMetrics(testMetrics(t)))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want os.ErrNotExist", err)
	}
}

func TestNew_ConfigWatchMissingFile(t *testing.T) {
	t.Parallel()

	tree, _ := storyTree()
	_, err := app.New(context.Background(), testConfig(),
		app.WithTree(tree),
		app.WithMetrics(testMetrics(t)),
		app.WithConfigWatch(filepath.Join(t.TempDir(), "missing.yaml")),
	)
	if err == nil {
		t.Fatal("New() with a missing config file returned nil error")
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

func TestRun_CaptionShowsElement(t *testing.T) {
	t.Parallel()

	tree, target := storyTree()
	a, out := newApp(t, testConfig(), tree, "the quick brown fox\n")
	run(t, a)

	if got := target.ShowCallCount(); got != 1 {
		t.Errorf("target shown %d times, want 1", got)
	}
	if out.Len() != 0 {
		t.Errorf("unexpected output for a matched round: %q", out.String())
	}
	if left := tree.Outstanding(); len(left) != 0 {
		t.Errorf("nodes not released: %v", left)
	}
}

func TestRun_SkipsBlankLines(t *testing.T) {
	t.Parallel()

	tree, target := storyTree()
	cfg := testConfig()
	cfg.Throttle.Threshold = 2
	a, _ := newApp(t, cfg, tree, "\n   \nthe quick brown fox\n")
	run(t, a)

	if got := a.Locator().Throttle().Pending(); got != 1 {
		t.Errorf("pending signals = %d, want 1", got)
	}
	if got := target.ShowCallCount(); got != 0 {
		t.Errorf("target shown %d times below threshold", got)
	}
}

func TestRun_UnmatchedRoundIsReported(t *testing.T) {
	t.Parallel()

	tree, _ := storyTree()
	a, out := newApp(t, testConfig(), tree, "zebra crossing\n")
	run(t, a)

	want := `round 1: no_candidates (anchor "crossing", 0 candidates)`
	if !strings.Contains(out.String(), want) {
		t.Errorf("output = %q, want it to contain %q", out.String(), want)
	}
}

func TestRun_ShowFailurePrintsAdvisory(t *testing.T) {
	t.Parallel()

	tree, target := storyTree()
	target.ShowErr = errors.New("element detached")
	a, out := newApp(t, testConfig(), tree, "the quick brown fox\n")
	run(t, a)

	got := out.String()
	if !strings.Contains(got, "advisory: "+locator.AdvisoryText) {
		t.Errorf("output = %q, missing advisory", got)
	}
	if !strings.Contains(got, "round 1: show_failed: ") {
		t.Errorf("output = %q, missing show_failed report", got)
	}
}

func TestRun_InjectedAdvisor(t *testing.T) {
	t.Parallel()

	tree, target := storyTree()
	target.ShowErr = errors.New("element detached")

	var (
		mu       sync.Mutex
		messages []string
	)
	adv := locator.AdvisorFunc(func(_ context.Context, msg string) error {
		mu.Lock()
		defer mu.Unlock()
		messages = append(messages, msg)
		return nil
	})
	a, out := newApp(t, testConfig(), tree, "the quick brown fox\n", app.WithAdvisor(adv))
	run(t, a)

	mu.Lock()
	defer mu.Unlock()
	if len(messages) != 1 || messages[0] != locator.AdvisoryText {
		t.Errorf("advisories = %q, want one %q", messages, locator.AdvisoryText)
	}
	if strings.Contains(out.String(), "advisory:") {
		t.Errorf("default advisor still wrote to output: %q", out.String())
	}
}

func TestRun_CaptionSourceTakesPrecedence(t *testing.T) {
	t.Parallel()

	tree, target := storyTree()
	ocr := &captionmock.Provider{Captions: []string{"the quick brown fox"}}
	a, out := newApp(t, testConfig(), tree, "zebra crossing\n", app.WithCaptionSource("ocr", ocr))
	run(t, a)

	if got := ocr.CaptureCallCount(); got != 1 {
		t.Errorf("ocr asked %d times, want 1", got)
	}
	if got := target.ShowCallCount(); got != 1 {
		t.Errorf("target shown %d times, want 1", got)
	}
	if out.Len() != 0 {
		t.Errorf("unexpected output: %q", out.String())
	}
}

func TestRun_FailingCaptionSourceFallsBackToInput(t *testing.T) {
	t.Parallel()

	tree, target := storyTree()
	ocr := &captionmock.Provider{CaptureErr: errors.New("ocr engine crashed")}
	a, _ := newApp(t, testConfig(), tree, "the quick brown fox\n", app.WithCaptionSource("ocr", ocr))
	run(t, a)

	if got := target.ShowCallCount(); got != 1 {
		t.Errorf("target shown %d times, want 1", got)
	}

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if !strings.Contains(rec.Body.String(), `"captions":"ok"`) {
		t.Errorf("readyz body = %q, want a passing captions check", rec.Body.String())
	}
}

func TestRun_Document(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "page.html")
	page := `<html><body><h1>Story time</h1><p>a quick reply</p><p>the quick brown fox</p></body></html>`
	if err := os.WriteFile(path, []byte(page), 0o644); err != nil {
		t.Fatalf("write page: %v", err)
	}
	cfg := testConfig()
	cfg.Document.Path = path

	var out bytes.Buffer
	a, err := app.New(context.Background(), cfg,
		app.WithMetrics(testMetrics(t)),
		app.WithInput(strings.NewReader("the quick brown fox\n")),
		app.WithOutput(&out),
	)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	run(t, a)

	if want := "show html>body[1]>p[2]\n"; out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pw.Close() })

	tree, _ := storyTree()
	a, err := app.New(context.Background(), testConfig(),
		app.WithTree(tree),
		app.WithMetrics(testMetrics(t)),
		app.WithInput(pr),
		app.WithOutput(io.Discard),
	)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	// The input was closed, so no reader is left parked on it.
	if _, err := pw.Write([]byte("late caption\n")); !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("write after Run returned: err = %v, want io.ErrClosedPipe", err)
	}
}

// ─── Admin ───────────────────────────────────────────────────────────────────

func TestHandler_Routes(t *testing.T) {
	t.Parallel()

	tree, _ := storyTree()
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "captionseek_rounds_total 0\n")
	})
	a, _ := newApp(t, testConfig(), tree, "", app.WithMetricsHandler(metricsHandler))

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{path: "/healthz", wantStatus: http.StatusOK, wantBody: `"status":"ok"`},
		{path: "/readyz", wantStatus: http.StatusOK, wantBody: `"document":"ok"`},
		{path: "/metrics", wantStatus: http.StatusOK, wantBody: "captionseek_rounds_total"},
		{path: "/unknown", wantStatus: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %q, want it to contain %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestHandler_ReadyzFailsWithoutDocument(t *testing.T) {
	t.Parallel()

	a, _ := newApp(t, testConfig(), &mock.Tree{}, "")

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestHandler_RecordsRequestsByRoute(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	a, _ := newApp(t, testConfig(), &mock.Tree{}, "", app.WithMetrics(m))
	for _, p := range []string{"/readyz", "/healthz", "/.env", "/config.php"} {
		a.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	got := map[string]uint64{}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "captionseek.http.request.duration" {
				continue
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("request duration is %T, want histogram", met.Data)
			}
			for _, dp := range hist.DataPoints {
				route, _ := dp.Attributes.Value(attribute.Key("route"))
				status, _ := dp.Attributes.Value(attribute.Key("status"))
				got[route.Emit()+" "+status.Emit()] += dp.Count
			}
		}
	}
	want := map[string]uint64{
		"GET /readyz 503":               1,
		"GET /healthz 200":              1,
		observe.RouteUnmatched + " 404": 2,
	}
	if len(got) != len(want) {
		t.Errorf("recorded label sets = %v, want %v", got, want)
	}
	for k, n := range want {
		if got[k] != n {
			t.Errorf("requests[%s] = %d, want %d", k, got[k], n)
		}
	}
}

// ─── Config hot reload ───────────────────────────────────────────────────────

func TestApplyConfig(t *testing.T) {
	t.Parallel()

	var level slog.LevelVar
	tree, _ := storyTree()
	cfg := testConfig()
	a, _ := newApp(t, cfg, tree, "", app.WithLevelVar(&level))

	next := *cfg
	next.Server.LogLevel = config.LogDebug
	next.Throttle.Threshold = 4
	next.Advisory.MinInterval = time.Minute
	a.ApplyConfig(cfg, &next, config.Diff(cfg, &next))

	if got := level.Level(); got != slog.LevelDebug {
		t.Errorf("log level = %v, want %v", got, slog.LevelDebug)
	}
	if got := a.Locator().Throttle().Threshold(); got != 4 {
		t.Errorf("threshold = %d, want 4", got)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()

	tree, _ := storyTree()
	a, _ := newApp(t, testConfig(), tree, "")

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	err := a.Locator().HandleScroll(context.Background(), types.ScrollSignal{At: time.Now()})
	if !errors.Is(err, locator.ErrClosed) {
		t.Errorf("HandleScroll after Shutdown: err = %v, want ErrClosed", err)
	}
}

func TestShutdown_ExpiredContext(t *testing.T) {
	t.Parallel()

	tree, _ := storyTree()
	a, _ := newApp(t, testConfig(), tree, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Shutdown with cancelled ctx: err = %v, want context.Canceled", err)
	}
}
