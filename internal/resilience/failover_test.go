package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/captionseek/internal/resilience"
	"github.com/MrWong99/captionseek/pkg/provider/caption"
	"github.com/MrWong99/captionseek/pkg/provider/caption/mock"
	"github.com/MrWong99/captionseek/pkg/types"
)

var (
	errOCR = errors.New("ocr engine crashed")
	region = types.Rect{X: 0, Y: 600, Width: 800, Height: 80}
)

func newFailover(sources ...*mock.Provider) *resilience.CaptionFailover {
	f := resilience.NewCaptionFailover(resilience.BreakerConfig{
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	})
	for i, s := range sources {
		f.Add([]string{"ocr", "stdin", "subtitles"}[i], s)
	}
	return f
}

func TestCaptionFailover_PrimaryWins(t *testing.T) {
	t.Parallel()

	ocr := &mock.Provider{Captions: []string{"from ocr"}}
	stdin := &mock.Provider{Captions: []string{"from stdin"}}
	f := newFailover(ocr, stdin)

	text, err := f.Capture(context.Background(), region)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if text != "from ocr" {
		t.Errorf("text = %q, want %q", text, "from ocr")
	}
	if stdin.CaptureCallCount() != 0 {
		t.Error("fallback asked although the primary answered")
	}
	if got := ocr.CaptureCalls[0].Region; got != region {
		t.Errorf("region = %+v, want %+v", got, region)
	}
}

func TestCaptionFailover_FailingPrimaryFallsBack(t *testing.T) {
	t.Parallel()

	ocr := &mock.Provider{CaptureErr: errOCR}
	stdin := &mock.Provider{Captions: []string{"from stdin"}}
	f := newFailover(ocr, stdin)

	for i := range 3 {
		text, err := f.Capture(context.Background(), region)
		if err != nil || text != "from stdin" {
			t.Fatalf("capture %d: text=%q err=%v", i, text, err)
		}
	}
	if got := ocr.CaptureCallCount(); got != 2 {
		t.Errorf("primary asked %d times, want 2 before its breaker opened", got)
	}
	if st, ok := f.State("ocr"); !ok || st != resilience.StateOpen {
		t.Errorf("ocr breaker = %v (found %v), want open", st, ok)
	}
}

func TestCaptionFailover_NoCaptionIsNotAFailure(t *testing.T) {
	t.Parallel()

	ocr := &mock.Provider{}
	stdin := &mock.Provider{}
	f := newFailover(ocr, stdin)

	for range 5 {
		if _, err := f.Capture(context.Background(), region); !errors.Is(err, caption.ErrNoCaption) {
			t.Fatalf("err = %v, want ErrNoCaption", err)
		}
	}
	if st, _ := f.State("ocr"); st != resilience.StateClosed {
		t.Errorf("ocr breaker = %v, want closed", st)
	}
	if got := stdin.CaptureCallCount(); got != 5 {
		t.Errorf("fallback asked %d times, want 5", got)
	}
}

func TestCaptionFailover_AllFailed(t *testing.T) {
	t.Parallel()

	ocr := &mock.Provider{CaptureErr: errOCR}
	subs := &mock.Provider{CaptureErr: errors.New("subtitle track missing")}
	f := newFailover(ocr, subs)

	_, err := f.Capture(context.Background(), region)
	if !errors.Is(err, resilience.ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if err := f.Healthy(context.Background()); err != nil {
		t.Errorf("Healthy with closed breakers: %v", err)
	}

	_, _ = f.Capture(context.Background(), region)
	_, err = f.Capture(context.Background(), region)
	if !errors.Is(err, resilience.ErrAllFailed) || !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrAllFailed wrapping ErrCircuitOpen", err)
	}
	if err := f.Healthy(context.Background()); !errors.Is(err, resilience.ErrAllFailed) {
		t.Errorf("Healthy with open breakers: err = %v, want ErrAllFailed", err)
	}
}

func TestCaptionFailover_FailureThenNoCaption(t *testing.T) {
	t.Parallel()

	ocr := &mock.Provider{CaptureErr: errOCR}
	stdin := &mock.Provider{}
	f := newFailover(ocr, stdin)

	if _, err := f.Capture(context.Background(), region); !errors.Is(err, caption.ErrNoCaption) {
		t.Errorf("err = %v, want ErrNoCaption from the healthy fallback", err)
	}
}

func TestCaptionFailover_ContextCancelled(t *testing.T) {
	t.Parallel()

	ocr := &mock.Provider{Block: make(chan struct{})}
	stdin := &mock.Provider{Captions: []string{"from stdin"}}
	f := newFailover(ocr, stdin)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := f.Capture(ctx, region); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if stdin.CaptureCallCount() != 0 {
		t.Error("fallback asked after the context expired")
	}
}

func TestCaptionFailover_Empty(t *testing.T) {
	t.Parallel()

	f := resilience.NewCaptionFailover(resilience.BreakerConfig{})
	if f.Len() != 0 {
		t.Fatalf("Len = %d, want 0", f.Len())
	}
	if _, err := f.Capture(context.Background(), region); !errors.Is(err, caption.ErrNoCaption) {
		t.Errorf("err = %v, want ErrNoCaption", err)
	}
	if _, ok := f.State("ocr"); ok {
		t.Error("State found an unknown source")
	}
}
