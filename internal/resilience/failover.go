package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/captionseek/pkg/provider/caption"
	"github.com/MrWong99/captionseek/pkg/types"
)

// ErrAllFailed is returned by [CaptionFailover.Capture] when every source
// failed or had an open breaker.
var ErrAllFailed = errors.New("resilience: all caption sources failed")

// source pairs a caption provider with its dedicated breaker.
type source struct {
	name     string
	provider caption.Provider
	breaker  *Breaker
}

// CaptionFailover implements [caption.Provider] over an ordered list of
// caption sources, each behind its own [Breaker].
//
// Capture asks the sources in the order they were added and returns the first
// caption. A source answering [caption.ErrNoCaption] is healthy and does not
// count against its breaker; the next source is asked instead.
type CaptionFailover struct {
	cfg BreakerConfig

	mu      sync.RWMutex
	sources []source
}

// Compile-time interface assertion.
var _ caption.Provider = (*CaptionFailover)(nil)

// NewCaptionFailover creates an empty failover. cfg configures the breaker
// created for every source; its Name is replaced by the source name.
func NewCaptionFailover(cfg BreakerConfig) *CaptionFailover {
	return &CaptionFailover{cfg: cfg}
}

// Add appends a source. Sources are asked in the order they are added.
func (f *CaptionFailover) Add(name string, p caption.Provider) {
	cfg := f.cfg
	cfg.Name = name
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources = append(f.sources, source{name: name, provider: p, breaker: NewBreaker(cfg)})
}

// Len returns the number of sources.
func (f *CaptionFailover) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.sources)
}

// State returns the breaker state of the named source.
func (f *CaptionFailover) State(name string) (State, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, s := range f.sources {
		if s.name == name {
			return s.breaker.State(), true
		}
	}
	return StateClosed, false
}

// Healthy returns an error when no source can currently be asked because
// every breaker is open. It has the signature of a health check.
func (f *CaptionFailover) Healthy(context.Context) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.sources) == 0 {
		return nil
	}
	for _, s := range f.sources {
		if s.breaker.State() != StateOpen {
			return nil
		}
	}
	return fmt.Errorf("%w: %d breakers open", ErrAllFailed, len(f.sources))
}

// Capture implements [caption.Provider].
func (f *CaptionFailover) Capture(ctx context.Context, region types.Rect) (string, error) {
	f.mu.RLock()
	sources := f.sources
	f.mu.RUnlock()

	var (
		lastErr   error
		noCaption bool
	)
	for _, s := range sources {
		var (
			text     string
			answered bool
		)
		err := s.breaker.Execute(func() error {
			t, err := s.provider.Capture(ctx, region)
			switch {
			case errors.Is(err, caption.ErrNoCaption):
				return nil
			case err != nil:
				return err
			}
			text, answered = t, t != ""
			return nil
		})
		if err == nil {
			if answered {
				return text, nil
			}
			noCaption = true
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("resilience: skipping caption source (circuit open)", "source", s.name)
		} else {
			slog.Warn("resilience: caption source failed, trying next", "source", s.name, "err", err)
		}
	}
	if noCaption || lastErr == nil {
		return "", caption.ErrNoCaption
	}
	return "", fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
