// Package mock provides test doubles for the caption package interfaces.
//
// Use Provider to script the captions (or failures) a round receives and to
// inspect which regions were requested.
//
// Example:
//
//	p := &mock.Provider{Captions: []string{"the quick brown fox"}}
//	text, err := p.Capture(ctx, region)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/captionseek/pkg/provider/caption"
	"github.com/MrWong99/captionseek/pkg/types"
)

// CaptureCall records a single invocation of Provider.Capture.
type CaptureCall struct {
	// Region is the region passed to Capture.
	Region types.Rect
}

// Provider is a mock implementation of caption.Provider.
type Provider struct {
	mu sync.Mutex

	// Captions are returned by successive Capture calls, in order. Once
	// exhausted, the last caption is repeated. When empty, Capture returns
	// caption.ErrNoCaption.
	Captions []string

	// CaptureErr, if non-nil, is returned by every Capture call.
	CaptureErr error

	// Delay, if positive, makes Capture wait this long (or until ctx is done)
	// before returning.
	Delay time.Duration

	// Block, if non-nil, makes Capture wait until the channel is closed (or
	// ctx is done) before returning.
	Block chan struct{}

	// CaptureCalls records every call to Capture.
	CaptureCalls []CaptureCall

	next int
}

// Capture records the call and returns the next scripted caption.
func (p *Provider) Capture(ctx context.Context, region types.Rect) (string, error) {
	p.mu.Lock()
	p.CaptureCalls = append(p.CaptureCalls, CaptureCall{Region: region})
	delay, block := p.Delay, p.Block
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.CaptureErr != nil {
		return "", p.CaptureErr
	}
	if len(p.Captions) == 0 {
		return "", caption.ErrNoCaption
	}
	text := p.Captions[min(p.next, len(p.Captions)-1)]
	p.next++
	return text, nil
}

// CaptureCallCount returns the number of Capture calls. Thread-safe.
func (p *Provider) CaptureCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.CaptureCalls)
}

// Reset clears all recorded calls and rewinds Captions. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CaptureCalls = nil
	p.next = 0
}

// Ensure Provider implements caption.Provider at compile time.
var _ caption.Provider = (*Provider)(nil)
