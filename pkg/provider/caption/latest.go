package caption

import (
	"context"
	"strings"
	"sync"

	"github.com/MrWong99/captionseek/pkg/types"
)

// Latest is a [Provider] that remembers the most recent caption pushed into
// it. It suits hosts where captions arrive as a stream (live speech-to-text
// partials, subtitle cues, stdin) rather than being captured on demand.
//
// The region passed to Capture is ignored: Latest holds a single caption.
// The zero value is ready to use.
type Latest struct {
	mu   sync.RWMutex
	text string
	seq  uint64
}

// Set replaces the current caption. Surrounding whitespace is trimmed; an
// empty caption clears the provider.
func (l *Latest) Set(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.text = strings.TrimSpace(text)
	l.seq++
}

// Seq returns the number of Set calls so far. Hosts can use it to tell
// whether a new caption arrived between two rounds.
func (l *Latest) Seq() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seq
}

// Capture implements [Provider].
func (l *Latest) Capture(ctx context.Context, _ types.Rect) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.text == "" {
		return "", ErrNoCaption
	}
	return l.text, nil
}

// Feed copies every transcript from ch into l until ch is closed or ctx is
// cancelled. Both partial and final transcripts replace the caption, since a
// caption display shows interim text too. Feed blocks; run it in its own
// goroutine. It returns ctx.Err() on cancellation and nil when ch closes.
func (l *Latest) Feed(ctx context.Context, ch <-chan types.Transcript) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tr, ok := <-ch:
			if !ok {
				return nil
			}
			l.Set(tr.Text)
		}
	}
}

// Ensure Latest implements Provider at compile time.
var _ Provider = (*Latest)(nil)
