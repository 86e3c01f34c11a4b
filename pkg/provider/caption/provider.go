// Package caption defines the Provider interface for caption snapshot sources.
//
// A caption provider wraps whatever produces the text of the currently
// playing audio: a screenshot + OCR pipeline over the caption region, a live
// speech-to-text stream, or a subtitle track. Each [Provider.Capture] call
// returns the most recent caption exactly once, or a failure.
//
// Implementations must be safe for concurrent use.
package caption

import (
	"context"
	"errors"

	"github.com/MrWong99/captionseek/pkg/types"
)

// ErrNoCaption is returned by [Provider.Capture] when no caption is currently
// available for the requested region.
var ErrNoCaption = errors.New("caption: no caption available")

// Provider is the abstraction over any caption source.
type Provider interface {
	// Capture returns the caption text currently shown in region. It may block
	// (screen capture and recognition take time) and must honour ctx
	// cancellation.
	//
	// Returns [ErrNoCaption] when nothing is available, or any other error
	// when the capture itself failed.
	Capture(ctx context.Context, region types.Rect) (string, error)
}
