// Package types defines the shared value types used across all captionseek
// packages.
//
// These types form the lingua franca between caption providers, layout tree
// providers, the throttle, and the round runner. Every type here is a plain
// value: rounds copy them rather than sharing mutable state across goroutines.
package types

import "time"

// Rect is an axis-aligned screen rectangle in device pixels.
// The zero value is an empty rectangle at the origin.
type Rect struct {
	X      int `yaml:"x"`
	Y      int `yaml:"y"`
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// Empty reports whether r has no area.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// ScrollSignal is emitted by the host whenever the watched caption region
// scrolls or re-renders. It carries the region's bounds at signal time.
type ScrollSignal struct {
	// Bounds is the current location of the caption region on screen.
	Bounds Rect

	// At records when the host observed the scroll.
	At time.Time
}

// Caption is one caption snapshot handed to a matching round.
type Caption struct {
	// Text is the transcription of the currently playing audio.
	Text string

	// Region is the screen region the caption was captured from.
	Region Rect

	// CapturedAt marks when the snapshot completed.
	CapturedAt time.Time
}

// Transcript is a caption update produced by a live speech-to-text or OCR
// feed. Partial (interim) and final results use the same type; a caption
// provider keeps whichever arrived last.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is a final (authoritative) or partial
	// (interim) result.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). May be zero if
	// the producer does not report confidence.
	Confidence float64

	// Timestamp marks when the utterance started, relative to feed start.
	Timestamp time.Duration
}
