package htmltree

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/MrWong99/captionseek/pkg/layout"
)

// FileSource serves the element tree of an HTML file and reloads it when the
// file changes. It implements [layout.Tree].
//
// A reload swaps in a new [Document]; rounds already holding nodes of the old
// document keep them valid until they finish. A file that fails to parse is
// logged and the previous document stays active.
type FileSource struct {
	path string
	opts []Option

	mu  sync.RWMutex
	doc *Document

	onReload func(*Document)
}

// SourceOption configures a [FileSource].
type SourceOption func(*FileSource)

// WithParseOptions passes opts to every [Parse] call, e.g. [WithScroller].
func WithParseOptions(opts ...Option) SourceOption {
	return func(s *FileSource) { s.opts = append(s.opts, opts...) }
}

// WithReloadHook registers fn to be called after every successful reload.
func WithReloadHook(fn func(*Document)) SourceOption {
	return func(s *FileSource) { s.onReload = fn }
}

// NewFileSource loads path immediately. Call [FileSource.Watch] to follow
// later changes.
func NewFileSource(path string, opts ...SourceOption) (*FileSource, error) {
	s := &FileSource{path: path}
	for _, o := range opts {
		o(s)
	}
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	s.doc = doc
	return s, nil
}

// Document returns the currently active document.
func (s *FileSource) Document() *Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc
}

// Root implements [layout.Tree].
func (s *FileSource) Root() layout.Node {
	return s.Document().Root()
}

// Release implements [layout.Tree].
func (s *FileSource) Release(n layout.Node) {
	if hn, ok := n.(*Node); ok && hn.doc != nil {
		hn.doc.Release(n)
		return
	}
	s.Document().Release(n)
}

// Reload re-reads the file and swaps in the new document on success.
func (s *FileSource) Reload() error {
	doc, err := s.load()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()

	slog.Info("htmltree: document reloaded", "path", s.path, "elements", doc.Len())
	if s.onReload != nil {
		s.onReload(doc)
	}
	return nil
}

// Watch reloads the document whenever the file is written, created, or
// renamed into place, until ctx is cancelled. The parent directory is watched
// rather than the file itself so that editors replacing the file atomically
// are followed. Watch blocks and returns ctx.Err() on cancellation.
func (s *FileSource) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("htmltree: create watcher: %w", err)
	}
	defer w.Close()

	abs, err := filepath.Abs(s.path)
	if err != nil {
		return fmt.Errorf("htmltree: resolve %q: %w", s.path, err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("htmltree: watch %q: %w", filepath.Dir(abs), err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if err := s.Reload(); err != nil {
				slog.Warn("htmltree: reload failed, keeping previous document", "path", s.path, "err", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("htmltree: watcher error", "path", s.path, "err", err)
		}
	}
}

func (s *FileSource) load() (*Document, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("htmltree: open %q: %w", s.path, err)
	}
	defer f.Close()

	doc, err := Parse(f, s.opts...)
	if err != nil {
		return nil, fmt.Errorf("htmltree: load %q: %w", s.path, err)
	}
	return doc, nil
}

// Ensure FileSource implements layout.Tree at compile time.
var _ layout.Tree = (*FileSource)(nil)
