// Package cvelist watches a local cvelistV5 checkout for changed records.
package cvelist

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ahrav/flawtracker/pkg/common/logger"
)

const defaultDebounce = 2 * time.Second

// Watcher turns file system events under a checkout into batches of changed
// record paths. A batch is emitted once no new event arrived for the
// debounce window, so a git pull yields a few large batches rather than one
// event per file.
type Watcher struct {
	root     string
	match    func(path string) bool
	debounce time.Duration
	watcher  *fsnotify.Watcher
	batches  chan []string
	logger   *logger.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce overrides the quiet period before a batch is emitted.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// NewWatcher watches every directory below root. Only paths accepted by
// match are reported.
func NewWatcher(root string, match func(string) bool, log *logger.Logger, opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		root:     root,
		match:    match,
		debounce: defaultDebounce,
		watcher:  fsw,
		batches:  make(chan []string, 16),
		logger:   log.With("component", "cvelist_watcher"),
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := w.addTree(root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// addTree registers dir and all of its subdirectories; fsnotify does not
// watch recursively.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == ".git" {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// Batches returns the channel of changed paths. It is closed when Run returns.
func (w *Watcher) Batches() <-chan []string { return w.batches }

// Run processes events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.batches)
	defer w.watcher.Close()

	pending := make(map[string]struct{})
	timer := time.NewTimer(w.debounce)
	timer.Stop()

	flush := func() {
		if len(pending) == 0 {
			return
		}
		batch := make([]string, 0, len(pending))
		for p := range pending {
			batch = append(batch, p)
		}
		slices.Sort(batch)
		clear(pending)

		select {
		case w.batches <- batch:
		case <-ctx.Done():
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Rename) {
				continue
			}
			if evt.Has(fsnotify.Create) {
				if info, err := os.Stat(evt.Name); err == nil && info.IsDir() {
					if err := w.addTree(evt.Name); err != nil {
						w.logger.Warn(ctx, "Failed to watch new directory", "path", evt.Name, "error", err)
					}
					continue
				}
			}
			if !w.match(evt.Name) {
				continue
			}
			pending[evt.Name] = struct{}{}
			timer.Reset(w.debounce)

		case <-timer.C:
			flush()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn(ctx, "File watcher error", "error", err)
		}
	}
}
