// Package watch signals when the vector data directory changes.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

const ops = fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename

// Watcher coalesces bursts of file events in one directory into a single
// callback. Subdirectories are not watched.
type Watcher struct {
	fsw      *fsnotify.Watcher
	dir      string
	debounce time.Duration
	match    func(path string) bool
	logger   *slog.Logger
}

// New watches dir. match selects the paths that count as changes; nil
// accepts all of them.
func New(dir string, debounce time.Duration, match func(path string) bool, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if match == nil {
		match = func(string) bool { return true }
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &Watcher{fsw: fsw, dir: dir, debounce: debounce, match: match, logger: logger}, nil
}

// Run calls onChange once per quiet period after matching events until ctx
// is done. Callbacks never overlap.
func (w *Watcher) Run(ctx context.Context, onChange func(context.Context)) error {
	defer func() { _ = w.fsw.Close() }()

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	var fire <-chan time.Time
	pending := 0

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watch: event channel closed")
			}
			if ev.Op&ops == 0 || !w.match(ev.Name) {
				continue
			}
			pending++
			timer.Reset(w.debounce)
			fire = timer.C
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("watch: error channel closed")
			}
			w.logger.Warn("watch error", "dir", w.dir, "err", err)
		case <-fire:
			fire = nil
			w.logger.Debug("data directory changed", "dir", w.dir, "events", pending)
			pending = 0
			onChange(ctx)
		}
	}
}
