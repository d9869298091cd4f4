// Package watch queues gate jobs for videos dropped into an inbox directory.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"splatgate/internal/fsutil"
	"splatgate/internal/pipeline"
)

// DefaultSettle is how long a file must stay unchanged before it is queued.
const DefaultSettle = 2 * time.Second

// Submitter accepts jobs without blocking.
type Submitter interface {
	Submit(job pipeline.Job) error
}

// InboxWatcher watches one directory (not recursively) and submits an
// analyze job once per video file after writes to it settle.
type InboxWatcher struct {
	Dir      string
	Settle   time.Duration
	Backfill bool // queue videos already present at start
	Options  map[string]any

	submit Submitter
	log    *slog.Logger

	mu      sync.Mutex
	pending map[string]time.Time
	queued  map[string]bool
}

// NewInboxWatcher returns a watcher for dir.
func NewInboxWatcher(dir string, submit Submitter, log *slog.Logger) *InboxWatcher {
	if log == nil {
		log = slog.Default()
	}
	return &InboxWatcher{
		Dir:     dir,
		Settle:  DefaultSettle,
		submit:  submit,
		log:     log,
		pending: make(map[string]time.Time),
		queued:  make(map[string]bool),
	}
}

// Run watches until ctx is cancelled.
func (w *InboxWatcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.Dir, err)
	}
	w.log.Info("watching inbox", "dir", w.Dir, "settle", w.Settle)

	if w.Backfill {
		w.backfill()
	}

	settle := w.Settle
	if settle <= 0 {
		settle = DefaultSettle
	}
	tick := time.NewTicker(settle / 4)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ev)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("inbox watcher error", "dir", w.Dir, "error", err)

		case now := <-tick.C:
			for _, path := range w.settled(now, settle) {
				w.enqueue(path)
			}
		}
	}
}

func (w *InboxWatcher) handleEvent(ev fsnotify.Event) {
	if !fsutil.IsVideoFile(ev.Name) || isHidden(ev.Name) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		if !w.queued[ev.Name] {
			w.pending[ev.Name] = time.Now()
		}
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		delete(w.pending, ev.Name)
		delete(w.queued, ev.Name)
	}
}

// settled removes and returns paths with no event for at least settle.
func (w *InboxWatcher) settled(now time.Time, settle time.Duration) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var ready []string
	for path, last := range w.pending {
		if now.Sub(last) >= settle {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	return ready
}

func (w *InboxWatcher) backfill() {
	videos, err := fsutil.ListVideos(w.Dir)
	if err != nil {
		w.log.Warn("inbox backfill failed", "dir", w.Dir, "error", err)
		return
	}
	for _, v := range videos {
		if filepath.Dir(v) == filepath.Clean(w.Dir) && !isHidden(v) {
			w.enqueue(v)
		}
	}
}

func (w *InboxWatcher) enqueue(path string) {
	w.mu.Lock()
	if w.queued[path] {
		w.mu.Unlock()
		return
	}
	w.queued[path] = true
	w.mu.Unlock()

	opts := make(map[string]any, len(w.Options))
	for k, v := range w.Options {
		opts[k] = v
	}
	job := pipeline.Job{
		ID:      "watch-" + uuid.NewString()[:8],
		Type:    pipeline.JobAnalyze,
		Source:  path,
		Options: opts,
	}
	if err := w.submit.Submit(job); err != nil {
		w.log.Warn("could not queue inbox video", "path", path, "error", err)
		w.mu.Lock()
		delete(w.queued, path)
		w.pending[path] = time.Now()
		w.mu.Unlock()
		return
	}
	w.log.Info("inbox video queued", "id", job.ID, "path", path)
}

func isHidden(path string) bool {
	base := filepath.Base(path)
	return len(base) > 0 && base[0] == '.'
}
