// Package watcher reruns a build whenever its input files change.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// DefaultDebounce is how long a file must stay quiet before it is rebuilt
const DefaultDebounce = 300 * time.Millisecond

// Handler processes one changed file
type Handler func(ctx context.Context, path string) error

// Watcher calls a Handler for files matching a pattern, debounced per file.
// Handler calls never overlap.
type Watcher struct {
	watcher  *fsnotify.Watcher
	dir      string
	pattern  string
	handler  Handler
	logger   *logrus.Logger
	debounce time.Duration

	mu     sync.Mutex // serializes handler calls
	timers map[string]*time.Timer
	closed bool
	tmu    sync.Mutex
	wg     sync.WaitGroup
}

// Options configures a Watcher
type Options struct {
	// Pattern is a filepath.Match pattern on the base name ("*.go")
	Pattern  string
	Debounce time.Duration
	Logger   *logrus.Logger
}

// New watches dir, which must exist
func New(dir string, handler Handler, opts Options) (*Watcher, error) {
	if opts.Pattern == "" {
		opts.Pattern = "*.go"
	}
	if _, err := filepath.Match(opts.Pattern, ""); err != nil {
		return nil, fmt.Errorf("bad pattern %q: %w", opts.Pattern, err)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	opts.Logger.WithFields(logrus.Fields{
		"dir":     dir,
		"pattern": opts.Pattern,
	}).Info("watching for changes")

	return &Watcher{
		watcher:  fw,
		dir:      dir,
		pattern:  opts.Pattern,
		handler:  handler,
		logger:   opts.Logger,
		debounce: opts.Debounce,
		timers:   make(map[string]*time.Timer),
	}, nil
}

// Run processes events until ctx is done, then waits for a running
// handler and closes the underlying watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() {
		w.stopTimers()
		w.wg.Wait()
		w.watcher.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !w.Match(event.Name) {
				continue
			}
			w.logger.WithFields(logrus.Fields{
				"event": event.Op.String(),
				"file":  filepath.Base(event.Name),
			}).Debug("file event")
			w.schedule(ctx, event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Error("watcher error")
		}
	}
}

// Match reports whether path's base name matches the pattern
func (w *Watcher) Match(path string) bool {
	ok, _ := filepath.Match(w.pattern, filepath.Base(path))
	return ok
}

func (w *Watcher) schedule(ctx context.Context, path string) {
	w.tmu.Lock()
	defer w.tmu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.tmu.Lock()
		if w.closed {
			w.tmu.Unlock()
			return
		}
		delete(w.timers, path)
		w.wg.Add(1)
		w.tmu.Unlock()
		defer w.wg.Done()
		w.handle(ctx, path)
	})
}

func (w *Watcher) stopTimers() {
	w.tmu.Lock()
	defer w.tmu.Unlock()
	w.closed = true
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
}

func (w *Watcher) handle(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	log := w.logger.WithField("file", path)
	log.Info("rebuilding")
	if err := w.handler(ctx, path); err != nil {
		log.WithError(err).Error("rebuild failed")
		return
	}
	log.Info("rebuilt")
}
