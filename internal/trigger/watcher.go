// Package trigger tails the trigger file that hooks append process ids to
// and turns each newly appended id into a callback.
//
// The file is treated as append-only. Content present when the watcher
// starts is never replayed. Once the file grows past Options.MaxSize it is
// truncated in place, which drops anything written between the last read and
// the truncation.
package trigger

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	// DefaultMaxSize is the size above which the trigger file is cleared.
	DefaultMaxSize = 10240
	// DefaultRestartDelay is how long the watcher waits before restarting
	// after the trigger file disappears.
	DefaultRestartDelay = 500 * time.Millisecond

	watchMask = OpWrite | OpCreate | OpRename | OpRemove
)

// Options tunes a Watcher. Zero values select the defaults.
type Options struct {
	Subscriber   Subscriber
	Dispatcher   Dispatcher
	RestartDelay time.Duration
	MaxSize      int64
	Logger       *slog.Logger
}

// Watcher surfaces process ids appended to a trigger file.
type Watcher struct {
	path string
	opts Options

	// lifecycle serialises Start, Stop and the delayed restart.
	lifecycle sync.Mutex
	sub       Subscription
	loopDone  chan struct{}

	mu       sync.Mutex
	handler  func(pid int)
	cursor   int64
	fragment string
	restart  *time.Timer
	gen      uint64
}

// New creates a watcher for path. Call Start to begin watching.
func New(path string, opts Options) *Watcher {
	if opts.Subscriber == nil {
		opts.Subscriber = NewNotifySubscriber(opts.Logger)
	}
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = DefaultRestartDelay
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.Logger = opts.Logger.With("component", "trigger")
	return &Watcher{path: path, opts: opts}
}

// Path returns the watched file.
func (w *Watcher) Path() string { return w.path }

// OnTrigger registers the handler invoked once per discovered id. Without a
// Dispatcher the handler runs on the watcher's event goroutine.
func (w *Watcher) OnTrigger(fn func(pid int)) {
	w.mu.Lock()
	w.handler = fn
	w.mu.Unlock()
}

// Cursor returns the byte offset already consumed.
func (w *Watcher) Cursor() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cursor
}

// Start ensures the trigger file exists, skips its current content and
// subscribes to changes. A failed subscription leaves the watcher idle;
// callers may call Start again.
func (w *Watcher) Start() error {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()
	return w.startLocked()
}

// Stop cancels the subscription and any pending restart. Calling Stop on a
// stopped watcher is a no-op.
func (w *Watcher) Stop() {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()

	w.mu.Lock()
	w.gen++
	if w.restart != nil {
		w.restart.Stop()
		w.restart = nil
	}
	w.mu.Unlock()

	w.stopLocked()
}

func (w *Watcher) startLocked() error {
	if w.sub != nil {
		return nil
	}

	size, err := ensureFile(w.path)
	if err != nil {
		w.opts.Logger.Error("trigger: failed to prepare trigger file", "path", w.path, "error", err)
		return err
	}

	w.mu.Lock()
	w.cursor = size
	w.fragment = ""
	w.mu.Unlock()

	sub, err := w.opts.Subscriber.Subscribe(w.path, watchMask)
	if err != nil {
		w.opts.Logger.Error("trigger: failed to open trigger file for watching", "path", w.path, "error", err)
		return err
	}

	w.sub = sub
	w.loopDone = make(chan struct{})
	go w.loop(sub, w.loopDone)

	w.opts.Logger.Debug("trigger: watching", "path", w.path, "cursor", size)
	return nil
}

func (w *Watcher) stopLocked() {
	if w.sub == nil {
		return
	}
	_ = w.sub.Close()
	<-w.loopDone
	w.sub = nil
	w.loopDone = nil
	w.opts.Logger.Debug("trigger: stopped", "path", w.path)
}

func (w *Watcher) loop(sub Subscription, done chan struct{}) {
	defer close(done)
	for range sub.Events() {
		w.handle()
	}
}

// handle processes one change notification.
func (w *Watcher) handle() {
	info, err := os.Stat(w.path)
	if errors.Is(err, os.ErrNotExist) {
		w.scheduleRestart()
		return
	}
	if err != nil {
		w.opts.Logger.Debug("trigger: stat failed", "path", w.path, "error", err)
		return
	}

	ids := w.consume(info.Size())
	w.emit(ids)
}

// consume reads the unread delta, advances the cursor and applies the size
// limit. It returns the ids found in complete lines.
func (w *Watcher) consume(size int64) []int {
	w.mu.Lock()
	defer w.mu.Unlock()

	if size < w.cursor {
		// Replaced or truncated by someone else.
		w.cursor = 0
		w.fragment = ""
	}

	chunk, err := ReadFrom(w.path, w.cursor)
	if err != nil {
		w.opts.Logger.Debug("trigger: read failed", "path", w.path, "error", err)
		return nil
	}
	if len(chunk) == 0 {
		return nil
	}

	var ids []int
	if utf8.Valid(chunk) {
		var complete string
		complete, w.fragment = splitComplete(w.fragment + string(chunk))
		w.cursor += int64(len(chunk))
		ids = ParseIDs(complete)
	} else {
		w.opts.Logger.Debug("trigger: skipping undecodable chunk", "path", w.path, "bytes", len(chunk))
	}

	w.enforceMaxSize()
	return ids
}

// emit delivers ids in file order.
func (w *Watcher) emit(ids []int) {
	w.mu.Lock()
	handler := w.handler
	w.mu.Unlock()

	if handler == nil || len(ids) == 0 {
		return
	}
	if w.opts.Dispatcher == nil {
		for _, id := range ids {
			handler(id)
		}
		return
	}
	w.opts.Dispatcher.Dispatch(func() {
		for _, id := range ids {
			handler(id)
		}
	})
}

// enforceMaxSize truncates the trigger file once it exceeds MaxSize. Called
// with w.mu held.
func (w *Watcher) enforceMaxSize() {
	info, err := os.Stat(w.path)
	if err != nil || info.Size() <= w.opts.MaxSize {
		return
	}
	if err := os.Truncate(w.path, 0); err != nil {
		w.opts.Logger.Warn("trigger: failed to truncate trigger file", "path", w.path, "error", err)
		return
	}
	w.cursor = 0
	w.fragment = ""
	w.opts.Logger.Debug("trigger: truncated trigger file", "path", w.path, "size", info.Size())
}

// scheduleRestart arranges a single stop-then-start after RestartDelay. A
// Stop issued before the timer fires cancels it.
func (w *Watcher) scheduleRestart() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.restart != nil {
		return
	}
	gen := w.gen
	w.opts.Logger.Debug("trigger: trigger file removed, restarting", "path", w.path, "delay", w.opts.RestartDelay)
	w.restart = time.AfterFunc(w.opts.RestartDelay, func() {
		w.lifecycle.Lock()
		defer w.lifecycle.Unlock()

		w.mu.Lock()
		stale := w.gen != gen
		if !stale {
			w.restart = nil
		}
		w.mu.Unlock()
		if stale {
			return
		}

		w.stopLocked()
		if err := w.startLocked(); err != nil {
			w.opts.Logger.Warn("trigger: restart failed", "path", w.path, "error", err)
		}
	})
}

// ensureFile creates path and its parent directory when missing and
// returns the current size.
func ensureFile(path string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to create trigger file: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
