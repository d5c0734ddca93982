package trigger

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Op is a bit set of file-system changes.
type Op uint32

const (
	OpWrite Op = 1 << iota
	OpCreate
	OpRename
	OpRemove
)

// Event is a change observed on a subscribed path.
type Event struct {
	Path string
	Op   Op
}

// Subscription is a cancellable stream of change events.
type Subscription interface {
	Events() <-chan Event
	// Close stops delivery and closes the Events channel. Safe to call
	// more than once.
	Close() error
}

// Subscriber opens change subscriptions on a single path.
type Subscriber interface {
	Subscribe(path string, mask Op) (Subscription, error)
}

// NotifySubscriber implements Subscriber with fsnotify. It watches the parent
// directory so that deletion and recreation of the file stay visible.
type NotifySubscriber struct {
	Logger *slog.Logger
}

// NewNotifySubscriber returns a fsnotify-backed Subscriber.
func NewNotifySubscriber(logger *slog.Logger) *NotifySubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotifySubscriber{Logger: logger}
}

func (n *NotifySubscriber) Subscribe(path string, mask Op) (Subscription, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	path = filepath.Clean(path)
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	s := &notifySubscription{
		w:      w,
		path:   path,
		mask:   mask,
		out:    make(chan Event, 16),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
		log:    n.Logger,
	}
	go s.loop()
	return s, nil
}

type notifySubscription struct {
	w      *fsnotify.Watcher
	path   string
	mask   Op
	out    chan Event
	done   chan struct{}
	exited chan struct{}
	once   sync.Once
	log    *slog.Logger
}

func (s *notifySubscription) Events() <-chan Event { return s.out }

func (s *notifySubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.w.Close()
		<-s.exited
	})
	return err
}

func (s *notifySubscription) loop() {
	defer close(s.exited)
	defer close(s.out)

	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != s.path {
				continue
			}
			op := translate(ev.Op) & s.mask
			if op == 0 {
				continue
			}
			select {
			case s.out <- Event{Path: s.path, Op: op}:
			case <-s.done:
				return
			}
		case err, ok := <-s.w.Errors:
			if !ok {
				return
			}
			s.log.Warn("trigger: fsnotify error", "path", s.path, "error", err)
		}
	}
}

func translate(op fsnotify.Op) Op {
	var out Op
	if op.Has(fsnotify.Write) {
		out |= OpWrite
	}
	if op.Has(fsnotify.Create) {
		out |= OpCreate
	}
	if op.Has(fsnotify.Rename) {
		out |= OpRename
	}
	if op.Has(fsnotify.Remove) {
		out |= OpRemove
	}
	return out
}
