// Package alert turns trigger ids into presented alerts and reports how
// each one was resolved to the statistics store.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Outcome is how an alert was resolved.
type Outcome int

const (
	Pending Outcome = iota
	Clicked
	Dismissed
)

func (o Outcome) String() string {
	switch o {
	case Clicked:
		return "clicked"
	case Dismissed:
		return "dismissed"
	default:
		return "pending"
	}
}

// Alert is one presented alert.
type Alert struct {
	ID       string
	PID      int
	IssuedAt time.Time
}

// Presenter shows an alert and reports the user's response. Present may
// block until the user acts.
type Presenter interface {
	Present(ctx context.Context, a Alert) (Outcome, error)
}

// Recorder receives alert lifecycle events.
type Recorder interface {
	RecordAlert(id string)
	RecordClick(id string)
	RecordDismiss(id string)
}

// Options tunes a Service.
type Options struct {
	// Timeout bounds a single Present call. 0 means no limit.
	Timeout   time.Duration
	OnOutcome func(Outcome)
	Logger    *slog.Logger
}

// Service assigns ids, presents alerts and records outcomes.
type Service struct {
	rec       Recorder
	presenter Presenter
	opts      Options
	log       *slog.Logger
	newID     func() string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a Service.
func NewService(rec Recorder, presenter Presenter, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		rec:       rec,
		presenter: presenter,
		opts:      opts,
		log:       opts.Logger.With("component", "alert"),
		newID:     uuid.NewString,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Handle records and presents an alert for pid and returns its id. The
// presenter runs on its own goroutine.
func (s *Service) Handle(pid int) string {
	a := Alert{ID: s.newID(), PID: pid, IssuedAt: time.Now()}
	s.rec.RecordAlert(a.ID)
	s.log.Info("alert: presented", "pid", pid, "alert_id", a.ID)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.present(a)
	}()
	return a.ID
}

func (s *Service) present(a Alert) {
	ctx := s.ctx
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	outcome, err := s.presenter.Present(ctx, a)
	if err != nil {
		s.log.Warn("alert: presenter failed", "pid", a.PID, "alert_id", a.ID, "error", err)
		outcome = Pending
	}

	switch outcome {
	case Clicked:
		s.rec.RecordClick(a.ID)
	case Dismissed:
		s.rec.RecordDismiss(a.ID)
	default:
		return
	}
	s.log.Info("alert: resolved", "pid", a.PID, "alert_id", a.ID, "outcome", outcome.String())
	if s.opts.OnOutcome != nil {
		s.opts.OnOutcome(outcome)
	}
}

// Wait blocks until every in-flight presenter has returned.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Close cancels in-flight presenters and waits for them.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

// CommandPresenter runs a shell command per alert. Exit status 0 means the
// user clicked the alert; any other exit status means it was dismissed.
type CommandPresenter struct {
	Command string
}

func (p CommandPresenter) Present(ctx context.Context, a Alert) (Outcome, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", p.Command)
	cmd.Env = append(os.Environ(),
		"CLAUDE_PINGS_PID="+strconv.Itoa(a.PID),
		"CLAUDE_PINGS_ALERT_ID="+a.ID,
	)

	err := cmd.Run()
	if ctx.Err() != nil {
		return Pending, ctx.Err()
	}
	if err == nil {
		return Clicked, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return Dismissed, nil
	}
	return Pending, fmt.Errorf("failed to run notify command: %w", err)
}

// LogPresenter only logs alerts. They stay pending.
type LogPresenter struct {
	Logger *slog.Logger
}

func (p LogPresenter) Present(ctx context.Context, a Alert) (Outcome, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("claude is waiting", "pid", a.PID, "alert_id", a.ID)
	return Pending, nil
}
