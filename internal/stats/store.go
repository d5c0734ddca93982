// Package stats keeps the engagement analytics document: per-day alert,
// click and dismiss counters, response latencies and derived rollups.
//
// The in-memory document is authoritative. Every mutation prunes buckets
// beyond the retention horizon and hands a snapshot to a background writer
// that replaces the file atomically; the file may lag by one write.
package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultRetentionDays is how many days of buckets are kept.
const DefaultRetentionDays = 30

// Options tunes a Store. Zero values select the defaults.
type Options struct {
	Now           func() time.Time
	Location      *time.Location
	RetentionDays int
	Logger        *slog.Logger
}

// Store owns the statistics document and the pending-alert map.
type Store struct {
	path string
	opts Options
	log  *slog.Logger

	mu      sync.Mutex
	data    Data
	pending map[string]time.Time
	dirty   bool

	changes   chan struct{}
	kick      chan struct{}
	flushReq  chan chan struct{}
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Load reads a document from path.
func Load(path string) (Data, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Empty(), err
	}
	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return Empty(), fmt.Errorf("failed to parse stats file: %w", err)
	}
	if data.Days == nil {
		data.Days = make(map[string]DayStats)
	}
	for key, day := range data.Days {
		if day.Date == "" {
			day.Date = key
			data.Days[key] = day
		}
	}
	return data, nil
}

// NewStore loads the document at path and starts the background writer.
// A missing or unreadable document yields an empty one.
func NewStore(path string, opts Options) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = DefaultRetentionDays
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Store{
		path:     path,
		opts:     opts,
		log:      opts.Logger.With("component", "stats"),
		pending:  make(map[string]time.Time),
		changes:  make(chan struct{}, 1),
		kick:     make(chan struct{}, 1),
		flushReq: make(chan chan struct{}),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	data, err := Load(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.log.Debug("stats: no stats file, starting empty", "path", path)
	case err != nil:
		s.log.Warn("stats: failed to load stats file, starting empty", "path", path, "error", err)
	}
	s.data = data

	if removed := s.data.Prune(s.today(), opts.RetentionDays); len(removed) > 0 {
		s.log.Debug("stats: pruned old days", "days", removed)
		s.dirty = true
		s.kick <- struct{}{}
	}

	go s.writer()
	return s
}

// Path returns the document location.
func (s *Store) Path() string { return s.path }

func (s *Store) today() time.Time {
	return s.opts.Now().In(s.opts.Location)
}

// RecordAlert counts a presented alert and starts its response timer.
func (s *Store) RecordAlert(id string) {
	s.mu.Lock()
	now := s.opts.Now()
	key := s.ensureToday(now)

	day := s.data.Days[key]
	day.AlertCount++
	s.data.Days[key] = day
	s.data.AllTimeAlerts++
	s.pending[id] = now
	if s.data.FirstUsed == nil {
		s.data.FirstUsed = &Timestamp{Time: now}
	}

	s.commitLocked()
	s.mu.Unlock()
	s.notify()
}

// RecordClick counts a click. The first outcome reported for a pending id
// also contributes its response time.
func (s *Store) RecordClick(id string) {
	s.recordOutcome(id, true)
}

// RecordDismiss counts a dismissal. The first outcome reported for a
// pending id also contributes its response time.
func (s *Store) RecordDismiss(id string) {
	s.recordOutcome(id, false)
}

func (s *Store) recordOutcome(id string, clicked bool) {
	s.mu.Lock()
	now := s.opts.Now()
	key := s.ensureToday(now)

	day := s.data.Days[key]
	if clicked {
		day.ClickedCount++
		s.data.AllTimeClicks++
	} else {
		day.DismissedCount++
		s.data.AllTimeDismisses++
	}

	if issued, ok := s.pending[id]; ok {
		delete(s.pending, id)
		elapsed := now.Sub(issued).Milliseconds()
		if elapsed < 0 {
			elapsed = 0
		}
		day.TotalResponseTimeMs += elapsed
		day.ResponseCount++
	}
	s.data.Days[key] = day

	s.commitLocked()
	s.mu.Unlock()
	s.notify()
}

// ensureToday creates the bucket for now's day and returns its key.
func (s *Store) ensureToday(now time.Time) string {
	key := DayKey(now.In(s.opts.Location))
	if _, ok := s.data.Days[key]; !ok {
		s.data.Days[key] = DayStats{Date: key}
	}
	return key
}

// commitLocked prunes and schedules a save. Called with s.mu held.
func (s *Store) commitLocked() {
	if removed := s.data.Prune(s.today(), s.opts.RetentionDays); len(removed) > 0 {
		s.log.Debug("stats: pruned old days", "days", removed)
	}
	s.dirty = true
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Store) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

// Changes signals after every mutation. Signals coalesce; read Snapshot or
// the derived accessors to observe the new state.
func (s *Store) Changes() <-chan struct{} { return s.changes }

// Snapshot returns a copy of the document.
func (s *Store) Snapshot() Data {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Clone()
}

// Today returns today's bucket, zero-valued when nothing happened yet.
func (s *Store) Today() DayStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Day(s.today())
}

// AverageResponseTime returns the mean response time in seconds for the
// day containing t.
func (s *Store) AverageResponseTime(t time.Time) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Day(t.In(s.opts.Location)).AverageResponseTime()
}

// ThisWeekAlerts sums alerts over the seven days ending today.
func (s *Store) ThisWeekAlerts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.ThisWeekAlerts(s.today())
}

// Last7Days returns the alert series for the seven days ending today.
func (s *Store) Last7Days() []DayCount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Last7Days(s.today())
}

// StreakDays returns the current activity streak.
func (s *Store) StreakDays() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.StreakDays(s.today())
}

// PendingCount returns the number of alerts awaiting an outcome.
func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Flush blocks until every mutation made before the call is on disk, or
// ctx is done.
func (s *Store) Flush(ctx context.Context) error {
	reply := make(chan struct{})
	select {
	case s.flushReq <- reply:
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close writes pending changes and stops the background writer.
func (s *Store) Close() error {
	s.closeOnce.Do(func() { close(s.quit) })
	<-s.done
	return nil
}

func (s *Store) writer() {
	defer close(s.done)
	for {
		select {
		case <-s.kick:
			s.persist()
		case reply := <-s.flushReq:
			s.persist()
			close(reply)
		case <-s.quit:
			s.persist()
			return
		}
	}
}

// persist writes the current document if it changed since the last write.
// Failures are logged; the next mutation tries again.
func (s *Store) persist() {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return
	}
	snapshot := s.data.Clone()
	s.dirty = false
	s.mu.Unlock()

	if err := writeAtomic(s.path, snapshot); err != nil {
		s.log.Warn("stats: failed to save stats file", "path", s.path, "error", err)
	}
}

// writeAtomic encodes data into a temp file next to path and renames it
// into place.
func writeAtomic(path string, data Data) error {
	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode stats: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create stats directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(encoded); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace stats file: %w", err)
	}
	return nil
}
