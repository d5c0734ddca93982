package stats

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// 2026-03-10 is a Tuesday.
var testNow = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

func setupTestStore(t *testing.T) (*Store, *fakeClock, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".claude", "claude-pings-stats.json")
	return openTestStore(t, path)
}

func openTestStore(t *testing.T, path string) (*Store, *fakeClock, string) {
	t.Helper()
	clock := &fakeClock{t: testNow}
	s := NewStore(path, Options{Now: clock.Now, Location: time.UTC})
	t.Cleanup(func() { _ = s.Close() })
	return s, clock, path
}

func writeDoc(t *testing.T, path string, data Data) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("failed to encode doc: %v", err)
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		t.Fatalf("failed to write doc: %v", err)
	}
}

func flush(t *testing.T, s *Store) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
}

func daysDoc(counts map[int]int) Data {
	data := Empty()
	for offset, n := range counts {
		key := DayKey(testNow.AddDate(0, 0, -offset))
		data.Days[key] = DayStats{Date: key, AlertCount: n}
	}
	return data
}

func TestRecordAlert(t *testing.T) {
	s, _, _ := setupTestStore(t)

	s.RecordAlert("a1")
	s.RecordAlert("a2")

	today := s.Today()
	if today.Date != "2026-03-10" {
		t.Errorf("expected date 2026-03-10, got %s", today.Date)
	}
	if today.AlertCount != 2 {
		t.Errorf("expected 2 alerts, got %d", today.AlertCount)
	}
	snap := s.Snapshot()
	if snap.AllTimeAlerts != 2 {
		t.Errorf("expected 2 all-time alerts, got %d", snap.AllTimeAlerts)
	}
	if snap.FirstUsed == nil || !snap.FirstUsed.Equal(testNow) {
		t.Errorf("expected firstUsed %v, got %v", testNow, snap.FirstUsed)
	}
	if s.PendingCount() != 2 {
		t.Errorf("expected 2 pending alerts, got %d", s.PendingCount())
	}
}

func TestRecordClick_ResponseTime(t *testing.T) {
	s, clock, _ := setupTestStore(t)

	s.RecordAlert("a1")
	clock.Advance(250 * time.Millisecond)
	s.RecordClick("a1")

	today := s.Today()
	if today.ClickedCount != 1 {
		t.Errorf("expected 1 click, got %d", today.ClickedCount)
	}
	if today.TotalResponseTimeMs != 250 {
		t.Errorf("expected 250ms total response time, got %d", today.TotalResponseTimeMs)
	}
	if today.ResponseCount != 1 {
		t.Errorf("expected 1 response, got %d", today.ResponseCount)
	}
	avg, ok := s.AverageResponseTime(clock.Now())
	if !ok || math.Abs(avg-0.25) > 1e-9 {
		t.Errorf("expected average 0.25s, got %v (ok=%v)", avg, ok)
	}
	if s.PendingCount() != 0 {
		t.Errorf("expected pending alert to be consumed, got %d", s.PendingCount())
	}
}

func TestRecordOutcome_ConsumesOnce(t *testing.T) {
	s, clock, _ := setupTestStore(t)

	s.RecordAlert("a1")
	clock.Advance(time.Second)
	s.RecordDismiss("a1")
	clock.Advance(time.Second)
	s.RecordClick("a1")

	today := s.Today()
	if today.DismissedCount != 1 || today.ClickedCount != 1 {
		t.Errorf("expected 1 dismiss and 1 click, got %d and %d", today.DismissedCount, today.ClickedCount)
	}
	if today.ResponseCount != 1 {
		t.Errorf("expected a single response measurement, got %d", today.ResponseCount)
	}
	if today.TotalResponseTimeMs != 1000 {
		t.Errorf("expected 1000ms, got %d", today.TotalResponseTimeMs)
	}
	snap := s.Snapshot()
	if snap.AllTimeClicks != 1 || snap.AllTimeDismisses != 1 {
		t.Errorf("unexpected all-time totals: %+v", snap)
	}
}

func TestRecordClick_UnknownID(t *testing.T) {
	s, clock, _ := setupTestStore(t)

	s.RecordClick("never-shown")

	today := s.Today()
	if today.ClickedCount != 1 {
		t.Errorf("expected 1 click, got %d", today.ClickedCount)
	}
	if today.ResponseCount != 0 {
		t.Errorf("expected no response measurement, got %d", today.ResponseCount)
	}
	if _, ok := s.AverageResponseTime(clock.Now()); ok {
		t.Error("expected average response time to be undefined")
	}
	if s.Snapshot().FirstUsed != nil {
		t.Error("expected firstUsed to stay unset without alerts")
	}
}

func TestRecordClick_ClockSkew(t *testing.T) {
	s, clock, _ := setupTestStore(t)

	s.RecordAlert("a1")
	clock.Advance(-time.Second)
	s.RecordClick("a1")

	if got := s.Today().TotalResponseTimeMs; got != 0 {
		t.Errorf("expected negative elapsed time to clamp to 0, got %d", got)
	}
}

func TestThisWeekAndLast7Days(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	writeDoc(t, path, daysDoc(map[int]int{0: 1, 2: 3, 6: 2, 7: 10}))
	s, _, _ := openTestStore(t, path)

	if got := s.ThisWeekAlerts(); got != 6 {
		t.Errorf("expected 6 alerts this week, got %d", got)
	}

	series := s.Last7Days()
	if len(series) != 7 {
		t.Fatalf("expected 7 points, got %d", len(series))
	}
	wantLabels := []string{"Wed", "Thu", "Fri", "Sat", "Sun", "Mon", "Tue"}
	wantCounts := []int{2, 0, 0, 0, 3, 0, 1}
	for i, p := range series {
		if p.Label != wantLabels[i] || p.Count != wantCounts[i] {
			t.Errorf("point %d: expected %s/%d, got %s/%d", i, wantLabels[i], wantCounts[i], p.Label, p.Count)
		}
	}
	if series[0].Date != "2026-03-04" || series[6].Date != "2026-03-10" {
		t.Errorf("unexpected series range %s..%s", series[0].Date, series[6].Date)
	}
}

func TestStreakDays(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	doc := daysDoc(map[int]int{4: 1, 3: 2, 2: 5, 1: 0, 0: 0})
	writeDoc(t, path, doc)
	s, _, _ := openTestStore(t, path)

	if got := s.StreakDays(); got != 0 {
		t.Errorf("expected streak 0 with an empty yesterday, got %d", got)
	}

	s.RecordAlert("a1")
	if got := s.StreakDays(); got != 1 {
		t.Errorf("expected streak 1 after alert today, got %d", got)
	}
}

func TestStreakDays_FromYesterday(t *testing.T) {
	data := daysDoc(map[int]int{3: 1, 2: 2, 1: 5})

	if got := data.StreakDays(testNow); got != 3 {
		t.Errorf("expected streak 3, got %d", got)
	}

	data = daysDoc(map[int]int{4: 1, 3: 2, 2: 5})
	if got := data.StreakDays(testNow); got != 0 {
		t.Errorf("expected streak 0 when yesterday has no bucket, got %d", got)
	}
}

func TestStreakDays_Gap(t *testing.T) {
	data := daysDoc(map[int]int{0: 1, 1: 1, 3: 4})
	if got := data.StreakDays(testNow); got != 2 {
		t.Errorf("expected streak 2, got %d", got)
	}
}

func TestPrune(t *testing.T) {
	data := daysDoc(map[int]int{0: 1, 30: 1, 31: 1, 40: 1})

	removed := data.Prune(testNow, DefaultRetentionDays)
	if len(removed) != 2 || removed[0] != "2026-01-29" || removed[1] != "2026-02-07" {
		t.Errorf("unexpected removed keys: %v", removed)
	}
	if _, ok := data.Days["2026-02-08"]; !ok {
		t.Error("expected bucket exactly 30 days old to be kept")
	}
}

func TestRetention_PrunedOnLoadAndSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	writeDoc(t, path, daysDoc(map[int]int{40: 3, 1: 1}))
	s, _, _ := openTestStore(t, path)

	if _, ok := s.Snapshot().Days["2026-01-29"]; ok {
		t.Error("expected old bucket to be pruned from memory")
	}

	s.RecordAlert("a1")
	flush(t, s)

	saved, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, ok := saved.Days["2026-01-29"]; ok {
		t.Error("expected old bucket to be absent from the saved document")
	}
	if saved.Days["2026-03-09"].AlertCount != 1 {
		t.Errorf("expected yesterday's bucket to survive, got %+v", saved.Days["2026-03-09"])
	}
}

func TestPersistence_RoundTrip(t *testing.T) {
	s, clock, path := setupTestStore(t)

	s.RecordAlert("a1")
	clock.Advance(1500 * time.Millisecond)
	s.RecordClick("a1")
	s.RecordAlert("a2")
	s.RecordDismiss("a2")
	flush(t, s)

	want := s.Snapshot()
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got.AllTimeAlerts != want.AllTimeAlerts || got.AllTimeClicks != want.AllTimeClicks || got.AllTimeDismisses != want.AllTimeDismisses {
		t.Errorf("totals differ: want %+v, got %+v", want, got)
	}
	if got.FirstUsed == nil || !got.FirstUsed.Equal(want.FirstUsed.Time) {
		t.Errorf("firstUsed differs: want %v, got %v", want.FirstUsed, got.FirstUsed)
	}
	if len(got.Days) != len(want.Days) {
		t.Fatalf("expected %d days, got %d", len(want.Days), len(got.Days))
	}
	for key, day := range want.Days {
		if got.Days[key] != day {
			t.Errorf("day %s differs: want %+v, got %+v", key, day, got.Days[key])
		}
	}
}

func TestPersistence_ReopenKeepsCounters(t *testing.T) {
	s, _, path := setupTestStore(t)
	s.RecordAlert("a1")
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, _, _ := openTestStore(t, path)
	if got := reopened.Today().AlertCount; got != 1 {
		t.Errorf("expected 1 alert after reopen, got %d", got)
	}
	if reopened.PendingCount() != 0 {
		t.Error("expected pending alerts not to be persisted")
	}
}

func TestPersistence_NoTempFilesLeft(t *testing.T) {
	s, _, path := setupTestStore(t)
	for i := 0; i < 5; i++ {
		s.RecordAlert("a")
	}
	flush(t, s)

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != filepath.Base(path) {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("expected only the stats file, got %v", names)
	}
}

func TestLoad_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected Load to report malformed JSON")
	}

	s, _, _ := openTestStore(t, path)
	snap := s.Snapshot()
	if snap.AllTimeAlerts != 0 || len(snap.Days) != 0 || snap.FirstUsed != nil {
		t.Errorf("expected empty document, got %+v", snap)
	}
	s.RecordAlert("a1")
	if s.Today().AlertCount != 1 {
		t.Error("expected store to keep working after a corrupt load")
	}
}

func TestLoad_LegacyTimestamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	raw := `{"days":{"2026-03-09":{"alertCount":2,"dismissedCount":0,"clickedCount":1,"totalResponseTimeMs":900,"responseCount":1}},` +
		`"allTimeAlerts":2,"allTimeClicks":1,"allTimeDismisses":0,"firstUsed":86400}`
	if err := os.WriteFile(path, []byte(raw), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	data, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := time.Date(2001, time.January, 2, 0, 0, 0, 0, time.UTC)
	if data.FirstUsed == nil || !data.FirstUsed.Equal(want) {
		t.Errorf("expected firstUsed %v, got %v", want, data.FirstUsed)
	}
	if data.Days["2026-03-09"].Date != "2026-03-09" {
		t.Errorf("expected missing date to be filled from key, got %q", data.Days["2026-03-09"].Date)
	}
	if avg, ok := data.Days["2026-03-09"].AverageResponseTime(); !ok || math.Abs(avg-0.9) > 1e-9 {
		t.Errorf("expected average 0.9s, got %v", avg)
	}
}

func TestLoad_NullFirstUsed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	raw := `{"days":{},"allTimeAlerts":0,"allTimeClicks":0,"allTimeDismisses":0,"firstUsed":null}`
	if err := os.WriteFile(path, []byte(raw), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	data, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if data.FirstUsed != nil {
		t.Errorf("expected nil firstUsed, got %v", data.FirstUsed)
	}
}

func TestChanges_Signals(t *testing.T) {
	s, _, _ := setupTestStore(t)
	s.RecordAlert("a1")

	select {
	case <-s.Changes():
	case <-time.After(time.Second):
		t.Fatal("expected a change signal")
	}
}

func TestConcurrentMutations(t *testing.T) {
	s, _, _ := setupTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.RecordAlert("x")
			s.RecordDismiss("x")
		}()
	}
	wg.Wait()

	today := s.Today()
	if today.AlertCount != 20 || today.DismissedCount != 20 {
		t.Errorf("expected 20/20, got %d/%d", today.AlertCount, today.DismissedCount)
	}
}

func TestClose_Idempotent(t *testing.T) {
	s, _, _ := setupTestStore(t)
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if err := s.Flush(context.Background()); err != nil {
		t.Errorf("Flush after Close returned %v", err)
	}
}
