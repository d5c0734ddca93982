package stats

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// DayFormat is the layout of day keys. Keys are zero padded, so they sort
// lexicographically in date order.
const DayFormat = "2006-01-02"

// DayStats holds one calendar day's engagement counters.
type DayStats struct {
	Date                string `json:"date"`
	AlertCount          int    `json:"alertCount"`
	DismissedCount      int    `json:"dismissedCount"`
	ClickedCount        int    `json:"clickedCount"`
	TotalResponseTimeMs int64  `json:"totalResponseTimeMs"`
	ResponseCount       int    `json:"responseCount"`
}

// AverageResponseTime returns the mean response time in seconds. ok is false
// when no response has been measured.
func (d DayStats) AverageResponseTime() (seconds float64, ok bool) {
	if d.ResponseCount <= 0 {
		return 0, false
	}
	return float64(d.TotalResponseTimeMs) / float64(d.ResponseCount) / 1000.0, true
}

// Data is the persisted statistics document.
type Data struct {
	Days             map[string]DayStats `json:"days"`
	AllTimeAlerts    int                 `json:"allTimeAlerts"`
	AllTimeClicks    int                 `json:"allTimeClicks"`
	AllTimeDismisses int                 `json:"allTimeDismisses"`
	FirstUsed        *Timestamp          `json:"firstUsed"`
}

// Empty returns a document with no recorded activity.
func Empty() Data {
	return Data{Days: make(map[string]DayStats)}
}

// Clone returns a deep copy.
func (d Data) Clone() Data {
	out := d
	out.Days = make(map[string]DayStats, len(d.Days))
	for k, v := range d.Days {
		out.Days[k] = v
	}
	if d.FirstUsed != nil {
		ts := *d.FirstUsed
		out.FirstUsed = &ts
	}
	return out
}

// DayKey formats t as a day key in t's location.
func DayKey(t time.Time) string {
	return t.Format(DayFormat)
}

// daysBefore returns the calendar day n days before t, at noon so that DST
// transitions never shift the date.
func daysBefore(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d-n, 12, 0, 0, 0, t.Location())
}

// Day returns the bucket for t's calendar day, zero-valued when absent.
func (d Data) Day(t time.Time) DayStats {
	key := DayKey(t)
	if day, ok := d.Days[key]; ok {
		return day
	}
	return DayStats{Date: key}
}

// ThisWeekAlerts sums alerts over the seven calendar days ending on today.
func (d Data) ThisWeekAlerts(today time.Time) int {
	total := 0
	for i := 0; i < 7; i++ {
		total += d.Days[DayKey(daysBefore(today, i))].AlertCount
	}
	return total
}

// DayCount is one point of the seven-day series.
type DayCount struct {
	Date  string `json:"date"`
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Last7Days returns alert counts for the seven days ending on today, oldest
// first. Labels are short weekday names.
func (d Data) Last7Days(today time.Time) []DayCount {
	out := make([]DayCount, 0, 7)
	for i := 6; i >= 0; i-- {
		day := daysBefore(today, i)
		key := DayKey(day)
		out = append(out, DayCount{
			Date:  key,
			Label: day.Format("Mon"),
			Count: d.Days[key].AlertCount,
		})
	}
	return out
}

// StreakDays counts consecutive days with at least one alert, walking back
// from today, or from yesterday when today has none yet.
func (d Data) StreakDays(today time.Time) int {
	day := daysBefore(today, 0)
	if d.Days[DayKey(day)].AlertCount == 0 {
		day = daysBefore(day, 1)
	}

	streak := 0
	for d.Days[DayKey(day)].AlertCount > 0 {
		streak++
		day = daysBefore(day, 1)
	}
	return streak
}

// Prune removes buckets older than retentionDays before today and returns
// the removed keys in order.
func (d *Data) Prune(today time.Time, retentionDays int) []string {
	cutoff := DayKey(daysBefore(today, retentionDays))
	var removed []string
	for key := range d.Days {
		if key < cutoff {
			removed = append(removed, key)
		}
	}
	sort.Strings(removed)
	for _, key := range removed {
		delete(d.Days, key)
	}
	return removed
}

// appleEpoch is the reference date used by the original desktop app when it
// encoded dates as numbers.
var appleEpoch = time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)

// Timestamp is a JSON time that encodes as RFC 3339 and also decodes the
// numeric form (seconds since 2001-01-01 UTC) found in older documents.
type Timestamp struct {
	time.Time
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
		t.Time = parsed
		return nil
	}

	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("invalid timestamp %s", string(b))
	}
	t.Time = appleEpoch.Add(time.Duration(secs * float64(time.Second)))
	return nil
}
