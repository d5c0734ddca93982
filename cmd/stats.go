package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/claudepings/claudepings/internal/stats"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show alert and response statistics",
	Long:  `Show today's alerts, this week's total, the current streak and the last seven days.`,
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Print the report as JSON")
}

// Report is the read-only view printed by the stats command.
type Report struct {
	Today          stats.DayStats   `json:"today"`
	AverageSeconds *float64         `json:"averageResponseSeconds"`
	ThisWeek       int              `json:"thisWeekAlerts"`
	StreakDays     int              `json:"streakDays"`
	Last7Days      []stats.DayCount `json:"last7Days"`
	AllTimeAlerts  int              `json:"allTimeAlerts"`
	AllTimeClicks  int              `json:"allTimeClicks"`
	AllTimeDismiss int              `json:"allTimeDismisses"`
	FirstUsed      *time.Time       `json:"firstUsed"`
}

func buildReport(data stats.Data, now time.Time) Report {
	today := data.Day(now)
	r := Report{
		Today:          today,
		ThisWeek:       data.ThisWeekAlerts(now),
		StreakDays:     data.StreakDays(now),
		Last7Days:      data.Last7Days(now),
		AllTimeAlerts:  data.AllTimeAlerts,
		AllTimeClicks:  data.AllTimeClicks,
		AllTimeDismiss: data.AllTimeDismisses,
	}
	if avg, ok := today.AverageResponseTime(); ok {
		r.AverageSeconds = &avg
	}
	if data.FirstUsed != nil {
		t := data.FirstUsed.Time
		r.FirstUsed = &t
	}
	return r
}

func runStats(cmd *cobra.Command, args []string) error {
	data, err := stats.Load(cfg.StatsFile)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("stats: ignoring unreadable stats file", "path", cfg.StatsFile, "error", err)
	}
	data.Prune(time.Now(), cfg.RetentionDays)

	report := buildReport(data, time.Now())
	if statsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printReport(os.Stdout, report)
	return nil
}

func printReport(w io.Writer, r Report) {
	heading := color.New(color.Bold)
	dim := color.New(color.Faint)

	heading.Fprintln(w, "Claude Pings")
	fmt.Fprintln(w, "============")
	fmt.Fprintf(w, "Stats file: %s\n\n", cfg.StatsFile)

	heading.Fprintln(w, "Today")
	fmt.Fprintf(w, "  Alerts:    %d\n", r.Today.AlertCount)
	fmt.Fprintf(w, "  Clicked:   %s\n", color.New(color.FgGreen).Sprint(r.Today.ClickedCount))
	fmt.Fprintf(w, "  Dismissed: %s\n", color.New(color.FgYellow).Sprint(r.Today.DismissedCount))
	if r.AverageSeconds != nil {
		fmt.Fprintf(w, "  Avg response: %s\n", formatSeconds(*r.AverageSeconds))
	} else {
		fmt.Fprintf(w, "  Avg response: %s\n", dim.Sprint("n/a"))
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "This week: %d alerts\n", r.ThisWeek)
	streak := fmt.Sprintf("%d day", r.StreakDays)
	if r.StreakDays != 1 {
		streak += "s"
	}
	fmt.Fprintf(w, "Streak:    %s\n\n", color.New(color.FgHiMagenta).Sprint(streak))

	heading.Fprintln(w, "Last 7 days")
	peak := 0
	for _, p := range r.Last7Days {
		if p.Count > peak {
			peak = p.Count
		}
	}
	for _, p := range r.Last7Days {
		fmt.Fprintf(w, "  %s %s %d\n", p.Label, color.New(color.FgCyan).Sprint(bar(p.Count, peak, 20)), p.Count)
	}
	fmt.Fprintln(w)

	heading.Fprintln(w, "All time")
	fmt.Fprintf(w, "  Alerts: %d  Clicked: %d  Dismissed: %d\n", r.AllTimeAlerts, r.AllTimeClicks, r.AllTimeDismiss)
	if r.FirstUsed != nil {
		fmt.Fprintf(w, "  Since:  %s\n", r.FirstUsed.Local().Format("2006-01-02"))
	}
}

// bar renders count as a bar scaled so that peak fills width cells.
func bar(count, peak, width int) string {
	if count <= 0 || peak <= 0 {
		return strings.Repeat(" ", width)
	}
	n := count * width / peak
	if n == 0 {
		n = 1
	}
	return strings.Repeat("█", n) + strings.Repeat(" ", width-n)
}

func formatSeconds(s float64) string {
	if s < 60 {
		return fmt.Sprintf("%.1fs", s)
	}
	return (time.Duration(s * float64(time.Second))).Round(time.Second).String()
}
