package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"habitcal/internal/clock"
	"habitcal/internal/config"
	"habitcal/internal/gateway"
	"habitcal/internal/habit"
	"habitcal/internal/ics"
	"habitcal/internal/recurrence"
	"habitcal/internal/schedule"
	"habitcal/internal/tzclock"
)

type scheduleFlags struct {
	activity  string
	start     string
	duration  int
	frequency string
	days      string
	interval  int
	timezone  string
	now       string
	format    string
	preview   int
}

func newScheduleCmd(configPath *string) *cobra.Command {
	var f scheduleFlags

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Compute a habit's first occurrence without touching the calendar",
		Example: `  habitcal schedule --activity meditate --start 07:00 --duration 30 --frequency daily
  habitcal schedule --activity gym --start 18:00 --frequency weekly --days MO,WE --format ics`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			return runSchedule(cmd.OutOrStdout(), conf, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.activity, "activity", "", "Habit name (required)")
	fl.StringVar(&f.start, "start", "", "Start time of day, HH:MM (required)")
	fl.IntVar(&f.duration, "duration", 0, "Duration in minutes (config default when 0)")
	fl.StringVar(&f.frequency, "frequency", "", "daily, weekly, biweekly or monthly; empty for a single event")
	fl.StringVar(&f.days, "days", "", "Comma separated weekday codes for weekly habits, e.g. MO,WE")
	fl.IntVar(&f.interval, "interval", 0, "Repeat every N periods")
	fl.StringVar(&f.timezone, "timezone", "", "IANA timezone (config default when empty)")
	fl.StringVar(&f.now, "now", "", "Evaluate as of this RFC 3339 instant instead of the current time")
	fl.StringVar(&f.format, "format", "json", "Output format: json or ics")
	fl.IntVar(&f.preview, "preview", 5, "Number of upcoming starts to list in json output")
	_ = cmd.MarkFlagRequired("activity")
	_ = cmd.MarkFlagRequired("start")
	return cmd
}

func runSchedule(out io.Writer, conf *config.Config, f scheduleFlags) error {
	var clk clock.Clock = clock.Real()
	if f.now != "" {
		t, err := time.Parse(time.RFC3339, f.now)
		if err != nil {
			return fmt.Errorf("--now: %w", err)
		}
		clk = clock.Fixed(t)
	}

	req := schedule.Request{
		Activity:        f.activity,
		StartTimeOfDay:  f.start,
		DurationMinutes: f.duration,
		Timezone:        f.timezone,
	}
	if f.frequency != "" {
		p := &recurrence.Pattern{Type: recurrence.FrequencyType(strings.ToLower(f.frequency)), Interval: f.interval}
		for _, d := range strings.Split(f.days, ",") {
			if d = strings.TrimSpace(d); d != "" {
				p.DaysOfWeek = append(p.DaysOfWeek, recurrence.DayCode(strings.ToUpper(d)))
			}
		}
		req.Recurrence = p
	}

	// The dry run never writes, so the in-memory calendar stands in.
	svc := habit.NewService(gateway.NewMemory(clk), clk, habit.Options{
		Timezone:               conf.Timezone,
		DefaultDurationMinutes: conf.DefaultDurationMinutes,
	})
	req, occ, err := svc.Plan(req)
	if err != nil {
		return err
	}
	zone, err := tzclock.Load(occ.Timezone)
	if err != nil {
		return err
	}
	series := ics.Series{Start: occ.Start, Zone: zone, Rules: occ.RecurrenceRule}

	switch f.format {
	case "ics":
		doc, err := ics.Export(ics.Event{
			UID:         uuid.NewString() + "@habitcal",
			Summary:     req.Activity,
			Description: req.Description,
			Series:      series,
			End:         occ.End,
			Stamp:       clk.Now(),
		})
		if err != nil {
			return err
		}
		_, err = io.WriteString(out, doc)
		return err
	case "json":
		n := f.preview
		if n <= 0 {
			n = 1
		}
		starts, err := ics.Preview(series, n)
		if err != nil {
			return err
		}
		preview := make([]string, 0, len(starts))
		for _, c := range starts {
			preview = append(preview, c.String())
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Occurrence schedule.Occurrence `json:"occurrence"`
			Repeats    string              `json:"repeats"`
			Preview    []string            `json:"preview"`
		}{occ, recurrence.Describe(req.Recurrence), preview})
	default:
		return fmt.Errorf("unknown format %q", f.format)
	}
}
