// Package schedule parses and evaluates the recurrence descriptions stored
// with scheduled comms. A schedule is a small JSON document with a kind of
// "cron", "interval", or "once"; bare cron expressions are accepted as
// operator shorthand and wrapped on the way in.
package schedule

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

// Schedule is the stored recurrence description for one scheduled comm.
// Exactly one of the kind-specific fields is meaningful.
type Schedule struct {
	Kind       string `json:"kind"`
	CronExpr   string `json:"cron_expr,omitempty"`
	IntervalMs int64  `json:"interval_ms,omitempty"`
	AtMs       int64  `json:"at_ms,omitempty"`
}

// Parse decodes a schedule JSON document. It does not validate the kind;
// use Normalize for input coming from the operator.
func Parse(raw string) (*Schedule, error) {
	var s Schedule
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("parse schedule: %w", err)
	}
	return &s, nil
}

// NextRun computes when the schedule should next fire, relative to now.
// Returns nil when the schedule has no future run: an expired one-shot, an
// unknown kind, or a cron expression that no longer parses.
func (s *Schedule) NextRun(now time.Time) *time.Time {
	switch s.Kind {
	case "cron":
		next, err := gronx.NextTickAfter(s.CronExpr, now, false)
		if err != nil {
			return nil
		}
		return &next
	case "interval":
		next := now.Add(time.Duration(s.IntervalMs) * time.Millisecond)
		return &next
	case "once":
		at := time.UnixMilli(s.AtMs)
		if !at.After(now) {
			return nil
		}
		return &at
	}
	return nil
}

// CalculateNextRun is the string-in convenience used by the scheduler loop:
// it parses the stored JSON and evaluates it against the current time. Any
// parse failure reads as "no future run".
func CalculateNextRun(scheduleJSON string) *time.Time {
	s, err := Parse(scheduleJSON)
	if err != nil {
		return nil
	}
	return s.NextRun(time.Now())
}

// Describe renders a schedule for listings. Unparseable input is returned
// verbatim rather than hidden.
func Describe(scheduleJSON string) string {
	s, err := Parse(scheduleJSON)
	if err != nil {
		return scheduleJSON
	}

	switch s.Kind {
	case "cron":
		return "cron: " + s.CronExpr
	case "interval":
		return "every " + formatInterval(time.Duration(s.IntervalMs)*time.Millisecond)
	case "once":
		return "once at " + time.UnixMilli(s.AtMs).Format("Jan 2 15:04")
	}
	return scheduleJSON
}

func formatInterval(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		if h := int(d.Hours()); h > 1 {
			return fmt.Sprintf("%d hours", h)
		}
		return "hour"
	case d >= time.Minute && d%time.Minute == 0:
		if m := int(d.Minutes()); m > 1 {
			return fmt.Sprintf("%d minutes", m)
		}
		return "minute"
	default:
		return fmt.Sprintf("%d seconds", int(d.Seconds()))
	}
}

// Normalize validates operator-supplied schedule input and returns the
// canonical JSON form. A bare cron expression is wrapped; a JSON document
// must carry a known kind with a usable value.
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)

	var s Schedule
	if err := json.Unmarshal([]byte(raw), &s); err == nil && s.Kind != "" {
		switch s.Kind {
		case "cron":
			if !gronx.New().IsValid(s.CronExpr) {
				return "", fmt.Errorf("invalid cron expression: %s", s.CronExpr)
			}
		case "interval":
			if s.IntervalMs <= 0 {
				return "", fmt.Errorf("interval_ms must be positive")
			}
		case "once":
			if s.AtMs <= 0 {
				return "", fmt.Errorf("at_ms must be positive")
			}
		default:
			return "", fmt.Errorf("unknown schedule kind: %s", s.Kind)
		}
		return raw, nil
	}

	if !gronx.New().IsValid(raw) {
		return "", fmt.Errorf("invalid schedule: not schedule JSON or a cron expression: %s", raw)
	}

	data, err := json.Marshal(Schedule{Kind: "cron", CronExpr: raw})
	if err != nil {
		return "", err
	}
	return string(data), nil
}
