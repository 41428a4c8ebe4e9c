package cron

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	rcron "github.com/robfig/cron/v3"
)

const (
	KindOnce     = "once"
	KindInterval = "interval"
	KindDaily    = "daily"
)

// storeVersion guards the persisted job table schema.
const storeVersion = 1

// Schedule holds the kind-specific trigger parameters. Exactly one of the
// parameter fields is meaningful for a given kind.
type Schedule struct {
	Kind      string `json:"kind"`
	AtMs      int64  `json:"atMs,omitempty"`      // once: absolute fire time
	EveryMs   int64  `json:"everyMs,omitempty"`   // interval: period
	TimeOfDay string `json:"timeOfDay,omitempty"` // daily: "HH:MM" local time
}

// JobState is the scheduler's bookkeeping, mutated only by ticks and toggles.
type JobState struct {
	NextFireMs  int64  `json:"nextFireMs"`
	LastFiredMs int64  `json:"lastFiredMs,omitempty"`
	LastStatus  string `json:"lastStatus,omitempty"`
	LastError   string `json:"lastError,omitempty"`
}

type Job struct {
	ID          string   `json:"id"`
	Owner       string   `json:"owner"`
	Prompt      string   `json:"prompt"`
	Schedule    Schedule `json:"schedule"`
	Enabled     bool     `json:"enabled"`
	State       JobState `json:"state"`
	CreatedAtMs int64    `json:"createdAtMs"`
}

type jobStore struct {
	Version int   `json:"version"`
	Jobs    []Job `json:"jobs"`
}

func newJob(owner, prompt string, sched Schedule, now time.Time) Job {
	return Job{
		ID:          uuid.New().String()[:8],
		Owner:       owner,
		Prompt:      prompt,
		Schedule:    sched,
		Enabled:     true,
		State:       JobState{NextFireMs: computeNext(sched, now)},
		CreatedAtMs: now.UnixMilli(),
	}
}

// computeNext returns the first fire instant strictly derived from now for
// interval and daily kinds. For once it is the absolute scheduled instant.
func computeNext(sched Schedule, now time.Time) int64 {
	switch sched.Kind {
	case KindOnce:
		return sched.AtMs
	case KindInterval:
		return now.UnixMilli() + sched.EveryMs
	case KindDaily:
		next, err := nextDaily(sched.TimeOfDay, now)
		if err != nil {
			return 0
		}
		return next.UnixMilli()
	}
	return 0
}

// advanceInterval moves next past now in whole periods, skipping any firings
// missed while the process was down instead of bursting them.
func advanceInterval(next, everyMs, nowMs int64) int64 {
	if everyMs <= 0 {
		return next
	}
	for next <= nowMs {
		next += everyMs
	}
	return next
}

// nextDaily resolves the next occurrence of a "HH:MM" time strictly after now,
// reusing the cron spec parser for the calendar arithmetic.
func nextDaily(timeOfDay string, now time.Time) (time.Time, error) {
	hour, minute, err := ParseTimeOfDay(timeOfDay)
	if err != nil {
		return time.Time{}, err
	}
	spec, err := rcron.ParseStandard(fmt.Sprintf("%d %d * * *", minute, hour))
	if err != nil {
		return time.Time{}, fmt.Errorf("build daily spec: %w", err)
	}
	return spec.Next(now), nil
}

// ParseTimeOfDay accepts "H:MM" or "HH:MM" on a 24-hour clock.
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time of day %q, want HH:MM", s)
	}
	if _, err := fmt.Sscanf(parts[0]+" "+parts[1], "%d %d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q, want HH:MM", s)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time of day %q out of range", s)
	}
	return hour, minute, nil
}

// Describe renders a human-readable schedule line for list output.
func (s Schedule) Describe() string {
	switch s.Kind {
	case KindOnce:
		return "once at " + time.UnixMilli(s.AtMs).Format("2006-01-02 15:04")
	case KindInterval:
		return "every " + time.Duration(s.EveryMs*int64(time.Millisecond)).String()
	case KindDaily:
		return "daily at " + s.TimeOfDay
	}
	return s.Kind
}
