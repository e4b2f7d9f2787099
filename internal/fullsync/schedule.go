package fullsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Schedule yields the next fire time strictly after a given instant.
type Schedule interface {
	Next(after time.Time) time.Time
}

// Every fires at a fixed interval.
type Every time.Duration

func (e Every) Next(after time.Time) time.Time { return after.Add(time.Duration(e)) }

// Daily fires once a day at Hour:Minute in Location.
type Daily struct {
	Hour, Minute int
	Location     *time.Location
}

func (d Daily) Next(after time.Time) time.Time {
	loc := d.Location
	if loc == nil {
		loc = time.Local
	}
	a := after.In(loc)
	t := time.Date(a.Year(), a.Month(), a.Day(), d.Hour, d.Minute, 0, 0, loc)
	if !t.After(a) {
		t = time.Date(a.Year(), a.Month(), a.Day()+1, d.Hour, d.Minute, 0, 0, loc)
	}
	return t
}

// DefaultSchedule runs at 03:00, outside catalog peak hours.
var DefaultSchedule = Daily{Hour: 3}

// ParseSchedule accepts "daily@HH:MM" or a Go duration such as "6h". An empty
// string yields DefaultSchedule in loc.
func ParseSchedule(v string, loc *time.Location) (Schedule, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		d := DefaultSchedule
		d.Location = loc
		return d, nil
	}
	if at, ok := strings.CutPrefix(v, "daily@"); ok {
		var h, m int
		if _, err := fmt.Sscanf(at, "%d:%d", &h, &m); err != nil || h < 0 || h > 23 || m < 0 || m > 59 {
			return nil, fmt.Errorf("invalid daily schedule %q", v)
		}
		return Daily{Hour: h, Minute: m, Location: loc}, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", v, err)
	}
	if d <= 0 {
		return nil, fmt.Errorf("invalid schedule %q: interval must be positive", v)
	}
	return Every(d), nil
}

// Run fires RunOnce on every tick of sched until ctx is done. When runNow is
// set the first run starts immediately. A tick that finds a run already active
// is skipped.
func (j *Job) Run(ctx context.Context, sched Schedule, runNow bool) error {
	if sched == nil {
		sched = DefaultSchedule
	}
	logger := j.log()
	if runNow {
		j.scheduledRun(ctx, "startup")
	}
	for {
		next := sched.Next(time.Now())
		logger.Info("full sync scheduled", "next_run", next.Format(time.RFC3339))
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info("full sync scheduler stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-timer.C:
			j.scheduledRun(ctx, "schedule")
		}
	}
}

func (j *Job) scheduledRun(ctx context.Context, trigger string) {
	_, err := j.RunOnce(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrAlreadyRunning):
		j.log().Info("full sync tick skipped, run in progress", "trigger", trigger)
	case errors.Is(err, context.Canceled):
	default:
		j.log().Error("full sync run error", "trigger", trigger, "error", err)
	}
}
