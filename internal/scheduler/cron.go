package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts standard five-field expressions with an optional
// leading seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule validates a schedule expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	if expr == "" {
		return nil, fmt.Errorf("schedule expression is empty")
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule expression %q: %w", expr, err)
	}
	return sched, nil
}

// prevFireTime computes the most recent fire slot at or before now. The
// cron library only exposes Next, so slots are walked forward from an
// expanding lookback window; the first window containing any slot decides.
func prevFireTime(sched cron.Schedule, now time.Time) (time.Time, bool) {
	lookbacks := []time.Duration{
		time.Hour,
		24 * time.Hour,
		32 * 24 * time.Hour,
		366 * 24 * time.Hour,
	}

	for _, lookback := range lookbacks {
		start := now.Add(-lookback)
		var prev time.Time
		found := false
		for t := sched.Next(start); !t.IsZero() && !t.After(now); t = sched.Next(t) {
			prev = t
			found = true
		}
		if found {
			return prev, true
		}
	}
	return time.Time{}, false
}
