// Package schedule computes cron fire times in a task's own time zone.
//
// Expressions use the standard five fields (minute hour dom month dow) plus
// the robfig descriptors (@hourly, @daily, ...). All instants returned are UTC.
package schedule

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dikwickley/promptoncron/internal/apperr"
)

// DefaultMinInterval is the smallest gap allowed between two fires.
const DefaultMinInterval = 15 * time.Minute

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Parse returns a schedule bound to the named time zone.
func Parse(expr, timezone string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, apperr.New(apperr.InvalidSchedule, "schedule", "cron expression is required")
	}
	if strings.HasPrefix(expr, "TZ=") || strings.HasPrefix(expr, "CRON_TZ=") {
		return nil, apperr.Errorf(apperr.InvalidSchedule, "schedule",
			"invalid cron expression %q: set the task timezone instead of a TZ prefix", expr)
	}
	loc, err := LoadLocation(timezone)
	if err != nil {
		return nil, err
	}

	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, apperr.Errorf(apperr.InvalidSchedule, "schedule", "invalid cron expression %q: %w", expr, err)
	}
	if spec, ok := sched.(*cron.SpecSchedule); ok {
		spec.Location = loc
	}
	return sched, nil
}

// LoadLocation resolves an IANA zone name. An empty name means UTC. "Local"
// is rejected since it depends on the host.
func LoadLocation(timezone string) (*time.Location, error) {
	name := strings.TrimSpace(timezone)
	if name == "" {
		name = "UTC"
	}
	if strings.EqualFold(name, "Local") {
		return nil, apperr.Errorf(apperr.InvalidSchedule, "schedule", "invalid timezone %q: not an IANA zone", timezone)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, apperr.Errorf(apperr.InvalidSchedule, "schedule", "invalid timezone %q: %w", timezone, err)
	}
	return loc, nil
}

// NextFire returns the first fire time strictly after from.
func NextFire(expr, timezone string, from time.Time) (time.Time, error) {
	sched, err := Parse(expr, timezone)
	if err != nil {
		return time.Time{}, err
	}
	return next(sched, expr, from)
}

// CheckMinInterval fails when the first two fires after from are closer
// than minInterval. A non-positive minInterval uses DefaultMinInterval.
func CheckMinInterval(expr, timezone string, from time.Time, minInterval time.Duration) error {
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	sched, err := Parse(expr, timezone)
	if err != nil {
		return err
	}

	first, err := next(sched, expr, from)
	if err != nil {
		return err
	}
	second, err := next(sched, expr, first)
	if err != nil {
		return err
	}
	if second.Sub(first) < minInterval {
		return apperr.Errorf(apperr.InvalidSchedule, "schedule",
			"cron interval must be >= %d minutes", int(minInterval/time.Minute))
	}
	return nil
}

func next(sched cron.Schedule, expr string, from time.Time) (time.Time, error) {
	t := sched.Next(from)
	if t.IsZero() {
		return time.Time{}, apperr.Errorf(apperr.InvalidSchedule, "schedule", "cron expression %q never fires", expr)
	}
	return t.UTC(), nil
}
