package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseCron parses a standard five-field expression or a descriptor such as
// @hourly.
func ParseCron(expression string) (cron.Schedule, error) {
	schedule, err := cronParser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parsing cron expression: %w", err)
	}
	return schedule, nil
}

// NextRun returns the next run time strictly after now, or an error when the
// schedule's timing configuration is unusable.
func NextRun(s *Schedule, now time.Time) (time.Time, error) {
	switch s.Type {
	case ScheduleTypeCron:
		if s.CronExpression == "" {
			return time.Time{}, fmt.Errorf("%w: cron schedule without expression", ErrInvalidSchedule)
		}
		sched, err := ParseCron(s.CronExpression)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %w", ErrInvalidSchedule, err)
		}
		return sched.Next(now.UTC()), nil

	case ScheduleTypeAutomatic:
		if s.MinInterval <= 0 {
			return time.Time{}, fmt.Errorf("%w: automatic schedule needs a positive min interval", ErrInvalidSchedule)
		}
		return now.Add(time.Duration(s.MinInterval) * time.Second), nil

	default:
		return time.Time{}, fmt.Errorf("%w: unknown schedule type %q", ErrInvalidSchedule, s.Type)
	}
}

// ComputeNextRun is NextRun with a fallback: unusable timing yields now, so
// the schedule is retried on the next tick instead of getting stuck.
func ComputeNextRun(s *Schedule, now time.Time) time.Time {
	next, err := NextRun(s, now)
	if err != nil {
		return now
	}
	return next
}

func validateTiming(s *Schedule) error {
	if _, err := NextRun(s, time.Now()); err != nil {
		return err
	}
	if s.Type == ScheduleTypeAutomatic && s.MaxInterval != 0 && s.MaxInterval < s.MinInterval {
		return fmt.Errorf("%w: max interval is below min interval", ErrInvalidSchedule)
	}
	return nil
}
