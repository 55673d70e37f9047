package scheduler

import "time"

// ShouldRun reports whether a schedule is eligible at now. A running schedule
// only becomes eligible once recoveryTimeout has passed since its NextRun;
// that is how a claim left behind by a crashed process is recovered.
func ShouldRun(s *Schedule, now time.Time, recoveryTimeout time.Duration) bool {
	if !s.Enabled || s.NextRun == nil {
		return false
	}

	switch s.Status {
	case StatusScheduled:
		return !now.Before(*s.NextRun)
	case StatusRunning:
		return !now.Before(s.NextRun.Add(recoveryTimeout))
	default:
		return false
	}
}
