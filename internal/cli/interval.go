package cli

import (
	"fmt"
	"strings"
	"time"
)

// parseInterval parses a duration that may also use d (days) and w (weeks)
// suffixes, e.g. "6h", "1d", "2w".
func parseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty interval")
	}

	var multiplier time.Duration
	var numStr string

	switch {
	case strings.HasSuffix(s, "d"):
		numStr = strings.TrimSuffix(s, "d")
		multiplier = 24 * time.Hour
	case strings.HasSuffix(s, "w"):
		numStr = strings.TrimSuffix(s, "w")
		multiplier = 7 * 24 * time.Hour
	default:
		return time.ParseDuration(s)
	}

	var num int
	if _, err := fmt.Sscanf(numStr, "%d", &num); err != nil {
		return 0, fmt.Errorf("invalid number: %s", numStr)
	}

	return time.Duration(num) * multiplier, nil
}

// intervalSeconds converts an interval flag to whole seconds. Empty is zero.
func intervalSeconds(s string) (int, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	d, err := parseInterval(s)
	if err != nil {
		return 0, err
	}
	if d < time.Second {
		return 0, fmt.Errorf("interval %q is shorter than one second", s)
	}
	return int(d / time.Second), nil
}
