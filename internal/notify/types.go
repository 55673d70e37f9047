// Package notify delivers run alerts to Slack and Discord webhooks.
package notify

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/watzon/dbsentry/internal/connections"
	"github.com/watzon/dbsentry/internal/scheduler"
)

// Notification is one alert about a finished run.
type Notification struct {
	Schedule   *scheduler.Schedule
	Connection *connections.Connection
	Project    *connections.Project
	Level      scheduler.NotificationLevel
	Title      string
	Message    string
}

// Sink delivers notifications to an external channel.
type Sink interface {
	Notify(ctx context.Context, n Notification) error
}

// StatusError is returned when a webhook answers with a non-2xx status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook returned status %d", e.Code)
}

// Retryable reports whether the request may succeed if sent again.
func (e *StatusError) Retryable() bool {
	return e.Code == 429 || e.Code >= 500
}

func levelEmoji(l scheduler.NotificationLevel) string {
	switch l {
	case scheduler.LevelAlert:
		return ":rotating_light:"
	case scheduler.LevelWarning:
		return ":warning:"
	default:
		return ":information_source:"
	}
}

func footerText(n Notification) string {
	if n.Schedule == nil {
		return "dbsentry"
	}
	return fmt.Sprintf("dbsentry | schedule %s | playbook %s", n.Schedule.ID, n.Schedule.Playbook)
}

// truncate cuts s to at most max bytes on a rune boundary and appends suffix.
func truncate(s string, max int, suffix string) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + suffix
}
