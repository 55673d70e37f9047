package scheduler

import (
	"errors"
	"time"

	"github.com/watzon/dbsentry/internal/agent"
)

var (
	ErrNotFound        = errors.New("schedule not found")
	ErrInvalidSchedule = errors.New("invalid schedule")
)

// ScheduleType selects how the next run time is computed.
type ScheduleType string

const (
	ScheduleTypeCron ScheduleType = "cron"
	// ScheduleTypeAutomatic runs every MinInterval seconds.
	ScheduleTypeAutomatic ScheduleType = "automatic"
)

type Status string

const (
	StatusDisabled  Status = "disabled"
	StatusScheduled Status = "scheduled"
	StatusRunning   Status = "running"
)

// NotificationLevel is the severity of a run outcome.
type NotificationLevel string

const (
	LevelInfo    NotificationLevel = "info"
	LevelWarning NotificationLevel = "warning"
	LevelAlert   NotificationLevel = "alert"
)

// Levels lists every level in ascending severity.
var Levels = []NotificationLevel{LevelInfo, LevelWarning, LevelAlert}

// Rank orders levels info < warning < alert. Unknown levels rank 0.
func (l NotificationLevel) Rank() int {
	switch l {
	case LevelInfo:
		return 1
	case LevelWarning:
		return 2
	case LevelAlert:
		return 3
	default:
		return 0
	}
}

func (l NotificationLevel) Valid() bool {
	return l.Rank() > 0
}

func (l NotificationLevel) AtLeast(min NotificationLevel) bool {
	return l.Valid() && l.Rank() >= min.Rank()
}

// Schedule is a recurring playbook run against one connection.
type Schedule struct {
	ID           string
	UserID       string
	ProjectID    string
	ConnectionID string
	Playbook     string
	Model        string

	Type           ScheduleType
	CronExpression string
	MinInterval    int // seconds
	MaxInterval    int // seconds

	Enabled  bool
	Status   Status
	LastRun  *time.Time
	NextRun  *time.Time
	Failures int

	KeepHistory            int
	MaxSteps               int
	NotifyLevel            NotificationLevel
	AdditionalInstructions string
	ExtraNotificationText  string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Run is the immutable record of one schedule execution.
type Run struct {
	ID                string
	ScheduleID        string
	ProjectID         string
	Messages          []agent.Message
	Result            string
	Summary           string
	NotificationLevel NotificationLevel
	CreatedAt         time.Time
}
