package scheduler

import (
	"errors"
	"testing"
	"time"
)

func TestParseCron(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		wantErr    bool
	}{
		{
			name:       "valid cron - every minute",
			expression: "* * * * *",
			wantErr:    false,
		},
		{
			name:       "valid cron - daily at midnight",
			expression: "0 0 * * *",
			wantErr:    false,
		},
		{
			name:       "valid cron - with ranges",
			expression: "0 9-17 * * 1-5",
			wantErr:    false,
		},
		{
			name:       "valid cron - with steps",
			expression: "*/5 * * * *",
			wantErr:    false,
		},
		{
			name:       "valid descriptor",
			expression: "@hourly",
			wantErr:    false,
		},
		{
			name:       "invalid cron - too few fields",
			expression: "* * *",
			wantErr:    true,
		},
		{
			name:       "invalid cron - invalid value",
			expression: "60 * * * *",
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCron(tt.expression)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseCron() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNextRun(t *testing.T) {
	now := time.Date(2026, 1, 25, 12, 30, 0, 0, time.UTC)

	tests := []struct {
		name     string
		schedule *Schedule
		want     time.Time
		wantErr  bool
	}{
		{
			name:     "cron next midnight",
			schedule: &Schedule{Type: ScheduleTypeCron, CronExpression: "0 0 * * *"},
			want:     time.Date(2026, 1, 26, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "cron strictly after now",
			schedule: &Schedule{Type: ScheduleTypeCron, CronExpression: "30 12 * * *"},
			want:     time.Date(2026, 1, 26, 12, 30, 0, 0, time.UTC),
		},
		{
			name:     "cron every minute",
			schedule: &Schedule{Type: ScheduleTypeCron, CronExpression: "* * * * *"},
			want:     time.Date(2026, 1, 25, 12, 31, 0, 0, time.UTC),
		},
		{
			name:     "automatic adds min interval",
			schedule: &Schedule{Type: ScheduleTypeAutomatic, MinInterval: 600, MaxInterval: 3600},
			want:     now.Add(10 * time.Minute),
		},
		{
			name:     "cron without expression",
			schedule: &Schedule{Type: ScheduleTypeCron},
			wantErr:  true,
		},
		{
			name:     "automatic without interval",
			schedule: &Schedule{Type: ScheduleTypeAutomatic},
			wantErr:  true,
		},
		{
			name:     "unknown type",
			schedule: &Schedule{Type: "weekly"},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextRun(tt.schedule, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NextRun() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidSchedule) {
					t.Errorf("NextRun() error = %v, want ErrInvalidSchedule", err)
				}
				return
			}
			if !got.Equal(tt.want) {
				t.Errorf("NextRun() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestComputeNextRun_FallsBackToNow(t *testing.T) {
	now := time.Date(2026, 1, 25, 12, 30, 0, 0, time.UTC)

	got := ComputeNextRun(&Schedule{Type: ScheduleTypeCron, CronExpression: "bogus"}, now)
	if !got.Equal(now) {
		t.Errorf("ComputeNextRun() = %v, want %v", got, now)
	}

	got = ComputeNextRun(&Schedule{}, now)
	if !got.Equal(now) {
		t.Errorf("ComputeNextRun() = %v, want %v", got, now)
	}
}

func TestValidateTiming(t *testing.T) {
	err := validateTiming(&Schedule{Type: ScheduleTypeAutomatic, MinInterval: 600, MaxInterval: 60})
	if !errors.Is(err, ErrInvalidSchedule) {
		t.Errorf("validateTiming() error = %v, want ErrInvalidSchedule", err)
	}

	if err := validateTiming(&Schedule{Type: ScheduleTypeAutomatic, MinInterval: 60}); err != nil {
		t.Errorf("validateTiming() error = %v", err)
	}
}

func TestNotificationLevel(t *testing.T) {
	tests := []struct {
		level NotificationLevel
		min   NotificationLevel
		want  bool
	}{
		{LevelInfo, LevelInfo, true},
		{LevelInfo, LevelWarning, false},
		{LevelWarning, LevelWarning, true},
		{LevelWarning, LevelAlert, false},
		{LevelAlert, LevelInfo, true},
		{LevelAlert, LevelAlert, true},
		{"critical", LevelInfo, false},
	}

	for _, tt := range tests {
		if got := tt.level.AtLeast(tt.min); got != tt.want {
			t.Errorf("%s.AtLeast(%s) = %v, want %v", tt.level, tt.min, got, tt.want)
		}
	}
}
