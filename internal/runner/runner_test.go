package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watzon/dbsentry/internal/agent"
	"github.com/watzon/dbsentry/internal/config"
	"github.com/watzon/dbsentry/internal/connections"
	"github.com/watzon/dbsentry/internal/database"
	"github.com/watzon/dbsentry/internal/notify"
	"github.com/watzon/dbsentry/internal/playbooks"
	"github.com/watzon/dbsentry/internal/scheduler"
)

// fakeInvoker answers Classify calls from scripted JSON and counts calls.
type fakeInvoker struct {
	mu sync.Mutex

	severity  string
	drill     []string
	drillIdx  int
	invokeErr error

	invokes       []agent.Request
	classifyCalls int
}

func (f *fakeInvoker) Invoke(_ context.Context, req agent.Request) (*agent.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.invokes = append(f.invokes, req)
	if f.invokeErr != nil {
		return nil, f.invokeErr
	}
	text := fmt.Sprintf("answer %d", len(f.invokes))
	return &agent.Response{
		Text: text,
		Messages: []agent.Message{
			{Role: agent.RoleAssistant, ToolCalls: []agent.ToolCall{{ID: "c1", Name: "getConnectionsStats", Arguments: "{}"}}},
			{Role: agent.RoleTool, Content: `[{"state":"active","connections":3}]`, ToolCallID: "c1", Name: "getConnectionsStats"},
			{Role: agent.RoleAssistant, Content: text},
		},
	}, nil
}

func (f *fakeInvoker) Classify(_ context.Context, req agent.ClassifyRequest, out any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.classifyCalls++
	raw := f.severity
	if req.System == drillDownSystemPrompt {
		raw = `{"shouldRunPlaybook": false}`
		if f.drillIdx < len(f.drill) {
			raw = f.drill[f.drillIdx]
			f.drillIdx++
		}
	}
	return agent.DecodeStructured(req.Schema, raw, out)
}

func (f *fakeInvoker) invokeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.invokes)
}

type fakeSink struct {
	mu   sync.Mutex
	sent []notify.Notification
	err  error
}

func (f *fakeSink) Notify(_ context.Context, n notify.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return f.err
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type nopCloser struct{ closed *bool }

func (c nopCloser) Close() error {
	*c.closed = true
	return nil
}

type fakeTools struct {
	closed bool
	err    error
}

func (f *fakeTools) Tools(context.Context, *connections.Connection) ([]agent.Tool, io.Closer, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return []agent.Tool{{Name: "getConnectionsStats"}}, nopCloser{closed: &f.closed}, nil
}

// fakeStore records failure increments and serves fixed lookups.
type fakeStore struct {
	mu       sync.Mutex
	failures int
	connErr  error
}

func (f *fakeStore) GetConnection(context.Context, string) (*connections.Connection, error) {
	if f.connErr != nil {
		return nil, f.connErr
	}
	return &connections.Connection{ID: "conn-1", ProjectID: "proj-1", Name: "primary"}, nil
}

func (f *fakeStore) GetProject(context.Context, string) (*connections.Project, error) {
	return &connections.Project{ID: "proj-1", Name: "prod"}, nil
}

func (f *fakeStore) IncrementFailures(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures++
	return nil
}

type fakeRuns struct {
	mu   sync.Mutex
	runs []*scheduler.Run
	keep []int
}

func (f *fakeRuns) InsertAndTrim(_ context.Context, run *scheduler.Run, keep int) (*scheduler.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run.ID = fmt.Sprintf("run-%d", len(f.runs)+1)
	f.runs = append(f.runs, run)
	f.keep = append(f.keep, keep)
	return run, nil
}

func severityJSON(level string) string {
	return fmt.Sprintf(`{"summary":"checked %s","notificationLevel":"%s"}`, level, level)
}

func testSchedule(threshold scheduler.NotificationLevel) *scheduler.Schedule {
	return &scheduler.Schedule{
		ID:             "sch-1",
		ProjectID:      "proj-1",
		ConnectionID:   "conn-1",
		Playbook:       "generalMonitoring",
		Type:           scheduler.ScheduleTypeCron,
		CronExpression: "0 0 * * *",
		Enabled:        true,
		Status:         scheduler.StatusRunning,
		KeepHistory:    300,
		MaxSteps:       1,
		NotifyLevel:    threshold,
	}
}

func TestRun_SeverityPolicy(t *testing.T) {
	for _, level := range scheduler.Levels {
		for _, threshold := range scheduler.Levels {
			t.Run(fmt.Sprintf("%s_threshold_%s", level, threshold), func(t *testing.T) {
				store := &fakeStore{}
				sink := &fakeSink{}
				inv := &fakeInvoker{severity: severityJSON(string(level))}
				r := New(store, &fakeRuns{}, inv, sink, &fakeTools{}, playbooks.NewRegistry())

				run, err := r.Run(context.Background(), testSchedule(threshold), time.Now())
				require.NoError(t, err)
				assert.Equal(t, level, run.NotificationLevel)

				wantFailures := 0
				if level == scheduler.LevelAlert {
					wantFailures = 1
				}
				assert.Equal(t, wantFailures, store.failures)

				wantNotify := 0
				if level.Rank() >= threshold.Rank() {
					wantNotify = 1
				}
				assert.Equal(t, wantNotify, sink.count())
			})
		}
	}
}

func TestRun_PersistsTranscript(t *testing.T) {
	runs := &fakeRuns{}
	tools := &fakeTools{}
	inv := &fakeInvoker{severity: severityJSON("warning")}
	r := New(&fakeStore{}, runs, inv, &fakeSink{}, tools, playbooks.NewRegistry())

	s := testSchedule(scheduler.LevelAlert)
	s.AdditionalInstructions = "Ignore the reporting replica."
	s.KeepHistory = 7
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	run, err := r.Run(context.Background(), s, now)
	require.NoError(t, err)

	require.Len(t, runs.runs, 1)
	assert.Equal(t, 7, runs.keep[0])
	assert.Equal(t, "sch-1", run.ScheduleID)
	assert.Equal(t, "proj-1", run.ProjectID)
	assert.Equal(t, "checked warning", run.Summary)
	assert.Equal(t, "answer 2", run.Result)
	assert.Equal(t, now, run.CreatedAt)
	assert.True(t, tools.closed)

	msgs := run.Messages
	require.GreaterOrEqual(t, len(msgs), 4)
	assert.Equal(t, agent.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, `"generalMonitoring"`)
	assert.Contains(t, msgs[0].Content, "step by step")
	assert.Equal(t, agent.RoleUser, msgs[1].Role)
	assert.Contains(t, msgs[1].Content, "generalMonitoring")
	assert.Contains(t, msgs[2].Content, "Ignore the reporting replica.")

	// The first invocation gets the tool set; the summary does not.
	require.Len(t, inv.invokes, 2)
	assert.Len(t, inv.invokes[0].Tools, 1)
	assert.Empty(t, inv.invokes[1].Tools)
	assert.Equal(t, summarySystemPrompt, inv.invokes[1].System)
}

func TestRun_DrillDownBounded(t *testing.T) {
	tests := []struct {
		name         string
		maxSteps     int
		drill        []string
		wantInvokes  int
		wantClassify int
	}{
		{
			// one drill-down, then stop: two playbook runs plus the summary
			name:     "drill once then stop",
			maxSteps: 3,
			drill: []string{
				`{"shouldRunPlaybook": true, "recommendedPlaybook": "investigateLocks"}`,
				`{"shouldRunPlaybook": false}`,
			},
			wantInvokes:  3,
			wantClassify: 3,
		},
		{
			name:     "budget exhausted",
			maxSteps: 3,
			drill: []string{
				`{"shouldRunPlaybook": true, "recommendedPlaybook": "investigateLocks"}`,
				`{"shouldRunPlaybook": true, "recommendedPlaybook": "checkVacuumHealth"}`,
				`{"shouldRunPlaybook": true, "recommendedPlaybook": "tuneSettings"}`,
			},
			wantInvokes:  4,
			wantClassify: 3,
		},
		{
			name:         "single step never asks",
			maxSteps:     1,
			drill:        []string{`{"shouldRunPlaybook": true, "recommendedPlaybook": "investigateLocks"}`},
			wantInvokes:  2,
			wantClassify: 1,
		},
		{
			name:         "zero treated as one",
			maxSteps:     0,
			wantInvokes:  2,
			wantClassify: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := &fakeInvoker{severity: severityJSON("info"), drill: tt.drill}
			r := New(&fakeStore{}, &fakeRuns{}, inv, &fakeSink{}, &fakeTools{}, playbooks.NewRegistry())

			s := testSchedule(scheduler.LevelAlert)
			s.MaxSteps = tt.maxSteps

			_, err := r.Run(context.Background(), s, time.Now())
			require.NoError(t, err)
			assert.Equal(t, tt.wantInvokes, inv.invokeCount())
			assert.Equal(t, tt.wantClassify, inv.classifyCalls)
		})
	}
}

func TestRun_DrillDownAppendsPlaybookTurn(t *testing.T) {
	inv := &fakeInvoker{
		severity: severityJSON("info"),
		drill:    []string{`{"shouldRunPlaybook": true, "recommendedPlaybook": "investigateLocks"}`},
	}
	r := New(&fakeStore{}, &fakeRuns{}, inv, &fakeSink{}, &fakeTools{}, playbooks.NewRegistry())

	s := testSchedule(scheduler.LevelAlert)
	s.MaxSteps = 2
	run, err := r.Run(context.Background(), s, time.Now())
	require.NoError(t, err)

	second := inv.invokes[1]
	last := second.Messages[len(second.Messages)-1]
	assert.Equal(t, agent.RoleUser, last.Role)
	assert.Contains(t, last.Content, `"investigateLocks"`)
	assert.Len(t, second.Tools, 1)

	// system + playbook turn + instructions turn + 3 trace turns
	// + drill user turn + 3 trace turns
	assert.Len(t, run.Messages, 10)
}

func TestRun_InstructionsTurnAlwaysPresent(t *testing.T) {
	for _, instructions := range []string{"", "Skip the analytics schema."} {
		t.Run(fmt.Sprintf("%q", instructions), func(t *testing.T) {
			inv := &fakeInvoker{severity: severityJSON("info")}
			r := New(&fakeStore{}, &fakeRuns{}, inv, &fakeSink{}, &fakeTools{}, playbooks.NewRegistry())

			s := testSchedule(scheduler.LevelAlert)
			s.AdditionalInstructions = instructions
			_, err := r.Run(context.Background(), s, time.Now())
			require.NoError(t, err)

			first := inv.invokes[0].Messages
			require.Len(t, first, 2)
			assert.Equal(t, agent.RoleUser, first[1].Role)
			assert.True(t, strings.HasPrefix(first[1].Content, "Additional instructions for this database:"))
			if instructions == "" {
				assert.Contains(t, first[1].Content, "None.")
			} else {
				assert.Contains(t, first[1].Content, instructions)
			}
		})
	}
}

func TestDrillDownSchema(t *testing.T) {
	tests := []struct {
		name    string
		names   []string
		doc     string
		wantErr bool
	}{
		{name: "no playbooks, stop", names: nil, doc: `{"shouldRunPlaybook": false}`},
		{name: "no playbooks, free recommendation", names: []string{}, doc: `{"shouldRunPlaybook": true, "recommendedPlaybook": "custom"}`},
		{name: "known playbook", names: []string{"investigateLocks"}, doc: `{"shouldRunPlaybook": true, "recommendedPlaybook": "investigateLocks"}`},
		{name: "unknown playbook", names: []string{"investigateLocks"}, doc: `{"shouldRunPlaybook": true, "recommendedPlaybook": "dropTables"}`, wantErr: true},
		{name: "missing decision", names: []string{"investigateLocks"}, doc: `{}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			schema, err := drillDownSchema(tt.names)
			require.NoError(t, err)
			if len(tt.names) == 0 {
				assert.NotContains(t, string(schema), "enum")
			}

			var out drillDown
			err = agent.DecodeStructured(schema, tt.doc, &out)
			if tt.wantErr {
				assert.ErrorIs(t, err, agent.ErrClassification)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestRun_ClassificationViolation(t *testing.T) {
	tests := []struct {
		name     string
		severity string
		drill    []string
	}{
		{"level outside enum", `{"summary":"x","notificationLevel":"critical"}`, nil},
		{"malformed", `not json`, nil},
		{"missing level", `{"summary":"x"}`, nil},
		{"unregistered drill-down", severityJSON("info"), []string{`{"shouldRunPlaybook": true, "recommendedPlaybook": "dropAllTables"}`}},
		{"drill-down without playbook", severityJSON("info"), []string{`{"shouldRunPlaybook": true}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs := &fakeRuns{}
			sink := &fakeSink{}
			store := &fakeStore{}
			inv := &fakeInvoker{severity: tt.severity, drill: tt.drill}
			r := New(store, runs, inv, sink, &fakeTools{}, playbooks.NewRegistry())

			s := testSchedule(scheduler.LevelInfo)
			s.MaxSteps = 3
			_, err := r.Run(context.Background(), s, time.Now())
			require.ErrorIs(t, err, agent.ErrClassification)
			assert.Empty(t, runs.runs)
			assert.Zero(t, sink.count())
			assert.Zero(t, store.failures)
		})
	}
}

func TestRun_InfrastructureErrors(t *testing.T) {
	boom := errors.New("boom")

	t.Run("connection lookup", func(t *testing.T) {
		r := New(&fakeStore{connErr: scheduler.ErrNotFound}, &fakeRuns{}, &fakeInvoker{}, &fakeSink{}, &fakeTools{}, playbooks.NewRegistry())
		_, err := r.Run(context.Background(), testSchedule(scheduler.LevelAlert), time.Now())
		require.ErrorIs(t, err, scheduler.ErrNotFound)
	})

	t.Run("target unreachable", func(t *testing.T) {
		r := New(&fakeStore{}, &fakeRuns{}, &fakeInvoker{}, &fakeSink{}, &fakeTools{err: boom}, playbooks.NewRegistry())
		_, err := r.Run(context.Background(), testSchedule(scheduler.LevelAlert), time.Now())
		require.ErrorIs(t, err, boom)
	})

	t.Run("model call fails", func(t *testing.T) {
		tools := &fakeTools{}
		r := New(&fakeStore{}, &fakeRuns{}, &fakeInvoker{invokeErr: boom}, &fakeSink{}, tools, playbooks.NewRegistry())
		_, err := r.Run(context.Background(), testSchedule(scheduler.LevelAlert), time.Now())
		require.ErrorIs(t, err, boom)
		assert.True(t, tools.closed)
	})
}

func TestRun_NotificationFailureIsSwallowed(t *testing.T) {
	runs := &fakeRuns{}
	sink := &fakeSink{err: errors.New("slack down")}
	store := &fakeStore{}
	inv := &fakeInvoker{severity: severityJSON("alert")}
	r := New(store, runs, inv, sink, &fakeTools{}, playbooks.NewRegistry())

	run, err := r.Run(context.Background(), testSchedule(scheduler.LevelWarning), time.Now())
	require.NoError(t, err)
	assert.NotNil(t, run)
	assert.Len(t, runs.runs, 1)
	assert.Equal(t, 1, store.failures)
	assert.Equal(t, 1, sink.count())

	n := sink.sent[0]
	assert.Equal(t, scheduler.LevelAlert, n.Level)
	assert.Equal(t, "[ALERT] generalMonitoring on primary", n.Title)
	assert.Equal(t, run.Result, n.Message)
	assert.Equal(t, "prod", n.Project.Name)
}

// Through the scheduler on a real control-plane database.

func testDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(&config.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "test.db"),
		WALMode:      true,
		ForeignKeys:  true,
		BusyTimeout:  10 * time.Second,
		MaxOpenConns: 4,
		MaxIdleConns: 4,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func setupSchedule(t *testing.T, db *database.DB) (*scheduler.Store, *scheduler.Schedule) {
	t.Helper()
	ctx := context.Background()
	access := database.AsUser("alice")

	cs := connections.NewStore(db)
	p := &connections.Project{Name: "prod"}
	require.NoError(t, cs.CreateProject(ctx, access, p))
	c := &connections.Connection{ProjectID: p.ID, Name: "primary", ConnectionString: "postgres://localhost/app"}
	require.NoError(t, cs.CreateConnection(ctx, access, c))

	store := scheduler.NewStore(db)
	s := &scheduler.Schedule{
		ConnectionID:   c.ID,
		Playbook:       "generalMonitoring",
		Type:           scheduler.ScheduleTypeCron,
		CronExpression: "0 0 * * *",
		Enabled:        true,
		NotifyLevel:    scheduler.LevelWarning,
	}
	require.NoError(t, store.Create(ctx, access, s))

	loaded, err := store.Get(ctx, database.Admin(), s.ID)
	require.NoError(t, err)
	return store, loaded
}

func TestRunJob_SeverityThroughScheduler(t *testing.T) {
	tests := []struct {
		name         string
		level        string
		wantFailures int
		wantNotify   int
	}{
		{"info below warning threshold", "info", 0, 0},
		{"alert notifies and counts", "alert", 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := testDB(t)
			store, sched := setupSchedule(t, db)
			runStore := scheduler.NewRunStore(db)
			sink := &fakeSink{}
			inv := &fakeInvoker{severity: severityJSON(tt.level)}

			r := New(store, runStore, inv, sink, &fakeTools{}, playbooks.NewRegistry())
			sc := scheduler.NewScheduler(store, r, scheduler.Config{MaxParallelRuns: 20})

			now := time.Date(2025, 6, 1, 15, 30, 0, 0, time.UTC)
			require.NoError(t, sc.RunJob(context.Background(), sched, now))

			got, err := store.Get(context.Background(), database.Admin(), sched.ID)
			require.NoError(t, err)
			assert.Equal(t, scheduler.StatusScheduled, got.Status)
			assert.Equal(t, tt.wantFailures, got.Failures)
			require.NotNil(t, got.NextRun)
			assert.Equal(t, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), got.NextRun.UTC())
			require.NotNil(t, got.LastRun)
			assert.True(t, got.LastRun.Equal(now))
			assert.Equal(t, tt.wantNotify, sink.count())

			runs, err := runStore.ListRuns(context.Background(), database.Admin(), sched.ID, 0)
			require.NoError(t, err)
			require.Len(t, runs, 1)
			assert.Equal(t, scheduler.NotificationLevel(tt.level), runs[0].NotificationLevel)
		})
	}
}

func TestClassificationFailureStillReschedules(t *testing.T) {
	db := testDB(t)
	store, sched := setupSchedule(t, db)
	inv := &fakeInvoker{severity: `{"summary":"x","notificationLevel":"severe"}`}

	r := New(store, scheduler.NewRunStore(db), inv, &fakeSink{}, &fakeTools{}, playbooks.NewRegistry())
	sc := scheduler.NewScheduler(store, r, scheduler.Config{MaxParallelRuns: 20})

	now := time.Date(2025, 6, 1, 15, 30, 0, 0, time.UTC)
	require.NoError(t, sc.RunJob(context.Background(), sched, now))

	got, err := store.Get(context.Background(), database.Admin(), sched.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduler.StatusScheduled, got.Status)
	assert.Equal(t, 1, got.Failures)
	require.NotNil(t, got.NextRun)
	assert.True(t, got.NextRun.After(now))
}
