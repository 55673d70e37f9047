package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/watzon/dbsentry/internal/scheduler"
)

var (
	schedConnection   string
	schedPlaybook     string
	schedModel        string
	schedCron         string
	schedMinInterval  string
	schedMaxInterval  string
	schedNotifyLevel  string
	schedKeepHistory  int
	schedMaxSteps     int
	schedInstructions string
	schedExtraText    string
	schedDisabled     bool
	schedUser         string

	runsLimit      int
	showTranscript bool
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage monitoring schedules",
	Long: `Schedules run a playbook against one connection, either on a cron
expression or at a fixed interval.

Examples:
  dbsentry schedule create --connection <id> --cron "0 * * * *" --notify-level warning
  dbsentry schedule create --connection <id> --min-interval 6h --playbook checkVacuumHealth
  dbsentry schedule disable <id>
  dbsentry schedule runs <id>`,
}

var scheduleCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a schedule",
	Args:  cobra.NoArgs,
	RunE:  runScheduleCreate,
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List schedules",
	Args:  cobra.NoArgs,
	RunE:  runScheduleList,
}

var scheduleEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Enable a schedule and compute its next run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setScheduleEnabled(cmd, args[0], true)
	},
}

var scheduleDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Disable a schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setScheduleEnabled(cmd, args[0], false)
	},
}

var scheduleDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a schedule and its run history",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleDelete,
}

var scheduleRunsCmd = &cobra.Command{
	Use:   "runs <schedule-id>",
	Short: "List a schedule's runs, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleRuns,
}

var scheduleShowRunCmd = &cobra.Command{
	Use:   "show-run <run-id>",
	Short: "Show one run's report",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleShowRun,
}

func init() {
	f := scheduleCreateCmd.Flags()
	f.StringVar(&schedConnection, "connection", "", "connection id (required)")
	f.StringVar(&schedPlaybook, "playbook", "generalMonitoring", "playbook to run")
	f.StringVar(&schedModel, "model", "", "model override")
	f.StringVar(&schedCron, "cron", "", "cron expression")
	f.StringVar(&schedMinInterval, "min-interval", "", "interval for automatic schedules, e.g. 30m, 6h, 1d")
	f.StringVar(&schedMaxInterval, "max-interval", "", "upper bound for automatic schedules")
	f.StringVar(&schedNotifyLevel, "notify-level", "alert", "lowest level that notifies: info, warning or alert")
	f.IntVar(&schedKeepHistory, "keep-history", 0, "runs to keep (default from config)")
	f.IntVar(&schedMaxSteps, "max-steps", 0, "playbook executions per run, including drill-downs (default from config)")
	f.StringVar(&schedInstructions, "instructions", "", "additional instructions for the agent")
	f.StringVar(&schedExtraText, "extra-text", "", "text appended to notifications")
	f.BoolVar(&schedDisabled, "disabled", false, "create the schedule disabled")
	f.StringVar(&schedUser, "user", "", "owning user with admin access (default: the project owner)")
	_ = scheduleCreateCmd.MarkFlagRequired("connection")

	scheduleRunsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum runs to show, 0 for all")
	scheduleShowRunCmd.Flags().BoolVar(&showTranscript, "transcript", false, "print the full agent transcript")

	scheduleCmd.AddCommand(scheduleCreateCmd)
	scheduleCmd.AddCommand(scheduleListCmd)
	scheduleCmd.AddCommand(scheduleEnableCmd)
	scheduleCmd.AddCommand(scheduleDisableCmd)
	scheduleCmd.AddCommand(scheduleDeleteCmd)
	scheduleCmd.AddCommand(scheduleRunsCmd)
	scheduleCmd.AddCommand(scheduleShowRunCmd)

	rootCmd.AddCommand(scheduleCmd)
}

// buildSchedule turns the create flags into a schedule.
func buildSchedule() (*scheduler.Schedule, error) {
	s := &scheduler.Schedule{
		ConnectionID:           schedConnection,
		Playbook:               schedPlaybook,
		Model:                  schedModel,
		Enabled:                !schedDisabled,
		NotifyLevel:            scheduler.NotificationLevel(strings.ToLower(schedNotifyLevel)),
		KeepHistory:            schedKeepHistory,
		MaxSteps:               schedMaxSteps,
		AdditionalInstructions: schedInstructions,
		ExtraNotificationText:  schedExtraText,
	}

	switch {
	case schedCron != "" && schedMinInterval != "":
		return nil, fmt.Errorf("use either --cron or --min-interval, not both")
	case schedCron != "":
		s.Type = scheduler.ScheduleTypeCron
		s.CronExpression = schedCron
	case schedMinInterval != "":
		s.Type = scheduler.ScheduleTypeAutomatic
		minSecs, err := intervalSeconds(schedMinInterval)
		if err != nil {
			return nil, fmt.Errorf("--min-interval: %w", err)
		}
		maxSecs, err := intervalSeconds(schedMaxInterval)
		if err != nil {
			return nil, fmt.Errorf("--max-interval: %w", err)
		}
		s.MinInterval, s.MaxInterval = minSecs, maxSecs
	default:
		return nil, fmt.Errorf("one of --cron or --min-interval is required")
	}

	return s, nil
}

func runScheduleCreate(cmd *cobra.Command, args []string) error {
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := buildSchedule()
	if err != nil {
		return err
	}
	if _, ok := a.playbooks.Get(s.Playbook); !ok {
		return fmt.Errorf("unknown playbook %q, see 'dbsentry playbook list'", s.Playbook)
	}

	ctx := context.Background()
	acc := access()
	if acc.IsAdmin() {
		s.UserID = schedUser
		if s.UserID == "" {
			conn, err := a.connections.GetConnection(ctx, acc, s.ConnectionID)
			if err != nil {
				return err
			}
			project, err := a.connections.GetProject(ctx, acc, conn.ProjectID)
			if err != nil {
				return err
			}
			s.UserID = project.OwnerID
		}
	}

	if err := a.schedules.Create(ctx, acc, s); err != nil {
		return err
	}

	cmd.Printf("Created schedule %s\n", s.ID)
	if s.NextRun != nil {
		cmd.Printf("Next run: %s\n", s.NextRun.Local().Format(time.RFC1123))
	}
	return nil
}

func runScheduleList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	schedules, err := a.schedules.List(context.Background(), access())
	if err != nil {
		return err
	}
	return writeSchedules(cmd.OutOrStdout(), schedules)
}

func writeSchedules(out io.Writer, schedules []*scheduler.Schedule) error {
	if len(schedules) == 0 {
		fmt.Fprintln(out, "No schedules.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPLAYBOOK\tTIMING\tSTATUS\tNEXT RUN\tFAILURES\tNOTIFY")
	for _, s := range schedules {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			s.ID, s.Playbook, timing(s), s.Status, formatOptionalTime(s.NextRun), s.Failures, s.NotifyLevel)
	}
	return tw.Flush()
}

func timing(s *scheduler.Schedule) string {
	switch s.Type {
	case scheduler.ScheduleTypeCron:
		return "cron " + s.CronExpression
	case scheduler.ScheduleTypeAutomatic:
		return "every " + (time.Duration(s.MinInterval) * time.Second).String()
	default:
		return string(s.Type)
	}
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func setScheduleEnabled(cmd *cobra.Command, id string, enabled bool) error {
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	if err := a.schedules.SetEnabled(ctx, access(), id, enabled); err != nil {
		return err
	}

	s, err := a.schedules.Get(ctx, access(), id)
	if err != nil {
		return err
	}
	cmd.Printf("Schedule %s is %s, next run %s\n", s.ID, s.Status, formatOptionalTime(s.NextRun))
	return nil
}

func runScheduleDelete(cmd *cobra.Command, args []string) error {
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.schedules.Delete(context.Background(), access(), args[0]); err != nil {
		return err
	}
	cmd.Printf("Deleted schedule %s\n", args[0])
	return nil
}

func runScheduleRuns(cmd *cobra.Command, args []string) error {
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	runs, err := a.runs.ListRuns(context.Background(), access(), args[0], runsLimit)
	if err != nil {
		return err
	}
	return writeRuns(cmd.OutOrStdout(), runs)
}

func writeRuns(out io.Writer, runs []*scheduler.Run) error {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tLEVEL\tSUMMARY")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.CreatedAt.Local().Format("2006-01-02 15:04"), r.NotificationLevel, oneLine(r.Summary, 80))
	}
	return tw.Flush()
}

func runScheduleShowRun(cmd *cobra.Command, args []string) error {
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	run, err := a.runs.GetRun(context.Background(), access(), args[0])
	if err != nil {
		return err
	}
	writeRun(cmd.OutOrStdout(), run, showTranscript)
	return nil
}

func writeRun(out io.Writer, run *scheduler.Run, transcript bool) {
	fmt.Fprintf(out, "Run:      %s\n", run.ID)
	fmt.Fprintf(out, "Schedule: %s\n", run.ScheduleID)
	fmt.Fprintf(out, "Created:  %s\n", run.CreatedAt.Local().Format(time.RFC1123))
	fmt.Fprintf(out, "Level:    %s\n", run.NotificationLevel)
	fmt.Fprintf(out, "Summary:  %s\n\n", run.Summary)
	fmt.Fprintln(out, run.Result)

	if !transcript {
		return
	}
	fmt.Fprintln(out, "\n--- transcript ---")
	for _, m := range run.Messages {
		switch {
		case len(m.ToolCalls) > 0:
			for _, tc := range m.ToolCalls {
				fmt.Fprintf(out, "[%s] call %s(%s)\n", m.Role, tc.Name, tc.Arguments)
			}
		case m.Name != "":
			fmt.Fprintf(out, "[%s %s] %s\n", m.Role, m.Name, oneLine(m.Content, 200))
		default:
			fmt.Fprintf(out, "[%s] %s\n", m.Role, m.Content)
		}
	}
}

func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
