package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/watzon/dbsentry/internal/connections"
)

var (
	projectOwner   string
	projectSlack   string
	projectDiscord string
	connDefault    bool
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
	Long: `Projects group database connections and carry the Slack and Discord
webhooks their alerts are sent to.

Examples:
  dbsentry project add prod --owner alice --slack-webhook https://hooks.slack.com/...
  dbsentry project list`,
}

var projectAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a project",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectAdd,
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	Args:  cobra.NoArgs,
	RunE:  runProjectList,
}

var connectionCmd = &cobra.Command{
	Use:   "connection",
	Short: "Manage database connections",
	Long: `Connections are the PostgreSQL databases schedules run against.

Examples:
  dbsentry connection add <project-id> primary postgres://monitor@db.internal/app
  dbsentry connection list <project-id>`,
}

var connectionAddCmd = &cobra.Command{
	Use:   "add <project-id> <name> <connection-string>",
	Short: "Add a connection to a project",
	Args:  cobra.ExactArgs(3),
	RunE:  runConnectionAdd,
}

var connectionListCmd = &cobra.Command{
	Use:   "list <project-id>",
	Short: "List a project's connections",
	Args:  cobra.ExactArgs(1),
	RunE:  runConnectionList,
}

func init() {
	projectAddCmd.Flags().StringVar(&projectOwner, "owner", "", "owning user (required with admin access)")
	projectAddCmd.Flags().StringVar(&projectSlack, "slack-webhook", "", "Slack incoming webhook URL")
	projectAddCmd.Flags().StringVar(&projectDiscord, "discord-webhook", "", "Discord webhook URL")
	projectCmd.AddCommand(projectAddCmd)
	projectCmd.AddCommand(projectListCmd)

	connectionAddCmd.Flags().BoolVar(&connDefault, "default", false, "make this the project's default connection")
	connectionCmd.AddCommand(connectionAddCmd)
	connectionCmd.AddCommand(connectionListCmd)

	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(connectionCmd)
}

func runProjectAdd(cmd *cobra.Command, args []string) error {
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	p := &connections.Project{
		Name:              args[0],
		OwnerID:           projectOwner,
		SlackWebhookURL:   projectSlack,
		DiscordWebhookURL: projectDiscord,
	}
	if err := a.connections.CreateProject(context.Background(), access(), p); err != nil {
		return err
	}

	cmd.Printf("Created project %s (%s)\n", p.Name, p.ID)
	return nil
}

func runProjectList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	projects, err := a.connections.ListProjects(context.Background(), access())
	if err != nil {
		return err
	}
	return writeProjects(cmd.OutOrStdout(), projects)
}

func writeProjects(out io.Writer, projects []*connections.Project) error {
	if len(projects) == 0 {
		fmt.Fprintln(out, "No projects.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tOWNER\tSLACK\tDISCORD")
	for _, p := range projects {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.ID, p.Name, p.OwnerID, yesNo(p.SlackWebhookURL != ""), yesNo(p.DiscordWebhookURL != ""))
	}
	return tw.Flush()
}

func runConnectionAdd(cmd *cobra.Command, args []string) error {
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	c := &connections.Connection{
		ProjectID:        args[0],
		Name:             args[1],
		ConnectionString: args[2],
		IsDefault:        connDefault,
	}
	if err := a.connections.CreateConnection(context.Background(), access(), c); err != nil {
		return err
	}

	cmd.Printf("Created connection %s (%s)\n", c.Name, c.ID)
	return nil
}

func runConnectionList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	conns, err := a.connections.ListConnections(context.Background(), access(), args[0])
	if err != nil {
		return err
	}
	return writeConnections(cmd.OutOrStdout(), conns)
}

func writeConnections(out io.Writer, conns []*connections.Connection) error {
	if len(conns) == 0 {
		fmt.Fprintln(out, "No connections.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tDEFAULT\tCREATED")
	for _, c := range conns {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.ID, c.Name, yesNo(c.IsDefault), c.CreatedAt.Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
