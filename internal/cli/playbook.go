package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/watzon/dbsentry/internal/playbooks"
)

var playbookCmd = &cobra.Command{
	Use:   "playbook",
	Short: "Inspect playbooks",
}

var playbookListCmd = &cobra.Command{
	Use:   "list",
	Short: "List built-in and user playbooks",
	Args:  cobra.NoArgs,
	RunE:  runPlaybookList,
}

var playbookShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Print a playbook",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlaybookShow,
}

func init() {
	playbookCmd.AddCommand(playbookListCmd)
	playbookCmd.AddCommand(playbookShowCmd)
	rootCmd.AddCommand(playbookCmd)
}

func loadRegistry() (*playbooks.Registry, error) {
	registry := playbooks.NewRegistry()
	if cfg.Playbooks.Dir != "" {
		if _, err := registry.LoadDir(cfg.Playbooks.Dir); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func runPlaybookList(cmd *cobra.Command, args []string) error {
	registry, err := loadRegistry()
	if err != nil {
		return err
	}
	return writePlaybooks(cmd.OutOrStdout(), registry.List())
}

func writePlaybooks(out io.Writer, list []playbooks.Playbook) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSOURCE\tDESCRIPTION")
	for _, p := range list {
		source := "built-in"
		if !p.Builtin {
			source = p.Source
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Name, source, p.Description)
	}
	return tw.Flush()
}

func runPlaybookShow(cmd *cobra.Command, args []string) error {
	registry, err := loadRegistry()
	if err != nil {
		return err
	}
	p, ok := registry.Get(args[0])
	if !ok {
		return fmt.Errorf("unknown playbook %q", args[0])
	}
	cmd.Printf("# %s\n%s\n\n%s\n", p.Name, p.Description, p.Content)
	return nil
}
