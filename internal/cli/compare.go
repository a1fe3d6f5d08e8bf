package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/raysh454/probekit/internal/report"
)

// NewCompareCommand creates the compare command.
func NewCompareCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare <old.json> <new.json>",
		Short: "Show what changed between two reports",
		Long: `Compare prints the verdict and score change between two JSON reports, the
outcomes that were fixed, broken, added or removed, and a line diff of
the outcome states.

With --fail-on-broken the command exits 1 when any outcome that passed in
the old report fails in the new one.`,
		Args: cobra.ExactArgs(2),
		RunE: compareCommand,
	}
	cmd.Flags().Bool("fail-on-broken", false, "exit 1 when an outcome regressed")
	cmd.Flags().Bool("no-color", false, "disable colored output")
	return cmd
}

func compareCommand(cmd *cobra.Command, args []string) error {
	old, err := report.Load(args[0])
	if err != nil {
		return &ExitError{Code: ExitHarness, Err: err}
	}
	cur, err := report.Load(args[1])
	if err != nil {
		return &ExitError{Code: ExitHarness, Err: err}
	}
	if old.Target.BaseURL != cur.Target.BaseURL {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: comparing different targets (%s vs %s)\n",
			old.Target.BaseURL, cur.Target.BaseURL)
	}
	if noColor, _ := cmd.Flags().GetBool("no-color"); noColor {
		color.NoColor = true
	}

	c := report.Compare(old, cur)
	c.Render(cmd.OutOrStdout())

	if failOnBroken, _ := cmd.Flags().GetBool("fail-on-broken"); failOnBroken && len(c.Broken) > 0 {
		return &ExitError{Code: ExitFailed}
	}
	return nil
}
