// Package cli is the probekit command line.
package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags.
var Version = "dev"

// Exit codes.
const (
	ExitOK      = 0
	ExitFailed  = 1
	ExitHarness = 2
)

// ExitError carries the process exit code of a command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps a command error onto the process exit code. Errors that are
// not an ExitError (bad flags, unknown commands) count as harness errors.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ExitHarness
}

// NewRootCommand creates the probekit root command.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probekit",
		Short: "Multi-layer end-to-end readiness checks for a web application",
		Long: `probekit probes a target web application in four layers (public HTTP,
authenticated API, browser forms, user journeys), scores the outcomes and
classifies the target as ready, mostly-ready, needs-work or not-ready.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewCompareCommand())
	cmd.AddCommand(NewVersionCommand())
	return cmd
}

// Execute runs the root command with args and returns the exit code.
// Errors are printed to stderr except plain verdict failures, whose summary
// has already been printed.
func Execute(args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	err := cmd.Execute()
	code := ExitCode(err)
	var ee *ExitError
	if err != nil && !(errors.As(err, &ee) && ee.Err == nil) {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return code
}

// NewVersionCommand prints the build version.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the probekit version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "probekit %s\n", Version)
		},
	}
}
