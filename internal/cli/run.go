package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/raysh454/probekit/internal/app"
	"github.com/raysh454/probekit/internal/logging"
)

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Probe a target and write a readiness report",
		Long: `Run seeds the target (with --seed), runs the selected layers in order and
writes report-<timestamp>.json and .md to the output directory.

Credentials are read from ADMIN_EMAIL, ADMIN_PASSWORD, USER_EMAIL and
USER_PASSWORD. TARGET_URL, TARGET_ENV and PROBEKIT_OUT are used when the
matching flag is not given.

Exit codes: 0 when the verdict is ready or mostly-ready, 1 for any other
verdict, 2 when the harness itself failed.

Examples:
  probekit run --target http://localhost:9090 --layers l1,l2 --seed
  probekit run --env prod --out ./reports --html
  probekit run --scenarios ./journeys --progress-addr 127.0.0.1:7777`,
		Args: cobra.NoArgs,
		RunE: runCommand,
	}

	f := cmd.Flags()
	f.String("config", "", "YAML config file")
	f.String("target", "", "target base URL (default $TARGET_URL)")
	f.String("env", "", "target environment: local|prod (default $TARGET_ENV or local)")
	f.String("layers", "", "comma separated layers to run (default l1,l2,l3,l4)")
	f.Bool("seed", false, "seed fixtures through the admin session before probing")
	f.Bool("headless", true, "run the browser headless")
	f.Bool("headed", false, "run the browser with a visible window")
	f.String("out", "", "output directory (default $PROBEKIT_OUT or probekit-out)")
	f.String("scenarios", "", "directory of additional YAML scenarios")
	f.String("progress-addr", "", "serve live progress on this address")
	f.String("log-level", "", "log level: debug|info|warn|error")
	f.String("log-format", "", "log format: console|json")
	f.Bool("html", false, "also write an HTML summary")
	f.Bool("render", false, "add browser-rendered page probes to L1")
	f.Int("l1-concurrency", 0, "concurrent L1 probes (default 4)")
	f.String("chrome-path", "", "Chrome binary to use")
	f.Int("top-n", 0, "failures listed in the summary (default 10)")
	return cmd
}

// loadConfig layers defaults, the config file, the environment and the
// flags that were set explicitly.
func loadConfig(cmd *cobra.Command, getenv func(string) string) (*app.Config, error) {
	f := cmd.Flags()
	cfg := app.DefaultConfig()
	if path, _ := f.GetString("config"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv(getenv)

	str := func(name string, dst *string) {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}
	boolean := func(name string, dst *bool) {
		if f.Changed(name) {
			*dst, _ = f.GetBool(name)
		}
	}
	integer := func(name string, dst *int) {
		if f.Changed(name) {
			*dst, _ = f.GetInt(name)
		}
	}
	str("target", &cfg.TargetURL)
	str("env", &cfg.Env)
	str("layers", &cfg.Layers)
	str("out", &cfg.OutDir)
	str("scenarios", &cfg.ScenariosDir)
	str("progress-addr", &cfg.ProgressAddr)
	str("log-level", &cfg.LogLevel)
	str("log-format", &cfg.LogFormat)
	str("chrome-path", &cfg.ChromePath)
	boolean("seed", &cfg.Seed)
	boolean("headless", &cfg.Headless)
	boolean("html", &cfg.HTML)
	boolean("render", &cfg.RenderPages)
	integer("l1-concurrency", &cfg.L1Concurrency)
	integer("top-n", &cfg.TopN)
	if headed, _ := f.GetBool("headed"); headed {
		cfg.Headless = false
	}
	return cfg, nil
}

func runCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, os.Getenv)
	if err != nil {
		return &ExitError{Code: ExitHarness, Err: err}
	}
	logger := logging.New(cmd.ErrOrStderr(), cfg.LogFormat, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rc, err := app.NewRunContext(ctx, cfg, logger)
	if err != nil {
		return &ExitError{Code: ExitHarness, Err: err}
	}
	defer func() {
		if err := rc.Close(); err != nil {
			logger.Warn("releasing run resources", logging.Err(err))
		}
	}()

	res, err := app.NewOrchestrator(rc).Run(ctx)
	if len(res.Report.Layers) > 0 {
		printSummary(cmd.OutOrStdout(), res)
	}
	if err != nil {
		return &ExitError{Code: ExitHarness, Err: err}
	}
	if !res.Report.Verdict.Acceptable() {
		return &ExitError{Code: ExitFailed}
	}
	return nil
}

func printSummary(w io.Writer, res app.Result) {
	rep := res.Report
	fmt.Fprintf(w, "verdict: %s (test rate %.1f%%, approach rate %.1f%%)\n",
		rep.Verdict, rep.TestRate*100, rep.ApproachRate*100)
	for _, l := range rep.Layers {
		approved := "not approved"
		if l.Approved {
			approved = "approved"
		}
		fmt.Fprintf(w, "  %s %-14s %d/%d %s\n", l.Layer, l.Layer.Describe(), l.Passed, l.Total, approved)
	}
	if failures := rep.Failures(); len(failures) > 0 {
		fmt.Fprintf(w, "failures: %d\n", len(failures))
	}
	if res.Paths.JSON != "" {
		fmt.Fprintf(w, "report: %s\n", res.Paths.JSON)
	}
}
