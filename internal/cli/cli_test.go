package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raysh454/probekit/internal/demosut"
	"github.com/raysh454/probekit/internal/model"
	"github.com/raysh454/probekit/internal/report"
)

func newDemo(t *testing.T) *httptest.Server {
	t.Helper()
	srv, err := demosut.NewServer(demosut.DefaultConfig(), nil)
	require.NoError(t, err)
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Close()
	})
	return ts
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "probekit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitFailed, ExitCode(&ExitError{Code: ExitFailed}))
	assert.Equal(t, ExitHarness, ExitCode(fmt.Errorf("wrapped: %w", &ExitError{Code: ExitHarness})))
	assert.Equal(t, ExitHarness, ExitCode(errors.New("unknown flag")))
}

func TestVersion(t *testing.T) {
	var out bytes.Buffer
	code := Execute([]string{"version"}, &out, &bytes.Buffer{})
	assert.Equal(t, ExitOK, code)
	assert.Equal(t, "probekit dev\n", out.String())
}

func TestRun_UnknownFlagIsHarnessError(t *testing.T) {
	var stderr bytes.Buffer
	code := Execute([]string{"run", "--bogus"}, &bytes.Buffer{}, &stderr)
	assert.Equal(t, ExitHarness, code)
	assert.Contains(t, stderr.String(), "unknown flag")
}

func TestRun_InvalidLayers(t *testing.T) {
	var stderr bytes.Buffer
	code := Execute([]string{"run", "--target", "http://127.0.0.1:1", "--layers", "l7", "--out", t.TempDir()},
		&bytes.Buffer{}, &stderr)
	assert.Equal(t, ExitHarness, code)
	assert.Contains(t, stderr.String(), "unknown layer")
}

func TestLoadConfig_Precedence(t *testing.T) {
	path := writeConfig(t, `
target_url: http://from-file.test
layers: l1
deadlines:
  http: 3s
admin:
  email: file-admin@example.com
  password: FilePass1!
`)
	cmd := NewRunCommand()
	require.NoError(t, cmd.ParseFlags([]string{"--config", path, "--layers", "l2", "--headed"}))
	env := map[string]string{"TARGET_URL": "http://from-env.test", "ADMIN_EMAIL": "env-admin@example.com"}
	cfg, err := loadConfig(cmd, func(k string) string { return env[k] })
	require.NoError(t, err)

	assert.Equal(t, "http://from-env.test", cfg.TargetURL)
	assert.Equal(t, "l2", cfg.Layers)
	assert.Equal(t, "env-admin@example.com", cfg.Admin.Email)
	assert.Equal(t, "FilePass1!", cfg.Admin.Password)
	assert.Equal(t, "3s", cfg.Deadlines.HTTP.String())
	assert.False(t, cfg.Headless)
	assert.Equal(t, 4, cfg.L1Concurrency)
}

func TestRun_AgainstDemo(t *testing.T) {
	ts := newDemo(t)
	out := t.TempDir()
	cfgPath := writeConfig(t, `
admin:
  email: admin@example.com
  password: AdminPass123!
user:
  email: cli.user@example.com
  password: UserPass123!
deadlines:
  retry_backoff: 10ms
`)

	var stdout, stderr bytes.Buffer
	code := Execute([]string{"run", "--config", cfgPath, "--target", ts.URL,
		"--layers", "l1,l2", "--seed", "--out", out, "--log-level", "error"}, &stdout, &stderr)
	require.Equal(t, ExitOK, code, "stderr: %s", stderr.String())
	assert.Contains(t, stdout.String(), "verdict: ready")

	reports, err := filepath.Glob(filepath.Join(out, "report-*.json"))
	require.NoError(t, err)
	require.Len(t, reports, 1)
	rep, err := report.Load(reports[0])
	require.NoError(t, err)
	assert.Equal(t, model.VerdictReady, rep.Verdict)
}

func TestRun_NotReadyExitsOne(t *testing.T) {
	ts := newDemo(t)
	var stdout bytes.Buffer
	// No credentials: every authenticated L2 probe fails.
	code := Execute([]string{"run", "--target", ts.URL, "--layers", "l2", "--out", t.TempDir(),
		"--log-level", "error"}, &stdout, &bytes.Buffer{})
	assert.Equal(t, ExitFailed, code)
	assert.Contains(t, stdout.String(), "verdict: ")
}

func TestCompare(t *testing.T) {
	dir := t.TempDir()
	tgt := model.Target{BaseURL: "http://sut.test", Env: model.EnvLocal}
	old := model.Report{RunID: "a", Target: tgt, Verdict: model.VerdictReady, Score: 1, Outcomes: []model.Outcome{
		{Layer: model.LayerHTTP, Name: "health", Target: tgt.BaseURL, Success: true},
	}}
	cur := old
	cur.RunID = "b"
	cur.Verdict = model.VerdictNotReady
	cur.Score = 0
	cur.Outcomes = []model.Outcome{
		{Layer: model.LayerHTTP, Name: "health", Target: tgt.BaseURL, ErrorKind: model.KindTimeout, Error: "slow"},
	}
	w := report.NewWriter(dir, report.Options{}, nil)
	oldPaths, err := w.Write(old)
	require.NoError(t, err)
	curPaths, err := w.Write(cur)
	require.NoError(t, err)

	color.NoColor = true
	var stdout bytes.Buffer
	code := Execute([]string{"compare", oldPaths.JSON, curPaths.JSON}, &stdout, &bytes.Buffer{})
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, stdout.String(), "verdict: ready -> not-ready")
	assert.Contains(t, stdout.String(), "broken (1)")

	code = Execute([]string{"compare", "--fail-on-broken", oldPaths.JSON, curPaths.JSON}, &bytes.Buffer{}, &bytes.Buffer{})
	assert.Equal(t, ExitFailed, code)

	code = Execute([]string{"compare", oldPaths.JSON, filepath.Join(dir, "missing.json")}, &bytes.Buffer{}, &bytes.Buffer{})
	assert.Equal(t, ExitHarness, code)
}

func TestRootCommand_Subcommands(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetContext(context.Background())
	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"run", "compare", "version"})
}
