package app

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raysh454/probekit/internal/browser"
	"github.com/raysh454/probekit/internal/demosut"
	"github.com/raysh454/probekit/internal/model"
	"github.com/raysh454/probekit/internal/prober"
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

// testConfig targets baseURL with the demo admin and a user the seeder
// creates.
func testConfig(t *testing.T, baseURL string) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.TargetURL = baseURL
	cfg.OutDir = t.TempDir()
	cfg.Layers = "l1,l2"
	cfg.Seed = true
	cfg.Admin = model.Credential{Role: model.RoleAdmin, Email: "admin@example.com", Password: "AdminPass123!"}
	cfg.User = model.Credential{Role: model.RoleUser, Email: "probe.user@example.com", Password: "UserPass123!"}
	cfg.Deadlines.HTTP = 2 * time.Second
	cfg.Deadlines.RetryBackoff = 10 * time.Millisecond
	cfg.Deadlines.SessionSettle = 2 * time.Second
	return cfg
}

func runOnce(t *testing.T, ctx context.Context, cfg *Config) (*RunContext, Result, error) {
	t.Helper()
	rc, err := NewRunContext(ctx, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })
	res, err := NewOrchestrator(rc).Run(ctx)
	return rc, res, err
}

func outcomesOf(rep model.Report, layer model.Layer) map[string]model.Outcome {
	out := map[string]model.Outcome{}
	for _, o := range rep.Outcomes {
		if o.Layer == layer {
			out[o.Name] = o
		}
	}
	return out
}

func TestRun_SeedHTTPAndAPI(t *testing.T) {
	t.Parallel()
	ts := newDemo(t)
	cfg := testConfig(t, ts.URL)

	_, res, err := runOnce(t, context.Background(), cfg)
	require.NoError(t, err)
	rep := res.Report

	require.NotNil(t, rep.Seed)
	assert.Zero(t, rep.Seed.Failed, "%v", rep.Seed.Errors)
	assert.Positive(t, rep.Seed.Created)

	l1 := outcomesOf(rep, model.LayerHTTP)
	assert.Len(t, l1, len(prober.PublicEndpoints()))
	for name, o := range l1 {
		assert.True(t, o.Success, "%s: %s %s", name, o.ErrorKind, o.Error)
	}
	assert.Regexp(t, prober.DonationReferencePattern, l1["donation:reference"].Observed["reference_id"])

	l2 := outcomesOf(rep, model.LayerAPI)
	assert.Len(t, l2, 2*len(prober.ProtectedEndpoints()))
	for _, spec := range prober.ProtectedEndpoints() {
		protect := l2[prober.ProtectionName(spec)]
		assert.Equal(t, model.KindAuthChallenged, protect.ErrorKind, protect.Name)
		assert.Equal(t, model.SubLayerProtection, protect.SubLayer)
		authed := l2[spec.Name]
		assert.True(t, authed.Success, "%s: %s %s", spec.Name, authed.ErrorKind, authed.Error)
	}

	assert.Equal(t, model.VerdictReady, rep.Verdict)
	assert.InDelta(t, 1.0, rep.TestRate, 1e-9)
	assert.InDelta(t, 1.0, rep.ApproachRate, 1e-9)
	assert.FileExists(t, res.Paths.JSON)
	assert.FileExists(t, res.Paths.Markdown)

	loaded, err := report.Load(res.Paths.JSON)
	require.NoError(t, err)
	assert.Equal(t, rep.RunID, loaded.RunID)
	assert.Len(t, loaded.Outcomes, len(rep.Outcomes))
}

func TestRun_SeedIsIdempotent(t *testing.T) {
	t.Parallel()
	ts := newDemo(t)

	cfg := testConfig(t, ts.URL)
	cfg.Layers = "l1"
	_, first, err := runOnce(t, context.Background(), cfg)
	require.NoError(t, err)
	require.Zero(t, first.Report.Seed.Failed)

	_, second, err := runOnce(t, context.Background(), cfg)
	require.NoError(t, err)
	assert.Zero(t, second.Report.Seed.Failed, "%v", second.Report.Seed.Errors)
	assert.Zero(t, second.Report.Seed.Created)
	assert.NotEqual(t, first.Paths.JSON, second.Paths.JSON)
}

func TestRun_MissingUserCredential(t *testing.T) {
	t.Parallel()
	ts := newDemo(t)
	cfg := testConfig(t, ts.URL)
	cfg.Seed = false
	cfg.Layers = "l2"
	cfg.User = model.Credential{Role: model.RoleUser}

	_, res, err := runOnce(t, context.Background(), cfg)
	require.NoError(t, err)

	l2 := outcomesOf(res.Report, model.LayerAPI)
	for _, spec := range prober.ProtectedEndpoints() {
		o := l2[spec.Name]
		if spec.Role == model.RoleUser {
			assert.Equal(t, model.KindAuthFailed, o.ErrorKind, spec.Name)
		} else {
			assert.True(t, o.Success, spec.Name)
		}
	}
	summary, ok := res.Report.Layer(model.LayerAPI)
	require.True(t, ok)
	assert.Equal(t, len(prober.ProtectedEndpoints()), summary.Protection.Passed)
}

func TestRun_CancelledWritesPartialReport(t *testing.T) {
	t.Parallel()
	ts := newDemo(t)
	cfg := testConfig(t, ts.URL)
	cfg.Seed = false

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, res, err := runOnce(t, ctx, cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHarness))
	assert.FileExists(t, res.Paths.JSON)
	assert.Empty(t, res.Report.Outcomes)
	assert.Equal(t, model.VerdictNotReady, res.Report.Verdict)
}

func TestRun_UnwritableOutDir(t *testing.T) {
	t.Parallel()
	ts := newDemo(t)
	cfg := testConfig(t, ts.URL)
	cfg.Seed = false
	cfg.Layers = "l1"
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	cfg.OutDir = filepath.Join(file, "out")

	_, res, err := runOnce(t, context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHarness))
	assert.NotEmpty(t, res.Report.Outcomes)
}

func TestRun_ProgressReceivesOutcomes(t *testing.T) {
	t.Parallel()
	ts := newDemo(t)
	cfg := testConfig(t, ts.URL)
	cfg.Seed = false
	cfg.Layers = "l1"
	cfg.ProgressAddr = "127.0.0.1:0"

	rc, err := NewRunContext(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer rc.Close()
	var published []string
	rc.Recorder.OnRecord(func(o model.Outcome) { published = append(published, o.Name) })

	orch := NewOrchestrator(rc)
	require.NotNil(t, orch.Progress())
	res, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, published, len(res.Report.Outcomes))
}

func TestNewRunContext_InvalidConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Layers = "l9"
	_, err := NewRunContext(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHarness))
}

func TestNewRunContext_BrowserMissing(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.TargetURL = "http://127.0.0.1:1"
	cfg.OutDir = t.TempDir()
	cfg.Layers = "l3"
	cfg.ChromePath = filepath.Join(t.TempDir(), "no-such-chrome")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err := NewRunContext(ctx, cfg, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHarness))
}

func TestRun_AllLayersWithBrowser(t *testing.T) {
	ts := newDemo(t)
	cfg := testConfig(t, ts.URL)
	cfg.Layers = ""

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	rc, err := NewRunContext(ctx, cfg, nil)
	if errors.Is(err, browser.ErrBrowserUnavailable) {
		t.Skipf("chrome not available: %v", err)
	}
	require.NoError(t, err)
	defer rc.Close()

	res, err := NewOrchestrator(rc).Run(ctx)
	require.NoError(t, err)
	for _, l := range model.AllLayers {
		summary, ok := res.Report.Layer(l)
		require.True(t, ok, l)
		assert.Positive(t, summary.Total, l)
	}
	touch := outcomesOf(res.Report, model.LayerBrowser)
	for _, path := range browser.TouchAuditPages() {
		assert.Contains(t, touch, browser.TouchOutcomeName(path))
	}
}
