package app

import (
	"context"
	"time"

	"github.com/raysh454/probekit/internal/browser"
	"github.com/raysh454/probekit/internal/logging"
	"github.com/raysh454/probekit/internal/model"
	"github.com/raysh454/probekit/internal/probe"
	"github.com/raysh454/probekit/internal/prober"
	"github.com/raysh454/probekit/internal/report"
	"github.com/raysh454/probekit/internal/scenario"
	"github.com/raysh454/probekit/internal/seed"
	"github.com/raysh454/probekit/internal/server"
	"github.com/raysh454/probekit/internal/session"
)

// Result is what one run produced.
type Result struct {
	Report model.Report
	Paths  report.Paths
}

// Orchestrator runs the selected layers in order against one RunContext.
type Orchestrator struct {
	rc       *RunContext
	writer   *report.Writer
	progress *server.Server
	logger   logging.Logger

	// closeTimeout bounds session logouts after a layer.
	closeTimeout time.Duration
}

func NewOrchestrator(rc *RunContext) *Orchestrator {
	o := &Orchestrator{
		rc: rc,
		writer: report.NewWriter(rc.Config.OutDir, report.Options{
			HTML: rc.Config.HTML,
			TopN: rc.Config.TopN,
		}, rc.Logger),
		logger:       rc.Logger.With(logging.Field{Key: "component", Value: "orchestrator"}),
		closeTimeout: 5 * time.Second,
	}
	if rc.Config.ProgressAddr != "" {
		o.progress = server.NewServer(server.Config{
			ListenAddr: rc.Config.ProgressAddr,
			Snapshot:   rc.Snapshot,
			Logger:     rc.Logger,
		})
	}
	return o
}

// Progress is the live progress server, nil when disabled.
func (o *Orchestrator) Progress() *server.Server {
	return o.progress
}

// Run seeds (when enabled), runs every selected layer, scores the outcomes
// and writes the report. A cancelled ctx stops the run between probes; the
// partial report is still written and an ErrHarness is returned with it.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	rc := o.rc
	scenarios, err := o.loadScenarios()
	if err != nil {
		return Result{}, err
	}

	if o.progress != nil {
		if err := o.progress.Start(); err != nil {
			return Result{}, harnessErr("progress server", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), o.closeTimeout)
			defer cancel()
			_ = o.progress.Shutdown(ctx)
		}()
		rc.Recorder.OnRecord(o.progress.Publish)
	}

	o.logger.Info("run started",
		logging.Field{Key: "target", Value: rc.Target.BaseURL},
		logging.Field{Key: "env", Value: string(rc.Target.Env)},
		logging.Field{Key: "layers", Value: layerNames(rc.Layers)})

	if rc.Config.Seed && ctx.Err() == nil {
		o.runSeed(ctx)
	}
	for _, layer := range rc.Layers {
		if ctx.Err() != nil {
			break
		}
		o.logger.Info("layer started", logging.Field{Key: "layer", Value: string(layer)})
		switch layer {
		case model.LayerHTTP:
			o.runHTTP(ctx)
		case model.LayerAPI:
			o.runAPI(ctx)
		case model.LayerBrowser:
			o.runBrowser(ctx)
		case model.LayerScenario:
			o.runScenarios(ctx, scenarios)
		}
	}

	rep := rc.Snapshot()
	paths, err := o.writer.Write(rep)
	if err != nil {
		return Result{Report: rep}, harnessErr("report", err)
	}
	if o.progress != nil {
		o.progress.Finish(rep)
	}
	o.logger.Info("run finished",
		logging.Field{Key: "verdict", Value: string(rep.Verdict)},
		logging.Field{Key: "test_rate", Value: rep.TestRate},
		logging.Field{Key: "approach_rate", Value: rep.ApproachRate},
		logging.Field{Key: "report", Value: paths.JSON})

	res := Result{Report: rep, Paths: paths}
	if err := ctx.Err(); err != nil {
		return res, harnessErr("run cancelled", err)
	}
	rc.mu.Lock()
	recErr := rc.recordErr
	rc.mu.Unlock()
	if recErr != nil {
		return res, harnessErr("recording outcomes", recErr)
	}
	return res, nil
}

func (o *Orchestrator) loadScenarios() ([]scenario.Scenario, error) {
	cfg := o.rc.Config
	scs := scenario.Canonical(cfg.CartLimitText)
	if cfg.ScenariosDir == "" || !o.rc.selected(model.LayerScenario) {
		return scs, nil
	}
	extra, err := scenario.LoadDir(cfg.ScenariosDir)
	if err != nil {
		return nil, harnessErr("scenarios", err)
	}
	o.logger.Info("scenarios loaded",
		logging.Field{Key: "dir", Value: cfg.ScenariosDir},
		logging.Field{Key: "count", Value: len(extra)})
	return scenario.Merge(scs, extra), nil
}

func (o *Orchestrator) closePool(pool *session.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), o.closeTimeout)
	defer cancel()
	pool.Close(ctx)
}

func (o *Orchestrator) runSeed(ctx context.Context) {
	rc := o.rc
	fixtures, err := seed.DefaultFixtures()
	if err != nil {
		o.logger.Error("loading default seed fixtures", logging.Err(err))
		rc.setSeed(model.SeedSummary{Failed: 1, Errors: []string{err.Error()}})
		return
	}
	if rc.Config.SeedFixtures != "" {
		f, err := seed.LoadFixtures(rc.Config.SeedFixtures)
		if err != nil {
			o.logger.Error("loading seed fixtures", logging.Err(err))
			rc.setSeed(model.SeedSummary{Failed: 1, Errors: []string{err.Error()}})
			return
		}
		fixtures = f
	}
	fixtures = fixtures.WithCredential(rc.Config.User)

	pool := rc.NewPool()
	defer o.closePool(pool)
	admin, err := pool.Acquire(ctx, model.RoleAdmin)
	if err != nil {
		o.logger.Error("seeding needs an admin session", logging.Err(err))
		rc.setSeed(model.SeedSummary{
			Failed: len(fixtures.Users) + len(fixtures.Items),
			Errors: []string{err.Error()},
		})
		return
	}
	s := seed.New(rc.Target, admin, seed.Config{
		Paths:   rc.Config.SeedPaths,
		Timeout: rc.Config.Deadlines.HTTP,
		Retry:   rc.Config.Deadlines.Retry(),
	}, rc.Logger)
	rc.setSeed(s.Run(ctx, fixtures))
}

// runHTTP probes the public catalog with the bounded L1 concurrency.
func (o *Orchestrator) runHTTP(ctx context.Context) {
	rc := o.rc
	specs := prober.PublicEndpoints()
	if rc.renderer != nil {
		specs = append(specs, prober.RenderedPages()...)
	}
	for _, out := range rc.Prober.ProbeAll(ctx, model.LayerHTTP, specs) {
		rc.Record(out)
	}
}

// runAPI probes each protected endpoint twice, sequentially: once without a
// session as a protection check and once with a session of its role.
func (o *Orchestrator) runAPI(ctx context.Context) {
	rc := o.rc
	pool := rc.NewPool()
	defer o.closePool(pool)
	env := rc.Env(model.LayerAPI, pool)

	for _, spec := range prober.ProtectedEndpoints() {
		if ctx.Err() != nil {
			return
		}
		anon := spec
		anon.Name = prober.ProtectionName(spec)
		rc.Record(probe.APIProbe{Spec: anon, Anonymous: true}.Run(ctx, env))
		if ctx.Err() != nil {
			return
		}
		rc.Record(probe.APIProbe{Spec: spec}.Run(ctx, env))
	}
}

// runBrowser drives the form catalog, the admin list pages and the touch
// target audits.
func (o *Orchestrator) runBrowser(ctx context.Context) {
	rc := o.rc
	pool := rc.NewPool()
	defer o.closePool(pool)
	env := rc.Env(model.LayerBrowser, pool)

	forms := append(browser.DefaultForms(rc.Config.User), browser.AdminListPages()...)
	for _, f := range forms {
		if ctx.Err() != nil {
			return
		}
		rc.Record(probe.FormProbe{Spec: f.Expand()}.Run(ctx, env))
	}

	if rc.Browser == nil {
		return
	}
	pages := browser.TouchAuditPages()
	audited := map[string]bool{}
	opts := browser.ScopeOptions{Viewport: rc.Config.TouchViewport, CookieURL: rc.Target.URL("/")}
	err := rc.Browser.With(ctx, opts, func(s *browser.Scope) error {
		for _, path := range pages {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			rc.Record(s.AuditPage(ctx, rc.Target.BaseURL, path))
			audited[path] = true
		}
		return nil
	})
	if err == nil || ctx.Err() != nil {
		return
	}
	o.logger.Error("touch audit scope", logging.Err(err))
	for _, path := range pages {
		if audited[path] {
			continue
		}
		out := model.Outcome{
			Layer:      model.LayerBrowser,
			SubLayer:   model.SubLayerFunctionality,
			Name:       browser.TouchOutcomeName(path),
			Target:     rc.Target.BaseURL,
			RecordedAt: time.Now(),
		}
		out.Fail(model.KindHarnessError, err.Error())
		rc.Record(out)
	}
}

func (o *Orchestrator) runScenarios(ctx context.Context, scenarios []scenario.Scenario) {
	rc := o.rc
	runner := scenario.NewRunner(rc.Env(model.LayerScenario, nil), rc.NewPool,
		scenario.Config{SleepCap: rc.Config.Deadlines.SleepCap}, rc.Logger)
	runner.RunAll(ctx, scenarios, rc.Record)
}

func layerNames(layers []model.Layer) []string {
	out := make([]string, len(layers))
	for i, l := range layers {
		out[i] = string(l)
	}
	return out
}
