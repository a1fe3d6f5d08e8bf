package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raysh454/probekit/internal/aggregate"
	"github.com/raysh454/probekit/internal/browser"
	"github.com/raysh454/probekit/internal/logging"
	"github.com/raysh454/probekit/internal/model"
	"github.com/raysh454/probekit/internal/probe"
	"github.com/raysh454/probekit/internal/prober"
	"github.com/raysh454/probekit/internal/report"
	"github.com/raysh454/probekit/internal/session"
	"github.com/raysh454/probekit/internal/webclient"
)

// ErrHarness marks failures of the harness itself rather than of the
// target: bad config, unusable output directory, missing browser,
// cancellation. The CLI maps it to exit code 2.
var ErrHarness = errors.New("harness error")

func harnessErr(msg string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrHarness, msg, err)
}

// RunContext is the explicit state of one run. Every component gets what it
// needs from here; the Recorder is the only accumulator.
type RunContext struct {
	Config *Config
	Target model.Target
	Layers []model.Layer
	RunID  string
	Logger logging.Logger

	Recorder *aggregate.Recorder
	Prober   *prober.Prober
	Sessions *session.Manager
	// Browser is nil unless a browser layer is selected.
	Browser *browser.Driver

	anon     webclient.WebClient
	renderer webclient.WebClient
	started  time.Time

	mu        sync.Mutex
	seed      *model.SeedSummary
	recordErr error
}

// NewRunContext validates cfg and builds the shared clients. The browser is
// launched only when L3 or L4 is selected; failing to launch it is a
// harness error. Callers must Close the returned context.
func NewRunContext(ctx context.Context, cfg *Config, logger logging.Logger) (*RunContext, error) {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	target, layers, err := cfg.Validate()
	if err != nil {
		return nil, harnessErr("config", err)
	}

	rc := &RunContext{
		Config:   cfg,
		Target:   target,
		Layers:   layers,
		RunID:    uuid.NewString(),
		Recorder: aggregate.NewRecorder(),
		started:  time.Now(),
	}
	rc.Logger = logger.With(logging.Field{Key: "run", Value: rc.RunID})

	rc.anon, err = webclient.NewWebClient(webclient.Config{
		Client:  webclient.ClientNetHTTP,
		Timeout: cfg.Deadlines.HTTP,
	}, rc.Logger)
	if err != nil {
		return nil, harnessErr("http client", err)
	}
	rc.Prober = prober.New(target, rc.anon, prober.Config{
		Timeout:     cfg.Deadlines.HTTP,
		Retry:       cfg.Deadlines.Retry(),
		Concurrency: cfg.L1Concurrency,
	}, rc.Logger)
	rc.Sessions = session.NewManager(target, cfg.sessionConfig(), rc.Logger)

	if rc.needsBrowser() {
		rc.Browser, err = browser.NewDriver(ctx, cfg.browserConfig(report.ScreenshotDir(cfg.OutDir)), rc.Logger)
		if err != nil {
			rc.Close()
			return nil, harnessErr("browser", err)
		}
	}
	if cfg.RenderPages && rc.selected(model.LayerHTTP) {
		rc.renderer, err = webclient.NewWebClient(webclient.Config{
			Client:   webclient.ClientChromedp,
			Timeout:  cfg.Deadlines.Navigation,
			Headless: cfg.Headless,
		}, rc.Logger)
		if err != nil {
			rc.Close()
			return nil, harnessErr("render backend", err)
		}
		rc.Prober.WithRenderer(rc.renderer)
	}
	return rc, nil
}

func (rc *RunContext) selected(l model.Layer) bool {
	for _, s := range rc.Layers {
		if s == l {
			return true
		}
	}
	return false
}

func (rc *RunContext) needsBrowser() bool {
	return rc.selected(model.LayerBrowser) || rc.selected(model.LayerScenario)
}

// NewPool returns a session pool over the configured credentials. Each
// layer and each scenario owns its own pool.
func (rc *RunContext) NewPool() *session.Pool {
	return session.NewPool(rc.Sessions, rc.Config.credentials()...)
}

// Env is the probe environment for layer.
func (rc *RunContext) Env(layer model.Layer, pool *session.Pool) probe.Env {
	return probe.Env{
		Target:   rc.Target,
		Layer:    layer,
		Prober:   rc.Prober,
		Sessions: pool,
		Browser:  rc.Browser,
		Logger:   rc.Logger,
	}
}

// Record appends o to the run. A rejected outcome is a harness error that
// surfaces when the run finishes.
func (rc *RunContext) Record(o model.Outcome) {
	if o.Target == "" {
		o.Target = rc.Target.BaseURL
	}
	if err := rc.Recorder.Record(o); err != nil {
		rc.Logger.Error("outcome rejected", logging.Field{Key: "name", Value: o.Name}, logging.Err(err))
		rc.mu.Lock()
		if rc.recordErr == nil {
			rc.recordErr = err
		}
		rc.mu.Unlock()
		return
	}
	fields := []logging.Field{
		{Key: "layer", Value: string(o.Layer)},
		{Key: "name", Value: o.Name},
		{Key: "latency_ms", Value: o.LatencyMS},
	}
	switch {
	case o.Success:
		rc.Logger.Info("pass", fields...)
	case o.Challenged() && o.SubLayer == model.SubLayerProtection:
		rc.Logger.Info("challenged", fields...)
	default:
		fields = append(fields,
			logging.Field{Key: "kind", Value: string(o.ErrorKind)},
			logging.Field{Key: "error", Value: o.Summary()})
		rc.Logger.Warn("fail", fields...)
	}
}

func (rc *RunContext) setSeed(s model.SeedSummary) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.seed = &s
}

func (rc *RunContext) aggregateRun(finished time.Time) aggregate.Run {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return aggregate.Run{
		ID:       rc.RunID,
		Target:   rc.Target,
		Layers:   rc.Layers,
		Seed:     rc.seed,
		Started:  rc.started,
		Finished: finished,
	}
}

// Snapshot builds a report from the outcomes recorded so far.
func (rc *RunContext) Snapshot() model.Report {
	return aggregate.BuildReport(rc.aggregateRun(time.Now()), rc.Recorder.Outcomes())
}

// Close releases the browser and the HTTP clients.
func (rc *RunContext) Close() error {
	var errs []error
	if rc.Browser != nil {
		errs = append(errs, rc.Browser.Close())
	}
	if rc.renderer != nil {
		errs = append(errs, rc.renderer.Close())
	}
	if rc.anon != nil {
		errs = append(errs, rc.anon.Close())
	}
	return errors.Join(errs...)
}
