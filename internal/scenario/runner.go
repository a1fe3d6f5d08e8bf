package scenario

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/raysh454/probekit/internal/browser"
	"github.com/raysh454/probekit/internal/logging"
	"github.com/raysh454/probekit/internal/model"
	"github.com/raysh454/probekit/internal/probe"
	"github.com/raysh454/probekit/internal/prober"
	"github.com/raysh454/probekit/internal/session"
)

// Config tunes the Runner.
type Config struct {
	// SleepCap bounds sleep steps.
	SleepCap time.Duration
}

// Runner executes scenarios one at a time. Every scenario gets its own
// session pool and browser context, both released before Run returns.
type Runner struct {
	env     probe.Env
	newPool func() *session.Pool
	cfg     Config
	logger  logging.Logger
	now     func() time.Time
}

// NewRunner builds a Runner. env supplies the target, prober and browser;
// newPool is called once per scenario.
func NewRunner(env probe.Env, newPool func() *session.Pool, cfg Config, logger logging.Logger) *Runner {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	if cfg.SleepCap <= 0 {
		cfg.SleepCap = 30 * time.Second
	}
	env.Layer = model.LayerScenario
	return &Runner{
		env:     env,
		newPool: newPool,
		cfg:     cfg,
		logger:  logger.With(logging.Field{Key: "component", Value: "scenario"}),
		now:     time.Now,
	}
}

// RunAll runs scenarios in order, passing each outcome to record as soon
// as it is produced. Scenarios not started before ctx ends are skipped.
func (r *Runner) RunAll(ctx context.Context, scenarios []Scenario, record func(model.Outcome)) {
	for _, sc := range scenarios {
		if ctx.Err() != nil {
			return
		}
		o := r.Run(ctx, sc)
		if record != nil {
			record(o)
		}
	}
}

// scenarioRun is the state owned by one Run call.
type scenarioRun struct {
	sc      Scenario
	env     probe.Env
	token   string
	results map[string]model.StepResult
	scope   *browser.Scope
}

// Run executes sc and returns its compound L4 outcome.
func (r *Runner) Run(ctx context.Context, sc Scenario) (out model.Outcome) {
	out = model.Outcome{
		Layer:    model.LayerScenario,
		SubLayer: model.SubLayerFunctionality,
		Name:     sc.OutcomeName(),
		Target:   r.env.Target.BaseURL,
	}
	start := r.now()
	log := r.logger.With(logging.Field{Key: "scenario", Value: sc.Name})
	defer func() {
		out.LatencyMS = r.now().Sub(start).Milliseconds()
		out.RecordedAt = r.now()
	}()

	if err := sc.Validate(); err != nil {
		out.Fail(model.KindHarnessError, err.Error())
		return out
	}

	run := &scenarioRun{
		sc:      sc,
		env:     r.env,
		token:   browser.NewToken(),
		results: map[string]model.StepResult{},
	}
	if r.newPool != nil {
		run.env.Sessions = r.newPool()
		defer run.env.Sessions.Close(context.WithoutCancel(ctx))
	}
	defer func() {
		if run.scope != nil {
			run.scope.Close()
		}
	}()

	var (
		blocking  *model.StepResult
		cancelled bool
	)
	for _, st := range sc.Steps {
		if blocking != nil || cancelled {
			out.Steps = append(out.Steps, model.StepResult{Name: st.Name, Kind: string(st.Kind), Status: model.StepNotRun, Independent: st.Independent})
			continue
		}
		if ctx.Err() != nil {
			cancelled = true
			out.Steps = append(out.Steps, model.StepResult{Name: st.Name, Kind: string(st.Kind), Status: model.StepNotRun, Independent: st.Independent})
			continue
		}

		res := r.runStep(ctx, run, st)
		run.results[st.Name] = res
		out.Steps = append(out.Steps, res)
		log.Info("step finished",
			logging.Field{Key: "step", Value: st.Name},
			logging.Field{Key: "status", Value: string(res.Status)},
			logging.Field{Key: "error_kind", Value: string(res.ErrorKind)})

		if res.Outcome != nil {
			out.Artifacts = append(out.Artifacts, res.Outcome.Artifacts...)
			for _, k := range res.Outcome.ObservedKeys() {
				out.Observe(st.Name+"."+k, res.Outcome.Observed[k])
			}
		}
		if res.Status == model.StepFailed && !st.Independent {
			failed := res
			blocking = &failed
		}
	}

	for _, s := range out.Steps {
		out.Details = append(out.Details, fmt.Sprintf("%s [%s] %s", s.Name, s.Kind, s.Status))
	}
	if ctx.Err() != nil {
		cancelled = true
	}
	switch {
	case cancelled:
		out.Fail(model.KindTimeout, fmt.Sprintf("cancelled with %d steps not run", countStatus(out.Steps, model.StepNotRun)))
	case blocking != nil:
		notRun := countStatus(out.Steps, model.StepNotRun)
		if notRun > 0 {
			out.Fail(model.KindScenarioPreconditionFailed,
				fmt.Sprintf("step %s failed (%s): %s; %d steps not run", blocking.Name, blocking.ErrorKind, blocking.Error, notRun))
		} else {
			out.Fail(blocking.ErrorKind, fmt.Sprintf("step %s failed: %s", blocking.Name, blocking.Error))
		}
	default:
		out.Pass()
	}
	log.Info("scenario finished", logging.Field{Key: "success", Value: out.Success})
	return out
}

func countStatus(steps []model.StepResult, status model.StepStatus) int {
	n := 0
	for _, s := range steps {
		if s.Status == status {
			n++
		}
	}
	return n
}

func (r *Runner) runStep(ctx context.Context, run *scenarioRun, st Step) (res model.StepResult) {
	res = model.StepResult{Name: st.Name, Kind: string(st.Kind), Independent: st.Independent}
	start := r.now()
	defer func() { res.DurationMS = r.now().Sub(start).Milliseconds() }()

	fail := func(kind model.ErrorKind, msg string) model.StepResult {
		res.Status = model.StepFailed
		res.ErrorKind = kind
		res.Error = msg
		return res
	}
	fromOutcome := func(o model.Outcome) model.StepResult {
		res.Outcome = &o
		if o.Success {
			res.Status = model.StepPassed
			return res
		}
		return fail(o.ErrorKind, o.Error)
	}

	switch st.Kind {
	case KindAPIProbe:
		spec := expandEndpoint(st.endpoint(), run.token)
		o := probe.APIProbe{Spec: spec, Role: st.Role, Anonymous: st.Role == ""}.Run(ctx, run.env)
		if st.ExpectChallenge {
			res.Outcome = &o
			if o.Challenged() {
				res.Status = model.StepPassed
				return res
			}
			if o.Success || o.ErrorKind == model.KindStatusMismatch {
				return fail(model.KindStatusMismatch, fmt.Sprintf("expected an auth challenge, got status %d", o.StatusCode))
			}
			return fail(o.ErrorKind, o.Error)
		}
		return fromOutcome(o)

	case KindFormProbe:
		scope, err := r.scope(ctx, run)
		if err != nil {
			return fail(model.KindOf(err), err.Error())
		}
		env := run.env
		env.Scope = scope
		return fromOutcome(probe.FormProbe{Spec: st.form().ExpandToken(run.token)}.Run(ctx, env))

	case KindExpectDBState:
		role := st.DB.Role
		if role == "" {
			role = model.RoleAdmin
		}
		spec := prober.EndpointSpec{
			Name:         st.Name,
			Method:       http.MethodGet,
			Path:         expandString(st.DB.Path, run.token),
			Checks:       st.DB.Checks,
			ExpectJSON:   true,
			AuthRequired: true,
			Role:         role,
		}
		o := probe.APIProbe{Spec: spec, Role: role}.Run(ctx, run.env)
		return fromOutcome(o)

	case KindSleep:
		d := st.Duration
		if d > r.cfg.SleepCap {
			d = r.cfg.SleepCap
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			res.Status = model.StepPassed
			return res
		case <-ctx.Done():
			return fail(model.KindTimeout, "sleep cancelled")
		}

	case KindAssertOutcome:
		if kind, msg := checkAssertion(run.results, *st.Assert); kind != model.KindNone {
			return fail(kind, msg)
		}
		res.Status = model.StepPassed
		return res
	}
	return fail(model.KindHarnessError, fmt.Sprintf("unknown step kind %q", st.Kind))
}

// checkAssertion evaluates a against the results recorded so far. A
// failed assertion on a form step is a DOM failure, otherwise a schema one.
func checkAssertion(results map[string]model.StepResult, a Assertion) (model.ErrorKind, string) {
	prior, ok := results[a.Step]
	if !ok {
		return model.KindHarnessError, fmt.Sprintf("step %q has no result", a.Step)
	}
	kind := model.KindSchemaError
	if prior.Kind == string(KindFormProbe) {
		kind = model.KindDOMAssertionFailed
	}
	if a.Status != "" && prior.Status != a.Status {
		return kind, fmt.Sprintf("step %s is %s, want %s", a.Step, prior.Status, a.Status)
	}
	if a.ErrorKind != "" && prior.ErrorKind != a.ErrorKind {
		return kind, fmt.Sprintf("step %s error kind is %q, want %q", a.Step, prior.ErrorKind, a.ErrorKind)
	}
	if a.Observed == "" {
		return model.KindNone, ""
	}
	var v string
	if prior.Outcome != nil {
		v = prior.Outcome.Observed[a.Observed]
	}
	if v == "" {
		return kind, fmt.Sprintf("step %s observed no %s", a.Step, a.Observed)
	}
	if a.Matches != "" && !regexp.MustCompile(a.Matches).MatchString(v) {
		return kind, fmt.Sprintf("step %s %s=%q does not match %s", a.Step, a.Observed, v, a.Matches)
	}
	return model.KindNone, ""
}

// scope returns the scenario's browser context, opening it on first use.
func (r *Runner) scope(ctx context.Context, run *scenarioRun) (*browser.Scope, error) {
	if run.scope != nil {
		return run.scope, nil
	}
	if run.env.Browser == nil {
		return nil, model.Wrap(model.KindHarnessError, "scenario "+run.sc.Name, browser.ErrBrowserUnavailable)
	}
	opts, err := probe.ScopeFor(ctx, run.env, run.sc.BrowserRole)
	if err != nil {
		return nil, err
	}
	s, err := run.env.Browser.NewScope(ctx, opts)
	if err != nil {
		return nil, model.Wrap(model.KindHarnessError, "open browser context", err)
	}
	run.scope = s
	return s, nil
}

func expandString(s, token string) string {
	return strings.ReplaceAll(s, browser.RandPlaceholder, token)
}

func expandEndpoint(spec prober.EndpointSpec, token string) prober.EndpointSpec {
	spec.Path = expandString(spec.Path, token)
	spec.Body = expandAny(spec.Body, token)
	return spec
}

func expandAny(v any, token string) any {
	switch t := v.(type) {
	case string:
		return expandString(t, token)
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = expandAny(val, token)
		}
		return m
	case map[any]any:
		m := make(map[any]any, len(t))
		for k, val := range t {
			m[k] = expandAny(val, token)
		}
		return m
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = expandAny(val, token)
		}
		return out
	}
	return v
}
