package scenario

import (
	"context"
	"net/http"
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
	"github.com/raysh454/probekit/internal/probe"
	"github.com/raysh454/probekit/internal/prober"
	"github.com/raysh454/probekit/internal/session"
	"github.com/raysh454/probekit/internal/webclient"
)

var (
	adminCred = model.Credential{Role: model.RoleAdmin, Email: "admin@example.com", Password: "AdminPass123!"}
	userCred  = model.Credential{Role: model.RoleUser, Email: "user@example.com", Password: "UserPass123!"}
)

func newRunner(t *testing.T, cfg Config) *Runner {
	t.Helper()
	srv, err := demosut.NewServer(demosut.DefaultConfig(), nil)
	require.NoError(t, err)
	_, err = srv.Store().CreateUser(context.Background(), demosut.User{Email: userCred.Email, Role: "user"}, userCred.Password)
	require.NoError(t, err)
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Close()
	})

	target, err := model.NewTarget(ts.URL, model.EnvLocal)
	require.NoError(t, err)
	wc, err := webclient.NewNetHTTPClient(webclient.Config{Timeout: 2 * time.Second}, nil, nil)
	require.NoError(t, err)
	mgr := session.NewManager(target, session.Config{HTTPTimeout: 2 * time.Second, SettleTimeout: 2 * time.Second}, nil)

	env := probe.Env{
		Target: target,
		Prober: prober.New(target, wc, prober.Config{Timeout: 2 * time.Second}, nil),
	}
	return NewRunner(env, func() *session.Pool { return session.NewPool(mgr, adminCred, userCred) }, cfg, nil)
}

func health(name string) Step {
	return Step{Name: name, Kind: KindAPIProbe, Endpoint: &prober.EndpointSpec{Path: "/api/health"}}
}

func missing(name string) Step {
	return Step{Name: name, Kind: KindAPIProbe, Endpoint: &prober.EndpointSpec{Path: "/api/nope", ExpectStatus: []int{200}}}
}

func statuses(o model.Outcome) []model.StepStatus {
	var out []model.StepStatus
	for _, s := range o.Steps {
		out = append(out, s.Status)
	}
	return out
}

func TestRequestProtectionAgainstDemo(t *testing.T) {
	r := newRunner(t, Config{})
	o := r.Run(context.Background(), RequestProtection())
	require.True(t, o.Success, "%s: %s %v", o.ErrorKind, o.Error, o.Details)
	assert.Equal(t, model.LayerScenario, o.Layer)
	assert.Equal(t, "scenario:request-protection", o.Name)
	assert.NotEmpty(t, o.Observed["user-create.request_id"])
	for _, s := range o.Steps {
		assert.Equal(t, model.StepPassed, s.Status, s.Name)
	}
	assert.NoError(t, o.Validate())
}

func TestRun_FailFastMarksRemainingNotRun(t *testing.T) {
	r := newRunner(t, Config{})
	o := r.Run(context.Background(), Scenario{Name: "ff", Steps: []Step{health("a"), missing("b"), health("c"), health("d")}})

	assert.False(t, o.Success)
	assert.Equal(t, model.KindScenarioPreconditionFailed, o.ErrorKind)
	assert.Equal(t, []model.StepStatus{model.StepPassed, model.StepFailed, model.StepNotRun, model.StepNotRun}, statuses(o))
	assert.Equal(t, model.KindStatusMismatch, o.Steps[1].ErrorKind)
	assert.Contains(t, o.Error, "2 steps not run")
}

func TestRun_LastStepFailureKeepsItsKind(t *testing.T) {
	r := newRunner(t, Config{})
	o := r.Run(context.Background(), Scenario{Name: "last", Steps: []Step{health("a"), missing("b")}})
	assert.False(t, o.Success)
	assert.Equal(t, model.KindStatusMismatch, o.ErrorKind)
}

func TestRun_IndependentFailureContinues(t *testing.T) {
	r := newRunner(t, Config{})
	soft := missing("soft")
	soft.Independent = true
	o := r.Run(context.Background(), Scenario{Name: "soft", Steps: []Step{health("a"), soft, health("c")}})
	assert.True(t, o.Success, o.Error)
	assert.Equal(t, []model.StepStatus{model.StepPassed, model.StepFailed, model.StepPassed}, statuses(o))
}

func TestRun_ExpectChallenge(t *testing.T) {
	r := newRunner(t, Config{})
	challenged := Step{Name: "anon", Kind: KindAPIProbe, ExpectChallenge: true,
		Endpoint: &prober.EndpointSpec{Path: "/api/admin/users"}}
	open := Step{Name: "open", Kind: KindAPIProbe, ExpectChallenge: true,
		Endpoint: &prober.EndpointSpec{Path: "/api/health"}}

	o := r.Run(context.Background(), Scenario{Name: "c1", Steps: []Step{challenged}})
	assert.True(t, o.Success, o.Error)

	o = r.Run(context.Background(), Scenario{Name: "c2", Steps: []Step{open}})
	assert.False(t, o.Success)
	assert.Equal(t, model.KindStatusMismatch, o.ErrorKind)
}

func TestRun_FormStepWithoutBrowser(t *testing.T) {
	r := newRunner(t, Config{})
	form := browser.ContactForm()
	o := r.Run(context.Background(), Scenario{Name: "nb", Steps: []Step{
		{Name: "contact", Kind: KindFormProbe, Form: &form},
		health("after"),
	}})
	assert.False(t, o.Success)
	assert.Equal(t, model.KindScenarioPreconditionFailed, o.ErrorKind)
	assert.Equal(t, model.KindHarnessError, o.Steps[0].ErrorKind)
	assert.Equal(t, model.StepNotRun, o.Steps[1].Status)
}

func TestRun_SleepIsCapped(t *testing.T) {
	r := newRunner(t, Config{SleepCap: 10 * time.Millisecond})
	start := time.Now()
	o := r.Run(context.Background(), Scenario{Name: "nap", Steps: []Step{{Name: "zz", Kind: KindSleep, Duration: time.Hour}}})
	assert.True(t, o.Success)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	r := newRunner(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := r.Run(ctx, Scenario{Name: "x", Steps: []Step{health("a"), health("b")}})
	assert.False(t, o.Success)
	assert.Equal(t, model.KindTimeout, o.ErrorKind)
	assert.Equal(t, []model.StepStatus{model.StepNotRun, model.StepNotRun}, statuses(o))
}

func TestRun_CancelledMidStepIsTimeout(t *testing.T) {
	r := newRunner(t, Config{SleepCap: time.Minute})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	o := r.Run(ctx, Scenario{Name: "interrupted", Steps: []Step{
		{Name: "wait", Kind: KindSleep, Duration: time.Minute},
		health("after"),
	}})
	assert.False(t, o.Success)
	assert.Equal(t, model.KindTimeout, o.ErrorKind)
	assert.Equal(t, []model.StepStatus{model.StepFailed, model.StepNotRun}, statuses(o))
	assert.False(t, o.RecordedAt.IsZero())
	assert.NoError(t, o.Validate())
}

func TestRun_AssertOutcomeAndDBState(t *testing.T) {
	r := newRunner(t, Config{})
	sc := Scenario{Name: "asserts", Steps: []Step{
		{Name: "donate", Kind: KindAPIProbe, Endpoint: &prober.EndpointSpec{
			Method:       http.MethodPost,
			Path:         "/api/donations",
			Body:         map[string]any{"name": "A", "email": "a-{{rand}}@example.com", "items": "boots"},
			ExpectStatus: []int{201},
			Checks:       []prober.JSONCheck{{Field: "referenceId", Capture: "reference_id"}},
		}},
		{Name: "ref-ok", Kind: KindAssertOutcome, Assert: &Assertion{Step: "donate", Status: model.StepPassed, Observed: "reference_id", Matches: `^DS-`}},
		{Name: "admin-sees", Kind: KindExpectDBState, DB: &DBState{Path: "/api/admin/donations", Checks: []prober.JSONCheck{{Field: "donations", MinItems: atLeast(1)}}}},
		{Name: "ref-wrong", Kind: KindAssertOutcome, Independent: true, Assert: &Assertion{Step: "donate", Observed: "reference_id", Matches: `^CT-`}},
	}}
	o := r.Run(context.Background(), sc)
	require.True(t, o.Success, "%s %v", o.Error, o.Details)
	assert.Equal(t, model.StepFailed, o.Steps[3].Status)
	assert.Equal(t, model.KindSchemaError, o.Steps[3].ErrorKind)
}

func TestRunAll_RecordsInOrder(t *testing.T) {
	r := newRunner(t, Config{})
	var names []string
	r.RunAll(context.Background(), []Scenario{
		{Name: "one", Steps: []Step{health("a")}},
		{Name: "two", Steps: []Step{health("a")}},
	}, func(o model.Outcome) { names = append(names, o.Name) })
	assert.Equal(t, []string{"scenario:one", "scenario:two"}, names)
}

func TestCheckAssertion(t *testing.T) {
	results := map[string]model.StepResult{
		"form": {Name: "form", Kind: string(KindFormProbe), Status: model.StepPassed,
			Outcome: &model.Outcome{Observed: map[string]string{"reference_id": "CT-ABCD-1234"}}},
	}
	kind, _ := checkAssertion(results, Assertion{Step: "form", Observed: "reference_id", Matches: browser.ReferencePattern})
	assert.Equal(t, model.KindNone, kind)
	kind, _ = checkAssertion(results, Assertion{Step: "form", Status: model.StepFailed})
	assert.Equal(t, model.KindDOMAssertionFailed, kind)
	kind, _ = checkAssertion(results, Assertion{Step: "form", Observed: "missing"})
	assert.Equal(t, model.KindDOMAssertionFailed, kind)
	kind, _ = checkAssertion(results, Assertion{Step: "nope"})
	assert.Equal(t, model.KindHarnessError, kind)
}

func TestValidate(t *testing.T) {
	for _, sc := range Canonical("") {
		assert.NoError(t, sc.Validate(), sc.Name)
	}
	assert.True(t, CartLimit("").NeedsBrowser())
	assert.False(t, RequestProtection().NeedsBrowser())

	bad := []Scenario{
		{},
		{Name: "empty"},
		{Name: "dup", Steps: []Step{health("a"), health("a")}},
		{Name: "unnamed", Steps: []Step{{Kind: KindSleep, Duration: time.Second}}},
		{Name: "kind", Steps: []Step{{Name: "x", Kind: "teleport"}}},
		{Name: "forward", Steps: []Step{{Name: "x", Kind: KindAssertOutcome, Assert: &Assertion{Step: "y"}}, health("y")}},
		{Name: "nosleep", Steps: []Step{{Name: "x", Kind: KindSleep}}},
		{Name: "nodb", Steps: []Step{{Name: "x", Kind: KindExpectDBState, DB: &DBState{Path: "/x"}}}},
	}
	for _, sc := range bad {
		assert.Error(t, sc.Validate(), sc.Name)
	}
}

const yamlScenarios = `
name: health-journey
browser_role: user
steps:
  - name: health
    kind: api-probe
    endpoint:
      path: /api/health
      checks:
        - field: status
          equals: ok
  - name: pause
    kind: sleep
    duration: 150ms
    independent: true
  - name: contact
    kind: form-probe
    form:
      page: /contact
      fields:
        name: Probe
        email: p-{{rand}}@example.com
        message: hi
      success:
        - text: Thank you
---
name: second
steps:
  - name: health
    kind: api-probe
    endpoint:
      path: /api/health
`

func TestParseAndLoadDir(t *testing.T) {
	scs, err := Parse([]byte(yamlScenarios))
	require.NoError(t, err)
	require.Len(t, scs, 2)
	assert.Equal(t, model.RoleUser, scs[0].BrowserRole)
	assert.Equal(t, 150*time.Millisecond, scs[0].Steps[1].Duration)
	assert.Equal(t, "message", scs[0].Steps[2].Form.Fields[2].Name)
	assert.True(t, scs[0].NeedsBrowser())

	_, err = Parse([]byte("name: x\nsteps:\n  - name: a\n    kind: sleep\n    duration: 1s\n    bogus: 1\n"))
	assert.Error(t, err, "unknown keys are rejected")

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(yamlScenarios), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))
	loaded, err := LoadDir(dir)
	require.NoError(t, err)
	assert.Len(t, loaded, 2)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yml"), []byte("name: second\nsteps:\n  - name: h\n    kind: sleep\n    duration: 1s\n"), 0o644))
	_, err = LoadDir(dir)
	assert.ErrorContains(t, err, "already defined")
}

func TestMerge(t *testing.T) {
	base := []Scenario{{Name: "a"}, {Name: "b"}}
	merged := Merge(base, []Scenario{{Name: "b", Description: "override"}, {Name: "c"}})
	require.Len(t, merged, 3)
	assert.Equal(t, "override", merged[1].Description)
	assert.Equal(t, "c", merged[2].Name)
	assert.Empty(t, base[1].Description)
}
