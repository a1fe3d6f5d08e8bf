// Package probe defines the closed set of probe kinds the harness runs and
// the explicit environment they run in.
package probe

import (
	"context"
	"time"

	"github.com/raysh454/probekit/internal/browser"
	"github.com/raysh454/probekit/internal/logging"
	"github.com/raysh454/probekit/internal/model"
	"github.com/raysh454/probekit/internal/prober"
	"github.com/raysh454/probekit/internal/session"
)

// Env carries everything a probe needs. Nothing is read from globals.
type Env struct {
	Target model.Target
	// Layer tags the produced outcomes.
	Layer    model.Layer
	Prober   *prober.Prober
	Sessions *session.Pool
	// Browser is nil when no browser was started.
	Browser *browser.Driver
	// Scope, when set, is reused by form probes instead of a fresh context.
	Scope  *browser.Scope
	Logger logging.Logger
}

// Probe is one of HTTPProbe, APIProbe or FormProbe.
type Probe interface {
	Name() string
	Kind() string
	Run(ctx context.Context, env Env) model.Outcome
	isProbe()
}

// HTTPProbe is an anonymous request.
type HTTPProbe struct {
	Spec prober.EndpointSpec
}

// APIProbe is a request made with the session of Role. With Anonymous set,
// or when no role is known, it is sent without a session; for an
// auth-required spec that makes it a protection check.
type APIProbe struct {
	Spec      prober.EndpointSpec
	Role      model.Role
	Anonymous bool
}

// FormProbe drives a browser form.
type FormProbe struct {
	Spec browser.FormSpec
}

func (HTTPProbe) isProbe() {}
func (APIProbe) isProbe()  {}
func (FormProbe) isProbe() {}

func (p HTTPProbe) Name() string { return p.Spec.Name }
func (p APIProbe) Name() string  { return p.Spec.Name }
func (p FormProbe) Name() string { return p.Spec.Name }

func (HTTPProbe) Kind() string { return "http-probe" }
func (APIProbe) Kind() string  { return "api-probe" }
func (FormProbe) Kind() string { return "form-probe" }

func layerOr(env Env, def model.Layer) model.Layer {
	if env.Layer != "" {
		return env.Layer
	}
	return def
}

func failed(env Env, layer model.Layer, name string, err error) model.Outcome {
	o := model.Outcome{
		Layer:      layer,
		SubLayer:   model.SubLayerFunctionality,
		Name:       name,
		Target:     env.Target.BaseURL,
		RecordedAt: time.Now(),
	}
	o.FailErr(err)
	return o
}

func (p HTTPProbe) Run(ctx context.Context, env Env) model.Outcome {
	return env.Prober.Probe(ctx, layerOr(env, model.LayerHTTP), p.Spec, nil)
}

func (p APIProbe) role() model.Role {
	if p.Role != "" {
		return p.Role
	}
	return p.Spec.Role
}

func (p APIProbe) Run(ctx context.Context, env Env) model.Outcome {
	layer := layerOr(env, model.LayerAPI)
	role := p.role()
	if p.Anonymous || role == "" || env.Sessions == nil {
		return env.Prober.Probe(ctx, layer, p.Spec, nil)
	}
	sess, err := env.Sessions.Acquire(ctx, role)
	if err != nil {
		return failed(env, layer, p.Spec.Name, err)
	}
	return env.Prober.Probe(ctx, layer, p.Spec, sess)
}

func (p FormProbe) Run(ctx context.Context, env Env) model.Outcome {
	layer := layerOr(env, model.LayerBrowser)
	run := func(s *browser.Scope) model.Outcome {
		o := s.RunForm(ctx, env.Target.BaseURL, p.Spec)
		o.Layer = layer
		return o
	}
	if env.Scope != nil {
		return run(env.Scope)
	}
	if env.Browser == nil {
		return failed(env, layer, p.Spec.Name, model.Wrap(model.KindHarnessError, "form probe", browser.ErrBrowserUnavailable))
	}

	opts, err := ScopeFor(ctx, env, p.Spec.Role)
	if err != nil {
		return failed(env, layer, p.Spec.Name, err)
	}
	var out model.Outcome
	err = env.Browser.With(ctx, opts, func(s *browser.Scope) error {
		out = run(s)
		return nil
	})
	if err != nil {
		return failed(env, layer, p.Spec.Name, err)
	}
	return out
}

// ScopeFor returns browser scope options carrying the cookies of role's
// session. An empty role gives an anonymous scope.
func ScopeFor(ctx context.Context, env Env, role model.Role) (browser.ScopeOptions, error) {
	opts := browser.ScopeOptions{CookieURL: env.Target.URL("/")}
	if role == "" || env.Sessions == nil {
		return opts, nil
	}
	sess, err := env.Sessions.Acquire(ctx, role)
	if err != nil {
		return opts, err
	}
	opts.Cookies = sess.Cookies()
	return opts, nil
}
