package prober

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/raysh454/probekit/internal/logging"
	"github.com/raysh454/probekit/internal/model"
	"github.com/raysh454/probekit/internal/webclient"
)

// Config tunes a Prober.
type Config struct {
	// Timeout bounds each attempt.
	Timeout time.Duration
	Retry   webclient.RetryPolicy
	// Concurrency caps ProbeAll. Zero means 4.
	Concurrency int
}

// Prober evaluates EndpointSpecs against one Target.
type Prober struct {
	target   model.Target
	anon     webclient.WebClient
	renderer webclient.WebClient
	cfg      Config
	logger   logging.Logger
	now      func() time.Time
}

// New returns a Prober that sends anonymous requests through anon.
func New(target model.Target, anon webclient.WebClient, cfg Config, logger logging.Logger) *Prober {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Prober{
		target: target,
		anon:   anon,
		cfg:    cfg,
		logger: logger.With(logging.Field{Key: "component", Value: "prober"}),
		now:    time.Now,
	}
}

// WithRenderer sets the webclient used for specs marked Render.
func (p *Prober) WithRenderer(wc webclient.WebClient) *Prober {
	p.renderer = wc
	return p
}

func (p *Prober) buildRequest(spec EndpointSpec) (*webclient.Request, error) {
	req := &webclient.Request{
		Method:  spec.method(),
		URL:     p.target.URL(spec.Path),
		Headers: http.Header{},
	}
	for k, v := range spec.Header {
		req.Headers.Set(k, v)
	}
	if spec.Body != nil {
		b, err := json.Marshal(normalizeYAML(spec.Body))
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		req.Body = b
		if req.Headers.Get("Content-Type") == "" {
			req.Headers.Set("Content-Type", "application/json")
		}
	}
	if spec.wantsJSON() && req.Headers.Get("Accept") == "" {
		req.Headers.Set("Accept", "application/json")
	}
	return req, nil
}

// Probe runs spec once (plus the retry policy) and returns its Outcome.
//
// With a nil session an auth-required spec is sent anonymously as a
// protection check: a 401/403 is recorded as auth-challenged and any
// other answer is a failure. With a session, a 401/403 is also recorded as
// auth-challenged so the aggregator can tell it apart from a broken
// endpoint.
func (p *Prober) Probe(ctx context.Context, layer model.Layer, spec EndpointSpec, session webclient.Doer) (out model.Outcome) {
	out = model.Outcome{
		Layer:    layer,
		SubLayer: model.SubLayerFunctionality,
		Name:     spec.Name,
		Target:   p.target.BaseURL,
	}
	protection := spec.AuthRequired && session == nil
	if protection {
		out.SubLayer = model.SubLayerProtection
	}
	defer func() { out.RecordedAt = p.now() }()

	if err := spec.Validate(); err != nil {
		out.Fail(model.KindHarnessError, err.Error())
		return out
	}
	req, err := p.buildRequest(spec)
	if err != nil {
		out.Fail(model.KindHarnessError, err.Error())
		return out
	}

	var doer webclient.Doer = p.anon
	switch {
	case session != nil:
		doer = session
	case spec.Render && p.renderer != nil:
		doer = p.renderer
	case spec.Render:
		out.Details = append(out.Details, "render requested but no browser backend; fetched without rendering")
	}

	start := p.now()
	resp, attempts, err := webclient.DoWithRetry(ctx, doer, req, p.cfg.Timeout, p.cfg.Retry)
	out.LatencyMS = p.now().Sub(start).Milliseconds()
	out.Attempts = attempts
	if err != nil {
		out.FailErr(err)
		p.logger.Debug("probe failed", logging.Field{Key: "name", Value: spec.Name}, logging.Err(err))
		return out
	}
	out.StatusCode = resp.StatusCode

	if Challenge(resp.StatusCode) && spec.AuthRequired {
		out.Fail(model.KindAuthChallenged, fmt.Sprintf("%s %s answered %d", req.Method, spec.Path, resp.StatusCode))
		if !protection {
			p.logger.Warn("authenticated probe was challenged",
				logging.Field{Key: "name", Value: spec.Name},
				logging.Field{Key: "status", Value: resp.StatusCode})
		}
		return out
	}
	if protection {
		out.Fail(model.KindStatusMismatch, fmt.Sprintf("protected endpoint served without session (status %d)", resp.StatusCode))
		return out
	}

	if !spec.statusExpected(resp.StatusCode) {
		out.Fail(model.KindStatusMismatch, fmt.Sprintf("status %d not in %v: %s", resp.StatusCode, expectedSet(spec), excerpt(resp.Body)))
		return out
	}
	if err := p.checkBody(&out, spec, resp.Body); err != nil {
		out.Fail(model.KindSchemaError, err.Error())
		return out
	}
	out.Pass()
	return out
}

func (p *Prober) checkBody(out *model.Outcome, spec EndpointSpec, body []byte) error {
	if spec.wantsJSON() {
		doc, err := ParseJSON(body)
		if err != nil {
			return fmt.Errorf("response is not JSON: %w", err)
		}
		for _, c := range spec.Checks {
			v, err := c.Evaluate(doc)
			if err != nil {
				return err
			}
			if c.Capture != "" {
				out.Observe(c.Capture, v)
			}
		}
	}
	if spec.ExpectSelector != "" {
		n, err := SelectorCount(body, spec.ExpectSelector)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("selector %q matched nothing", spec.ExpectSelector)
		}
		out.Observe("selector_matches", fmt.Sprint(n))
	}
	return nil
}

// ProbeAll runs anonymous probes with at most Config.Concurrency in flight.
// Outcomes are returned in spec order. Specs not started before ctx is
// cancelled are omitted.
func (p *Prober) ProbeAll(ctx context.Context, layer model.Layer, specs []EndpointSpec) []model.Outcome {
	results := make([]*model.Outcome, len(specs))
	var wg sync.WaitGroup
	sem := make(chan struct{}, p.cfg.Concurrency)

	for i, spec := range specs {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(i int, spec EndpointSpec) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			o := p.Probe(ctx, layer, spec, nil)
			results[i] = &o
		}(i, spec)
	}
	wg.Wait()

	out := make([]model.Outcome, 0, len(specs))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

func expectedSet(spec EndpointSpec) string {
	if len(spec.ExpectStatus) == 0 {
		return "2xx"
	}
	return fmt.Sprint(spec.ExpectStatus)
}

func excerpt(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

// normalizeYAML converts map[any]any nodes into map[string]any so bodies
// decoded from YAML can be JSON encoded.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = normalizeYAML(val)
		}
		return m
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeYAML(val)
		}
		return out
	}
	return v
}
