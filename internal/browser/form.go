package browser

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/raysh454/probekit/internal/logging"
	"github.com/raysh454/probekit/internal/model"
)

// Indicator is a DOM predicate. Exactly one of its fields is expected to be
// set; when several are, all must hold.
type Indicator struct {
	Text        string `yaml:"text,omitempty" json:"text,omitempty"`
	Selector    string `yaml:"selector,omitempty" json:"selector,omitempty"`
	URLContains string `yaml:"url_contains,omitempty" json:"url_contains,omitempty"`
}

func (i Indicator) String() string {
	var parts []string
	if i.Text != "" {
		parts = append(parts, fmt.Sprintf("text=%q", i.Text))
	}
	if i.Selector != "" {
		parts = append(parts, "selector="+i.Selector)
	}
	if i.URLContains != "" {
		parts = append(parts, fmt.Sprintf("url~%q", i.URLContains))
	}
	return strings.Join(parts, ",")
}

// Capture extracts a value from the page after submit.
type Capture struct {
	Selector string `yaml:"selector" json:"selector"`
	Pattern  string `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	// Key names the value in Outcome.Observed. Defaults to "reference_id".
	Key string `yaml:"key,omitempty" json:"key,omitempty"`
}

// Field is one logical field and the value typed into it.
type Field struct {
	Name  string
	Value string
}

// Fields keeps form fields in document order. In YAML it is written as a
// plain mapping.
type Fields []Field

func (f *Fields) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: fields must be a mapping", node.Line)
	}
	out := make(Fields, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		out = append(out, Field{Name: node.Content[i].Value, Value: node.Content[i+1].Value})
	}
	*f = out
	return nil
}

// FormSpec is a declarative browser form probe.
type FormSpec struct {
	Name string `yaml:"name"`
	// Page is the form's path under the target.
	Page   string `yaml:"page"`
	Fields Fields `yaml:"fields"`
	// Submit is a CSS selector for the submit control. Empty means the
	// first submit control inside a form.
	Submit string `yaml:"submit,omitempty"`
	// ModalOpener is clicked before filling when the form lives in a modal.
	ModalOpener string      `yaml:"modal_opener,omitempty"`
	Success     []Indicator `yaml:"success,omitempty"`
	Errors      []Indicator `yaml:"errors,omitempty"`
	// RedirectSuccess counts leaving the form page for a non-login page as
	// success (registration and login flows).
	RedirectSuccess bool     `yaml:"redirect_success,omitempty"`
	Capture         *Capture `yaml:"capture,omitempty"`
	// ListPage marks pages with no submit semantics: accessible with at
	// least one interactive element and not redirected to login.
	ListPage bool `yaml:"list_page,omitempty"`
	// Role selects the session whose cookies the scope carries.
	Role model.Role `yaml:"role,omitempty"`
}

// Validate checks the spec is runnable.
func (f FormSpec) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("form spec without name")
	}
	if f.Page == "" {
		return fmt.Errorf("form %s: page is required", f.Name)
	}
	if f.ListPage {
		return nil
	}
	if len(f.Success) == 0 && !f.RedirectSuccess && f.Capture == nil {
		return fmt.Errorf("form %s: needs a success indicator, redirect_success or capture", f.Name)
	}
	if f.Capture != nil {
		if f.Capture.Selector == "" {
			return fmt.Errorf("form %s: capture needs a selector", f.Name)
		}
		if _, err := regexp.Compile(f.Capture.Pattern); err != nil {
			return fmt.Errorf("form %s: capture pattern: %w", f.Name, err)
		}
	}
	return nil
}

func (f FormSpec) submitSelector() string {
	if f.Submit != "" {
		return f.Submit
	}
	return "form button[type=submit], form input[type=submit]"
}

// RandPlaceholder is replaced by a per-run token in field values.
const RandPlaceholder = "{{rand}}"

// NewToken returns a short random token for RandPlaceholder.
func NewToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}

// Expand substitutes RandPlaceholder in field values with a fresh token.
func (f FormSpec) Expand() FormSpec {
	return f.ExpandToken(NewToken())
}

// ExpandToken substitutes RandPlaceholder with token, so several forms of
// one journey can share generated values.
func (f FormSpec) ExpandToken(token string) FormSpec {
	out := f
	out.Fields = make(Fields, len(f.Fields))
	for i, fld := range f.Fields {
		out.Fields[i] = Field{Name: fld.Name, Value: strings.ReplaceAll(fld.Value, RandPlaceholder, token)}
	}
	return out
}

// PageState is what the driver observed after submitting a form.
type PageState struct {
	URL         string
	FormURL     string
	LoginPath   string
	SuccessHits []string
	ErrorHits   []string
	Interactive int
}

func (p PageState) String() string {
	return fmt.Sprintf("url=%s success=%v errors=%v", p.URL, p.SuccessHits, p.ErrorHits)
}

func samePath(a, b string) bool {
	ua, errA := url.Parse(a)
	ub, errB := url.Parse(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return strings.TrimRight(ua.Path, "/") == strings.TrimRight(ub.Path, "/")
}

func (p PageState) onLogin() bool {
	if p.LoginPath == "" {
		return false
	}
	u, err := url.Parse(p.URL)
	if err != nil {
		return strings.Contains(p.URL, p.LoginPath)
	}
	return strings.HasPrefix(u.Path, p.LoginPath)
}

// Classify decides the outcome of a submitted form from the observed page
// state. It returns ok, the failure kind and a message.
func Classify(spec FormSpec, st PageState) (bool, model.ErrorKind, string) {
	if spec.ListPage {
		if st.onLogin() && !samePath(st.FormURL, st.URL) {
			return false, model.KindAuthFailed, "redirected to login: " + st.URL
		}
		if st.Interactive == 0 {
			return false, model.KindDOMAssertionFailed, "page has no interactive elements"
		}
		return true, model.KindNone, ""
	}
	if len(st.ErrorHits) > 0 {
		return false, model.KindFormSubmitFailed, "error indicator present: " + strings.Join(st.ErrorHits, "; ")
	}
	if len(st.SuccessHits) > 0 {
		return true, model.KindNone, ""
	}
	if spec.RedirectSuccess && !samePath(st.FormURL, st.URL) && !st.onLogin() {
		return true, model.KindNone, ""
	}
	if len(spec.Success) == 0 && !spec.RedirectSuccess {
		// capture-only specs are judged by the capture
		return true, model.KindNone, ""
	}
	return false, model.KindFormSubmitFailed, "no success indicator after submit (" + st.String() + ")"
}

// observe evaluates the spec's indicators against the current page.
func (s *Scope) observe(ctx context.Context, spec FormSpec, formURL string) (PageState, error) {
	st := PageState{FormURL: formURL, LoginPath: s.d.cfg.LoginPath}
	loc, err := s.Location(ctx)
	if err != nil {
		return st, err
	}
	st.URL = loc
	check := func(ind Indicator) (bool, error) {
		if ind.URLContains != "" && !strings.Contains(loc, ind.URLContains) {
			return false, nil
		}
		if ind.Selector != "" {
			n, err := s.QueryCount(ctx, ind.Selector)
			if err != nil || n == 0 {
				return false, err
			}
		}
		if ind.Text != "" {
			ok, err := s.TextPresent(ctx, ind.Text)
			if err != nil || !ok {
				return false, err
			}
		}
		return ind.URLContains != "" || ind.Selector != "" || ind.Text != "", nil
	}
	for _, ind := range spec.Success {
		ok, err := check(ind)
		if err != nil {
			return st, err
		}
		if ok {
			st.SuccessHits = append(st.SuccessHits, ind.String())
		}
	}
	for _, ind := range spec.Errors {
		ok, err := check(ind)
		if err != nil {
			return st, err
		}
		if ok {
			st.ErrorHits = append(st.ErrorHits, ind.String())
		}
	}
	if spec.ListPage {
		st.Interactive, err = s.QueryCount(ctx, interactiveSelector)
		if err != nil {
			return st, err
		}
	}
	return st, nil
}

const interactiveSelector = `a[href], button, input:not([type=hidden]), select, textarea, [role=button]`

// RunForm navigates to spec.Page under baseURL, fills and submits the form
// and classifies the result. A screenshot is attached whatever the result.
func (s *Scope) RunForm(ctx context.Context, baseURL string, spec FormSpec) (out model.Outcome) {
	out = model.Outcome{
		Layer:    model.LayerBrowser,
		SubLayer: model.SubLayerFunctionality,
		Name:     spec.Name,
		Target:   baseURL,
	}
	start := time.Now()
	log := s.logger.With(logging.Field{Key: "form", Value: spec.Name})
	defer func() {
		out.LatencyMS = time.Since(start).Milliseconds()
		out.RecordedAt = time.Now()
		if s.d.cfg.ScreenshotDir == "" {
			return
		}
		path, err := s.Screenshot(context.WithoutCancel(ctx), spec.Name)
		if err != nil {
			out.Details = append(out.Details, "screenshot failed: "+err.Error())
			return
		}
		out.Artifacts = append(out.Artifacts, path)
	}()

	if err := spec.Validate(); err != nil {
		out.Fail(model.KindHarnessError, err.Error())
		return out
	}
	formURL := strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(spec.Page, "/")
	if err := s.Navigate(ctx, formURL); err != nil {
		out.FailErr(err)
		return out
	}

	if spec.ListPage {
		st, err := s.observe(ctx, spec, formURL)
		if err != nil {
			out.FailErr(err)
			return out
		}
		s.finish(&out, spec, st)
		return out
	}

	if spec.ModalOpener != "" {
		if err := s.Click(ctx, spec.ModalOpener); err != nil {
			out.Fail(model.KindDOMAssertionFailed, "open modal: "+err.Error())
			return out
		}
	}
	for _, f := range spec.Fields {
		strategy, err := s.Fill(ctx, f.Name, f.Value)
		if err != nil {
			out.FailErr(err)
			return out
		}
		if out.Strategy == nil {
			out.Strategy = map[string]string{}
		}
		out.Strategy[f.Name] = string(strategy)
	}
	if err := s.Click(ctx, spec.submitSelector()); err != nil {
		out.Fail(model.KindFormSubmitFailed, "submit: "+err.Error())
		return out
	}

	st, err := s.settle(ctx, spec, formURL)
	if err != nil {
		out.FailErr(err)
		return out
	}
	s.finish(&out, spec, st)
	if out.Success && spec.Capture != nil {
		s.capture(ctx, &out, *spec.Capture)
	}
	log.Debug("form finished",
		logging.Field{Key: "success", Value: out.Success},
		logging.Field{Key: "dom_state", Value: out.DOMState})
	return out
}

func (s *Scope) finish(out *model.Outcome, spec FormSpec, st PageState) {
	out.DOMState = st.String()
	out.Observe("final_url", st.URL)
	ok, kind, msg := Classify(spec, st)
	if ok {
		out.Pass()
		return
	}
	out.Fail(kind, msg)
}

// settle polls the indicators until one decides the form or FormSettle
// passes. After the first success hit it waits for the network to go idle
// and looks once more, so a late error indicator still fails the form.
func (s *Scope) settle(ctx context.Context, spec FormSpec, formURL string) (PageState, error) {
	deadline := time.Now().Add(s.d.cfg.FormSettle)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	var st PageState
	for {
		var err error
		st, err = s.observe(ctx, spec, formURL)
		if err != nil && ctx.Err() != nil {
			return st, err
		}
		if err == nil {
			if len(st.ErrorHits) > 0 {
				return st, nil
			}
			decided, _, _ := Classify(spec, st)
			if decided && (len(st.SuccessHits) > 0 || !samePath(formURL, st.URL)) {
				remaining := time.Until(deadline)
				if remaining > 0 {
					_ = s.WaitIdle(ctx, remaining)
				}
				if again, err := s.observe(ctx, spec, formURL); err == nil {
					st = again
				}
				return st, nil
			}
		}
		if time.Now().After(deadline) {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, model.Wrap(model.KindTimeout, "cancelled", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (s *Scope) capture(ctx context.Context, out *model.Outcome, c Capture) {
	key := c.Key
	if key == "" {
		key = "reference_id"
	}
	text, err := s.TextOf(ctx, c.Selector)
	if err != nil {
		out.FailErr(err)
		return
	}
	if text == "" {
		out.Fail(model.KindDOMAssertionFailed, fmt.Sprintf("capture %s: nothing matched", c.Selector))
		return
	}
	if c.Pattern != "" {
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			out.Fail(model.KindHarnessError, err.Error())
			return
		}
		if !re.MatchString(text) {
			out.Fail(model.KindDOMAssertionFailed, fmt.Sprintf("capture %s: %q does not match %s", c.Selector, text, c.Pattern))
			return
		}
	}
	out.Observe(key, text)
}
