package browser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/raysh454/probekit/internal/demosut"
	"github.com/raysh454/probekit/internal/model"
)

func TestVariantsAndHumanize(t *testing.T) {
	assert.Equal(t, []string{"confirmPassword", "confirm_password", "confirm-password"}, Variants("confirmPassword"))
	assert.Equal(t, []string{"email"}, Variants("email"))
	assert.Equal(t, "confirm password", Humanize("confirmPassword"))
	assert.Equal(t, "first name", Humanize("first_name"))
}

func TestLocatorScript_CoversEveryStrategy(t *testing.T) {
	for _, s := range Strategies {
		js := locatorScript(s, "firstName")
		assert.Contains(t, js, markAttr, s)
		assert.Contains(t, js, "tagName", s)
	}
	assert.Equal(t, `""`, locatorScript("bogus", "x"))
}

func TestFields_YAMLKeepsOrder(t *testing.T) {
	var spec FormSpec
	src := `
name: form:register
page: /register
fields:
  firstName: Reg
  lastName: Test
  email: reg-{{rand}}@example.com
success:
  - url_contains: /account
`
	require.NoError(t, yaml.Unmarshal([]byte(src), &spec))
	require.Len(t, spec.Fields, 3)
	assert.Equal(t, "firstName", spec.Fields[0].Name)
	assert.Equal(t, "email", spec.Fields[2].Name)
	assert.NoError(t, spec.Validate())

	expanded := spec.Expand()
	assert.NotContains(t, expanded.Fields[2].Value, "{{rand}}")
	assert.True(t, strings.HasPrefix(expanded.Fields[2].Value, "reg-"))
	assert.Contains(t, spec.Fields[2].Value, "{{rand}}", "Expand must not mutate the original")
}

func TestFormSpec_Validate(t *testing.T) {
	assert.Error(t, FormSpec{Page: "/x"}.Validate())
	assert.Error(t, FormSpec{Name: "x"}.Validate())
	assert.Error(t, FormSpec{Name: "x", Page: "/x"}.Validate())
	assert.Error(t, FormSpec{Name: "x", Page: "/x", Capture: &Capture{Pattern: "("}}.Validate())
	assert.NoError(t, FormSpec{Name: "x", Page: "/x", ListPage: true}.Validate())
	for _, f := range append(DefaultForms(model.Credential{Role: model.RoleUser, Email: "u@example.com", Password: "pw123456"}), AdminListPages()...) {
		assert.NoError(t, f.Validate(), f.Name)
	}
}

func TestClassify(t *testing.T) {
	form := FormSpec{
		Name:    "contact",
		Page:    "/contact",
		Success: []Indicator{{Text: "Thank you"}},
		Errors:  []Indicator{{Selector: "[role=alert]"}},
	}
	base := PageState{FormURL: "http://sut/contact", URL: "http://sut/contact", LoginPath: "/login"}

	ok, kind, _ := Classify(form, withHits(base, []string{"text=Thank you"}, nil))
	assert.True(t, ok)
	assert.Equal(t, model.KindNone, kind)

	ok, kind, _ = Classify(form, withHits(base, []string{"text=Thank you"}, []string{"[role=alert]"}))
	assert.False(t, ok, "an error indicator beats a success indicator")
	assert.Equal(t, model.KindFormSubmitFailed, kind)

	ok, kind, _ = Classify(form, base)
	assert.False(t, ok)
	assert.Equal(t, model.KindFormSubmitFailed, kind)

	login := FormSpec{Name: "login", Page: "/login", RedirectSuccess: true}
	st := PageState{FormURL: "http://sut/login", URL: "http://sut/account", LoginPath: "/login"}
	ok, _, _ = Classify(login, st)
	assert.True(t, ok)
	st.URL = "http://sut/login?error=CredentialsSignin"
	ok, _, _ = Classify(login, st)
	assert.False(t, ok)

	list := FormSpec{Name: "admin", Page: "/admin/users", ListPage: true}
	ok, _, _ = Classify(list, PageState{FormURL: "http://sut/admin/users", URL: "http://sut/admin/users", Interactive: 3, LoginPath: "/login"})
	assert.True(t, ok)
	ok, kind, _ = Classify(list, PageState{FormURL: "http://sut/admin/users", URL: "http://sut/login?callbackUrl=%2Fadmin%2Fusers", Interactive: 3, LoginPath: "/login"})
	assert.False(t, ok)
	assert.Equal(t, model.KindAuthFailed, kind)
	ok, kind, _ = Classify(list, PageState{FormURL: "http://sut/admin/users", URL: "http://sut/admin/users", LoginPath: "/login"})
	assert.False(t, ok)
	assert.Equal(t, model.KindDOMAssertionFailed, kind)
}

func withHits(st PageState, success, errs []string) PageState {
	st.SuccessHits = success
	st.ErrorHits = errs
	return st
}

func TestScreenshotPath_Unique(t *testing.T) {
	d := &Driver{cfg: Config{ScreenshotDir: "/out/shots"}, shotNames: map[string]int{}}
	a := d.screenshotPath("form:contact")
	b := d.screenshotPath("form:contact")
	assert.Equal(t, filepath.Join("/out/shots", "form-contact.png"), a)
	assert.Equal(t, filepath.Join("/out/shots", "form-contact-2.png"), b)
	assert.Equal(t, filepath.Join("/out/shots", "page.png"), d.screenshotPath("::"))
}

// newDriverOrSkip launches headless Chrome or skips the test.
func newDriverOrSkip(t *testing.T) *Driver {
	t.Helper()
	if testing.Short() {
		t.Skip("browser tests skipped in -short mode")
	}
	cfg := DefaultConfig()
	cfg.ScreenshotDir = t.TempDir()
	cfg.FormSettle = 3 * time.Second
	cfg.IdleAfter = 200 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	d, err := NewDriver(ctx, cfg, nil)
	if err != nil {
		t.Skipf("chrome not available: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func servePage(t *testing.T, html string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(html))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestAuditTouchTargets(t *testing.T) {
	d := newDriverOrSkip(t)
	small := servePage(t, `<html><body><button id="tiny" style="width:20px;height:20px;padding:0;border:0">x</button></body></html>`)
	large := servePage(t, `<html><body><button id="big" style="width:44px;height:44px;padding:0;border:0">x</button></body></html>`)

	err := d.With(context.Background(), ScopeOptions{}, func(s *Scope) error {
		require.NoError(t, s.Navigate(context.Background(), small.URL))
		issues, err := s.AuditTouchTargets(context.Background())
		require.NoError(t, err)
		require.Len(t, issues, 1)
		assert.Equal(t, "button#tiny", issues[0].Element)

		require.NoError(t, s.Navigate(context.Background(), large.URL))
		issues, err = s.AuditTouchTargets(context.Background())
		require.NoError(t, err)
		assert.Empty(t, issues)

		for _, page := range []string{small.URL, large.URL} {
			o := s.AuditPage(context.Background(), page, "/")
			require.Len(t, o.Artifacts, 1, o.Name)
			_, err := os.Stat(o.Artifacts[0])
			assert.NoError(t, err)
			assert.False(t, o.RecordedAt.IsZero())
		}
		return nil
	})
	require.NoError(t, err)
}

const thankYouPage = `<html><body>
<form id="f" onsubmit="event.preventDefault(); document.getElementById('out').innerHTML = %s;">
<label for="n">Your name</label><input id="n">
<button type="submit">Send</button>
</form><div id="out"></div></body></html>`

func TestRunForm_ThankYouAndErrorIndicators(t *testing.T) {
	d := newDriverOrSkip(t)
	okPage := servePage(t, strings.Replace(thankYouPage, "%s", `'<p>Thank you</p>'`, 1))
	badPage := servePage(t, strings.Replace(thankYouPage, "%s", `'<p role=alert>Something went wrong</p>'`, 1))

	spec := FormSpec{
		Name:    "thanks",
		Page:    "/",
		Fields:  Fields{{"name", "Ada"}},
		Success: []Indicator{{Text: "Thank you"}},
		Errors:  []Indicator{{Selector: "[role=alert]"}},
	}

	require.NoError(t, d.With(context.Background(), ScopeOptions{}, func(s *Scope) error {
		o := s.RunForm(context.Background(), okPage.URL, spec)
		assert.True(t, o.Success, o.Error)
		assert.Equal(t, string(ByLabelProximity), o.Strategy["name"])
		require.Len(t, o.Artifacts, 1)
		_, err := os.Stat(o.Artifacts[0])
		assert.NoError(t, err)

		spec.Name = "thanks-bad"
		o = s.RunForm(context.Background(), badPage.URL, spec)
		assert.False(t, o.Success)
		assert.Equal(t, model.KindFormSubmitFailed, o.ErrorKind)
		assert.Len(t, o.Artifacts, 1, "screenshots are taken for failures too")
		return nil
	}))
}

func TestRunForm_RegisterAgainstDemo(t *testing.T) {
	d := newDriverOrSkip(t)
	srv, err := demosut.NewServer(demosut.DefaultConfig(), nil)
	require.NoError(t, err)
	ts := httptest.NewServer(srv)
	defer ts.Close()
	defer srv.Close()

	require.NoError(t, d.With(context.Background(), ScopeOptions{}, func(s *Scope) error {
		o := s.RunForm(context.Background(), ts.URL, RegisterForm().Expand())
		assert.True(t, o.Success, "%s %s", o.Error, o.DOMState)
		assert.Contains(t, o.Observed["final_url"], "/account")
		assert.Equal(t, string(ByName), o.Strategy["confirmPassword"])

		o = s.RunForm(context.Background(), ts.URL, DonationForm().Expand())
		assert.True(t, o.Success, "%s %s", o.Error, o.DOMState)
		assert.Regexp(t, `^DS-[A-Z]{4}-\d{4}$`, o.Observed["reference_id"])

		o = s.AuditPage(context.Background(), ts.URL, "/contact")
		assert.True(t, o.Success, "%v", o.Details)
		return nil
	}))
}

func TestScope_IsolatedCookies(t *testing.T) {
	d := newDriverOrSkip(t)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie("probe")
		v := "none"
		if err == nil {
			v = c.Value
		}
		_, _ = w.Write([]byte(`<html><body><p id="v">` + v + `</p></body></html>`))
	}))
	defer ts.Close()

	ctx := context.Background()
	require.NoError(t, d.With(ctx, ScopeOptions{Cookies: []*http.Cookie{{Name: "probe", Value: "alpha"}}, CookieURL: ts.URL}, func(s *Scope) error {
		require.NoError(t, s.Navigate(ctx, ts.URL))
		text, err := s.TextOf(ctx, "#v")
		require.NoError(t, err)
		assert.Equal(t, "alpha", text)
		return nil
	}))
	require.NoError(t, d.With(ctx, ScopeOptions{}, func(s *Scope) error {
		require.NoError(t, s.Navigate(ctx, ts.URL))
		text, err := s.TextOf(ctx, "#v")
		require.NoError(t, err)
		assert.Equal(t, "none", text)
		return nil
	}))
}
