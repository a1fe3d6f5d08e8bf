package demosut_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raysh454/probekit/internal/demosut"
)

var refPattern = regexp.MustCompile(`^[A-Z]{2,3}-[A-Z]{4}-\d{4}$`)

func newSUT(t *testing.T, mutate func(*demosut.Config)) *httptest.Server {
	t.Helper()
	cfg := demosut.DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := demosut.NewServer(cfg, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Close()
	})
	return ts
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func postJSON(t *testing.T, c *http.Client, u string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := c.Post(u, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	return resp
}

func login(t *testing.T, c *http.Client, base, email, password string) *http.Response {
	t.Helper()
	resp, err := c.Get(base + "/api/auth/csrf")
	require.NoError(t, err)
	token := decode(t, resp)["csrfToken"].(string)

	form := url.Values{
		"email":       {email},
		"password":    {password},
		"csrfToken":   {token},
		"callbackUrl": {base + "/"},
		"json":        {"true"},
	}
	resp, err = c.PostForm(base+"/api/auth/callback/credentials", form)
	require.NoError(t, err)
	return resp
}

func TestHealth(t *testing.T) {
	t.Parallel()
	ts := newSUT(t, nil)
	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode(t, resp)["status"])
}

func TestCredentialLogin_WhoAmI(t *testing.T) {
	t.Parallel()
	ts := newSUT(t, nil)
	c := newClient(t)

	resp := login(t, c, ts.URL, "admin@example.com", "AdminPass123!")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err := c.Get(ts.URL + "/api/auth/session")
	require.NoError(t, err)
	body := decode(t, resp)
	user, ok := body["user"].(map[string]any)
	require.True(t, ok, "session payload should carry a user")
	assert.Equal(t, "admin@example.com", user["email"])
	assert.Equal(t, "admin", user["role"])

	resp, err = c.Get(ts.URL + "/api/admin/settings")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestCredentialLogin_RejectsBadPasswordAndCSRF(t *testing.T) {
	t.Parallel()
	ts := newSUT(t, nil)

	resp := login(t, newClient(t), ts.URL, "admin@example.com", "wrong-password")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp, err := newClient(t).PostForm(ts.URL+"/api/auth/callback/credentials", url.Values{
		"email": {"admin@example.com"}, "password": {"AdminPass123!"}, "csrfToken": {"forged"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}

func TestCredentialLogin_JSONOnlyCallback(t *testing.T) {
	t.Parallel()
	ts := newSUT(t, func(c *demosut.Config) { c.CallbackJSONOnly = true })
	c := newClient(t)

	resp := login(t, c, ts.URL, "admin@example.com", "AdminPass123!")
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	resp.Body.Close()

	resp, err := c.Get(ts.URL + "/api/auth/csrf")
	require.NoError(t, err)
	token := decode(t, resp)["csrfToken"]
	resp = postJSON(t, c, ts.URL+"/api/auth/callback/credentials", map[string]any{
		"email": "admin@example.com", "password": "AdminPass123!", "csrfToken": token, "json": true,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestSessionSettleDelay(t *testing.T) {
	t.Parallel()
	ts := newSUT(t, func(c *demosut.Config) { c.SettleDelay = 300 * time.Millisecond })
	c := newClient(t)
	resp := login(t, c, ts.URL, "admin@example.com", "AdminPass123!")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err := c.Get(ts.URL + "/api/admin/settings")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "session should not be usable before it settles")
	resp.Body.Close()

	assert.Eventually(t, func() bool {
		resp, err := c.Get(ts.URL + "/api/admin/settings")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 50*time.Millisecond)
}

func TestProtectedEndpoints(t *testing.T) {
	t.Parallel()
	ts := newSUT(t, nil)

	resp, err := http.Get(ts.URL + "/api/admin/users")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, http.DefaultClient, ts.URL+"/api/register", map[string]string{
		"email": "shopper@example.com", "password": "TestPass123!",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	c := newClient(t)
	resp = login(t, c, ts.URL, "shopper@example.com", "TestPass123!")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = c.Get(ts.URL + "/api/admin/users")
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp, err = c.Get(ts.URL + "/api/user/profile")
	require.NoError(t, err)
	assert.Equal(t, "shopper@example.com", decode(t, resp)["email"])
}

func TestCartLimit(t *testing.T) {
	t.Parallel()
	ts := newSUT(t, nil)
	c := newClient(t)
	resp := login(t, c, ts.URL, "admin@example.com", "AdminPass123!")
	resp.Body.Close()

	skus := []string{"SHOE-RUN-42", "SHOE-SNK-38", "SHOE-BOT-44"}
	for i, sku := range skus[:2] {
		resp := postJSON(t, c, ts.URL+"/api/cart", map[string]string{"itemId": sku})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.EqualValues(t, i+1, decode(t, resp)["count"])
	}
	resp = postJSON(t, c, ts.URL+"/api/cart", map[string]string{"itemId": skus[2]})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, demosut.CartLimitMessage, decode(t, resp)["error"])

	resp, err := c.Get(ts.URL + "/api/cart")
	require.NoError(t, err)
	assert.EqualValues(t, 2, decode(t, resp)["count"])
}

func TestSubmissionsReturnReferenceIDs(t *testing.T) {
	t.Parallel()
	ts := newSUT(t, nil)

	cases := map[string]struct {
		body   map[string]string
		prefix string
	}{
		"/api/donations": {map[string]string{"name": "Dee", "email": "dee@example.com", "items": "2 pairs"}, "DS-"},
		"/api/contact":   {map[string]string{"name": "Cy", "email": "cy@example.com", "message": "hello"}, "CT-"},
		"/api/volunteer": {map[string]string{"name": "Vi", "email": "vi@example.com"}, "VOL-"},
	}
	for path, tc := range cases {
		resp := postJSON(t, http.DefaultClient, ts.URL+path, tc.body)
		require.Equal(t, http.StatusCreated, resp.StatusCode, path)
		ref, _ := decode(t, resp)["referenceId"].(string)
		assert.Regexp(t, refPattern, ref)
		assert.True(t, strings.HasPrefix(ref, tc.prefix), ref)
	}

	resp := postJSON(t, http.DefaultClient, ts.URL+"/api/donations", map[string]string{"name": "Dee"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, decode(t, resp)["error"])
}

func TestAdminCreate_AlreadyExists(t *testing.T) {
	t.Parallel()
	ts := newSUT(t, nil)
	c := newClient(t)
	resp := login(t, c, ts.URL, "admin@example.com", "AdminPass123!")
	resp.Body.Close()

	user := map[string]string{"email": "seed@example.com", "password": "SeedPass123!"}
	resp = postJSON(t, c, ts.URL+"/api/admin/users", user)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()
	resp = postJSON(t, c, ts.URL+"/api/admin/users", user)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decode(t, resp)["error"], "already exists")

	resp = postJSON(t, c, ts.URL+"/api/admin/inventory", map[string]any{"sku": "SHOE-RUN-42", "name": "dup"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decode(t, resp)["error"], "already exists")
}

func TestRegisterForm_RedirectsToAccount(t *testing.T) {
	t.Parallel()
	ts := newSUT(t, nil)
	c := newClient(t)

	resp, err := c.PostForm(ts.URL+"/register", url.Values{
		"firstName":        {"Reg"},
		"lastName":         {"Test"},
		"email":            {"reg-form@example.com"},
		"password":         {"TestPass123!"},
		"confirm_password": {"TestPass123!"},
	})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/account", resp.Header.Get("Location"))

	resp, err = c.Get(ts.URL + "/account")
	require.NoError(t, err)
	defer resp.Body.Close()
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, doc.Find("#account-email").Text(), "reg-form@example.com")
}

func TestAdminPages_RedirectAnonymousToLogin(t *testing.T) {
	t.Parallel()
	ts := newSUT(t, nil)
	resp, err := newClient(t).Get(ts.URL + "/admin/inventory")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Location"), "/login")
}

func TestContactForm_ThankYouPage(t *testing.T) {
	t.Parallel()
	ts := newSUT(t, nil)
	resp, err := http.PostForm(ts.URL+"/contact", url.Values{
		"name": {"Cy"}, "email": {"cy@example.com"}, "body": {"Do you take sandals?"},
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, doc.Find("h1").Text(), "Thank you")
	assert.Regexp(t, refPattern, strings.TrimSpace(doc.Find("#reference-id").Text()))
}
