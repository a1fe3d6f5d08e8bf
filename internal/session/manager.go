package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/raysh454/probekit/internal/logging"
	"github.com/raysh454/probekit/internal/model"
	"github.com/raysh454/probekit/internal/webclient"
)

// Paths are the SUT endpoints the login flow uses.
type Paths struct {
	CSRF     string `yaml:"csrf"`
	Callback string `yaml:"callback"`
	Session  string `yaml:"session"`
	Signout  string `yaml:"signout"`
	// Verify maps a role to a known authenticated endpoint.
	Verify map[model.Role]string `yaml:"verify"`
}

// DefaultPaths returns the documented defaults of the credential flow.
func DefaultPaths() Paths {
	return Paths{
		CSRF:     "/api/auth/csrf",
		Callback: "/api/auth/callback/credentials",
		Session:  "/api/auth/session",
		Signout:  "/api/auth/signout",
		Verify: map[model.Role]string{
			model.RoleAdmin: "/api/admin/settings",
			model.RoleUser:  "/api/user/profile",
		},
	}
}

func (p Paths) verifyPath(role model.Role) string {
	if v, ok := p.Verify[role]; ok && v != "" {
		return v
	}
	return p.Session
}

// Config tunes the Manager.
type Config struct {
	Paths Paths
	// HTTPTimeout bounds each request.
	HTTPTimeout time.Duration
	// SettleTimeout bounds the verify polling after login.
	SettleTimeout time.Duration
	PollInterval  time.Duration
	// TTL is how long a successful verify keeps a session valid.
	TTL   time.Duration
	Retry webclient.RetryPolicy
}

// DefaultConfig returns the default deadlines.
func DefaultConfig() Config {
	return Config{
		Paths:         DefaultPaths(),
		HTTPTimeout:   10 * time.Second,
		SettleTimeout: 10 * time.Second,
		PollInterval:  250 * time.Millisecond,
		TTL:           30 * time.Second,
		Retry:         webclient.DefaultRetryPolicy(),
	}
}

// Manager authenticates Credentials against one Target.
type Manager struct {
	target model.Target
	cfg    Config
	logger logging.Logger
	now    func() time.Time
}

func NewManager(target model.Target, cfg Config, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	def := DefaultConfig()
	if cfg.Paths.CSRF == "" {
		cfg.Paths = def.Paths
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = def.HTTPTimeout
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = def.SettleTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	return &Manager{
		target: target,
		cfg:    cfg,
		logger: logger.With(logging.Field{Key: "component", Value: "session"}),
		now:    time.Now,
	}
}

func (m *Manager) do(ctx context.Context, s *Session, req *webclient.Request) (*webclient.Response, error) {
	resp, _, err := webclient.DoWithRetry(ctx, s, req, m.cfg.HTTPTimeout, m.cfg.Retry)
	return resp, err
}

func authFailed(format string, args ...any) error {
	return model.Wrap(model.KindAuthFailed, fmt.Sprintf(format, args...), ErrAuthFailed)
}

// Login runs the CSRF-then-callback flow and waits for the session to
// settle. Credential rejection is reported as auth-failed and never retried.
func (m *Manager) Login(ctx context.Context, cred model.Credential) (_ *Session, err error) {
	if cred.Empty() {
		return nil, model.Wrap(model.KindAuthFailed, string(cred.Role), ErrNoCredential)
	}
	s, err := newSession(m.target, cred, m.cfg.HTTPTimeout, m.logger)
	if err != nil {
		return nil, model.Wrap(model.KindHarnessError, "new session", err)
	}
	defer func() {
		if err != nil {
			s.purge()
		}
	}()
	log := m.logger.With(logging.Field{Key: "role", Value: string(cred.Role)}, logging.Field{Key: "session_id", Value: s.ID})

	token, err := m.fetchCSRF(ctx, s)
	if err != nil {
		return nil, err
	}

	resp, err := m.postCallback(ctx, s, cred, token, false)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnsupportedMediaType {
		log.Info("credential callback rejected form encoding, retrying as JSON")
		resp, err = m.postCallback(ctx, s, cred, token, true)
		if err != nil {
			return nil, err
		}
	}
	if err := callbackError(resp); err != nil {
		log.Warn("credential login rejected", logging.Err(err))
		return nil, err
	}
	if !s.HasSessionCookie() {
		return nil, authFailed("login for %s set no session cookie", cred.Email)
	}

	s.mu.Lock()
	s.establishedAt = m.now()
	s.mu.Unlock()

	start := m.now()
	if err := m.settle(ctx, s); err != nil {
		return nil, err
	}
	log.Info("session established",
		logging.Field{Key: "email", Value: cred.Email},
		logging.Field{Key: "settle_ms", Value: m.now().Sub(start).Milliseconds()})
	return s, nil
}

func (m *Manager) fetchCSRF(ctx context.Context, s *Session) (string, error) {
	resp, err := m.do(ctx, s, &webclient.Request{Method: http.MethodGet, URL: m.target.URL(m.cfg.Paths.CSRF)})
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", authFailed("csrf endpoint answered %d", resp.StatusCode)
	}
	var body struct {
		CSRFToken string `json:"csrfToken"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return "", model.Wrap(model.KindSchemaError, "csrf response", err)
	}
	if body.CSRFToken == "" {
		return "", authFailed("csrf response carried no token")
	}
	return body.CSRFToken, nil
}

func (m *Manager) postCallback(ctx context.Context, s *Session, cred model.Credential, token string, asJSON bool) (*webclient.Response, error) {
	req := &webclient.Request{
		Method:  http.MethodPost,
		URL:     m.target.URL(m.cfg.Paths.Callback),
		Headers: http.Header{},
	}
	callbackURL := m.target.URL("/")
	if asJSON {
		b, err := json.Marshal(map[string]any{
			"email":       cred.Email,
			"password":    cred.Password,
			"csrfToken":   token,
			"callbackUrl": callbackURL,
			"json":        true,
		})
		if err != nil {
			return nil, model.Wrap(model.KindHarnessError, "encode credentials", err)
		}
		req.Body = b
		req.Headers.Set("Content-Type", "application/json")
	} else {
		form := url.Values{
			"email":       {cred.Email},
			"password":    {cred.Password},
			"csrfToken":   {token},
			"callbackUrl": {callbackURL},
			"json":        {"true"},
		}
		req.Body = []byte(form.Encode())
		req.Headers.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	return m.do(ctx, s, req)
}

// callbackError classifies the callback response. Some SUTs answer 200 with
// an error URL instead of a 401.
func callbackError(resp *webclient.Response) error {
	switch resp.StatusCode {
	case http.StatusOK, http.StatusFound, http.StatusSeeOther:
	default:
		return authFailed("credential callback answered %d", resp.StatusCode)
	}
	var body struct {
		URL   string `json:"url"`
		Error string `json:"error"`
	}
	if json.Unmarshal(resp.Body, &body) == nil {
		if body.Error != "" {
			return authFailed("credential callback: %s", body.Error)
		}
		if strings.Contains(body.URL, "error=") {
			return authFailed("credential callback redirected to %s", body.URL)
		}
	}
	if loc := resp.Headers.Get("Location"); strings.Contains(loc, "error=") {
		return authFailed("credential callback redirected to %s", loc)
	}
	return nil
}

// settle polls the verify endpoint until it succeeds or SettleTimeout
// passes.
func (m *Manager) settle(ctx context.Context, s *Session) error {
	deadline := m.now().Add(m.cfg.SettleTimeout)
	settleCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	var last error
	for {
		err := m.verifyOnce(settleCtx, s)
		if err == nil {
			return nil
		}
		last = err
		if ctx.Err() != nil {
			return model.Wrap(model.KindTimeout, "session settle cancelled", ctx.Err())
		}
		select {
		case <-settleCtx.Done():
			return model.Wrap(model.KindSessionNotSettled,
				fmt.Sprintf("%s not verified within %s (last: %v)", s.Principal.Email, m.cfg.SettleTimeout, last),
				ErrNotSettled)
		case <-ticker.C:
		}
	}
}

func (m *Manager) verifyOnce(ctx context.Context, s *Session) error {
	path := m.cfg.Paths.verifyPath(s.Role())
	resp, _, err := webclient.DoWithRetry(ctx, s,
		&webclient.Request{Method: http.MethodGet, URL: m.target.URL(path)},
		m.cfg.HTTPTimeout, webclient.RetryPolicy{Attempts: 1})
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("verify %s answered %d", path, resp.StatusCode)
	}
	s.markVerified(m.now())
	return nil
}

// Verify probes the role's verify endpoint once.
func (m *Manager) Verify(ctx context.Context, s *Session) error {
	if s.Closed() {
		return ErrClosed
	}
	return m.verifyOnce(ctx, s)
}

// EnsureValid returns s when it was verified within TTL or verifies now,
// and logs in again when verification fails.
func (m *Manager) EnsureValid(ctx context.Context, s *Session) (*Session, error) {
	if s.Fresh(m.now(), m.cfg.TTL) {
		return s, nil
	}
	if !s.Closed() {
		err := m.verifyOnce(ctx, s)
		if err == nil {
			return s, nil
		}
		m.logger.Info("session verify failed, logging in again",
			logging.Field{Key: "role", Value: string(s.Role())}, logging.Err(err))
	}
	fresh, err := m.Login(ctx, s.Principal)
	if err != nil {
		return nil, err
	}
	s.adopt(fresh)
	return s, nil
}

// WhoAmI returns the email the SUT reports for the session.
func (m *Manager) WhoAmI(ctx context.Context, s *Session) (string, error) {
	resp, err := m.do(ctx, s, &webclient.Request{Method: http.MethodGet, URL: m.target.URL(m.cfg.Paths.Session)})
	if err != nil {
		return "", err
	}
	var body struct {
		User struct {
			Email string `json:"email"`
		} `json:"user"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return "", model.Wrap(model.KindSchemaError, "session response", err)
	}
	return body.User.Email, nil
}

// Close logs out best-effort and purges the cookies.
func (m *Manager) Close(ctx context.Context, s *Session) {
	if s == nil || s.Closed() {
		return
	}
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.HTTPTimeout)
	defer cancel()
	_, err := s.Do(closeCtx, &webclient.Request{
		Method:  http.MethodPost,
		URL:     m.target.URL(m.cfg.Paths.Signout),
		Headers: http.Header{"Content-Type": []string{"application/json"}},
		Body:    []byte(`{}`),
	})
	if err != nil {
		m.logger.Debug("signout failed", logging.Field{Key: "role", Value: string(s.Role())}, logging.Err(err))
	}
	s.purge()
	m.logger.Debug("session closed", logging.Field{Key: "role", Value: string(s.Role())}, logging.Field{Key: "session_id", Value: s.ID})
}
