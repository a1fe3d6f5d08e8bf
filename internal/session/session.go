package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/publicsuffix"

	"github.com/raysh454/probekit/internal/logging"
	"github.com/raysh454/probekit/internal/model"
	"github.com/raysh454/probekit/internal/webclient"
)

var (
	ErrAuthFailed   = errors.New("authentication failed")
	ErrNotSettled   = errors.New("session did not settle")
	ErrClosed       = errors.New("session closed")
	ErrNoCredential = errors.New("no credential configured")
	ErrCrossTarget  = errors.New("request outside session target")
)

// Session is an authenticated context for one principal against one
// Target. Requests through a Session are serialized so its cookie jar is
// never used by two steps at once.
type Session struct {
	ID        string
	Principal model.Credential

	target model.Target
	host   string

	mu            sync.Mutex
	jar           http.CookieJar
	client        *webclient.NetHTTPClient
	establishedAt time.Time
	lastVerified  time.Time
	closed        bool
}

func newJar() (http.CookieJar, error) {
	return cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
}

func newSession(target model.Target, cred model.Credential, timeout time.Duration, logger logging.Logger) (*Session, error) {
	jar, err := newJar()
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	client, err := webclient.NewNetHTTPClient(webclient.Config{
		Client:    webclient.ClientNetHTTP,
		Timeout:   timeout,
		Jar:       jar,
		Transport: http.DefaultTransport.(*http.Transport).Clone(),
	}, logger, nil)
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:        uuid.NewString(),
		Principal: cred,
		target:    target,
		host:      target.Host(),
		jar:       jar,
		client:    client,
	}, nil
}

// Role returns the principal's role.
func (s *Session) Role() model.Role {
	return s.Principal.Role
}

// Target returns the Target this session belongs to.
func (s *Session) Target() model.Target {
	return s.target
}

// Do sends req with the session cookies. Requests to another host are
// rejected so cookies never cross Targets.
func (s *Session) Do(ctx context.Context, req *webclient.Request) (*webclient.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("request cannot be nil")
	}
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, model.Wrap(model.KindHarnessError, "parse url", err)
	}
	if !strings.EqualFold(u.Host, s.host) {
		return nil, model.Wrap(model.KindHarnessError, u.Host, ErrCrossTarget)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, model.Wrap(model.KindHarnessError, s.Principal.Email, ErrClosed)
	}
	return s.client.Do(ctx, req)
}

// Cookies returns the cookies the jar would send to the Target.
func (s *Session) Cookies() []*http.Cookie {
	u, err := url.Parse(s.target.BaseURL + "/")
	if err != nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jar.Cookies(u)
}

// HasSessionCookie reports whether any cookie name contains "session".
func (s *Session) HasSessionCookie() bool {
	for _, c := range s.Cookies() {
		if strings.Contains(strings.ToLower(c.Name), "session") {
			return true
		}
	}
	return false
}

// EstablishedAt is when the login completed.
func (s *Session) EstablishedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.establishedAt
}

// LastVerified is when the verify probe last succeeded.
func (s *Session) LastVerified() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastVerified
}

// Fresh reports whether the last successful verify is younger than ttl.
func (s *Session) Fresh(now time.Time, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && !s.lastVerified.IsZero() && now.Sub(s.lastVerified) < ttl
}

func (s *Session) markVerified(t time.Time) {
	s.mu.Lock()
	s.lastVerified = t
	s.mu.Unlock()
}

// adopt moves the authenticated state of fresh into s.
func (s *Session) adopt(fresh *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fresh.mu.Lock()
	defer fresh.mu.Unlock()
	if s.client != fresh.client {
		_ = s.client.Close()
	}
	s.jar = fresh.jar
	s.client = fresh.client
	s.establishedAt = fresh.establishedAt
	s.lastVerified = fresh.lastVerified
	s.closed = false
}

// purge drops every cookie and marks the session closed.
func (s *Session) purge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if jar, err := newJar(); err == nil {
		s.jar = jar
	}
	_ = s.client.Close()
	s.closed = true
}

// Closed reports whether Close has run.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
