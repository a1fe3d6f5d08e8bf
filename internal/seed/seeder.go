// Package seed creates the baseline users and inventory the probes rely on.
package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/raysh454/probekit/internal/logging"
	"github.com/raysh454/probekit/internal/model"
	"github.com/raysh454/probekit/internal/webclient"
)

// Paths are the admin endpoints fixtures are posted to.
type Paths struct {
	Users string `yaml:"users"`
	Items string `yaml:"items"`
}

func DefaultPaths() Paths {
	return Paths{Users: "/api/admin/users", Items: "/api/admin/inventory"}
}

// Config tunes a Seeder.
type Config struct {
	Paths   Paths
	Timeout time.Duration
	Retry   webclient.RetryPolicy
}

// Seeder posts fixtures through an authenticated admin session.
type Seeder struct {
	target model.Target
	admin  webclient.Doer
	cfg    Config
	logger logging.Logger
}

// New returns a Seeder that sends every request through admin.
func New(target model.Target, admin webclient.Doer, cfg Config, logger logging.Logger) *Seeder {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	if cfg.Paths.Users == "" || cfg.Paths.Items == "" {
		def := DefaultPaths()
		if cfg.Paths.Users == "" {
			cfg.Paths.Users = def.Users
		}
		if cfg.Paths.Items == "" {
			cfg.Paths.Items = def.Items
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Seeder{
		target: target,
		admin:  admin,
		cfg:    cfg,
		logger: logger.With(logging.Field{Key: "component", Value: "seed"}),
	}
}

type result int

const (
	created result = iota
	existing
	failed
)

// Run creates every fixture. Entities the SUT reports as already existing
// count as existing, not failed, so Run is idempotent.
func (s *Seeder) Run(ctx context.Context, f Fixtures) model.SeedSummary {
	var sum model.SeedSummary
	tally := func(what string, r result, err error) {
		switch r {
		case created:
			sum.Created++
		case existing:
			sum.Existing++
		case failed:
			sum.Failed++
			sum.Errors = append(sum.Errors, fmt.Sprintf("%s: %v", what, err))
			s.logger.Warn("seed failed", logging.Field{Key: "entity", Value: what}, logging.Err(err))
		}
	}

	for _, u := range f.Users {
		if ctx.Err() != nil {
			break
		}
		r, err := s.post(ctx, s.cfg.Paths.Users, u)
		tally("user "+u.Email, r, err)
	}
	for _, it := range f.Items {
		if ctx.Err() != nil {
			break
		}
		r, err := s.post(ctx, s.cfg.Paths.Items, it)
		tally("item "+it.SKU, r, err)
	}

	s.logger.Info("seed finished",
		logging.Field{Key: "created", Value: sum.Created},
		logging.Field{Key: "existing", Value: sum.Existing},
		logging.Field{Key: "failed", Value: sum.Failed})
	return sum
}

func (s *Seeder) post(ctx context.Context, path string, v any) (result, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return failed, model.Wrap(model.KindHarnessError, "encode fixture", err)
	}
	req := &webclient.Request{
		Method: http.MethodPost,
		URL:    s.target.URL(path),
		Headers: http.Header{
			"Content-Type": []string{"application/json"},
			"Accept":       []string{"application/json"},
		},
		Body: body,
	}
	resp, _, err := webclient.DoWithRetry(ctx, s.admin, req, s.cfg.Timeout, s.cfg.Retry)
	if err != nil {
		return failed, err
	}
	return classify(resp.StatusCode, resp.Body)
}

// classify maps a create response onto a seed result.
func classify(status int, body []byte) (result, error) {
	if status >= 200 && status < 300 {
		return created, nil
	}
	msg := errorMessage(body)
	if status == http.StatusBadRequest && strings.Contains(strings.ToLower(msg), "already exists") {
		return existing, nil
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return failed, model.Errorf(model.KindAuthChallenged, "status %d: %s", status, msg)
	}
	return failed, model.Errorf(model.KindStatusMismatch, "status %d: %s", status, msg)
}

func errorMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
