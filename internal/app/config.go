package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/raysh454/probekit/internal/browser"
	"github.com/raysh454/probekit/internal/model"
	"github.com/raysh454/probekit/internal/seed"
	"github.com/raysh454/probekit/internal/session"
	"github.com/raysh454/probekit/internal/webclient"
)

// Deadlines is the named deadline table. Every wait in a run is bounded by
// one of these.
type Deadlines struct {
	HTTP          time.Duration `yaml:"http"`
	Navigation    time.Duration `yaml:"navigation"`
	FormSettle    time.Duration `yaml:"form_settle"`
	SessionSettle time.Duration `yaml:"session_settle"`
	// SessionTTL is how long a verified session is reused without a new
	// verify probe.
	SessionTTL   time.Duration `yaml:"session_ttl"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	SleepCap     time.Duration `yaml:"sleep_cap"`
}

// DefaultDeadlines returns the documented defaults.
func DefaultDeadlines() Deadlines {
	return Deadlines{
		HTTP:          10 * time.Second,
		Navigation:    15 * time.Second,
		FormSettle:    5 * time.Second,
		SessionSettle: 10 * time.Second,
		SessionTTL:    30 * time.Second,
		RetryBackoff:  time.Second,
		SleepCap:      30 * time.Second,
	}
}

// Retry is the policy derived from the deadline table: one retry with
// linear backoff capped at 2s.
func (d Deadlines) Retry() webclient.RetryPolicy {
	p := webclient.DefaultRetryPolicy()
	if d.RetryBackoff > 0 {
		p.Backoff = d.RetryBackoff
	}
	return p
}

// Config is everything one run needs. Values come from DefaultConfig, then
// an optional YAML file, then the environment, then CLI flags.
type Config struct {
	TargetURL string `yaml:"target_url"`
	Env       string `yaml:"env"`
	// Layers is a comma separated selection such as "l1,l2". Empty selects
	// all four.
	Layers string `yaml:"layers"`
	Seed   bool   `yaml:"seed"`
	OutDir string `yaml:"out_dir"`

	Admin model.Credential `yaml:"admin"`
	User  model.Credential `yaml:"user"`

	Deadlines Deadlines     `yaml:"deadlines"`
	Paths     session.Paths `yaml:"paths"`
	LoginPage string        `yaml:"login_page"`

	SeedFixtures string     `yaml:"seed_fixtures"`
	SeedPaths    seed.Paths `yaml:"seed_paths"`

	Headless   bool             `yaml:"headless"`
	ChromePath string           `yaml:"chrome_path"`
	Viewport   browser.Viewport `yaml:"viewport"`
	// TouchViewport is the mobile viewport touch targets are audited in.
	TouchViewport browser.Viewport `yaml:"touch_viewport"`

	ScenariosDir  string `yaml:"scenarios_dir"`
	CartLimitText string `yaml:"cart_limit_text"`
	L1Concurrency int    `yaml:"l1_concurrency"`

	ProgressAddr string `yaml:"progress_addr"`
	LogLevel     string `yaml:"log_level"`
	LogFormat    string `yaml:"log_format"`
	HTML         bool   `yaml:"html"`
	TopN         int    `yaml:"top_n"`
	// RenderPages adds browser-rendered L1 page probes. It needs Chrome.
	RenderPages bool `yaml:"render_pages"`
}

// DefaultConfig returns a Config with the documented defaults and no target
// or credentials.
func DefaultConfig() *Config {
	return &Config{
		Env:           string(model.EnvLocal),
		OutDir:        "probekit-out",
		Admin:         model.Credential{Role: model.RoleAdmin},
		User:          model.Credential{Role: model.RoleUser},
		Deadlines:     DefaultDeadlines(),
		Paths:         session.DefaultPaths(),
		LoginPage:     "/login",
		SeedPaths:     seed.DefaultPaths(),
		Headless:      true,
		Viewport:      browser.Viewport{Width: 1280, Height: 900},
		TouchViewport: browser.Viewport{Width: 390, Height: 844, Mobile: true},
		CartLimitText: "Cart Limit Reached",
		L1Concurrency: 4,
		LogLevel:      "info",
		LogFormat:     "console",
		TopN:          10,
	}
}

// LoadFile merges the YAML file at path over c. Unknown keys are rejected.
func (c *Config) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides c with the environment read through getenv. Unset or
// empty variables leave the current value alone.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.TargetURL, "TARGET_URL")
	set(&c.Env, "TARGET_ENV")
	set(&c.Admin.Email, "ADMIN_EMAIL")
	set(&c.User.Email, "USER_EMAIL")
	set(&c.OutDir, "PROBEKIT_OUT")
	// Passwords are taken verbatim.
	if v := getenv("ADMIN_PASSWORD"); v != "" {
		c.Admin.Password = v
	}
	if v := getenv("USER_PASSWORD"); v != "" {
		c.User.Password = v
	}
}

// Validate checks the fields a run cannot start without and returns the
// parsed target and layer selection.
func (c *Config) Validate() (model.Target, []model.Layer, error) {
	var errs []error
	env, err := model.ParseEnv(c.Env)
	if err != nil {
		errs = append(errs, err)
	}
	target, err := model.NewTarget(c.TargetURL, env)
	if err != nil {
		errs = append(errs, fmt.Errorf("target: %w (set --target or TARGET_URL)", err))
	}
	layers, err := model.ParseLayers(c.Layers)
	if err != nil {
		errs = append(errs, err)
	}
	if c.OutDir == "" {
		errs = append(errs, errors.New("output directory is empty"))
	}
	if c.L1Concurrency < 0 {
		errs = append(errs, fmt.Errorf("l1 concurrency %d is negative", c.L1Concurrency))
	}
	if c.Admin.Role == "" {
		c.Admin.Role = model.RoleAdmin
	}
	if c.User.Role == "" {
		c.User.Role = model.RoleUser
	}
	if err := errors.Join(errs...); err != nil {
		return model.Target{}, nil, model.Wrap(model.KindHarnessError, "invalid config", err)
	}
	return target, layers, nil
}

func (c *Config) sessionConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.Paths = c.Paths
	if cfg.Paths.Verify == nil {
		cfg.Paths.Verify = session.DefaultPaths().Verify
	}
	cfg.HTTPTimeout = c.Deadlines.HTTP
	cfg.SettleTimeout = c.Deadlines.SessionSettle
	cfg.TTL = c.Deadlines.SessionTTL
	cfg.Retry = c.Deadlines.Retry()
	return cfg
}

func (c *Config) browserConfig(screenshots string) browser.Config {
	cfg := browser.DefaultConfig()
	cfg.Headless = c.Headless
	cfg.ExecPath = c.ChromePath
	cfg.Navigation = c.Deadlines.Navigation
	cfg.FormSettle = c.Deadlines.FormSettle
	cfg.ScreenshotDir = screenshots
	if c.Viewport.Width > 0 {
		cfg.Viewport = c.Viewport
	}
	if c.LoginPage != "" {
		cfg.LoginPath = c.LoginPage
	}
	return cfg
}

// credentials returns the configured credentials that can log in.
func (c *Config) credentials() []model.Credential {
	var out []model.Credential
	for _, cred := range []model.Credential{c.Admin, c.User} {
		if !cred.Empty() {
			out = append(out, cred)
		}
	}
	return out
}
