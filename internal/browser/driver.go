package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/raysh454/probekit/internal/logging"
	"github.com/raysh454/probekit/internal/model"
)

// ErrBrowserUnavailable is returned when no browser process can be started.
var ErrBrowserUnavailable = errors.New("browser unavailable")

// Viewport is the emulated window size of a Scope.
type Viewport struct {
	Width  int64 `yaml:"width" json:"width"`
	Height int64 `yaml:"height" json:"height"`
	Mobile bool  `yaml:"mobile" json:"mobile"`
}

// Config tunes the Driver.
type Config struct {
	Headless bool
	// ExecPath overrides the Chrome binary lookup.
	ExecPath string
	// Navigation bounds page loads.
	Navigation time.Duration
	// FormSettle bounds the wait for form indicators after submit.
	FormSettle time.Duration
	// IdleAfter is the quiet period that counts as network idle.
	IdleAfter     time.Duration
	ScreenshotDir string
	Viewport      Viewport
	UserAgent     string
	// LoginPath marks redirects to the login page.
	LoginPath string
}

// DefaultConfig returns the default deadlines and a desktop viewport.
func DefaultConfig() Config {
	return Config{
		Headless:   true,
		Navigation: 15 * time.Second,
		FormSettle: 5 * time.Second,
		IdleAfter:  500 * time.Millisecond,
		Viewport:   Viewport{Width: 1280, Height: 900},
		LoginPath:  "/login",
	}
}

// Driver owns the single browser process of a run. Scopes opened from it
// get their own browser context and share nothing else.
type Driver struct {
	cfg           Config
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	logger        logging.Logger

	mu        sync.Mutex
	shotNames map[string]int
	closed    bool
}

// NewDriver launches the browser process. The process lives until Close,
// independent of ctx; ctx only bounds the launch.
func NewDriver(ctx context.Context, cfg Config, logger logging.Logger) (*Driver, error) {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	def := DefaultConfig()
	if cfg.Navigation <= 0 {
		cfg.Navigation = def.Navigation
	}
	if cfg.FormSettle <= 0 {
		cfg.FormSettle = def.FormSettle
	}
	if cfg.IdleAfter <= 0 {
		cfg.IdleAfter = def.IdleAfter
	}
	if cfg.Viewport.Width <= 0 || cfg.Viewport.Height <= 0 {
		cfg.Viewport = def.Viewport
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = def.LoginPath
	}
	if cfg.ScreenshotDir != "" {
		if err := os.MkdirAll(cfg.ScreenshotDir, 0o755); err != nil {
			return nil, fmt.Errorf("create screenshot dir: %w", err)
		}
	}

	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if !cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	launched := make(chan error, 1)
	go func() { launched <- chromedp.Run(browserCtx) }()
	select {
	case err := <-launched:
		if err != nil {
			browserCancel()
			allocCancel()
			return nil, fmt.Errorf("%w: %v", ErrBrowserUnavailable, err)
		}
	case <-ctx.Done():
		browserCancel()
		allocCancel()
		return nil, ctx.Err()
	}

	logger = logger.With(logging.Field{Key: "component", Value: "browser"})
	logger.Info("browser started", logging.Field{Key: "headless", Value: cfg.Headless})
	return &Driver{
		cfg:           cfg,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		logger:        logger,
		shotNames:     map[string]int{},
	}, nil
}

// Config returns the effective configuration.
func (d *Driver) Config() Config { return d.cfg }

// Close terminates the browser process.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.browserCancel()
	d.allocCancel()
	d.logger.Debug("browser closed")
	return nil
}

// ScopeOptions configure a new browser context.
type ScopeOptions struct {
	Viewport  Viewport
	UserAgent string
	// Cookies are installed for CookieURL before the first navigation.
	Cookies   []*http.Cookie
	CookieURL string
}

// Scope is one isolated browser context with a single tab.
type Scope struct {
	d      *Driver
	ctx    context.Context
	cancel context.CancelFunc
	logger logging.Logger
}

// NewScope opens a fresh browser context. Callers must Close it; With does
// that for them.
func (d *Driver) NewScope(ctx context.Context, opts ScopeOptions) (*Scope, error) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, ErrBrowserUnavailable
	}
	if opts.Viewport.Width <= 0 || opts.Viewport.Height <= 0 {
		opts.Viewport = d.cfg.Viewport
	}
	if opts.UserAgent == "" {
		opts.UserAgent = d.cfg.UserAgent
	}

	tabCtx, cancel := chromedp.NewContext(d.browserCtx, chromedp.WithNewBrowserContext())
	s := &Scope{d: d, ctx: tabCtx, cancel: cancel, logger: d.logger}

	actions := []chromedp.Action{
		network.Enable(),
		chromedp.EmulateViewport(opts.Viewport.Width, opts.Viewport.Height, func(p *emulation.SetDeviceMetricsOverrideParams, q *emulation.SetTouchEmulationEnabledParams) {
			p.Mobile = opts.Viewport.Mobile
			q.Enabled = opts.Viewport.Mobile
		}),
	}
	if opts.UserAgent != "" {
		actions = append(actions, emulation.SetUserAgentOverride(opts.UserAgent))
	}
	for _, c := range opts.Cookies {
		if c == nil || c.Name == "" {
			continue
		}
		params := network.SetCookie(c.Name, c.Value).WithURL(opts.CookieURL).WithHTTPOnly(c.HttpOnly).WithSecure(c.Secure)
		if c.Path != "" {
			params = params.WithPath(c.Path)
		}
		actions = append(actions, params)
	}
	if err := s.run(ctx, d.cfg.Navigation, actions...); err != nil {
		cancel()
		return nil, fmt.Errorf("open browser context: %w", err)
	}
	return s, nil
}

// With runs fn inside a fresh Scope and always tears it down.
func (d *Driver) With(ctx context.Context, opts ScopeOptions, fn func(*Scope) error) error {
	s, err := d.NewScope(ctx, opts)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

// Close disposes the browser context.
func (s *Scope) Close() {
	s.cancel()
}

// run executes actions on the scope's tab, bounded by timeout and by the
// caller's ctx.
func (s *Scope) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return model.Wrap(model.KindTimeout, "cancelled", ctx.Err())
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return model.Wrap(model.KindTimeout, fmt.Sprintf("exceeded %s", timeout), err)
	}
	return err
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// screenshotPath returns a unique file path for name.
func (d *Driver) screenshotPath(name string) string {
	base := strings.Trim(unsafeName.ReplaceAllString(name, "-"), "-")
	if base == "" {
		base = "page"
	}
	d.mu.Lock()
	d.shotNames[base]++
	n := d.shotNames[base]
	d.mu.Unlock()
	if n > 1 {
		base = fmt.Sprintf("%s-%d", base, n)
	}
	return filepath.Join(d.cfg.ScreenshotDir, base+".png")
}
