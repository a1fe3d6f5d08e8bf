package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/raysh454/probekit/internal/model"
	"github.com/raysh454/probekit/internal/webclient"
)

// Navigate loads url and waits for the load event and network idle.
func (s *Scope) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, s.d.cfg.Navigation, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return s.WaitIdle(ctx, s.d.cfg.Navigation)
}

// Location returns the current page URL.
func (s *Scope) Location(ctx context.Context) (string, error) {
	var loc string
	err := s.run(ctx, s.d.cfg.FormSettle, chromedp.Location(&loc))
	return loc, err
}

// WaitIdle blocks until no request has been in flight for the configured
// quiet period, or until timeout.
func (s *Scope) WaitIdle(ctx context.Context, timeout time.Duration) error {
	listenCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	idle := webclient.WaitNetworkIdle(listenCtx, s.d.cfg.IdleAfter)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-idle:
		return nil
	case <-timer.C:
		return model.Errorf(model.KindTimeout, "network not idle within %s", timeout)
	case <-ctx.Done():
		return model.Wrap(model.KindTimeout, "cancelled", ctx.Err())
	case <-s.ctx.Done():
		return ErrBrowserUnavailable
	}
}

// Fill locates field with the ordered strategies and types value into it.
// It returns the strategy that matched.
func (s *Scope) Fill(ctx context.Context, field, value string) (SelectorStrategy, error) {
	for _, strategy := range Strategies {
		var tag string
		if err := s.Evaluate(ctx, locatorScript(strategy, field), &tag); err != nil {
			return "", err
		}
		if tag == "" {
			continue
		}
		sel := markedSelector(field)
		var action chromedp.Action
		if tag == "SELECT" {
			action = chromedp.SetValue(sel, value, chromedp.ByQuery)
		} else {
			action = chromedp.Tasks{
				chromedp.SetValue(sel, "", chromedp.ByQuery),
				chromedp.SendKeys(sel, value, chromedp.ByQuery),
			}
		}
		if err := s.run(ctx, s.d.cfg.FormSettle, action); err != nil {
			return strategy, model.Wrap(model.KindDOMAssertionFailed, fmt.Sprintf("fill %s via %s", field, strategy), err)
		}
		return strategy, nil
	}
	return "", model.Errorf(model.KindDOMAssertionFailed, "field %q not found by any selector strategy", field)
}

// Click clicks the first element matching the CSS selector.
func (s *Scope) Click(ctx context.Context, selector string) error {
	n, err := s.QueryCount(ctx, selector)
	if err != nil {
		return err
	}
	if n == 0 {
		return model.Errorf(model.KindDOMAssertionFailed, "nothing matches %q", selector)
	}
	if err := s.run(ctx, s.d.cfg.FormSettle, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

// QueryCount returns how many elements match the CSS selector.
func (s *Scope) QueryCount(ctx context.Context, selector string) (int, error) {
	var n int
	err := s.Evaluate(ctx, fmt.Sprintf(`document.querySelectorAll(%s).length`, jsString(selector)), &n)
	return n, err
}

// TextPresent reports whether the visible page text contains text.
func (s *Scope) TextPresent(ctx context.Context, text string) (bool, error) {
	var ok bool
	err := s.Evaluate(ctx, fmt.Sprintf(`!!document.body && document.body.innerText.includes(%s)`, jsString(text)), &ok)
	return ok, err
}

// TextOf returns the trimmed text content of the first match of selector,
// or "" when nothing matches.
func (s *Scope) TextOf(ctx context.Context, selector string) (string, error) {
	var text string
	err := s.Evaluate(ctx, fmt.Sprintf(`(function(){var e=document.querySelector(%s);return e?e.textContent.trim():"";})()`, jsString(selector)), &text)
	return text, err
}

// Evaluate runs expr in the page and decodes the result into res.
func (s *Scope) Evaluate(ctx context.Context, expr string, res any) error {
	if err := s.run(ctx, s.d.cfg.FormSettle, chromedp.Evaluate(expr, res)); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	return nil
}

// Screenshot writes a full-page PNG named after name and returns its path.
func (s *Scope) Screenshot(ctx context.Context, name string) (string, error) {
	if s.d.cfg.ScreenshotDir == "" {
		return "", fmt.Errorf("no screenshot directory configured")
	}
	var buf []byte
	if err := s.run(ctx, s.d.cfg.Navigation, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return "", fmt.Errorf("screenshot %s: %w", name, err)
	}
	path := s.d.screenshotPath(name)
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	return path, nil
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
