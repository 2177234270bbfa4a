// File: internal/browser/chrome.go
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jgiquality/qualer-harvester/internal/config"
)

// Chrome is the chromedp-backed implementation of Handle.
type Chrome struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	// allocCancel tears down the exec allocator (and with it the browser
	// process) after the browser context is gone.
	allocCancel context.CancelFunc
	logger      *zap.Logger

	mu       sync.Mutex
	isClosed bool
}

var _ Handle = (*Chrome)(nil)

// execAllocatorOptions translates the application config into chromedp
// allocator options.
func execAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-dev-shm-usage", true),
	)

	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}

	for _, arg := range cfg.Args {
		if !strings.Contains(arg, "=") {
			if !strings.HasPrefix(arg, "--") {
				arg = "--" + arg
			}
			opts = append(opts, chromedp.Flag(strings.TrimPrefix(arg, "--"), true))
			continue
		}
		parts := strings.SplitN(arg, "=", 2)
		key := strings.TrimPrefix(parts[0], "--")
		opts = append(opts, chromedp.Flag(key, parts[1]))
	}
	return opts
}

// NewChrome launches a browser process and connects a fresh target to it.
// The process lives until Close is called; ctx only scopes the launch.
func NewChrome(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Chrome, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), execAllocatorOptions(cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	id := uuid.New().String()
	c := &Chrome{
		id:          id,
		ctx:         browserCtx,
		cancel:      browserCancel,
		allocCancel: allocCancel,
		logger:      logger.Named("browser").With(zap.String("browser_id", id)),
	}

	// Force target creation now so launch failures surface here rather than
	// on the first navigation.
	launchCtx, cancel := CombineContext(browserCtx, ctx)
	defer cancel()
	if err := chromedp.Run(launchCtx); err != nil {
		c.release()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	c.logger.Debug("Browser process launched.", zap.Bool("headless", cfg.Headless))
	return c, nil
}

// ID returns the unique identifier for this browser instance.
func (c *Chrome) ID() string {
	return c.id
}

func (c *Chrome) runActions(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(c.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// Navigate implements Handle.
func (c *Chrome) Navigate(ctx context.Context, url string) error {
	if err := c.runActions(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// SendKeys implements Handle.
func (c *Chrome) SendKeys(ctx context.Context, selector, value string) error {
	if err := c.runActions(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("failed to type into %q: %w", selector, err)
	}
	return nil
}

// Submit implements Handle.
func (c *Chrome) Submit(ctx context.Context, selector string) error {
	if err := c.runActions(ctx, chromedp.Submit(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to submit form via %q: %w", selector, err)
	}
	return nil
}

// ExecuteScript implements Handle. Promises returned by the expression are
// awaited, which is what the in-page fetch fallback relies on.
func (c *Chrome) ExecuteScript(ctx context.Context, script string, out interface{}) error {
	eval := chromedp.Evaluate(script, out, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	})
	if err := c.runActions(ctx, eval); err != nil {
		return fmt.Errorf("script evaluation failed: %w", err)
	}
	return nil
}

// Cookies implements Handle.
func (c *Chrome) Cookies(ctx context.Context) ([]Cookie, error) {
	var cookies []Cookie
	err := c.runActions(ctx, chromedp.ActionFunc(func(actionCtx context.Context) error {
		cdpCookies, err := network.GetCookies().Do(actionCtx)
		if err != nil {
			return err
		}
		cookies = make([]Cookie, 0, len(cdpCookies))
		for _, ck := range cdpCookies {
			cookies = append(cookies, Cookie{
				Name:     ck.Name,
				Value:    ck.Value,
				Domain:   ck.Domain,
				Path:     ck.Path,
				Secure:   ck.Secure,
				HTTPOnly: ck.HTTPOnly,
			})
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read browser cookies: %w", err)
	}
	return cookies, nil
}

// CurrentURL implements Handle.
func (c *Chrome) CurrentURL(ctx context.Context) (string, error) {
	var loc string
	if err := c.runActions(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("failed to read current location: %w", err)
	}
	return loc, nil
}

// PageSource implements Handle.
func (c *Chrome) PageSource(ctx context.Context) (string, error) {
	var html string
	if err := c.runActions(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to capture page source: %w", err)
	}
	return html, nil
}

// Close implements Handle.
func (c *Chrome) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.isClosed {
		c.mu.Unlock()
		return nil
	}
	c.isClosed = true
	c.mu.Unlock()

	c.logger.Debug("Closing browser process.")
	c.release()
	return nil
}

func (c *Chrome) release() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.allocCancel != nil {
		c.allocCancel()
	}
}
