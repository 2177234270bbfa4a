// File: internal/harvest/session/authenticator.go
package session

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jgiquality/qualer-harvester/internal/browser"
	"github.com/jgiquality/qualer-harvester/internal/config"
)

const (
	emailSelector    = "#Email"
	passwordSelector = "#Password"
)

// HandleFactory creates the browser automation handle a login runs in.
// Overridable in tests.
type HandleFactory func(ctx context.Context) (browser.Handle, error)

// Authenticator drives the browser through the portal login flow and exports
// the resulting identity into a headless HTTP client.
type Authenticator struct {
	cfg       *config.Config
	logger    *zap.Logger
	newHandle HandleFactory
}

// NewAuthenticator creates an Authenticator backed by a real Chrome process.
func NewAuthenticator(cfg *config.Config, logger *zap.Logger) *Authenticator {
	a := &Authenticator{
		cfg:    cfg,
		logger: logger.Named("authenticator"),
	}
	a.newHandle = func(ctx context.Context) (browser.Handle, error) {
		return browser.NewChrome(ctx, cfg.Browser, a.logger)
	}
	return a
}

// NewAuthenticatorWithFactory is the test seam: it accepts the browser
// handle factory instead of launching Chrome.
func NewAuthenticatorWithFactory(cfg *config.Config, logger *zap.Logger, factory HandleFactory) *Authenticator {
	return &Authenticator{
		cfg:       cfg,
		logger:    logger.Named("authenticator"),
		newHandle: factory,
	}
}

// Login opens a browser, submits credentials at the portal login page, waits
// for the post-login redirect, and returns a Session whose HTTP client
// mirrors the browser's cookies. The browser process lives for the lifetime
// of the returned Session.
func (a *Authenticator) Login(ctx context.Context) (*Session, error) {
	creds := a.cfg.Credentials
	if creds.Email == "" || creds.Password == "" {
		return nil, fmt.Errorf("%w: credentials.email and credentials.password are required (hint: set QUALER_EMAIL / QUALER_PASSWORD)", ErrConfiguration)
	}

	base, err := url.Parse(a.cfg.Auth.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid auth.base_url: %v", ErrConfiguration, err)
	}

	handle, err := a.newHandle(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start browser for login: %w", err)
	}

	// Any failure past this point must not leak the browser process.
	sess, err := a.loginWithHandle(ctx, base, handle)
	if err != nil {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if closeErr := handle.Close(cleanupCtx); closeErr != nil {
			a.logger.Warn("Failed to close browser after login failure.", zap.Error(closeErr))
		}
		return nil, err
	}
	return sess, nil
}

func (a *Authenticator) loginWithHandle(ctx context.Context, base *url.URL, handle browser.Handle) (*Session, error) {
	loginURL := base.ResolveReference(&url.URL{Path: "/login"}).String()
	a.logger.Info("Logging in.", zap.String("url", loginURL), zap.String("email", a.cfg.Credentials.Email))

	if err := handle.Navigate(ctx, loginURL); err != nil {
		return nil, fmt.Errorf("failed to open login page: %w", err)
	}
	if err := handle.SendKeys(ctx, emailSelector, a.cfg.Credentials.Email); err != nil {
		return nil, fmt.Errorf("failed to fill email field: %w", err)
	}
	if err := handle.SendKeys(ctx, passwordSelector, a.cfg.Credentials.Password); err != nil {
		return nil, fmt.Errorf("failed to fill password field: %w", err)
	}
	if err := handle.Submit(ctx, passwordSelector); err != nil {
		return nil, fmt.Errorf("failed to submit login form: %w", err)
	}

	if err := a.waitForAuthenticated(ctx, handle); err != nil {
		return nil, err
	}

	client, err := newCookieJarClient(base)
	if err != nil {
		return nil, err
	}
	client.SetTimeout(a.cfg.Network.RequestTimeout)

	sess := newSession(base, handle, client, a.logger)
	if err := sess.Resync(ctx); err != nil {
		return nil, err
	}

	a.logger.Info("Login succeeded.", zap.String("session_id", sess.ID()))
	return sess, nil
}

// waitForAuthenticated polls the page location until it leaves the login
// route, bounded by auth.login_wait. This replaces a fixed post-submit sleep:
// the readiness predicate ends the wait as soon as the redirect lands.
func (a *Authenticator) waitForAuthenticated(ctx context.Context, handle browser.Handle) error {
	deadline := time.Now().Add(a.cfg.Auth.LoginWait)
	ticker := time.NewTicker(a.cfg.Auth.LoginPollInterval)
	defer ticker.Stop()

	var lastURL string
	for {
		current, err := handle.CurrentURL(ctx)
		if err == nil {
			lastURL = current
			if !strings.Contains(strings.ToLower(current), "login") {
				return nil
			}
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: still at %q after %s (check credentials)", ErrAuthentication, lastURL, a.cfg.Auth.LoginWait)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("login wait cancelled: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}
