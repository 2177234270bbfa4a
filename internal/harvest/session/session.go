// Package session owns the authenticated identity: one browser process and
// one headless HTTP client sharing a synchronized cookie jar.
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

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/jgiquality/qualer-harvester/internal/browser"
)

// ErrAuthentication is returned when the login page never reaches an
// authenticated state within the bounded wait.
var ErrAuthentication = errors.New("login did not reach an authenticated state")

// ErrConfiguration is returned when required credentials are absent.
var ErrConfiguration = errors.New("missing required configuration")

// ForgeryFieldName is the unsuffixed anti-forgery field the portal expects
// in POST bodies under the double-submit pattern. The matching cookie name
// carries a per-path suffix.
const ForgeryFieldName = "__RequestVerificationToken"

// ForgeryTokenPair is the double-submit anti-forgery pair: the
// cookie-embedded value and the distinct form-embedded value.
type ForgeryTokenPair struct {
	CookieName  string
	CookieValue string
	FormValue   string
}

// Valid reports whether the pair is complete enough to submit.
func (p ForgeryTokenPair) Valid() bool {
	return p.CookieValue != "" && p.FormValue != ""
}

// Session is one authenticated identity against the portal. The HTTP
// client's jar mirrors the browser's cookies as of the last Resync;
// staleness past that point is expected and repaired by re-syncing after a
// fallback request.
type Session struct {
	id      string
	baseURL *url.URL
	logger  *zap.Logger

	// Browser is the automation handle the session was authenticated with.
	// Page interaction through it must be serialized by the caller.
	Browser browser.Handle

	httpClient *resty.Client

	// mu guards jar mutation during Resync and the forgery token pair.
	// Steady-state requests read the jar through its own internal lock.
	mu      sync.Mutex
	forgery ForgeryTokenPair

	closeMu  sync.Mutex
	isClosed bool
}

// New wires a Session around an already authenticated browser handle and
// HTTP client. Most callers obtain sessions through Authenticator.Login.
func New(base *url.URL, handle browser.Handle, client *resty.Client, logger *zap.Logger) *Session {
	return newSession(base, handle, client, logger)
}

// newSession wires a Session around an already authenticated browser handle.
func newSession(base *url.URL, handle browser.Handle, client *resty.Client, logger *zap.Logger) *Session {
	id := uuid.New().String()
	return &Session{
		id:         id,
		baseURL:    base,
		Browser:    handle,
		httpClient: client,
		logger:     logger.With(zap.String("session_id", id)),
	}
}

// ID returns the unique identifier for the session.
func (s *Session) ID() string {
	return s.id
}

// BaseURL returns the portal origin this session is bound to.
func (s *Session) BaseURL() *url.URL {
	return s.baseURL
}

// HTTP returns the headless client bound to the session's cookie jar.
// Concurrent requests are safe; the jar is read-mostly between resyncs.
func (s *Session) HTTP() *resty.Client {
	return s.httpClient
}

// ForgeryToken returns the anti-forgery pair captured at the last resync.
func (s *Session) ForgeryToken() ForgeryTokenPair {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forgery
}

// Resync re-reads cookies from the live browser into the HTTP client's jar
// and refreshes the anti-forgery pair. Called after login and after any
// browser-executed fallback, which may have rotated session state.
func (s *Session) Resync(ctx context.Context) error {
	cookies, err := s.Browser.Cookies(ctx)
	if err != nil {
		return fmt.Errorf("failed to resync session cookies: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	jar := s.httpClient.GetClient().Jar
	// Group per registrable domain; jar.SetCookies is atomic per call, so
	// in-flight requests see either the old or the new cookie set.
	byDomain := make(map[string][]*http.Cookie)
	for _, ck := range cookies {
		if ck.Name == "" || ck.Value == "" {
			continue
		}
		domain := strings.TrimPrefix(ck.Domain, ".")
		if domain == "" {
			domain = s.baseURL.Hostname()
		}
		path := ck.Path
		if path == "" {
			path = "/"
		}
		byDomain[domain] = append(byDomain[domain], &http.Cookie{
			Name:   ck.Name,
			Value:  ck.Value,
			Domain: ck.Domain,
			Path:   path,
			Secure: ck.Secure,
		})

		if strings.HasPrefix(ck.Name, ForgeryFieldName) {
			s.forgery.CookieName = ck.Name
			s.forgery.CookieValue = ck.Value
		}
	}
	for domain, domainCookies := range byDomain {
		u := &url.URL{Scheme: s.baseURL.Scheme, Host: domain, Path: "/"}
		jar.SetCookies(u, domainCookies)
	}

	// The form half of the double-submit pair lives in a hidden input on
	// whatever page the browser currently shows. Best effort: not every
	// page embeds one.
	if html, err := s.Browser.PageSource(ctx); err == nil {
		if _, value, err := ExtractForgeryField(html); err == nil {
			s.forgery.FormValue = value
		}
	}

	s.logger.Debug("Session cookies resynced from browser.",
		zap.Int("cookie_count", len(cookies)),
		zap.Bool("forgery_pair_complete", s.forgery.Valid()))
	return nil
}

// Close releases the browser process. The HTTP client needs no explicit
// teardown beyond abandoning its jar. Safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.closeMu.Lock()
	if s.isClosed {
		s.closeMu.Unlock()
		return nil
	}
	s.isClosed = true
	s.closeMu.Unlock()

	s.logger.Debug("Closing session.")
	if err := s.Browser.Close(ctx); err != nil {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	return nil
}

// ExtractForgeryField returns the name and value of the first anti-forgery
// hidden input in the page. The input name may carry a per-path suffix.
func ExtractForgeryField(html string) (string, string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", "", fmt.Errorf("failed to parse page html: %w", err)
	}

	var name, value string
	doc.Find("input").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		n, _ := sel.Attr("name")
		if !strings.HasPrefix(n, ForgeryFieldName) {
			return true
		}
		v, _ := sel.Attr("value")
		if v == "" {
			return true
		}
		name, value = n, v
		return false
	})

	if value == "" {
		return "", "", fmt.Errorf("no anti-forgery input found in page")
	}
	return name, value, nil
}

// newCookieJarClient builds a resty client on a fresh publicsuffix-aware
// cookie jar.
func newCookieJarClient(base *url.URL) (*resty.Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	client := resty.New()
	client.SetBaseURL(base.String())
	client.SetCookieJar(jar)
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(base.Hostname()))
	return client, nil
}
