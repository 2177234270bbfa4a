package session

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/jgiquality/qualer-harvester/internal/browser"
	"github.com/jgiquality/qualer-harvester/internal/config"
)

// fakeHandle is an in-memory browser.Handle. CurrentURL walks urlSequence
// and sticks on the last entry, simulating the post-submit redirect landing.
type fakeHandle struct {
	mu sync.Mutex

	urlSequence []string
	urlIndex    int
	cookies     []browser.Cookie
	pageSource  string

	navigated  []string
	typed      map[string]string
	submitted  []string
	closeCount int

	navigateErr error
	cookiesErr  error
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{typed: make(map[string]string)}
}

func (f *fakeHandle) Navigate(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.navigateErr != nil {
		return f.navigateErr
	}
	f.navigated = append(f.navigated, url)
	return nil
}

func (f *fakeHandle) SendKeys(_ context.Context, selector, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typed[selector] = value
	return nil
}

func (f *fakeHandle) Submit(_ context.Context, selector string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, selector)
	return nil
}

func (f *fakeHandle) ExecuteScript(_ context.Context, _ string, _ interface{}) error {
	return nil
}

func (f *fakeHandle) Cookies(_ context.Context) ([]browser.Cookie, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cookiesErr != nil {
		return nil, f.cookiesErr
	}
	return f.cookies, nil
}

func (f *fakeHandle) CurrentURL(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.urlSequence) == 0 {
		return "", errors.New("no page loaded")
	}
	u := f.urlSequence[f.urlIndex]
	if f.urlIndex < len(f.urlSequence)-1 {
		f.urlIndex++
	}
	return u, nil
}

func (f *fakeHandle) PageSource(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pageSource, nil
}

func (f *fakeHandle) Close(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCount++
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Credentials.Email = "tech@example.com"
	cfg.Credentials.Password = "hunter2"
	cfg.Auth.BaseURL = "https://portal.example.com"
	cfg.Auth.LoginWait = 500 * time.Millisecond
	cfg.Auth.LoginPollInterval = 10 * time.Millisecond
	return cfg
}

func factoryFor(handle browser.Handle) HandleFactory {
	return func(_ context.Context) (browser.Handle, error) {
		return handle, nil
	}
}

func TestLoginSuccess(t *testing.T) {
	handle := newFakeHandle()
	handle.urlSequence = []string{
		"https://portal.example.com/login",
		"https://portal.example.com/login",
		"https://portal.example.com/Sso/Dashboard",
	}
	handle.cookies = []browser.Cookie{
		{Name: "__RequestVerificationToken_Abc123", Value: "cookie-half", Domain: "portal.example.com", Path: "/"},
		{Name: ".AspNet.ApplicationCookie", Value: "auth-blob", Domain: "portal.example.com", Path: "/"},
	}
	handle.pageSource = `<html><body><form>` +
		`<input name="__RequestVerificationToken" type="hidden" value="form-half">` +
		`</form></body></html>`

	auth := NewAuthenticatorWithFactory(testConfig(t), zap.NewNop(), factoryFor(handle))
	sess, err := auth.Login(context.Background())
	require.NoError(t, err)
	defer sess.Close(context.Background())

	assert.Equal(t, []string{"https://portal.example.com/login"}, handle.navigated)
	assert.Equal(t, "tech@example.com", handle.typed["#Email"])
	assert.Equal(t, "hunter2", handle.typed["#Password"])
	assert.Equal(t, []string{"#Password"}, handle.submitted)

	pair := sess.ForgeryToken()
	assert.True(t, pair.Valid())
	assert.Equal(t, "__RequestVerificationToken_Abc123", pair.CookieName)
	assert.Equal(t, "cookie-half", pair.CookieValue)
	assert.Equal(t, "form-half", pair.FormValue)

	// The browser cookies must be visible to the headless client's jar.
	base, _ := url.Parse("https://portal.example.com/")
	jarCookies := sess.HTTP().GetClient().Jar.Cookies(base)
	names := make([]string, 0, len(jarCookies))
	for _, ck := range jarCookies {
		names = append(names, ck.Name)
	}
	assert.Contains(t, names, ".AspNet.ApplicationCookie")
}

func TestLoginTimesOutOnLoginPage(t *testing.T) {
	defer goleak.VerifyNone(t)

	handle := newFakeHandle()
	// Never leaves the login route: bad credentials keep the form up.
	handle.urlSequence = []string{"https://portal.example.com/login?error=1"}

	auth := NewAuthenticatorWithFactory(testConfig(t), zap.NewNop(), factoryFor(handle))
	sess, err := auth.Login(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthentication)
	assert.Nil(t, sess)
	// The browser must not leak on the failure path.
	assert.Equal(t, 1, handle.closeCount)
}

func TestLoginMissingCredentials(t *testing.T) {
	cfg := testConfig(t)
	cfg.Credentials.Password = ""

	factoryCalled := false
	auth := NewAuthenticatorWithFactory(cfg, zap.NewNop(), func(_ context.Context) (browser.Handle, error) {
		factoryCalled = true
		return newFakeHandle(), nil
	})

	sess, err := auth.Login(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Nil(t, sess)
	assert.False(t, factoryCalled, "no browser should launch without credentials")
}

func TestLoginRespectsContextCancellation(t *testing.T) {
	defer goleak.VerifyNone(t)

	handle := newFakeHandle()
	handle.urlSequence = []string{"https://portal.example.com/login"}

	cfg := testConfig(t)
	cfg.Auth.LoginWait = 10 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	auth := NewAuthenticatorWithFactory(cfg, zap.NewNop(), factoryFor(handle))
	_, err := auth.Login(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, handle.closeCount)
}

func TestResyncRefreshesForgeryPair(t *testing.T) {
	base, err := url.Parse("https://portal.example.com")
	require.NoError(t, err)
	client, err := newCookieJarClient(base)
	require.NoError(t, err)

	handle := newFakeHandle()
	handle.cookies = []browser.Cookie{
		{Name: "__RequestVerificationToken_L2NsaWVudHM1", Value: "first", Domain: ".portal.example.com"},
	}
	handle.pageSource = `<input name="__RequestVerificationToken" value="v1">`

	sess := newSession(base, handle, client, zap.NewNop())
	require.NoError(t, sess.Resync(context.Background()))
	assert.Equal(t, "first", sess.ForgeryToken().CookieValue)
	assert.Equal(t, "v1", sess.ForgeryToken().FormValue)

	// The portal rotates the pair; a resync must pick up both halves.
	handle.mu.Lock()
	handle.cookies[0].Value = "second"
	handle.pageSource = `<input name="__RequestVerificationToken" value="v2">`
	handle.mu.Unlock()

	require.NoError(t, sess.Resync(context.Background()))
	assert.Equal(t, "second", sess.ForgeryToken().CookieValue)
	assert.Equal(t, "v2", sess.ForgeryToken().FormValue)
}

func TestResyncCookieError(t *testing.T) {
	base, _ := url.Parse("https://portal.example.com")
	client, err := newCookieJarClient(base)
	require.NoError(t, err)

	handle := newFakeHandle()
	handle.cookiesErr = errors.New("target crashed")

	sess := newSession(base, handle, client, zap.NewNop())
	err = sess.Resync(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resync")
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	base, _ := url.Parse("https://portal.example.com")
	client, err := newCookieJarClient(base)
	require.NoError(t, err)

	handle := newFakeHandle()
	sess := newSession(base, handle, client, zap.NewNop())

	require.NoError(t, sess.Close(context.Background()))
	require.NoError(t, sess.Close(context.Background()))
	assert.Equal(t, 1, handle.closeCount)
}

func TestExtractForgeryField(t *testing.T) {
	testCases := []struct {
		name      string
		html      string
		wantName  string
		wantValue string
		wantErr   bool
	}{
		{
			name:      "plain field name",
			html:      `<form><input name="__RequestVerificationToken" value="tok"></form>`,
			wantName:  "__RequestVerificationToken",
			wantValue: "tok",
		},
		{
			name:      "suffixed field name",
			html:      `<input type="hidden" name="__RequestVerificationToken_L3dvcms1" value="suffixed-tok">`,
			wantName:  "__RequestVerificationToken_L3dvcms1",
			wantValue: "suffixed-tok",
		},
		{
			name:      "first match wins among several inputs",
			html:      `<input name="Email"><input name="__RequestVerificationToken" value="a"><input name="__RequestVerificationToken" value="b">`,
			wantName:  "__RequestVerificationToken",
			wantValue: "a",
		},
		{
			name:    "empty-valued token is not a match",
			html:    `<input name="__RequestVerificationToken" value="">`,
			wantErr: true,
		},
		{
			name:    "no token input",
			html:    `<html><body><p>login required</p></body></html>`,
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			name, value, err := ExtractForgeryField(tc.html)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantName, name)
			assert.Equal(t, tc.wantValue, value)
		})
	}
}
