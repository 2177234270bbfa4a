// Package browser wraps the Chrome automation capability behind a narrow
// interface so the authentication and dispatch layers can be tested against
// fakes. One Handle owns one browser process; page interaction through a
// Handle is inherently single-threaded and callers must serialize access.
package browser

import (
	"context"
	"time"
)

// Cookie is one cookie record visible to the automation handle.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Secure   bool
	HTTPOnly bool
	Expires  time.Time
}

// Handle is the browser automation capability consumed by the session and
// dispatch layers.
type Handle interface {
	// Navigate loads url in the page and waits for the document to be ready.
	Navigate(ctx context.Context, url string) error
	// SendKeys types value into the element matched by the CSS selector.
	SendKeys(ctx context.Context, selector, value string) error
	// Submit submits the form owning the element matched by the selector.
	Submit(ctx context.Context, selector string) error
	// ExecuteScript evaluates a JavaScript expression in the page and
	// unmarshals its (awaited) result into out. Pass nil to discard.
	ExecuteScript(ctx context.Context, script string, out interface{}) error
	// Cookies returns every cookie visible to the browser.
	Cookies(ctx context.Context) ([]Cookie, error)
	// CurrentURL reports the page's current location.
	CurrentURL(ctx context.Context) (string, error)
	// PageSource returns the serialized outer HTML of the current document.
	PageSource(ctx context.Context) (string, error)
	// Close terminates the browser process. Safe to call more than once.
	Close(ctx context.Context) error
}

// CombineContext derives a context that is cancelled when either parent is.
// chromedp actions must run on the handle's long-lived context to reach the
// right target, but they also need to respect the caller's deadline.
func CombineContext(parentCtx, secondaryCtx context.Context) (context.Context, context.CancelFunc) {
	combinedCtx, cancel := context.WithCancel(parentCtx)

	go func() {
		select {
		case <-secondaryCtx.Done():
			cancel()
		case <-combinedCtx.Done():
		}
	}()

	return combinedCtx, cancel
}
