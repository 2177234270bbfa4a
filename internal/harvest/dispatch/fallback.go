// File: internal/harvest/dispatch/fallback.go
package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/jgiquality/qualer-harvester/internal/harvest/session"
)

// browserFetchResult is the shape the in-page script resolves with.
type browserFetchResult struct {
	Status      int    `json:"status"`
	Body        string `json:"body"`
	ContentType string `json:"contentType"`
	Error       string `json:"error"`
}

// dispatchViaBrowser replays the request as an in-page fetch inside the
// authenticated browser. This is the terminal tier: whatever it returns,
// success or failure, ends the state machine.
func (d *Dispatcher) dispatchViaBrowser(ctx context.Context, sess *session.Session, desc RequestDescriptor) (*RawResponse, error) {
	d.fallbackMu.Lock()
	defer d.fallbackMu.Unlock()

	// Navigating to the auth context page establishes whatever client-side
	// state the endpoint validates before it will accept the fetch.
	if desc.Referer != "" {
		if err := sess.Browser.Navigate(ctx, desc.Referer); err != nil {
			return nil, fmt.Errorf("failed to navigate to auth context page %s: %w", desc.Referer, err)
		}
	}

	params := desc.Params
	if desc.Method == "POST" && !params.Has(session.ForgeryFieldName) {
		// The freshly rendered context page carries the current form token,
		// possibly under a path-suffixed field name. Prefer it over the pair
		// captured at login.
		if html, err := sess.Browser.PageSource(ctx); err == nil {
			if field, value, err := session.ExtractForgeryField(html); err == nil {
				params = append(params, Param{Key: field, Value: value})
			} else {
				d.logger.Warn("No anti-forgery token on auth context page, proceeding without it.",
					zap.String("service", desc.Service))
			}
		}
	}

	script := buildFetchScript(desc.Method, desc.URL, params)

	var result browserFetchResult
	if err := sess.Browser.ExecuteScript(ctx, script, &result); err != nil {
		return nil, fmt.Errorf("browser fetch execution failed: %w", err)
	}

	// The fallback may have rotated cookies; pull them back into the HTTP
	// client before anything else dispatches.
	if err := sess.Resync(ctx); err != nil {
		d.logger.Warn("Session resync after browser fallback failed.", zap.Error(err))
	}

	if result.Error != "" {
		return nil, fmt.Errorf("browser fetch failed: %s", result.Error)
	}

	switch {
	case result.Status >= 200 && result.Status < 300:
		return &RawResponse{
			Status:  result.Status,
			Body:    UnwrapPreformatted(result.Body),
			Headers: map[string]string{"Content-Type": result.ContentType},
			// The browser composed its own headers; record what the script
			// set explicitly.
			RequestHeaders: map[string]string{
				"x-requested-with": "XMLHttpRequest",
			},
		}, nil
	case result.Status == 403:
		return nil, ErrPermissionDenied
	default:
		return nil, &UnexpectedStatusError{Status: result.Status}
	}
}

// buildFetchScript generates the in-page fetch expression. credentials:
// 'include' is what lets the request ride the browser's own authenticated
// context. The expression resolves to a plain object chromedp can unmarshal.
func buildFetchScript(method, endpoint string, params Params) string {
	encoded := params.Encode()

	if method == "POST" {
		return fmt.Sprintf(`fetch(%q, {
	method: 'POST',
	headers: {
		'content-type': 'application/x-www-form-urlencoded; charset=UTF-8',
		'x-requested-with': 'XMLHttpRequest'
	},
	body: %q,
	credentials: 'include'
})
	.then(r => r.text().then(t => ({status: r.status, body: t, contentType: r.headers.get('content-type') || ''})))
	.catch(e => ({status: 0, body: '', contentType: '', error: e.toString()}))`, endpoint, encoded)
	}

	target := endpoint
	if encoded != "" {
		target = endpoint + "?" + encoded
	}
	return fmt.Sprintf(`fetch(%q, {
	method: 'GET',
	headers: {'x-requested-with': 'XMLHttpRequest'},
	credentials: 'include'
})
	.then(r => r.text().then(t => ({status: r.status, body: t, contentType: r.headers.get('content-type') || ''})))
	.catch(e => ({status: 0, body: '', contentType: '', error: e.toString()}))`, target)
}

// UnwrapPreformatted extracts the payload from the portal's HTML envelope.
// Some endpoints wrap their JSON in <html><body><pre>…</pre></body></html>;
// if no such wrapper is present the body is already the payload.
func UnwrapPreformatted(body string) string {
	trimmed := strings.TrimSpace(body)
	if !strings.Contains(trimmed, "<pre") {
		return body
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(trimmed))
	if err != nil {
		return body
	}
	pre := doc.Find("pre").First()
	if pre.Length() == 0 {
		return body
	}
	return strings.TrimSpace(pre.Text())
}
