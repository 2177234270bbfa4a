// Package dispatch decides, per request, whether the portal will accept a
// lightweight HTTP call or whether the request must be replayed inside the
// authenticated browser. HTTP always goes first: it is an order of magnitude
// faster, and the browser tier exists for correctness, not performance.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jgiquality/qualer-harvester/internal/config"
	"github.com/jgiquality/qualer-harvester/internal/harvest/headers"
	"github.com/jgiquality/qualer-harvester/internal/harvest/session"
)

// ErrPermissionDenied classifies a 403: the account lacks authorization
// scope for the resource. The browser tier cannot fix that, so no fallback
// is attempted and bulk callers should skip the item.
var ErrPermissionDenied = errors.New("permission denied by portal")

// UnexpectedStatusError classifies any terminal non-2xx, non-401 status.
type UnexpectedStatusError struct {
	Status int
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from portal", e.Status)
}

// DispatchError wraps the failure of the last attempted tier.
type DispatchError struct {
	Service string
	URL     string
	Err     error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch failed for %s (%s): %v", e.Service, e.URL, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// Param is one ordered key/value pair. Order is preserved through encoding
// because some portal endpoints are sensitive to it.
type Param struct {
	Key   string
	Value string
}

// Params is an ordered parameter list.
type Params []Param

// Encode url-encodes the list preserving insertion order.
func (p Params) Encode() string {
	var b strings.Builder
	for i, kv := range p {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(kv.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(kv.Value))
	}
	return b.String()
}

// Has reports whether a key is present.
func (p Params) Has(key string) bool {
	for _, kv := range p {
		if kv.Key == key {
			return true
		}
	}
	return false
}

// RequestDescriptor is one logical call to a portal endpoint.
// Service + URL + Method uniquely identify it for dedup purposes.
type RequestDescriptor struct {
	// URL is the absolute endpoint URL without query parameters.
	URL string
	// Method is GET or POST.
	Method string
	// Params become the query string for GET and the form body for POST.
	Params Params
	// Service is the logical grouping and dedup label.
	Service string
	// Referer is the auth context page some endpoints require. The
	// browser tier navigates here before replaying the request.
	Referer string
}

// RawResponse is the terminal outcome of a dispatched request.
type RawResponse struct {
	Status int
	Body   string
	// Headers are the response headers.
	Headers map[string]string
	// RequestHeaders is the header set actually sent, recorded for the
	// staging layer.
	RequestHeaders map[string]string
}

// Dispatcher runs the two-tier state machine. One Dispatcher serves one
// Session; browser fallbacks are serialized because page navigation is
// single-threaded per handle, while HTTP attempts may run concurrently.
type Dispatcher struct {
	headers *headers.Builder
	limiter *rate.Limiter
	logger  *zap.Logger

	// fallbackMu serializes browser-executed requests; page navigation is
	// single-threaded per automation handle.
	fallbackMu sync.Mutex
	fallback   fallbackFunc
}

type fallbackFunc func(ctx context.Context, sess *session.Session, desc RequestDescriptor) (*RawResponse, error)

// New creates a Dispatcher for the configured portal origin.
func New(cfg *config.Config, logger *zap.Logger) *Dispatcher {
	limit := rate.Inf
	if cfg.Harvest.RateLimit > 0 {
		limit = rate.Limit(cfg.Harvest.RateLimit)
	}

	d := &Dispatcher{
		headers: headers.NewBuilder(cfg.Auth.BaseURL),
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.Named("dispatcher"),
	}
	d.fallback = d.dispatchViaBrowser
	return d
}

// Dispatch resolves one descriptor to a terminal RawResponse. 2xx on the
// HTTP tier is success; 401 escalates to the browser tier exactly once; 403
// and all other statuses are terminal failures.
func (d *Dispatcher) Dispatch(ctx context.Context, sess *session.Session, desc RequestDescriptor) (*RawResponse, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, &DispatchError{Service: desc.Service, URL: desc.URL, Err: err}
	}

	resp, err := d.dispatchHTTP(ctx, sess, desc)
	if err != nil {
		return nil, &DispatchError{Service: desc.Service, URL: desc.URL, Err: err}
	}

	switch {
	case resp.Status >= 200 && resp.Status < 300:
		return resp, nil

	case resp.Status == 401:
		d.logger.Debug("HTTP tier rejected with 401, falling back to browser.",
			zap.String("service", desc.Service), zap.String("url", desc.URL))
		out, fbErr := d.fallback(ctx, sess, desc)
		if fbErr != nil {
			return nil, &DispatchError{Service: desc.Service, URL: desc.URL, Err: fbErr}
		}
		return out, nil

	case resp.Status == 403:
		return nil, &DispatchError{Service: desc.Service, URL: desc.URL, Err: ErrPermissionDenied}

	default:
		return nil, &DispatchError{Service: desc.Service, URL: desc.URL, Err: &UnexpectedStatusError{Status: resp.Status}}
	}
}

// dispatchHTTP sends the request through the session's headless client.
// Headers are built here, immediately before the send, so the timestamp
// field reflects wall-clock time at dispatch.
func (d *Dispatcher) dispatchHTTP(ctx context.Context, sess *session.Session, desc RequestDescriptor) (*RawResponse, error) {
	overrides := map[string]string{
		"x-requested-with": "XMLHttpRequest",
	}
	if desc.Method == "POST" {
		overrides["content-type"] = "application/x-www-form-urlencoded; charset=UTF-8"
	}
	headerSet := d.headers.Build(headers.Context{
		Referer:   desc.Referer,
		Overrides: overrides,
	})

	req := sess.HTTP().R().SetContext(ctx).SetHeaders(headerSet)

	var res *resty.Response
	var err error
	if desc.Method == "POST" {
		params := desc.Params
		// Double-submit: the form half of the token pair rides in the body
		// under the unsuffixed field name. Endpoints that do not require it
		// ignore the extra field.
		if !params.Has(session.ForgeryFieldName) {
			if pair := sess.ForgeryToken(); pair.Valid() {
				params = append(params, Param{Key: session.ForgeryFieldName, Value: pair.FormValue})
			}
		}
		res, err = req.SetBody(params.Encode()).Post(desc.URL)
	} else {
		target := desc.URL
		if encoded := desc.Params.Encode(); encoded != "" {
			target = desc.URL + "?" + encoded
		}
		res, err = req.Get(target)
	}
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}

	return &RawResponse{
		Status:         res.StatusCode(),
		Body:           UnwrapPreformatted(res.String()),
		Headers:        flattenHeader(res.Header()),
		RequestHeaders: headerSet,
	}, nil
}

// flattenHeader keeps the first value per key, which is all the raw staging
// layer records.
func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for key, values := range h {
		if len(values) > 0 {
			out[key] = values[0]
		}
	}
	return out
}
