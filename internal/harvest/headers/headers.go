// Package headers builds the browser-fingerprint header set that makes a
// plain HTTP request indistinguishable from one issued by the reference
// Chrome build. The template was calibrated against a HAR capture of a
// known-good Clients_Read POST; the portal rejects requests missing any of
// these fields with an authorization error, so overrides merge into the
// template instead of replacing it.
package headers

import (
	"strings"
	"time"
)

// TimestampHeader carries the request wall-clock time the portal checks for
// recency. It is regenerated on every Build call, never cached.
const TimestampHeader = "clientrequesttime"

// TimestampLayout is UTC with second precision, no zone suffix.
const TimestampLayout = "2006-01-02T15:04:05"

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// FingerprintKeys is the full set of fixed fingerprint fields. Tests assert
// that every produced HeaderSet contains each of these.
var FingerprintKeys = []string{
	"accept",
	"accept-encoding",
	"accept-language",
	"cache-control",
	"origin",
	"pragma",
	"priority",
	"referer",
	"sec-ch-ua",
	"sec-ch-ua-mobile",
	"sec-ch-ua-platform",
	"sec-fetch-dest",
	"sec-fetch-mode",
	"sec-fetch-site",
	"user-agent",
}

// Context carries the per-request inputs to Build.
type Context struct {
	// Referer is the auth context page for the request. Empty falls back to
	// the builder's base URL.
	Referer string
	// Overrides are applied last and merge into the template. Keys may use
	// underscores in place of hyphens (content_type -> content-type).
	Overrides map[string]string
}

// Builder produces HeaderSets for one portal origin. It is a pure function
// of current time and context; safe for concurrent use.
type Builder struct {
	baseURL string
	now     func() time.Time
}

// NewBuilder creates a Builder for the given portal origin.
func NewBuilder(baseURL string) *Builder {
	return &Builder{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		now:     time.Now,
	}
}

// Build assembles the full header set. The timestamp field reflects the
// wall clock at this call, so callers must build immediately before sending.
func (b *Builder) Build(reqCtx Context) map[string]string {
	referer := reqCtx.Referer
	if referer == "" {
		referer = b.baseURL + "/"
	}

	h := map[string]string{
		"accept":             "*/*",
		"accept-encoding":    "gzip, deflate, br, zstd",
		"accept-language":    "en-US,en;q=0.9",
		"cache-control":      "no-cache, must-revalidate",
		TimestampHeader:      b.now().UTC().Format(TimestampLayout),
		"origin":             b.baseURL,
		"pragma":             "no-cache",
		"priority":           "u=1, i",
		"referer":            referer,
		"sec-ch-ua":          `"Google Chrome";v="120", "Chromium";v="120", "Not A(Brand";v="24"`,
		"sec-ch-ua-mobile":   "?0",
		"sec-ch-ua-platform": `"Windows"`,
		"sec-fetch-dest":     "empty",
		"sec-fetch-mode":     "cors",
		"sec-fetch-site":     "same-origin",
		"user-agent":         userAgent,
	}

	// Overrides merge in last; the template fields they do not name stay.
	for key, value := range reqCtx.Overrides {
		h[strings.ReplaceAll(key, "_", "-")] = value
	}

	return h
}
