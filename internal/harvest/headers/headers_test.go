package headers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseURL = "https://jgiquality.qualer.com"

func TestBuildContainsEveryFingerprintField(t *testing.T) {
	b := NewBuilder(baseURL)
	h := b.Build(Context{})

	for _, key := range FingerprintKeys {
		assert.Contains(t, h, key, "fingerprint field %q must be present", key)
		assert.NotEmpty(t, h[key], "fingerprint field %q must not be empty", key)
	}
	assert.Contains(t, h, TimestampHeader)
}

func TestBuildTimestampIsFresh(t *testing.T) {
	b := NewBuilder(baseURL)

	before := time.Now().UTC().Truncate(time.Second)
	h := b.Build(Context{})
	after := time.Now().UTC()

	ts, err := time.Parse(TimestampLayout, h[TimestampHeader])
	require.NoError(t, err)
	assert.False(t, ts.Before(before), "timestamp %v predates build at %v", ts, before)
	assert.False(t, ts.After(after.Add(time.Second)), "timestamp %v postdates build at %v", ts, after)
}

func TestBuildTimestampRegeneratedPerCall(t *testing.T) {
	b := NewBuilder(baseURL)

	current := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	b.now = func() time.Time { return current }

	first := b.Build(Context{})
	current = current.Add(17 * time.Second)
	second := b.Build(Context{})

	assert.Equal(t, "2026-03-14T09:26:53", first[TimestampHeader])
	assert.Equal(t, "2026-03-14T09:27:10", second[TimestampHeader])
}

func TestBuildRefererHandling(t *testing.T) {
	b := NewBuilder(baseURL)

	t.Run("defaults to base url", func(t *testing.T) {
		h := b.Build(Context{})
		assert.Equal(t, baseURL+"/", h["referer"])
	})

	t.Run("uses the request's auth context page", func(t *testing.T) {
		h := b.Build(Context{Referer: baseURL + "/clients"})
		assert.Equal(t, baseURL+"/clients", h["referer"])
	})
}

func TestBuildOverridesMergeNotReplace(t *testing.T) {
	b := NewBuilder(baseURL)

	h := b.Build(Context{Overrides: map[string]string{
		"content_type":     "application/x-www-form-urlencoded; charset=UTF-8",
		"x_requested_with": "XMLHttpRequest",
		"accept":           "application/json",
	}})

	// Underscore keys are normalized to hyphens.
	assert.Equal(t, "application/x-www-form-urlencoded; charset=UTF-8", h["content-type"])
	assert.Equal(t, "XMLHttpRequest", h["x-requested-with"])

	// An override may replace an individual template value...
	assert.Equal(t, "application/json", h["accept"])

	// ...but never drops the rest of the template.
	for _, key := range FingerprintKeys {
		assert.Contains(t, h, key)
	}
}

func TestBuildOriginMatchesBase(t *testing.T) {
	b := NewBuilder(baseURL + "/")
	h := b.Build(Context{})
	assert.Equal(t, baseURL, h["origin"], "trailing slash on the base url must not leak into origin")
}
