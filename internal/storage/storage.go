// Package storage persists raw portal responses. This is the staging layer:
// bodies are stored as-is for downstream parsers, keyed by
// (url, service, method). Backends are polymorphic over the Adapter
// capability set and selected by configuration, never by global state.
package storage

import (
	"context"
	"errors"
)

// ErrStorage classifies a persistence failure. A response fetched but not
// durably recorded is a correctness problem, so write failures always
// propagate wrapped in this sentinel.
var ErrStorage = errors.New("storage failure")

// Record is one raw response keyed for idempotent persistence.
type Record struct {
	URL             string
	Service         string
	Method          string
	RequestHeaders  map[string]string
	ResponseBody    string
	ResponseHeaders map[string]string
}

// Adapter is the persistence capability consumed by the orchestrator.
//
// StoreResponse is idempotent on (url, service, method): re-storing the same
// logical request is a no-op, never a duplicate. The first stored body wins;
// later fetches of changed server data do not overwrite, because downstream
// parsers own the row's parsed flag and an overwrite would silently orphan
// their state.
type Adapter interface {
	StoreResponse(ctx context.Context, rec Record) error
	Close(ctx context.Context) error
}
