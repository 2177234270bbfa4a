// Package orchestrator composes the pipeline: authenticate once, dispatch
// many requests, persist every response. A Harvester is a scoped resource —
// New acquires the browser session and the storage backend, Close releases
// them on every exit path.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jgiquality/qualer-harvester/internal/config"
	"github.com/jgiquality/qualer-harvester/internal/harvest/dispatch"
	"github.com/jgiquality/qualer-harvester/internal/harvest/session"
	"github.com/jgiquality/qualer-harvester/internal/storage"
)

// dispatcher is the per-request capability the Harvester drives.
type dispatcher interface {
	Dispatch(ctx context.Context, sess *session.Session, desc dispatch.RequestDescriptor) (*dispatch.RawResponse, error)
}

// Harvester owns one Session exclusively for its lifetime. The repeated-login
// anti-pattern is exactly what this type exists to avoid: one login, many
// fetches.
type Harvester struct {
	cfg    *config.Config
	logger *zap.Logger

	sess       *session.Session
	dispatcher dispatcher
	store      storage.Adapter

	closeOnce sync.Once
	closeErr  error
}

// New authenticates and opens the configured storage backend. On any
// acquisition failure, partially acquired resources are released before the
// error returns.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Harvester, error) {
	log := logger.Named("orchestrator")

	store, err := storage.Open(ctx, cfg.Storage, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage backend: %w", err)
	}

	sess, err := session.NewAuthenticator(cfg, log).Login(ctx)
	if err != nil {
		if closeErr := store.Close(ctx); closeErr != nil {
			log.Warn("Failed to close storage after login failure.", zap.Error(closeErr))
		}
		return nil, err
	}

	return &Harvester{
		cfg:        cfg,
		logger:     log,
		sess:       sess,
		dispatcher: dispatch.New(cfg, log),
		store:      store,
	}, nil
}

// NewWithComponents wires pre-built collaborators. Test seam.
func NewWithComponents(cfg *config.Config, logger *zap.Logger, sess *session.Session, d dispatcher, store storage.Adapter) *Harvester {
	return &Harvester{
		cfg:        cfg,
		logger:     logger.Named("orchestrator"),
		sess:       sess,
		dispatcher: d,
		store:      store,
	}
}

// Session exposes the authenticated session for callers that need direct
// access (for example, scripts reusing the HTTP client).
func (h *Harvester) Session() *session.Session {
	return h.sess
}

// FetchAndStore dispatches one descriptor and persists the outcome under the
// descriptor's service label. The response is returned to the caller whether
// or not persistence is wanted downstream; a storage failure propagates,
// because a fetched-but-unrecorded response defeats the pipeline's purpose.
func (h *Harvester) FetchAndStore(ctx context.Context, desc dispatch.RequestDescriptor) (*dispatch.RawResponse, error) {
	resp, err := h.dispatcher.Dispatch(ctx, h.sess, desc)
	if err != nil {
		return nil, err
	}

	rec := storage.Record{
		URL:             desc.URL,
		Service:         desc.Service,
		Method:          desc.Method,
		RequestHeaders:  resp.RequestHeaders,
		ResponseBody:    resp.Body,
		ResponseHeaders: resp.Headers,
	}
	if err := h.store.StoreResponse(ctx, rec); err != nil {
		return nil, err
	}

	return resp, nil
}

// Summary reports the outcome of a bulk run.
type Summary struct {
	Stored  int
	Skipped int
	Failed  int
	// Failures keeps the hard errors for reporting; permission-denied skips
	// are counted, not collected.
	Failures []error
}

// Run fetches and stores every descriptor. Per-item failures never abort
// the loop: 403s are skips (authorization scope, not a defect), everything
// else is a hard failure carried into the summary.
func (h *Harvester) Run(ctx context.Context, descs []dispatch.RequestDescriptor) Summary {
	var sum Summary
	for _, desc := range descs {
		if ctx.Err() != nil {
			sum.Failed++
			sum.Failures = append(sum.Failures, fmt.Errorf("bulk run cancelled: %w", ctx.Err()))
			break
		}

		_, err := h.FetchAndStore(ctx, desc)
		switch {
		case err == nil:
			sum.Stored++
		case errors.Is(err, dispatch.ErrPermissionDenied):
			sum.Skipped++
			h.logger.Info("Skipping item: permission denied.",
				zap.String("service", desc.Service), zap.String("url", desc.URL))
		default:
			sum.Failed++
			sum.Failures = append(sum.Failures, err)
			h.logger.Error("Item failed.",
				zap.String("service", desc.Service), zap.String("url", desc.URL), zap.Error(err))
		}
	}

	h.logger.Info("Bulk run complete.",
		zap.Int("stored", sum.Stored),
		zap.Int("skipped", sum.Skipped),
		zap.Int("failed", sum.Failed))
	return sum
}

// Close releases the browser session, then the storage backend, in that
// order, on every exit path. Teardown errors are logged and reported once;
// a failing step never prevents the next one from running. Safe to call
// more than once.
func (h *Harvester) Close(ctx context.Context) error {
	h.closeOnce.Do(func() {
		// Teardown must proceed even when the caller's context is already
		// cancelled.
		teardownCtx := ctx
		if teardownCtx.Err() != nil {
			var cancel context.CancelFunc
			teardownCtx, cancel = context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
		}

		if h.sess != nil {
			if err := h.sess.Close(teardownCtx); err != nil {
				h.logger.Warn("Failed to release browser session.", zap.Error(err))
				h.closeErr = err
			}
		}
		if h.store != nil {
			if err := h.store.Close(teardownCtx); err != nil {
				h.logger.Warn("Failed to close storage backend.", zap.Error(err))
				if h.closeErr == nil {
					h.closeErr = err
				}
			}
		}
	})
	return h.closeErr
}
