// File: internal/storage/factory.go
package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jgiquality/qualer-harvester/internal/config"
)

// Open constructs the configured backend. The orchestrator owns the
// returned adapter and closes it on teardown.
func Open(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (Adapter, error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		return OpenPostgresStorage(ctx, cfg.DatabaseURL, logger)
	case config.BackendGORM:
		return OpenGORMStorage(cfg.DatabaseURL, logger)
	case config.BackendCSV:
		return NewCSVStorage(cfg.CSVDir, logger)
	case config.BackendNone:
		return NopStorage{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrStorage, cfg.Backend)
	}
}

// NopStorage discards responses. Used for ad-hoc fetches where the caller
// only wants the body on stdout.
type NopStorage struct{}

// StoreResponse implements Adapter.
func (NopStorage) StoreResponse(ctx context.Context, rec Record) error { return nil }

// Close implements Adapter.
func (NopStorage) Close(ctx context.Context) error { return nil }
