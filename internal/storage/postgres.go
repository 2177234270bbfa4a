// File: internal/storage/postgres.go
package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DBPool abstracts pgxpool.Pool so the backend can be exercised against
// pgxmock in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

const createDatadumpSQL = `
	CREATE TABLE IF NOT EXISTS datadump (
		id SERIAL PRIMARY KEY,
		url TEXT NOT NULL,
		service TEXT NOT NULL,
		method TEXT NOT NULL,
		request_header JSONB,
		response_body TEXT,
		response_header JSONB,
		parsed BOOLEAN DEFAULT FALSE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(url, service, method)
	);
`

const insertResponseSQL = `
	INSERT INTO datadump (url, service, method, request_header, response_body, response_header)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (url, service, method) DO NOTHING;
`

// PostgresStorage is the durable relational backend. The table's unique
// constraint plus ON CONFLICT DO NOTHING make writes idempotent under any
// number of concurrent writers; the database's own isolation is the
// concurrency guarantee.
type PostgresStorage struct {
	pool DBPool
	log  *zap.Logger
}

// NewPostgresStorage verifies connectivity and ensures the staging schema
// exists.
func NewPostgresStorage(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresStorage, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: failed to ping database: %v", ErrStorage, err)
	}

	if _, err := pool.Exec(ctx, createDatadumpSQL); err != nil {
		return nil, fmt.Errorf("%w: failed to ensure datadump schema: %v", ErrStorage, err)
	}

	return &PostgresStorage{
		pool: pool,
		log:  logger.Named("storage.postgres"),
	}, nil
}

// OpenPostgresStorage dials a pool from a connection string and wraps it.
func OpenPostgresStorage(ctx context.Context, databaseURL string, logger *zap.Logger) (*PostgresStorage, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create connection pool: %v", ErrStorage, err)
	}

	store, err := NewPostgresStorage(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// StoreResponse implements Adapter. Header maps are stored as JSONB so they
// stay queryable.
func (p *PostgresStorage) StoreResponse(ctx context.Context, rec Record) error {
	reqHeaders, err := marshalHeaders(rec.RequestHeaders)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal request headers: %v", ErrStorage, err)
	}
	resHeaders, err := marshalHeaders(rec.ResponseHeaders)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal response headers: %v", ErrStorage, err)
	}

	tag, err := p.pool.Exec(ctx, insertResponseSQL,
		rec.URL, rec.Service, rec.Method, reqHeaders, rec.ResponseBody, resHeaders)
	if err != nil {
		return fmt.Errorf("%w: failed to store response for %s %s: %v", ErrStorage, rec.Method, rec.URL, err)
	}

	if tag.RowsAffected() == 0 {
		p.log.Debug("Response already stored, insert skipped.",
			zap.String("service", rec.Service),
			zap.String("url", rec.URL),
			zap.String("method", rec.Method))
	}
	return nil
}

// Close implements Adapter.
func (p *PostgresStorage) Close(ctx context.Context) error {
	p.pool.Close()
	return nil
}

func marshalHeaders(h map[string]string) ([]byte, error) {
	if h == nil {
		return nil, nil
	}
	return json.Marshal(h)
}
