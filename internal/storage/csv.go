// File: internal/storage/csv.go
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

var csvColumns = []string{
	"timestamp",
	"url",
	"method",
	"response_body",
	"request_headers",
	"response_headers",
}

// CSVStorage appends responses to one file per service, for ad-hoc analysis
// without database overhead. Every field is fully quoted so response bodies
// cannot inject delimiters or rows.
//
// Not safe for concurrent writers into the same file. Concurrent use
// requires file-per-writer partitioning by the caller.
type CSVStorage struct {
	dir string
	log *zap.Logger

	// files holds the open append handles, one per service label.
	files map[string]*os.File
}

// NewCSVStorage creates the output directory if needed.
func NewCSVStorage(dir string, logger *zap.Logger) (*CSVStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: failed to create csv output directory: %v", ErrStorage, err)
	}
	return &CSVStorage{
		dir:   dir,
		log:   logger.Named("storage.csv"),
		files: make(map[string]*os.File),
	}, nil
}

// StoreResponse implements Adapter. Records append in arrival order; this
// backend does not dedup, the file is a raw log.
func (c *CSVStorage) StoreResponse(ctx context.Context, rec Record) error {
	f, isNew, err := c.fileFor(rec.Service)
	if err != nil {
		return err
	}

	if isNew {
		if _, err := f.WriteString(quoteRow(csvColumns)); err != nil {
			return fmt.Errorf("%w: failed to write csv header for service %s: %v", ErrStorage, rec.Service, err)
		}
	}

	reqHeaders, err := json.Marshal(rec.RequestHeaders)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal request headers: %v", ErrStorage, err)
	}
	resHeaders, err := json.Marshal(rec.ResponseHeaders)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal response headers: %v", ErrStorage, err)
	}

	row := quoteRow([]string{
		time.Now().UTC().Format(time.RFC3339),
		rec.URL,
		rec.Method,
		rec.ResponseBody,
		string(reqHeaders),
		string(resHeaders),
	})
	if _, err := f.WriteString(row); err != nil {
		return fmt.Errorf("%w: failed to append response for service %s: %v", ErrStorage, rec.Service, err)
	}
	return nil
}

// Close implements Adapter. Close failures are reported because buffered
// data may not have reached disk.
func (c *CSVStorage) Close(ctx context.Context) error {
	var firstErr error
	for service, f := range c.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: failed to close csv file for service %s: %v", ErrStorage, service, err)
		}
	}
	c.files = make(map[string]*os.File)
	return firstErr
}

func (c *CSVStorage) fileFor(service string) (*os.File, bool, error) {
	if f, ok := c.files[service]; ok {
		return f, false, nil
	}

	path := filepath.Join(c.dir, service+".csv")
	_, statErr := os.Stat(path)
	isNew := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("%w: failed to open csv file for service %s: %v", ErrStorage, service, err)
	}
	c.files[service] = f
	return f, isNew, nil
}

// quoteRow renders one CSV line with every field quoted, doubling embedded
// quotes per RFC 4180.
func quoteRow(fields []string) string {
	var b strings.Builder
	for i, field := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(field, `"`, `""`))
		b.WriteByte('"')
	}
	b.WriteByte('\n')
	return b.String()
}
