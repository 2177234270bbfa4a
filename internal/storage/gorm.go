// File: internal/storage/gorm.go
package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// ResponseRecord is the typed entity over the same datadump table the
// relational backend writes. Behaviourally equivalent for this layer's
// purposes; exists for callers that want model-level querying of the staging
// data.
type ResponseRecord struct {
	ID             uint              `gorm:"primaryKey"`
	URL            string            `gorm:"column:url;not null;uniqueIndex:uq_datadump_request,priority:1"`
	Service        string            `gorm:"column:service;not null;uniqueIndex:uq_datadump_request,priority:2"`
	Method         string            `gorm:"column:method;not null;uniqueIndex:uq_datadump_request,priority:3"`
	RequestHeader  datatypes.JSONMap `gorm:"column:request_header"`
	ResponseBody   string            `gorm:"column:response_body;type:text"`
	ResponseHeader datatypes.JSONMap `gorm:"column:response_header"`
	Parsed         bool              `gorm:"column:parsed;default:false"`
	CreatedAt      time.Time         `gorm:"column:created_at;autoCreateTime"`
}

// TableName keeps the ORM on the shared staging table.
func (ResponseRecord) TableName() string {
	return "datadump"
}

// datadumpConflict mirrors the relational backend's policy: conflicting
// keys are a no-op, the first stored body wins.
var datadumpConflict = clause.OnConflict{
	Columns:   []clause.Column{{Name: "url"}, {Name: "service"}, {Name: "method"}},
	DoNothing: true,
}

// GORMStorage persists through typed entities. Same idempotency policy as
// the relational backend: conflicting keys are a no-op.
type GORMStorage struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewGORMStorage wraps an existing gorm handle and migrates the model.
func NewGORMStorage(db *gorm.DB, logger *zap.Logger) (*GORMStorage, error) {
	if err := db.AutoMigrate(&ResponseRecord{}); err != nil {
		return nil, fmt.Errorf("%w: failed to migrate datadump model: %v", ErrStorage, err)
	}
	return &GORMStorage{
		db:  db,
		log: logger.Named("storage.gorm"),
	}, nil
}

// OpenGORMStorage dials postgres through gorm and wraps the handle.
func OpenGORMStorage(databaseURL string, logger *zap.Logger) (*GORMStorage, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open gorm connection: %v", ErrStorage, err)
	}
	return NewGORMStorage(db, logger)
}

// StoreResponse implements Adapter.
func (g *GORMStorage) StoreResponse(ctx context.Context, rec Record) error {
	entity := ResponseRecord{
		URL:            rec.URL,
		Service:        rec.Service,
		Method:         rec.Method,
		RequestHeader:  toJSONMap(rec.RequestHeaders),
		ResponseBody:   rec.ResponseBody,
		ResponseHeader: toJSONMap(rec.ResponseHeaders),
		Parsed:         false,
	}

	err := g.db.WithContext(ctx).
		Clauses(datadumpConflict).
		Create(&entity).Error
	if err != nil {
		return fmt.Errorf("%w: failed to store response for %s %s: %v", ErrStorage, rec.Method, rec.URL, err)
	}
	return nil
}

// Close implements Adapter.
func (g *GORMStorage) Close(ctx context.Context) error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return fmt.Errorf("%w: failed to access underlying connection: %v", ErrStorage, err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("%w: failed to close connection: %v", ErrStorage, err)
	}
	return nil
}

func toJSONMap(h map[string]string) datatypes.JSONMap {
	if h == nil {
		return nil
	}
	m := make(datatypes.JSONMap, len(h))
	for k, v := range h {
		m[k] = v
	}
	return m
}
