// Package db provides the Relational Store: durable Document state and the
// OperationalTransform log backing the Reconciliation Engine's commit path.
//
// Two drivers are used deliberately for two different access patterns:
//   - gorm.io/gorm for the Document row, where optimistic-locking semantics
//     and struct-level model definitions carry their weight.
//   - jackc/pgx (see postgres_pgx.go) for the OperationalTransform table,
//     where batch inserts benefit from raw SQL and a pooled connection.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// ErrVersionConflict is returned by CommitDocument when the caller's
// expected version no longer matches the stored row, i.e. another writer
// committed first.
var ErrVersionConflict = errors.New("document version conflict")

// ErrDocumentNotFound is returned when a Document row does not exist.
var ErrDocumentNotFound = errors.New("document not found")

// Document is the durable record of a collaboratively edited document's
// current state. Version and LastAppliedOffset move together on every
// commit so the Reconciler can detect re-delivered Shared Log messages
// without a separate table.
type Document struct {
	ID                string `gorm:"primaryKey;column:id"`
	Version           int64  `gorm:"column:version;not null"`
	Content           string `gorm:"column:content;type:text;not null"`
	LastAppliedOffset string `gorm:"column:last_applied_offset"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (Document) TableName() string {
	return "documents"
}

// RelationalStore wraps a GORM connection to the Document table.
type RelationalStore struct {
	db *gorm.DB
}

// NewRelationalStore opens a PostgreSQL connection and configures pooling
// limits suitable for a single service instance.
func NewRelationalStore(dsn string) (*RelationalStore, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &RelationalStore{db: gdb}, nil
}

// Migrate creates or updates the documents table.
func (s *RelationalStore) Migrate() error {
	if err := s.db.AutoMigrate(&Document{}); err != nil {
		return fmt.Errorf("migrate documents: %w", err)
	}
	return nil
}

// GetDocument loads a document by ID.
func (s *RelationalStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	var doc Document
	err := s.db.WithContext(ctx).First(&doc, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}
	return &doc, nil
}

// CreateDocument inserts a brand-new document row at version 0.
func (s *RelationalStore) CreateDocument(ctx context.Context, id, content string) (*Document, error) {
	doc := &Document{
		ID:      id,
		Version: 0,
		Content: content,
	}
	if err := s.db.WithContext(ctx).Create(doc).Error; err != nil {
		return nil, fmt.Errorf("create document %s: %w", id, err)
	}
	return doc, nil
}

// CommitDocument persists a new content/version pair, refusing to overwrite
// a row whose version is no longer expectedVersion. It also records the
// Shared Log offset the new content was derived from, so a re-delivered
// message can be recognized on buffer hydration.
//
// Returns ErrVersionConflict if the row's version differs from
// expectedVersion, and ErrDocumentNotFound if the row does not exist.
func (s *RelationalStore) CommitDocument(ctx context.Context, id string, expectedVersion, newVersion int64, content, appliedOffset string) error {
	result := s.db.WithContext(ctx).
		Model(&Document{}).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(map[string]interface{}{
			"version":             newVersion,
			"content":             content,
			"last_applied_offset": appliedOffset,
			"updated_at":          time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("commit document %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		// Either the row doesn't exist, or it moved on; distinguish the two.
		if _, err := s.GetDocument(ctx, id); err != nil {
			return err
		}
		return ErrVersionConflict
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *RelationalStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
