// Package repository abstracts the two storage backends the Reconciliation
// Engine and Presence Tracker depend on: a durable relational store for
// Document state, and an ephemeral cache store for locks, presence, and
// pub/sub fan-out.
package repository

import (
	"context"
	"time"
)

// DocumentRepository manages durable Document state in PostgreSQL.
//
// Concurrency:
//   - CommitDocument is an optimistic compare-and-swap keyed on version;
//     callers must retry or DLQ on ErrVersionConflict, never blind-retry
//     with the same newVersion.
type DocumentRepository interface {
	GetDocument(ctx context.Context, id string) (*DocumentRecord, error)
	CreateDocument(ctx context.Context, id, content string) (*DocumentRecord, error)
	CommitDocument(ctx context.Context, id string, expectedVersion, newVersion int64, content, appliedOffset string) error
}

// CacheRepository manages ephemeral data in Redis: distributed locks,
// generic caching, pub/sub fan-out, counters, and the sorted-set presence
// index used by the Presence Tracker.
//
// Consistency:
//   - Eventually consistent, no durability guarantees, fast failover.
type CacheRepository interface {
	// Distributed locking
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
	IsLocked(ctx context.Context, key string) (bool, error)

	// Caching
	SetCache(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	GetCache(ctx context.Context, key string, value interface{}) error
	DeleteCache(ctx context.Context, key string) error

	// Pub/sub (room fan-out across Gateway instances)
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan interface{}, error)

	// Counters
	Increment(ctx context.Context, key string) (int64, error)
	Decrement(ctx context.Context, key string) (int64, error)

	// Presence index: a per-document sorted set of active userIds, scored
	// by last-heartbeat unix millis, so stale members can be trimmed by
	// score range without a per-key TTL scan.
	UpsertPresence(ctx context.Context, documentID, userID string, heartbeat time.Time, ttl time.Duration) error
	ListPresence(ctx context.Context, documentID string, staleBefore time.Time) ([]string, error)
	RemovePresence(ctx context.Context, documentID, userID string) error
}

// DocumentRecord mirrors the subset of db.Document that callers outside the
// db package need, keeping repository consumers decoupled from the GORM
// model itself.
type DocumentRecord struct {
	ID                string
	Version           int64
	Content           string
	LastAppliedOffset string
	UpdatedAt         time.Time
}
