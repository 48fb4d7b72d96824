// Package presence implements the Presence Tracker: a soft-state registry
// of which users occupy which document, with cursor/selection broadcast
// data and TTL-based eviction, per spec.md §4.3.
package presence

import (
	"context"
	"fmt"
	"time"

	"code.example.org/collabdoc/db/repository"
)

// TTL is how long a presence record is considered fresh after a heartbeat.
const TTL = 30 * time.Second

// setTTL bounds how long an idle document's presence set lingers in Redis
// once nobody has heartbeated recently, a backstop against unbounded growth.
const setTTL = 5 * time.Minute

// Selection is a text cursor's optional range anchor.
type Selection struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Record is one user's presence in a document, returned by List.
type Record struct {
	UserID    string     `json:"userId"`
	Name      string     `json:"name,omitempty"`
	Color     string     `json:"color,omitempty"`
	Cursor    int        `json:"cursor"`
	Selection *Selection `json:"selection,omitempty"`
	LastSeen  time.Time  `json:"lastSeen"`
}

// UpsertInput is the caller-supplied portion of a heartbeat.
type UpsertInput struct {
	Name      string     `json:"name,omitempty"`
	Color     string     `json:"color,omitempty"`
	Cursor    int        `json:"cursor"`
	Selection *Selection `json:"selection,omitempty"`
}

// Tracker implements the upsert/list operations of spec.md §4.3 on top of
// the Cache Repository's sorted-set presence index and generic key/value
// cache.
type Tracker struct {
	cache repository.CacheRepository
}

// New builds a Tracker backed by cache.
func New(cache repository.CacheRepository) *Tracker {
	return &Tracker{cache: cache}
}

func recordKey(documentID, userID string) string {
	return "presence-record:" + documentID + ":" + userID
}

// Upsert writes a user's heartbeat. It is idempotent: repeating the same
// input only refreshes lastSeen.
func (t *Tracker) Upsert(ctx context.Context, documentID, userID string, in UpsertInput) error {
	now := time.Now()
	record := Record{
		UserID:    userID,
		Name:      in.Name,
		Color:     in.Color,
		Cursor:    in.Cursor,
		Selection: in.Selection,
		LastSeen:  now,
	}

	if err := t.cache.SetCache(ctx, recordKey(documentID, userID), record, TTL); err != nil {
		return fmt.Errorf("presence: store record for %s/%s: %w", documentID, userID, err)
	}

	if err := t.cache.UpsertPresence(ctx, documentID, userID, now, setTTL); err != nil {
		return fmt.Errorf("presence: index %s/%s: %w", documentID, userID, err)
	}

	return nil
}

// List returns every user whose presence in documentID has not gone stale.
// Membership is pruned by score range first (ListPresence's contract);
// members whose full record already expired from cache (a heartbeat that
// stopped exactly at the TTL boundary) are silently dropped and their
// membership is cleaned up, rather than surfaced as a zero-value record.
func (t *Tracker) List(ctx context.Context, documentID string) ([]Record, error) {
	staleBefore := time.Now().Add(-TTL)

	userIDs, err := t.cache.ListPresence(ctx, documentID, staleBefore)
	if err != nil {
		return nil, fmt.Errorf("presence: list index for %s: %w", documentID, err)
	}

	records := make([]Record, 0, len(userIDs))
	for _, userID := range userIDs {
		var record Record
		if err := t.cache.GetCache(ctx, recordKey(documentID, userID), &record); err != nil {
			_ = t.cache.RemovePresence(ctx, documentID, userID)
			continue
		}
		records = append(records, record)
	}

	return records, nil
}

// Remove drops a user's presence immediately, used on an explicit
// disconnect rather than waiting out the TTL.
func (t *Tracker) Remove(ctx context.Context, documentID, userID string) error {
	_ = t.cache.DeleteCache(ctx, recordKey(documentID, userID))
	return t.cache.RemovePresence(ctx, documentID, userID)
}
