package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCache is a minimal in-memory stand-in for repository.CacheRepository,
// enough to exercise Tracker's upsert/list/remove logic without Redis.
type fakeCache struct {
	mu       sync.Mutex
	values   map[string][]byte
	expiry   map[string]time.Time
	presence map[string]map[string]time.Time // documentID -> userID -> heartbeat
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		values:   make(map[string][]byte),
		expiry:   make(map[string]time.Time),
		presence: make(map[string]map[string]time.Time),
	}
}

func (f *fakeCache) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return true, nil
}
func (f *fakeCache) ReleaseLock(ctx context.Context, key string) error { return nil }
func (f *fakeCache) IsLocked(ctx context.Context, key string) (bool, error) {
	return false, nil
}

func (f *fakeCache) SetCache(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = data
	f.expiry[key] = time.Now().Add(ttl)
	return nil
}

func (f *fakeCache) GetCache(ctx context.Context, key string, value interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	exp, ok := f.expiry[key]
	if !ok || time.Now().After(exp) {
		return fmt.Errorf("cache miss: key not found")
	}
	return json.Unmarshal(f.values[key], value)
}

func (f *fakeCache) DeleteCache(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.values, key)
	delete(f.expiry, key)
	return nil
}

func (f *fakeCache) Publish(ctx context.Context, channel string, message interface{}) error {
	return nil
}
func (f *fakeCache) Subscribe(ctx context.Context, channel string) (<-chan interface{}, error) {
	ch := make(chan interface{})
	close(ch)
	return ch, nil
}

func (f *fakeCache) Increment(ctx context.Context, key string) (int64, error) { return 1, nil }
func (f *fakeCache) Decrement(ctx context.Context, key string) (int64, error) { return 0, nil }

func (f *fakeCache) UpsertPresence(ctx context.Context, documentID, userID string, heartbeat time.Time, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.presence[documentID]
	if !ok {
		set = make(map[string]time.Time)
		f.presence[documentID] = set
	}
	set[userID] = heartbeat
	return nil
}

func (f *fakeCache) ListPresence(ctx context.Context, documentID string, staleBefore time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.presence[documentID]
	if !ok {
		return nil, nil
	}
	var users []string
	for userID, heartbeat := range set {
		if heartbeat.Before(staleBefore) {
			delete(set, userID)
			continue
		}
		users = append(users, userID)
	}
	return users, nil
}

func (f *fakeCache) RemovePresence(ctx context.Context, documentID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if set, ok := f.presence[documentID]; ok {
		delete(set, userID)
	}
	return nil
}

func TestTracker_UpsertThenList(t *testing.T) {
	cache := newFakeCache()
	tracker := New(cache)
	ctx := context.Background()

	err := tracker.Upsert(ctx, "doc-1", "user-a", UpsertInput{Name: "Alice", Color: "#fff", Cursor: 5})
	require.NoError(t, err)

	records, err := tracker.List(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "user-a", records[0].UserID)
	assert.Equal(t, "Alice", records[0].Name)
	assert.Equal(t, 5, records[0].Cursor)
}

func TestTracker_UpsertIsIdempotent(t *testing.T) {
	cache := newFakeCache()
	tracker := New(cache)
	ctx := context.Background()

	in := UpsertInput{Name: "Bob", Cursor: 1}
	require.NoError(t, tracker.Upsert(ctx, "doc-1", "user-b", in))
	require.NoError(t, tracker.Upsert(ctx, "doc-1", "user-b", in))

	records, err := tracker.List(ctx, "doc-1")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestTracker_ListOmitsStaleIndexEntries(t *testing.T) {
	cache := newFakeCache()
	tracker := New(cache)
	ctx := context.Background()

	require.NoError(t, tracker.Upsert(ctx, "doc-1", "user-x", UpsertInput{Cursor: 0}))

	cache.mu.Lock()
	cache.presence["doc-1"]["user-x"] = time.Now().Add(-40 * time.Second)
	cache.mu.Unlock()

	records, err := tracker.List(ctx, "doc-1")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestTracker_ListOmitsExpiredRecordAndCleansIndex(t *testing.T) {
	cache := newFakeCache()
	tracker := New(cache)
	ctx := context.Background()

	require.NoError(t, tracker.Upsert(ctx, "doc-1", "user-y", UpsertInput{Cursor: 0}))

	// Simulate the record TTL (30s) expiring while the sorted-set
	// membership (5min TTL) has not, the scenario List's cache-miss
	// branch exists for.
	cache.mu.Lock()
	cache.expiry[recordKey("doc-1", "user-y")] = time.Now().Add(-time.Second)
	cache.mu.Unlock()

	records, err := tracker.List(ctx, "doc-1")
	require.NoError(t, err)
	assert.Empty(t, records)

	_, stillPresent := cache.presence["doc-1"]["user-y"]
	assert.False(t, stillPresent, "stale record should have been cleaned from the index")
}

func TestTracker_Remove(t *testing.T) {
	cache := newFakeCache()
	tracker := New(cache)
	ctx := context.Background()

	require.NoError(t, tracker.Upsert(ctx, "doc-1", "user-z", UpsertInput{Cursor: 0}))
	require.NoError(t, tracker.Remove(ctx, "doc-1", "user-z"))

	records, err := tracker.List(ctx, "doc-1")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestTracker_ListUnknownDocumentIsEmpty(t *testing.T) {
	cache := newFakeCache()
	tracker := New(cache)

	records, err := tracker.List(context.Background(), "no-such-doc")
	require.NoError(t, err)
	assert.Empty(t, records)
}
