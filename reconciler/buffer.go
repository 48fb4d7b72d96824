package reconciler

import (
	"sync"
	"time"

	"code.example.org/collabdoc/ot"
)

// ringSize bounds the per-document transform history, per spec.md §3's
// "bounded ring of the last ~100 reconciled entries".
const ringSize = 100

// idleThreshold is how long a buffer may sit clean before idle eviction.
const idleThreshold = 30 * time.Minute

// opEntry is one reconciled operation kept for transforming future
// incoming edits against.
type opEntry struct {
	Operation ot.Delta
	Version   int64
	UserID    string
	Timestamp time.Time
}

// Buffer is the in-memory ReconcilerBuffer of spec.md §3: a document's
// canonical state as this Reconciler instance has applied it so far.
//
// A document's change messages all land on one Shared Log shard, and a
// shard is read by exactly one goroutine (sharedlog.Consumer.runShard), so
// Buffer's fields are naturally single-writer along the change-processing
// path. The periodic dirty-flush and idle-eviction tickers run on a
// separate goroutine, though, so mu guards the cross-goroutine access
// between processing and those scheduled sweeps.
type Buffer struct {
	mu sync.Mutex

	DocumentID string

	currentContent   string
	serverVersion    int64
	committedVersion int64
	lastOffset       string
	operations       []opEntry
	isDirty          bool
	lastModified     time.Time
}

// newBuffer seeds a buffer from a freshly loaded or newly created document
// row.
func newBuffer(documentID, content string, version int64, lastOffset string) *Buffer {
	return &Buffer{
		DocumentID:       documentID,
		currentContent:   content,
		serverVersion:    version,
		committedVersion: version,
		lastOffset:       lastOffset,
		lastModified:     time.Now(),
	}
}

// alreadyApplied reports whether offset has already been durably committed
// for this document, the restart-replay duplicate guard from spec.md §9's
// open-question decision.
func (b *Buffer) alreadyApplied(offset string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return offset != "" && compareStreamIDs(offset, b.lastOffset) <= 0
}

// historySince returns the buffered ops with Version > clientVersion, in
// increasing version order, used to transform an incoming edit.
func (b *Buffer) historySince(clientVersion int64) []opEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []opEntry
	for _, e := range b.operations {
		if e.Version > clientVersion {
			out = append(out, e)
		}
	}
	return out
}

func (b *Buffer) content() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentContent
}

// applyReconciled commits a transformed operation to the buffer's state:
// bumps serverVersion, applies it to currentContent, pushes it onto the
// ring, and marks the buffer dirty. Returns the new server version.
func (b *Buffer) applyReconciled(transformed ot.Delta, newContent string, userID string, offset string, at time.Time) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.serverVersion++
	b.currentContent = newContent
	b.operations = append(b.operations, opEntry{
		Operation: transformed,
		Version:   b.serverVersion,
		UserID:    userID,
		Timestamp: at,
	})
	if len(b.operations) > ringSize {
		b.operations = b.operations[len(b.operations)-ringSize:]
	}
	b.isDirty = true
	b.lastOffset = offset
	b.lastModified = at
	return b.serverVersion
}

// snapshot is a point-in-time copy of the fields a dirty-flush needs,
// taken under lock so the flush's network I/O doesn't hold the buffer.
type snapshot struct {
	content       string
	version       int64
	offset        string
	takenAtCommit int64 // committedVersion observed when the snapshot was taken
}

func (b *Buffer) snapshotIfDirty() (snapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.isDirty {
		return snapshot{}, false
	}
	return snapshot{
		content:       b.currentContent,
		version:       b.serverVersion,
		offset:        b.lastOffset,
		takenAtCommit: b.committedVersion,
	}, true
}

// commitSucceeded clears the dirty flag only if no newer change arrived
// while the flush's network round trip was in flight; otherwise the flag
// stays set so the next tick flushes the newer state too.
func (b *Buffer) commitSucceeded(s snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.committedVersion = s.version
	if b.serverVersion == s.version {
		b.isDirty = false
	}
}

func (b *Buffer) idle() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.isDirty && time.Since(b.lastModified) > idleThreshold
}

// compareStreamIDs compares two Redis stream entry ids of the form
// "<ms>-<seq>" numerically. Returns -1, 0, or 1. An empty id sorts before
// everything.
func compareStreamIDs(a, b string) int {
	if a == b {
		return 0
	}
	if a == "" {
		return -1
	}
	if b == "" {
		return 1
	}
	aMs, aSeq := splitStreamID(a)
	bMs, bSeq := splitStreamID(b)
	if aMs != bMs {
		if aMs < bMs {
			return -1
		}
		return 1
	}
	if aSeq < bSeq {
		return -1
	}
	if aSeq > bSeq {
		return 1
	}
	return 0
}

func splitStreamID(id string) (ms, seq int64) {
	for i := 0; i < len(id); i++ {
		if id[i] == '-' {
			return parseInt(id[:i]), parseInt(id[i+1:])
		}
	}
	return parseInt(id), 0
}

func parseInt(s string) int64 {
	var n int64
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return n
		}
		n = n*10 + int64(s[i]-'0')
	}
	return n
}
