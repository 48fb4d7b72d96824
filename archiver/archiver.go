// Package archiver implements the Snapshot Archiver: a consumer of the
// document-snapshots topic that writes each reconciled snapshot to the
// Object Store, per spec.md §4.4.
package archiver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"code.example.org/collabdoc/common"
	"code.example.org/collabdoc/reconciler"
	"code.example.org/collabdoc/sharedlog"
	"code.example.org/collabdoc/storage"
)

// Writer is the Object Store surface the Archiver needs. storage.SnapshotWriter
// satisfies it; tests substitute a fake.
type Writer interface {
	WriteSnapshot(ctx context.Context, documentID string, version, epochMs int64, body []byte) (string, error)
	ListSnapshots(ctx context.Context, documentID string) ([]storage.SnapshotMeta, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// PresignTTL is how long a signed snapshot download URL remains valid.
const PresignTTL = 5 * time.Minute

// Archiver consumes document-snapshots and persists each message's payload
// as a blob. No replay of history is attempted on startup: the consumer
// group's offset alone determines what gets (re-)delivered, per spec.md
// §4.4's "no replay of history" clause.
type Archiver struct {
	writer Writer
	logger *common.ContextLogger
}

// New builds an Archiver over writer.
func New(writer Writer) *Archiver {
	return &Archiver{
		writer: writer,
		logger: common.ServiceLogger("archiver", "").WithField("component", "snapshot-consumer"),
	}
}

var _ sharedlog.Handler = (*Archiver)(nil)

// Handle implements sharedlog.Handler for the document-snapshots topic. A
// write failure is logged and the message is left unacked so the Consumer's
// stale-claim path retries it; a duplicate write under a retried
// {version}-{epochMs} key is a harmless no-op collision, not a hazard, so
// Handle never needs its own idempotence check.
func (a *Archiver) Handle(ctx context.Context, msg sharedlog.Message) error {
	var snap reconciler.SnapshotMessage
	if err := json.Unmarshal(msg.Payload, &snap); err != nil {
		a.logger.WithError(err).Warnf("malformed document-snapshots entry %s, dropping", msg.ID)
		return nil
	}

	epochMs := snap.Timestamp.UnixMilli()
	key, err := a.writer.WriteSnapshot(ctx, snap.DocumentID, snap.Version, epochMs, msg.Payload)
	if err != nil {
		return fmt.Errorf("archiver: write snapshot for %s v%d: %w", snap.DocumentID, snap.Version, err)
	}

	a.logger.WithField("document_id", snap.DocumentID).WithField("key", key).Debug("snapshot written")
	return nil
}
