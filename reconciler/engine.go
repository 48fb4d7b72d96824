package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"code.example.org/collabdoc/common"
	"code.example.org/collabdoc/db"
	"code.example.org/collabdoc/db/repository"
	"code.example.org/collabdoc/ot"
	"code.example.org/collabdoc/sharedlog"
	"code.example.org/collabdoc/statemanager"
)

// flushInterval is the dirty-flush loop's tick (spec.md §4.2: every 2s).
const flushInterval = 2 * time.Second

// evictionInterval is the idle-eviction sweep's tick (spec.md §4.2: every
// 5 minutes).
const evictionInterval = 5 * time.Minute

// Engine holds one ReconcilerBuffer per actively edited document and
// implements sharedlog.Handler for the document-changes and
// document-events topics.
type Engine struct {
	mu      sync.RWMutex
	buffers map[string]*Buffer

	repo     repository.DocumentRepository
	producer *sharedlog.Producer
	instance string
	logger   *common.ContextLogger
	state    *statemanager.Manager
}

// SetStateManager attaches an operation-lifecycle tracker: one
// OperationState per documentId, overwritten on every message processed for
// that document, introspectable over state's own debug endpoint rather than
// a metrics-scrape endpoint. Nil-safe.
func (e *Engine) SetStateManager(state *statemanager.Manager) {
	e.state = state
}

// New builds an Engine. instance identifies this process in DLQ headers.
func New(repo repository.DocumentRepository, producer *sharedlog.Producer, instance string) *Engine {
	return &Engine{
		buffers:  make(map[string]*Buffer),
		repo:     repo,
		producer: producer,
		instance: instance,
		logger:   common.ServiceLogger("reconciler", ""),
	}
}

var _ sharedlog.Handler = (*Engine)(nil)

// Handle implements sharedlog.Handler for the document-changes topic.
func (e *Engine) Handle(ctx context.Context, msg sharedlog.Message) error {
	var change ChangeMessage
	if err := json.Unmarshal(msg.Payload, &change); err != nil {
		e.dlq(ctx, sharedlog.TopicDocumentChanges, msg.Payload, fmt.Errorf("malformed change message: %w", err))
		return nil
	}
	change.DocumentID = msg.DocumentID

	return e.processChange(ctx, change, msg.ID)
}

// HandleEvent implements the document-events consumer: external mutation
// or deletion invalidates a buffer so the next edit re-reads authoritative
// state.
func (e *Engine) HandleEvent(ctx context.Context, msg sharedlog.Message) error {
	var event EventMessage
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		e.dlq(ctx, sharedlog.TopicDocumentEvents, msg.Payload, fmt.Errorf("malformed event message: %w", err))
		return nil
	}

	switch event.Type {
	case EventDocumentUpdated, EventDocumentDeleted:
		e.mu.Lock()
		delete(e.buffers, event.DocumentID)
		e.mu.Unlock()
	}
	return nil
}

func (e *Engine) getOrLoadBuffer(ctx context.Context, documentID string) (*Buffer, error) {
	e.mu.RLock()
	buf, ok := e.buffers[documentID]
	e.mu.RUnlock()
	if ok {
		return buf, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if buf, ok := e.buffers[documentID]; ok {
		return buf, nil
	}

	rec, err := e.repo.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	buf = newBuffer(documentID, rec.Content, rec.Version, rec.LastAppliedOffset)
	e.buffers[documentID] = buf
	return buf, nil
}

// processChange implements the per-message steps of spec.md §4.2.
func (e *Engine) processChange(ctx context.Context, change ChangeMessage, offset string) (err error) {
	if e.state != nil {
		e.state.StartOperation(change.DocumentID, "document-reconcile", map[string]interface{}{
			"version": change.Version,
			"offset":  offset,
		})
		defer func() { e.state.CompleteOperation(change.DocumentID, err) }()
	}

	buf, err := e.getOrLoadBuffer(ctx, change.DocumentID)
	if err != nil {
		if errors.Is(err, db.ErrDocumentNotFound) {
			e.dlq(ctx, sharedlog.TopicDocumentChanges, mustMarshal(change), fmt.Errorf("document not found: %w", err))
			return nil
		}
		return fmt.Errorf("load buffer for %s: %w", change.DocumentID, err)
	}

	if buf.alreadyApplied(offset) {
		e.logger.WithField("document_id", change.DocumentID).Debugf("skipping already-applied offset %s", offset)
		return nil
	}

	transformed := change.Operation
	for _, prior := range buf.historySince(change.Version) {
		transformed, err = ot.Transform(transformed, prior.Operation, ot.SideLeft)
		if err != nil {
			e.dlq(ctx, sharedlog.TopicDocumentChanges, mustMarshal(change), fmt.Errorf("transform failed: %w", err))
			return nil
		}
	}

	newContent, err := ot.Apply(buf.content(), transformed)
	if err != nil {
		// Open Question decision 1: apply failure is a ReconciliationError.
		// DLQ the message, do not bump serverVersion, do not ack synced.
		e.dlq(ctx, sharedlog.TopicDocumentChanges, mustMarshal(change), fmt.Errorf("apply failed: %w", err))
		return nil
	}

	now := time.Now()
	serverVersion := buf.applyReconciled(transformed, newContent, change.UserID, offset, now)

	update := UpdateMessage{
		DocumentID:    change.DocumentID,
		Version:       change.Version,
		Status:        "synced",
		UserID:        change.UserID,
		ServerVersion: serverVersion,
		Timestamp:     now,
	}
	if _, err := e.producer.Publish(ctx, sharedlog.TopicDocumentUpdates, change.DocumentID, mustMarshal(update)); err != nil {
		// The canonical state already advanced; a lost ack is a transient
		// infra failure for the Gateway to surface as "not synced", not a
		// reason to reprocess this change.
		e.logger.WithError(err).WithField("document_id", change.DocumentID).Warn("publish document-updates failed")
	}

	return nil
}

func (e *Engine) dlq(ctx context.Context, originalTopic sharedlog.Topic, original json.RawMessage, cause error) {
	msg := DLQMessage{
		OriginalTopic:   string(originalTopic),
		OriginalMessage: original,
		Error:           cause.Error(),
		Timestamp:       time.Now(),
		Instance:        e.instance,
	}
	e.logger.WithError(cause).Warnf("routing message from %s to dlq", originalTopic)
	if _, err := e.producer.Publish(ctx, sharedlog.TopicDLQ, "", mustMarshal(msg)); err != nil {
		e.logger.WithError(err).Error("failed to publish to dlq, message dropped")
	}
}

func mustMarshal(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(fmt.Sprintf(`{"marshal_error":%q}`, err.Error()))
	}
	return data
}

// RunDirtyFlush runs the dirty-flush loop (spec.md §4.2) until ctx is
// cancelled: every tick, every dirty buffer is committed to the
// Relational Store and a snapshot is published.
func (e *Engine) RunDirtyFlush(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.flushAll(ctx)
		}
	}
}

func (e *Engine) flushAll(ctx context.Context) {
	e.mu.RLock()
	buffers := make([]*Buffer, 0, len(e.buffers))
	for _, buf := range e.buffers {
		buffers = append(buffers, buf)
	}
	e.mu.RUnlock()

	for _, buf := range buffers {
		e.flushOne(ctx, buf)
	}
}

func (e *Engine) flushOne(ctx context.Context, buf *Buffer) {
	snap, dirty := buf.snapshotIfDirty()
	if !dirty {
		return
	}

	err := e.repo.CommitDocument(ctx, buf.DocumentID, snap.takenAtCommit, snap.version, snap.content, snap.offset)
	if err != nil {
		// Flush failures retry on the next tick; the dirty flag stays set
		// because commitSucceeded is never called.
		e.logger.WithError(err).WithField("document_id", buf.DocumentID).Warn("dirty-flush commit failed, will retry")
		return
	}

	buf.commitSucceeded(snap)

	snapshotMsg := SnapshotMessage{
		DocumentID: buf.DocumentID,
		Data:       json.RawMessage(mustMarshalString(snap.content)),
		Version:    snap.version,
		Timestamp:  time.Now(),
	}
	if _, err := e.producer.Publish(ctx, sharedlog.TopicDocumentSnapshots, buf.DocumentID, mustMarshal(snapshotMsg)); err != nil {
		e.logger.WithError(err).WithField("document_id", buf.DocumentID).Warn("publish document-snapshots failed")
	}
}

func mustMarshalString(s string) []byte {
	data, err := json.Marshal(s)
	if err != nil {
		return []byte(`""`)
	}
	return data
}

// RunIdleEviction drops buffers that are clean and have not been touched
// in idleThreshold, until ctx is cancelled.
func (e *Engine) RunIdleEviction(ctx context.Context) {
	ticker := time.NewTicker(evictionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.evictIdle()
		}
	}
}

func (e *Engine) evictIdle() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, buf := range e.buffers {
		if buf.idle() {
			delete(e.buffers, id)
		}
	}
}

// FlushAllNow is used on graceful shutdown: flush every dirty buffer
// synchronously before the process exits, per spec.md §5's "Reconcilers
// flush all dirty buffers before exiting".
func (e *Engine) FlushAllNow(ctx context.Context) {
	e.flushAll(ctx)
}
