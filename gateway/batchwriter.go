package gateway

import (
	"context"
	"sync"
	"time"

	"code.example.org/collabdoc/common"
	"code.example.org/collabdoc/db"
	"code.example.org/collabdoc/statemanager"
	"github.com/google/uuid"
)

// batchFlushSize and batchFlushInterval are the OT batch-writer's flush
// triggers, per spec.md §4.1.
const (
	batchFlushSize     = 50
	batchFlushInterval = 2 * time.Second
)

// OperationSink persists a batch of raw operation records. db.OperationLog
// satisfies this; tests substitute a fake.
type OperationSink interface {
	AppendBatch(ctx context.Context, records []db.OperationRecord) error
}

// BatchWriter buffers raw OperationalTransform rows in memory and flushes
// them in bulk, either once the buffer reaches batchFlushSize or every
// batchFlushInterval, whichever comes first. This path never gates an
// edit's acknowledgement to the client; correctness for convergence lies
// entirely with the Reconciliation Engine's reconciled log.
type BatchWriter struct {
	mu      sync.Mutex
	pending []db.OperationRecord

	sink   OperationSink
	state  *statemanager.Manager
	logger *common.ContextLogger
}

// NewBatchWriter builds a batch writer over the given sink.
func NewBatchWriter(sink OperationSink) *BatchWriter {
	return &BatchWriter{
		sink:   sink,
		logger: common.ServiceLogger("gateway", "").WithField("component", "batch-writer"),
	}
}

// SetStateManager attaches an operation-lifecycle tracker: one
// OperationState per flush cycle, introspectable over state's own debug
// endpoint. Nil-safe; a BatchWriter with no state manager just skips
// tracking.
func (w *BatchWriter) SetStateManager(state *statemanager.Manager) {
	w.state = state
}

// Record appends a raw operation to the pending buffer, flushing
// immediately if it has reached batchFlushSize.
func (w *BatchWriter) Record(ctx context.Context, rec db.OperationRecord) {
	w.mu.Lock()
	w.pending = append(w.pending, rec)
	full := len(w.pending) >= batchFlushSize
	w.mu.Unlock()

	if full {
		w.Flush(ctx)
	}
}

// Flush persists every currently pending record. On failure, the records
// are re-prepended to the buffer so a retry (the next size trigger or
// timer tick) picks them up too — at-least-once persistence, never drop.
func (w *BatchWriter) Flush(ctx context.Context) {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	batch := w.pending
	w.pending = nil
	w.mu.Unlock()

	var opID string
	if w.state != nil {
		opID = uuid.New().String()
		w.state.StartOperation(opID, "ot-batch-flush", map[string]interface{}{"batch_size": len(batch)})
	}

	err := w.sink.AppendBatch(ctx, batch)

	if w.state != nil {
		w.state.CompleteOperation(opID, err)
	}

	if err != nil {
		w.logger.WithError(err).Warnf("flush of %d operation records failed, re-buffering", len(batch))
		w.mu.Lock()
		w.pending = append(batch, w.pending...)
		w.mu.Unlock()
	}
}

// Run ticks Flush every batchFlushInterval until ctx is cancelled.
func (w *BatchWriter) Run(ctx context.Context) {
	ticker := time.NewTicker(batchFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.Flush(context.Background())
			return
		case <-ticker.C:
			w.Flush(ctx)
		}
	}
}
