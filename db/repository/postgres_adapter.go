package repository

import (
	"context"

	"code.example.org/collabdoc/db"
)

// RelationalRepository adapts db.RelationalStore's GORM-backed Document
// model to the DocumentRepository interface, keeping the Reconciliation
// Engine decoupled from the GORM type directly.
type RelationalRepository struct {
	store *db.RelationalStore
}

// NewRelationalRepository wraps an already-opened RelationalStore.
func NewRelationalRepository(store *db.RelationalStore) *RelationalRepository {
	return &RelationalRepository{store: store}
}

func toRecord(doc *db.Document) *DocumentRecord {
	return &DocumentRecord{
		ID:                doc.ID,
		Version:           doc.Version,
		Content:           doc.Content,
		LastAppliedOffset: doc.LastAppliedOffset,
		UpdatedAt:         doc.UpdatedAt,
	}
}

func (r *RelationalRepository) GetDocument(ctx context.Context, id string) (*DocumentRecord, error) {
	doc, err := r.store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	return toRecord(doc), nil
}

func (r *RelationalRepository) CreateDocument(ctx context.Context, id, content string) (*DocumentRecord, error) {
	doc, err := r.store.CreateDocument(ctx, id, content)
	if err != nil {
		return nil, err
	}
	return toRecord(doc), nil
}

func (r *RelationalRepository) CommitDocument(ctx context.Context, id string, expectedVersion, newVersion int64, content, appliedOffset string) error {
	return r.store.CommitDocument(ctx, id, expectedVersion, newVersion, content, appliedOffset)
}

var _ DocumentRepository = (*RelationalRepository)(nil)
