// Package reconciler implements the Reconciliation Engine: the sole
// authority for canonical document state and version numbering, per
// spec.md §4.2.
package reconciler

import (
	"encoding/json"
	"time"

	"code.example.org/collabdoc/ot"
)

// ChangeMessage is the document-changes topic's value schema.
type ChangeMessage struct {
	DocumentID string    `json:"documentId"`
	Operation  ot.Delta  `json:"operation"`
	Version    int64     `json:"version"`
	UserID     string    `json:"userId"`
	Timestamp  time.Time `json:"timestamp"`
}

// UpdateMessage is the document-updates topic's value schema, published on
// every successfully reconciled change.
type UpdateMessage struct {
	DocumentID    string    `json:"documentId"`
	Version       int64     `json:"version"`
	Status        string    `json:"status"`
	UserID        string    `json:"userId"`
	ServerVersion int64     `json:"serverVersion"`
	Timestamp     time.Time `json:"timestamp"`
}

// SnapshotMessage is the document-snapshots topic's value schema.
type SnapshotMessage struct {
	DocumentID string          `json:"documentId"`
	Data       json.RawMessage `json:"data"`
	Version    int64           `json:"version"`
	Timestamp  time.Time       `json:"timestamp"`
}

// EventType enumerates document-events topic values relevant to the
// Reconciler; COLLABORATOR_ADDED/REMOVED are consumed by the Gateway only
// and ignored here.
type EventType string

const (
	EventDocumentUpdated EventType = "DOCUMENT_UPDATED"
	EventDocumentDeleted EventType = "DOCUMENT_DELETED"
)

// EventMessage is the document-events topic's value schema.
type EventMessage struct {
	Type       EventType `json:"type"`
	DocumentID string    `json:"documentId"`
	UserID     string    `json:"userId,omitempty"`
}

// DLQMessage is the dlq topic's value schema.
type DLQMessage struct {
	OriginalTopic   string          `json:"originalTopic"`
	OriginalMessage json.RawMessage `json:"originalMessage"`
	Error           string          `json:"error"`
	Timestamp       time.Time       `json:"timestamp"`
	Instance        string          `json:"instance"`
}
