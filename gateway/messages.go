// Package gateway implements the Collaboration Gateway: the stateful
// session layer that terminates client sockets, maintains per-document
// rooms, fans edits out across instances, and feeds the Shared Log, per
// spec.md §4.1.
package gateway

import (
	"encoding/json"
	"time"

	"code.example.org/collabdoc/ot"
	"code.example.org/collabdoc/presence"
)

// EventType names a socket protocol event, in either direction.
type EventType string

const (
	// Client -> Gateway
	EventJoinDocument EventType = "join-document"
	EventSendChanges  EventType = "send-changes"
	EventCursorMove   EventType = "cursor-move"

	// Gateway -> Client
	EventDocumentJoined        EventType = "document-joined"
	EventUserJoined            EventType = "user-joined"
	EventUserLeft              EventType = "user-left"
	EventReceiveChanges        EventType = "receive-changes"
	EventCursorUpdate          EventType = "cursor-update"
	EventDocumentSynced        EventType = "document-synced"
	EventDocumentExternalUpdate EventType = "document-external-update"
	EventError                 EventType = "error"
)

// Envelope is the wire frame for every socket message, client or server
// originated. The payload is carried as a generic map so a single frame
// type can be parsed before its event-specific shape is known.
type Envelope struct {
	Event     EventType              `json:"event"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// NewEnvelope builds an Envelope carrying the given typed payload.
func NewEnvelope(event EventType, payload interface{}) (*Envelope, error) {
	e := &Envelope{Event: event, Timestamp: time.Now()}
	if payload == nil {
		return e, nil
	}
	if err := e.SetPayload(payload); err != nil {
		return nil, err
	}
	return e, nil
}

// SetPayload replaces the envelope's payload with the JSON projection of v.
func (e *Envelope) SetPayload(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &e.Payload)
}

// decodePayload re-marshals the generic payload map into a typed struct.
func (e *Envelope) decodePayload(out interface{}) error {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// JoinDocumentPayload is the join-document event's payload.
type JoinDocumentPayload struct {
	DocumentID string `json:"documentId"`
}

// SendChangesPayload is the send-changes event's payload.
type SendChangesPayload struct {
	DocumentID string   `json:"documentId"`
	Operation  ot.Delta `json:"operation"`
	Version    int64    `json:"version"`
}

// CursorMovePayload is the cursor-move event's payload.
type CursorMovePayload struct {
	DocumentID string               `json:"documentId"`
	Position   int                  `json:"position"`
	Selection  *presence.Selection  `json:"selection,omitempty"`
}

// DocumentJoinedPayload acknowledges a successful join with the room's
// currently active sessions.
type DocumentJoinedPayload struct {
	Sessions []presence.Record `json:"sessions"`
}

// UserJoinedPayload announces a new participant to the rest of the room.
type UserJoinedPayload struct {
	UserID string `json:"userId"`
}

// UserLeftPayload announces a departing participant.
type UserLeftPayload struct {
	UserID string `json:"userId"`
}

// ReceiveChangesPayload relays a peer's edit, pre-reconciliation.
type ReceiveChangesPayload struct {
	Operation ot.Delta `json:"operation"`
	Version   int64    `json:"version"`
	UserID    string   `json:"userId"`
}

// CursorUpdatePayload relays a peer's cursor/selection.
type CursorUpdatePayload struct {
	UserID    string              `json:"userId"`
	Position  int                 `json:"position"`
	Selection *presence.Selection `json:"selection,omitempty"`
}

// DocumentSyncedPayload is emitted once the Reconciler has acknowledged an
// edit, letting clients advance their confirmed-version pointer.
type DocumentSyncedPayload struct {
	Version       int64     `json:"version"`
	Status        string    `json:"status"`
	UserID        string    `json:"userId"`
	ServerVersion int64     `json:"serverVersion"`
	Timestamp     time.Time `json:"timestamp"`
}

// DocumentExternalUpdatePayload tells clients a document changed outside
// the collaboration pipeline (e.g. a REST edit) and they should reload.
type DocumentExternalUpdatePayload struct {
	DocumentID string `json:"documentId"`
}

// ErrorPayload reports a protocol or authorization failure to one socket.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
