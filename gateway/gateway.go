package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"code.example.org/collabdoc/auth"
	"code.example.org/collabdoc/common"
	"code.example.org/collabdoc/db"
	"code.example.org/collabdoc/db/repository"
	"code.example.org/collabdoc/presence"
	"code.example.org/collabdoc/queue"
	"code.example.org/collabdoc/reconciler"
	"code.example.org/collabdoc/sharedlog"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin policy is enforced by the fronting HTTP gateway (spec.md §1's
	// external collaborators), not by this service directly.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Gateway is the Collaboration Gateway of spec.md §4.1: it terminates
// duplex client sockets, owns one Room per actively-edited document, and
// bridges those rooms to the Shared Log and the Presence Tracker.
type Gateway struct {
	mu      sync.Mutex
	rooms   map[string]*Room
	roomsWG sync.WaitGroup

	cache    repository.CacheRepository
	producer *sharedlog.Producer
	tokens   *auth.TokenService
	presence *presence.Tracker
	batch    *BatchWriter
	access   AccessChecker
	audit    queue.AuditPublisher
	instance string
	logger   *common.ContextLogger

	ctx context.Context
}

// SetAuditPublisher attaches a secondary audit channel that records
// Shared-Log publish failures independently of the primary log, per
// spec.md's note that such failures are otherwise only logged. Nil-safe; a
// Gateway with no audit publisher just logs as before.
func (g *Gateway) SetAuditPublisher(pub queue.AuditPublisher) {
	g.audit = pub
}

// New builds a Gateway. instance identifies this process for pub/sub
// fan-out dedup and DLQ attribution.
func New(tokens *auth.TokenService, cache repository.CacheRepository, producer *sharedlog.Producer, presenceTracker *presence.Tracker, access AccessChecker, batch *BatchWriter, instance string) *Gateway {
	return &Gateway{
		rooms:    make(map[string]*Room),
		cache:    cache,
		producer: producer,
		tokens:   tokens,
		presence: presenceTracker,
		batch:    batch,
		access:   access,
		instance: instance,
		logger:   common.ServiceLogger("gateway", ""),
		ctx:      context.Background(),
	}
}

// Start records the lifecycle context new rooms are spawned under; rooms
// stop automatically when ctx is cancelled.
func (g *Gateway) Start(ctx context.Context) {
	g.ctx = ctx
}

func (g *Gateway) getOrCreateRoom(documentID string) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()

	if r, ok := g.rooms[documentID]; ok {
		return r
	}
	r := newRoom(documentID, g.instance, g.cache, g.removeRoom)
	g.rooms[documentID] = r
	g.roomsWG.Add(1)
	go func() {
		defer g.roomsWG.Done()
		r.run(g.ctx)
	}()
	return r
}

// Shutdown waits for every active Room to observe context cancellation and
// close its local clients, per spec.md's SIGTERM contract. Call it after
// cancelling the context passed to Start. Returns false if timeout elapses
// before every room has drained.
func (g *Gateway) Shutdown(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		g.roomsWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// removeRoom drops a document's room once its last local client left. It is
// invoked synchronously from the room's own goroutine (see Room.onEmpty),
// so it must not call back into the room itself.
func (g *Gateway) removeRoom(documentID string) {
	g.mu.Lock()
	r, ok := g.rooms[documentID]
	if ok {
		delete(g.rooms, documentID)
	}
	g.mu.Unlock()
	if ok {
		r.stop()
	}
}

func (g *Gateway) lookupRoom(documentID string) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[documentID]
	return r, ok
}

// HandleWebSocket upgrades an HTTP request to a duplex socket, validates
// the handshake bearer token, and runs the connection's read pump until it
// disconnects. Mount under an echo.Group per http/server.go's conventions.
func (g *Gateway) HandleWebSocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	token := c.QueryParam("token")
	claims, err := g.tokens.ValidateToken(token)
	if err != nil {
		g.sendAuthError(conn, err)
		conn.Close()
		return nil
	}

	client := newClient(conn, claims.UserID, claims.Email)
	go client.writePump()
	g.readPump(client)
	return nil
}

func (g *Gateway) sendAuthError(conn *websocket.Conn, cause error) {
	env, err := NewEnvelope(EventError, ErrorPayload{Code: "auth", Message: cause.Error()})
	if err != nil {
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	conn.WriteMessage(websocket.TextMessage, data)
}

// readPump owns the connection's read side exclusively. On exit it tears
// down the client's room membership, per spec.md §4.1's disconnect
// contract: the presence record itself is left to expire.
func (g *Gateway) readPump(client *Client) {
	defer g.disconnect(client)

	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			client.enqueue(mustEnvelope(EventError, ErrorPayload{Code: "protocol", Message: "malformed envelope"}))
			continue
		}
		g.dispatch(client, &env)
	}
}

func (g *Gateway) dispatch(client *Client, env *Envelope) {
	ctx := context.Background()
	var err error
	switch env.Event {
	case EventJoinDocument:
		err = g.handleJoinDocument(ctx, client, env)
	case EventSendChanges:
		err = g.handleSendChanges(ctx, client, env)
	case EventCursorMove:
		err = g.handleCursorMove(ctx, client, env)
	default:
		err = fmt.Errorf("%w: unknown event %q", ErrProtocol, env.Event)
	}
	if err != nil {
		client.enqueue(mustEnvelope(EventError, ErrorPayload{Code: "protocol", Message: err.Error()}))
	}
}

func (g *Gateway) handleJoinDocument(ctx context.Context, client *Client, env *Envelope) error {
	var payload JoinDocumentPayload
	if err := env.decodePayload(&payload); err != nil || payload.DocumentID == "" {
		return fmt.Errorf("%w: join-document requires documentId", ErrProtocol)
	}

	if err := g.access.CheckAccess(ctx, payload.DocumentID, client.UserID); err != nil {
		return err
	}

	client.documentID = payload.DocumentID
	room := g.getOrCreateRoom(payload.DocumentID)
	room.Register(client)

	if err := g.presence.Upsert(ctx, payload.DocumentID, client.UserID, presence.UpsertInput{Cursor: 0}); err != nil {
		g.logger.WithError(err).WithField("document_id", payload.DocumentID).Warn("presence upsert on join failed")
	}

	sessions, err := g.presence.List(ctx, payload.DocumentID)
	if err != nil {
		g.logger.WithError(err).WithField("document_id", payload.DocumentID).Warn("presence list on join failed")
	}

	room.Broadcast(mustEnvelope(EventUserJoined, UserJoinedPayload{UserID: client.UserID}), client.ID)
	client.enqueue(mustEnvelope(EventDocumentJoined, DocumentJoinedPayload{Sessions: sessions}))
	return nil
}

func (g *Gateway) handleSendChanges(ctx context.Context, client *Client, env *Envelope) error {
	var payload SendChangesPayload
	if err := env.decodePayload(&payload); err != nil {
		return fmt.Errorf("%w: malformed send-changes payload", ErrProtocol)
	}
	if client.documentID == "" {
		return ErrNotJoined
	}
	if payload.DocumentID != client.documentID {
		return fmt.Errorf("%w: send-changes for a document other than the joined one", ErrProtocol)
	}

	now := time.Now()

	opJSON, err := json.Marshal(payload.Operation)
	if err != nil {
		return fmt.Errorf("%w: malformed operation", ErrProtocol)
	}
	g.batch.Record(ctx, db.OperationRecord{
		DocumentID: payload.DocumentID,
		UserID:     client.UserID,
		Operation:  string(opJSON),
		Version:    payload.Version,
		Timestamp:  now,
	})

	room, ok := g.lookupRoom(payload.DocumentID)
	if ok {
		room.Broadcast(mustEnvelope(EventReceiveChanges, ReceiveChangesPayload{
			Operation: payload.Operation,
			Version:   payload.Version,
			UserID:    client.UserID,
		}), client.ID)
	}

	change := reconciler.ChangeMessage{
		DocumentID: payload.DocumentID,
		Operation:  payload.Operation,
		Version:    payload.Version,
		UserID:     client.UserID,
		Timestamp:  now,
	}
	changeData, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("%w: malformed operation", ErrProtocol)
	}
	if _, err := g.producer.Publish(ctx, sharedlog.TopicDocumentChanges, payload.DocumentID, changeData); err != nil {
		// The room broadcast already happened and the raw op is buffered
		// for batch persistence; per spec.md §4.1's failure model the
		// client simply never receives document-synced for this edit. The
		// publish is not retried; the failure goes to the audit queue when
		// one is attached.
		g.logger.WithError(err).WithField("document_id", payload.DocumentID).Error("document-changes publish failed, edit not yet durable")
		if g.audit != nil {
			if auditErr := g.audit.PublishFailure(queue.AuditMessage{
				DocumentID: payload.DocumentID,
				Topic:      string(sharedlog.TopicDocumentChanges),
				Payload:    changeData,
				Reason:     queue.ReasonStreamUnavailable,
				Detail:     err.Error(),
				Attempt:    1,
				OccurredAt: now,
			}); auditErr != nil {
				g.logger.WithError(auditErr).Error("audit queue publish also failed")
			}
		}
	}
	return nil
}

func (g *Gateway) handleCursorMove(ctx context.Context, client *Client, env *Envelope) error {
	var payload CursorMovePayload
	if err := env.decodePayload(&payload); err != nil {
		return fmt.Errorf("%w: malformed cursor-move payload", ErrProtocol)
	}
	if client.documentID == "" {
		return ErrNotJoined
	}
	if payload.DocumentID != client.documentID {
		return fmt.Errorf("%w: cursor-move for a document other than the joined one", ErrProtocol)
	}

	if err := g.presence.Upsert(ctx, payload.DocumentID, client.UserID, presence.UpsertInput{
		Cursor:    payload.Position,
		Selection: payload.Selection,
	}); err != nil {
		g.logger.WithError(err).WithField("document_id", payload.DocumentID).Warn("presence upsert on cursor-move failed")
	}

	if room, ok := g.lookupRoom(payload.DocumentID); ok {
		room.Broadcast(mustEnvelope(EventCursorUpdate, CursorUpdatePayload{
			UserID:    client.UserID,
			Position:  payload.Position,
			Selection: payload.Selection,
		}), client.ID)
	}
	return nil
}

func (g *Gateway) disconnect(client *Client) {
	if client.documentID == "" {
		return
	}
	if room, ok := g.lookupRoom(client.documentID); ok {
		room.Unregister(client)
		room.Broadcast(mustEnvelope(EventUserLeft, UserLeftPayload{UserID: client.UserID}), "")
	}
}

// HandleUpdate implements the document-updates consumer (spec.md §4.1):
// for every Reconciler acknowledgement, emit document-synced to the room.
func (g *Gateway) HandleUpdate(ctx context.Context, msg sharedlog.Message) error {
	var update reconciler.UpdateMessage
	if err := json.Unmarshal(msg.Payload, &update); err != nil {
		g.logger.WithError(err).Warn("malformed document-updates message, dropping")
		return nil
	}
	room, ok := g.lookupRoom(update.DocumentID)
	if !ok {
		return nil
	}
	room.BroadcastExternal(mustEnvelope(EventDocumentSynced, DocumentSyncedPayload{
		Version:       update.Version,
		Status:        update.Status,
		UserID:        update.UserID,
		ServerVersion: update.ServerVersion,
		Timestamp:     update.Timestamp,
	}))
	return nil
}

// HandleEvent implements the document-events consumer: on DOCUMENT_UPDATED
// (an external, out-of-band mutation), tell clients to reload.
func (g *Gateway) HandleEvent(ctx context.Context, msg sharedlog.Message) error {
	var event reconciler.EventMessage
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		g.logger.WithError(err).Warn("malformed document-events message, dropping")
		return nil
	}
	if event.Type != reconciler.EventDocumentUpdated {
		return nil
	}
	room, ok := g.lookupRoom(event.DocumentID)
	if !ok {
		return nil
	}
	room.BroadcastExternal(mustEnvelope(EventDocumentExternalUpdate, DocumentExternalUpdatePayload{DocumentID: event.DocumentID}))
	return nil
}

func mustEnvelope(event EventType, payload interface{}) *Envelope {
	env, err := NewEnvelope(event, payload)
	if err != nil {
		return &Envelope{Event: event, Timestamp: time.Now()}
	}
	return env
}
