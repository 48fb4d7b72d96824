package gateway

import (
	"context"
	"encoding/json"

	"code.example.org/collabdoc/common"
	"code.example.org/collabdoc/db/repository"
)

// fanoutChannel is the Pub/Sub Fabric channel a document's room events
// travel over for cross-instance delivery.
func fanoutChannel(documentID string) string {
	return "room:" + documentID
}

// fanoutEnvelope wraps a room Envelope with the publishing instance's id so
// that instance's own subscription can ignore its own publish (the local
// broadcast already covers local clients, per spec.md §4.1's "sender is
// excluded on the originating instance; peers on other instances receive
// exactly once").
type fanoutEnvelope struct {
	From     string   `json:"from"`
	Envelope Envelope `json:"envelope"`
}

// broadcastMsg is one locally-originated room broadcast.
type broadcastMsg struct {
	envelope *Envelope
	skip     string // client ID to exclude, or "" for none
	external bool   // true if this arrived via the pub/sub fabric (don't re-publish)
}

// Room is the in-memory RoomSession set for one document (spec.md §3):
// every local socket attached to the document, plus cross-instance fan-out
// over the Pub/Sub Fabric. The Reconciliation Engine, not the Room, owns
// canonical document content; a Room only routes events between sockets.
type Room struct {
	documentID string
	instance   string
	cache      repository.CacheRepository
	logger     *common.ContextLogger

	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcastMsg
	done       chan struct{}

	// onEmpty is invoked, from within run's own goroutine, the moment the
	// last local client leaves. The Gateway uses it to drop the room from
	// its registry; it must not block.
	onEmpty func(documentID string)
}

func newRoom(documentID, instance string, cache repository.CacheRepository, onEmpty func(string)) *Room {
	return &Room{
		documentID: documentID,
		instance:   instance,
		cache:      cache,
		logger:     common.ServiceLogger("gateway", "").WithField("document_id", documentID),
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan broadcastMsg, 256),
		done:       make(chan struct{}),
		onEmpty:    onEmpty,
	}
}

// run is the Room's single-goroutine event loop: it owns r.clients
// exclusively, so no lock is needed on the hot path (spec.md §5's
// per-document-actor shared-resource policy).
func (r *Room) run(ctx context.Context) {
	sub, err := r.cache.Subscribe(ctx, fanoutChannel(r.documentID))
	if err != nil {
		r.logger.WithError(err).Warn("room could not subscribe to pub/sub fabric, degrading to local-only broadcast")
		sub = nil
	}

	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return
		case <-r.done:
			return
		case c := <-r.register:
			r.clients[c.ID] = c
			c.room = r
		case c := <-r.unregister:
			if _, ok := r.clients[c.ID]; ok {
				delete(r.clients, c.ID)
				c.close()
			}
			if len(r.clients) == 0 && r.onEmpty != nil {
				r.onEmpty(r.documentID)
			}
		case msg := <-r.broadcast:
			r.deliverLocal(msg.envelope, msg.skip)
			if !msg.external {
				r.publish(ctx, msg.envelope)
			}
		case raw, ok := <-sub:
			if !ok {
				sub = nil
				continue
			}
			r.handleFanout(raw)
		}
	}
}

func (r *Room) deliverLocal(env *Envelope, skip string) {
	for id, c := range r.clients {
		if id == skip {
			continue
		}
		c.enqueue(env)
	}
}

func (r *Room) publish(ctx context.Context, env *Envelope) {
	wrapped := fanoutEnvelope{From: r.instance, Envelope: *env}
	if err := r.cache.Publish(ctx, fanoutChannel(r.documentID), wrapped); err != nil {
		r.logger.WithError(err).Warn("pub/sub fabric publish failed, other instances will miss this event")
	}
}

// handleFanout re-marshals the generic payload the CacheRepository's
// Subscribe hands back (json.Unmarshal into interface{}) into a
// fanoutEnvelope, then delivers it to local clients only.
func (r *Room) handleFanout(raw interface{}) {
	data, err := json.Marshal(raw)
	if err != nil {
		return
	}
	var wrapped fanoutEnvelope
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return
	}
	if wrapped.From == r.instance {
		return
	}
	r.deliverLocal(&wrapped.Envelope, "")
}

// Register attaches a client to the room.
func (r *Room) Register(c *Client) {
	select {
	case r.register <- c:
	case <-r.done:
	}
}

// Unregister detaches a client from the room.
func (r *Room) Unregister(c *Client) {
	select {
	case r.unregister <- c:
	case <-r.done:
	}
}

// Broadcast fans env out to every local client except skip (empty for
// none), and publishes it for other instances to deliver locally.
func (r *Room) Broadcast(env *Envelope, skip string) {
	select {
	case r.broadcast <- broadcastMsg{envelope: env, skip: skip}:
	case <-r.done:
	}
}

// BroadcastExternal delivers env to local clients without re-publishing;
// used for Shared Log acknowledgements, which every Gateway instance
// already observes independently.
func (r *Room) BroadcastExternal(env *Envelope) {
	select {
	case r.broadcast <- broadcastMsg{envelope: env, external: true}:
	case <-r.done:
	}
}

func (r *Room) stop() {
	close(r.done)
}

// shutdown notifies every local client of the impending close and tears
// down their write pumps, per spec.md's SIGTERM contract: "close sockets
// with a transient-error reason" rather than leaving them open past the
// process's own lifetime.
func (r *Room) shutdown() {
	env := mustEnvelope(EventError, ErrorPayload{Code: "shutdown", Message: "server is shutting down"})
	for id, c := range r.clients {
		c.enqueue(env)
		c.close()
		delete(r.clients, id)
	}
}
