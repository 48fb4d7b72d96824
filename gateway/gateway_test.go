package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"code.example.org/collabdoc/auth"
	"code.example.org/collabdoc/db"
	"code.example.org/collabdoc/db/repository"
	"code.example.org/collabdoc/ot"
	"code.example.org/collabdoc/presence"
	"code.example.org/collabdoc/sharedlog"
	"code.example.org/collabdoc/statemanager"
	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- BatchWriter ---

type fakeSink struct {
	mu      sync.Mutex
	batches [][]db.OperationRecord
	failNext bool
}

func (s *fakeSink) AppendBatch(ctx context.Context, records []db.OperationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		return assert.AnError
	}
	s.batches = append(s.batches, records)
	return nil
}

func TestBatchWriter_FlushesOnSize(t *testing.T) {
	sink := &fakeSink{}
	w := NewBatchWriter(sink)
	ctx := context.Background()

	for i := 0; i < batchFlushSize-1; i++ {
		w.Record(ctx, db.OperationRecord{DocumentID: "doc-1"})
	}
	sink.mu.Lock()
	assert.Empty(t, sink.batches, "should not flush before reaching the size trigger")
	sink.mu.Unlock()

	w.Record(ctx, db.OperationRecord{DocumentID: "doc-1"})

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.batches, 1)
	assert.Len(t, sink.batches[0], batchFlushSize)
}

func TestBatchWriter_ReprependsOnFailure(t *testing.T) {
	sink := &fakeSink{failNext: true}
	w := NewBatchWriter(sink)
	ctx := context.Background()

	w.Record(ctx, db.OperationRecord{DocumentID: "doc-1", UserID: "user-a"})
	w.Flush(ctx)

	sink.mu.Lock()
	assert.Empty(t, sink.batches, "failed flush must not record a successful batch")
	sink.mu.Unlock()

	w.mu.Lock()
	pending := len(w.pending)
	w.mu.Unlock()
	assert.Equal(t, 1, pending, "the failed record must be re-buffered, not dropped")

	w.Flush(ctx)
	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.batches, 1)
	assert.Equal(t, "user-a", sink.batches[0][0].UserID)
}

func TestBatchWriter_TracksFlushCyclesWhenStateManagerAttached(t *testing.T) {
	sink := &fakeSink{}
	w := NewBatchWriter(sink)
	state := statemanager.New(statemanager.Config{ServiceName: "gateway"})
	w.SetStateManager(state)

	ctx := context.Background()
	w.Record(ctx, db.OperationRecord{DocumentID: "doc-1"})
	w.Flush(ctx)

	ops := state.ListOperations()
	require.Len(t, ops, 1)
	assert.Equal(t, "ot-batch-flush", ops[0].Operation)
	assert.Equal(t, statemanager.StatusCompleted, ops[0].Status)
}

// --- Room ---

func newTestCache(t *testing.T) (repository.CacheRepository, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cache, err := repository.NewRedisRepository("redis://" + mr.Addr())
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache, client
}

func TestRoom_LocalBroadcastExcludesSender(t *testing.T) {
	cache, _ := newTestCache(t)
	r := newRoom("doc-1", "instance-a", cache, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.run(ctx)

	a := &Client{ID: "a", send: make(chan []byte, 4)}
	b := &Client{ID: "b", send: make(chan []byte, 4)}
	r.Register(a)
	r.Register(b)

	env := mustEnvelope(EventUserJoined, UserJoinedPayload{UserID: "b"})
	r.Broadcast(env, "b")

	select {
	case data := <-a.send:
		var got Envelope
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, EventUserJoined, got.Event)
	case <-time.After(time.Second):
		t.Fatal("client a never received the broadcast")
	}

	select {
	case <-b.send:
		t.Fatal("sender must not receive its own broadcast")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRoom_CrossInstanceFanout(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	roomOnG1 := newRoom("doc-1", "g1", cache, nil)
	roomOnG2 := newRoom("doc-1", "g2", cache, nil)
	go roomOnG1.run(ctx)
	go roomOnG2.run(ctx)
	time.Sleep(50 * time.Millisecond) // let both subscriptions establish

	remoteClient := &Client{ID: "remote", send: make(chan []byte, 4)}
	roomOnG2.Register(remoteClient)

	roomOnG1.Broadcast(mustEnvelope(EventUserJoined, UserJoinedPayload{UserID: "a"}), "")

	select {
	case data := <-remoteClient.send:
		var got Envelope
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, EventUserJoined, got.Event)
	case <-time.After(2 * time.Second):
		t.Fatal("instance g2 never observed g1's broadcast over the pub/sub fabric")
	}
}

// --- End-to-end over a real websocket ---

const testSecret = "test-secret"

func signToken(t *testing.T, userID string) string {
	t.Helper()
	claims := auth.Claims{
		UserID: userID,
		Email:  userID + "@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

type allowAccess struct{}

func (allowAccess) CheckAccess(ctx context.Context, documentID, userID string) error { return nil }

func newTestServer(t *testing.T) (*httptest.Server, *redis.Client, *fakeSink, *BatchWriter) {
	t.Helper()
	cache, redisClient := newTestCache(t)
	producer := sharedlog.NewProducer(redisClient, sharedlog.ProducerConfig{ShardCount: 1, MaxLen: 1000})
	tracker := presence.New(cache)
	sink := &fakeSink{}
	batch := NewBatchWriter(sink)
	tokens := auth.NewTokenService(testSecret)

	gw := New(tokens, cache, producer, tracker, allowAccess{}, batch, "test-instance")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	gw.Start(ctx)

	e := echo.New()
	gw.Register(e.Group(""))

	server := httptest.NewServer(e)
	t.Cleanup(server.Close)
	return server, redisClient, sink, batch
}

func dialClient(t *testing.T, server *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?token=" + signToken(t, userID)
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if resp != nil {
		defer resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, event EventType, payload interface{}) {
	t.Helper()
	env, err := NewEnvelope(event, payload)
	require.NoError(t, err)
	data, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestGateway_JoinRejectsWithoutValidToken(t *testing.T) {
	server, _, _, _ := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?token=not-a-jwt"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if resp != nil {
		defer resp.Body.Close()
	}
	require.NoError(t, err)
	defer conn.Close()

	env := readEnvelope(t, conn)
	assert.Equal(t, EventError, env.Event)
	var payload ErrorPayload
	require.NoError(t, env.decodePayload(&payload))
	assert.Equal(t, "auth", payload.Code)
}

func TestGateway_JoinBroadcastAndChangePropagate(t *testing.T) {
	server, redisClient, sink, batch := newTestServer(t)

	a := dialClient(t, server, "user-a")
	sendEnvelope(t, a, EventJoinDocument, JoinDocumentPayload{DocumentID: "doc-1"})
	joined := readEnvelope(t, a)
	require.Equal(t, EventDocumentJoined, joined.Event)

	b := dialClient(t, server, "user-b")
	sendEnvelope(t, b, EventJoinDocument, JoinDocumentPayload{DocumentID: "doc-1"})

	// a observes b's arrival.
	userJoined := readEnvelope(t, a)
	require.Equal(t, EventUserJoined, userJoined.Event)
	var ujPayload UserJoinedPayload
	require.NoError(t, userJoined.decodePayload(&ujPayload))
	assert.Equal(t, "user-b", ujPayload.UserID)

	joinedB := readEnvelope(t, b)
	require.Equal(t, EventDocumentJoined, joinedB.Event)

	op := ot.Delta{ot.Insert("hi", nil)}
	sendEnvelope(t, a, EventSendChanges, SendChangesPayload{DocumentID: "doc-1", Operation: op, Version: 0})

	received := readEnvelope(t, b)
	require.Equal(t, EventReceiveChanges, received.Event)
	var rcPayload ReceiveChangesPayload
	require.NoError(t, received.decodePayload(&rcPayload))
	assert.Equal(t, "user-a", rcPayload.UserID)
	assert.Equal(t, op, rcPayload.Operation)

	ctx := context.Background()
	length, err := redisClient.XLen(ctx, sharedlog.StreamKey(sharedlog.TopicDocumentChanges, 0)).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, length, "send-changes must publish onto the Shared Log")

	// The OT batch-writer flushes on its own timer; flush explicitly here
	// rather than racing the test against it.
	batch.Flush(ctx)
	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.batches, 1)
	assert.Equal(t, "user-a", sink.batches[0][0].UserID)
}
