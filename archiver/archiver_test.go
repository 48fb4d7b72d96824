package archiver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"code.example.org/collabdoc/reconciler"
	"code.example.org/collabdoc/sharedlog"
	"code.example.org/collabdoc/storage"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotMessage(t *testing.T, documentID string, version int64, ts time.Time) sharedlog.Message {
	t.Helper()
	payload, err := json.Marshal(reconciler.SnapshotMessage{
		DocumentID: documentID,
		Data:       json.RawMessage(`"Hello"`),
		Version:    version,
		Timestamp:  ts,
	})
	require.NoError(t, err)
	return sharedlog.Message{ID: "1-0", DocumentID: documentID, Payload: payload}
}

func TestArchiver_Handle_WritesSnapshot(t *testing.T) {
	mock := storage.NewMockS3Client()
	mock.Buckets["docs"] = true
	writer := storage.NewSnapshotWriterWithClient(mock, "docs")
	a := New(writer)

	ts := time.Unix(1700000000, 0).UTC()
	err := a.Handle(context.Background(), snapshotMessage(t, "doc-1", 3, ts))
	require.NoError(t, err)

	metas, err := writer.ListSnapshots(context.Background(), "doc-1")
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, int64(3), metas[0].Version)
}

func TestArchiver_Handle_MalformedPayloadDropsWithoutError(t *testing.T) {
	mock := storage.NewMockS3Client()
	writer := storage.NewSnapshotWriterWithClient(mock, "docs")
	a := New(writer)

	err := a.Handle(context.Background(), sharedlog.Message{ID: "1-0", DocumentID: "doc-1", Payload: []byte("not json")})
	assert.NoError(t, err, "a malformed message must be dropped, not retried forever")
}

func TestHandlers_ListSnapshots(t *testing.T) {
	mock := storage.NewMockS3Client()
	mock.Buckets["docs"] = true
	writer := storage.NewSnapshotWriterWithClient(mock, "docs")
	ctx := context.Background()

	_, err := writer.WriteSnapshot(ctx, "doc-1", 1, 1700000000000, []byte(`{"v":1}`))
	require.NoError(t, err)
	_, err = writer.WriteSnapshot(ctx, "doc-1", 2, 1700000005000, []byte(`{"v":2}`))
	require.NoError(t, err)

	e := echo.New()
	NewHandlers(writer).Register(e.Group(""))

	req := httptest.NewRequest(http.MethodGet, "/documents/doc-1/snapshots", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out snapshotListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Snapshots, 2)
	assert.Equal(t, int64(2), out.Snapshots[0].Version, "newest version sorts first")
	assert.Equal(t, int64(1), out.Snapshots[1].Version)
}

func TestHandlers_GetSnapshot_NotFoundWhenPresignFails(t *testing.T) {
	// The mock S3 client has no presign client underneath it, so PresignGet
	// fails and the handler answers 404.
	mock := storage.NewMockS3Client()
	writer := storage.NewSnapshotWriterWithClient(mock, "docs")

	e := echo.New()
	NewHandlers(writer).Register(e.Group(""))

	req := httptest.NewRequest(http.MethodGet, "/snapshots/doc-1/1-1700000000000.json", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "not found"))
}
