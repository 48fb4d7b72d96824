//go:build integration

package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	testAccessKey = "minioadmin"
	testSecretKey = "minioadmin"
	testRegion    = "us-east-1"
	testBucket    = "test-bucket"
)

// setupMinIOContainer starts a MinIO container for S3-compatible testing
func setupMinIOContainer(t *testing.T) (string, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     testAccessKey,
			"MINIO_ROOT_PASSWORD": testSecretKey,
		},
		Cmd:        []string{"server", "/data"},
		WaitingFor: wait.ForListeningPort("9000/tcp").WithStartupTimeout(30 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start MinIO container")

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	endpoint := fmt.Sprintf("http://%s:%s", host, port.Port())

	cleanup := func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate MinIO container: %v", err)
		}
	}

	return endpoint, cleanup
}

func newTestWriter(t *testing.T) *SnapshotWriter {
	endpoint, cleanup := setupMinIOContainer(t)
	t.Cleanup(cleanup)

	client, err := NewClient(context.Background(), ClientConfig{
		Endpoint:     endpoint,
		Region:       testRegion,
		AccessKey:    testAccessKey,
		SecretKey:    testSecretKey,
		UsePathStyle: true,
	})
	require.NoError(t, err)

	require.NoError(t, EnsureBucketExists(context.Background(), client, testBucket))

	return NewSnapshotWriter(client, testBucket)
}

func TestSnapshotWriter_Integration_WriteListGet(t *testing.T) {
	writer := newTestWriter(t)
	ctx := context.Background()

	key, err := writer.WriteSnapshot(ctx, "doc-int-1", 1, 1700000000000, []byte(`{"content":"hello"}`))
	require.NoError(t, err)
	assert.Equal(t, "snapshots/doc-int-1/1-1700000000000.json", key)

	_, err = writer.WriteSnapshot(ctx, "doc-int-1", 2, 1700000005000, []byte(`{"content":"world"}`))
	require.NoError(t, err)

	metas, err := writer.ListSnapshots(ctx, "doc-int-1")
	require.NoError(t, err)
	require.Len(t, metas, 2)
	assert.Equal(t, int64(2), metas[0].Version)
}

func TestSnapshotWriter_Integration_PresignGet(t *testing.T) {
	writer := newTestWriter(t)
	ctx := context.Background()

	key, err := writer.WriteSnapshot(ctx, "doc-int-presign", 1, 1700000000000, []byte(`{"content":"hi"}`))
	require.NoError(t, err)

	url, err := writer.PresignGet(ctx, key, 5*time.Minute)
	require.NoError(t, err)
	assert.Contains(t, url, key)
}

func TestEnsureBucketExists_Integration_Idempotent(t *testing.T) {
	endpoint, cleanup := setupMinIOContainer(t)
	t.Cleanup(cleanup)

	client, err := NewClient(context.Background(), ClientConfig{
		Endpoint:     endpoint,
		Region:       testRegion,
		AccessKey:    testAccessKey,
		SecretKey:    testSecretKey,
		UsePathStyle: true,
	})
	require.NoError(t, err)

	require.NoError(t, EnsureBucketExists(context.Background(), client, "idempotent-bucket"))
	require.NoError(t, EnsureBucketExists(context.Background(), client, "idempotent-bucket"))
}
