// Package storage implements the Object Store backing the Snapshot Archiver:
// an S3-compatible client, idempotent bucket setup, a versioned snapshot
// writer, and a presigned-URL reader for the Archiver's HTTP surface.
package storage

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// sharedHTTPClient provides connection pooling across all storage operations.
var sharedHTTPClient = &http.Client{
	Timeout: 60 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	},
}

// ClientConfig configures the Object Store's S3-compatible endpoint.
// Endpoint is optional: leave it empty to talk to real AWS S3, or point it
// at a MinIO/LocalStack-style endpoint for self-hosted deployments.
type ClientConfig struct {
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// NewClient builds an S3 client from the given configuration, resolving a
// custom endpoint when one is provided.
func NewClient(ctx context.Context, cfg ClientConfig) (*s3.Client, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		opts = append(opts, config.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL:               endpoint,
					SigningRegion:     region,
					HostnameImmutable: true,
				}, nil
			})))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		o.HTTPClient = sharedHTTPClient
	})

	return client, nil
}

// EnsureBucketExists creates bucket if it does not already exist. Idempotent
// so every Archiver instance can call it on startup without coordination.
func EnsureBucketExists(ctx context.Context, client S3Client, bucket string) error {
	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return nil
	}

	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	return nil
}

// SnapshotMeta describes a stored snapshot object without fetching its body.
type SnapshotMeta struct {
	Key       string
	Version   int64
	EpochMs   int64
	SizeBytes int64
}

// SnapshotWriter persists and retrieves document snapshots under
// snapshots/{documentId}/{version}-{epochMs}.json, and vends short-lived
// signed URLs for direct client downloads.
type SnapshotWriter struct {
	client   S3Client
	uploader *manager.Uploader
	presign  *s3.PresignClient
	bucket   string
}

// NewSnapshotWriter wraps a live S3 client for the given bucket, including
// presigned-URL support. EnsureBucketExists should be called once at service
// startup before writes are attempted.
func NewSnapshotWriter(client *s3.Client, bucket string) *SnapshotWriter {
	return &SnapshotWriter{
		client:   client,
		uploader: manager.NewUploader(client),
		presign:  s3.NewPresignClient(client),
		bucket:   bucket,
	}
}

// NewSnapshotWriterWithClient wraps an arbitrary S3Client (e.g. MockS3Client
// in tests). Uploads go through client.PutObject directly, and presigned
// URLs are unavailable through this constructor since presigning requires a
// concrete *s3.Client.
func NewSnapshotWriterWithClient(client S3Client, bucket string) *SnapshotWriter {
	return &SnapshotWriter{
		client: client,
		bucket: bucket,
	}
}

func snapshotKey(documentID string, version, epochMs int64) string {
	return fmt.Sprintf("snapshots/%s/%d-%d.json", documentID, version, epochMs)
}

// WriteSnapshot uploads a snapshot body and returns the object key it was
// stored under. Keys are content-addressed by version and wall-clock epoch,
// so retried uploads for the same version/time pair are naturally idempotent.
func (w *SnapshotWriter) WriteSnapshot(ctx context.Context, documentID string, version, epochMs int64, body []byte) (string, error) {
	key := snapshotKey(documentID, version, epochMs)

	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        strings.NewReader(string(body)),
		ContentType: aws.String("application/json"),
	}
	var err error
	if w.uploader != nil {
		_, err = w.uploader.Upload(ctx, input)
	} else {
		_, err = w.client.PutObject(ctx, input)
	}
	if err != nil {
		return "", fmt.Errorf("upload snapshot %s: %w", key, err)
	}
	return key, nil
}

// ListSnapshots lists a document's stored snapshots, newest version first.
func (w *SnapshotWriter) ListSnapshots(ctx context.Context, documentID string) ([]SnapshotMeta, error) {
	prefix := fmt.Sprintf("snapshots/%s/", documentID)

	out, err := w.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(w.bucket),
		Prefix: aws.String(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("list snapshots for %s: %w", documentID, err)
	}

	metas := make([]SnapshotMeta, 0, len(out.Contents))
	for _, obj := range out.Contents {
		key := aws.ToString(obj.Key)
		version, epochMs, ok := parseSnapshotKey(key, prefix)
		if !ok {
			continue
		}
		metas = append(metas, SnapshotMeta{
			Key:       key,
			Version:   version,
			EpochMs:   epochMs,
			SizeBytes: aws.ToInt64(obj.Size),
		})
	}

	sort.Slice(metas, func(i, j int) bool { return metas[i].Version > metas[j].Version })
	return metas, nil
}

func parseSnapshotKey(key, prefix string) (version, epochMs int64, ok bool) {
	name := strings.TrimSuffix(strings.TrimPrefix(key, prefix), ".json")
	parts := strings.SplitN(name, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	v, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	e, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return v, e, true
}

// PresignGet returns a time-limited URL a browser client can use to fetch a
// snapshot directly from the Object Store, bypassing the Archiver service.
func (w *SnapshotWriter) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if w.presign == nil {
		return "", fmt.Errorf("presign client unavailable for this writer")
	}
	req, err := w.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(w.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign snapshot %s: %w", key, err)
	}
	return req.URL, nil
}
