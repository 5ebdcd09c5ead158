package audit

import (
	"bytes"
	"context"
	"fmt"

	gcs "cloud.google.com/go/storage"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Archiver persists an exported evidence pack to durable storage external
// to the gateway's own database, returning a location identifier the
// caller can record alongside the export.
type Archiver interface {
	Archive(ctx context.Context, tenant, manifestID, checksum string, data []byte) (string, error)
}

// S3Archiver writes evidence packs to an S3 bucket, keyed by
// tenant/manifest/checksum so a re-export of the same chain state is
// idempotent.
type S3Archiver struct {
	Client *s3.Client
	Bucket string
}

// NewS3Archiver loads the default AWS config chain (environment,
// shared config, IMDS) the way every other AWS SDK v2 caller does.
func NewS3Archiver(ctx context.Context, bucket string) (*S3Archiver, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit: load aws config: %w", err)
	}
	return &S3Archiver{Client: s3.NewFromConfig(cfg), Bucket: bucket}, nil
}

func (a *S3Archiver) Archive(ctx context.Context, tenant, manifestID, checksum string, data []byte) (string, error) {
	key := archiveKey(tenant, manifestID, checksum)
	_, err := a.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &a.Bucket,
		Key:    &key,
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("audit: s3 put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", a.Bucket, key), nil
}

// GCSArchiver is the GCS equivalent of S3Archiver, selected by
// UAPK_AUDIT_ARCHIVE_BACKEND=gcs (S3Archiver is selected by =s3).
type GCSArchiver struct {
	Client *gcs.Client
	Bucket string
}

func NewGCSArchiver(ctx context.Context, bucket string) (*GCSArchiver, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit: new gcs client: %w", err)
	}
	return &GCSArchiver{Client: client, Bucket: bucket}, nil
}

func (a *GCSArchiver) Archive(ctx context.Context, tenant, manifestID, checksum string, data []byte) (string, error) {
	key := archiveKey(tenant, manifestID, checksum)
	w := a.Client.Bucket(a.Bucket).Object(key).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("audit: gcs write: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("audit: gcs close: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", a.Bucket, key), nil
}

func archiveKey(tenant, manifestID, checksum string) string {
	return fmt.Sprintf("%s/%s/%s.zip", tenant, manifestID, checksum)
}

// SelectArchiver picks the archive backend by name, matching
// UAPK_AUDIT_ARCHIVE_BACKEND ("s3" or "gcs"); "" (the configured default)
// or "none" disables archival entirely.
func SelectArchiver(ctx context.Context, backend, bucket string) (Archiver, error) {
	switch backend {
	case "", "none":
		return nil, nil
	case "gcs":
		return NewGCSArchiver(ctx, bucket)
	case "s3":
		return NewS3Archiver(ctx, bucket)
	default:
		return nil, fmt.Errorf("audit: unknown archive backend %q", backend)
	}
}
