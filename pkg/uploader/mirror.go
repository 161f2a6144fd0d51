package uploader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// MirrorConfig locates the S3-compatible bucket run artifacts are copied to.
type MirrorConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// Validate checks the fields NewMirror needs.
func (c MirrorConfig) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket is required")
	}
	return nil
}

// objectStore is the subset of *minio.Client the mirror uses.
type objectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// ArtifactMirror copies the run summary and build logs to object storage
// under <run id>/.
type ArtifactMirror struct {
	store  objectStore
	bucket string
	region string
	logger zerolog.Logger
}

// NewMirror connects to the bucket described by cfg.
func NewMirror(cfg MirrorConfig, logger zerolog.Logger) (*ArtifactMirror, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid artifact mirror config: %w", err)
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}
	return newMirror(client, cfg.Bucket, cfg.Region, logger), nil
}

func newMirror(store objectStore, bucket, region string, logger zerolog.Logger) *ArtifactMirror {
	return &ArtifactMirror{
		store:  store,
		bucket: bucket,
		region: region,
		logger: logger.With().Str("component", "artifact_mirror").Str("bucket", bucket).Logger(),
	}
}

// EnsureBucket creates the bucket when it does not exist.
func (m *ArtifactMirror) EnsureBucket(ctx context.Context) error {
	exists, err := m.store.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := m.store.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: m.region}); err != nil {
		return fmt.Errorf("make bucket: %w", err)
	}
	return nil
}

// PutSummary stores the JSON summary of runID.
func (m *ArtifactMirror) PutSummary(ctx context.Context, runID string, summary []byte) error {
	key := path.Join(runID, "summary.json")
	return m.put(ctx, key, bytes.NewReader(summary), int64(len(summary)), "application/json")
}

// PutLogs stores each file under <run id>/logs/ with its base name.
func (m *ArtifactMirror) PutLogs(ctx context.Context, runID string, files []string) error {
	for _, file := range files {
		if err := m.putFile(ctx, path.Join(runID, "logs", filepath.Base(file)), file); err != nil {
			return err
		}
	}
	return nil
}

func (m *ArtifactMirror) putFile(ctx context.Context, key, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", file, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", file, err)
	}
	return m.put(ctx, key, f, info.Size(), "text/plain")
}

func (m *ArtifactMirror) put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	putCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	if _, err := m.store.PutObject(putCtx, m.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	m.logger.Debug().Str("key", key).Int64("size", size).Msg("Artifact stored")
	return nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
