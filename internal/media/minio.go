package media

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const checksumMetaKey = "Checksum"

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinIO stores objects in an S3-compatible bucket.
type MinIO struct {
	client *minio.Client
	bucket string
}

// NewMinIO connects to the endpoint and creates the bucket when missing.
func NewMinIO(ctx context.Context, cfg MinIOConfig) (*MinIO, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &MinIO{client: client, bucket: cfg.Bucket}, nil
}

func (m *MinIO) Put(ctx context.Context, name, contentType string, body io.Reader, size int64) (Object, error) {
	if !ValidName(name) {
		return Object{}, ErrInvalidName
	}
	if contentType == "" {
		contentType = ContentTypeFor(name)
	}

	// The checksum goes into object metadata, so the body is buffered through
	// the hasher before the upload starts.
	hasher := NewHasher()
	data, err := io.ReadAll(io.TeeReader(body, hasher))
	if err != nil {
		return Object{}, fmt.Errorf("read upload %s: %w", name, err)
	}
	checksum := hex.EncodeToString(hasher.Sum(nil))

	info, err := m.client.PutObject(ctx, m.bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{checksumMetaKey: checksum},
	})
	if err != nil {
		return Object{}, fmt.Errorf("put object %s: %w", name, err)
	}
	return Object{
		Name:        name,
		ContentType: contentType,
		Size:        info.Size,
		Checksum:    checksum,
		ModTime:     info.LastModified,
	}, nil
}

func (m *MinIO) Open(ctx context.Context, name string) (io.ReadSeekCloser, Object, error) {
	if !ValidName(name) {
		return nil, Object{}, ErrInvalidName
	}
	obj, err := m.client.GetObject(ctx, m.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, Object{}, m.translate(name, err)
	}
	stat, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, Object{}, m.translate(name, err)
	}
	return obj, Object{
		Name:        name,
		ContentType: stat.ContentType,
		Size:        stat.Size,
		Checksum:    stat.UserMetadata[checksumMetaKey],
		ModTime:     stat.LastModified,
	}, nil
}

func (m *MinIO) Delete(ctx context.Context, name string) error {
	if !ValidName(name) {
		return ErrInvalidName
	}
	if err := m.client.RemoveObject(ctx, m.bucket, name, minio.RemoveObjectOptions{}); err != nil {
		if translated := m.translate(name, err); translated == ErrNotFound {
			return nil
		}
		return fmt.Errorf("remove object %s: %w", name, err)
	}
	return nil
}

func (m *MinIO) Ping(ctx context.Context) error {
	if _, err := m.client.BucketExists(ctx, m.bucket); err != nil {
		return fmt.Errorf("minio bucket check: %w", err)
	}
	return nil
}

func (m *MinIO) translate(name string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrNotFound
	}
	return fmt.Errorf("get object %s: %w", name, err)
}
