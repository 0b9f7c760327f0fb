package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"association-chat/internal/config"
	"association-chat/internal/models"
)

var ErrStorageDisabled = errors.New("attachment storage disabled")

// AttachmentStore persists files referenced by file messages.
type AttachmentStore interface {
	Upload(ctx context.Context, ownerID int64, name string, r io.Reader, size int64, contentType string) (models.Attachment, error)
}

// MinioStore stores attachments in a MinIO bucket.
type MinioStore struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

// NewMinioStore connects to MinIO and makes sure the bucket exists.
func NewMinioStore(ctx context.Context, cfg config.Storage) (*MinioStore, error) {
	if cfg.Endpoint == "" {
		return nil, ErrStorageDisabled
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	if err := ensureBucket(ctx, client, cfg.Bucket); err != nil {
		return nil, fmt.Errorf("ensure bucket %s: %w", cfg.Bucket, err)
	}
	return &MinioStore{client: client, bucket: cfg.Bucket, publicURL: strings.TrimRight(cfg.PublicURL, "/")}, nil
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{})
}

// Upload stores r under a per-owner unique key and returns its public URL.
func (s *MinioStore) Upload(ctx context.Context, ownerID int64, name string, r io.Reader, size int64, contentType string) (models.Attachment, error) {
	clean := SanitizeName(name)
	key := ObjectKey(ownerID, uuid.NewString(), clean)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if _, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return models.Attachment{}, fmt.Errorf("put object: %w", err)
	}
	return models.Attachment{URL: s.publicURL + "/" + key, Name: clean}, nil
}

// ObjectKey builds the bucket key for an attachment.
func ObjectKey(ownerID int64, id, name string) string {
	return fmt.Sprintf("%d/%s-%s", ownerID, id, name)
}

// SanitizeName strips directories and characters unsafe in object keys.
func SanitizeName(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "file"
	}
	return out
}
