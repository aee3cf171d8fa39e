package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStore implements Store against any S3-compatible endpoint.
type MinioStore struct {
	client *minio.Client
}

// Config holds the connection settings for a MinioStore.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// NewMinioStore dials the configured S3-compatible endpoint.
func NewMinioStore(cfg Config) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: failed to create minio client: %w", err)
	}
	return &MinioStore{client: client}, nil
}

// PresignPost issues a POST-form upload policy scoped to bucket, key,
// size range, content type, and expiry.
func (s *MinioStore) PresignPost(ctx context.Context, in PostPolicyInput) (*UploadPolicy, error) {
	policy := minio.NewPostPolicy()
	if err := policy.SetBucket(in.Bucket); err != nil {
		return nil, fmt.Errorf("objectstore: set bucket: %w", err)
	}
	if err := policy.SetKey(in.Key); err != nil {
		return nil, fmt.Errorf("objectstore: set key: %w", err)
	}
	if err := policy.SetContentType(in.ContentType); err != nil {
		return nil, fmt.Errorf("objectstore: set content type: %w", err)
	}
	if err := policy.SetContentLengthRange(in.MinSizeBytes, in.MaxSizeBytes); err != nil {
		return nil, fmt.Errorf("objectstore: set content length range: %w", err)
	}
	policy.SetExpires(time.Now().UTC().Add(in.ExpiresIn))

	url, formData, err := s.client.PresignedPostPolicy(ctx, policy)
	if err != nil {
		return nil, fmt.Errorf("objectstore: presign post: %w", mapErr(err))
	}

	return &UploadPolicy{
		URL:        url.String(),
		FormFields: formData,
		Key:        in.Key,
	}, nil
}

// PresignGet issues a short-lived signed GET URL.
func (s *MinioStore) PresignGet(ctx context.Context, bucket, key string, expiresIn time.Duration) (string, error) {
	url, err := s.client.PresignedGetObject(ctx, bucket, key, expiresIn, nil)
	if err != nil {
		return "", fmt.Errorf("objectstore: presign get: %w", mapErr(err))
	}
	return url.String(), nil
}

// Copy performs a server-side copy.
func (s *MinioStore) Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	src := minio.CopySrcOptions{Bucket: srcBucket, Object: srcKey}
	dst := minio.CopyDestOptions{Bucket: dstBucket, Object: dstKey}
	if _, err := s.client.CopyObject(ctx, dst, src); err != nil {
		return fmt.Errorf("objectstore: copy %s/%s -> %s/%s: %w", srcBucket, srcKey, dstBucket, dstKey, mapErr(err))
	}
	return nil
}

// Delete removes a key; a missing key is not an error.
func (s *MinioStore) Delete(ctx context.Context, bucket, key string) error {
	if err := s.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("objectstore: delete %s/%s: %w", bucket, key, mapErr(err))
	}
	return nil
}

// Get returns a streaming reader over the object.
func (s *MinioStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("objectstore: get %s/%s: %w", bucket, key, mapErr(err))
	}
	// GetObject is lazy; force the round trip now so callers see
	// ErrNotFound immediately instead of on first Read.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, fmt.Errorf("objectstore: stat %s/%s: %w", bucket, key, mapErr(err))
	}
	return obj, nil
}

func mapErr(err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.StatusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusForbidden:
		return ErrAccessDenied
	default:
		return err
	}
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.StatusCode == http.StatusNotFound
}
