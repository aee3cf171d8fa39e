// Package objectstore is the Storage Adapter: a capability-set
// interface over an S3-compatible object store (presigned POST,
// presigned GET, server-side copy, delete, streamed get), following
// the teacher's interface-first storage design.
package objectstore

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = errors.New("objectstore: key not found")

// ErrAccessDenied is returned when the store rejects the operation as
// forbidden.
var ErrAccessDenied = errors.New("objectstore: access denied")

// UploadPolicy is the result of authorizing a direct-to-store upload:
// the form fields must be sent verbatim with the file as the last
// multipart field in a POST to URL.
type UploadPolicy struct {
	URL        string
	FormFields map[string]string
	Key        string
}

// PostPolicyInput describes the constraints placed on a presigned POST
// upload.
type PostPolicyInput struct {
	Bucket         string
	Key            string
	ContentType    string
	MinSizeBytes   int64
	MaxSizeBytes   int64
	ExpiresIn      time.Duration
}

// Store is the capability set every object-store implementation must
// provide.
type Store interface {
	// PresignPost issues a scoped, time-bounded upload policy.
	PresignPost(ctx context.Context, in PostPolicyInput) (*UploadPolicy, error)

	// PresignGet issues a short-lived signed GET URL for a private key.
	PresignGet(ctx context.Context, bucket, key string, expiresIn time.Duration) (string, error)

	// Copy performs a server-side copy between buckets/keys.
	Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, bucket, key string) error

	// Get returns a streaming reader over the object; callers must
	// close it.
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}
