package upload

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/meshforge/listings/pkg/objectstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	policy *objectstore.UploadPolicy
	err    error
	lastIn objectstore.PostPolicyInput
}

func (f *fakeStore) PresignPost(ctx context.Context, in objectstore.PostPolicyInput) (*objectstore.UploadPolicy, error) {
	f.lastIn = in
	if f.err != nil {
		return nil, f.err
	}
	return f.policy, nil
}

func (f *fakeStore) PresignGet(ctx context.Context, bucket, key string, expiresIn time.Duration) (string, error) {
	return "", nil
}
func (f *fakeStore) Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	return nil
}
func (f *fakeStore) Delete(ctx context.Context, bucket, key string) error { return nil }
func (f *fakeStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	return nil, nil
}

func TestDeriveKey(t *testing.T) {
	at := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	key := DeriveKey(at, "user-1", "draft-1", "images", "photo.jpg")

	segments := splitKey(key)
	assert.Equal(t, "2026", segments[0])
	assert.Equal(t, "03", segments[1])
	assert.Equal(t, "05", segments[2])
	assert.Equal(t, "user-1", segments[3])
	assert.Equal(t, "draft-1", segments[4])
	assert.Equal(t, "images", segments[5])
	assert.True(t, len(segments[6]) > len(".jpg"))

	owner, ok := OwnerFromPath(key)
	require.True(t, ok)
	assert.Equal(t, "user-1", owner)
}

func TestDeriveKeyDeterministic(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := DeriveKey(at, "u", "d", "models", "part.stl")
	b := DeriveKey(at, "u", "d", "models", "part.stl")
	assert.Equal(t, a, b, "same inputs must derive the same key")

	c := DeriveKey(at, "u", "d", "models", "other.stl")
	assert.NotEqual(t, a, c, "different filenames must derive different keys")
}

func TestOwnerFromPathRejectsShortPaths(t *testing.T) {
	_, ok := OwnerFromPath("only/three/segments")
	assert.False(t, ok)
}

func TestAuthorizeRejectsUnknownKind(t *testing.T) {
	a := New(&fakeStore{}, DefaultKindConfigs(), time.Hour)
	_, err := a.Authorize(context.Background(), "user-1", Request{Kind: "video", Filename: "x.mp4", DraftID: "d"})
	assert.Error(t, err)
}

func TestAuthorizeRejectsMissingDraftID(t *testing.T) {
	a := New(&fakeStore{}, DefaultKindConfigs(), time.Hour)
	_, err := a.Authorize(context.Background(), "user-1", Request{Kind: "image", Filename: "x.jpg"})
	assert.Error(t, err)
}

func TestAuthorizeRejectsDisallowedContentType(t *testing.T) {
	a := New(&fakeStore{}, DefaultKindConfigs(), time.Hour)
	_, err := a.Authorize(context.Background(), "user-1", Request{
		Kind: "image", Filename: "x.jpg", DraftID: "d", ContentType: "application/zip",
	})
	assert.Error(t, err)
}

func TestAuthorizeSuccess(t *testing.T) {
	store := &fakeStore{policy: &objectstore.UploadPolicy{URL: "https://example.test", Key: "k"}}
	a := New(store, DefaultKindConfigs(), time.Hour)

	policy, err := a.Authorize(context.Background(), "user-1", Request{
		Kind: "image", Filename: "photo.jpg", DraftID: "draft-1", ContentType: "image/jpeg",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://example.test", policy.URL)
	assert.Equal(t, IncomingBucket, store.lastIn.Bucket)
	assert.Equal(t, "image/jpeg", store.lastIn.ContentType)
	assert.Equal(t, int64(5*1024*1024), store.lastIn.MaxSizeBytes)
}

func TestAuthorizeInfersContentTypeFromExtension(t *testing.T) {
	store := &fakeStore{policy: &objectstore.UploadPolicy{}}
	a := New(store, DefaultKindConfigs(), time.Hour)

	_, err := a.Authorize(context.Background(), "user-1", Request{
		Kind: "model", Filename: "part.stl", DraftID: "draft-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "model/stl", store.lastIn.ContentType)
}

func splitKey(key string) []string {
	var segments []string
	start := 0
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			segments = append(segments, key[start:i])
			start = i + 1
		}
	}
	segments = append(segments, key[start:])
	return segments
}
