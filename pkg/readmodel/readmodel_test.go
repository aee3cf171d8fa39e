package readmodel

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/meshforge/listings/pkg/objectstore"
	"github.com/meshforge/listings/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	signedURL string
}

func (f *fakeStore) PresignPost(ctx context.Context, in objectstore.PostPolicyInput) (*objectstore.UploadPolicy, error) {
	return nil, nil
}
func (f *fakeStore) PresignGet(ctx context.Context, bucket, key string, expiresIn time.Duration) (string, error) {
	return f.signedURL, nil
}
func (f *fakeStore) Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	return nil
}
func (f *fakeStore) Delete(ctx context.Context, bucket, key string) error { return nil }
func (f *fakeStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	return nil, nil
}

func newTestAssembler(store objectstore.Store) *Assembler {
	return New(nil, store, nil, Config{
		PrivateBucket:   "models-private",
		PublicBaseURL:   "https://cdn.example.test/",
		ModelSignExpiry: 15 * time.Minute,
	})
}

func TestPublicURLComposition(t *testing.T) {
	a := newTestAssembler(&fakeStore{})
	assert.Equal(t, "https://cdn.example.test/images/thumb.jpg", a.publicURL("/images/thumb.jpg"))
	assert.Equal(t, "https://cdn.example.test/images/thumb.jpg", a.publicURL("images/thumb.jpg"))
}

func TestAssembleOnlyResolvesURLForValidFiles(t *testing.T) {
	a := newTestAssembler(&fakeStore{signedURL: "https://signed.example.test/model.stl"})

	now := time.Now().UTC()
	l := &types.Listing{
		ID:            "listing-1",
		Title:         "Dragon",
		ThumbnailPath: "images/thumb.jpg",
		State:         types.ListingActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	files := []*types.ListingFile{
		{ID: "f1", Kind: types.FileKindModel, Path: "models/dragon.stl", State: types.FileStateValid},
		{ID: "f2", Kind: types.FileKindImage, Path: "images/dragon.jpg", State: types.FileStatePending},
	}

	resp, err := a.Assemble(context.Background(), l, files)
	require.NoError(t, err)
	require.Len(t, resp.Files, 2)

	assert.Equal(t, "https://signed.example.test/model.stl", resp.Files[0].URL)
	assert.Empty(t, resp.Files[1].URL, "pending files must not expose a URL")
}

func TestAssembleFlattensDimensions(t *testing.T) {
	a := newTestAssembler(&fakeStore{})
	now := time.Now().UTC()
	l := &types.Listing{
		ID:         "listing-1",
		CreatedAt:  now,
		UpdatedAt:  now,
		Dimensions: &types.Dimensions{X: 10, Y: 20, Z: 30},
	}

	resp, err := a.Assemble(context.Background(), l, nil)
	require.NoError(t, err)
	require.NotNil(t, resp.DimXMM)
	assert.Equal(t, 10.0, *resp.DimXMM)
	assert.Equal(t, 20.0, *resp.DimYMM)
	assert.Equal(t, 30.0, *resp.DimZMM)
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "listing:abc-123", cacheKey("abc-123"))
}
