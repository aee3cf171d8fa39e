package idempotency

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/meshforge/listings/pkg/cache"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: map[string][]byte{}}
}

func (f *fakeCache) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return nil, cache.ErrMiss
	}
	return v, nil
}

func (f *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

func (f *fakeCache) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	f.data[key] = value
	return true, nil
}

func (f *fakeCache) Del(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func newMiddleware() (*Middleware, *fakeCache) {
	c := newFakeCache()
	return New(c, time.Minute, time.Hour, zerolog.Nop()), c
}

func TestWrapPassesThroughWithoutIdempotencyKey(t *testing.T) {
	m, _ := newMiddleware()
	calls := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	})

	req := httptest.NewRequest(http.MethodPost, "/listings", nil)
	w := httptest.NewRecorder()
	m.Wrap(next).ServeHTTP(w, req)

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestWrapAcquiresLockAndRunsHandlerOnce(t *testing.T) {
	m, _ := newMiddleware()
	calls := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"listing-1"}`))
	})

	req := httptest.NewRequest(http.MethodPost, "/listings", nil)
	req.Header.Set("Idempotency-Key", "key-1")
	w := httptest.NewRecorder()
	m.Wrap(next).ServeHTTP(w, req)

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestWrapReturnsConflictWhenLockHeld(t *testing.T) {
	m, c := newMiddleware()
	// Simulate a request already in flight for this key.
	_, err := c.SetNX(context.Background(), "key-1:lock", []byte("1"), time.Minute)
	require.NoError(t, err)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run while the lock is held with no replay data")
	})

	req := httptest.NewRequest(http.MethodPost, "/listings", nil)
	req.Header.Set("Idempotency-Key", "key-1")
	w := httptest.NewRecorder()
	m.Wrap(next).ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestWrapReplaysStoredResponse(t *testing.T) {
	m, c := newMiddleware()
	stored := `{"status":201,"header":{"Content-Type":["application/json"]},"body":"eyJpZCI6Imxpc3RpbmctMSJ9"}`
	_ = c.Set(context.Background(), "key-1:data", []byte(stored), time.Hour)
	_, _ = c.SetNX(context.Background(), "key-1:lock", []byte("1"), time.Minute)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run on replay")
	})

	req := httptest.NewRequest(http.MethodPost, "/listings", nil)
	req.Header.Set("Idempotency-Key", "key-1")
	w := httptest.NewRecorder()
	m.Wrap(next).ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "true", w.Header().Get("X-Idempotency-Hit"))
}

func TestWrapReleasesLockOnServerError(t *testing.T) {
	m, c := newMiddleware()
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	req := httptest.NewRequest(http.MethodPost, "/listings", nil)
	req.Header.Set("Idempotency-Key", "key-1")
	w := httptest.NewRecorder()
	m.Wrap(next).ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	_, err := c.Get(context.Background(), "key-1:lock")
	assert.ErrorIs(t, err, cache.ErrMiss, "failed handler must release the lock so retries are possible")
}
