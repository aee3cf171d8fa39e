// Package idempotency implements the lock-and-replay middleware
// applied to every mutating endpoint when the client sends an
// Idempotency-Key header, following the teacher's middleware idiom of
// a struct wrapping http.Handler that mutates the request/response
// around a call to the next handler.
package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/meshforge/listings/pkg/cache"
	"github.com/meshforge/listings/pkg/metrics"
	"github.com/rs/zerolog"
)

// headerDenyList are response headers never replayed verbatim and
// never captured into the persisted record.
var headerDenyList = map[string]bool{
	"Date":                         true,
	"Content-Length":               true,
	"Connection":                   true,
	"Access-Control-Allow-Origin":  true,
	"Access-Control-Allow-Methods": true,
	"Access-Control-Allow-Headers": true,
}

// Middleware is the idempotency lock-and-replay layer.
type Middleware struct {
	cache    cache.Cache
	lockTTL  time.Duration
	dataTTL  time.Duration
	logger   zerolog.Logger
}

// New builds a Middleware over the given cache with the configured
// lock and data TTLs.
func New(c cache.Cache, lockTTL, dataTTL time.Duration, logger zerolog.Logger) *Middleware {
	return &Middleware{cache: c, lockTTL: lockTTL, dataTTL: dataTTL, logger: logger}
}

type storedResponse struct {
	Status int                 `json:"status"`
	Header map[string][]string `json:"header"`
	Body   []byte              `json:"body"`
}

// Wrap returns an http.Handler that applies the idempotency contract
// around next when the client supplies an Idempotency-Key header, and
// otherwise calls next directly.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		lockKey := key + ":lock"
		dataKey := key + ":data"
		ctx := r.Context()

		acquired, err := m.cache.SetNX(ctx, lockKey, []byte("1"), m.lockTTL)
		if err != nil {
			m.logger.Error().Err(err).Msg("idempotency lock check failed")
			http.Error(w, `{"error_code":"INTERNAL","message":"internal error"}`, http.StatusInternalServerError)
			return
		}

		if !acquired {
			if m.replayIfPresent(ctx, w, dataKey) {
				metrics.IdempotencyOutcomes.WithLabelValues("replayed").Inc()
				return
			}
			metrics.IdempotencyOutcomes.WithLabelValues("conflict").Inc()
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error_code":"CONFLICT","message":"request with this idempotency key is still in flight"}`))
			return
		}

		metrics.IdempotencyOutcomes.WithLabelValues("acquired").Inc()

		rec := newRecorder(w)
		next.ServeHTTP(rec, r)
		rec.flush()

		if rec.status >= 500 || rec.status == http.StatusTooManyRequests {
			if err := m.cache.Del(context.Background(), lockKey); err != nil {
				m.logger.Warn().Err(err).Msg("failed to release idempotency lock after failed handler")
			}
			return
		}

		// Persist on a detached context so a slow cache write never
		// blocks the response already flushed to the client.
		go m.persist(dataKey, lockKey, rec.status, rec.header, rec.body.Bytes())
	})
}

func (m *Middleware) replayIfPresent(ctx context.Context, w http.ResponseWriter, dataKey string) bool {
	raw, err := m.cache.Get(ctx, dataKey)
	if err != nil {
		return false
	}
	var resp storedResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		m.logger.Error().Err(err).Msg("corrupt idempotency record")
		return false
	}
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("X-Idempotency-Hit", "true")
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
	return true
}

func (m *Middleware) persist(dataKey, lockKey string, status int, header http.Header, body []byte) {
	stored := storedResponse{Status: status, Header: map[string][]string{}, Body: body}
	for k, vs := range header {
		if headerDenyList[k] {
			continue
		}
		stored.Header[k] = vs
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to marshal idempotency record")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.cache.Set(ctx, dataKey, raw, m.dataTTL); err != nil {
		m.logger.Error().Err(err).Msg("failed to persist idempotency record")
		return
	}
	if err := m.cache.Del(ctx, lockKey); err != nil {
		m.logger.Warn().Err(err).Msg("failed to release idempotency lock after persist")
	}
}

// recorder buffers the handler's response so it can be inspected
// before deciding whether to persist it.
type recorder struct {
	underlying http.ResponseWriter
	header     http.Header
	status     int
	body       bytes.Buffer
	wroteHead  bool
}

func newRecorder(w http.ResponseWriter) *recorder {
	return &recorder{underlying: w, header: make(http.Header), status: http.StatusOK}
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) WriteHeader(status int) {
	if r.wroteHead {
		return
	}
	r.status = status
	r.wroteHead = true
}

func (r *recorder) Write(b []byte) (int, error) {
	if !r.wroteHead {
		r.WriteHeader(http.StatusOK)
	}
	return r.body.Write(b)
}

// flush copies the buffered response to the real ResponseWriter.
func (r *recorder) flush() {
	dst := r.underlying.Header()
	for k, vs := range r.header {
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
	r.underlying.WriteHeader(r.status)
	_, _ = r.underlying.Write(r.body.Bytes())
}
