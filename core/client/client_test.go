package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/dispenser/core/client/queue"
	"github.com/carebridge/dispenser/core/model"
	"github.com/carebridge/dispenser/infra/logger"
)

func newTestClient(t *testing.T, cfg Config, store queue.Store) *Client {
	t.Helper()
	c, err := New(cfg, store, nil, logger.NopLogger{})
	require.NoError(t, err)
	c.sleep = func(time.Duration) {}
	return c
}

func TestGetCacheWithinTTL(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"value":1}`))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{PrimaryURL: srv.URL, CacheTTLSeconds: 60}, nil)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		resp, err := c.Get(context.Background(), "machine-status/RPI1", nil, true)
		require.NoError(t, err)
		assert.False(t, resp.Stale)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "second call must be served from cache")

	now = now.Add(61 * time.Second)
	_, err := c.Get(context.Background(), "machine-status/RPI1", nil, true)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "expired cache must refetch")
}

func TestGetStaleFallbackWhenOffline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"value":42}`))
	}))

	c := newTestClient(t, Config{PrimaryURL: srv.URL, CacheTTLSeconds: 1, MaxRetries: 1}, nil)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	_, err := c.Get(context.Background(), "schedules/today/RPI1", nil, true)
	require.NoError(t, err)

	srv.Close()
	now = now.Add(time.Hour)
	resp, err := c.Get(context.Background(), "schedules/today/RPI1", nil, true)
	require.NoError(t, err)
	assert.True(t, resp.Stale, "offline result must be marked stale")
	assert.JSONEq(t, `{"value":42}`, string(resp.Body))
}

func TestGetNoCacheNoServer(t *testing.T) {
	c := newTestClient(t, Config{PrimaryURL: "http://127.0.0.1:1", MaxRetries: 1}, nil)
	_, err := c.Get(context.Background(), "health", nil, true)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRetryTransientThenSuccess(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{PrimaryURL: srv.URL, MaxRetries: 3}, nil)
	resp, err := c.Get(context.Background(), "health", nil, false)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok"}`, string(resp.Body))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestPermanent4xxNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, Config{PrimaryURL: srv.URL, MaxRetries: 5}, nil)
	_, err := c.Get(context.Background(), "nope", nil, false)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "4xx must not be retried")
}

func TestRateLimitRetriedOnce(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{PrimaryURL: srv.URL, MaxRetries: 3}, nil)
	_, err := c.Get(context.Background(), "health", nil, false)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRateLimitRetriedWithSingleAttemptBudget(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{PrimaryURL: srv.URL, MaxRetries: 1}, nil)
	var sleeps []time.Duration
	c.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }

	_, err := c.Get(context.Background(), "health", nil, false)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls),
		"the rate-limit re-issue must not consume the attempt budget")
	assert.Equal(t, []time.Duration{2 * time.Second}, sleeps,
		"only the rate-limit pause, no retry delay on top")
}

func TestRateLimitSecondHitIsPermanent(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t, Config{PrimaryURL: srv.URL, MaxRetries: 5}, nil)
	_, err := c.Get(context.Background(), "health", nil, false)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.Code)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls),
		"a second 429 is surfaced, not retried again")
}

func TestMalformedBodyIsPermanent(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{PrimaryURL: srv.URL, MaxRetries: 3}, nil)
	_, err := c.Get(context.Background(), "health", nil, false)
	assert.ErrorIs(t, err, ErrMalformed)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFailoverToBackup(t *testing.T) {
	backup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"from":"backup"}`))
	}))
	defer backup.Close()

	c := newTestClient(t, Config{
		PrimaryURL: "http://127.0.0.1:1",
		BackupURL:  backup.URL,
		MaxRetries: 1,
	}, nil)
	resp, err := c.Get(context.Background(), "health", nil, false)
	require.NoError(t, err)
	assert.Equal(t, model.RoleBackup, resp.Server)
	assert.JSONEq(t, `{"from":"backup"}`, string(resp.Body))
}

func TestPostQueuedWhenOffline(t *testing.T) {
	dir := t.TempDir()
	store, err := queue.NewJSONLStore(filepath.Join(dir, "queue.jsonl"))
	require.NoError(t, err)

	c := newTestClient(t, Config{PrimaryURL: "http://127.0.0.1:1", MaxRetries: 1}, store)
	resp, err := c.Post(context.Background(), "dispense-result", map[string]string{"k_uid": "K001"})
	require.NoError(t, err)
	assert.True(t, resp.Queued)

	reqs, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, "dispense-result", reqs[0].Endpoint)
	assert.JSONEq(t, `{"k_uid":"K001"}`, string(reqs[0].Payload))
}

func TestFlushDeliversQueuedRequests(t *testing.T) {
	dir := t.TempDir()
	store, err := queue.NewJSONLStore(filepath.Join(dir, "queue.jsonl"))
	require.NoError(t, err)

	var delivered int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			atomic.AddInt32(&delivered, 1)
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{PrimaryURL: srv.URL, MaxRetries: 1}, store)
	require.NoError(t, store.Append(context.Background(), queue.Request{
		ID: "q1", Method: "POST", Endpoint: "confirm",
		Payload: []byte(`{"uid":"K001"}`), EnqueuedAt: time.Now(),
	}))

	require.NoError(t, c.FlushQueue(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&delivered))
	reqs, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, reqs, "delivered request must leave the queue")
}

func TestFlushAbandonsAfterMaxRetries(t *testing.T) {
	dir := t.TempDir()
	store, err := queue.NewJSONLStore(filepath.Join(dir, "queue.jsonl"))
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			_, _ = w.Write([]byte(`{}`))
			return
		}
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(t, Config{PrimaryURL: srv.URL, MaxRetries: 1, QueueMaxRetries: 2}, store)
	require.NoError(t, store.Append(context.Background(), queue.Request{
		ID: "q1", Method: "POST", Endpoint: "confirm",
		Payload: []byte(`{"uid":"K001"}`), EnqueuedAt: time.Now(),
	}))

	require.NoError(t, c.FlushQueue(context.Background()))
	reqs, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, 1, reqs[0].Retries)

	require.NoError(t, c.FlushQueue(context.Background()))
	reqs, err = store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, reqs, "request past its retry budget must be dropped")
}

func TestCheckHealthPublishesTransitions(t *testing.T) {
	healthy := int32(1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.LoadInt32(&healthy) == 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{PrimaryURL: srv.URL, BackupURL: "http://127.0.0.1:1"}, nil)
	updates := c.HealthUpdates()

	// First check: backup is assumed online until checked, so a transition
	// fires for the backup going offline.
	c.CheckHealth(context.Background())
	st := <-updates
	assert.True(t, st.PrimaryOnline)
	assert.False(t, st.BackupOnline)
	assert.Equal(t, model.RolePrimary, st.Active)

	atomic.StoreInt32(&healthy, 0)
	c.CheckHealth(context.Background())
	st = <-updates
	assert.False(t, st.PrimaryOnline)

	atomic.StoreInt32(&healthy, 1)
	c.CheckHealth(context.Background())
	st = <-updates
	assert.True(t, st.PrimaryOnline)
	assert.Equal(t, model.RolePrimary, st.Active, "failback to primary is automatic")
}

func TestCacheEviction(t *testing.T) {
	cache := newResponseCache(time.Minute, 2)
	now := time.Unix(0, 0)
	cache.set("a", []byte(`1`), now)
	cache.set("b", []byte(`2`), now.Add(time.Second))
	cache.set("c", []byte(`3`), now.Add(2*time.Second))
	assert.Equal(t, 2, cache.len())
	_, ok := cache.getAny("a")
	assert.False(t, ok, "oldest entry must be evicted")
	_, ok = cache.getAny("c")
	assert.True(t, ok)
}
