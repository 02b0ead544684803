// Package client implements the resilient request layer between the
// appliance and the medication service: primary/backup failover, bounded
// retry, response caching and a durable offline queue for writes.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/dispenser/core/client/queue"
	"github.com/carebridge/dispenser/core/logger"
	"github.com/carebridge/dispenser/core/metrics"
	"github.com/carebridge/dispenser/core/model"
	"github.com/carebridge/dispenser/internal/eventbus"
)

// ErrUnavailable is returned when every server failed and no cached value
// exists for the call.
var ErrUnavailable = errors.New("client: no server reachable")

// ErrMalformed is returned when a server answered 200 with a body that is
// not valid JSON. Never retried.
var ErrMalformed = errors.New("client: malformed response body")

// StatusError reports a non-200 response. 5xx are transient and retried;
// 4xx (except 429) are permanent.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string { return fmt.Sprintf("server returned status %d", e.Code) }

// Config parameterizes the resilient client.
type Config struct {
	PrimaryURL            string `json:"primary_url"`
	BackupURL             string `json:"backup_url"`
	APIKey                string `json:"api_key"`
	TimeoutSeconds        int    `json:"timeout_seconds"`
	MaxRetries            int    `json:"max_retries"`
	RetryDelayMS          int    `json:"retry_delay_ms"`
	RetryBackoff          bool   `json:"retry_backoff"`
	CacheTTLSeconds       int    `json:"cache_ttl_seconds"`
	CacheCapacity         int    `json:"cache_capacity"`
	HealthIntervalSeconds int    `json:"health_interval_seconds"`
	FlushIntervalSeconds  int    `json:"flush_interval_seconds"`
	QueueMaxRetries       int    `json:"queue_max_retries"`
	SlowThresholdMS       int    `json:"slow_threshold_ms"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 15
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelayMS <= 0 {
		c.RetryDelayMS = 500
	}
	if c.CacheTTLSeconds <= 0 {
		c.CacheTTLSeconds = 60
	}
	if c.CacheCapacity <= 0 {
		c.CacheCapacity = 50
	}
	if c.HealthIntervalSeconds <= 0 {
		c.HealthIntervalSeconds = 30
	}
	if c.FlushIntervalSeconds <= 0 {
		c.FlushIntervalSeconds = 30
	}
	if c.QueueMaxRetries <= 0 {
		c.QueueMaxRetries = 3
	}
	if c.SlowThresholdMS <= 0 {
		c.SlowThresholdMS = 5000
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.PrimaryURL == "" {
		return fmt.Errorf("primary_url is required")
	}
	return nil
}

// Response is the envelope returned by Get and Post. Stale marks a cached
// value served past its TTL because no server was reachable; Queued marks a
// write accepted into the offline queue instead of being delivered.
type Response struct {
	Body   json.RawMessage
	Stale  bool
	Queued bool
	Server model.ServerRole
}

// Client issues request/response exchanges with failover, retry, caching
// and offline queuing. The health check and queue flusher run from Run;
// everything else is safe for use from the single control loop.
type Client struct {
	cfg       Config
	http      *http.Client
	log       logger.Logger
	sink      metrics.Sink
	cache     *responseCache
	store     queue.Store
	healthBus *eventbus.TypedBus[model.HealthStatus]
	health    *healthState

	now   func() time.Time
	sleep func(time.Duration)
}

// New creates a Client. store may be nil when offline queuing is disabled;
// sink may be nil.
func New(cfg Config, store queue.Store, sink metrics.Sink, log logger.Logger) (*Client, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	c := &Client{
		cfg:       cfg,
		http:      &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		log:       log,
		sink:      sink,
		cache:     newResponseCache(time.Duration(cfg.CacheTTLSeconds)*time.Second, cfg.CacheCapacity),
		store:     store,
		healthBus: eventbus.NewTyped[model.HealthStatus](),
		health:    newHealthState(cfg.BackupURL != ""),
		now:       time.Now,
		sleep:     time.Sleep,
	}
	return c, nil
}

// Run drives the background health check and offline-queue flusher until the
// context is canceled. Neither task ever touches orchestrator state; they
// only read and write the client's own health, cache and queue.
func (c *Client) Run(ctx context.Context) {
	healthTick := time.NewTicker(time.Duration(c.cfg.HealthIntervalSeconds) * time.Second)
	flushTick := time.NewTicker(time.Duration(c.cfg.FlushIntervalSeconds) * time.Second)
	defer healthTick.Stop()
	defer flushTick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-healthTick.C:
			c.CheckHealth(ctx)
		case <-flushTick.C:
			if err := c.FlushQueue(ctx); err != nil {
				c.log.Errorf("queue flush: %v", err)
			}
		}
	}
}

// Health returns the current reachability snapshot.
func (c *Client) Health() model.HealthStatus { return c.health.snapshot() }

// HealthUpdates returns a channel receiving a snapshot on every transition.
func (c *Client) HealthUpdates() <-chan model.HealthStatus { return c.healthBus.Subscribe() }

// Close releases the queue store and the health bus.
func (c *Client) Close() error {
	c.healthBus.Close()
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// CheckHealth pings both servers and updates the failover state. A primary
// recovery fails back automatically.
func (c *Client) CheckHealth(ctx context.Context) {
	primary := c.ping(ctx, c.cfg.PrimaryURL)
	backup := c.cfg.BackupURL != "" && c.ping(ctx, c.cfg.BackupURL)
	if changed, st := c.health.update(primary, backup, c.now()); changed {
		c.log.Warnf("server health changed: primary=%v backup=%v active=%s",
			st.PrimaryOnline, st.BackupOnline, st.Active)
		c.healthBus.Publish(st)
	}
}

func (c *Client) ping(ctx context.Context, base string) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, joinURL(base, "health"), nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// Get performs a cached GET. Within the TTL the cache answers without a
// network call. When every server is unreachable the most recent cached
// value is served regardless of staleness, marked Stale.
func (c *Client) Get(ctx context.Context, endpoint string, params url.Values, useCache bool) (Response, error) {
	key := cacheKey(http.MethodGet, endpoint, params)
	if useCache {
		if body, ok := c.cache.get(key, c.now()); ok {
			return Response{Body: body, Server: c.health.snapshot().Active}, nil
		}
	}
	body, role, err := c.exchange(ctx, http.MethodGet, endpoint, params, nil)
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			if stale, ok := c.cache.getAny(key); ok {
				c.log.Warnf("serving stale cache for %s: %v", endpoint, err)
				return Response{Body: stale, Stale: true}, nil
			}
		}
		return Response{}, err
	}
	if useCache {
		c.cache.set(key, body, c.now())
	}
	return Response{Body: body, Server: role}, nil
}

// Post performs a write. Under total failure the request is appended to the
// durable offline queue and a Queued response is returned; the background
// flusher re-attempts it later in FIFO order.
func (c *Client) Post(ctx context.Context, endpoint string, payload any) (Response, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("encode payload: %w", err)
	}
	body, role, err := c.exchange(ctx, http.MethodPost, endpoint, nil, raw)
	if err != nil {
		if errors.Is(err, ErrUnavailable) && c.store != nil {
			req := queue.Request{
				ID:         uuid.NewString(),
				Method:     http.MethodPost,
				Endpoint:   endpoint,
				Payload:    raw,
				EnqueuedAt: c.now(),
			}
			if qerr := c.store.Append(ctx, req); qerr != nil {
				return Response{}, fmt.Errorf("queue append: %w", qerr)
			}
			c.log.Warnf("servers unreachable, queued %s %s", http.MethodPost, endpoint)
			return Response{Queued: true}, nil
		}
		return Response{}, err
	}
	return Response{Body: body, Server: role}, nil
}

// FlushQueue re-attempts queued writes in FIFO order. An entry is removed on
// success or dropped and logged after exceeding the retry budget. Flushing
// is skipped entirely while no server is reachable.
func (c *Client) FlushQueue(ctx context.Context) error {
	if c.store == nil || !c.health.snapshot().Online() {
		return nil
	}
	reqs, err := c.store.List(ctx)
	if err != nil {
		return err
	}
	for _, req := range reqs {
		_, _, err := c.exchange(ctx, req.Method, req.Endpoint, nil, req.Payload)
		if err == nil {
			if err := c.store.Remove(ctx, req.ID); err != nil {
				return err
			}
			c.log.Infof("delivered queued request %s %s", req.Method, req.Endpoint)
			continue
		}
		req.Retries++
		if req.Retries >= c.cfg.QueueMaxRetries {
			if err := c.store.Remove(ctx, req.ID); err != nil {
				return err
			}
			c.log.Errorf("abandoning queued request %s %s after %d attempts: %v",
				req.Method, req.Endpoint, req.Retries, err)
			continue
		}
		if err := c.store.Update(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

// QueueDepth reports the number of pending offline requests. Diagnostic.
func (c *Client) QueueDepth(ctx context.Context) (int, error) {
	if c.store == nil {
		return 0, nil
	}
	reqs, err := c.store.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(reqs), nil
}

// exchange tries the active server first, then the other one. A permanent
// failure (4xx, malformed body) is surfaced immediately without trying the
// second server.
func (c *Client) exchange(ctx context.Context, method, endpoint string, params url.Values, body []byte) (json.RawMessage, model.ServerRole, error) {
	var lastErr error
	for _, role := range c.health.order() {
		base := c.baseURL(role)
		if base == "" {
			continue
		}
		b, err := c.tryServer(ctx, role, base, method, endpoint, params, body)
		if err == nil {
			return b, role, nil
		}
		if isPermanent(err) {
			return nil, role, err
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no server configured")
	}
	return nil, "", fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

// tryServer applies the bounded retry policy against a single server. A 429
// gets one dedicated re-issue after a fixed pause; it does not consume the
// transient attempt budget and skips the normal retry delay.
func (c *Client) tryServer(ctx context.Context, role model.ServerRole, base, method, endpoint string, params url.Values, body []byte) (json.RawMessage, error) {
	delay := time.Duration(c.cfg.RetryDelayMS) * time.Millisecond
	retried429 := false
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			c.sleep(delay)
			if c.cfg.RetryBackoff {
				delay *= 2
			}
		}
		b, status, err := c.do(ctx, role, base, method, endpoint, params, body)
		if err != nil {
			lastErr = err
			continue
		}
		if status == http.StatusTooManyRequests && !retried429 {
			retried429 = true
			c.log.Warnf("rate limited on %s, retrying once", endpoint)
			c.sleep(2 * time.Second)
			b, status, err = c.do(ctx, role, base, method, endpoint, params, body)
			if err != nil {
				lastErr = err
				continue
			}
		}
		switch {
		case status == http.StatusOK:
			if !json.Valid(b) {
				return nil, ErrMalformed
			}
			return b, nil
		case status >= 500:
			lastErr = &StatusError{Code: status}
		default:
			return nil, &StatusError{Code: status}
		}
	}
	return nil, lastErr
}

// do performs one HTTP exchange, timing it and flagging slow calls.
func (c *Client) do(ctx context.Context, role model.ServerRole, base, method, endpoint string, params url.Values, body []byte) ([]byte, int, error) {
	u := joinURL(base, endpoint)
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := c.now()
	resp, err := c.http.Do(req)
	elapsed := c.now().Sub(start)
	slow := elapsed > time.Duration(c.cfg.SlowThresholdMS)*time.Millisecond
	if slow {
		c.log.Warnf("slow call: %s %s took %s", method, endpoint, elapsed)
	}
	statusLabel := "error"
	defer func() {
		if rr, ok := c.sink.(metrics.RequestRecorder); ok {
			_ = rr.RecordRequest(metrics.RequestEvent{
				Endpoint: endpoint,
				Method:   method,
				Server:   string(role),
				Status:   statusLabel,
				Duration: elapsed,
				Slow:     slow,
			})
		}
	}()
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	statusLabel = fmt.Sprintf("%d", resp.StatusCode)
	return b, resp.StatusCode, nil
}

func (c *Client) baseURL(role model.ServerRole) string {
	if role == model.RoleBackup {
		return c.cfg.BackupURL
	}
	return c.cfg.PrimaryURL
}

func isPermanent(err error) bool {
	if errors.Is(err, ErrMalformed) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 400 && se.Code < 500
	}
	return false
}

func joinURL(base, endpoint string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(endpoint, "/")
}

func cacheKey(method, endpoint string, params url.Values) string {
	if len(params) == 0 {
		return method + " " + endpoint
	}
	return method + " " + endpoint + "?" + params.Encode()
}
