// Package gateway is a bounded, concurrency-limited HTTP client used by
// the Snapshot GraphQL, Discourse REST and Karma calls. The block-time
// oracle's explorer calls and chain JSON-RPC calls do not go through a
// Gateway. One Gateway instance covers
// one API family so its rate-limit bookkeeping isn't shared across
// unrelated hosts (spec §4.3).
package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/govindex/engine/internal/errs"
	"github.com/govindex/engine/internal/logging"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Priority selects which of the gateway's two lanes a job is queued on.
type Priority int

const (
	// PriorityLow is the default lane for routine polling.
	PriorityLow Priority = iota
	// PriorityHigh jumps ahead of PriorityLow jobs in the worker pool.
	PriorityHigh
)

const (
	defaultQueueSize   = 1000
	defaultConcurrency = 5
	defaultMaxRetries  = 5
	defaultUserAgent   = "govindex-engine/1.0"
)

// Config tunes one Gateway's queue depth, concurrency, and retry budget.
type Config struct {
	Name              string
	QueueSize         int
	Concurrency       int
	MaxRetries        int
	UserAgent         string
	Referer           string
	RequestsPerSecond float64 // steady-state pacing; 0 disables the token bucket
	// RateLimitThreshold is the vendor-reported "remaining" floor below
	// which the gateway preemptively sleeps until reset_at, rather than
	// waiting to be 429'd (spec §4.3; default 5 for karma, 30 for Snapshot).
	RateLimitThreshold int
}

// job is one unit of in-flight work: build a request, hand back a response.
type job struct {
	ctx      context.Context
	priority Priority
	build    func(ctx context.Context) (*http.Request, error)
	result   chan jobResult
}

type jobResult struct {
	resp *http.Response
	body []byte
	err  error
}

// Gateway serializes outbound HTTP traffic for one API family behind a
// bounded queue, a concurrency semaphore, two priority lanes, and
// exponential-backoff retry that honors Retry-After and vendor
// rate-limit headers.
type Gateway struct {
	cfg    Config
	client *http.Client
	logger *logging.Logger

	highQueue chan job
	lowQueue  chan job
	sem       chan struct{}
	limiter   *rate.Limiter

	mu         sync.RWMutex
	limitState rateLimitState

	closeOnce sync.Once
	done      chan struct{}
}

type rateLimitState struct {
	limit     int
	remaining int
	resetAt   time.Time
}

// New builds and starts a Gateway's fixed worker pool.
func New(cfg Config, logger *logging.Logger) *Gateway {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	g := &Gateway{
		cfg:       cfg,
		client:    &http.Client{Timeout: 30 * time.Second},
		logger:    logger.Named("gateway").With(zap.String("family", cfg.Name)),
		highQueue: make(chan job, cfg.QueueSize),
		lowQueue:  make(chan job, cfg.QueueSize),
		sem:       make(chan struct{}, cfg.Concurrency),
		done:      make(chan struct{}),
	}
	if cfg.RequestsPerSecond > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(math.Max(1, cfg.RequestsPerSecond)))
	}

	for i := 0; i < cfg.Concurrency; i++ {
		go g.worker()
	}

	return g
}

// Close stops accepting new work; in-flight jobs still complete.
func (g *Gateway) Close() {
	g.closeOnce.Do(func() { close(g.done) })
}

// Do enqueues an HTTP request and blocks until it completes, retries
// exhaust, or ctx is canceled. buildReq is called again on every retry
// attempt so the caller can refresh signed params if needed.
func (g *Gateway) Do(ctx context.Context, priority Priority, buildReq func(ctx context.Context) (*http.Request, error)) (*http.Response, []byte, error) {
	j := job{
		ctx:      ctx,
		priority: priority,
		build:    buildReq,
		result:   make(chan jobResult, 1),
	}

	queue := g.lowQueue
	if priority == PriorityHigh {
		queue = g.highQueue
	}

	select {
	case queue <- j:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case <-g.done:
		return nil, nil, &errs.TransientNetwork{Cause: context.Canceled}
	}

	select {
	case r := <-j.result:
		return r.resp, r.body, r.err
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// worker drains the high-priority lane first, falling back to the low
// one, bounded by the shared concurrency semaphore.
func (g *Gateway) worker() {
	for {
		var j job
		select {
		case <-g.done:
			return
		case j = <-g.highQueue:
		default:
			select {
			case <-g.done:
				return
			case j = <-g.highQueue:
			case j = <-g.lowQueue:
			}
		}

		g.sem <- struct{}{}
		j.result <- g.execute(j)
		<-g.sem
	}
}

func (g *Gateway) execute(j job) jobResult {
	var lastErr error

	for attempt := 1; attempt <= g.cfg.MaxRetries; attempt++ {
		if wait := g.waitForRateLimit(); wait > 0 {
			select {
			case <-time.After(wait):
			case <-j.ctx.Done():
				return jobResult{err: j.ctx.Err()}
			}
		}

		if g.limiter != nil {
			if err := g.limiter.Wait(j.ctx); err != nil {
				return jobResult{err: err}
			}
		}

		req, err := j.build(j.ctx)
		if err != nil {
			return jobResult{err: err}
		}
		req.Header.Set("User-Agent", g.cfg.UserAgent)
		if g.cfg.Referer != "" {
			req.Header.Set("Referer", g.cfg.Referer)
		}

		resp, err := g.client.Do(req)
		if err != nil {
			lastErr = &errs.TransientNetwork{Cause: err}
			g.backoff(attempt, 0)
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = &errs.TransientNetwork{Cause: readErr}
			g.backoff(attempt, 0)
			continue
		}
		resp.Body = io.NopCloser(bytes.NewReader(body))

		g.recordRateLimitHeaders(resp.Header)

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			lastErr = &errs.TransientNetwork{Cause: fmt.Errorf("rate limited: status %d", resp.StatusCode)}
			g.backoff(attempt, retryAfter)
			continue
		case resp.StatusCode >= 500:
			lastErr = &errs.TransientNetwork{Cause: fmt.Errorf("server error: status %d", resp.StatusCode)}
			g.backoff(attempt, 0)
			continue
		case resp.StatusCode >= 400:
			return jobResult{resp: resp, body: body, err: &errs.RemoteRejected{Status: resp.StatusCode, Body: string(body)}}
		default:
			return jobResult{resp: resp, body: body, err: nil}
		}
	}

	return jobResult{err: &errs.MaxRetriesExceeded{Attempts: g.cfg.MaxRetries, LastErr: lastErr}}
}

// backoff sleeps an exponentially increasing, jittered delay, honoring
// a server-requested minimum (e.g. Retry-After) when larger.
func (g *Gateway) backoff(attempt int, minDelay time.Duration) {
	base := time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
	jitter := time.Duration(rand.Int63n(int64(base) + 1))
	delay := base + jitter
	if minDelay > delay {
		delay = minDelay
	}
	time.Sleep(delay)
}

func (g *Gateway) recordRateLimitHeaders(h http.Header) {
	limit, lok := parseIntHeader(h, "X-RateLimit-Limit", "RateLimit-Limit")
	remaining, rok := parseIntHeader(h, "X-RateLimit-Remaining", "RateLimit-Remaining")
	if !lok && !rok {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if lok {
		g.limitState.limit = limit
	}
	if rok {
		g.limitState.remaining = remaining
	}
	if resetSecs, ok := parseIntHeader(h, "X-RateLimit-Reset", "RateLimit-Reset"); ok {
		g.limitState.resetAt = time.Now().Add(time.Duration(resetSecs) * time.Second)
	}
}

// waitForRateLimit returns how long to pause before the next attempt
// when the last response reported an exhausted vendor quota.
func (g *Gateway) waitForRateLimit() time.Duration {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.limitState.remaining > g.cfg.RateLimitThreshold || g.limitState.resetAt.IsZero() {
		return 0
	}
	if d := time.Until(g.limitState.resetAt); d > 0 {
		return d
	}
	return 0
}

func parseIntHeader(h http.Header, keys ...string) (int, bool) {
	for _, k := range keys {
		if v := h.Get(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}
