// Package sink implements the post-transaction sink (C7 collaborator): a
// Redis-backed durable queue that each worker enqueues one Transaction
// record per request into, at-least-once (invariant 2, §3). Grounded on
// the etalazz-vsa ratelimiter persistence package's Redis wrapper
// (minimal client-surface interface, context-scoped calls) and on §5's
// literal reconnect backoff formula.
package sink

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maegashira/maegashira/internal/txn"
)

// Key is the Redis list the sink RPUSHes encoded transactions onto.
const Key = "maegashira:transactions"

// minBackoff and maxBackoff bound the reconnect backoff clamp(exp(attempt),
// 1000ms, 20000ms) specified in §5.
const (
	minBackoff = 1 * time.Second
	maxBackoff = 20 * time.Second
)

// ringCapacity bounds the in-memory buffer used while disconnected from
// Redis; oldest records are dropped once full (§5).
const ringCapacity = 10_000

// Pusher is the minimal Redis surface the sink needs, satisfied by
// *redis.Client.
type Pusher interface {
	RPush(ctx context.Context, key string, values ...any) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// Client is the worker-shared post-transaction sink client. It is safe for
// concurrent use by every in-flight request handler.
type Client struct {
	redis Pusher
	log   *slog.Logger

	mu       sync.Mutex
	buf      []*txn.Transaction
	dropped  int64
	attempt  int
	lastConn time.Time

	flushTrigger chan struct{}
}

// New builds a Client around redis, starting its background flush loop.
// ctx governs the flush loop's lifetime; cancel it to stop flushing (the
// worker does this on shutdown, §4.7).
func New(ctx context.Context, redisClient Pusher, log *slog.Logger) *Client {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	c := &Client{
		redis:        redisClient,
		log:          log,
		flushTrigger: make(chan struct{}, 1),
	}
	go c.flushLoop(ctx)
	return c
}

// Enqueue implements engine.Sink: it buffers t for delivery, never
// blocking the request path on Redis availability.
func (c *Client) Enqueue(t *txn.Transaction) {
	c.mu.Lock()
	if len(c.buf) >= ringCapacity {
		c.buf = c.buf[1:]
		c.dropped++
	}
	c.buf = append(c.buf, t)
	c.mu.Unlock()

	select {
	case c.flushTrigger <- struct{}{}:
	default:
	}
}

// Dropped returns the count of transactions dropped from the in-memory
// ring because Redis was unreachable and the buffer filled, for metrics.
func (c *Client) Dropped() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

func (c *Client) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.flushTrigger:
			c.tryFlush(ctx)
		case <-ticker.C:
			c.tryFlush(ctx)
		}
	}
}

func (c *Client) tryFlush(ctx context.Context) {
	c.mu.Lock()
	if len(c.buf) == 0 {
		c.mu.Unlock()
		return
	}
	if !c.backoffElapsed() {
		c.mu.Unlock()
		return
	}
	pending := c.buf
	c.mu.Unlock()

	values := make([]any, 0, len(pending))
	for _, t := range pending {
		encoded, err := json.Marshal(t.MarshalFlat())
		if err != nil {
			c.log.Error("failed to encode transaction", "id", t.ID, "error", err)
			continue
		}
		values = append(values, encoded)
	}
	if len(values) == 0 {
		c.drain(len(pending))
		return
	}

	if err := c.redis.RPush(ctx, Key, values...).Err(); err != nil {
		c.recordFailure(err)
		return
	}
	c.recordSuccess(len(pending))
}

func (c *Client) backoffElapsed() bool {
	if c.attempt == 0 {
		return true
	}
	return time.Since(c.lastConn) >= backoffFor(c.attempt)
}

func (c *Client) recordFailure(err error) {
	c.mu.Lock()
	c.attempt++
	c.lastConn = time.Now()
	c.mu.Unlock()
	c.log.Warn("post-transaction sink push failed, will retry", "error", err, "backoff", backoffFor(c.attempt))
}

func (c *Client) recordSuccess(n int) {
	c.mu.Lock()
	c.attempt = 0
	c.mu.Unlock()
	c.drain(n)
}

func (c *Client) drain(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > len(c.buf) {
		n = len(c.buf)
	}
	c.buf = c.buf[n:]
}

// backoffFor implements clamp(exp(attempt), 1000ms, 20000ms) (§5) literally.
func backoffFor(attempt int) time.Duration {
	millis := math.Exp(float64(attempt))
	d := time.Duration(millis * float64(time.Millisecond))
	if d < minBackoff {
		return minBackoff
	}
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
