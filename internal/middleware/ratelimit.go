package middleware

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/aggregw/internal/config"
	"github.com/vyrodovalexey/aggregw/internal/observability"
	"github.com/vyrodovalexey/aggregw/internal/proxy"
)

// IdleBucketTTL is how long a client's bucket survives without requests.
const IdleBucketTTL = 10 * time.Minute

type bucket struct {
	limiter *rate.Limiter
	seen    time.Time
}

// RateLimiter keeps one token bucket per client address.
type RateLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
	done    chan struct{}
	closed  bool
}

// NewRateLimiter allows each client rps requests per second with bursts
// of burst. A burst below 1 is raised to ceil(rps).
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = max(1, int(math.Ceil(rps)))
	}
	return &RateLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}
}

// NewRateLimiterFromConfig returns nil when rate limiting is disabled.
func NewRateLimiterFromConfig(cfg config.RateLimitConfig) *RateLimiter {
	if !cfg.Enabled {
		return nil
	}
	return NewRateLimiter(cfg.RequestsPerSecond, cfg.Burst)
}

// Allow takes a token for client. When none is available it reports how
// long the client should wait and takes nothing.
func (rl *RateLimiter) Allow(client string) (bool, time.Duration) {
	now := rl.now()

	rl.mu.Lock()
	b, ok := rl.buckets[client]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[client] = b
	}
	b.seen = now
	rl.mu.Unlock()

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	if wait := r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)
		return false, wait
	}
	return true, 0
}

// Sweep drops buckets idle for longer than idle and returns how many.
func (rl *RateLimiter) Sweep(idle time.Duration) int {
	cutoff := rl.now().Add(-idle)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	n := 0
	for client, b := range rl.buckets {
		if b.seen.Before(cutoff) {
			delete(rl.buckets, client)
			n++
		}
	}
	return n
}

// StartSweeper sweeps idle buckets in the background until Stop.
func (rl *RateLimiter) StartSweeper() {
	rl.mu.Lock()
	closed := rl.closed
	rl.mu.Unlock()
	if closed {
		return
	}

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Sweep(IdleBucketTTL)
			case <-rl.done:
				return
			}
		}
	}()
}

// Stop ends the sweeper. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if !rl.closed {
		rl.closed = true
		close(rl.done)
	}
}

// RateLimit rejects clients over their rate with a RATE_LIMITED envelope and a
// Retry-After header. A nil limiter disables the middleware.
func RateLimit(
	rl *RateLimiter,
	gateway string,
	metrics *observability.Metrics,
	logger *zap.Logger,
	skipPaths ...string,
) gin.HandlerFunc {
	if rl == nil {
		return func(c *gin.Context) { c.Next() }
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		for _, p := range skipPaths {
			if c.Request.URL.Path == p {
				c.Next()
				return
			}
		}

		client := c.ClientIP()
		ok, wait := rl.Allow(client)
		if ok {
			c.Next()
			return
		}

		if metrics != nil {
			metrics.RecordRateLimitHit()
		}
		logger.Debug("rate limited",
			zap.String("clientIP", client),
			zap.String("path", c.Request.URL.Path),
			zap.Duration("retryAfter", wait),
		)
		secs := max(1, int(math.Ceil(wait.Seconds())))
		c.Header("Retry-After", strconv.Itoa(secs))
		proxy.WriteError(c.Writer, proxy.NewRateLimitedError(), gateway)
		c.Abort()
	}
}
