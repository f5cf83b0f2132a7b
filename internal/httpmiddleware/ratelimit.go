package httpmiddleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"messgate/internal/auth"
)

// KeyFunc picks the bucket a request is charged to.
type KeyFunc func(c *gin.Context) string

// ClientIP keys requests by remote address.
func ClientIP(c *gin.Context) string {
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	return "unknown"
}

// PrincipalOrIP keys authenticated requests by subject and the rest by
// remote address. It must run after auth.Authenticate to see the subject.
func PrincipalOrIP(c *gin.Context) string {
	if claims, ok := auth.FromContext(c); ok {
		return "sub:" + claims.Subject
	}
	return ClientIP(c)
}

type entry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter keeps one token bucket per key and evicts idle keys.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	key     KeyFunc

	mu      sync.Mutex
	buckets map[string]*entry

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter allows perMinute requests per key with a burst of the same
// size. Idle keys are dropped after twice the cleanup interval.
func NewRateLimiter(perMinute int, key KeyFunc, cleanup time.Duration) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	if key == nil {
		key = ClientIP
	}
	if cleanup <= 0 {
		cleanup = 5 * time.Minute
	}
	rl := &RateLimiter{
		limit:   rate.Limit(float64(perMinute) / 60.0),
		burst:   perMinute,
		idleTTL: 2 * cleanup,
		key:     key,
		buckets: make(map[string]*entry),
		stopCh:  make(chan struct{}),
	}
	go rl.cleanupLoop(cleanup)
	return rl
}

// Stop ends the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// Middleware rejects requests over the limit with 429 and Retry-After.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		k := rl.key(c)
		if !rl.allow(k, time.Now()) {
			slog.Warn("rate limit exceeded", slog.String("key", k), slog.String("path", c.FullPath()))
			c.Header("Retry-After", strconv.Itoa(rl.retryAfter()))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error":   "RATE_LIMITED",
				"message": "too many requests",
			})
			return
		}
		c.Next()
	}
}

// Len reports how many keys are tracked.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

func (rl *RateLimiter) allow(key string, now time.Time) bool {
	rl.mu.Lock()
	e, ok := rl.buckets[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = e
	}
	e.lastAccess = now
	rl.mu.Unlock()
	return e.limiter.AllowN(now, 1)
}

func (rl *RateLimiter) retryAfter() int {
	sec := int(math.Ceil(1.0 / float64(rl.limit)))
	if sec < 1 {
		sec = 1
	}
	return sec
}

func (rl *RateLimiter) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			rl.evict(now)
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) evict(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for k, e := range rl.buckets {
		if now.Sub(e.lastAccess) > rl.idleTTL {
			delete(rl.buckets, k)
		}
	}
}
