package httpmiddleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultMaxKeys bounds how many callers are tracked at once.
const DefaultMaxKeys = 10000

// KeyFunc picks the bucket a request is charged against.
type KeyFunc func(c *gin.Context) string

// TokenBucket is an in-memory per-key rate limiter refilled at a fixed rate per minute.
type TokenBucket struct {
	capacity int
	rate     int
	now      func() time.Time
	maxKeys  int
	mu       sync.Mutex
	// buckets idle past a full refill expire; a fresh bucket starts full, so
	// expiry never loosens the limit.
	state *expirable.LRU[string, *bucket]
}

// Option customises a TokenBucket.
type Option func(*TokenBucket)

// WithMaxKeys caps the number of tracked keys; the least recently used is dropped.
func WithMaxKeys(n int) Option {
	return func(l *TokenBucket) {
		if n > 0 {
			l.maxKeys = n
		}
	}
}

type bucket struct {
	tokens int
	last   time.Time
}

// NewTokenBucket creates a limiter with capacity tokens refilled at perMinute.
// A non-positive perMinute disables limiting.
func NewTokenBucket(capacity, perMinute int, now func() time.Time, opts ...Option) *TokenBucket {
	if capacity <= 0 {
		capacity = perMinute
	}
	if now == nil {
		now = time.Now
	}
	l := &TokenBucket{
		capacity: capacity,
		rate:     perMinute,
		now:      now,
		maxKeys:  DefaultMaxKeys,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.state = expirable.NewLRU[string, *bucket](l.maxKeys, nil, l.refillTime())
	return l
}

// refillTime is how long an empty bucket takes to fill up again.
func (l *TokenBucket) refillTime() time.Duration {
	if l.rate <= 0 {
		return time.Minute
	}
	d := time.Duration(l.capacity) * time.Minute / time.Duration(l.rate)
	if d < time.Minute {
		d = time.Minute
	}
	return d
}

// ClientIP charges requests to the caller's address.
func ClientIP(c *gin.Context) string {
	if ip := c.ClientIP(); ip != "" {
		return "ip:" + ip
	}
	return "ip:unknown"
}

// Middleware enforces the limit on the key chosen by key, ClientIP when nil.
func (l *TokenBucket) Middleware(key KeyFunc) gin.HandlerFunc {
	if key == nil {
		key = ClientIP
	}
	return func(c *gin.Context) {
		if l.rate <= 0 {
			c.Next()
			return
		}
		if !l.Allow(key(c)) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// Allow takes one token from key's bucket if available.
func (l *TokenBucket) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	b, ok := l.state.Get(key)
	if !ok {
		l.state.Add(key, &bucket{tokens: l.capacity - 1, last: now})
		return true
	}
	// re-adding renews the idle expiry
	defer l.state.Add(key, b)
	refill := int(now.Sub(b.last).Minutes() * float64(l.rate))
	if refill > 0 {
		b.tokens += refill
		if b.tokens > l.capacity {
			b.tokens = l.capacity
		}
		b.last = now
	}
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// Len reports how many keys are tracked.
func (l *TokenBucket) Len() int { return l.state.Len() }
