package ginserver

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	gin "github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter allows Limit requests per Window for each caller, keyed by
// authenticated user id or client IP. Buckets idle for a full window are evicted.
type RateLimiter struct {
	Name    string
	Limit   int
	Window  time.Duration
	Message string
	Now     func() time.Time

	mu        sync.Mutex
	buckets   map[string]*limiterEntry
	lastSweep time.Time
}

func NewRateLimiter(name string, limit int, window time.Duration, message string) *RateLimiter {
	return &RateLimiter{Name: name, Limit: limit, Window: window, Message: message}
}

func (l *RateLimiter) Handle(c *gin.Context) {
	key := c.ClientIP()
	if p, ok := currentPrincipal(c); ok && p.ID != "" {
		key = "user:" + p.ID
	}
	allowed, retryAfter := l.allow(key)
	if !allowed {
		seconds := int(math.Ceil(retryAfter.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		c.Header("Retry-After", strconv.Itoa(seconds))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": l.message(), "kind": kindRateLimited})
		return
	}
	c.Next()
}

func (l *RateLimiter) allow(key string) (bool, time.Duration) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.buckets == nil {
		l.buckets = make(map[string]*limiterEntry)
	}
	l.sweep(now)
	entry, ok := l.buckets[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Every(l.Window/time.Duration(l.Limit)), l.Limit)}
		l.buckets[key] = entry
	}
	entry.lastSeen = now
	if entry.limiter.AllowN(now, 1) {
		return true, 0
	}
	r := entry.limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	return false, delay
}

func (l *RateLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.Window {
		return
	}
	l.lastSweep = now
	for key, entry := range l.buckets {
		if now.Sub(entry.lastSeen) >= l.Window {
			delete(l.buckets, key)
		}
	}
}

func (l *RateLimiter) message() string {
	if l.Message != "" {
		return l.Message
	}
	return "too many requests, please try again later"
}

func (l *RateLimiter) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}
