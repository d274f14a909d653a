package httpkit

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"achievement_engine/platform/logger"
)

const limiterIdleTTL = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter keeps one token bucket per client IP. Buckets idle for
// longer than limiterIdleTTL are dropped on the next prune.
type IPRateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*clientLimiter
	rate      rate.Limit
	burst     int
	lastPrune time.Time
	now       func() time.Time
	log       *logger.Logger
}

// NewIPRateLimiter creates a new IP-based rate limiter.
func NewIPRateLimiter(r rate.Limit, burst int, log *logger.Logger) *IPRateLimiter {
	return &IPRateLimiter{
		clients: make(map[string]*clientLimiter),
		rate:    r,
		burst:   burst,
		now:     time.Now,
		log:     log,
	}
}

// NewExportRateLimiter creates a stricter limiter for export endpoints,
// which scan every progress record (6 requests per minute).
func NewExportRateLimiter(log *logger.Logger) *IPRateLimiter {
	return NewIPRateLimiter(rate.Limit(6.0/60.0), 3, log)
}

// Allow consumes one token for ip.
func (i *IPRateLimiter) Allow(ip string) bool {
	i.mu.Lock()
	now := i.now()
	if now.Sub(i.lastPrune) >= limiterIdleTTL {
		i.pruneLocked(now)
	}
	client, ok := i.clients[ip]
	if !ok {
		client = &clientLimiter{limiter: rate.NewLimiter(i.rate, i.burst)}
		i.clients[ip] = client
	}
	client.lastSeen = now
	i.mu.Unlock()

	return client.limiter.AllowN(now, 1)
}

// Len returns the number of tracked clients.
func (i *IPRateLimiter) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.clients)
}

func (i *IPRateLimiter) pruneLocked(now time.Time) {
	for ip, client := range i.clients {
		if now.Sub(client.lastSeen) > limiterIdleTTL {
			delete(i.clients, ip)
		}
	}
	i.lastPrune = now
}

// RateLimit returns a middleware that rate limits by IP.
func (i *IPRateLimiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !i.Allow(ip) {
			if i.log != nil {
				i.log.RateLimitExceeded(ip, c.Request.URL.Path)
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
