package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/conneroisu/vellum/internal/config"
	"github.com/conneroisu/vellum/internal/logging"
)

const bucketIdleTimeout = 10 * time.Minute

// RateLimiter keeps one rate.Limiter per client IP.
type RateLimiter struct {
	config        config.RateLimit
	refillRate    time.Duration
	limit         rate.Limit
	buckets       map[string]*tokenBucket
	mutex         sync.Mutex
	cleanupTicker *time.Ticker
	done          chan struct{}
	stopOnce      sync.Once
	logger        logging.Logger
	now           func() time.Time
}

type tokenBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter and starts its cleanup goroutine.
func NewRateLimiter(cfg config.RateLimit, logger logging.Logger) *RateLimiter {
	if cfg.RequestsPerMinute < 1 {
		cfg.RequestsPerMinute = 60
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	refill := time.Minute / time.Duration(cfg.RequestsPerMinute)
	rl := &RateLimiter{
		config:        cfg,
		refillRate:    refill,
		limit:         rate.Every(refill),
		buckets:       make(map[string]*tokenBucket),
		cleanupTicker: time.NewTicker(5 * time.Minute),
		done:          make(chan struct{}),
		logger:        logger,
		now:           time.Now,
	}
	go rl.cleanup()
	return rl
}

// Middleware rejects requests over the limit with 429.
func (rl *RateLimiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !rl.Allow(ip) {
				logging.LogSecurityEvent(r.Context(), rl.logger, "rate_limit_exceeded", map[string]interface{}{
					"ip":   ip,
					"path": r.URL.Path,
				})
				w.Header().Set("Retry-After", strconv.Itoa(int(rl.refillRate.Seconds())+1))
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Allow consumes a token for key and reports whether one was available.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	bucket, exists := rl.buckets[key]
	if !exists {
		bucket = &tokenBucket{limiter: rate.NewLimiter(rl.limit, rl.config.Burst)}
		rl.buckets[key] = bucket
	}
	bucket.lastSeen = now
	return bucket.limiter.AllowN(now, 1)
}

func (rl *RateLimiter) cleanup() {
	for {
		select {
		case <-rl.done:
			return
		case <-rl.cleanupTicker.C:
			rl.prune()
		}
	}
}

func (rl *RateLimiter) prune() {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	cutoff := rl.now().Add(-bucketIdleTimeout)
	removed := 0
	for key, bucket := range rl.buckets {
		if bucket.lastSeen.Before(cutoff) {
			delete(rl.buckets, key)
			removed++
		}
	}
	if removed > 0 {
		rl.logger.Debug(context.Background(), "Pruned idle rate limit buckets", "removed", removed)
	}
}

// Stop stops the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		rl.cleanupTicker.Stop()
		close(rl.done)
	})
}

// clientIP uses the connection address only; forwarding headers are
// client-controlled.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
