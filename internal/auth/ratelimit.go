package auth

import (
	"context"
	"sync"
	"time"

	"bilregistret/internal/config"
	"bilregistret/internal/logging"
)

// RateLimiter is a per-client token bucket
type RateLimiter struct {
	cfg    config.RateLimitConfig
	logger *logging.Logger
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*tokenBucket
}

type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
}

// NewRateLimiter creates a limiter; a disabled config allows everything
func NewRateLimiter(cfg config.RateLimitConfig, logger *logging.Logger) *RateLimiter {
	if cfg.PerMinute <= 0 {
		cfg.PerMinute = 120
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 20
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 300
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &RateLimiter{
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		buckets: make(map[string]*tokenBucket),
	}
}

// Allow consumes a token for client. When refused, retryAfter is the number
// of seconds until the next token.
func (r *RateLimiter) Allow(client string) (bool, int) {
	if !r.cfg.Enabled {
		return true, 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	bucket, ok := r.buckets[client]
	if !ok {
		bucket = &tokenBucket{tokens: float64(r.cfg.Burst), lastRefill: now}
		r.buckets[client] = bucket
	}

	perSecond := float64(r.cfg.PerMinute) / 60.0
	bucket.tokens += now.Sub(bucket.lastRefill).Seconds() * perSecond
	bucket.lastRefill = now
	if bucket.tokens > float64(r.cfg.Burst) {
		bucket.tokens = float64(r.cfg.Burst)
	}

	if bucket.tokens >= 1.0 {
		bucket.tokens--
		return true, 0
	}
	return false, int((1.0-bucket.tokens)/perSecond) + 1
}

// StartCleanup drops idle buckets periodically until ctx is done
func (r *RateLimiter) StartCleanup(ctx context.Context) {
	if !r.cfg.Enabled {
		return
	}
	go func() {
		ticker := time.NewTicker(time.Duration(r.cfg.CleanupInterval) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.cleanup()
			}
		}
	}()
}

func (r *RateLimiter) cleanup() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-10 * time.Minute)
	removed := 0
	for client, bucket := range r.buckets {
		if bucket.lastRefill.Before(cutoff) {
			delete(r.buckets, client)
			removed++
		}
	}
	if removed > 0 {
		r.logger.Debug("Rate limit cleanup", map[string]interface{}{
			"removed":   removed,
			"remaining": len(r.buckets),
		})
	}
	return removed
}
