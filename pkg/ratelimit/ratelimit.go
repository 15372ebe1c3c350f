package ratelimit

import (
	"context"
	"sync"
	"time"

	"snapearn-rewardcore/internal/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var Module = fx.Module("ratelimit",
	fx.Provide(NewFromConfig),
	fx.Invoke(StartSweeper),
)

// Keyed holds one token bucket per source key. Buckets are created on first
// use and evicted once a key has been idle longer than maxIdle, so a churny
// set of source keys cannot grow the map without bound.
type Keyed struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	limit   rate.Limit
	burst   int
	maxIdle time.Duration
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func New(limit float64, burst int, maxIdle time.Duration) *Keyed {
	return &Keyed{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(limit),
		burst:   burst,
		maxIdle: maxIdle,
	}
}

func NewFromConfig(cfg *config.Config) *Keyed {
	return New(cfg.Webhook.RateLimit, cfg.Webhook.RateBurst, cfg.Webhook.BucketMaxIdle)
}

// Allow reports whether a request for the given source key may proceed now.
func (k *Keyed) Allow(key string) bool {
	k.mu.Lock()
	b, ok := k.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(k.limit, k.burst)}
		k.buckets[key] = b
	}
	b.lastSeen = time.Now()
	k.mu.Unlock()

	return b.limiter.Allow()
}

// Sweep drops buckets whose key has been idle longer than maxIdle and returns
// how many were evicted.
func (k *Keyed) Sweep() int {
	cutoff := time.Now().Add(-k.maxIdle)

	k.mu.Lock()
	defer k.mu.Unlock()

	evicted := 0
	for key, b := range k.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(k.buckets, key)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of live buckets.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.buckets)
}

// StartSweeper runs Sweep periodically for the lifetime of the application.
func StartSweeper(lc fx.Lifecycle, k *Keyed) {
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				ticker := time.NewTicker(k.maxIdle)
				defer ticker.Stop()
				for {
					select {
					case <-ticker.C:
						if n := k.Sweep(); n > 0 {
							zap.L().Debug("rate limit buckets evicted", zap.Int("count", n))
						}
					case <-done:
						return
					}
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			close(done)
			return nil
		},
	})
}
