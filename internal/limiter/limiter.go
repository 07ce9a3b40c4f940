package limiter

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/itstheanurag/codearena/internal/metrics"
	"golang.org/x/time/rate"
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

type RateLimiter struct {
	globalLimiter *rate.Limiter
	perIPLimiters sync.Map
	ipRate        rate.Limit
	ipBurst       int
	maxConcurrent int64
	currentConc   int64
	mu            sync.Mutex
	now           func() time.Time
}

func NewRateLimiter(globalRPS float64, perIPRPS float64, perIPBurst int, maxConcurrent int) *RateLimiter {
	globalBurst := int(globalRPS) * 2
	if globalBurst < 1 {
		globalBurst = 1
	}
	return &RateLimiter{
		globalLimiter: rate.NewLimiter(rate.Limit(globalRPS), globalBurst),
		ipRate:        rate.Limit(perIPRPS),
		ipBurst:       perIPBurst,
		maxConcurrent: int64(maxConcurrent),
		now:           time.Now,
	}
}

func (rl *RateLimiter) getIPLimiter(ip string) *rate.Limiter {
	entry, ok := rl.perIPLimiters.Load(ip)
	if !ok {
		entry, _ = rl.perIPLimiters.LoadOrStore(ip, &ipLimiter{limiter: rate.NewLimiter(rl.ipRate, rl.ipBurst)})
	}
	l := entry.(*ipLimiter)
	l.lastSeen.Store(rl.now().UnixNano())
	return l.limiter
}

// Allow reports whether a request from ip may proceed. Every successful call must be
// paired with Done.
func (rl *RateLimiter) Allow(ip string) bool {
	if !rl.globalLimiter.Allow() {
		metrics.RateLimitHits.Inc()
		return false
	}

	if !rl.getIPLimiter(ip).Allow() {
		metrics.RateLimitHits.Inc()
		return false
	}

	rl.mu.Lock()
	if rl.currentConc >= rl.maxConcurrent {
		rl.mu.Unlock()
		metrics.RateLimitHits.Inc()
		return false
	}
	rl.currentConc++
	rl.mu.Unlock()

	return true
}

func (rl *RateLimiter) Done() {
	rl.mu.Lock()
	if rl.currentConc > 0 {
		rl.currentConc--
	}
	rl.mu.Unlock()
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientIP(r)) {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		defer rl.Done()

		next.ServeHTTP(w, r)
	})
}

// clientIP expects RemoteAddr to have been rewritten by a trusted real-ip middleware.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Cleanup drops per-IP limiters idle for longer than maxIdle.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) int {
	cutoff := rl.now().Add(-maxIdle).UnixNano()
	removed := 0
	rl.perIPLimiters.Range(func(key, value any) bool {
		if value.(*ipLimiter).lastSeen.Load() < cutoff {
			rl.perIPLimiters.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

// StartCleanup runs Cleanup every interval until ctx is done.
func (rl *RateLimiter) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Cleanup(interval)
			case <-ctx.Done():
				return
			}
		}
	}()
}
