package ledger

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter enforces a sliding-window count per key, identical to
// SPEC_FULL.md §4.4's exact algorithm, layered with a golang.org/x/time/rate
// token bucket per key as a burst guard: a key that survives the sliding
// window can still be rejected by the bucket if requests land tighter
// than the window's eviction granularity allows. Check decides on the
// sliding window alone; Record also needs a bucket token when the guard
// is enabled (burstPerSecond > 0).
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*slidingWindow
	buckets map[string]*rate.Limiter

	burstRate  rate.Limit
	burstSize  int
	nowFn      func() time.Time
}

type slidingWindow struct {
	timestamps []int64
}

// NewRateLimiter constructs a limiter. burstPerSecond/burstSize configure
// the secondary token-bucket guard; pass 0 for burstPerSecond to disable it.
func NewRateLimiter(burstPerSecond float64, burstSize int) *RateLimiter {
	return &RateLimiter{
		windows:   make(map[string]*slidingWindow),
		buckets:   make(map[string]*rate.Limiter),
		burstRate: rate.Limit(burstPerSecond),
		burstSize: burstSize,
		nowFn:     time.Now,
	}
}

// SetNowFunc overrides the wall clock for deterministic tests.
func (r *RateLimiter) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	r.nowFn = now
}

// Check evaluates key's sliding window without recording a new entry.
func (r *RateLimiter) Check(key string, maxCount int, windowMs int64) RateLimitResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := r.windowFor(key)
	now := r.nowFn().UnixMilli()
	r.evict(w, now, windowMs)
	remaining := maxCount - len(w.timestamps)
	if remaining < 0 {
		remaining = 0
	}
	resetAt := now
	if len(w.timestamps) > 0 {
		resetAt = w.timestamps[0] + windowMs
	}
	return RateLimitResult{Allowed: len(w.timestamps) < maxCount, Remaining: remaining, ResetAtMs: resetAt}
}

// Record evaluates key's sliding window, and — if allowed — pushes now
// into the deque and consumes a token from the burst guard. The burst
// guard can reject even when the sliding window would allow; both must
// agree for the action to proceed.
func (r *RateLimiter) Record(key string, maxCount int, windowMs int64) RateLimitResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := r.windowFor(key)
	now := r.nowFn()
	nowMs := now.UnixMilli()
	r.evict(w, nowMs, windowMs)

	allowed := len(w.timestamps) < maxCount
	if allowed && r.burstRate > 0 {
		bucket := r.bucketFor(key)
		allowed = bucket.AllowN(now, 1)
	}
	if allowed {
		w.timestamps = append(w.timestamps, nowMs)
	}

	remaining := maxCount - len(w.timestamps)
	if remaining < 0 {
		remaining = 0
	}
	resetAt := nowMs
	if len(w.timestamps) > 0 {
		resetAt = w.timestamps[0] + windowMs
	}
	return RateLimitResult{Allowed: allowed, Remaining: remaining, ResetAtMs: resetAt}
}

func (r *RateLimiter) windowFor(key string) *slidingWindow {
	w, ok := r.windows[key]
	if !ok {
		w = &slidingWindow{}
		r.windows[key] = w
	}
	return w
}

func (r *RateLimiter) bucketFor(key string) *rate.Limiter {
	b, ok := r.buckets[key]
	if !ok {
		burstSize := r.burstSize
		if burstSize <= 0 {
			burstSize = 1
		}
		b = rate.NewLimiter(r.burstRate, burstSize)
		r.buckets[key] = b
	}
	return b
}

func (r *RateLimiter) evict(w *slidingWindow, now, windowMs int64) {
	cutoff := now - windowMs
	i := 0
	for ; i < len(w.timestamps); i++ {
		if w.timestamps[i] > cutoff {
			break
		}
	}
	if i > 0 {
		w.timestamps = append([]int64(nil), w.timestamps[i:]...)
	}
}
