package goemailcrawler

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimit is a per-host token bucket: Requests per Window.
type RateLimit struct {
	Requests int
	Window   time.Duration
}

func (r RateLimit) enabled() bool {
	return r.Requests > 0 && r.Window > 0
}

// HostLimiter spaces out requests to the same host. The zero configuration
// never blocks.
type HostLimiter struct {
	delay time.Duration
	rate  RateLimit

	mu       sync.Mutex
	next     map[string]time.Time
	limiters map[string]*rate.Limiter
}

// NewHostLimiter returns a limiter enforcing delay between requests to one host
// and, when configured, a token-bucket rate.
func NewHostLimiter(delay time.Duration, rl RateLimit) *HostLimiter {
	return &HostLimiter{
		delay:    delay,
		rate:     rl,
		next:     make(map[string]time.Time),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until host may be requested again or ctx is done.
func (h *HostLimiter) Wait(ctx context.Context, host string) error {
	if h == nil || host == "" {
		return nil
	}
	if h.delay <= 0 && !h.rate.enabled() {
		return nil
	}
	host = strings.ToLower(host)

	var sleep time.Duration
	var limiter *rate.Limiter

	h.mu.Lock()
	if h.delay > 0 {
		// Reserve a slot so concurrent callers queue up instead of all
		// waking at the same instant.
		now := time.Now()
		slot := now
		if next, ok := h.next[host]; ok && next.After(now) {
			slot = next
		}
		h.next[host] = slot.Add(h.delay)
		sleep = slot.Sub(now)
	}
	if h.rate.enabled() {
		limiter = h.limiterLocked(host)
	}
	h.mu.Unlock()

	if err := sleepWithContext(ctx, sleep); err != nil {
		return err
	}
	if limiter != nil {
		return limiter.Wait(ctx)
	}
	return nil
}

func (h *HostLimiter) limiterLocked(host string) *rate.Limiter {
	if limiter, ok := h.limiters[host]; ok {
		return limiter
	}
	interval := h.rate.Window / time.Duration(h.rate.Requests)
	if interval <= 0 {
		interval = time.Millisecond
	}
	limiter := rate.NewLimiter(rate.Every(interval), h.rate.Requests)
	h.limiters[host] = limiter
	return limiter
}
