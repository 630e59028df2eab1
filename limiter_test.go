package goemailcrawler

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestHostLimiter_DelaySpacesRequests(t *testing.T) {
	limiter := NewHostLimiter(30*time.Millisecond, RateLimit{})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := limiter.Wait(ctx, "Example.com"); err != nil {
			t.Fatalf("wait failed: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Fatalf("expected at least 60ms for three requests, got %s", elapsed)
	}

	// Another host is not delayed by the first.
	start = time.Now()
	if err := limiter.Wait(ctx, "other.com"); err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 20*time.Millisecond {
		t.Fatalf("expected no delay for a new host, got %s", elapsed)
	}
}

func TestHostLimiter_ContextCancelled(t *testing.T) {
	limiter := NewHostLimiter(time.Second, RateLimit{})
	if err := limiter.Wait(context.Background(), "example.com"); err != nil {
		t.Fatalf("first wait failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := limiter.Wait(ctx, "example.com"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestHostLimiter_ZeroConfigNeverBlocks(t *testing.T) {
	var limiter *HostLimiter
	if err := limiter.Wait(context.Background(), "example.com"); err != nil {
		t.Fatalf("nil limiter returned %v", err)
	}
	limiter = NewHostLimiter(0, RateLimit{})
	for i := 0; i < 100; i++ {
		if err := limiter.Wait(context.Background(), "example.com"); err != nil {
			t.Fatalf("wait failed: %v", err)
		}
	}
}

func TestHostLimiter_RateLimit(t *testing.T) {
	limiter := NewHostLimiter(0, RateLimit{Requests: 2, Window: 100 * time.Millisecond})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := limiter.Wait(ctx, "example.com"); err != nil {
			t.Fatalf("wait failed: %v", err)
		}
	}
	// Burst of two, then one token every 50ms.
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("expected the third request to wait, got %s", elapsed)
	}
}
