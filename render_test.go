package goemailcrawler

import (
	"context"
	"errors"
	"testing"
)

func TestChromedpRenderer_RejectsNilURL(t *testing.T) {
	renderer := NewChromedpRenderer(RenderOptions{})
	if _, err := renderer.Render(context.Background(), FetchRequest{}); err == nil {
		t.Fatalf("expected error for nil URL")
	}
}

func TestChromedpRenderer_WaitsForSessionSlot(t *testing.T) {
	renderer := NewChromedpRenderer(RenderOptions{ConcurrentSessions: 1})
	if !renderer.sessions.TryAcquire(1) {
		t.Fatalf("expected a free session slot")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := renderer.Render(ctx, FetchRequest{URL: mustParseURL(t, "https://example.com/")})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled wait for a session slot, got %v", err)
	}
}
