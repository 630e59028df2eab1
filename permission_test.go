package goemailcrawler

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPermissionGate_PrivateDisallowed(t *testing.T) {
	const robots = "User-agent: *\nDisallow: /private/\n"

	server := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte(robots))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	seed := mustParseURL(t, server.URL)
	gate := NewPermissionGate(GateOptions{SeedHost: seed.Host})

	if gate.Allowed(context.Background(), mustParseURL(t, server.URL+"/private/x")) {
		t.Fatalf("expected /private/x to be denied")
	}
	if !gate.Allowed(context.Background(), mustParseURL(t, server.URL+"/public")) {
		t.Fatalf("expected /public to be allowed")
	}
}

func TestPermissionGate_UserAgentGroup(t *testing.T) {
	const robots = "User-agent: blocked-bot\nDisallow: /\n\nUser-agent: *\nAllow: /\n"

	server := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(robots))
	}))
	defer server.Close()

	seed := mustParseURL(t, server.URL)
	blocked := NewPermissionGate(GateOptions{SeedHost: seed.Host, UserAgent: "blocked-bot"})
	if blocked.Allowed(context.Background(), mustParseURL(t, server.URL+"/page")) {
		t.Fatalf("expected blocked-bot to be denied")
	}
	other := NewPermissionGate(GateOptions{SeedHost: seed.Host, UserAgent: "friendly-bot"})
	if !other.Allowed(context.Background(), mustParseURL(t, server.URL+"/page")) {
		t.Fatalf("expected friendly-bot to be allowed")
	}
}

func TestPermissionGate_MissingRobotsAllowsAll(t *testing.T) {
	server := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	// Not the seed host: a 404 still means no rules were published.
	gate := NewPermissionGate(GateOptions{SeedHost: "seed.invalid"})
	if !gate.Allowed(context.Background(), mustParseURL(t, server.URL+"/anything")) {
		t.Fatalf("expected 404 robots.txt to allow all")
	}
}

func TestPermissionGate_LoadFailurePolicy(t *testing.T) {
	server := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	target := mustParseURL(t, server.URL+"/contact")

	seedGate := NewPermissionGate(GateOptions{SeedHost: target.Host})
	if !seedGate.Allowed(context.Background(), target) {
		t.Fatalf("expected seed host to fail open")
	}

	otherGate := NewPermissionGate(GateOptions{SeedHost: "seed.invalid"})
	if otherGate.Allowed(context.Background(), target) {
		t.Fatalf("expected non-seed host to fail closed")
	}
}

func TestPermissionGate_TimeoutFailsClosedForOtherHosts(t *testing.T) {
	server := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		_, _ = w.Write([]byte("User-agent: *\nAllow: /\n"))
	}))
	defer server.Close()

	gate := NewPermissionGate(GateOptions{SeedHost: "seed.invalid", Timeout: 10 * time.Millisecond})
	if gate.Allowed(context.Background(), mustParseURL(t, server.URL+"/page")) {
		t.Fatalf("expected robots.txt timeout to deny")
	}
}

func TestPermissionGate_FetchesRobotsOncePerHost(t *testing.T) {
	var requests int32
	server := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		time.Sleep(20 * time.Millisecond)
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
	}))
	defer server.Close()

	seed := mustParseURL(t, server.URL)
	gate := NewPermissionGate(GateOptions{SeedHost: seed.Host})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			gate.Allowed(context.Background(), mustParseURL(t, server.URL+"/page"))
		}()
	}
	wg.Wait()
	gate.Allowed(context.Background(), mustParseURL(t, server.URL+"/private/y"))

	if got := atomic.LoadInt32(&requests); got != 1 {
		t.Fatalf("expected one robots.txt request, got %d", got)
	}
}

func TestPermissionGate_InvalidTargetDenied(t *testing.T) {
	gate := NewPermissionGate(GateOptions{})
	if gate.Allowed(context.Background(), nil) {
		t.Fatalf("expected nil URL to be denied")
	}
	if gate.Allowed(context.Background(), mustParseURL(t, "/relative")) {
		t.Fatalf("expected relative URL to be denied")
	}
}

func TestPermissionGate_Sitemaps(t *testing.T) {
	const robots = "User-agent: *\nAllow: /\nSitemap: https://cdn.example.com/sitemap.xml\nSitemap: /local.xml\n"

	server := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(robots))
	}))
	defer server.Close()

	seed := mustParseURL(t, server.URL)
	gate := NewPermissionGate(GateOptions{SeedHost: seed.Host})
	got := urlStrings(gate.Sitemaps(context.Background(), seed))
	if len(got) != 2 {
		t.Fatalf("expected 2 sitemaps, got %v", got)
	}
	if got[0] != "https://cdn.example.com/sitemap.xml" || got[1] != server.URL+"/local.xml" {
		t.Fatalf("unexpected sitemaps %v", got)
	}
}
