package goemailcrawler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"
)

// GateOptions configures a PermissionGate.
type GateOptions struct {
	HTTPClient *http.Client
	UserAgent  string
	Timeout    time.Duration
	// SeedHost is the host whose robots.txt may fail to load without
	// blocking the crawl. Every other host fails closed.
	SeedHost string
	Logger   *slog.Logger
}

// PermissionGate answers robots.txt questions, loading each host's rules once.
type PermissionGate struct {
	client    *http.Client
	userAgent string
	timeout   time.Duration
	seedHost  string
	logger    *slog.Logger

	mu     sync.RWMutex
	cache  map[string]*robotsRules
	flight singleflight.Group
}

type robotsRules struct {
	data     *robotstxt.RobotsData
	sitemaps []*url.URL
}

var (
	allowAllRules = mustRules(http.StatusNotFound)
	denyAllRules  = mustRules(http.StatusServiceUnavailable)
)

func mustRules(status int) *robotstxt.RobotsData {
	data, err := robotstxt.FromStatusAndBytes(status, nil)
	if err != nil {
		panic(err)
	}
	return data
}

// NewPermissionGate builds a gate with an empty cache.
func NewPermissionGate(opts GateOptions) *PermissionGate {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultRequestTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &PermissionGate{
		client:    opts.HTTPClient,
		userAgent: opts.UserAgent,
		timeout:   opts.Timeout,
		seedHost:  strings.ToLower(opts.SeedHost),
		logger:    opts.Logger,
		cache:     make(map[string]*robotsRules),
	}
}

// Allowed reports whether robots.txt permits fetching target.
func (g *PermissionGate) Allowed(ctx context.Context, target *url.URL) bool {
	if target == nil || !target.IsAbs() || target.Host == "" {
		return false
	}
	rules := g.rules(ctx, target)
	if rules == nil || rules.data == nil {
		return false
	}
	path := target.EscapedPath()
	if path == "" {
		path = "/"
	}
	if target.RawQuery != "" {
		path += "?" + target.RawQuery
	}
	return rules.data.TestAgent(path, g.userAgent)
}

// Sitemaps returns the Sitemap: directives declared in base's robots.txt.
func (g *PermissionGate) Sitemaps(ctx context.Context, base *url.URL) []*url.URL {
	if base == nil || base.Host == "" {
		return nil
	}
	rules := g.rules(ctx, base)
	if rules == nil {
		return nil
	}
	out := make([]*url.URL, 0, len(rules.sitemaps))
	for _, loc := range rules.sitemaps {
		out = append(out, cloneURL(loc))
	}
	return out
}

func (g *PermissionGate) rules(ctx context.Context, target *url.URL) *robotsRules {
	key := strings.ToLower(target.Scheme + "://" + target.Host)

	g.mu.RLock()
	rules, ok := g.cache[key]
	g.mu.RUnlock()
	if ok {
		return rules
	}

	v, _, _ := g.flight.Do(key, func() (any, error) {
		g.mu.RLock()
		cached, ok := g.cache[key]
		g.mu.RUnlock()
		if ok {
			return cached, nil
		}
		loaded := g.load(ctx, target)
		g.mu.Lock()
		g.cache[key] = loaded
		g.mu.Unlock()
		return loaded, nil
	})
	rules, _ = v.(*robotsRules)
	return rules
}

func (g *PermissionGate) load(ctx context.Context, target *url.URL) *robotsRules {
	base := &url.URL{Scheme: target.Scheme, Host: target.Host}
	robotsURL := base.ResolveReference(&url.URL{Path: "/robots.txt"})

	data, err := g.fetch(ctx, robotsURL)
	if err != nil {
		if strings.EqualFold(target.Host, g.seedHost) {
			g.logger.Warn("could not load robots.txt, allowing seed host", "url", robotsURL.String(), "error", err)
			return &robotsRules{data: allowAllRules}
		}
		g.logger.Warn("could not load robots.txt, denying host", "url", robotsURL.String(), "error", err)
		return &robotsRules{data: denyAllRules}
	}
	g.logger.Debug("loaded robots.txt", "url", robotsURL.String())

	rules := &robotsRules{data: data}
	for _, loc := range data.Sitemaps {
		parsed, err := url.Parse(strings.TrimSpace(loc))
		if err != nil {
			g.logger.Debug("invalid sitemap URL in robots.txt", "url", robotsURL.String(), "sitemap", loc, "error", err)
			continue
		}
		if !parsed.IsAbs() {
			parsed = base.ResolveReference(parsed)
		}
		rules.sitemaps = append(rules.sitemaps, parsed)
	}
	return rules
}

func (g *PermissionGate) fetch(ctx context.Context, robotsURL *url.URL) (*robotstxt.RobotsData, error) {
	req, cancel, err := newRequest(ctx, http.MethodGet, robotsURL, g.userAgent, g.timeout)
	if err != nil {
		return nil, err
	}
	defer cancel()

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &ErrFetch{URL: robotsURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, &ErrHTTPStatus{URL: robotsURL, StatusCode: resp.StatusCode, Status: resp.Status}
	}
	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil, &ErrFetch{URL: robotsURL, Err: err}
	}
	if data == nil {
		return nil, &ErrFetch{URL: robotsURL, Err: errors.New("empty robots data")}
	}
	return data, nil
}
