package goemailcrawler

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"
)

const (
	defaultUserAgent      = "go-email-crawler/1.0 (+https://github.com/kotylevskiy/go-email-crawler)"
	defaultRequestTimeout = 10 * time.Second
	defaultProbeTimeout   = 5 * time.Second
	defaultBufSize        = 64 * 1024
	maxSitemapBytes       = 50 << 20
)

const (
	sitemapLocQuery = `//*[local-name()='sitemap']/*[local-name()='loc']`
	urlLocQuery     = `//*[local-name()='url']/*[local-name()='loc']`
)

// ===================== Configuration =====================

// DiscoveryStrategy selects how candidate sitemap locations are found.
type DiscoveryStrategy string

const (
	// StrategyRobots reads Sitemap: directives from robots.txt, then probes.
	StrategyRobots DiscoveryStrategy = "robots"
	// StrategyProbe checks well-known sitemap paths, then assumes /sitemap.xml.
	StrategyProbe DiscoveryStrategy = "probe"
	// StrategyFixed assumes /sitemap.xml.
	StrategyFixed DiscoveryStrategy = "fixed"
)

// ParseStrategy validates a strategy name.
func ParseStrategy(value string) (DiscoveryStrategy, error) {
	switch DiscoveryStrategy(strings.ToLower(strings.TrimSpace(value))) {
	case "", StrategyRobots:
		return StrategyRobots, nil
	case StrategyProbe:
		return StrategyProbe, nil
	case StrategyFixed:
		return StrategyFixed, nil
	default:
		return "", fmt.Errorf("unknown sitemap strategy %q (use robots, probe, fixed)", value)
	}
}

// SitemapSource exposes sitemaps declared for a host, typically via robots.txt.
type SitemapSource interface {
	Sitemaps(ctx context.Context, base *url.URL) []*url.URL
}

// ResolverOptions configures a SitemapResolver.
type ResolverOptions struct {
	HTTPClient        *http.Client
	UserAgent         string
	PerRequestTimeout time.Duration
	ProbeTimeout      time.Duration
	Strategy          DiscoveryStrategy
	MaxDepth          int
	MaxSitemaps       int
	// Robots supplies robots.txt sitemap directives for StrategyRobots.
	Robots  SitemapSource
	Logger  *slog.Logger
	Metrics *Metrics
}

// SitemapResolver flattens a site's sitemaps into page URLs.
type SitemapResolver struct {
	opts   ResolverOptions
	client *http.Client
	logger *slog.Logger
}

// ===================== Public API =====================

// NewSitemapResolver builds a resolver with safe defaults applied.
func NewSitemapResolver(opts ResolverOptions) *SitemapResolver {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.PerRequestTimeout <= 0 {
		opts.PerRequestTimeout = defaultRequestTimeout
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = defaultProbeTimeout
	}
	if opts.Strategy == "" {
		opts.Strategy = StrategyRobots
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &SitemapResolver{
		opts:   opts,
		client: opts.HTTPClient,
		logger: opts.Logger,
	}
}

// Resolve returns every page URL reachable from the seed's sitemaps, each once.
// Failures for individual sitemaps are logged and contribute nothing.
func (r *SitemapResolver) Resolve(ctx context.Context, seed *url.URL) []*url.URL {
	if seed == nil || seed.Host == "" {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	base := &url.URL{Scheme: seed.Scheme, Host: seed.Host}

	state := &resolveState{
		seenSitemaps: make(map[string]struct{}),
		seenPages:    make(map[string]struct{}),
	}
	for _, loc := range r.initialSitemaps(ctx, seed, base) {
		r.collect(ctx, loc, 0, state)
	}
	r.logger.Info("sitemap resolution finished", "seed", seed.String(), "sitemaps", state.fetched, "urls", len(state.pages))
	return state.pages
}

// ===================== Internal Types =====================

// resolveState is threaded explicitly through every recursive collect call.
type resolveState struct {
	seenSitemaps map[string]struct{}
	seenPages    map[string]struct{}
	pages        []*url.URL
	fetched      int
	limitHit     bool
}

func (s *resolveState) addPage(u *url.URL) {
	key := canonicalURLKey(u)
	if _, ok := s.seenPages[key]; ok {
		return
	}
	s.seenPages[key] = struct{}{}
	s.pages = append(s.pages, u)
}

type readCloser struct {
	reader io.Reader
	close  func() error
}

func (r *readCloser) Read(p []byte) (int, error) {
	return r.reader.Read(p)
}

func (r *readCloser) Close() error {
	if r.close == nil {
		return nil
	}
	return r.close()
}

// ===================== Sitemap Discovery =====================

func (r *SitemapResolver) initialSitemaps(ctx context.Context, input, base *url.URL) []*url.URL {
	if isLikelySitemapURL(input) {
		return []*url.URL{cloneURL(input)}
	}
	strategy := r.opts.Strategy
	if strategy == StrategyRobots {
		if r.opts.Robots != nil {
			if declared := r.opts.Robots.Sitemaps(ctx, base); len(declared) > 0 {
				r.logger.Info("found sitemaps in robots.txt", "count", len(declared))
				return declared
			}
		}
		r.logger.Debug("no sitemaps declared in robots.txt, probing well-known paths", "base", base.String())
		strategy = StrategyProbe
	}
	if strategy == StrategyProbe {
		if found := r.probe(ctx, base); found != nil {
			return []*url.URL{found}
		}
		r.logger.Debug("no sitemap found at common locations, assuming /sitemap.xml", "base", base.String())
	}
	return []*url.URL{base.ResolveReference(&url.URL{Path: "/sitemap.xml"})}
}

func isLikelySitemapURL(u *url.URL) bool {
	if u == nil {
		return false
	}
	path := strings.ToLower(u.Path)
	return strings.HasSuffix(path, ".xml") || strings.HasSuffix(path, ".xml.gz")
}

func probePaths(base *url.URL) []*url.URL {
	candidates := []string{
		"/sitemap_index.xml",
		"/sitemap.xml",
		"/sitemap-index.xml",
		"/sitemap/sitemap-index.xml",
		"/sitemap/sitemap.xml",
		"/sitemap.xml.gz",
		"/sitemap_index.xml.gz",
	}
	out := make([]*url.URL, 0, len(candidates))
	for _, path := range candidates {
		out = append(out, base.ResolveReference(&url.URL{Path: path}))
	}
	return out
}

// probe returns the first well-known sitemap path answering a HEAD with 2xx.
func (r *SitemapResolver) probe(ctx context.Context, base *url.URL) *url.URL {
	for _, candidate := range probePaths(base) {
		if ctx.Err() != nil {
			return nil
		}
		req, cancel, err := newRequest(ctx, http.MethodHead, candidate, r.opts.UserAgent, r.opts.ProbeTimeout)
		if err != nil {
			continue
		}
		resp, err := r.client.Do(req)
		if err != nil {
			cancel()
			r.logger.Debug("sitemap probe failed", "url", candidate.String(), "error", err)
			continue
		}
		resp.Body.Close()
		cancel()
		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			r.logger.Info("found sitemap", "url", candidate.String())
			return candidate
		}
	}
	return nil
}

// ===================== Recursive Collection =====================

func (r *SitemapResolver) collect(ctx context.Context, loc *url.URL, depth int, state *resolveState) {
	if ctx.Err() != nil || state.limitHit {
		return
	}
	key := canonicalURLKey(loc)
	if _, ok := state.seenSitemaps[key]; ok {
		return
	}
	state.seenSitemaps[key] = struct{}{}

	if r.opts.MaxDepth > 0 && depth > r.opts.MaxDepth {
		r.logger.Warn("skipping sitemap", "error", &ErrMaxDepth{MaxDepth: r.opts.MaxDepth, URL: loc})
		return
	}
	if r.opts.MaxSitemaps > 0 && state.fetched >= r.opts.MaxSitemaps {
		r.logger.Warn("stopping sitemap resolution", "error", &ErrMaxSitemaps{MaxSitemaps: r.opts.MaxSitemaps})
		state.limitHit = true
		return
	}
	state.fetched++

	r.logger.Debug("fetching sitemap", "url", loc.String())
	content, err := r.fetchSitemap(ctx, loc)
	if err != nil {
		r.opts.Metrics.sitemapFetched("fetch_error")
		r.logger.Warn("failed to load sitemap", "url", loc.String(), "error", err)
		return
	}
	if !isXML(content) {
		r.opts.Metrics.sitemapFetched("not_xml")
		r.logger.Warn("skipping sitemap", "error", &ErrNotXML{URL: loc})
		return
	}

	children, pages, err := parseSitemap(loc, content)
	if err != nil {
		r.opts.Metrics.sitemapFetched("parse_error")
		r.logger.Warn("skipping sitemap", "error", &ErrSitemapParse{URL: loc, Err: err})
		return
	}
	r.opts.Metrics.sitemapFetched("ok")

	if len(children) > 0 {
		for _, child := range children {
			r.collect(ctx, child, depth+1, state)
		}
		return
	}
	for _, page := range pages {
		state.addPage(page)
	}
	r.logger.Debug("found URLs in sitemap", "url", loc.String(), "count", len(pages))
}

// ===================== HTTP Helpers =====================

func newRequest(ctx context.Context, method string, u *url.URL, userAgent string, timeout time.Duration) (*http.Request, context.CancelFunc, error) {
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	return req, cancel, nil
}

func (r *SitemapResolver) fetchSitemap(ctx context.Context, loc *url.URL) ([]byte, error) {
	req, cancel, err := newRequest(ctx, http.MethodGet, loc, r.opts.UserAgent, r.opts.PerRequestTimeout)
	if err != nil {
		return nil, &ErrInvalidURL{URL: loc.String(), Err: err}
	}
	defer cancel()

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &ErrFetch{URL: loc, Err: err}
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		resp.Body.Close()
		return nil, &ErrHTTPStatus{URL: loc, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	reader, err := wrapReader(resp)
	if err != nil {
		resp.Body.Close()
		return nil, &ErrFetch{URL: loc, Err: err}
	}
	defer reader.Close()

	body, err := io.ReadAll(io.LimitReader(reader, maxSitemapBytes+1))
	if err != nil {
		return nil, &ErrFetch{URL: loc, Err: err}
	}
	if len(body) > maxSitemapBytes {
		return nil, &ErrFetch{URL: loc, Err: fmt.Errorf("sitemap exceeds %d bytes", maxSitemapBytes)}
	}
	return body, nil
}

// wrapReader transparently decompresses gzip bodies, detected by magic bytes.
func wrapReader(resp *http.Response) (io.ReadCloser, error) {
	reader := bufio.NewReaderSize(resp.Body, defaultBufSize)
	peek, err := reader.Peek(2)
	if err == nil && len(peek) == 2 && peek[0] == 0x1f && peek[1] == 0x8b {
		gz, err := gzip.NewReader(reader)
		if err != nil {
			return nil, err
		}
		return &readCloser{
			reader: gz,
			close: func() error {
				gz.Close()
				return resp.Body.Close()
			},
		}, nil
	}
	return &readCloser{reader: reader, close: resp.Body.Close}, nil
}

// ===================== XML Parsing =====================

// isXML checks for an XML prolog or a sitemap root element near the start.
func isXML(content []byte) bool {
	trimmed := bytes.TrimLeft(content, "\ufeff \t\r\n")
	if bytes.HasPrefix(trimmed, []byte("<?xml")) {
		return true
	}
	if !bytes.HasPrefix(trimmed, []byte("<")) {
		return false
	}
	head := trimmed
	if len(head) > 1024 {
		head = head[:1024]
	}
	return bytes.Contains(head, []byte("<urlset")) || bytes.Contains(head, []byte("<sitemapindex"))
}

// parseSitemap returns child sitemap locations, or page locations when the
// document has no index entries. Index entries take precedence.
func parseSitemap(loc *url.URL, content []byte) ([]*url.URL, []*url.URL, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(content))
	if err != nil {
		return nil, nil, err
	}
	if doc == nil {
		return nil, nil, errors.New("empty document")
	}

	if nodes := xmlquery.Find(doc, sitemapLocQuery); len(nodes) > 0 {
		return resolveLocations(loc, nodes), nil, nil
	}
	return nil, resolveLocations(loc, xmlquery.Find(doc, urlLocQuery)), nil
}

func resolveLocations(base *url.URL, nodes []*xmlquery.Node) []*url.URL {
	out := make([]*url.URL, 0, len(nodes))
	for _, node := range nodes {
		resolved, err := resolveLocation(base, node.InnerText())
		if err != nil {
			continue
		}
		out = append(out, resolved)
	}
	return out
}

func resolveLocation(base *url.URL, loc string) (*url.URL, error) {
	trimmed := strings.TrimSpace(loc)
	if trimmed == "" {
		return nil, errors.New("empty loc")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, err
	}
	if parsed.IsAbs() {
		parsed.Fragment = ""
		return parsed, nil
	}
	resolved := base.ResolveReference(parsed)
	resolved.Fragment = ""
	return resolved, nil
}
