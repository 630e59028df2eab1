package goemailcrawler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"
)

const (
	defaultMaxPages     = 100
	defaultMaxWorkers   = 10
	defaultPerPageDelay = 2 * time.Second
)

// ===================== Configuration =====================

// Options configures discovery, the crawl budget and the fetch stack.
type Options struct {
	HTTPClient        *http.Client
	UserAgent         string
	PerRequestTimeout time.Duration
	ProbeTimeout      time.Duration

	Strategy        DiscoveryStrategy
	MaxSitemapDepth int // 0 => no limit
	MaxSitemaps     int // 0 => no limit

	// MaxPages bounds the number of dispatched pages. Zero means no page is fetched.
	MaxPages   int
	MaxWorkers int
	// PerPageDelay is the settle delay applied after each page load.
	PerPageDelay time.Duration

	AllowedSuffixes []string
	Scope           ScopeMode
	Include         []*regexp.Regexp // nil => include all
	Exclude         []*regexp.Regexp // nil => exclude none

	PerHostDelay time.Duration
	RateLimit    RateLimit

	// Fetcher overrides the page fetch stack. When nil an HTTPFetcher is used,
	// wrapped in a Composite if Renderer is set.
	Fetcher  Fetcher
	Renderer Renderer

	Logger  *slog.Logger
	Metrics *Metrics
}

// DefaultOptions returns the options used by the CLI when nothing is configured.
func DefaultOptions() Options {
	return Options{
		MaxPages:        defaultMaxPages,
		MaxWorkers:      defaultMaxWorkers,
		PerPageDelay:    defaultPerPageDelay,
		AllowedSuffixes: append([]string(nil), DefaultAllowedSuffixes...),
		Scope:           ScopeSite,
		Strategy:        StrategyRobots,
	}
}

// Crawler resolves a site's sitemaps and crawls it for e-mail addresses.
// A Crawler holds no per-run state and may run several crawls concurrently.
type Crawler struct {
	opts    Options
	client  *http.Client
	fetcher Fetcher
	logger  *slog.Logger
	metrics *Metrics
}

// ===================== Public API =====================

// New builds a Crawler with defaults applied.
func New(opts Options) *Crawler {
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.PerRequestTimeout <= 0 {
		opts.PerRequestTimeout = defaultRequestTimeout
	}
	if opts.MaxPages < 0 {
		opts.MaxPages = 0
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = defaultMaxWorkers
	}
	if opts.PerPageDelay < 0 {
		opts.PerPageDelay = 0
	}
	if opts.AllowedSuffixes == nil {
		opts.AllowedSuffixes = DefaultAllowedSuffixes
	}
	opts.AllowedSuffixes = NormalizeSuffixes(opts.AllowedSuffixes)
	if opts.Scope == "" {
		opts.Scope = ScopeSite
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = NewHTTPClient(opts.PerRequestTimeout)
	}

	fetcher := opts.Fetcher
	if fetcher == nil {
		var httpFetcher Fetcher = NewHTTPFetcher(HTTPFetcherOptions{
			HTTPClient: opts.HTTPClient,
			UserAgent:  opts.UserAgent,
			Timeout:    opts.PerRequestTimeout,
		})
		fetcher = httpFetcher
		if opts.Renderer != nil {
			fetcher = NewComposite(httpFetcher, opts.Renderer, opts.Logger)
		}
	}

	return &Crawler{
		opts:    opts,
		client:  opts.HTTPClient,
		fetcher: fetcher,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
}

// Run normalises rawSeed, resolves its sitemaps and crawls the result.
// It fails with *ErrNoSeedURLs when the sitemaps yield no page URL.
func (c *Crawler) Run(ctx context.Context, rawSeed string) (*Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	seed, err := NormalizeSeed(rawSeed)
	if err != nil {
		return nil, err
	}

	gate := c.newGate(seed)
	resolver := NewSitemapResolver(ResolverOptions{
		HTTPClient:        c.client,
		UserAgent:         c.opts.UserAgent,
		PerRequestTimeout: c.opts.PerRequestTimeout,
		ProbeTimeout:      c.opts.ProbeTimeout,
		Strategy:          c.opts.Strategy,
		MaxDepth:          c.opts.MaxSitemapDepth,
		MaxSitemaps:       c.opts.MaxSitemaps,
		Robots:            gate,
		Logger:            c.logger,
		Metrics:           c.metrics,
	})

	seeds := resolver.Resolve(ctx, seed)
	if len(seeds) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, &ErrNoSeedURLs{URL: seed}
	}
	return c.crawl(ctx, seed, seeds, gate)
}

// Crawl runs the frontier scheduler from seedURLs. Seed URLs and discovered
// links alike must be inside the seed's scope.
func (c *Crawler) Crawl(ctx context.Context, seed *url.URL, seedURLs []*url.URL) (*Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if seed == nil || seed.Host == "" {
		return nil, &ErrInvalidURL{Err: errors.New("seed without host")}
	}
	return c.crawl(ctx, seed, seedURLs, c.newGate(seed))
}

func (c *Crawler) newGate(seed *url.URL) *PermissionGate {
	return NewPermissionGate(GateOptions{
		HTTPClient: c.client,
		UserAgent:  c.opts.UserAgent,
		Timeout:    c.opts.PerRequestTimeout,
		SeedHost:   seed.Host,
		Logger:     c.logger,
	})
}

// ===================== Scheduler =====================

// crawlRun is the state of one crawl. The frontier and pending set are owned
// by the scheduler goroutine; everything tasks touch is safe for concurrent use.
type crawlRun struct {
	c       *Crawler
	scope   *Scope
	gate    *PermissionGate
	limiter *HostLimiter
	results *Results

	frontier []*url.URL
	pending  map[string]struct{}
	done     chan CrawlResult
}

func (c *Crawler) crawl(ctx context.Context, seed *url.URL, seedURLs []*url.URL, gate *PermissionGate) (*Report, error) {
	run := &crawlRun{
		c:       c,
		scope:   NewScope(seed, c.opts.Scope),
		gate:    gate,
		limiter: NewHostLimiter(c.opts.PerHostDelay, c.opts.RateLimit),
		results: NewResults(c.opts.MaxPages, c.logger),
		pending: make(map[string]struct{}),
		done:    make(chan CrawlResult, c.opts.MaxWorkers),
	}

	for _, u := range seedURLs {
		run.admit(u)
	}
	c.logger.Info("crawl started", "seed", seed.String(), "seed_urls", len(seedURLs), "queued", len(run.frontier), "max_pages", c.opts.MaxPages, "max_workers", c.opts.MaxWorkers)

	var g errgroup.Group
	g.SetLimit(c.opts.MaxWorkers)
	inFlight := 0

	for {
		for inFlight < c.opts.MaxWorkers && len(run.frontier) > 0 && ctx.Err() == nil {
			next := run.pop()
			if !run.results.RecordVisited(next) {
				if run.results.Exhausted() {
					run.drop()
					break
				}
				continue
			}
			inFlight++
			c.metrics.pageDispatched()
			g.Go(func() error {
				run.done <- run.task(ctx, next)
				return nil
			})
		}
		if inFlight == 0 {
			break
		}

		result := <-run.done
		inFlight--
		c.metrics.pageDone()
		run.merge(result)
	}
	_ = g.Wait()

	report := &Report{
		Emails:       run.results.FinalReport(),
		PagesVisited: run.results.VisitedCount(),
		SeedURLs:     len(seedURLs),
	}
	c.logger.Info("crawl finished", "seed", seed.String(), "pages", report.PagesVisited, "emails", len(report.Emails))
	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// admit queues u if it is in scope and may still be dispatched.
func (r *crawlRun) admit(u *url.URL) bool {
	if u == nil || !r.scope.Contains(u) {
		return false
	}
	if !r.c.matchesFilters(u) {
		return false
	}
	if r.results.Exhausted() || r.results.Visited(u) {
		return false
	}
	key := canonicalURLKey(u)
	if _, ok := r.pending[key]; ok {
		return false
	}
	r.pending[key] = struct{}{}
	r.frontier = append(r.frontier, u)
	return true
}

func (r *crawlRun) pop() *url.URL {
	next := r.frontier[0]
	r.frontier[0] = nil
	r.frontier = r.frontier[1:]
	delete(r.pending, canonicalURLKey(next))
	return next
}

func (r *crawlRun) drop() {
	r.c.logger.Debug("page budget exhausted, dropping frontier", "remaining", len(r.frontier))
	r.frontier = nil
	clear(r.pending)
}

func (r *crawlRun) merge(result CrawlResult) {
	if len(result.Emails) > 0 {
		added := r.results.RecordEmails(result.URL, result.Emails)
		r.c.metrics.emailsFound(added)
	}
	admitted := 0
	for _, link := range result.Links {
		if r.admit(link) {
			admitted++
		}
	}
	if admitted > 0 {
		r.c.logger.Debug("queued links", "url", urlString(result.URL), "count", admitted)
	}
}

// ===================== Task =====================

// task fetches one page and extracts its links and e-mails. It never fails:
// denial, fetch errors and panics all produce an empty result.
func (r *crawlRun) task(ctx context.Context, target *url.URL) (result CrawlResult) {
	result.URL = target
	defer func() {
		if p := recover(); p != nil {
			r.c.metrics.taskPanicked()
			r.c.logger.Error("crawl task panicked", "url", target.String(), "panic", p)
			result = CrawlResult{URL: target}
		}
	}()

	if !r.gate.Allowed(ctx, target) {
		r.c.metrics.pageDenied()
		r.c.logger.Debug("robots.txt disallows page", "url", target.String())
		return result
	}
	if err := r.limiter.Wait(ctx, target.Host); err != nil {
		return result
	}

	start := time.Now()
	page, err := r.c.fetcher.Fetch(ctx, FetchRequest{URL: target, SettleDelay: r.c.opts.PerPageDelay})
	r.c.metrics.observeFetch(time.Since(start))
	if err != nil {
		r.c.metrics.fetchFailed(failureKind(err))
		r.c.logger.Warn("failed to fetch page", "url", target.String(), "error", err)
		return result
	}
	if page == nil {
		return result
	}

	emails := FilterEmails(ExtractEmails(string(page.Body)), r.c.opts.AllowedSuffixes)

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		r.c.logger.Debug("failed to parse page HTML", "url", target.String(), "error", err)
	} else {
		emails = emails.Union(FilterEmails(ExtractMailto(doc), r.c.opts.AllowedSuffixes))
		base := page.FinalURL
		if base == nil {
			base = target
		}
		result.Links = ExtractLinks(doc, base, r.scope)
	}

	result.Emails = emails.ToSlice()
	return result
}

func (c *Crawler) matchesFilters(u *url.URL) bool {
	loc := u.String()
	if len(c.opts.Include) > 0 {
		matched := false
		for _, re := range c.opts.Include {
			if re.MatchString(loc) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for _, re := range c.opts.Exclude {
		if re.MatchString(loc) {
			return false
		}
	}
	return true
}
