package goemailcrawler

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
)

const defaultMaxBodyBytes = 6 * 1024 * 1024

// HTTPFetcherOptions controls plain HTTP page fetching.
type HTTPFetcherOptions struct {
	HTTPClient   *http.Client
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int64
}

// HTTPFetcher implements Fetcher with net/http. It does not run scripts.
type HTTPFetcher struct {
	client       *http.Client
	userAgent    string
	maxBodyBytes int64
}

// NewHTTPFetcher constructs an HTTP fetcher using the provided options.
func NewHTTPFetcher(opts HTTPFetcherOptions) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultRequestTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	client := opts.HTTPClient
	if client == nil {
		client = NewHTTPClient(opts.Timeout)
	}
	return &HTTPFetcher{
		client:       client,
		userAgent:    opts.UserAgent,
		maxBodyBytes: opts.MaxBodyBytes,
	}
}

// NewHTTPClient returns a client with dial and TLS timeouts suited to crawling.
func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

// Client exposes the underlying HTTP client for reuse (robots.txt, sitemaps).
func (f *HTTPFetcher) Client() *http.Client {
	if f == nil {
		return nil
	}
	return f.client
}

// Fetch downloads req.URL and then waits req.SettleDelay.
func (f *HTTPFetcher) Fetch(ctx context.Context, req FetchRequest) (*Page, error) {
	if req.URL == nil {
		return nil, errors.New("request URL is nil")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL.String(), nil)
	if err != nil {
		return nil, &ErrInvalidURL{URL: req.URL.String(), Err: err}
	}
	httpReq.Header.Set("User-Agent", f.userAgent)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	httpReq.Header.Set("Accept-Language", "en-US,en;q=0.8")
	httpReq.Header.Set("Accept-Encoding", "gzip, deflate, br")

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, &ErrFetch{URL: req.URL, Err: err}
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		resp.Body.Close()
		return nil, &ErrHTTPStatus{URL: req.URL, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := f.readBody(resp)
	if err != nil {
		return nil, &ErrFetch{URL: req.URL, Err: err}
	}

	finalURL := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL
	}

	if err := sleepWithContext(ctx, req.SettleDelay); err != nil {
		return nil, err
	}

	return &Page{
		URL:         req.URL,
		FinalURL:    finalURL,
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
		FetchedAt:   time.Now(),
	}, nil
}

func (f *HTTPFetcher) readBody(resp *http.Response) ([]byte, error) {
	if resp == nil || resp.Body == nil {
		return nil, errors.New("empty response body")
	}

	reader := io.Reader(resp.Body)
	closers := []io.Closer{resp.Body}

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		reader = gz
		closers = append(closers, gz)
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		reader = fl
		closers = append(closers, fl)
	}

	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	body, err := io.ReadAll(io.LimitReader(reader, f.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxBodyBytes {
		return nil, fmt.Errorf("response body exceeds limit of %d bytes", f.maxBodyBytes)
	}
	return body, nil
}

// Renderer executes JavaScript and returns the rendered DOM.
type Renderer interface {
	Render(ctx context.Context, req FetchRequest) (*Page, error)
}

// Composite prefers the renderer and falls back to plain HTTP when it fails.
type Composite struct {
	fallback Fetcher
	renderer Renderer
	logger   *slog.Logger
}

// NewComposite builds a composite fetcher. renderer may be nil.
func NewComposite(fallback Fetcher, renderer Renderer, logger *slog.Logger) *Composite {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Composite{fallback: fallback, renderer: renderer, logger: logger}
}

// Fetch delegates to the renderer, or to the HTTP fetcher on renderer errors.
func (c *Composite) Fetch(ctx context.Context, req FetchRequest) (*Page, error) {
	if c.renderer != nil {
		page, err := c.renderer.Render(ctx, req)
		if err == nil {
			return page, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("renderer failed, falling back to HTTP fetch", "url", urlString(req.URL), "error", err)
	}
	return c.fallback.Fetch(ctx, req)
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func urlString(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.String()
}
