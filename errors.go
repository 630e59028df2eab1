package goemailcrawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

// ErrInvalidURL indicates the input website or discovered URL is invalid.
type ErrInvalidURL struct {
	URL string
	Err error
}

func (e *ErrInvalidURL) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("invalid URL: %v", e.Err)
	}
	return fmt.Sprintf("invalid URL %q: %v", e.URL, e.Err)
}

func (e *ErrInvalidURL) Unwrap() error {
	return e.Err
}

// ErrNoSeedURLs indicates that sitemap resolution produced no page URLs.
// It is the only condition that aborts a run.
type ErrNoSeedURLs struct {
	URL *url.URL
}

func (e *ErrNoSeedURLs) Error() string {
	if e.URL == nil {
		return "no URLs found in sitemap"
	}
	return fmt.Sprintf("no URLs found in sitemap for %s", e.URL)
}

// ErrFetch wraps a transport failure (connection, timeout, body read).
type ErrFetch struct {
	URL *url.URL
	Err error
}

func (e *ErrFetch) Error() string {
	if e.URL == nil {
		return fmt.Sprintf("fetch failed: %v", e.Err)
	}
	return fmt.Sprintf("fetch %s failed: %v", e.URL, e.Err)
}

func (e *ErrFetch) Unwrap() error {
	return e.Err
}

// ErrHTTPStatus indicates an unexpected HTTP status while fetching a resource.
type ErrHTTPStatus struct {
	URL        *url.URL
	StatusCode int
	Status     string
}

func (e *ErrHTTPStatus) Error() string {
	if e.URL == nil {
		return fmt.Sprintf("unexpected HTTP status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected HTTP status %d for %s", e.StatusCode, e.URL)
}

// ErrNotXML indicates a sitemap location returned something other than XML.
type ErrNotXML struct {
	URL *url.URL
}

func (e *ErrNotXML) Error() string {
	if e.URL == nil {
		return "expected XML sitemap but got non-XML content"
	}
	return fmt.Sprintf("expected XML sitemap but got non-XML content at %s", e.URL)
}

// ErrSitemapParse indicates a failure while parsing sitemap XML.
type ErrSitemapParse struct {
	URL *url.URL
	Err error
}

func (e *ErrSitemapParse) Error() string {
	if e.URL == nil {
		return fmt.Sprintf("sitemap parse failed: %v", e.Err)
	}
	return fmt.Sprintf("sitemap parse failed for %s: %v", e.URL, e.Err)
}

func (e *ErrSitemapParse) Unwrap() error {
	return e.Err
}

// ErrMaxDepth indicates the sitemap index depth limit was exceeded.
type ErrMaxDepth struct {
	MaxDepth int
	URL      *url.URL
}

func (e *ErrMaxDepth) Error() string {
	if e.URL == nil {
		return fmt.Sprintf("max depth %d exceeded", e.MaxDepth)
	}
	return fmt.Sprintf("max depth %d exceeded at %s", e.MaxDepth, e.URL)
}

// ErrMaxSitemaps indicates the sitemap count limit was exceeded.
type ErrMaxSitemaps struct {
	MaxSitemaps int
}

func (e *ErrMaxSitemaps) Error() string {
	return fmt.Sprintf("max sitemaps %d exceeded", e.MaxSitemaps)
}

// ErrInvalidConfig reports a configuration value that failed validation.
type ErrInvalidConfig struct {
	Field  string
	Reason string
}

func (e *ErrInvalidConfig) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}

// failureKind labels a fetch error for metrics.
func failureKind(err error) string {
	var statusErr *ErrHTTPStatus
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &statusErr):
		return "http_status"
	default:
		return "transport"
	}
}
