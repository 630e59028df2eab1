package goemailcrawler

import (
	"context"
	"net/url"
	"time"
)

// Fetcher retrieves a page for the crawler.
type Fetcher interface {
	// Fetch returns the page source for req.URL once it has settled.
	Fetch(ctx context.Context, req FetchRequest) (*Page, error)
}

// FetchRequest is a single page fetch issued by a crawl task.
type FetchRequest struct {
	URL *url.URL
	// SettleDelay is how long to wait after load before the page source is read.
	SettleDelay time.Duration
}

// Page is the fetched page source.
type Page struct {
	URL         *url.URL
	FinalURL    *url.URL
	Body        []byte
	ContentType string
	StatusCode  int
	Rendered    bool
	FetchedAt   time.Time
}

// CrawlResult is what a crawl task hands back to the scheduler.
type CrawlResult struct {
	URL    *url.URL
	Links  []*url.URL
	Emails []string
}

// Report is the outcome of a crawl run.
type Report struct {
	Emails       []string
	PagesVisited int
	SeedURLs     int
}
