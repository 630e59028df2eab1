package goemailcrawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"
)

// RenderOptions configures the headless browser.
type RenderOptions struct {
	Timeout            time.Duration
	UserAgent          string
	MaxBodyBytes       int64
	DisableHeadless    bool
	ConcurrentSessions int
	Logger             *slog.Logger
}

// ChromedpRenderer loads pages in headless Chrome so client-side content is
// present in the captured source.
type ChromedpRenderer struct {
	opts     RenderOptions
	sessions *semaphore.Weighted
	logger   *slog.Logger
}

// NewChromedpRenderer constructs a renderer with bounded concurrency.
func NewChromedpRenderer(opts RenderOptions) *ChromedpRenderer {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.ConcurrentSessions <= 0 {
		opts.ConcurrentSessions = 1
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ChromedpRenderer{
		opts:     opts,
		sessions: semaphore.NewWeighted(int64(opts.ConcurrentSessions)),
		logger:   opts.Logger,
	}
}

// Render navigates to the URL, waits the settle delay and exports the DOM.
func (r *ChromedpRenderer) Render(parentCtx context.Context, req FetchRequest) (*Page, error) {
	if req.URL == nil {
		return nil, errors.New("render request URL is nil")
	}

	if err := r.sessions.Acquire(parentCtx, 1); err != nil {
		return nil, err
	}
	defer r.sessions.Release(1)

	ctx, cancel := context.WithTimeout(parentCtx, r.opts.Timeout+req.SettleDelay)
	defer cancel()

	execOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", !r.opts.DisableHeadless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.UserAgent(r.opts.UserAgent),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, execOpts...)
	defer allocCancel()

	chromeCtx, chromeCancel := chromedp.NewContext(allocCtx)
	defer chromeCancel()

	var html string
	var finalURL string
	actions := []chromedp.Action{
		chromedp.Navigate(req.URL.String()),
	}
	if req.SettleDelay > 0 {
		actions = append(actions, chromedp.Sleep(req.SettleDelay))
	}
	actions = append(actions,
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Location(&finalURL),
	)

	start := time.Now()
	if err := chromedp.Run(chromeCtx, actions...); err != nil {
		return nil, &ErrFetch{URL: req.URL, Err: fmt.Errorf("chromedp run: %w", err)}
	}

	if int64(len(html)) > r.opts.MaxBodyBytes {
		html = html[:r.opts.MaxBodyBytes]
	}

	parsedFinal := req.URL
	if strings.TrimSpace(finalURL) != "" {
		if u, err := url.Parse(finalURL); err == nil {
			parsedFinal = u
		}
	}

	r.logger.Debug("chromedp render complete",
		"url", req.URL.String(),
		"final_url", parsedFinal.String(),
		"latency_ms", time.Since(start).Milliseconds(),
		"html_bytes", len(html),
	)
	return &Page{
		URL:         req.URL,
		FinalURL:    parsedFinal,
		Body:        []byte(html),
		ContentType: "text/html; charset=utf-8",
		StatusCode:  200,
		Rendered:    true,
		FetchedAt:   time.Now(),
	}, nil
}
