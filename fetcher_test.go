package goemailcrawler

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
)

func TestHTTPFetcher_Fetch(t *testing.T) {
	var gotUA string
	server := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/old":
			http.Redirect(w, r, "/new", http.StatusMovedPermanently)
		case "/new":
			gotUA = r.Header.Get("User-Agent")
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html>hello</html>"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	fetcher := NewHTTPFetcher(HTTPFetcherOptions{UserAgent: "test-agent"})
	page, err := fetcher.Fetch(context.Background(), FetchRequest{URL: mustParseURL(t, server.URL+"/old")})
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if string(page.Body) != "<html>hello</html>" {
		t.Fatalf("unexpected body %q", page.Body)
	}
	if page.FinalURL.Path != "/new" {
		t.Fatalf("expected final URL after redirect, got %s", page.FinalURL)
	}
	if gotUA != "test-agent" {
		t.Fatalf("expected user agent to be sent, got %q", gotUA)
	}
}

func TestHTTPFetcher_HTTPStatusError(t *testing.T) {
	server := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	_, err := NewHTTPFetcher(HTTPFetcherOptions{}).Fetch(context.Background(), FetchRequest{URL: mustParseURL(t, server.URL)})
	var statusErr *ErrHTTPStatus
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusForbidden {
		t.Fatalf("expected ErrHTTPStatus 403, got %v", err)
	}
	if failureKind(err) != "http_status" {
		t.Fatalf("expected http_status failure kind, got %s", failureKind(err))
	}
}

func TestHTTPFetcher_ContentEncodings(t *testing.T) {
	const body = "<p>contact@example.com</p>"

	var gz bytes.Buffer
	gzWriter := gzip.NewWriter(&gz)
	_, _ = gzWriter.Write([]byte(body))
	_ = gzWriter.Close()

	var br bytes.Buffer
	brWriter := brotli.NewWriter(&br)
	_, _ = brWriter.Write([]byte(body))
	_ = brWriter.Close()

	server := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/gzip":
			w.Header().Set("Content-Encoding", "gzip")
			_, _ = w.Write(gz.Bytes())
		case "/br":
			w.Header().Set("Content-Encoding", "br")
			_, _ = w.Write(br.Bytes())
		default:
			_, _ = w.Write([]byte(body))
		}
	}))
	defer server.Close()

	fetcher := NewHTTPFetcher(HTTPFetcherOptions{})
	for _, path := range []string{"/gzip", "/br", "/plain"} {
		page, err := fetcher.Fetch(context.Background(), FetchRequest{URL: mustParseURL(t, server.URL+path)})
		if err != nil {
			t.Fatalf("fetch %s failed: %v", path, err)
		}
		if string(page.Body) != body {
			t.Fatalf("fetch %s: unexpected body %q", path, page.Body)
		}
	}
}

func TestHTTPFetcher_BodyLimit(t *testing.T) {
	server := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 2048)))
	}))
	defer server.Close()

	fetcher := NewHTTPFetcher(HTTPFetcherOptions{MaxBodyBytes: 1024})
	_, err := fetcher.Fetch(context.Background(), FetchRequest{URL: mustParseURL(t, server.URL)})
	var fetchErr *ErrFetch
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected ErrFetch for oversized body, got %v", err)
	}
}

func TestHTTPFetcher_SettleDelay(t *testing.T) {
	server := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	fetcher := NewHTTPFetcher(HTTPFetcherOptions{})
	start := time.Now()
	if _, err := fetcher.Fetch(context.Background(), FetchRequest{URL: mustParseURL(t, server.URL), SettleDelay: 40 * time.Millisecond}); err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("expected settle delay to be honoured, got %s", elapsed)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := fetcher.Fetch(ctx, FetchRequest{URL: mustParseURL(t, server.URL), SettleDelay: time.Second})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected settle delay to stop on context deadline, got %v", err)
	}
}

type stubRenderer struct {
	page *Page
	err  error
}

func (s stubRenderer) Render(ctx context.Context, req FetchRequest) (*Page, error) {
	return s.page, s.err
}

func TestComposite_Fetch(t *testing.T) {
	server := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("from-http"))
	}))
	defer server.Close()

	target := mustParseURL(t, server.URL)
	httpFetcher := NewHTTPFetcher(HTTPFetcherOptions{})

	rendered := NewComposite(httpFetcher, stubRenderer{page: &Page{URL: target, Body: []byte("from-renderer"), Rendered: true}}, nil)
	page, err := rendered.Fetch(context.Background(), FetchRequest{URL: target})
	if err != nil || string(page.Body) != "from-renderer" {
		t.Fatalf("expected renderer output, got %v, %v", page, err)
	}

	fallback := NewComposite(httpFetcher, stubRenderer{err: errors.New("chrome not installed")}, nil)
	page, err = fallback.Fetch(context.Background(), FetchRequest{URL: target})
	if err != nil || string(page.Body) != "from-http" {
		t.Fatalf("expected HTTP fallback, got %v, %v", page, err)
	}
}
