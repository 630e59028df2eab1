package goemailcrawler

import (
	"io"
	"log/slog"
	"net/url"
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
)

// Results accumulates the visited URLs and the discovered e-mail addresses of
// one run. The visited set and the e-mail set are guarded independently.
type Results struct {
	maxPages int

	mu      sync.Mutex
	visited map[string]struct{}

	emails mapset.Set[string]
	logger *slog.Logger
}

// NewResults creates an aggregator whose visited set never exceeds maxPages.
func NewResults(maxPages int, logger *slog.Logger) *Results {
	if maxPages < 0 {
		maxPages = 0
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Results{
		maxPages: maxPages,
		visited:  make(map[string]struct{}),
		emails:   mapset.NewSet[string](),
		logger:   logger,
	}
}

// RecordVisited marks u visited and reports whether this call inserted it.
// It returns false when u was already visited or the page budget is spent.
func (r *Results) RecordVisited(u *url.URL) bool {
	key := canonicalURLKey(u)
	if key == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.visited[key]; ok {
		return false
	}
	if len(r.visited) >= r.maxPages {
		return false
	}
	r.visited[key] = struct{}{}
	return true
}

// Visited reports whether u has been dispatched already.
func (r *Results) Visited(u *url.URL) bool {
	key := canonicalURLKey(u)
	r.mu.Lock()
	_, ok := r.visited[key]
	r.mu.Unlock()
	return ok
}

// VisitedCount returns the number of dispatched URLs.
func (r *Results) VisitedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.visited)
}

// Exhausted reports whether the page budget has been spent.
func (r *Results) Exhausted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.visited) >= r.maxPages
}

// RecordEmails merges the addresses found on page and returns how many were new.
func (r *Results) RecordEmails(page *url.URL, emails []string) int {
	added := 0
	for _, email := range emails {
		if r.emails.Add(email) {
			added++
		}
	}
	if len(emails) > 0 && page != nil {
		r.logger.Debug("emails found", "url", page.String(), "emails", emails, "new", added)
	}
	return added
}

// FinalReport returns the discovered addresses in sorted order.
func (r *Results) FinalReport() []string {
	out := r.emails.ToSlice()
	sort.Strings(out)
	return out
}
