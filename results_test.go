package goemailcrawler

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

func TestResults_RecordVisitedRespectsBudget(t *testing.T) {
	results := NewResults(2, nil)

	if !results.RecordVisited(mustParseURL(t, "https://example.com/a")) {
		t.Fatalf("expected first insert to succeed")
	}
	if results.RecordVisited(mustParseURL(t, "https://EXAMPLE.com/a#frag")) {
		t.Fatalf("expected duplicate (case and fragment insensitive) to be rejected")
	}
	if !results.RecordVisited(mustParseURL(t, "https://example.com/b")) {
		t.Fatalf("expected second insert to succeed")
	}
	if results.RecordVisited(mustParseURL(t, "https://example.com/c")) {
		t.Fatalf("expected insert beyond budget to be rejected")
	}
	if !results.Exhausted() || results.VisitedCount() != 2 {
		t.Fatalf("expected exhausted budget with 2 visited, got %d", results.VisitedCount())
	}
	if !results.Visited(mustParseURL(t, "https://example.com/b")) {
		t.Fatalf("expected /b to be visited")
	}
}

func TestResults_ZeroBudget(t *testing.T) {
	results := NewResults(0, nil)
	if results.RecordVisited(mustParseURL(t, "https://example.com/")) {
		t.Fatalf("expected zero budget to reject every URL")
	}
}

func TestResults_ConcurrentRecordVisited(t *testing.T) {
	const budget = 25
	results := NewResults(budget, nil)

	var inserted int32
	var wg sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				u := mustParseURL(t, fmt.Sprintf("https://example.com/page-%d", i))
				if results.RecordVisited(u) {
					atomic.AddInt32(&inserted, 1)
				}
			}
		}(worker)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&inserted); got != budget {
		t.Fatalf("expected exactly %d successful inserts, got %d", budget, got)
	}
	if results.VisitedCount() != budget {
		t.Fatalf("expected %d visited, got %d", budget, results.VisitedCount())
	}
}

func TestResults_RecordEmailsAndFinalReport(t *testing.T) {
	results := NewResults(10, nil)
	page := mustParseURL(t, "https://example.com/contact")

	if added := results.RecordEmails(page, []string{"b@example.com", "a@example.com"}); added != 2 {
		t.Fatalf("expected 2 new addresses, got %d", added)
	}
	if added := results.RecordEmails(page, []string{"a@example.com", "c@example.com"}); added != 1 {
		t.Fatalf("expected 1 new address, got %d", added)
	}
	if got := strings.Join(results.FinalReport(), ","); got != "a@example.com,b@example.com,c@example.com" {
		t.Fatalf("unexpected report %s", got)
	}
}
