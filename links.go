package goemailcrawler

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var skippedHrefPrefixes = []string{"javascript:", "mailto:", "tel:", "data:"}

// ExtractLinks returns the in-scope anchor targets of doc in document order,
// resolved against base, without fragments and without duplicates.
func ExtractLinks(doc *goquery.Document, base *url.URL, scope *Scope) []*url.URL {
	if doc == nil || base == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var links []*url.URL

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		lower := strings.ToLower(href)
		for _, prefix := range skippedHrefPrefixes {
			if strings.HasPrefix(lower, prefix) {
				return
			}
		}

		u, err := base.Parse(href)
		if err != nil {
			return
		}
		u.Fragment = ""
		u.RawFragment = ""
		if !scope.Contains(u) {
			return
		}
		key := canonicalURLKey(u)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		links = append(links, u)
	})
	return links
}
