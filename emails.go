package goemailcrawler

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	mapset "github.com/deckarep/golang-set/v2"
)

// emailPattern matches the local-part@domain shape over raw page source.
var emailPattern = regexp.MustCompile(`[a-zA-Z0-9_.+\-]+@[a-zA-Z0-9\-]+\.[a-zA-Z0-9.\-]+`)

// DefaultAllowedSuffixes is the suffix allowlist used when none is configured.
var DefaultAllowedSuffixes = []string{
	".com", ".org", ".net", ".edu", ".gov", ".io", ".tech", ".co", ".us", ".info",
	".biz", ".me", ".ai", ".dev", ".online", ".app", ".club", ".uk", ".design",
}

// ExtractEmails returns every address-shaped candidate in text. Case is preserved.
func ExtractEmails(text string) mapset.Set[string] {
	found := mapset.NewThreadUnsafeSet[string]()
	for _, match := range emailPattern.FindAllString(text, -1) {
		match = strings.TrimRight(match, ".-")
		if match == "" || !strings.Contains(match, "@") {
			continue
		}
		found.Add(match)
	}
	return found
}

// FilterEmails keeps candidates whose lower-cased form ends with one of the
// allowed suffixes. Anything else is dropped silently.
func FilterEmails(candidates mapset.Set[string], allowedSuffixes []string) mapset.Set[string] {
	kept := mapset.NewThreadUnsafeSet[string]()
	if candidates == nil {
		return kept
	}
	candidates.Each(func(email string) bool {
		lower := strings.ToLower(email)
		for _, suffix := range allowedSuffixes {
			if suffix != "" && strings.HasSuffix(lower, suffix) {
				kept.Add(email)
				break
			}
		}
		return false
	})
	return kept
}

// ExtractMailto returns the addresses of mailto: anchors in doc.
func ExtractMailto(doc *goquery.Document) mapset.Set[string] {
	found := mapset.NewThreadUnsafeSet[string]()
	if doc == nil {
		return found
	}
	doc.Find(`a[href^="mailto:"], a[href^="MAILTO:"]`).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		addr := strings.TrimSpace(href[len("mailto:"):])
		if i := strings.IndexByte(addr, '?'); i >= 0 {
			addr = addr[:i]
		}
		if decoded, err := url.PathUnescape(addr); err == nil {
			addr = decoded
		}
		for _, part := range strings.Split(addr, ",") {
			for _, email := range ExtractEmails(part).ToSlice() {
				found.Add(email)
			}
		}
	})
	return found
}

// NormalizeSuffixes lower-cases suffixes, adds a leading dot and drops duplicates.
func NormalizeSuffixes(suffixes []string) []string {
	seen := make(map[string]struct{}, len(suffixes))
	out := make([]string, 0, len(suffixes))
	for _, raw := range suffixes {
		suffix := strings.ToLower(strings.TrimSpace(raw))
		if suffix == "" {
			continue
		}
		if !strings.HasPrefix(suffix, ".") {
			suffix = "." + suffix
		}
		if _, ok := seen[suffix]; ok {
			continue
		}
		seen[suffix] = struct{}{}
		out = append(out, suffix)
	}
	return out
}
