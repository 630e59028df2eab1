package goemailcrawler

import (
	"errors"
	"net"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// ScopeMode selects how links are matched against the seed origin.
type ScopeMode string

const (
	// ScopeHost admits only URLs whose host equals the seed host.
	ScopeHost ScopeMode = "host"
	// ScopeSite admits URLs on the seed's port whose host shares the seed's
	// registrable domain (eTLD+1), so www and apex variants match.
	ScopeSite ScopeMode = "site"
)

var schemePrefix = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.\-]*:/+`)

// NormalizeSeed turns user input (a URL or a bare hostname) into the seed URL.
func NormalizeSeed(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, &ErrInvalidURL{Err: errors.New("empty input")}
	}
	scheme := "https"
	if m := schemePrefix.FindString(trimmed); m != "" {
		candidate := strings.ToLower(strings.TrimRight(m, ":/"))
		if candidate == "http" || candidate == "https" {
			scheme = candidate
		}
		trimmed = trimmed[len(m):]
	}
	parsed, err := url.Parse(scheme + "://" + trimmed)
	if err != nil {
		return nil, &ErrInvalidURL{URL: raw, Err: err}
	}
	if parsed.Host == "" {
		return nil, &ErrInvalidURL{URL: raw, Err: errors.New("missing host")}
	}
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""
	if parsed.Path == "/" {
		parsed.Path = ""
	}
	return parsed, nil
}

// Scope decides whether a URL belongs to the crawl origin.
type Scope struct {
	mode ScopeMode
	host string
	port string
	site string
}

// NewScope builds a scope anchored at seed.
func NewScope(seed *url.URL, mode ScopeMode) *Scope {
	s := &Scope{mode: mode}
	if seed == nil {
		return s
	}
	s.host = strings.ToLower(seed.Host)
	s.port = effectivePort(seed)
	if mode == ScopeSite {
		s.site = registrableDomain(seed.Hostname())
	}
	return s
}

// Contains reports whether u is an http(s) URL inside the scope.
func (s *Scope) Contains(u *url.URL) bool {
	if s == nil || u == nil || s.host == "" {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return false
	}
	host := strings.ToLower(u.Host)
	if host == s.host {
		return true
	}
	if s.mode != ScopeSite || s.site == "" || effectivePort(u) != s.port {
		return false
	}
	return registrableDomain(u.Hostname()) == s.site
}

func effectivePort(u *url.URL) string {
	if port := u.Port(); port != "" {
		return port
	}
	if strings.EqualFold(u.Scheme, "http") {
		return "80"
	}
	return "443"
}

func registrableDomain(hostname string) string {
	hostname = strings.ToLower(strings.TrimSuffix(hostname, "."))
	if hostname == "" {
		return ""
	}
	if net.ParseIP(hostname) != nil {
		return hostname
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(hostname)
	if err != nil {
		return hostname
	}
	return domain
}

func canonicalURLKey(u *url.URL) string {
	if u == nil {
		return ""
	}
	clone := *u
	clone.Fragment = ""
	clone.RawFragment = ""
	clone.Host = strings.ToLower(clone.Host)
	return clone.String()
}

func cloneURL(u *url.URL) *url.URL {
	if u == nil {
		return nil
	}
	copy := *u
	return &copy
}
