package goemailcrawler

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the YAML configuration of the crawler and its CLI.
type Config struct {
	Crawl      CrawlConfig      `yaml:"crawl"`
	Sitemap    SitemapConfig    `yaml:"sitemap"`
	Emails     EmailsConfig     `yaml:"emails"`
	Rendering  RenderingConfig  `yaml:"rendering"`
	Politeness PolitenessConfig `yaml:"politeness"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// CrawlConfig controls the page budget, concurrency and link admission.
type CrawlConfig struct {
	MaxPages       int      `yaml:"max_pages"`
	MaxWorkers     int      `yaml:"max_workers"`
	PerPageDelay   Duration `yaml:"per_page_delay"`
	UserAgent      string   `yaml:"user_agent"`
	RequestTimeout Duration `yaml:"request_timeout"`
	Scope          string   `yaml:"scope"`
	Include        []string `yaml:"include"`
	Exclude        []string `yaml:"exclude"`
}

// SitemapConfig controls sitemap discovery and expansion limits.
type SitemapConfig struct {
	Strategy     string   `yaml:"strategy"`
	ProbeTimeout Duration `yaml:"probe_timeout"`
	MaxDepth     int      `yaml:"max_depth"`
	MaxSitemaps  int      `yaml:"max_sitemaps"`
}

// EmailsConfig holds the domain suffix allowlist.
type EmailsConfig struct {
	AllowedSuffixes []string `yaml:"allowed_suffixes"`
}

// RenderingConfig controls optional JavaScript rendering.
type RenderingConfig struct {
	Enabled            bool     `yaml:"enabled"`
	Timeout            Duration `yaml:"timeout"`
	ConcurrentSessions int      `yaml:"concurrent_sessions"`
	DisableHeadless    bool     `yaml:"disable_headless"`
}

// PolitenessConfig spaces out requests to one host.
type PolitenessConfig struct {
	PerHostDelay Duration        `yaml:"per_host_delay"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig applies a token bucket per host.
type RateLimitConfig struct {
	Requests int      `yaml:"requests"`
	Window   Duration `yaml:"window"`
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Structured bool   `yaml:"structured"`
}

// MetricsConfig enables the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultConfig returns a Config populated with the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Crawl: CrawlConfig{
			MaxPages:       defaultMaxPages,
			MaxWorkers:     defaultMaxWorkers,
			PerPageDelay:   DurationFrom(defaultPerPageDelay),
			UserAgent:      defaultUserAgent,
			RequestTimeout: DurationFrom(defaultRequestTimeout),
			Scope:          string(ScopeSite),
		},
		Sitemap: SitemapConfig{
			Strategy:     string(StrategyRobots),
			ProbeTimeout: DurationFrom(defaultProbeTimeout),
		},
		Emails: EmailsConfig{
			AllowedSuffixes: append([]string(nil), DefaultAllowedSuffixes...),
		},
		Rendering: RenderingConfig{
			Timeout:            DurationFrom(30 * time.Second),
			ConcurrentSessions: 2,
		},
		Logging: LoggingConfig{
			Level: "warn",
		},
	}
}

// LoadConfig reads a YAML file and merges it over DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer fh.Close()
	return LoadConfigFromReader(fh)
}

// LoadConfigFromReader decodes configuration from an arbitrary reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalise() {
	c.Crawl.UserAgent = strings.TrimSpace(c.Crawl.UserAgent)
	c.Crawl.Scope = strings.ToLower(strings.TrimSpace(c.Crawl.Scope))
	c.Sitemap.Strategy = strings.ToLower(strings.TrimSpace(c.Sitemap.Strategy))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Metrics.Addr = strings.TrimSpace(c.Metrics.Addr)
	c.Emails.AllowedSuffixes = NormalizeSuffixes(c.Emails.AllowedSuffixes)
}

// Validate enforces the invariants the crawler relies on.
func (c Config) Validate() error {
	if c.Crawl.MaxPages < 0 {
		return &ErrInvalidConfig{Field: "crawl.max_pages", Reason: fmt.Sprintf("must be >= 0 (got %d)", c.Crawl.MaxPages)}
	}
	if c.Crawl.MaxWorkers <= 0 {
		return &ErrInvalidConfig{Field: "crawl.max_workers", Reason: fmt.Sprintf("must be > 0 (got %d)", c.Crawl.MaxWorkers)}
	}
	if c.Crawl.PerPageDelay.Duration < 0 {
		return &ErrInvalidConfig{Field: "crawl.per_page_delay", Reason: "must not be negative"}
	}
	if c.Crawl.RequestTimeout.Duration <= 0 {
		return &ErrInvalidConfig{Field: "crawl.request_timeout", Reason: "must be > 0"}
	}
	if c.Crawl.UserAgent == "" {
		return &ErrInvalidConfig{Field: "crawl.user_agent", Reason: "must be set"}
	}
	switch ScopeMode(c.Crawl.Scope) {
	case ScopeHost, ScopeSite:
	default:
		return &ErrInvalidConfig{Field: "crawl.scope", Reason: fmt.Sprintf("unknown scope %q (use host, site)", c.Crawl.Scope)}
	}
	for _, pattern := range append(append([]string(nil), c.Crawl.Include...), c.Crawl.Exclude...) {
		if _, err := regexp.Compile(pattern); err != nil {
			return &ErrInvalidConfig{Field: "crawl.include/exclude", Reason: err.Error()}
		}
	}
	if _, err := ParseStrategy(c.Sitemap.Strategy); err != nil {
		return &ErrInvalidConfig{Field: "sitemap.strategy", Reason: err.Error()}
	}
	if c.Sitemap.MaxDepth < 0 || c.Sitemap.MaxSitemaps < 0 {
		return &ErrInvalidConfig{Field: "sitemap", Reason: "limits must be >= 0"}
	}
	if len(c.Emails.AllowedSuffixes) == 0 {
		return &ErrInvalidConfig{Field: "emails.allowed_suffixes", Reason: "must include at least one suffix"}
	}
	if c.Rendering.Enabled && c.Rendering.ConcurrentSessions <= 0 {
		return &ErrInvalidConfig{Field: "rendering.concurrent_sessions", Reason: "must be > 0 when rendering is enabled"}
	}
	if c.Politeness.RateLimit.Requests < 0 {
		return &ErrInvalidConfig{Field: "politeness.rate_limit.requests", Reason: "must be >= 0"}
	}
	if _, err := ParseLogLevel(c.Logging.Level); err != nil {
		return &ErrInvalidConfig{Field: "logging.level", Reason: err.Error()}
	}
	return nil
}

// Options maps the configuration onto crawler options. Logger, Metrics and
// Renderer are left for the caller to wire.
func (c Config) Options() (Options, error) {
	strategy, err := ParseStrategy(c.Sitemap.Strategy)
	if err != nil {
		return Options{}, &ErrInvalidConfig{Field: "sitemap.strategy", Reason: err.Error()}
	}
	include, err := compilePatterns(c.Crawl.Include)
	if err != nil {
		return Options{}, &ErrInvalidConfig{Field: "crawl.include", Reason: err.Error()}
	}
	exclude, err := compilePatterns(c.Crawl.Exclude)
	if err != nil {
		return Options{}, &ErrInvalidConfig{Field: "crawl.exclude", Reason: err.Error()}
	}
	return Options{
		UserAgent:         c.Crawl.UserAgent,
		PerRequestTimeout: c.Crawl.RequestTimeout.Duration,
		ProbeTimeout:      c.Sitemap.ProbeTimeout.Duration,
		Strategy:          strategy,
		MaxSitemapDepth:   c.Sitemap.MaxDepth,
		MaxSitemaps:       c.Sitemap.MaxSitemaps,
		MaxPages:          c.Crawl.MaxPages,
		MaxWorkers:        c.Crawl.MaxWorkers,
		PerPageDelay:      c.Crawl.PerPageDelay.Duration,
		AllowedSuffixes:   c.Emails.AllowedSuffixes,
		Scope:             ScopeMode(c.Crawl.Scope),
		Include:           include,
		Exclude:           exclude,
		PerHostDelay:      c.Politeness.PerHostDelay.Duration,
		RateLimit: RateLimit{
			Requests: c.Politeness.RateLimit.Requests,
			Window:   c.Politeness.RateLimit.Window.Duration,
		},
	}, nil
}

// ParseLogLevel maps a level name onto slog levels. Empty means warn.
func ParseLogLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "", "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelWarn, fmt.Errorf("invalid log level %q (use debug, info, warn, error)", value)
	}
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, raw := range patterns {
		re, err := regexp.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("compile pattern %q: %w", raw, err)
		}
		out = append(out, re)
	}
	return out, nil
}
