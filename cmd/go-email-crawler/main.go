package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	goemailcrawler "github.com/kotylevskiy/go-email-crawler"
)

const logLevelEnv = "EMAIL_CRAWLER_LOG_LEVEL"

func main() {
	if err := newRootCommand(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type flagValues struct {
	configPath  string
	maxPages    int
	maxWorkers  int
	delay       time.Duration
	userAgent   string
	strategy    string
	scope       string
	timeout     time.Duration
	render      bool
	logLevel    string
	metricsAddr string
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	var fv flagValues

	cmd := &cobra.Command{
		Use:          "go-email-crawler [flags] <site URL or hostname>",
		Short:        "Crawl a website from its sitemaps and print the contact e-mails found",
		SilenceUsage: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return nil
			}
			return fmt.Errorf("usage: %s", cmd.UseLine())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, fv)
			if err != nil {
				return err
			}

			logger, err := newLogger(stderr, fv.logLevel, cfg.Logging)
			if err != nil {
				return err
			}

			opts, err := cfg.Options()
			if err != nil {
				return err
			}
			opts.Logger = logger

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if cfg.Metrics.Addr != "" {
				reg := prometheus.NewRegistry()
				reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
				opts.Metrics = goemailcrawler.NewMetrics(reg)
				shutdown := serveMetrics(cfg.Metrics.Addr, reg, logger)
				defer shutdown()
			}

			if cfg.Rendering.Enabled {
				opts.Renderer = goemailcrawler.NewChromedpRenderer(goemailcrawler.RenderOptions{
					Timeout:            cfg.Rendering.Timeout.Duration,
					UserAgent:          opts.UserAgent,
					DisableHeadless:    cfg.Rendering.DisableHeadless,
					ConcurrentSessions: cfg.Rendering.ConcurrentSessions,
					Logger:             logger,
				})
			}

			report, err := goemailcrawler.New(opts).Run(ctx, args[0])
			if report != nil {
				for _, email := range report.Emails {
					if _, werr := fmt.Fprintln(stdout, email); werr != nil {
						return werr
					}
				}
			}
			if err != nil {
				var noSeeds *goemailcrawler.ErrNoSeedURLs
				if errors.As(err, &noSeeds) {
					return fmt.Errorf("%w: nothing to crawl", err)
				}
				return err
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&fv.configPath, "config", "", "Path to a YAML config file")
	flags.IntVar(&fv.maxPages, "max-pages", 0, "Maximum number of pages to visit")
	flags.IntVar(&fv.maxWorkers, "max-workers", 0, "Number of concurrent crawl tasks")
	flags.DurationVar(&fv.delay, "delay", 0, "Settle delay after each page load (e.g. 2s)")
	flags.StringVar(&fv.userAgent, "user-agent", "", "User-Agent for HTTP requests and robots.txt matching")
	flags.StringVar(&fv.strategy, "strategy", "", "Sitemap discovery strategy (robots, probe, fixed)")
	flags.StringVar(&fv.scope, "scope", "", "Link scope: site (same registrable domain) or host (exact host)")
	flags.DurationVar(&fv.timeout, "timeout", 0, "Per-request timeout (e.g. 5s, 500ms)")
	flags.BoolVar(&fv.render, "render", false, "Render pages in headless Chrome before extraction")
	flags.StringVar(&fv.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.StringVar(&fv.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")

	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	return cmd
}

// loadConfig reads --config (or defaults) and applies the flags that were set.
func loadConfig(cmd *cobra.Command, fv flagValues) (*goemailcrawler.Config, error) {
	var cfg *goemailcrawler.Config
	if fv.configPath != "" {
		loaded, err := goemailcrawler.LoadConfig(fv.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		defaults := goemailcrawler.DefaultConfig()
		cfg = &defaults
	}

	flags := cmd.Flags()
	if flags.Changed("max-pages") {
		cfg.Crawl.MaxPages = fv.maxPages
	}
	if flags.Changed("max-workers") {
		cfg.Crawl.MaxWorkers = fv.maxWorkers
	}
	if flags.Changed("delay") {
		cfg.Crawl.PerPageDelay = goemailcrawler.DurationFrom(fv.delay)
	}
	if flags.Changed("user-agent") {
		cfg.Crawl.UserAgent = strings.TrimSpace(fv.userAgent)
	}
	if flags.Changed("strategy") {
		cfg.Sitemap.Strategy = strings.ToLower(strings.TrimSpace(fv.strategy))
	}
	if flags.Changed("scope") {
		cfg.Crawl.Scope = strings.ToLower(strings.TrimSpace(fv.scope))
	}
	if flags.Changed("timeout") {
		cfg.Crawl.RequestTimeout = goemailcrawler.DurationFrom(fv.timeout)
	}
	if flags.Changed("render") {
		cfg.Rendering.Enabled = fv.render
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = strings.TrimSpace(fv.metricsAddr)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger resolves the level from the flag, then the environment, then config.
func newLogger(w io.Writer, flagValue string, cfg goemailcrawler.LoggingConfig) (*slog.Logger, error) {
	value := strings.TrimSpace(flagValue)
	if value == "" {
		value = strings.TrimSpace(os.Getenv(logLevelEnv))
	}
	if value == "" {
		value = cfg.Level
	}
	level, err := goemailcrawler.ParseLogLevel(value)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Structured {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
