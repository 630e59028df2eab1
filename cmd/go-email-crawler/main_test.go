package main

import (
	"bytes"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	goemailcrawler "github.com/kotylevskiy/go-email-crawler"
)

func TestRootCommand_RequiresOneArgument(t *testing.T) {
	var stdout, stderr bytes.Buffer
	cmd := newRootCommand(&stdout, &stderr)
	cmd.SetArgs([]string{})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "usage:") {
		t.Fatalf("expected usage error, got %v", err)
	}
	if stdout.Len() != 0 {
		t.Fatalf("expected nothing on stdout, got %q", stdout.String())
	}
}

func TestRootCommand_PrintsEmails(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test that requires network listener: %v", err)
	}
	server := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sitemap.xml":
			_, _ = w.Write([]byte(`<?xml version="1.0"?><urlset><url><loc>/team</loc></url></urlset>`))
		case "/team":
			_, _ = w.Write([]byte(`<p>zoe@example.com, adam@example.org, build@1.2.3</p>`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	server.Listener = listener
	server.Start()
	defer server.Close()

	var stdout, stderr bytes.Buffer
	cmd := newRootCommand(&stdout, &stderr)
	cmd.SetArgs([]string{"--max-pages", "5", "--delay", "0s", "--strategy", "fixed", server.URL})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute failed: %v (stderr: %s)", err, stderr.String())
	}
	if got := stdout.String(); got != "adam@example.org\nzoe@example.com\n" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestRootCommand_NoSeedURLs(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test that requires network listener: %v", err)
	}
	server := httptest.NewUnstartedServer(http.NotFoundHandler())
	server.Listener = listener
	server.Start()
	defer server.Close()

	var stdout, stderr bytes.Buffer
	cmd := newRootCommand(&stdout, &stderr)
	cmd.SetArgs([]string{"--strategy", "fixed", server.URL})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "no URLs found in sitemap") {
		t.Fatalf("expected no-seed error, got %v", err)
	}
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("crawl:\n  max_pages: 50\n  max_workers: 4\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cmd := newRootCommand(&bytes.Buffer{}, &bytes.Buffer{})
	if err := cmd.ParseFlags([]string{"--config", path, "--max-pages", "3", "--scope", "host"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	fv := flagValues{configPath: path, maxPages: 3, scope: "host"}
	cfg, err := loadConfig(cmd, fv)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Crawl.MaxPages != 3 {
		t.Fatalf("expected flag to override max_pages, got %d", cfg.Crawl.MaxPages)
	}
	if cfg.Crawl.MaxWorkers != 4 {
		t.Fatalf("expected file value for max_workers, got %d", cfg.Crawl.MaxWorkers)
	}
	if cfg.Crawl.Scope != "host" {
		t.Fatalf("expected scope host, got %q", cfg.Crawl.Scope)
	}
}

func TestNewLogger_LevelPrecedence(t *testing.T) {
	t.Setenv(logLevelEnv, "error")

	var buf bytes.Buffer
	logger, err := newLogger(&buf, "", goemailcrawler.DefaultConfig().Logging)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Warn("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected env level to suppress warn, got %q", buf.String())
	}

	logger, err = newLogger(&buf, "debug", goemailcrawler.DefaultConfig().Logging)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Debug("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("expected flag level to win, got %q", buf.String())
	}

	if _, err := newLogger(&buf, "loud", goemailcrawler.DefaultConfig().Logging); err == nil {
		t.Fatalf("expected invalid level error")
	}
}
