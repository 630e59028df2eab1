package goemailcrawler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the crawler. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	PagesDispatched prometheus.Counter
	PagesDenied     prometheus.Counter
	FetchFailures   *prometheus.CounterVec
	FetchDuration   prometheus.Histogram
	EmailsFound     prometheus.Counter
	SitemapsFetched *prometheus.CounterVec
	TaskPanics      prometheus.Counter
	InFlight        prometheus.Gauge
}

// NewMetrics registers the crawler collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PagesDispatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "email_crawler_pages_dispatched_total",
			Help: "Pages handed to a crawl task",
		}),
		PagesDenied: factory.NewCounter(prometheus.CounterOpts{
			Name: "email_crawler_pages_denied_total",
			Help: "Pages skipped because robots.txt disallows them",
		}),
		FetchFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "email_crawler_fetch_failures_total",
			Help: "Page fetches that produced no content",
		}, []string{"kind"}),
		FetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "email_crawler_fetch_duration_seconds",
			Help:    "Time spent fetching a page including the settle delay",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
		EmailsFound: factory.NewCounter(prometheus.CounterOpts{
			Name: "email_crawler_emails_found_total",
			Help: "Distinct e-mail addresses discovered",
		}),
		SitemapsFetched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "email_crawler_sitemaps_fetched_total",
			Help: "Sitemap documents fetched, by outcome",
		}, []string{"outcome"}),
		TaskPanics: factory.NewCounter(prometheus.CounterOpts{
			Name: "email_crawler_task_panics_total",
			Help: "Crawl tasks that panicked and were recovered",
		}),
		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "email_crawler_tasks_in_flight",
			Help: "Crawl tasks currently running",
		}),
	}
}

func (m *Metrics) pageDispatched() {
	if m == nil {
		return
	}
	m.PagesDispatched.Inc()
	m.InFlight.Inc()
}

func (m *Metrics) pageDone() {
	if m == nil {
		return
	}
	m.InFlight.Dec()
}

func (m *Metrics) pageDenied() {
	if m == nil {
		return
	}
	m.PagesDenied.Inc()
}

func (m *Metrics) fetchFailed(kind string) {
	if m == nil {
		return
	}
	m.FetchFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) observeFetch(d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.Observe(d.Seconds())
}

func (m *Metrics) emailsFound(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.EmailsFound.Add(float64(n))
}

func (m *Metrics) sitemapFetched(outcome string) {
	if m == nil {
		return
	}
	m.SitemapsFetched.WithLabelValues(outcome).Inc()
}

func (m *Metrics) taskPanicked() {
	if m == nil {
		return
	}
	m.TaskPanics.Inc()
}
