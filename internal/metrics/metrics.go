// Package metrics exposes Prometheus collectors for the crawl and query
// paths.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlPagesTotal            *prometheus.CounterVec
	crawlBytesTotal            *prometheus.CounterVec
	crawlJobsTotal             *prometheus.CounterVec
	fragmentsIndexedTotal      prometheus.Counter
	queriesTotal               *prometheus.CounterVec
	queryDurationSeconds       prometheus.Histogram
	cacheLookupsTotal          *prometheus.CounterVec
	rateLimitDecisionsTotal    *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the Prometheus collectors. It is safe to call multiple
// times.
func Init() {
	once.Do(func() {
		crawlPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitesage_crawl_pages_total",
				Help: "Pages processed by the crawler, labeled by site and outcome.",
			},
			[]string{"site", "status"},
		)

		crawlBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitesage_crawl_bytes_total",
				Help: "Bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		crawlJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitesage_crawl_jobs_total",
				Help: "Crawl jobs finished, labeled by terminal status.",
			},
			[]string{"status"},
		)

		fragmentsIndexedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sitesage_fragments_indexed_total",
				Help: "Fragments made searchable in the vector store.",
			},
		)

		queriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitesage_queries_total",
				Help: "Answered queries, labeled by result source.",
			},
			[]string{"source"},
		)

		queryDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sitesage_query_duration_seconds",
				Help:    "End-to-end query latency including retrieval and completion.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitesage_cache_lookups_total",
				Help: "Response cache lookups, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		rateLimitDecisionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitesage_rate_limit_decisions_total",
				Help: "Rate limit decisions, labeled by operation class and outcome.",
			},
			[]string{"class", "outcome"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitesage_http_requests_total",
				Help: "HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sitesage_http_request_duration_seconds",
				Help:    "HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname from a URL, or "unknown".
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCrawl records a processed page.
func ObserveCrawl(site, status string, bytesFetched int) {
	Init()
	sanitized := SanitizeSite(site)
	crawlPagesTotal.WithLabelValues(sanitized, status).Inc()
	if bytesFetched > 0 {
		crawlBytesTotal.WithLabelValues(sanitized).Add(float64(bytesFetched))
	}
}

// ObserveJob records a finished crawl job.
func ObserveJob(status string) {
	Init()
	crawlJobsTotal.WithLabelValues(status).Inc()
}

// AddFragmentsIndexed records fragments written to the vector store.
func AddFragmentsIndexed(n int) {
	Init()
	if n > 0 {
		fragmentsIndexedTotal.Add(float64(n))
	}
}

// ObserveQuery records an answered query and its latency. source is "cache"
// or "model".
func ObserveQuery(source string, duration time.Duration) {
	Init()
	queriesTotal.WithLabelValues(source).Inc()
	queryDurationSeconds.Observe(duration.Seconds())
}

// ObserveCacheLookup records a response cache hit or miss.
func ObserveCacheLookup(outcome string) {
	Init()
	cacheLookupsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRateLimit records an allow or deny decision for an operation class.
func ObserveRateLimit(class, outcome string) {
	Init()
	rateLimitDecisionsTotal.WithLabelValues(class, outcome).Inc()
}

// ObserveHTTPRequest records an HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
