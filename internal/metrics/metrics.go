// Package metrics exposes Prometheus collectors for the crawler process.
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
	fetchesTotal               *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	upsertsTotal               *prometheus.CounterVec
	upsertDurationSeconds      prometheus.Histogram
	archiveWritesTotal         *prometheus.CounterVec
	publishTotal               *prometheus.CounterVec

	once sync.Once
)

// Init registers the collectors with the default registry. Safe to call
// repeatedly; every Observe function calls it.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "charcrawler_fetches_total",
				Help: "Page fetches labeled by site, page kind and outcome.",
			},
			[]string{"site", "kind", "status"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "charcrawler_fetch_bytes_total",
				Help: "Bytes fetched labeled by site.",
			},
			[]string{"site"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Ops server requests labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Ops server request latency labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method", "route"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "charcrawler_active_workers",
				Help: "Workers currently handling a task.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "charcrawler_rate_limit_delays_seconds",
				Help:    "Time spent waiting on the per-domain token bucket.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		upsertsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "charcrawler_upserts_total",
				Help: "Character upserts labeled by outcome.",
			},
			[]string{"status"},
		)

		upsertDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "charcrawler_upsert_duration_seconds",
				Help:    "Character upsert latency.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
		)

		archiveWritesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "charcrawler_archive_writes_total",
				Help: "Archived page writes labeled by page kind and outcome.",
			},
			[]string{"kind", "status"},
		)

		publishTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "charcrawler_publish_total",
				Help: "Character notifications labeled by outcome.",
			},
			[]string{"status"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname, or "unknown".
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

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObserveFetch records a page fetch.
func ObserveFetch(rawURL, kind string, statusCode, bytesFetched int) {
	Init()
	site := SanitizeSite(rawURL)
	status := "error"
	if statusCode > 0 {
		status = strconv.Itoa(statusCode)
	}
	fetchesTotal.WithLabelValues(site, kind, status).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveHTTPRequest records an ops server request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveUpsert records a character upsert.
func ObserveUpsert(err error, duration time.Duration) {
	Init()
	upsertsTotal.WithLabelValues(outcome(err)).Inc()
	upsertDurationSeconds.Observe(duration.Seconds())
}

// ObserveArchive records an archived page write.
func ObserveArchive(kind string, err error) {
	Init()
	archiveWritesTotal.WithLabelValues(kind, outcome(err)).Inc()
}

// ObservePublish records a character notification.
func ObservePublish(err error) {
	Init()
	publishTotal.WithLabelValues(outcome(err)).Inc()
}
