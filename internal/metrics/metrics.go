// Package metrics exposes Prometheus collectors for the payparse service.
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
	parseTotal                 *prometheus.CounterVec
	cacheLookupsTotal          *prometheus.CounterVec
	extractionTierTotal        *prometheus.CounterVec
	renderDurationSeconds      *prometheus.HistogramVec
	openPages                  prometheus.Gauge
	rateLimitRejectionsTotal   prometheus.Counter
	hostBudgetDelaySeconds     *prometheus.HistogramVec
	coalescedRequestsTotal     prometheus.Counter
	sideOutputErrorsTotal      *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		parseTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payparse_parse_total",
				Help: "Total number of parse requests, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payparse_cache_lookups_total",
				Help: "Result cache lookups, labeled by hit or miss.",
			},
			[]string{"result"},
		)

		extractionTierTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payparse_extraction_tier_total",
				Help: "Extractions by the tier that produced them (selector, text, none).",
			},
			[]string{"tier"},
		)

		renderDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payparse_render_duration_seconds",
				Help:    "Histogram of page render durations, labeled by site.",
				Buckets: []float64{0.5, 1, 2, 4, 8, 15, 30, 60},
			},
			[]string{"site"},
		)

		openPages = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "payparse_open_pages",
				Help: "Number of browser tabs currently checked out.",
			},
		)

		rateLimitRejectionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "payparse_rate_limit_rejections_total",
				Help: "Requests rejected by the client rate limiter.",
			},
		)

		hostBudgetDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payparse_host_budget_delay_seconds",
				Help:    "Histogram of waits imposed by the per-host render budget.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		)

		coalescedRequestsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "payparse_coalesced_requests_total",
				Help: "Parse requests that shared an in-flight render for the same URL.",
			},
		)

		sideOutputErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payparse_side_output_errors_total",
				Help: "Best-effort writes that failed, labeled by sink (snapshot, history, publish).",
			},
			[]string{"sink"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
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

// ObserveParse counts a parse outcome for the URL's host.
func ObserveParse(rawURL, outcome string) {
	Init()
	parseTotal.WithLabelValues(SanitizeSite(rawURL), outcome).Inc()
}

// ObserveCacheLookup counts a cache hit or miss.
func ObserveCacheLookup(hit bool) {
	Init()
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveExtractionTier counts which extraction tier answered.
func ObserveExtractionTier(tier string) {
	Init()
	extractionTierTotal.WithLabelValues(tier).Inc()
}

// ObserveRender records how long a page took to render.
func ObserveRender(rawURL string, duration time.Duration) {
	Init()
	renderDurationSeconds.WithLabelValues(SanitizeSite(rawURL)).Observe(duration.Seconds())
}

// IncOpenPages increments the open pages gauge.
func IncOpenPages() {
	Init()
	openPages.Inc()
}

// DecOpenPages decrements the open pages gauge.
func DecOpenPages() {
	Init()
	openPages.Dec()
}

// ObserveRateLimitRejection counts a rejected client request.
func ObserveRateLimitRejection() {
	Init()
	rateLimitRejectionsTotal.Inc()
}

// ObserveHostBudgetDelay records the duration of a per-host budget wait.
func ObserveHostBudgetDelay(site string, duration time.Duration) {
	Init()
	hostBudgetDelaySeconds.WithLabelValues(site).Observe(duration.Seconds())
}

// ObserveCoalesced counts a request that reused another request's render.
func ObserveCoalesced() {
	Init()
	coalescedRequestsTotal.Inc()
}

// ObserveSideOutputError counts a failed best-effort write.
func ObserveSideOutputError(sink string) {
	Init()
	sideOutputErrorsTotal.WithLabelValues(sink).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
