package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		HTTPRequests, RateLimited,
		JobDuration, JobTotal, EngineRetries,
		CacheLookups, CacheEvicted,
		TokensTotal, CreditsCharged,
		ScheduledPending, ScheduledDispatched,
	)
}

var HTTPRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "swarmgate_http_requests_total",
		Help: "HTTP requests by route pattern and status code",
	},
	[]string{"route", "code"},
)

var RateLimited = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "swarmgate_rate_limited_total",
		Help: "Requests rejected by the per-client rate limiter",
	},
)

var JobDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "swarmgate_job_duration_seconds",
		Help:    "Engine execution time per job, retries included",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	},
	[]string{"tier"},
)

var JobTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "swarmgate_job_total",
		Help: "Jobs by outcome",
	},
	[]string{"outcome"}, // success | cached | invalid | engine_error | billing_error
)

var EngineRetries = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "swarmgate_engine_retries_total",
		Help: "Flex-tier retries after the engine reported no capacity",
	},
)

var CacheLookups = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "swarmgate_cache_lookups_total",
		Help: "Response cache lookups",
	},
	[]string{"result"}, // hit | miss | error
)

var CacheEvicted = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "swarmgate_cache_evicted_total",
		Help: "Expired cache entries removed by opportunistic eviction",
	},
)

var TokensTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "swarmgate_tokens_total",
		Help: "Metered tokens",
	},
	[]string{"direction"}, // input | output
)

var CreditsCharged = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "swarmgate_credits_charged_total",
		Help: "Credits deducted from callers",
	},
)

var ScheduledPending = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "swarmgate_scheduled_pending",
		Help: "Scheduled jobs waiting for activation",
	},
)

var ScheduledDispatched = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "swarmgate_scheduled_total",
		Help: "Scheduled jobs by terminal status",
	},
	[]string{"status"}, // dispatched | cancelled | missed
)

// Handler serves DefaultRegistry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(DefaultRegistry, promhttp.HandlerOpts{})
}
