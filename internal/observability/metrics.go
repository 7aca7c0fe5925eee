package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for EscrowDesk.
type Metrics struct {
	// --- Lifecycle engine ---
	TradesCreated      prometheus.Counter
	Transitions        *prometheus.CounterVec // trigger, outcome
	TransitionDuration *prometheus.HistogramVec
	DuplicateRequests  *prometheus.CounterVec // tier: lru / store

	// --- Escrow ---
	EscrowLocks    prometheus.Counter
	EscrowRefunds  prometheus.Counter
	EscrowReleases prometheus.Counter

	// --- Price oracle ---
	OracleRequests  *prometheus.CounterVec // outcome: ok / error
	OracleCacheHits prometheus.Counter
	OracleDuration  prometheus.Histogram

	// --- Expiry sweep ---
	SweepRuns    prometheus.Counter
	SweepExpired prometheus.Counter
	SweepErrors  prometheus.Counter

	// --- Outbound events ---
	EventsPublished *prometheus.CounterVec // event
	EventPublishErr prometheus.Counter

	// --- HTTP API ---
	HTTPRequests *prometheus.CounterVec // route, status
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the metrics on an explicit registerer. Tests pass
// a fresh registry so parallel constructions do not collide.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	auto := promauto.With(reg)
	opBuckets := []float64{
		0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0,
	}

	return &Metrics{
		TradesCreated: auto.NewCounter(prometheus.CounterOpts{
			Name: "escrowdesk_trades_created_total",
			Help: "Trades successfully created (escrow locked)",
		}),

		Transitions: auto.NewCounterVec(prometheus.CounterOpts{
			Name: "escrowdesk_transitions_total",
			Help: "Lifecycle transitions by trigger and outcome",
		}, []string{"trigger", "outcome"}),

		TransitionDuration: auto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "escrowdesk_transition_duration_seconds",
			Help:    "Time to execute a lifecycle transition end to end",
			Buckets: opBuckets,
		}, []string{"trigger"}),

		DuplicateRequests: auto.NewCounterVec(prometheus.CounterOpts{
			Name: "escrowdesk_duplicate_requests_total",
			Help: "Create requests rejected as duplicates (lru/store)",
		}, []string{"tier"}),

		EscrowLocks: auto.NewCounter(prometheus.CounterOpts{
			Name: "escrowdesk_escrow_locks_total",
			Help: "Escrow lock operations applied",
		}),

		EscrowRefunds: auto.NewCounter(prometheus.CounterOpts{
			Name: "escrowdesk_escrow_refunds_total",
			Help: "Escrow refund operations applied",
		}),

		EscrowReleases: auto.NewCounter(prometheus.CounterOpts{
			Name: "escrowdesk_escrow_releases_total",
			Help: "Escrow release splits applied",
		}),

		OracleRequests: auto.NewCounterVec(prometheus.CounterOpts{
			Name: "escrowdesk_oracle_requests_total",
			Help: "Price oracle fetches by outcome",
		}, []string{"outcome"}),

		OracleCacheHits: auto.NewCounter(prometheus.CounterOpts{
			Name: "escrowdesk_oracle_cache_hits_total",
			Help: "Price reads served from the TTL cache",
		}),

		OracleDuration: auto.NewHistogram(prometheus.HistogramOpts{
			Name:    "escrowdesk_oracle_fetch_duration_seconds",
			Help:    "Price oracle HTTP fetch duration",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}),

		SweepRuns: auto.NewCounter(prometheus.CounterOpts{
			Name: "escrowdesk_sweep_runs_total",
			Help: "Expiry sweep iterations",
		}),

		SweepExpired: auto.NewCounter(prometheus.CounterOpts{
			Name: "escrowdesk_sweep_expired_total",
			Help: "Trades moved to CANCELLED_SYSTEM by the sweep",
		}),

		SweepErrors: auto.NewCounter(prometheus.CounterOpts{
			Name: "escrowdesk_sweep_errors_total",
			Help: "Expire calls that failed during the sweep",
		}),

		EventsPublished: auto.NewCounterVec(prometheus.CounterOpts{
			Name: "escrowdesk_events_published_total",
			Help: "Outbound lifecycle events published to NATS",
		}, []string{"event"}),

		EventPublishErr: auto.NewCounter(prometheus.CounterOpts{
			Name: "escrowdesk_event_publish_errors_total",
			Help: "Outbound event publish failures (non-fatal)",
		}),

		HTTPRequests: auto.NewCounterVec(prometheus.CounterOpts{
			Name: "escrowdesk_http_requests_total",
			Help: "HTTP API requests by route and status class",
		}, []string{"route", "status"}),

		HTTPDuration: auto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "escrowdesk_http_request_duration_seconds",
			Help:    "HTTP API request duration",
			Buckets: opBuckets,
		}, []string{"route"}),
	}
}
