package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the auth pipeline and caches.
// All methods are nil-safe so components can run without metrics in tests.
type Metrics struct {
	AuthDecisions         *prometheus.CounterVec
	SessionCacheLookups   *prometheus.CounterVec
	IdentityRecheck       prometheus.Histogram
	EntityCacheLookups    *prometheus.CounterVec
	EntityCacheDiscarded  prometheus.Counter
	EntityInvalidations   *prometheus.CounterVec
	MutationsPublished    *prometheus.CounterVec
	MutationPublishErrors *prometheus.CounterVec
	RequestDuration       *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		AuthDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "meshgate_auth_decisions_total",
			Help: "Auth pipeline decisions by outcome and rejection reason",
		}, []string{"outcome", "reason"}),
		SessionCacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "meshgate_session_cache_lookups_total",
			Help: "Session cache lookups by result (hit, miss, error, bypass)",
		}, []string{"result"}),
		IdentityRecheck: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "meshgate_identity_recheck_duration_ms",
			Help:    "Latency of identity activity re-checks in milliseconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 1000},
		}),
		EntityCacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "meshgate_entity_cache_lookups_total",
			Help: "Entity cache read-through lookups by result (hit, miss, disabled)",
		}, []string{"result"}),
		EntityCacheDiscarded: f.NewCounter(prometheus.CounterOpts{
			Name: "meshgate_entity_cache_discarded_total",
			Help: "Computed results not stored because an invalidation overlapped the compute",
		}),
		EntityInvalidations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "meshgate_entity_cache_invalidations_total",
			Help: "Entity cache invalidations by entity kind",
		}, []string{"kind"}),
		MutationsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "meshgate_mutations_published_total",
			Help: "Mutation events published by entity kind and change",
		}, []string{"kind", "change"}),
		MutationPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "meshgate_mutation_subscriber_errors_total",
			Help: "Subscriber failures while applying mutation events",
		}, []string{"subscriber"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meshgate_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern, method and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}
}

func (m *Metrics) IncAuthDecision(outcome, reason string) {
	if m == nil {
		return
	}
	m.AuthDecisions.WithLabelValues(outcome, reason).Inc()
}

func (m *Metrics) IncSessionCache(result string) {
	if m == nil {
		return
	}
	m.SessionCacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveIdentityRecheck(d time.Duration) {
	if m == nil {
		return
	}
	m.IdentityRecheck.Observe(float64(d.Microseconds()) / 1000.0)
}

func (m *Metrics) IncEntityCache(result string) {
	if m == nil {
		return
	}
	m.EntityCacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) IncEntityCacheDiscarded() {
	if m == nil {
		return
	}
	m.EntityCacheDiscarded.Inc()
}

func (m *Metrics) IncInvalidation(kind string) {
	if m == nil {
		return
	}
	m.EntityInvalidations.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncMutationPublished(kind, change string) {
	if m == nil {
		return
	}
	m.MutationsPublished.WithLabelValues(kind, change).Inc()
}

func (m *Metrics) IncSubscriberError(subscriber string) {
	if m == nil {
		return
	}
	m.MutationPublishErrors.WithLabelValues(subscriber).Inc()
}

func (m *Metrics) ObserveRequest(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(route, method, strconv.Itoa(status)).Observe(d.Seconds())
}
