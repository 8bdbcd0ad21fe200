package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the Prometheus metric set shared by the services. Each binary
// constructs one instance against its own registry so metric names stay
// stable without cross-process collisions.
type Metrics struct {
	registry *prometheus.Registry

	EventsAccepted  prometheus.Counter
	EventsRejected  *prometheus.CounterVec
	PublishFailures prometheus.Counter

	BatchesFlushed  prometheus.Counter
	EventsInserted  prometheus.Counter
	InsertFailures  prometheus.Counter
	MessagesDeadLet prometheus.Counter

	RequestDuration *prometheus.HistogramVec
}

// NewMetrics registers the metric set on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		EventsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "truesight_events_accepted_total",
			Help: "Events accepted for publishing after validation.",
		}),
		EventsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "truesight_events_rejected_total",
			Help: "Events rejected at the edge, by reason.",
		}, []string{"reason"}),
		PublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "truesight_publish_failures_total",
			Help: "Batches that failed to publish to the queue.",
		}),
		BatchesFlushed: factory.NewCounter(prometheus.CounterOpts{
			Name: "truesight_writer_batches_flushed_total",
			Help: "Batches flushed to ClickHouse.",
		}),
		EventsInserted: factory.NewCounter(prometheus.CounterOpts{
			Name: "truesight_writer_events_inserted_total",
			Help: "Events inserted into ClickHouse.",
		}),
		InsertFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "truesight_writer_insert_failures_total",
			Help: "Batches that exhausted insert retries.",
		}),
		MessagesDeadLet: factory.NewCounter(prometheus.CounterOpts{
			Name: "truesight_writer_dead_lettered_total",
			Help: "Messages forwarded to the dead letter queue.",
		}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "truesight_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
}

// Instrument records request latency labelled by chi route pattern and
// response status.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.RequestDuration.
			WithLabelValues(route, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
