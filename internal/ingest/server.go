// Package ingest is the HTTP edge that admits analytics events.
//
// Purpose:
//
//	Authenticates SDK traffic by API key, enforces per-project rate limits,
//	validates and enriches event batches, and forwards them to the queue
//	for asynchronous persistence.
package ingest

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/komorebitech/cf-truesight/internal/auth"
	"github.com/komorebitech/cf-truesight/internal/event"
	"github.com/komorebitech/cf-truesight/internal/health"
	"github.com/komorebitech/cf-truesight/internal/storage/postgres"
	"github.com/komorebitech/cf-truesight/internal/telemetry"
)

// keyStore is the slice of the control-plane store the edge depends on.
type keyStore interface {
	FindActiveKeysByPrefix(ctx context.Context, prefix string) ([]postgres.ActiveKey, error)
	Ping(ctx context.Context) error
}

// batchPublisher forwards enriched batches to the queue.
type batchPublisher interface {
	SendBatch(ctx context.Context, events []event.EnrichedEvent) error
	Ping(ctx context.Context) error
}

// Server wires the ingestion routes and their middleware.
type Server struct {
	log       *zap.Logger
	keys      keyStore
	publisher batchPublisher
	keyCache  *auth.KeyCache
	limiters  *LimiterRegistry
	metrics   *telemetry.Metrics
}

// NewServer builds the edge server.
func NewServer(log *zap.Logger, keys keyStore, publisher batchPublisher, limiters *LimiterRegistry, metrics *telemetry.Metrics) *Server {
	return &Server{
		log:       log,
		keys:      keys,
		publisher: publisher,
		keyCache:  auth.NewKeyCache(auth.DefaultCacheTTL),
		limiters:  limiters,
		metrics:   metrics,
	}
}

// Handler returns the edge routing tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.metrics.Instrument)

	r.Get("/health", health.Handler(
		health.Probe{Name: "postgres", Check: s.keys.Ping},
		health.Probe{Name: "sqs", Check: s.publisher.Ping},
	))
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/v1/events", func(r chi.Router) {
		r.With(s.decompress, s.authenticate, s.rateLimit).
			Post("/batch", s.handleBatch)
	})

	return r
}
