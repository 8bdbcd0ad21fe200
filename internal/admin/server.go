// Package admin is the operator-facing control plane API.
//
// Purpose:
//
//	Project and API key management, saved funnel definitions, and the
//	read-side stats endpoints over the columnar store. Every route sits
//	behind a static bearer token and permissive-by-configuration CORS.
package admin

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/komorebitech/cf-truesight/internal/apperr"
	"github.com/komorebitech/cf-truesight/internal/health"
	"github.com/komorebitech/cf-truesight/internal/storage/clickhouse"
	"github.com/komorebitech/cf-truesight/internal/storage/postgres"
	"github.com/komorebitech/cf-truesight/internal/telemetry"
)

// controlStore is the slice of the Postgres store the admin API depends on.
type controlStore interface {
	CreateProject(ctx context.Context, name string) (postgres.Project, error)
	GetProject(ctx context.Context, id uuid.UUID) (postgres.Project, error)
	ListProjects(ctx context.Context, page, perPage int) ([]postgres.Project, bool, error)
	UpdateProject(ctx context.Context, id uuid.UUID, name string) (postgres.Project, error)
	DeleteProject(ctx context.Context, id uuid.UUID) error

	CreateAPIKey(ctx context.Context, params postgres.CreateAPIKeyParams) (postgres.APIKey, error)
	ListAPIKeys(ctx context.Context, projectID uuid.UUID) ([]postgres.APIKey, error)
	RevokeAPIKey(ctx context.Context, projectID, keyID uuid.UUID) error

	CreateFunnel(ctx context.Context, params postgres.CreateFunnelParams) (postgres.Funnel, error)
	GetFunnel(ctx context.Context, projectID, funnelID uuid.UUID) (postgres.Funnel, error)
	ListFunnels(ctx context.Context, projectID uuid.UUID) ([]postgres.Funnel, error)
	UpdateFunnel(ctx context.Context, projectID, funnelID uuid.UUID, params postgres.UpdateFunnelParams) (postgres.Funnel, error)
	DeleteFunnel(ctx context.Context, projectID, funnelID uuid.UUID) error

	Ping(ctx context.Context) error
}

// analyticsStore is the slice of the ClickHouse layer the stats and funnel
// endpoints depend on.
type analyticsStore interface {
	EventCount(ctx context.Context, projectID uuid.UUID, from, to time.Time) (uint64, error)
	Throughput(ctx context.Context, projectID uuid.UUID, from, to time.Time, granularity string) ([]clickhouse.ThroughputBucket, error)
	EventTypes(ctx context.Context, projectID uuid.UUID, from, to time.Time, limit int) (map[string]uint64, []clickhouse.TopEvent, error)
	ListEvents(ctx context.Context, projectID uuid.UUID, filter clickhouse.EventFilter) ([]clickhouse.StoredEvent, bool, error)
	FunnelLevels(ctx context.Context, projectID uuid.UUID, windowSeconds int, stepNames []string, from, to time.Time) ([]clickhouse.FunnelLevel, error)
}

// Server wires the admin routes.
type Server struct {
	log       *zap.Logger
	store     controlStore
	analytics analyticsStore
	chPing    func(ctx context.Context) error
	token     string
	origins   []string
	metrics   *telemetry.Metrics
}

// NewServer builds the admin server.
func NewServer(log *zap.Logger, store controlStore, analytics analyticsStore, chPing func(ctx context.Context) error, token string, origins []string, metrics *telemetry.Metrics) *Server {
	return &Server{
		log:       log,
		store:     store,
		analytics: analytics,
		chPing:    chPing,
		token:     token,
		origins:   origins,
		metrics:   metrics,
	}
}

// Handler returns the admin routing tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.metrics.Instrument)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", health.Handler(
		health.Probe{Name: "postgres", Check: s.store.Ping},
		health.Probe{Name: "clickhouse", Check: s.chPing},
	))
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.bearerAuth)

		r.Route("/projects", func(r chi.Router) {
			r.Post("/", s.handleCreateProject)
			r.Get("/", s.handleListProjects)

			r.Route("/{projectID}", func(r chi.Router) {
				r.Get("/", s.handleGetProject)
				r.Put("/", s.handleUpdateProject)
				r.Delete("/", s.handleDeleteProject)

				r.Route("/api-keys", func(r chi.Router) {
					r.Post("/", s.handleCreateAPIKey)
					r.Get("/", s.handleListAPIKeys)
					r.Delete("/{keyID}", s.handleRevokeAPIKey)
				})

				r.Route("/stats", func(r chi.Router) {
					r.Get("/event-count", s.handleEventCount)
					r.Get("/throughput", s.handleThroughput)
					r.Get("/event-types", s.handleEventTypes)
					r.Get("/events", s.handleListEvents)
				})

				r.Route("/funnels", func(r chi.Router) {
					r.Post("/", s.handleCreateFunnel)
					r.Get("/", s.handleListFunnels)
					r.Get("/compare", s.handleCompareFunnels)

					r.Route("/{funnelID}", func(r chi.Router) {
						r.Get("/", s.handleGetFunnel)
						r.Put("/", s.handleUpdateFunnel)
						r.Delete("/", s.handleDeleteFunnel)
						r.Get("/results", s.handleFunnelResults)
						r.Get("/compare-time-ranges", s.handleCompareTimeRanges)
					})
				})
			})
		})
	})

	return r
}

// bearerAuth enforces the static admin token.
func (s *Server) bearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const prefix = "Bearer "
		header := r.Header.Get("Authorization")
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			apperr.WriteJSON(w, apperr.Unauthorized("missing bearer token"))
			return
		}
		token := header[len(prefix):]
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) != 1 {
			apperr.WriteJSON(w, apperr.Unauthorized("invalid bearer token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
