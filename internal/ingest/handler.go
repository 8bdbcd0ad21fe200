package ingest

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/komorebitech/cf-truesight/internal/apperr"
	"github.com/komorebitech/cf-truesight/internal/event"
)

type batchAccepted struct {
	Accepted  int    `json:"accepted"`
	RequestID string `json:"request_id"`
}

// handleBatch admits a batch of events. Every event is validated before any
// is enriched; the whole batch shares one server timestamp and is published
// or rejected as a unit.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ProjectIDFromContext(r.Context())
	if !ok {
		apperr.WriteJSON(w, apperr.Unauthorized("missing project context"))
		return
	}

	var req event.BatchRequest
	body := http.MaxBytesReader(w, r.Body, event.MaxBodySize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		if _, tooLarge := err.(*http.MaxBytesError); tooLarge {
			apperr.WriteJSON(w, apperr.PayloadTooLargef("request body exceeds the %d byte limit", event.MaxBodySize))
			return
		}
		apperr.WriteJSON(w, apperr.Validationf("invalid request body: %v", err))
		return
	}

	if err := event.ValidateBatch(req); err != nil {
		s.metrics.EventsRejected.WithLabelValues("batch").Add(float64(len(req.Batch)))
		apperr.WriteJSON(w, apperr.Validationf("%v", err))
		return
	}

	for _, ev := range req.Batch {
		if failures := event.Validate(ev); len(failures) > 0 {
			s.metrics.EventsRejected.WithLabelValues("validation").Inc()
			apperr.WriteJSON(w, apperr.Validationf("%s", strings.Join(failures, "; ")))
			return
		}
		if err := event.ValidateSize(ev); err != nil {
			s.metrics.EventsRejected.WithLabelValues("size").Inc()
			apperr.WriteJSON(w, apperr.Validationf("%v", err))
			return
		}
	}

	now := time.Now().UTC()
	enriched := make([]event.EnrichedEvent, 0, len(req.Batch))
	for _, ev := range req.Batch {
		enriched = append(enriched, event.Enrich(ev, projectID, now))
	}

	if err := s.publisher.SendBatch(r.Context(), enriched); err != nil {
		s.metrics.PublishFailures.Inc()
		s.log.Error("failed to enqueue events",
			zap.String("project_id", projectID.String()),
			zap.Error(err))
		apperr.WriteJSON(w, apperr.Sqsf("failed to enqueue events: %v", err))
		return
	}

	requestID := RequestIDFromContext(r.Context())
	s.metrics.EventsAccepted.Add(float64(len(enriched)))
	s.log.Info("batch ingested",
		zap.String("request_id", requestID),
		zap.String("project_id", projectID.String()),
		zap.Int("accepted", len(enriched)))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(batchAccepted{
		Accepted:  len(enriched),
		RequestID: requestID,
	})
}
