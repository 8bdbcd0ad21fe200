package admin

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/komorebitech/cf-truesight/internal/apperr"
	"github.com/komorebitech/cf-truesight/internal/storage/clickhouse"
)

func (s *Server) handleEventCount(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuidParam(r, "projectID")
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	from, to, err := timeRange(r)
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}

	count, err := s.analytics.EventCount(r.Context(), projectID, from, to)
	if err != nil {
		apperr.WriteJSON(w, apperr.Databasef("%v", err))
		return
	}

	respondJSON(w, http.StatusOK, struct {
		ProjectID   uuid.UUID `json:"project_id"`
		From        time.Time `json:"from"`
		To          time.Time `json:"to"`
		TotalEvents uint64    `json:"total_events"`
	}{
		ProjectID:   projectID,
		From:        from,
		To:          to,
		TotalEvents: count,
	})
}

func (s *Server) handleThroughput(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuidParam(r, "projectID")
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	from, to, err := timeRange(r)
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}

	granularity := r.URL.Query().Get("granularity")
	if granularity == "" {
		granularity = "hour"
	}

	buckets, err := s.analytics.Throughput(r.Context(), projectID, from, to, granularity)
	if err != nil {
		apperr.WriteJSON(w, apperr.Databasef("%v", err))
		return
	}
	if buckets == nil {
		buckets = []clickhouse.ThroughputBucket{}
	}

	respondJSON(w, http.StatusOK, struct {
		ProjectID   uuid.UUID                     `json:"project_id"`
		Granularity string                        `json:"granularity"`
		Data        []clickhouse.ThroughputBucket `json:"data"`
	}{
		ProjectID:   projectID,
		Granularity: granularity,
		Data:        buckets,
	})
}

func (s *Server) handleEventTypes(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuidParam(r, "projectID")
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	from, to, err := timeRange(r)
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}

	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	byType, topEvents, err := s.analytics.EventTypes(r.Context(), projectID, from, to, limit)
	if err != nil {
		apperr.WriteJSON(w, apperr.Databasef("%v", err))
		return
	}
	if topEvents == nil {
		topEvents = []clickhouse.TopEvent{}
	}

	respondJSON(w, http.StatusOK, struct {
		ByType    map[string]uint64     `json:"by_type"`
		TopEvents []clickhouse.TopEvent `json:"top_events"`
	}{
		ByType:    byType,
		TopEvents: topEvents,
	})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuidParam(r, "projectID")
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	from, to, err := timeRange(r)
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}

	page, perPage := pagination(r, 50, 200)
	query := r.URL.Query()

	events, hasMore, err := s.analytics.ListEvents(r.Context(), projectID, clickhouse.EventFilter{
		From:        from,
		To:          to,
		EventType:   query.Get("event_type"),
		EventName:   query.Get("event_name"),
		UserID:      query.Get("user_id"),
		AnonymousID: query.Get("anonymous_id"),
		Page:        page,
		PerPage:     perPage,
	})
	if err != nil {
		apperr.WriteJSON(w, apperr.Databasef("%v", err))
		return
	}
	if events == nil {
		events = []clickhouse.StoredEvent{}
	}

	respondJSON(w, http.StatusOK, struct {
		Data []clickhouse.StoredEvent `json:"data"`
		Meta listMeta                 `json:"meta"`
	}{
		Data: events,
		Meta: listMeta{Page: page, PerPage: perPage, HasMore: hasMore},
	})
}
