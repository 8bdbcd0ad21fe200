package admin

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/komorebitech/cf-truesight/internal/apperr"
	"github.com/komorebitech/cf-truesight/internal/storage/postgres"
)

// defaultFunnelWindowSeconds is applied when a funnel is created without an
// explicit conversion window.
const defaultFunnelWindowSeconds = 86400

type createFunnelInput struct {
	Name          string                `json:"name"`
	Steps         []postgres.FunnelStep `json:"steps"`
	WindowSeconds int                   `json:"window_seconds"`
}

func validateFunnelSteps(steps []postgres.FunnelStep) error {
	if len(steps) < 2 {
		return apperr.Validationf("funnel must have at least 2 steps")
	}
	for i, step := range steps {
		if strings.TrimSpace(step.EventName) == "" {
			return apperr.Validationf("step %d is missing event_name", i+1)
		}
	}
	return nil
}

func (s *Server) handleCreateFunnel(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuidParam(r, "projectID")
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}

	var in createFunnelInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		apperr.WriteJSON(w, apperr.Validationf("invalid request body: %v", err))
		return
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		apperr.WriteJSON(w, apperr.Validationf("name must not be empty"))
		return
	}
	if err := validateFunnelSteps(in.Steps); err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	if in.WindowSeconds <= 0 {
		in.WindowSeconds = defaultFunnelWindowSeconds
	}

	funnel, err := s.store.CreateFunnel(r.Context(), postgres.CreateFunnelParams{
		ProjectID:     projectID,
		Name:          in.Name,
		Steps:         in.Steps,
		WindowSeconds: in.WindowSeconds,
	})
	if err != nil {
		apperr.WriteJSON(w, storeError(err, "project"))
		return
	}
	respondJSON(w, http.StatusCreated, funnel)
}

func (s *Server) handleListFunnels(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuidParam(r, "projectID")
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}

	funnels, err := s.store.ListFunnels(r.Context(), projectID)
	if err != nil {
		apperr.WriteJSON(w, storeError(err, "funnel"))
		return
	}
	if funnels == nil {
		funnels = []postgres.Funnel{}
	}
	respondJSON(w, http.StatusOK, funnels)
}

func (s *Server) handleGetFunnel(w http.ResponseWriter, r *http.Request) {
	projectID, funnelID, err := funnelParams(r)
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}

	funnel, err := s.store.GetFunnel(r.Context(), projectID, funnelID)
	if err != nil {
		apperr.WriteJSON(w, storeError(err, "funnel"))
		return
	}
	respondJSON(w, http.StatusOK, funnel)
}

func (s *Server) handleUpdateFunnel(w http.ResponseWriter, r *http.Request) {
	projectID, funnelID, err := funnelParams(r)
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}

	existing, err := s.store.GetFunnel(r.Context(), projectID, funnelID)
	if err != nil {
		apperr.WriteJSON(w, storeError(err, "funnel"))
		return
	}

	// Partial update: absent fields keep their stored values.
	var in struct {
		Name          *string                `json:"name"`
		Steps         *[]postgres.FunnelStep `json:"steps"`
		WindowSeconds *int                   `json:"window_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		apperr.WriteJSON(w, apperr.Validationf("invalid request body: %v", err))
		return
	}

	params := postgres.UpdateFunnelParams{
		Name:          existing.Name,
		Steps:         existing.Steps,
		WindowSeconds: existing.WindowSeconds,
	}
	if in.Name != nil {
		params.Name = strings.TrimSpace(*in.Name)
		if params.Name == "" {
			apperr.WriteJSON(w, apperr.Validationf("name must not be empty"))
			return
		}
	}
	if in.Steps != nil {
		if err := validateFunnelSteps(*in.Steps); err != nil {
			apperr.WriteJSON(w, err)
			return
		}
		params.Steps = *in.Steps
	}
	if in.WindowSeconds != nil {
		if *in.WindowSeconds <= 0 {
			apperr.WriteJSON(w, apperr.Validationf("window_seconds must be positive"))
			return
		}
		params.WindowSeconds = *in.WindowSeconds
	}

	funnel, err := s.store.UpdateFunnel(r.Context(), projectID, funnelID, params)
	if err != nil {
		apperr.WriteJSON(w, storeError(err, "funnel"))
		return
	}
	respondJSON(w, http.StatusOK, funnel)
}

func (s *Server) handleDeleteFunnel(w http.ResponseWriter, r *http.Request) {
	projectID, funnelID, err := funnelParams(r)
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}

	if err := s.store.DeleteFunnel(r.Context(), projectID, funnelID); err != nil {
		apperr.WriteJSON(w, storeError(err, "funnel"))
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func funnelParams(r *http.Request) (projectID, funnelID uuid.UUID, err error) {
	projectID, err = uuidParam(r, "projectID")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	funnelID, err = uuidParam(r, "funnelID")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return projectID, funnelID, nil
}

type funnelStepResult struct {
	Step           int     `json:"step"`
	EventName      string  `json:"event_name"`
	Users          uint64  `json:"users"`
	ConversionRate float64 `json:"conversion_rate"`
}

type funnelResults struct {
	FunnelID          uuid.UUID          `json:"funnel_id"`
	From              time.Time          `json:"from"`
	To                time.Time          `json:"to"`
	Steps             []funnelStepResult `json:"steps"`
	OverallConversion float64            `json:"overall_conversion"`
}

// computeFunnelResults turns per-level windowFunnel counts into cumulative
// per-step reach. A user counts toward step N when their furthest level is
// N or beyond; conversion rates are relative to everyone who entered.
func (s *Server) computeFunnelResults(ctx context.Context, projectID, funnelID uuid.UUID, from, to time.Time) (funnelResults, error) {
	funnel, err := s.store.GetFunnel(ctx, projectID, funnelID)
	if err != nil {
		return funnelResults{}, storeError(err, "funnel")
	}
	if err := validateFunnelSteps(funnel.Steps); err != nil {
		return funnelResults{}, err
	}

	stepNames := make([]string, len(funnel.Steps))
	for i, step := range funnel.Steps {
		stepNames[i] = step.EventName
	}

	levels, err := s.analytics.FunnelLevels(ctx, projectID, funnel.WindowSeconds, stepNames, from, to)
	if err != nil {
		return funnelResults{}, apperr.Databasef("%v", err)
	}

	totalSteps := len(funnel.Steps)
	levelCounts := make([]uint64, totalSteps+1)
	for _, row := range levels {
		if row.Level >= 0 && row.Level <= totalSteps {
			levelCounts[row.Level] = row.Users
		}
	}

	// Users reaching step N = sum of users whose furthest level is >= N.
	cumulative := make([]uint64, totalSteps+1)
	var running uint64
	for i := totalSteps; i >= 0; i-- {
		running += levelCounts[i]
		cumulative[i] = running
	}
	totalEntered := cumulative[1]

	steps := make([]funnelStepResult, 0, totalSteps)
	for i, step := range funnel.Steps {
		users := cumulative[i+1]
		rate := 0.0
		if totalEntered > 0 {
			rate = float64(users) / float64(totalEntered) * 100.0
		}
		steps = append(steps, funnelStepResult{
			Step:           i + 1,
			EventName:      step.EventName,
			Users:          users,
			ConversionRate: math.Round(rate*100) / 100,
		})
	}

	overall := 0.0
	if len(steps) > 0 {
		overall = steps[len(steps)-1].ConversionRate
	}

	return funnelResults{
		FunnelID:          funnelID,
		From:              from,
		To:                to,
		Steps:             steps,
		OverallConversion: overall,
	}, nil
}

func (s *Server) handleFunnelResults(w http.ResponseWriter, r *http.Request) {
	projectID, funnelID, err := funnelParams(r)
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	from, to, err := timeRange(r)
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}

	results, err := s.computeFunnelResults(r.Context(), projectID, funnelID, from, to)
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	respondJSON(w, http.StatusOK, results)
}

type compareFunnelsResponse struct {
	Funnels []funnelResults `json:"funnels"`
}

func (s *Server) handleCompareFunnels(w http.ResponseWriter, r *http.Request) {
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

	rawIDs := r.URL.Query().Get("funnel_ids")
	if rawIDs == "" {
		apperr.WriteJSON(w, apperr.Validationf("funnel_ids is required"))
		return
	}

	var funnelIDs []uuid.UUID
	for _, part := range strings.Split(rawIDs, ",") {
		id, err := uuid.Parse(strings.TrimSpace(part))
		if err != nil {
			apperr.WriteJSON(w, apperr.Validationf("invalid funnel id: %q", part))
			return
		}
		funnelIDs = append(funnelIDs, id)
	}

	results := make([]funnelResults, 0, len(funnelIDs))
	for _, funnelID := range funnelIDs {
		result, err := s.computeFunnelResults(r.Context(), projectID, funnelID, from, to)
		if err != nil {
			apperr.WriteJSON(w, err)
			return
		}
		results = append(results, result)
	}
	respondJSON(w, http.StatusOK, compareFunnelsResponse{Funnels: results})
}

func (s *Server) handleCompareTimeRanges(w http.ResponseWriter, r *http.Request) {
	projectID, funnelID, err := funnelParams(r)
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}

	fromA, err := parseTimeParam(r, "from_a")
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	toA, err := parseTimeParam(r, "to_a")
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	fromB, err := parseTimeParam(r, "from_b")
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	toB, err := parseTimeParam(r, "to_b")
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}

	resultA, err := s.computeFunnelResults(r.Context(), projectID, funnelID, fromA, toA)
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	resultB, err := s.computeFunnelResults(r.Context(), projectID, funnelID, fromB, toB)
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}
	respondJSON(w, http.StatusOK, compareFunnelsResponse{Funnels: []funnelResults{resultA, resultB}})
}
