package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/komorebitech/cf-truesight/internal/apperr"
	"github.com/komorebitech/cf-truesight/internal/storage/postgres"
)

// listMeta is the pagination envelope metadata.
type listMeta struct {
	Page    int  `json:"page"`
	PerPage int  `json:"per_page"`
	HasMore bool `json:"has_more"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// storeError maps storage sentinels onto the API error taxonomy.
func storeError(err error, resource string) error {
	switch {
	case errors.Is(err, postgres.ErrNotFound):
		return apperr.NotFoundf("%s not found", resource)
	case errors.Is(err, postgres.ErrDuplicateName):
		return apperr.Validationf("%s name already in use", resource)
	default:
		return apperr.Databasef("%v", err)
	}
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.Validationf("invalid %s: %q", name, raw)
	}
	return id, nil
}

// pagination parses page/per_page query parameters, clamping per_page to
// maxPerPage.
func pagination(r *http.Request, defaultPerPage, maxPerPage int) (page, perPage int) {
	page = 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			page = n
		}
	}
	perPage = defaultPerPage
	if raw := r.URL.Query().Get("per_page"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			perPage = n
		}
	}
	if perPage < 1 {
		perPage = 1
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	return page, perPage
}

// timeRange parses the required from/to RFC 3339 query parameters.
func timeRange(r *http.Request) (from, to time.Time, err error) {
	from, err = parseTimeParam(r, "from")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err = parseTimeParam(r, "to")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, apperr.Validationf("to must not precede from")
	}
	return from, to, nil
}

func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, apperr.Validationf("%s is required", name)
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, apperr.Validationf("invalid %s: %q", name, raw)
	}
	return t, nil
}
