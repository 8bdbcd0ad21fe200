package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/komorebitech/cf-truesight/internal/auth"
	"github.com/komorebitech/cf-truesight/internal/storage/clickhouse"
	"github.com/komorebitech/cf-truesight/internal/storage/postgres"
	"github.com/komorebitech/cf-truesight/internal/telemetry"
)

const testToken = "admin-secret"

// memStore is an in-memory controlStore.
type memStore struct {
	projects map[uuid.UUID]postgres.Project
	keys     map[uuid.UUID]postgres.APIKey
	funnels  map[uuid.UUID]postgres.Funnel
}

func newMemStore() *memStore {
	return &memStore{
		projects: make(map[uuid.UUID]postgres.Project),
		keys:     make(map[uuid.UUID]postgres.APIKey),
		funnels:  make(map[uuid.UUID]postgres.Funnel),
	}
}

func (m *memStore) CreateProject(_ context.Context, name string) (postgres.Project, error) {
	for _, p := range m.projects {
		if p.Name == name && p.Active {
			return postgres.Project{}, postgres.ErrDuplicateName
		}
	}
	p := postgres.Project{
		ID:        uuid.New(),
		Name:      name,
		Active:    true,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	m.projects[p.ID] = p
	return p, nil
}

func (m *memStore) GetProject(_ context.Context, id uuid.UUID) (postgres.Project, error) {
	p, ok := m.projects[id]
	if !ok || !p.Active {
		return postgres.Project{}, postgres.ErrNotFound
	}
	return p, nil
}

func (m *memStore) ListProjects(_ context.Context, page, perPage int) ([]postgres.Project, bool, error) {
	var all []postgres.Project
	for _, p := range m.projects {
		if p.Active {
			all = append(all, p)
		}
	}
	start := (page - 1) * perPage
	if start >= len(all) {
		return nil, false, nil
	}
	end := start + perPage
	hasMore := end < len(all)
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], hasMore, nil
}

func (m *memStore) UpdateProject(_ context.Context, id uuid.UUID, name string) (postgres.Project, error) {
	p, ok := m.projects[id]
	if !ok || !p.Active {
		return postgres.Project{}, postgres.ErrNotFound
	}
	p.Name = name
	p.UpdatedAt = time.Now().UTC()
	m.projects[id] = p
	return p, nil
}

func (m *memStore) DeleteProject(_ context.Context, id uuid.UUID) error {
	p, ok := m.projects[id]
	if !ok || !p.Active {
		return postgres.ErrNotFound
	}
	p.Active = false
	m.projects[id] = p
	for keyID, key := range m.keys {
		if key.ProjectID == id {
			key.Active = false
			m.keys[keyID] = key
		}
	}
	return nil
}

func (m *memStore) CreateAPIKey(_ context.Context, params postgres.CreateAPIKeyParams) (postgres.APIKey, error) {
	if p, ok := m.projects[params.ProjectID]; !ok || !p.Active {
		return postgres.APIKey{}, postgres.ErrNotFound
	}
	key := postgres.APIKey{
		ID:          uuid.New(),
		ProjectID:   params.ProjectID,
		Prefix:      params.Prefix,
		Label:       params.Label,
		Environment: params.Environment,
		Active:      true,
		CreatedAt:   time.Now().UTC(),
	}
	m.keys[key.ID] = key
	return key, nil
}

func (m *memStore) ListAPIKeys(_ context.Context, projectID uuid.UUID) ([]postgres.APIKey, error) {
	var keys []postgres.APIKey
	for _, key := range m.keys {
		if key.ProjectID == projectID {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (m *memStore) RevokeAPIKey(_ context.Context, projectID, keyID uuid.UUID) error {
	key, ok := m.keys[keyID]
	if !ok || key.ProjectID != projectID {
		return postgres.ErrNotFound
	}
	key.Active = false
	m.keys[keyID] = key
	return nil
}

func (m *memStore) CreateFunnel(_ context.Context, params postgres.CreateFunnelParams) (postgres.Funnel, error) {
	if p, ok := m.projects[params.ProjectID]; !ok || !p.Active {
		return postgres.Funnel{}, postgres.ErrNotFound
	}
	f := postgres.Funnel{
		ID:            uuid.New(),
		ProjectID:     params.ProjectID,
		Name:          params.Name,
		Steps:         params.Steps,
		WindowSeconds: params.WindowSeconds,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	m.funnels[f.ID] = f
	return f, nil
}

func (m *memStore) GetFunnel(_ context.Context, projectID, funnelID uuid.UUID) (postgres.Funnel, error) {
	f, ok := m.funnels[funnelID]
	if !ok || f.ProjectID != projectID {
		return postgres.Funnel{}, postgres.ErrNotFound
	}
	return f, nil
}

func (m *memStore) ListFunnels(_ context.Context, projectID uuid.UUID) ([]postgres.Funnel, error) {
	var funnels []postgres.Funnel
	for _, f := range m.funnels {
		if f.ProjectID == projectID {
			funnels = append(funnels, f)
		}
	}
	return funnels, nil
}

func (m *memStore) UpdateFunnel(_ context.Context, projectID, funnelID uuid.UUID, params postgres.UpdateFunnelParams) (postgres.Funnel, error) {
	f, ok := m.funnels[funnelID]
	if !ok || f.ProjectID != projectID {
		return postgres.Funnel{}, postgres.ErrNotFound
	}
	f.Name = params.Name
	f.Steps = params.Steps
	f.WindowSeconds = params.WindowSeconds
	f.UpdatedAt = time.Now().UTC()
	m.funnels[funnelID] = f
	return f, nil
}

func (m *memStore) DeleteFunnel(_ context.Context, projectID, funnelID uuid.UUID) error {
	f, ok := m.funnels[funnelID]
	if !ok || f.ProjectID != projectID {
		return postgres.ErrNotFound
	}
	delete(m.funnels, funnelID)
	return nil
}

func (m *memStore) Ping(context.Context) error { return nil }

// fakeAnalytics serves canned query results.
type fakeAnalytics struct {
	count        uint64
	buckets      []clickhouse.ThroughputBucket
	byType       map[string]uint64
	topEvents    []clickhouse.TopEvent
	events       []clickhouse.StoredEvent
	hasMore      bool
	funnelLevels []clickhouse.FunnelLevel
}

func (f *fakeAnalytics) EventCount(context.Context, uuid.UUID, time.Time, time.Time) (uint64, error) {
	return f.count, nil
}

func (f *fakeAnalytics) Throughput(context.Context, uuid.UUID, time.Time, time.Time, string) ([]clickhouse.ThroughputBucket, error) {
	return f.buckets, nil
}

func (f *fakeAnalytics) EventTypes(context.Context, uuid.UUID, time.Time, time.Time, int) (map[string]uint64, []clickhouse.TopEvent, error) {
	return f.byType, f.topEvents, nil
}

func (f *fakeAnalytics) ListEvents(context.Context, uuid.UUID, clickhouse.EventFilter) ([]clickhouse.StoredEvent, bool, error) {
	return f.events, f.hasMore, nil
}

func (f *fakeAnalytics) FunnelLevels(context.Context, uuid.UUID, int, []string, time.Time, time.Time) ([]clickhouse.FunnelLevel, error) {
	return f.funnelLevels, nil
}

type adminHarness struct {
	handler   http.Handler
	store     *memStore
	analytics *fakeAnalytics
}

func newAdminHarness(t *testing.T) *adminHarness {
	t.Helper()
	store := newMemStore()
	analytics := &fakeAnalytics{}
	server := NewServer(zap.NewNop(), store, analytics,
		func(context.Context) error { return nil },
		testToken, []string{"*"}, telemetry.NewMetrics())
	return &adminHarness{handler: server.Handler(), store: store, analytics: analytics}
}

func (h *adminHarness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *adminHarness) createProject(t *testing.T, name string) postgres.Project {
	t.Helper()
	project, err := h.store.CreateProject(context.Background(), name)
	require.NoError(t, err)
	return project
}

func statsRange() string {
	from := time.Now().Add(-24 * time.Hour).UTC().Format(time.RFC3339)
	to := time.Now().UTC().Format(time.RFC3339)
	return "from=" + from + "&to=" + to
}

func TestBearerAuthRequired(t *testing.T) {
	h := newAdminHarness(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/projects/", nil)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/projects/", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProjectLifecycle(t *testing.T) {
	h := newAdminHarness(t)

	rec := h.do(t, http.MethodPost, "/v1/projects/", map[string]string{"name": "Mobile App"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created postgres.Project
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "Mobile App", created.Name)
	require.True(t, created.Active)

	rec = h.do(t, http.MethodGet, "/v1/projects/"+created.ID.String()+"/", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodPut, "/v1/projects/"+created.ID.String()+"/", map[string]string{"name": "Mobile App v2"})
	require.Equal(t, http.StatusOK, rec.Code)
	var updated postgres.Project
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	require.Equal(t, "Mobile App v2", updated.Name)

	rec = h.do(t, http.MethodDelete, "/v1/projects/"+created.ID.String()+"/", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(t, http.MethodGet, "/v1/projects/"+created.ID.String()+"/", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateProjectRejectsDuplicateName(t *testing.T) {
	h := newAdminHarness(t)
	h.createProject(t, "Mobile App")

	rec := h.do(t, http.MethodPost, "/v1/projects/", map[string]string{"name": "Mobile App"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "already in use")
}

func TestCreateProjectRejectsBlankName(t *testing.T) {
	h := newAdminHarness(t)

	rec := h.do(t, http.MethodPost, "/v1/projects/", map[string]string{"name": "   "})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListProjectsPagination(t *testing.T) {
	h := newAdminHarness(t)
	for i := 0; i < 3; i++ {
		h.createProject(t, fmt.Sprintf("Project %d", i))
	}

	rec := h.do(t, http.MethodGet, "/v1/projects/?page=1&per_page=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []postgres.Project `json:"data"`
		Meta listMeta           `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 2)
	require.True(t, resp.Meta.HasMore)
	require.Equal(t, 1, resp.Meta.Page)
	require.Equal(t, 2, resp.Meta.PerPage)
}

func TestCreateAPIKeyReturnsPlaintextOnce(t *testing.T) {
	h := newAdminHarness(t)
	project := h.createProject(t, "Mobile App")

	rec := h.do(t, http.MethodPost, "/v1/projects/"+project.ID.String()+"/api-keys/",
		map[string]string{"label": "ios sdk", "environment": "live"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		postgres.APIKey
		Key string `json:"key"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.True(t, auth.WellFormed(created.Key))
	require.True(t, strings.HasPrefix(created.Key, "ts_live_"))
	require.Equal(t, auth.Prefix(created.Key), created.Prefix)

	// The listing never exposes the plaintext again.
	rec = h.do(t, http.MethodGet, "/v1/projects/"+project.ID.String()+"/api-keys/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), created.Key)
}

func TestCreateAPIKeyValidation(t *testing.T) {
	h := newAdminHarness(t)
	project := h.createProject(t, "Mobile App")
	base := "/v1/projects/" + project.ID.String() + "/api-keys/"

	rec := h.do(t, http.MethodPost, base, map[string]string{"label": "", "environment": "live"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, base, map[string]string{"label": "sdk", "environment": "prod"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRevokeAPIKey(t *testing.T) {
	h := newAdminHarness(t)
	project := h.createProject(t, "Mobile App")

	key, err := h.store.CreateAPIKey(context.Background(), postgres.CreateAPIKeyParams{
		ProjectID:   project.ID,
		Prefix:      "ts_live_",
		KeyHash:     "hash",
		Label:       "sdk",
		Environment: "live",
	})
	require.NoError(t, err)

	rec := h.do(t, http.MethodDelete, "/v1/projects/"+project.ID.String()+"/api-keys/"+key.ID.String(), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.False(t, h.store.keys[key.ID].Active)
}

func TestEventCountEndpoint(t *testing.T) {
	h := newAdminHarness(t)
	project := h.createProject(t, "Mobile App")
	h.analytics.count = 4821

	rec := h.do(t, http.MethodGet,
		"/v1/projects/"+project.ID.String()+"/stats/event-count?"+statsRange(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		TotalEvents uint64 `json:"total_events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, uint64(4821), resp.TotalEvents)
}

func TestStatsRequireTimeRange(t *testing.T) {
	h := newAdminHarness(t)
	project := h.createProject(t, "Mobile App")

	rec := h.do(t, http.MethodGet, "/v1/projects/"+project.ID.String()+"/stats/event-count", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventTypesEndpoint(t *testing.T) {
	h := newAdminHarness(t)
	project := h.createProject(t, "Mobile App")
	h.analytics.byType = map[string]uint64{"track": 90, "identify": 10}
	h.analytics.topEvents = []clickhouse.TopEvent{{Name: "Screen Viewed", Count: 60}}

	rec := h.do(t, http.MethodGet,
		"/v1/projects/"+project.ID.String()+"/stats/event-types?"+statsRange(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		ByType    map[string]uint64     `json:"by_type"`
		TopEvents []clickhouse.TopEvent `json:"top_events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, uint64(90), resp.ByType["track"])
	require.Len(t, resp.TopEvents, 1)
}

func TestFunnelLifecycle(t *testing.T) {
	h := newAdminHarness(t)
	project := h.createProject(t, "Mobile App")
	base := "/v1/projects/" + project.ID.String() + "/funnels/"

	rec := h.do(t, http.MethodPost, base, map[string]any{
		"name": "Checkout",
		"steps": []map[string]string{
			{"event_name": "Product Viewed"},
			{"event_name": "Checkout Started"},
			{"event_name": "Order Placed"},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created postgres.Funnel
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, defaultFunnelWindowSeconds, created.WindowSeconds)
	require.Len(t, created.Steps, 3)

	rec = h.do(t, http.MethodPut, base+created.ID.String()+"/", map[string]any{
		"window_seconds": 3600,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var updated postgres.Funnel
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	require.Equal(t, 3600, updated.WindowSeconds)
	require.Equal(t, "Checkout", updated.Name)
	require.Len(t, updated.Steps, 3)

	rec = h.do(t, http.MethodDelete, base+created.ID.String()+"/", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(t, http.MethodGet, base+created.ID.String()+"/", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateFunnelRequiresTwoSteps(t *testing.T) {
	h := newAdminHarness(t)
	project := h.createProject(t, "Mobile App")

	rec := h.do(t, http.MethodPost, "/v1/projects/"+project.ID.String()+"/funnels/", map[string]any{
		"name":  "Too Short",
		"steps": []map[string]string{{"event_name": "Only Step"}},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "at least 2 steps")
}

func TestFunnelResultsCumulativeMath(t *testing.T) {
	h := newAdminHarness(t)
	project := h.createProject(t, "Mobile App")

	funnel, err := h.store.CreateFunnel(context.Background(), postgres.CreateFunnelParams{
		ProjectID: project.ID,
		Name:      "Checkout",
		Steps: []postgres.FunnelStep{
			{EventName: "Product Viewed"},
			{EventName: "Checkout Started"},
			{EventName: "Order Placed"},
		},
		WindowSeconds: 3600,
	})
	require.NoError(t, err)

	// Furthest-level counts: 30 users stopped at step 1, 50 at step 2,
	// 20 completed all 3 steps.
	h.analytics.funnelLevels = []clickhouse.FunnelLevel{
		{Level: 0, Users: 5},
		{Level: 1, Users: 30},
		{Level: 2, Users: 50},
		{Level: 3, Users: 20},
	}

	rec := h.do(t, http.MethodGet,
		"/v1/projects/"+project.ID.String()+"/funnels/"+funnel.ID.String()+"/results?"+statsRange(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp funnelResults
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Steps, 3)

	require.Equal(t, uint64(100), resp.Steps[0].Users)
	require.Equal(t, uint64(70), resp.Steps[1].Users)
	require.Equal(t, uint64(20), resp.Steps[2].Users)

	require.Equal(t, 100.0, resp.Steps[0].ConversionRate)
	require.Equal(t, 70.0, resp.Steps[1].ConversionRate)
	require.Equal(t, 20.0, resp.Steps[2].ConversionRate)
	require.Equal(t, 20.0, resp.OverallConversion)
}

func TestCompareFunnels(t *testing.T) {
	h := newAdminHarness(t)
	project := h.createProject(t, "Mobile App")

	steps := []postgres.FunnelStep{{EventName: "A"}, {EventName: "B"}}
	f1, err := h.store.CreateFunnel(context.Background(), postgres.CreateFunnelParams{
		ProjectID: project.ID, Name: "One", Steps: steps, WindowSeconds: 3600,
	})
	require.NoError(t, err)
	f2, err := h.store.CreateFunnel(context.Background(), postgres.CreateFunnelParams{
		ProjectID: project.ID, Name: "Two", Steps: steps, WindowSeconds: 3600,
	})
	require.NoError(t, err)

	h.analytics.funnelLevels = []clickhouse.FunnelLevel{{Level: 2, Users: 10}}

	rec := h.do(t, http.MethodGet,
		"/v1/projects/"+project.ID.String()+"/funnels/compare?funnel_ids="+
			f1.ID.String()+","+f2.ID.String()+"&"+statsRange(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp compareFunnelsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Funnels, 2)
	require.Equal(t, f1.ID, resp.Funnels[0].FunnelID)
	require.Equal(t, f2.ID, resp.Funnels[1].FunnelID)
}

func TestHealthReportsDegradedDependency(t *testing.T) {
	store := newMemStore()
	server := NewServer(zap.NewNop(), store, &fakeAnalytics{},
		func(context.Context) error { return fmt.Errorf("connection refused") },
		testToken, []string{"*"}, telemetry.NewMetrics())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var status struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, "degraded", status.Status)
	require.Equal(t, "ok", status.Dependencies["postgres"])
	require.Contains(t, status.Dependencies["clickhouse"], "connection refused")
}
