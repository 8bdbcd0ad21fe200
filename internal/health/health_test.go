package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEvaluateAllHealthy(t *testing.T) {
	status, healthy := Evaluate(context.Background(), []Probe{
		{Name: "postgres", Check: func(context.Context) error { return nil }},
		{Name: "sqs", Check: func(context.Context) error { return nil }},
	})

	require.True(t, healthy)
	require.Equal(t, "healthy", status.Status)
	require.Equal(t, Version, status.Version)
	require.Equal(t, map[string]string{"postgres": "ok", "sqs": "ok"}, status.Dependencies)
}

func TestEvaluateDegraded(t *testing.T) {
	status, healthy := Evaluate(context.Background(), []Probe{
		{Name: "postgres", Check: func(context.Context) error { return nil }},
		{Name: "clickhouse", Check: func(context.Context) error { return errors.New("connection refused") }},
	})

	require.False(t, healthy)
	require.Equal(t, "degraded", status.Status)
	require.Equal(t, "ok", status.Dependencies["postgres"])
	require.Equal(t, "error: connection refused", status.Dependencies["clickhouse"])
}

func TestHandlerStatusCodes(t *testing.T) {
	healthyHandler := Handler(Probe{Name: "db", Check: func(context.Context) error { return nil }})
	rec := httptest.NewRecorder()
	healthyHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, "healthy", status.Status)

	degradedHandler := Handler(Probe{Name: "db", Check: func(context.Context) error { return errors.New("down") }})
	rec = httptest.NewRecorder()
	degradedHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
