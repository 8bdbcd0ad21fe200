// Package health aggregates dependency probes into the shared health
// response served by every binary.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Version is the reported platform version.
const Version = "0.1.0"

var processStart = time.Now()

// UptimeSeconds reports seconds since process start.
func UptimeSeconds() uint64 {
	return uint64(time.Since(processStart).Seconds())
}

// Status is the health response body.
type Status struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds uint64            `json:"uptime_seconds"`
	Dependencies  map[string]string `json:"dependencies"`
}

// Probe checks one downstream dependency.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// Evaluate runs every probe and aggregates the outcome. healthy is false
// when any probe fails.
func Evaluate(ctx context.Context, probes []Probe) (Status, bool) {
	dependencies := make(map[string]string, len(probes))
	healthy := true
	for _, probe := range probes {
		if err := probe.Check(ctx); err != nil {
			dependencies[probe.Name] = fmt.Sprintf("error: %v", err)
			healthy = false
			continue
		}
		dependencies[probe.Name] = "ok"
	}

	status := "healthy"
	if !healthy {
		status = "degraded"
	}
	return Status{
		Status:        status,
		Version:       Version,
		UptimeSeconds: UptimeSeconds(),
		Dependencies:  dependencies,
	}, healthy
}

// Handler serves the aggregated health response, 503 when degraded.
func Handler(probes ...Probe) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status, healthy := Evaluate(ctx, probes)

		w.Header().Set("Content-Type", "application/json")
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	}
}
