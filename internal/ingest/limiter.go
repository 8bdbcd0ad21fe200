package ingest

import (
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// LimiterRegistry holds one token bucket per project, created lazily on
// first use.
type LimiterRegistry struct {
	mu       sync.Mutex
	limiters map[uuid.UUID]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewLimiterRegistry builds a registry with the given sustained rate and
// burst capacity applied to every project.
func NewLimiterRegistry(perSecond, burst int) *LimiterRegistry {
	return &LimiterRegistry{
		limiters: make(map[uuid.UUID]*rate.Limiter),
		rps:      rate.Limit(perSecond),
		burst:    burst,
	}
}

// Get returns the project's limiter, creating it if needed.
func (r *LimiterRegistry) Get(projectID uuid.UUID) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	limiter, ok := r.limiters[projectID]
	if !ok {
		limiter = rate.NewLimiter(r.rps, r.burst)
		r.limiters[projectID] = limiter
	}
	return limiter
}
