package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Dependency is a named check run as part of an aggregate /health
// response (e.g. a DB ping or a cache ping).
type Dependency struct {
	Name  string
	Check func(ctx context.Context) Result
}

// Aggregator runs a fixed set of dependency checks and renders a
// liveness/readiness JSON response.
type Aggregator struct {
	deps []Dependency
}

// NewAggregator builds an Aggregator over the given dependencies.
func NewAggregator(deps ...Dependency) *Aggregator {
	return &Aggregator{deps: deps}
}

type aggregateResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

// ServeHTTP runs every dependency check and writes 200 if all are
// healthy, 503 otherwise.
func (a *Aggregator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := aggregateResponse{Status: "healthy", Components: map[string]string{}}
	for _, dep := range a.deps {
		result := dep.Check(ctx)
		if result.Healthy {
			resp.Components[dep.Name] = "healthy"
		} else {
			resp.Components[dep.Name] = result.Message
			resp.Status = "unhealthy"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if resp.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}
