// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package health drives the liveness and readiness probes. Liveness answers
// "is the process alive"; readiness walks the registered component checks.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is one component's verdict.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CheckFunc probes one component. It must respect ctx and return quickly.
type CheckFunc func(ctx context.Context) CheckResult

// Response is the probe wire shape.
type Response struct {
	Status    Status                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Registry holds named component checks.
type Registry struct {
	version string

	mu     sync.Mutex
	checks map[string]CheckFunc
}

func NewRegistry(version string) *Registry {
	return &Registry{version: version, checks: map[string]CheckFunc{}}
}

func (r *Registry) Register(name string, fn CheckFunc) {
	r.mu.Lock()
	r.checks[name] = fn
	r.mu.Unlock()
}

// Ready runs every check and aggregates: any unhealthy component makes the
// whole response unhealthy, degraded propagates otherwise.
func (r *Registry) Ready(ctx context.Context) Response {
	resp := Response{Status: StatusHealthy, Version: r.version, Timestamp: time.Now()}

	r.mu.Lock()
	checks := make(map[string]CheckFunc, len(r.checks))
	for name, fn := range r.checks {
		checks[name] = fn
	}
	r.mu.Unlock()

	if len(checks) == 0 {
		return resp
	}
	resp.Checks = make(map[string]CheckResult, len(checks))
	for name, fn := range checks {
		res := fn(ctx)
		resp.Checks[name] = res
		switch res.Status {
		case StatusUnhealthy:
			resp.Status = StatusUnhealthy
		case StatusDegraded:
			if resp.Status == StatusHealthy {
				resp.Status = StatusDegraded
			}
		}
	}
	return resp
}

// LivenessHandler always reports healthy while the process serves requests.
func (r *Registry) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeProbe(w, http.StatusOK, Response{
			Status: StatusHealthy, Version: r.version, Timestamp: time.Now(),
		})
	})
}

// ReadinessHandler reports 503 until every registered component passes.
func (r *Registry) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
		defer cancel()
		resp := r.Ready(ctx)
		code := http.StatusOK
		if resp.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeProbe(w, code, resp)
	})
}

func writeProbe(w http.ResponseWriter, code int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
