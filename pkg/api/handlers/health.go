package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/marmos91/dittotape/internal/cli/health"
)

// Check is one readiness probe, e.g. a status poll of the exported device
// or a HeadBucket against the S3 tape store.
type Check struct {
	Name string
	Type string
	Fn   func(ctx context.Context) error
}

// CheckResult is the outcome of one Check.
type CheckResult struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// HealthHandler serves the health endpoints.
type HealthHandler struct {
	service   string
	startedAt time.Time
	checks    []Check
	info      func() any
}

// NewHealthHandler creates a handler for service. info, when non-nil,
// provides the body of GET /health/drive.
func NewHealthHandler(service string, checks []Check, info func() any) *HealthHandler {
	return &HealthHandler{
		service:   service,
		startedAt: time.Now(),
		checks:    checks,
		info:      info,
	}
}

// Liveness handles GET /health. It succeeds while the process serves HTTP.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	resp := health.Response{
		Status:    statusHealthy,
		Timestamp: now.UTC().Format(time.RFC3339),
		Data:      health.NewLiveness(h.service, h.startedAt, now),
	}
	writeJSON(w, http.StatusOK, resp)
}

// Readiness handles GET /health/ready. Every check must pass; the results
// are returned either way.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	results := make([]CheckResult, 0, len(h.checks))
	allHealthy := true
	for _, c := range h.checks {
		start := time.Now()
		err := c.Fn(ctx)
		res := CheckResult{
			Name:    c.Name,
			Type:    c.Type,
			Status:  statusHealthy,
			Latency: time.Since(start).String(),
		}
		if err != nil {
			res.Status = statusUnhealthy
			res.Error = err.Error()
			allHealthy = false
		}
		results = append(results, res)
	}

	if allHealthy {
		writeJSON(w, http.StatusOK, healthyResponse(results))
	} else {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponseWithData(results))
	}
}

// Drive handles GET /health/drive with the drive description.
func (h *HealthHandler) Drive(w http.ResponseWriter, r *http.Request) {
	if h.info == nil {
		writeJSON(w, http.StatusNotFound, unhealthyResponse("no drive attached"))
		return
	}
	writeJSON(w, http.StatusOK, healthyResponse(h.info()))
}
