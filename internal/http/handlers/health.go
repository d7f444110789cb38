package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/wolfman30/sxrx-edge/pkg/logging"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

// HealthHandler serves liveness and readiness.
type HealthHandler struct {
	checks map[string]Check
	active func() bool
	logger *logging.Logger
}

// NewHealthHandler builds a health handler. active reports whether the edge
// has taken control of traffic; nil means always.
func NewHealthHandler(checks map[string]Check, active func() bool, logger *logging.Logger) *HealthHandler {
	if logger == nil {
		logger = logging.Default()
	}
	if active == nil {
		active = func() bool { return true }
	}
	return &HealthHandler{checks: checks, active: active, logger: logger}
}

// Health is the liveness probe.
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready checks every dependency and the edge activation.
// GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := map[string]string{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("readiness check failed", "check", name, "error", err)
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}
	if h.active() {
		results["edge"] = "active"
	} else {
		results["edge"] = "installing"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, results)
}
