package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/Njanja2025/control-plane/internal/balancer"
	"github.com/Njanja2025/control-plane/internal/registry"
	"github.com/Njanja2025/control-plane/internal/scaler"
)

// HealthHandler provides the control plane's own health and status
// endpoints, suitable for Kubernetes and Docker probes
type HealthHandler struct {
	startTime time.Time
	version   string
	registry  *registry.ServiceRegistry
	pool      *balancer.Pool
	scaler    *scaler.AutoScaler
}

// NewHealthHandler creates a new health handler. pool and scaler may be
// nil.
func NewHealthHandler(version string, reg *registry.ServiceRegistry, pool *balancer.Pool, sc *scaler.AutoScaler) *HealthHandler {
	return &HealthHandler{
		startTime: time.Now(),
		version:   version,
		registry:  reg,
		pool:      pool,
		scaler:    sc,
	}
}

// HealthHandler reports overall control-plane health
func (h *HealthHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	h.writeStatus(w, "healthy")
}

// ReadinessHandler checks if the control plane is ready to serve traffic
func (h *HealthHandler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	h.writeStatus(w, "ready")
}

// LivenessHandler checks if the control plane is alive
func (h *HealthHandler) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	h.writeStatus(w, "alive")
}

func (h *HealthHandler) writeStatus(w http.ResponseWriter, status string) {
	response := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"version":   h.version,
		"uptime":    time.Since(h.startTime).String(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// StatusHandler reports component statistics
func (h *HealthHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"version":  h.version,
		"uptime":   time.Since(h.startTime).String(),
		"registry": h.registry.Stats(),
	}
	if h.pool != nil {
		response["balancers"] = h.pool.Stats()
	}
	if h.scaler != nil {
		response["scaler"] = h.scaler.Stats()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}
