// Package handler exposes the control-plane HTTP API: the registration,
// heartbeat, and watch contract consumed by service instances, plus
// balancer picks, manual scaling, and operational endpoints.
package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Njanja2025/control-plane/internal/balancer"
	"github.com/Njanja2025/control-plane/internal/domain"
	cperrors "github.com/Njanja2025/control-plane/internal/errors"
	"github.com/Njanja2025/control-plane/internal/metrics"
	"github.com/Njanja2025/control-plane/internal/middleware"
	"github.com/Njanja2025/control-plane/internal/registry"
	"github.com/Njanja2025/control-plane/internal/scaler"
	"github.com/Njanja2025/control-plane/pkg/logger"
	"github.com/gorilla/mux"
)

// API bundles the control-plane components behind the HTTP surface
type API struct {
	registry *registry.ServiceRegistry
	pool     *balancer.Pool
	scaler   *scaler.AutoScaler
	orch     domain.Orchestrator
	metrics  *metrics.Metrics
	auth     *middleware.JWTAuth
	logger   *logger.Logger
	version  string
}

// NewAPI creates the API handler set. scaler, orch, metrics, and auth
// may be nil when the corresponding feature is disabled.
func NewAPI(reg *registry.ServiceRegistry, pool *balancer.Pool, sc *scaler.AutoScaler, orch domain.Orchestrator, m *metrics.Metrics, auth *middleware.JWTAuth, log *logger.Logger, version string) *API {
	return &API{
		registry: reg,
		pool:     pool,
		scaler:   sc,
		orch:     orch,
		metrics:  m,
		auth:     auth,
		logger:   log.WithField("component", "api"),
		version:  version,
	}
}

// Router builds the mux router with all control-plane routes
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/services", a.ListServices).Methods(http.MethodGet)
	v1.HandleFunc("/services/{name}/instances", a.RegisterInstance).Methods(http.MethodPost)
	v1.HandleFunc("/services/{name}/instances", a.ListInstances).Methods(http.MethodGet)
	v1.HandleFunc("/services/{name}/instances/{id}/heartbeat", a.Heartbeat).Methods(http.MethodPut)
	v1.Handle("/services/{name}/instances/{id}", a.protect(http.HandlerFunc(a.DeregisterInstance))).Methods(http.MethodDelete)
	v1.HandleFunc("/services/{name}/watch", a.WatchService).Methods(http.MethodGet)
	v1.HandleFunc("/services/{name}/next", a.NextInstance).Methods(http.MethodGet)
	v1.Handle("/services/{name}/scale", a.protect(http.HandlerFunc(a.ScaleService))).Methods(http.MethodPost)

	health := NewHealthHandler(a.version, a.registry, a.pool, a.scaler)
	r.HandleFunc("/health", health.HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/readiness", health.ReadinessHandler).Methods(http.MethodGet)
	r.HandleFunc("/liveness", health.LivenessHandler).Methods(http.MethodGet)
	r.HandleFunc("/status", health.StatusHandler).Methods(http.MethodGet)

	if a.metrics != nil {
		r.Handle("/metrics", a.metrics.Handler()).Methods(http.MethodGet)
	}

	return r
}

// protect wraps a handler with the auth middleware when auth is enabled
func (a *API) protect(next http.Handler) http.Handler {
	if a.auth == nil {
		return next
	}
	return a.auth.Middleware()(next)
}

// RegisterInstance registers (or re-registers) an instance descriptor
func (a *API) RegisterInstance(w http.ResponseWriter, r *http.Request) {
	service := mux.Vars(r)["name"]

	var instance domain.ServiceInstance
	if err := json.NewDecoder(r.Body).Decode(&instance); err != nil {
		a.writeError(w, cperrors.NewErrorWithCause(cperrors.ErrCodeInvalidRequest, "api", "Malformed instance descriptor", err))
		return
	}

	if instance.Name == "" {
		instance.Name = service
	}
	if instance.Name != service {
		a.writeError(w, cperrors.NewError(cperrors.ErrCodeInvalidRequest, "api",
			fmt.Sprintf("Instance name %q does not match path service %q", instance.Name, service)))
		return
	}
	if instance.Host == "" || instance.Port <= 0 {
		a.writeError(w, cperrors.NewError(cperrors.ErrCodeInvalidRequest, "api", "Instance host and port are required"))
		return
	}
	if instance.ID == "" {
		instance.ID = fmt.Sprintf("%s-%s-%d", instance.Name, instance.Host, instance.Port)
	}
	if instance.HealthCheckURL == "" {
		instance.HealthCheckURL = instance.URL() + registry.DefaultHealthCheckPath
	}

	a.registry.Register(&instance)
	a.writeJSON(w, http.StatusCreated, instance)
}

// ListInstances returns the registered instances for a service; with
// ?healthy=true only those passing health checks
func (a *API) ListInstances(w http.ResponseWriter, r *http.Request) {
	service := mux.Vars(r)["name"]

	var instances []*domain.ServiceInstance
	if r.URL.Query().Get("healthy") == "true" {
		instances = a.registry.GetHealthyInstances(service)
	} else {
		instances = a.registry.GetInstances(service)
	}

	a.writeJSON(w, http.StatusOK, map[string]interface{}{
		"service":   service,
		"instances": instances,
	})
}

// ListServices returns the known service names
func (a *API) ListServices(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]interface{}{
		"services": a.registry.ServiceNames(),
	})
}

// Heartbeat refreshes an instance liveness timer
func (a *API) Heartbeat(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	service, id := vars["name"], vars["id"]

	if !a.registry.Heartbeat(service, id) {
		a.writeError(w, cperrors.NewInstanceNotFoundError(service, id))
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

// DeregisterInstance removes an instance immediately
func (a *API) DeregisterInstance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	service, id := vars["name"], vars["id"]

	if !a.registry.Deregister(service, id) {
		a.writeError(w, cperrors.NewInstanceNotFoundError(service, id))
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

// NextInstance returns the next healthy instance URL for a service
func (a *API) NextInstance(w http.ResponseWriter, r *http.Request) {
	service := mux.Vars(r)["name"]

	url, ok := a.pool.Get(service).GetNextInstance()
	if !ok {
		if a.metrics != nil {
			a.metrics.BalancerPicksTotal.WithLabelValues(service, "none_available").Inc()
		}
		a.writeError(w, cperrors.NewNoInstancesError(service))
		return
	}

	if a.metrics != nil {
		a.metrics.BalancerPicksTotal.WithLabelValues(service, "ok").Inc()
	}
	a.writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": service,
		"url":     url,
	})
}

// scaleRequest is the body of a manual scale call
type scaleRequest struct {
	Replicas int `json:"replicas"`
}

// ScaleService issues a manual scale operation through the orchestrator
func (a *API) ScaleService(w http.ResponseWriter, r *http.Request) {
	service := mux.Vars(r)["name"]

	if a.orch == nil {
		a.writeError(w, cperrors.NewError(cperrors.ErrCodeServiceUnavailable, "api", "No orchestrator configured"))
		return
	}

	var req scaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, cperrors.NewErrorWithCause(cperrors.ErrCodeInvalidRequest, "api", "Malformed scale request", err))
		return
	}
	if req.Replicas < 0 {
		a.writeError(w, cperrors.NewError(cperrors.ErrCodeInvalidRequest, "api", "Replicas cannot be negative"))
		return
	}

	if err := a.orch.ScaleService(r.Context(), service, req.Replicas); err != nil {
		a.logger.WithField("service", service).WithError(err).Error("Manual scale failed")
		a.writeError(w, cperrors.NewOrchestratorError("scale_service", err))
		return
	}

	a.writeJSON(w, http.StatusOK, map[string]interface{}{
		"service":  service,
		"replicas": req.Replicas,
	})
}

// writeJSON writes a JSON response with the given status
func (a *API) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.logger.WithError(err).Error("Failed to encode response")
	}
}

// writeError writes a structured error response
func (a *API) writeError(w http.ResponseWriter, err *cperrors.ControlPlaneError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatusCode())
	json.NewEncoder(w).Encode(err)
}
