// Package registry implements the in-memory service registry: a dynamic
// directory of running service instances with heartbeat-based liveness,
// active health checking, stale-instance cleanup, and watch subscriptions
// for lifecycle events.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Njanja2025/control-plane/internal/domain"
	"github.com/Njanja2025/control-plane/internal/metrics"
	"github.com/Njanja2025/control-plane/pkg/logger"
	"github.com/google/uuid"
)

// ServiceRegistry owns the mapping from service name to instances and the
// background health-check and cleanup loops. All access to the services
// and watchers maps is serialized by a single registry-wide lock.
type ServiceRegistry struct {
	cfg     domain.RegistryConfig
	logger  *logger.Logger
	metrics *metrics.Metrics
	prober  *Prober

	mu       sync.RWMutex
	services map[string]map[string]*domain.ServiceInstance
	watchers map[string]map[string]chan domain.Event

	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	now func() time.Time
}

// NewServiceRegistry creates a new registry. The metrics argument may be
// nil when instrumentation is not wanted.
func NewServiceRegistry(cfg domain.RegistryConfig, log *logger.Logger, m *metrics.Metrics) *ServiceRegistry {
	if cfg.WatchBufferSize <= 0 {
		cfg.WatchBufferSize = 64
	}
	return &ServiceRegistry{
		cfg:      cfg,
		logger:   log.RegistryLogger(),
		metrics:  m,
		prober:   NewProber(cfg.HealthCheckTimeout, log),
		services: make(map[string]map[string]*domain.ServiceInstance),
		watchers: make(map[string]map[string]chan domain.Event),
		now:      time.Now,
	}
}

// Register inserts or overwrites the instance under (name, id) and
// publishes a register event to all current watchers of the service.
// Registration is an idempotent upsert and always succeeds.
func (r *ServiceRegistry) Register(instance *domain.ServiceInstance) bool {
	stored := instance.Clone()
	if stored.LastHeartbeat.IsZero() {
		stored.LastHeartbeat = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.services[stored.Name]; !exists {
		r.services[stored.Name] = make(map[string]*domain.ServiceInstance)
		r.watchersFor(stored.Name)
	}
	r.services[stored.Name][stored.ID] = stored

	r.publishLocked(domain.Event{
		Type:     domain.EventRegister,
		Service:  stored.Name,
		Instance: *stored.Clone(),
	})

	if r.metrics != nil {
		r.metrics.RegistrationsTotal.WithLabelValues(stored.Name).Inc()
		r.metrics.ServiceInstances.WithLabelValues(stored.Name).Set(float64(len(r.services[stored.Name])))
	}

	r.logger.WithFields(map[string]interface{}{
		"service":     stored.Name,
		"instance_id": stored.ID,
		"address":     stored.Address(),
	}).Info("Registered service instance")

	return true
}

// Deregister removes the instance if present, removes the service
// partition if it is now empty, and publishes a deregister event.
// Returns false when nothing matched.
func (r *ServiceRegistry) Deregister(service, instanceID string) bool {
	return r.deregister(service, instanceID, "explicit")
}

func (r *ServiceRegistry) deregister(service, instanceID, reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	instances, exists := r.services[service]
	if !exists {
		return false
	}
	instance, exists := instances[instanceID]
	if !exists {
		return false
	}

	delete(instances, instanceID)
	if len(instances) == 0 {
		delete(r.services, service)
	}

	r.publishLocked(domain.Event{
		Type:     domain.EventDeregister,
		Service:  service,
		Instance: *instance.Clone(),
	})

	if r.metrics != nil {
		r.metrics.DeregistrationsTotal.WithLabelValues(service, reason).Inc()
		r.metrics.ServiceInstances.WithLabelValues(service).Set(float64(len(instances)))
	}

	r.logger.WithFields(map[string]interface{}{
		"service":     service,
		"instance_id": instanceID,
		"reason":      reason,
	}).Info("Deregistered service instance")

	return true
}

// GetInstances returns a snapshot of all instances for a service,
// including unhealthy and unknown ones
func (r *ServiceRegistry) GetInstances(service string) []*domain.ServiceInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instances := make([]*domain.ServiceInstance, 0, len(r.services[service]))
	for _, instance := range r.services[service] {
		instances = append(instances, instance.Clone())
	}
	sort.Slice(instances, func(i, j int) bool { return instances[i].ID < instances[j].ID })
	return instances
}

// GetHealthyInstances returns the subset of instances with healthy status
func (r *ServiceRegistry) GetHealthyInstances(service string) []*domain.ServiceInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var instances []*domain.ServiceInstance
	for _, instance := range r.services[service] {
		if instance.Status == domain.StatusHealthy {
			instances = append(instances, instance.Clone())
		}
	}
	sort.Slice(instances, func(i, j int) bool { return instances[i].ID < instances[j].ID })
	return instances
}

// Heartbeat updates the liveness timer of the instance to now. Returns
// false when the instance is not registered.
func (r *ServiceRegistry) Heartbeat(service, instanceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	instance, exists := r.services[service][instanceID]
	if !exists {
		return false
	}

	instance.LastHeartbeat = r.now()

	if r.metrics != nil {
		r.metrics.HeartbeatsTotal.WithLabelValues(service).Inc()
	}
	return true
}

// WatchService subscribes to lifecycle events for a service. The returned
// cancel func removes the subscription and closes the channel; it is safe
// to call more than once. Events are delivered in publish order; a watcher
// that falls behind its buffer loses events rather than blocking the
// registry.
func (r *ServiceRegistry) WatchService(service string) (<-chan domain.Event, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	watcherID := uuid.NewString()
	ch := make(chan domain.Event, r.cfg.WatchBufferSize)
	r.watchersFor(service)[watcherID] = ch

	if r.metrics != nil {
		r.metrics.WatcherCount.Inc()
	}

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()

		if set, ok := r.watchers[service]; ok {
			if _, ok := set[watcherID]; ok {
				delete(set, watcherID)
				if len(set) == 0 && r.services[service] == nil {
					delete(r.watchers, service)
				}
				close(ch)
				if r.metrics != nil {
					r.metrics.WatcherCount.Dec()
				}
			}
		}
	}

	return ch, cancel
}

// watchersFor returns the watcher set for a service, creating it if
// needed. Caller must hold the lock.
func (r *ServiceRegistry) watchersFor(service string) map[string]chan domain.Event {
	set, exists := r.watchers[service]
	if !exists {
		set = make(map[string]chan domain.Event)
		r.watchers[service] = set
	}
	return set
}

// publishLocked fans an event out to every watcher of the service without
// blocking. Caller must hold the lock.
func (r *ServiceRegistry) publishLocked(event domain.Event) {
	for watcherID, ch := range r.watchers[event.Service] {
		select {
		case ch <- event:
		default:
			r.logger.WithFields(map[string]interface{}{
				"service":    event.Service,
				"watcher_id": watcherID,
				"event_type": string(event.Type),
			}).Warn("Watcher queue full, dropping event")
		}
	}
}

// Start launches the health-check and cleanup loops. It returns an error
// when the registry is already running.
func (r *ServiceRegistry) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("service registry is already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(2)
	go r.healthCheckLoop(loopCtx)
	go r.cleanupLoop(loopCtx)

	r.logger.WithFields(map[string]interface{}{
		"heartbeat_interval": r.cfg.HeartbeatInterval.String(),
		"cleanup_interval":   r.cfg.CleanupInterval.String(),
		"instance_timeout":   r.cfg.InstanceTimeout.String(),
	}).Info("Service registry started")

	return nil
}

// Stop cancels the background loops and waits for them to finish
func (r *ServiceRegistry) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	r.mu.Unlock()

	cancel()
	r.wg.Wait()
	r.logger.Info("Service registry stopped")
}

// healthCheckLoop probes every known instance each interval and updates
// its status. It never removes instances.
func (r *ServiceRegistry) healthCheckLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("Health check loop stopped")
			return
		case <-ticker.C:
			r.checkAllInstances(ctx)
		}
	}
}

// checkAllInstances probes a snapshot of the registered instances
// concurrently, each with its own timeout, so one slow instance cannot
// stall the rest.
func (r *ServiceRegistry) checkAllInstances(ctx context.Context) {
	r.mu.RLock()
	var snapshot []*domain.ServiceInstance
	for _, instances := range r.services {
		for _, instance := range instances {
			snapshot = append(snapshot, instance.Clone())
		}
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, instance := range snapshot {
		wg.Add(1)
		go func(inst *domain.ServiceInstance) {
			defer wg.Done()
			r.checkInstance(ctx, inst)
		}(instance)
	}
	wg.Wait()
}

// checkInstance probes one instance and records the result. If the
// cleanup loop removed the instance mid-check, the result is dropped.
func (r *ServiceRegistry) checkInstance(ctx context.Context, inst *domain.ServiceInstance) {
	checkCtx, cancel := context.WithTimeout(ctx, r.cfg.HealthCheckTimeout)
	defer cancel()

	status := domain.StatusHealthy
	result := "healthy"
	if err := r.prober.Probe(checkCtx, inst); err != nil {
		status = domain.StatusUnhealthy
		result = "unhealthy"
		r.logger.InstanceLogger(inst.Name, inst.ID).WithError(err).Warn("Health check failed")
	}

	r.mu.Lock()
	if current, exists := r.services[inst.Name][inst.ID]; exists {
		if current.Status != status {
			r.logger.InstanceLogger(inst.Name, inst.ID).
				WithField("status", status.String()).
				Info("Instance status changed")
		}
		current.Status = status
	}
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.HealthChecksTotal.WithLabelValues(inst.Name, result).Inc()
	}
}

// cleanupLoop evicts instances whose heartbeat is older than the instance
// timeout. Eviction goes through deregister so watchers observe it.
func (r *ServiceRegistry) cleanupLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("Cleanup loop stopped")
			return
		case <-ticker.C:
			r.evictStaleInstances()
		}
	}
}

// evictStaleInstances removes every instance that stopped heartbeating
func (r *ServiceRegistry) evictStaleInstances() {
	cutoff := r.now().Add(-r.cfg.InstanceTimeout)

	type staleRef struct{ service, id string }
	var stale []staleRef

	r.mu.RLock()
	for service, instances := range r.services {
		for id, instance := range instances {
			if instance.LastHeartbeat.Before(cutoff) {
				stale = append(stale, staleRef{service: service, id: id})
			}
		}
	}
	r.mu.RUnlock()

	for _, ref := range stale {
		if r.deregister(ref.service, ref.id, "expired") {
			r.logger.WithFields(map[string]interface{}{
				"service":     ref.service,
				"instance_id": ref.id,
			}).Warn("Evicted stale instance")
		}
	}
}

// Stats returns registry statistics for the status endpoint
func (r *ServiceRegistry) Stats() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instanceCount := 0
	healthyCount := 0
	for _, instances := range r.services {
		for _, instance := range instances {
			instanceCount++
			if instance.Status == domain.StatusHealthy {
				healthyCount++
			}
		}
	}

	watcherCount := 0
	for _, set := range r.watchers {
		watcherCount += len(set)
	}

	return map[string]interface{}{
		"running":           r.running,
		"services":          len(r.services),
		"instances":         instanceCount,
		"healthy_instances": healthyCount,
		"watchers":          watcherCount,
	}
}

// ServiceNames returns the currently known service names, sorted
func (r *ServiceRegistry) ServiceNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
