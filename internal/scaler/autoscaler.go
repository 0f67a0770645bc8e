// Package scaler implements the metric-driven autoscaling control loop.
// It polls per-service resource usage from the orchestrator, applies
// cooldown and hysteresis rules, and issues scale operations.
package scaler

import (
	"context"
	"sync"
	"time"

	"github.com/Njanja2025/control-plane/internal/domain"
	"github.com/Njanja2025/control-plane/internal/metrics"
	"github.com/Njanja2025/control-plane/pkg/logger"
)

// cpuHistorySize bounds the rolling CPU sample history kept per service
const cpuHistorySize = 60

// AutoScaler evaluates scale decisions for monitored services. Scale-down
// uses half the scale-up thresholds as a hysteresis band so the replica
// count does not flap around a single threshold.
type AutoScaler struct {
	cfg          domain.ScalerConfig
	orchestrator domain.Orchestrator
	logger       *logger.Logger
	metrics      *metrics.Metrics

	mu            sync.Mutex
	lastScaleUp   map[string]time.Time
	lastScaleDown map[string]time.Time
	cpuHistory    map[string][]float64

	now func() time.Time
}

// NewAutoScaler creates an autoscaler bound to an orchestrator backend.
// The metrics argument may be nil.
func NewAutoScaler(cfg domain.ScalerConfig, orch domain.Orchestrator, log *logger.Logger, m *metrics.Metrics) *AutoScaler {
	return &AutoScaler{
		cfg:           cfg,
		orchestrator:  orch,
		logger:        log.ScalerLogger(),
		metrics:       m,
		lastScaleUp:   make(map[string]time.Time),
		lastScaleDown: make(map[string]time.Time),
		cpuHistory:    make(map[string][]float64),
		now:           time.Now,
	}
}

// GetServiceMetrics queries the orchestrator for the service. A fetch
// failure is logged and reported as zero usage with no instances, so one
// orchestrator hiccup never crashes the monitoring loop.
func (a *AutoScaler) GetServiceMetrics(ctx context.Context, service string) domain.ServiceMetrics {
	m, err := a.orchestrator.GetServiceMetrics(ctx, service)
	if err != nil {
		a.logger.WithField("service", service).WithError(err).
			Warn("Failed to fetch service metrics, assuming zero usage")
		return domain.ServiceMetrics{}
	}
	return m
}

// ShouldScaleUp reports whether the service should gain a replica: the
// scale-up cooldown has elapsed, CPU or memory exceeds its threshold,
// and the instance count is below the maximum.
func (a *AutoScaler) ShouldScaleUp(service string, m domain.ServiceMetrics) bool {
	a.mu.Lock()
	last := a.lastScaleUp[service]
	a.mu.Unlock()

	if a.now().Sub(last) < a.cfg.ScaleUpCooldown {
		return false
	}
	if m.CPUPercent <= a.cfg.CPUThreshold && m.MemoryPercent <= a.cfg.MemoryThreshold {
		return false
	}
	return m.InstanceCount < a.cfg.MaxInstances
}

// ShouldScaleDown reports whether the service should lose a replica: the
// scale-down cooldown has elapsed, both CPU and memory sit below half
// their thresholds, and the instance count is above the minimum.
func (a *AutoScaler) ShouldScaleDown(service string, m domain.ServiceMetrics) bool {
	a.mu.Lock()
	last := a.lastScaleDown[service]
	a.mu.Unlock()

	if a.now().Sub(last) < a.cfg.ScaleDownCooldown {
		return false
	}
	if m.CPUPercent >= a.cfg.CPUThreshold/2 || m.MemoryPercent >= a.cfg.MemoryThreshold/2 {
		return false
	}
	return m.InstanceCount > a.cfg.MinInstances
}

// ScaleService issues the orchestrator scale operation. Failures are
// logged and reported as false, never raised; the monitor loop simply
// retries on its next iteration.
func (a *AutoScaler) ScaleService(ctx context.Context, service string, replicas int) bool {
	if err := a.orchestrator.ScaleService(ctx, service, replicas); err != nil {
		a.logger.WithFields(map[string]interface{}{
			"service":  service,
			"replicas": replicas,
		}).WithError(err).Error("Scale operation failed")
		return false
	}

	a.logger.WithFields(map[string]interface{}{
		"service":  service,
		"replicas": replicas,
	}).Info("Scaled service")
	return true
}

// MonitorAndScale runs the scaling loop for one service until the
// context is cancelled: fetch metrics, apply at most one scale action
// per iteration with scale-up taking priority, and record the CPU sample.
// It blocks and is intended to run in its own goroutine.
func (a *AutoScaler) MonitorAndScale(ctx context.Context, service string) {
	log := a.logger.WithField("service", service)
	log.WithFields(map[string]interface{}{
		"min_instances": a.cfg.MinInstances,
		"max_instances": a.cfg.MaxInstances,
		"poll_interval": a.cfg.PollInterval.String(),
	}).Info("Starting autoscale loop")

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("Autoscale loop stopped")
			return
		case <-ticker.C:
			a.evaluate(ctx, service)
		}
	}
}

// evaluate performs one scaling iteration for a service
func (a *AutoScaler) evaluate(ctx context.Context, service string) {
	m := a.GetServiceMetrics(ctx, service)

	log := a.logger.WithFields(map[string]interface{}{
		"service":        service,
		"cpu_percent":    m.CPUPercent,
		"memory_percent": m.MemoryPercent,
		"instance_count": m.InstanceCount,
	})
	log.Debug("Evaluated service metrics")

	switch {
	case a.ShouldScaleUp(service, m):
		replicas := m.InstanceCount + 1
		if a.ScaleService(ctx, service, replicas) {
			a.mu.Lock()
			a.lastScaleUp[service] = a.now()
			a.mu.Unlock()
			log.WithField("replicas", replicas).Info("Scaled up")
			a.recordScale(service, "up", "success")
		} else {
			a.recordScale(service, "up", "failure")
		}
	case a.ShouldScaleDown(service, m):
		replicas := m.InstanceCount - 1
		if a.ScaleService(ctx, service, replicas) {
			a.mu.Lock()
			a.lastScaleDown[service] = a.now()
			a.mu.Unlock()
			log.WithField("replicas", replicas).Info("Scaled down")
			a.recordScale(service, "down", "success")
		} else {
			a.recordScale(service, "down", "failure")
		}
	}

	a.recordCPUSample(service, m.CPUPercent)
}

func (a *AutoScaler) recordScale(service, direction, result string) {
	if a.metrics != nil {
		a.metrics.ScaleOperationsTotal.WithLabelValues(service, direction, result).Inc()
	}
}

// recordCPUSample appends to the rolling history, evicting the oldest
// sample once the cap is reached
func (a *AutoScaler) recordCPUSample(service string, cpu float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	history := append(a.cpuHistory[service], cpu)
	if len(history) > cpuHistorySize {
		history = history[len(history)-cpuHistorySize:]
	}
	a.cpuHistory[service] = history
}

// CPUHistory returns a copy of the rolling CPU samples for a service
func (a *AutoScaler) CPUHistory(service string) []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	history := make([]float64, len(a.cpuHistory[service]))
	copy(history, a.cpuHistory[service])
	return history
}

// Stats returns autoscaler statistics for the status endpoint
func (a *AutoScaler) Stats() map[string]interface{} {
	a.mu.Lock()
	defer a.mu.Unlock()

	lastUp := make(map[string]string, len(a.lastScaleUp))
	for service, t := range a.lastScaleUp {
		lastUp[service] = t.UTC().Format(time.RFC3339)
	}
	lastDown := make(map[string]string, len(a.lastScaleDown))
	for service, t := range a.lastScaleDown {
		lastDown[service] = t.UTC().Format(time.RFC3339)
	}

	return map[string]interface{}{
		"min_instances":       a.cfg.MinInstances,
		"max_instances":       a.cfg.MaxInstances,
		"cpu_threshold":       a.cfg.CPUThreshold,
		"memory_threshold":    a.cfg.MemoryThreshold,
		"scale_up_cooldown":   a.cfg.ScaleUpCooldown.String(),
		"scale_down_cooldown": a.cfg.ScaleDownCooldown.String(),
		"last_scale_up":       lastUp,
		"last_scale_down":     lastDown,
	}
}
