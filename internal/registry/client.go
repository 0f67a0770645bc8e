package registry

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Njanja2025/control-plane/internal/domain"
	"github.com/Njanja2025/control-plane/pkg/logger"
)

// DefaultHealthCheckPath is used when RegisterService is called with an
// empty health check path
const DefaultHealthCheckPath = "/health"

// ServiceRegistryClient wraps the registration lifecycle for the current
// process: it registers "self" with a registry, emits periodic
// heartbeats, and deregisters on clean shutdown.
type ServiceRegistryClient struct {
	registry  *ServiceRegistry
	interval  time.Duration
	logger    *logger.Logger
	instance  *domain.ServiceInstance
	hostnamer func() (string, error)
}

// NewServiceRegistryClient creates a registry client that heartbeats at
// the given interval
func NewServiceRegistryClient(reg *ServiceRegistry, heartbeatInterval time.Duration, log *logger.Logger) *ServiceRegistryClient {
	return &ServiceRegistryClient{
		registry:  reg,
		interval:  heartbeatInterval,
		logger:    log.RegistryLogger(),
		hostnamer: os.Hostname,
	}
}

// RegisterService builds a ServiceInstance for this process from the
// local hostname and registers it. An empty healthCheckPath defaults to
// /health.
func (c *ServiceRegistryClient) RegisterService(name string, port int, healthCheckPath string, metadata map[string]string) (*domain.ServiceInstance, error) {
	if name == "" {
		return nil, fmt.Errorf("service name cannot be empty")
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", port)
	}
	if healthCheckPath == "" {
		healthCheckPath = DefaultHealthCheckPath
	}

	host, err := c.hostnamer()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve local hostname: %w", err)
	}

	healthCheckURL := fmt.Sprintf("http://%s:%d%s", host, port, healthCheckPath)
	instance := domain.NewServiceInstance(name, host, port, healthCheckURL, metadata)

	c.registry.Register(instance)
	c.instance = instance

	c.logger.WithFields(map[string]interface{}{
		"service":          name,
		"instance_id":      instance.ID,
		"health_check_url": healthCheckURL,
	}).Info("Registered local service instance")

	return instance.Clone(), nil
}

// StartHeartbeat emits a heartbeat for the registered instance every
// interval until the context is cancelled. It blocks and is intended to
// run in its own goroutine.
func (c *ServiceRegistryClient) StartHeartbeat(ctx context.Context) error {
	if c.instance == nil {
		return fmt.Errorf("no service registered")
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	log := c.logger.InstanceLogger(c.instance.Name, c.instance.ID)
	log.Debug("Starting heartbeat loop")

	for {
		select {
		case <-ctx.Done():
			log.Debug("Heartbeat loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if !c.registry.Heartbeat(c.instance.Name, c.instance.ID) {
				// The cleanup loop evicted us; re-register rather than
				// heartbeating into the void.
				log.Warn("Instance no longer registered, re-registering")
				c.registry.Register(c.instance)
			}
		}
	}
}

// DeregisterService removes the instance immediately rather than waiting
// for cleanup-loop eviction. Returns false when nothing was registered.
func (c *ServiceRegistryClient) DeregisterService() bool {
	if c.instance == nil {
		return false
	}

	ok := c.registry.Deregister(c.instance.Name, c.instance.ID)
	if ok {
		c.logger.InstanceLogger(c.instance.Name, c.instance.ID).Info("Deregistered local service instance")
	}
	c.instance = nil
	return ok
}
