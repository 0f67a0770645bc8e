package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// InstanceStatus represents the liveness status of a service instance
type InstanceStatus int

const (
	// StatusUnknown indicates the instance has not been health checked yet
	StatusUnknown InstanceStatus = iota
	// StatusHealthy indicates the instance answered its last health check
	StatusHealthy
	// StatusUnhealthy indicates the instance failed its last health check
	StatusUnhealthy
)

// String returns the string representation of InstanceStatus
func (s InstanceStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// ParseInstanceStatus parses a status string into an InstanceStatus
func ParseInstanceStatus(s string) (InstanceStatus, error) {
	switch s {
	case "unknown", "":
		return StatusUnknown, nil
	case "healthy":
		return StatusHealthy, nil
	case "unhealthy":
		return StatusUnhealthy, nil
	default:
		return StatusUnknown, fmt.Errorf("invalid instance status: %q", s)
	}
}

// MarshalJSON encodes the status as its string form
func (s InstanceStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes the status from its string form
func (s *InstanceStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	status, err := ParseInstanceStatus(str)
	if err != nil {
		return err
	}
	*s = status
	return nil
}

// ServiceInstance describes one running endpoint of a logical service.
// ID is unique within a service name; the registry never holds two
// instances with the same (name, id) pair.
type ServiceInstance struct {
	ID             string            `json:"id" yaml:"id"`
	Name           string            `json:"name" yaml:"name"`
	Host           string            `json:"host" yaml:"host"`
	Port           int               `json:"port" yaml:"port"`
	HealthCheckURL string            `json:"health_check_url" yaml:"health_check_url"`
	Metadata       map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	LastHeartbeat  time.Time         `json:"last_heartbeat" yaml:"last_heartbeat"`
	Status         InstanceStatus    `json:"status" yaml:"status"`
}

// NewServiceInstance creates a ServiceInstance with a derived ID and
// the heartbeat timer started at now
func NewServiceInstance(name, host string, port int, healthCheckURL string, metadata map[string]string) *ServiceInstance {
	return &ServiceInstance{
		ID:             fmt.Sprintf("%s-%s-%d", name, host, port),
		Name:           name,
		Host:           host,
		Port:           port,
		HealthCheckURL: healthCheckURL,
		Metadata:       metadata,
		LastHeartbeat:  time.Now(),
		Status:         StatusUnknown,
	}
}

// Address returns the host:port network location of the instance
func (i *ServiceInstance) Address() string {
	return fmt.Sprintf("%s:%d", i.Host, i.Port)
}

// URL returns the base HTTP URL of the instance
func (i *ServiceInstance) URL() string {
	return fmt.Sprintf("http://%s:%d", i.Host, i.Port)
}

// Clone returns a deep copy of the instance
func (i *ServiceInstance) Clone() *ServiceInstance {
	c := *i
	if i.Metadata != nil {
		c.Metadata = make(map[string]string, len(i.Metadata))
		for k, v := range i.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// EventType identifies the kind of registry lifecycle event
type EventType string

const (
	// EventRegister is published when an instance is registered
	EventRegister EventType = "register"
	// EventDeregister is published when an instance is removed
	EventDeregister EventType = "deregister"
)

// Event is a registry lifecycle notification delivered to watchers
type Event struct {
	Type     EventType       `json:"type"`
	Service  string          `json:"service"`
	Instance ServiceInstance `json:"instance"`
}

// ServiceMetrics holds resource usage for one service, averaged across
// its containers
type ServiceMetrics struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	InstanceCount int     `json:"instance_count"`
}

// RegistryConfig defines configuration for the service registry
type RegistryConfig struct {
	HeartbeatInterval  time.Duration `json:"heartbeat_interval" yaml:"heartbeat_interval"`
	CleanupInterval    time.Duration `json:"cleanup_interval" yaml:"cleanup_interval"`
	InstanceTimeout    time.Duration `json:"instance_timeout" yaml:"instance_timeout"`
	HealthCheckTimeout time.Duration `json:"health_check_timeout" yaml:"health_check_timeout"`
	WatchBufferSize    int           `json:"watch_buffer_size" yaml:"watch_buffer_size"`
}

// BalancerConfig defines configuration for the load balancer
type BalancerConfig struct {
	HealthCheckInterval time.Duration `json:"health_check_interval" yaml:"health_check_interval"`
	HealthCheckTimeout  time.Duration `json:"health_check_timeout" yaml:"health_check_timeout"`
}

// ScalerConfig defines bounds and thresholds for the autoscaler
type ScalerConfig struct {
	MinInstances      int           `json:"min_instances" yaml:"min_instances"`
	MaxInstances      int           `json:"max_instances" yaml:"max_instances"`
	CPUThreshold      float64       `json:"cpu_threshold" yaml:"cpu_threshold"`
	MemoryThreshold   float64       `json:"memory_threshold" yaml:"memory_threshold"`
	ScaleUpCooldown   time.Duration `json:"scale_up_cooldown" yaml:"scale_up_cooldown"`
	ScaleDownCooldown time.Duration `json:"scale_down_cooldown" yaml:"scale_down_cooldown"`
	PollInterval      time.Duration `json:"poll_interval" yaml:"poll_interval"`
}

// Registry defines the interface for the service registry
type Registry interface {
	// Register inserts or overwrites the instance under (name, id)
	Register(instance *ServiceInstance) bool
	// Deregister removes the instance if present
	Deregister(service, instanceID string) bool
	// GetInstances returns a snapshot of all instances for a service
	GetInstances(service string) []*ServiceInstance
	// GetHealthyInstances returns the instances with healthy status
	GetHealthyInstances(service string) []*ServiceInstance
	// Heartbeat refreshes the liveness timer of an instance
	Heartbeat(service, instanceID string) bool
	// WatchService subscribes to lifecycle events for a service; the
	// returned cancel func removes the subscription
	WatchService(service string) (<-chan Event, func())
	// Start launches the background health-check and cleanup loops
	Start(ctx context.Context) error
	// Stop cancels the background loops and waits for them to finish
	Stop()
}

// Balancer defines the interface for health-aware instance rotation
type Balancer interface {
	// AddInstance adds a URL to the rotation
	AddInstance(url string)
	// RemoveInstance removes a URL from the rotation
	RemoveInstance(url string)
	// GetNextInstance returns the next healthy URL, or false when none
	// is available
	GetNextInstance() (string, bool)
	// CheckInstanceHealth probes a URL and updates its health state
	CheckInstanceHealth(ctx context.Context, url string) bool
	// MonitorHealth re-checks every instance periodically until the
	// context is cancelled
	MonitorHealth(ctx context.Context)
}

// Orchestrator abstracts the container platform the autoscaler acts on
type Orchestrator interface {
	// GetServiceMetrics returns resource usage for the containers
	// belonging to a service
	GetServiceMetrics(ctx context.Context, service string) (ServiceMetrics, error)
	// ScaleService sets the desired replica count of a service
	ScaleService(ctx context.Context, service string, replicas int) error
}
