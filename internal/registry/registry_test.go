package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Njanja2025/control-plane/internal/domain"
	"github.com/Njanja2025/control-plane/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{
		Level:  "error",
		Format: "json",
		Output: "stderr",
	})
	require.NoError(t, err)
	return log
}

func testRegistryConfig() domain.RegistryConfig {
	return domain.RegistryConfig{
		HeartbeatInterval:  20 * time.Millisecond,
		CleanupInterval:    20 * time.Millisecond,
		InstanceTimeout:    90 * time.Second,
		HealthCheckTimeout: 2 * time.Second,
		WatchBufferSize:    16,
	}
}

func testInstance(name, host string, port int) *domain.ServiceInstance {
	return domain.NewServiceInstance(name, host, port, "http://"+host+"/health", nil)
}

func TestRegisterVisibility(t *testing.T) {
	reg := NewServiceRegistry(testRegistryConfig(), testLogger(t), nil)

	instance := testInstance("api", "host-1", 8080)
	assert.True(t, reg.Register(instance))

	instances := reg.GetInstances("api")
	require.Len(t, instances, 1)
	assert.Equal(t, instance.ID, instances[0].ID)

	assert.True(t, reg.Deregister("api", instance.ID))
	assert.Empty(t, reg.GetInstances("api"))
}

func TestRegisterIsIdempotentUpsert(t *testing.T) {
	reg := NewServiceRegistry(testRegistryConfig(), testLogger(t), nil)

	instance := testInstance("api", "host-1", 8080)
	assert.True(t, reg.Register(instance))

	updated := instance.Clone()
	updated.Metadata = map[string]string{"version": "2"}
	assert.True(t, reg.Register(updated))

	instances := reg.GetInstances("api")
	require.Len(t, instances, 1)
	assert.Equal(t, "2", instances[0].Metadata["version"])
}

func TestDeregisterRemovesEmptyPartition(t *testing.T) {
	reg := NewServiceRegistry(testRegistryConfig(), testLogger(t), nil)

	instance := testInstance("api", "host-1", 8080)
	reg.Register(instance)
	require.Equal(t, []string{"api"}, reg.ServiceNames())

	assert.True(t, reg.Deregister("api", instance.ID))
	assert.Empty(t, reg.ServiceNames())

	// A second deregister finds nothing.
	assert.False(t, reg.Deregister("api", instance.ID))
}

func TestHeartbeatMonotonicity(t *testing.T) {
	reg := NewServiceRegistry(testRegistryConfig(), testLogger(t), nil)

	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return clock }

	instance := testInstance("api", "host-1", 8080)
	instance.LastHeartbeat = clock
	reg.Register(instance)

	clock = clock.Add(time.Second)
	require.True(t, reg.Heartbeat("api", instance.ID))
	first := reg.GetInstances("api")[0].LastHeartbeat

	clock = clock.Add(time.Second)
	require.True(t, reg.Heartbeat("api", instance.ID))
	second := reg.GetInstances("api")[0].LastHeartbeat

	assert.True(t, second.After(first))
	assert.False(t, reg.Heartbeat("api", "missing-id"))
}

func TestStaleEviction(t *testing.T) {
	reg := NewServiceRegistry(testRegistryConfig(), testLogger(t), nil)

	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return clock }

	stale := testInstance("api", "host-1", 8080)
	fresh := testInstance("api", "host-2", 8080)
	stale.LastHeartbeat = clock
	fresh.LastHeartbeat = clock
	reg.Register(stale)
	reg.Register(fresh)

	events, cancel := reg.WatchService("api")
	defer cancel()

	// Only the fresh instance keeps heartbeating past the timeout.
	clock = clock.Add(91 * time.Second)
	require.True(t, reg.Heartbeat("api", fresh.ID))
	reg.evictStaleInstances()

	instances := reg.GetInstances("api")
	require.Len(t, instances, 1)
	assert.Equal(t, fresh.ID, instances[0].ID)

	// Exactly one deregister event is delivered for the evicted instance.
	select {
	case event := <-events:
		assert.Equal(t, domain.EventDeregister, event.Type)
		assert.Equal(t, "api", event.Service)
		assert.Equal(t, stale.ID, event.Instance.ID)
	case <-time.After(time.Second):
		t.Fatal("expected a deregister event")
	}
	select {
	case event := <-events:
		t.Fatalf("unexpected extra event: %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHealthFiltering(t *testing.T) {
	var failing atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	reg := NewServiceRegistry(testRegistryConfig(), testLogger(t), nil)

	instance := testInstance("api", "host-1", 8080)
	instance.HealthCheckURL = server.URL + "/health"
	reg.Register(instance)

	// Unknown status is excluded from the healthy subset.
	assert.Empty(t, reg.GetHealthyInstances("api"))

	reg.checkAllInstances(context.Background())
	healthy := reg.GetHealthyInstances("api")
	require.Len(t, healthy, 1)
	assert.Equal(t, domain.StatusHealthy, healthy[0].Status)

	// A failing endpoint flips the instance out of the subset within one
	// check cycle, without removing it from the registry.
	failing.Store(true)
	reg.checkAllInstances(context.Background())
	assert.Empty(t, reg.GetHealthyInstances("api"))
	require.Len(t, reg.GetInstances("api"), 1)
	assert.Equal(t, domain.StatusUnhealthy, reg.GetInstances("api")[0].Status)
}

func TestHealthCheckLoopUpdatesStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	reg := NewServiceRegistry(testRegistryConfig(), testLogger(t), nil)

	instance := testInstance("api", "host-1", 8080)
	instance.HealthCheckURL = server.URL + "/health"
	reg.Register(instance)

	require.NoError(t, reg.Start(context.Background()))
	defer reg.Stop()

	assert.Eventually(t, func() bool {
		return len(reg.GetHealthyInstances("api")) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatchDeliversEventsInOrder(t *testing.T) {
	reg := NewServiceRegistry(testRegistryConfig(), testLogger(t), nil)

	events, cancel := reg.WatchService("api")
	defer cancel()

	instance := testInstance("api", "host-1", 8080)
	reg.Register(instance)
	reg.Deregister("api", instance.ID)

	first := <-events
	second := <-events
	assert.Equal(t, domain.EventRegister, first.Type)
	assert.Equal(t, domain.EventDeregister, second.Type)
	assert.Equal(t, instance.ID, first.Instance.ID)
}

func TestWatchCancelRemovesSubscription(t *testing.T) {
	reg := NewServiceRegistry(testRegistryConfig(), testLogger(t), nil)

	events, cancel := reg.WatchService("api")
	cancel()

	// The channel is closed and later events are not delivered.
	_, open := <-events
	assert.False(t, open)

	reg.Register(testInstance("api", "host-1", 8080))

	// Cancel is safe to call again.
	cancel()

	stats := reg.Stats()
	assert.Equal(t, 0, stats["watchers"])
}

func TestStartStopLifecycle(t *testing.T) {
	reg := NewServiceRegistry(testRegistryConfig(), testLogger(t), nil)

	require.NoError(t, reg.Start(context.Background()))
	assert.Error(t, reg.Start(context.Background()))

	reg.Stop()
	// Stop is idempotent.
	reg.Stop()

	// The registry can be restarted after a stop.
	require.NoError(t, reg.Start(context.Background()))
	reg.Stop()
}

func TestGetInstancesReturnsSnapshots(t *testing.T) {
	reg := NewServiceRegistry(testRegistryConfig(), testLogger(t), nil)

	reg.Register(testInstance("api", "host-1", 8080))

	snapshot := reg.GetInstances("api")
	snapshot[0].Status = domain.StatusUnhealthy

	assert.Equal(t, domain.StatusUnknown, reg.GetInstances("api")[0].Status)
}
