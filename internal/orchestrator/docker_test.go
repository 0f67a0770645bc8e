package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

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

func testDockerClient(t *testing.T, endpoint string) *DockerClient {
	t.Helper()
	client, err := NewDockerClient(DockerConfig{
		Endpoint:       endpoint,
		ServiceLabel:   "controlplane.service",
		RequestTimeout: 2 * time.Second,
	}, testLogger(t))
	require.NoError(t, err)
	return client
}

func statsPayload(cpuTotal, cpuPre, sysTotal, sysPre, memUsage, memLimit uint64) string {
	return fmt.Sprintf(`{
		"cpu_stats": {"cpu_usage": {"total_usage": %d}, "system_cpu_usage": %d},
		"precpu_stats": {"cpu_usage": {"total_usage": %d}, "system_cpu_usage": %d},
		"memory_stats": {"usage": %d, "limit": %d}
	}`, cpuTotal, sysTotal, cpuPre, sysPre, memUsage, memLimit)
}

func TestNewDockerClientValidation(t *testing.T) {
	_, err := NewDockerClient(DockerConfig{}, testLogger(t))
	assert.Error(t, err)
}

func TestCPUPercent(t *testing.T) {
	stats := containerStats{}
	stats.CPUStats.CPUUsage.TotalUsage = 400
	stats.CPUStats.SystemCPUUsage = 2000
	stats.PreCPUStats.CPUUsage.TotalUsage = 100
	stats.PreCPUStats.SystemCPUUsage = 1000

	// 300 container cycles out of 1000 system cycles.
	assert.InDelta(t, 30.0, cpuPercent(stats), 0.001)

	// A zero or negative delta yields zero rather than NaN.
	stats.CPUStats.SystemCPUUsage = stats.PreCPUStats.SystemCPUUsage
	assert.Zero(t, cpuPercent(stats))
}

func TestMemoryPercent(t *testing.T) {
	stats := containerStats{}
	stats.MemoryStats.Usage = 256
	stats.MemoryStats.Limit = 1024
	assert.InDelta(t, 25.0, memoryPercent(stats), 0.001)

	stats.MemoryStats.Limit = 0
	assert.Zero(t, memoryPercent(stats))
}

func TestGetServiceMetrics(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/containers/json":
			var filters map[string][]string
			require.NoError(t, json.Unmarshal([]byte(r.URL.Query().Get("filters")), &filters))
			assert.Equal(t, []string{"controlplane.service=api"}, filters["label"])
			fmt.Fprint(w, `[{"Id": "c1", "State": "running"}, {"Id": "c2", "State": "running"}]`)
		case "/containers/c1/stats":
			assert.Equal(t, "false", r.URL.Query().Get("stream"))
			fmt.Fprint(w, statsPayload(400, 100, 2000, 1000, 256, 1024))
		case "/containers/c2/stats":
			fmt.Fprint(w, statsPayload(600, 100, 2000, 1000, 512, 1024))
		default:
			t.Errorf("unexpected request: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := testDockerClient(t, server.URL)
	m, err := client.GetServiceMetrics(context.Background(), "api")
	require.NoError(t, err)

	assert.Equal(t, 2, m.InstanceCount)
	// Container CPU: 30% and 50%, memory: 25% and 50%.
	assert.InDelta(t, 40.0, m.CPUPercent, 0.001)
	assert.InDelta(t, 37.5, m.MemoryPercent, 0.001)
}

func TestGetServiceMetricsNoContainers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	}))
	defer server.Close()

	client := testDockerClient(t, server.URL)
	m, err := client.GetServiceMetrics(context.Background(), "api")
	require.NoError(t, err)
	assert.Zero(t, m.InstanceCount)
	assert.Zero(t, m.CPUPercent)
	assert.Zero(t, m.MemoryPercent)
}

func TestGetServiceMetricsSkipsFailedSamples(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/containers/json":
			fmt.Fprint(w, `[{"Id": "c1"}, {"Id": "c2"}]`)
		case "/containers/c1/stats":
			w.WriteHeader(http.StatusInternalServerError)
		case "/containers/c2/stats":
			fmt.Fprint(w, statsPayload(400, 100, 2000, 1000, 256, 1024))
		}
	}))
	defer server.Close()

	client := testDockerClient(t, server.URL)
	m, err := client.GetServiceMetrics(context.Background(), "api")
	require.NoError(t, err)

	// Instance count reflects all containers; percentages average only
	// over the successful samples.
	assert.Equal(t, 2, m.InstanceCount)
	assert.InDelta(t, 30.0, m.CPUPercent, 0.001)
	assert.InDelta(t, 25.0, m.MemoryPercent, 0.001)
}

func TestGetServiceMetricsListError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"message": "engine exploded"}`)
	}))
	defer server.Close()

	client := testDockerClient(t, server.URL)
	_, err := client.GetServiceMetrics(context.Background(), "api")
	assert.Error(t, err)
}

func TestScaleService(t *testing.T) {
	var updateBody map[string]interface{}
	var updateVersion string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/services" && r.Method == http.MethodGet:
			var filters map[string][]string
			require.NoError(t, json.Unmarshal([]byte(r.URL.Query().Get("filters")), &filters))
			assert.Equal(t, []string{"api"}, filters["name"])
			// Name filters are prefix matches; the engine may return more
			// than one service.
			fmt.Fprint(w, `[
				{"ID": "svc-2", "Version": {"Index": 9}, "Spec": {"Name": "api-gateway"}},
				{"ID": "svc-1", "Version": {"Index": 7}, "Spec": {"Name": "api", "Labels": {"team": "core"}}}
			]`)
		case r.URL.Path == "/services/svc-1/update" && r.Method == http.MethodPost:
			updateVersion = r.URL.Query().Get("version")
			require.NoError(t, json.NewDecoder(r.Body).Decode(&updateBody))
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := testDockerClient(t, server.URL)
	require.NoError(t, client.ScaleService(context.Background(), "api", 4))

	assert.Equal(t, "7", updateVersion)
	assert.Equal(t, "api", updateBody["Name"])
	// Untouched spec fields survive the round trip.
	assert.Equal(t, map[string]interface{}{"team": "core"}, updateBody["Labels"])

	mode := updateBody["Mode"].(map[string]interface{})
	replicated := mode["Replicated"].(map[string]interface{})
	assert.Equal(t, float64(4), replicated["Replicas"])
}

func TestScaleServiceNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"ID": "svc-2", "Version": {"Index": 9}, "Spec": {"Name": "api-gateway"}}]`)
	}))
	defer server.Close()

	client := testDockerClient(t, server.URL)
	err := client.ScaleService(context.Background(), "api", 4)
	assert.Error(t, err)
}

func TestScaleServiceRejectsNegativeReplicas(t *testing.T) {
	client := testDockerClient(t, "http://docker.invalid")
	assert.Error(t, client.ScaleService(context.Background(), "api", -1))
}
