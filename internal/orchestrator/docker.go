// Package orchestrator provides container platform backends for the
// autoscaler. The Docker backend speaks the Docker Engine HTTP API
// directly, over either a unix socket or a TCP endpoint.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Njanja2025/control-plane/internal/domain"
	cperrors "github.com/Njanja2025/control-plane/internal/errors"
	"github.com/Njanja2025/control-plane/pkg/logger"
)

// DockerClient implements domain.Orchestrator against the Docker Engine
// API. Containers belong to a service when they carry the configured
// service label; scaling goes through the Swarm service update endpoint.
type DockerClient struct {
	baseURL      string
	serviceLabel string
	client       *http.Client
	logger       *logger.Logger
}

// DockerConfig contains Docker Engine connection settings
type DockerConfig struct {
	// Endpoint is either unix:///path/to/docker.sock or an http(s) URL
	Endpoint       string
	ServiceLabel   string
	RequestTimeout time.Duration
}

// NewDockerClient creates a Docker orchestrator client
func NewDockerClient(cfg DockerConfig, log *logger.Logger) (*DockerClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("docker endpoint cannot be empty")
	}
	if cfg.ServiceLabel == "" {
		cfg.ServiceLabel = "controlplane.service"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}

	transport := &http.Transport{
		MaxIdleConns:        10,
		IdleConnTimeout:     30 * time.Second,
		MaxIdleConnsPerHost: 4,
	}

	baseURL := cfg.Endpoint
	if socketPath, ok := strings.CutPrefix(cfg.Endpoint, "unix://"); ok {
		transport.DialContext = func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		}
		baseURL = "http://docker"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	return &DockerClient{
		baseURL:      baseURL,
		serviceLabel: cfg.ServiceLabel,
		client: &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: transport,
		},
		logger: log.OrchestratorLogger(),
	}, nil
}

// Engine API payload shapes, limited to the fields the scaler reads.

type containerSummary struct {
	ID     string            `json:"Id"`
	Labels map[string]string `json:"Labels"`
	State  string            `json:"State"`
}

type cpuUsage struct {
	TotalUsage uint64 `json:"total_usage"`
}

type cpuStats struct {
	CPUUsage       cpuUsage `json:"cpu_usage"`
	SystemCPUUsage uint64   `json:"system_cpu_usage"`
}

type memoryStats struct {
	Usage uint64 `json:"usage"`
	Limit uint64 `json:"limit"`
}

type containerStats struct {
	CPUStats    cpuStats    `json:"cpu_stats"`
	PreCPUStats cpuStats    `json:"precpu_stats"`
	MemoryStats memoryStats `json:"memory_stats"`
}

type swarmVersion struct {
	Index uint64 `json:"Index"`
}

type swarmService struct {
	ID      string          `json:"ID"`
	Version swarmVersion    `json:"Version"`
	Spec    json.RawMessage `json:"Spec"`
}

// GetServiceMetrics lists the running containers labelled with the
// service name, samples their stats, and returns the averaged CPU and
// memory percentages. A service with no containers yields zero metrics
// and no error.
func (d *DockerClient) GetServiceMetrics(ctx context.Context, service string) (domain.ServiceMetrics, error) {
	containers, err := d.listContainers(ctx, service)
	if err != nil {
		return domain.ServiceMetrics{}, cperrors.NewOrchestratorError("list_containers", err)
	}
	if len(containers) == 0 {
		return domain.ServiceMetrics{InstanceCount: 0}, nil
	}

	var cpuSum, memSum float64
	sampled := 0
	for _, c := range containers {
		stats, err := d.containerStats(ctx, c.ID)
		if err != nil {
			d.logger.WithField("container_id", c.ID).WithError(err).
				Warn("Failed to sample container stats")
			continue
		}
		cpuSum += cpuPercent(stats)
		memSum += memoryPercent(stats)
		sampled++
	}

	m := domain.ServiceMetrics{InstanceCount: len(containers)}
	if sampled > 0 {
		m.CPUPercent = cpuSum / float64(sampled)
		m.MemoryPercent = memSum / float64(sampled)
	}
	return m, nil
}

// ScaleService resolves the Swarm service by name and updates its
// replicated mode to the requested replica count
func (d *DockerClient) ScaleService(ctx context.Context, service string, replicas int) error {
	if replicas < 0 {
		return fmt.Errorf("replicas cannot be negative: %d", replicas)
	}

	svc, err := d.findService(ctx, service)
	if err != nil {
		return cperrors.NewOrchestratorError("find_service", err)
	}

	var spec map[string]interface{}
	if err := json.Unmarshal(svc.Spec, &spec); err != nil {
		return cperrors.NewOrchestratorError("decode_service_spec", err)
	}
	spec["Mode"] = map[string]interface{}{
		"Replicated": map[string]interface{}{"Replicas": replicas},
	}

	body, err := json.Marshal(spec)
	if err != nil {
		return cperrors.NewOrchestratorError("encode_service_spec", err)
	}

	path := fmt.Sprintf("/services/%s/update?version=%d", svc.ID, svc.Version.Index)
	if err := d.post(ctx, path, body); err != nil {
		return cperrors.NewOrchestratorError("update_service", err)
	}

	d.logger.WithFields(map[string]interface{}{
		"service":  service,
		"replicas": replicas,
	}).Info("Updated service replicas")
	return nil
}

// listContainers returns running containers labelled for the service
func (d *DockerClient) listContainers(ctx context.Context, service string) ([]containerSummary, error) {
	filters := map[string][]string{
		"label": {fmt.Sprintf("%s=%s", d.serviceLabel, service)},
	}
	filterJSON, err := json.Marshal(filters)
	if err != nil {
		return nil, err
	}

	path := "/containers/json?filters=" + url.QueryEscape(string(filterJSON))
	var containers []containerSummary
	if err := d.get(ctx, path, &containers); err != nil {
		return nil, err
	}
	return containers, nil
}

// containerStats fetches a single non-streaming stats sample
func (d *DockerClient) containerStats(ctx context.Context, containerID string) (containerStats, error) {
	var stats containerStats
	path := fmt.Sprintf("/containers/%s/stats?stream=false", containerID)
	if err := d.get(ctx, path, &stats); err != nil {
		return containerStats{}, err
	}
	return stats, nil
}

// findService resolves a Swarm service by exact spec name
func (d *DockerClient) findService(ctx context.Context, service string) (*swarmService, error) {
	filters := map[string][]string{"name": {service}}
	filterJSON, err := json.Marshal(filters)
	if err != nil {
		return nil, err
	}

	var services []swarmService
	if err := d.get(ctx, "/services?filters="+url.QueryEscape(string(filterJSON)), &services); err != nil {
		return nil, err
	}

	// Name filtering is a prefix match on the engine side; require an
	// exact spec name.
	for i := range services {
		var spec struct {
			Name string `json:"Name"`
		}
		if err := json.Unmarshal(services[i].Spec, &spec); err != nil {
			continue
		}
		if spec.Name == service {
			return &services[i], nil
		}
	}
	return nil, fmt.Errorf("service %q not found", service)
}

func (d *DockerClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (d *DockerClient) post(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError(resp)
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return nil
}

func apiError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("engine API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
}

// cpuPercent computes per-container CPU usage from the delta of the
// cumulative counters between the two samples the stats call returns
func cpuPercent(stats containerStats) float64 {
	cpuDelta := float64(stats.CPUStats.CPUUsage.TotalUsage) - float64(stats.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(stats.CPUStats.SystemCPUUsage) - float64(stats.PreCPUStats.SystemCPUUsage)
	if cpuDelta <= 0 || systemDelta <= 0 {
		return 0
	}
	return cpuDelta / systemDelta * 100
}

// memoryPercent computes memory usage against the container limit
func memoryPercent(stats containerStats) float64 {
	if stats.MemoryStats.Limit == 0 {
		return 0
	}
	return float64(stats.MemoryStats.Usage) / float64(stats.MemoryStats.Limit) * 100
}
