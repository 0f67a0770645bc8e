// Package balancer implements a health-aware round-robin rotation over
// service instance URLs.
package balancer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/Njanja2025/control-plane/internal/domain"
	"github.com/Njanja2025/control-plane/pkg/logger"
)

// LoadBalancer maintains an ordered rotation list of instance URLs and a
// health map, and selects the next healthy URL per request. A URL absent
// from the health map is treated as unhealthy.
type LoadBalancer struct {
	cfg    domain.BalancerConfig
	client *http.Client
	logger *logger.Logger

	mu        sync.Mutex
	instances []string
	health    map[string]bool
	cursor    int
}

// NewLoadBalancer creates an empty load balancer
func NewLoadBalancer(cfg domain.BalancerConfig, log *logger.Logger) *LoadBalancer {
	return &LoadBalancer{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.HealthCheckTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				DisableCompression:  true,
				MaxIdleConnsPerHost: 2,
			},
		},
		logger: log.BalancerLogger(),
		health: make(map[string]bool),
	}
}

// AddInstance adds a URL to the rotation. Adding an already-present URL
// is a no-op; new instances start healthy and are corrected by the next
// health check.
func (lb *LoadBalancer) AddInstance(url string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if _, exists := lb.health[url]; exists {
		return
	}
	lb.instances = append(lb.instances, url)
	lb.health[url] = true

	lb.logger.WithField("url", url).Info("Added instance to rotation")
}

// RemoveInstance removes a URL from the rotation and the health map.
// Removing an unknown URL is a no-op.
func (lb *LoadBalancer) RemoveInstance(url string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if _, exists := lb.health[url]; !exists {
		return
	}
	delete(lb.health, url)
	for i, candidate := range lb.instances {
		if candidate == url {
			lb.instances = append(lb.instances[:i], lb.instances[i+1:]...)
			break
		}
	}

	lb.logger.WithField("url", url).Info("Removed instance from rotation")
}

// GetNextInstance returns the next healthy URL in rotation order. It
// scans at most len(instances) candidates and returns ("", false) when
// none is healthy or the rotation is empty.
func (lb *LoadBalancer) GetNextInstance() (string, bool) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	n := len(lb.instances)
	if n == 0 {
		return "", false
	}

	for i := 0; i < n; i++ {
		url := lb.instances[lb.cursor%n]
		lb.cursor = (lb.cursor + 1) % n
		if lb.health[url] {
			return url, true
		}
	}
	return "", false
}

// SetHealth overrides the health state of a URL. Unknown URLs are
// ignored.
func (lb *LoadBalancer) SetHealth(url string, healthy bool) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if _, exists := lb.health[url]; !exists {
		return
	}
	lb.health[url] = healthy
}

// CheckInstanceHealth probes {url}/health and records the result in the
// health map. HTTP 200 means healthy; any other status or a request
// error, including a timeout, means unhealthy.
func (lb *LoadBalancer) CheckInstanceHealth(ctx context.Context, url string) bool {
	healthy := lb.probe(ctx, url) == nil

	lb.mu.Lock()
	if _, exists := lb.health[url]; exists {
		if lb.health[url] != healthy {
			lb.logger.WithFields(map[string]interface{}{
				"url":     url,
				"healthy": healthy,
			}).Info("Instance health changed")
		}
		lb.health[url] = healthy
	}
	lb.mu.Unlock()

	return healthy
}

func (lb *LoadBalancer) probe(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := lb.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status %d", resp.StatusCode)
	}
	return nil
}

// MonitorHealth re-checks every current instance each interval until the
// context is cancelled. Iteration runs over a snapshot so concurrent
// add/remove is tolerated.
func (lb *LoadBalancer) MonitorHealth(ctx context.Context) {
	ticker := time.NewTicker(lb.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			lb.logger.Debug("Health monitor stopped")
			return
		case <-ticker.C:
			for _, url := range lb.Snapshot() {
				checkCtx, cancel := context.WithTimeout(ctx, lb.cfg.HealthCheckTimeout)
				lb.CheckInstanceHealth(checkCtx, url)
				cancel()
			}
		}
	}
}

// Snapshot returns a copy of the rotation list
func (lb *LoadBalancer) Snapshot() []string {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	snapshot := make([]string, len(lb.instances))
	copy(snapshot, lb.instances)
	return snapshot
}

// Stats returns balancer statistics for the status endpoint
func (lb *LoadBalancer) Stats() map[string]interface{} {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	healthy := 0
	for _, ok := range lb.health {
		if ok {
			healthy++
		}
	}
	return map[string]interface{}{
		"instances":         len(lb.instances),
		"healthy_instances": healthy,
	}
}
