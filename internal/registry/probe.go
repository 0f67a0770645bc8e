package registry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Njanja2025/control-plane/internal/domain"
	"github.com/Njanja2025/control-plane/pkg/logger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// protocolMetadataKey selects the probe type for an instance. Instances
// that advertise "grpc" are probed with the gRPC health protocol instead
// of an HTTP GET.
const protocolMetadataKey = "protocol"

// Prober performs liveness probes against registered instances
type Prober struct {
	client  *http.Client
	timeout time.Duration
	logger  *logger.Logger
}

// NewProber creates a prober with a tuned HTTP client
func NewProber(timeout time.Duration, log *logger.Logger) *Prober {
	return &Prober{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				DisableCompression:  true,
				MaxIdleConnsPerHost: 2,
			},
		},
		timeout: timeout,
		logger:  log.RegistryLogger(),
	}
}

// Probe checks the liveness of one instance. A nil return means healthy;
// any error, including a timeout, means unhealthy.
func (p *Prober) Probe(ctx context.Context, instance *domain.ServiceInstance) error {
	if instance.Metadata[protocolMetadataKey] == "grpc" {
		return p.probeGRPC(ctx, instance)
	}
	return p.probeHTTP(ctx, instance)
}

// probeHTTP issues a GET against the instance health check URL;
// HTTP 200 means healthy, any other status or a request error does not
func (p *Prober) probeHTTP(ctx context.Context, instance *domain.ServiceInstance) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, instance.HealthCheckURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	req.Header.Set("User-Agent", "ControlPlane-HealthChecker/1.0")
	req.Header.Set("Accept", "application/json, text/plain, */*")

	resp, err := p.client.Do(req)
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

// probeGRPC checks the instance with the standard gRPC health protocol
func (p *Prober) probeGRPC(ctx context.Context, instance *domain.ServiceInstance) error {
	conn, err := grpc.NewClient(instance.Address(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", instance.Address(), err)
	}
	defer conn.Close()

	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{
		Service: instance.Name,
	})
	if err != nil {
		return fmt.Errorf("grpc health check failed: %w", err)
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		return fmt.Errorf("grpc health status %s", resp.GetStatus())
	}
	return nil
}
