package balancer

import (
	"context"
	"sync"

	"github.com/Njanja2025/control-plane/internal/domain"
	"github.com/Njanja2025/control-plane/internal/registry"
	"github.com/Njanja2025/control-plane/pkg/logger"
)

// Pool manages one LoadBalancer per service, fed from registry watch
// events. Balancers are created lazily on first use, seeded from the
// registry snapshot, and kept in sync by a watch goroutine plus a health
// monitor goroutine each.
type Pool struct {
	cfg      domain.BalancerConfig
	registry *registry.ServiceRegistry
	logger   *logger.Logger

	mu        sync.Mutex
	balancers map[string]*LoadBalancer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates a balancer pool bound to a registry
func NewPool(ctx context.Context, cfg domain.BalancerConfig, reg *registry.ServiceRegistry, log *logger.Logger) *Pool {
	poolCtx, cancel := context.WithCancel(ctx)
	return &Pool{
		cfg:       cfg,
		registry:  reg,
		logger:    log.BalancerLogger(),
		balancers: make(map[string]*LoadBalancer),
		ctx:       poolCtx,
		cancel:    cancel,
	}
}

// Get returns the balancer for a service, creating and wiring it on
// first use
func (p *Pool) Get(service string) *LoadBalancer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if lb, exists := p.balancers[service]; exists {
		return lb
	}

	lb := NewLoadBalancer(p.cfg, p.logger)
	p.balancers[service] = lb

	// Subscribe before seeding so no register event is missed between
	// the snapshot and the watch.
	events, cancelWatch := p.registry.WatchService(service)
	for _, instance := range p.registry.GetInstances(service) {
		lb.AddInstance(instance.URL())
	}

	p.wg.Add(2)
	go p.followEvents(service, lb, events, cancelWatch)
	go func() {
		defer p.wg.Done()
		lb.MonitorHealth(p.ctx)
	}()

	p.logger.WithField("service", service).Info("Created balancer for service")
	return lb
}

// followEvents applies registry lifecycle events to the balancer until
// the pool is stopped or the watch channel closes
func (p *Pool) followEvents(service string, lb *LoadBalancer, events <-chan domain.Event, cancelWatch func()) {
	defer p.wg.Done()
	defer cancelWatch()

	for {
		select {
		case <-p.ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			switch event.Type {
			case domain.EventRegister:
				lb.AddInstance(event.Instance.URL())
			case domain.EventDeregister:
				lb.RemoveInstance(event.Instance.URL())
			}
		}
	}
}

// Stats returns per-service balancer statistics
func (p *Pool) Stats() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := make(map[string]interface{}, len(p.balancers))
	for service, lb := range p.balancers {
		stats[service] = lb.Stats()
	}
	return stats
}

// Stop cancels the watch and monitor goroutines and waits for them
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()
	p.logger.Info("Balancer pool stopped")
}
