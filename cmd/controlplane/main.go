package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Njanja2025/control-plane/internal/balancer"
	"github.com/Njanja2025/control-plane/internal/config"
	"github.com/Njanja2025/control-plane/internal/domain"
	"github.com/Njanja2025/control-plane/internal/handler"
	"github.com/Njanja2025/control-plane/internal/metrics"
	"github.com/Njanja2025/control-plane/internal/middleware"
	"github.com/Njanja2025/control-plane/internal/orchestrator"
	"github.com/Njanja2025/control-plane/internal/registry"
	"github.com/Njanja2025/control-plane/internal/scaler"
	"github.com/Njanja2025/control-plane/pkg/logger"
	"golang.org/x/net/http2"
)

const (
	version         = "1.0.0"
	shutdownTimeout = 30 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
		File:   cfg.Logging.File,
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.WithFields(map[string]interface{}{
		"version":        version,
		"port":           cfg.Server.Port,
		"scaler_enabled": cfg.Scaler.Enabled,
	}).Info("Starting control plane")

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Registry with its health-check and cleanup loops
	reg := registry.NewServiceRegistry(cfg.Registry, log, m)
	if err := reg.Start(ctx); err != nil {
		log.WithError(err).Fatal("Failed to start service registry")
	}

	// Per-service balancers fed by registry watch events
	pool := balancer.NewPool(ctx, cfg.Balancer, reg, log)

	// Autoscaler against the container orchestrator
	var (
		sc   *scaler.AutoScaler
		orch domain.Orchestrator
		wg   sync.WaitGroup
	)
	if cfg.Scaler.Enabled {
		docker, err := orchestrator.NewDockerClient(orchestrator.DockerConfig{
			Endpoint:       cfg.Orchestrator.Endpoint,
			ServiceLabel:   cfg.Orchestrator.ServiceLabel,
			RequestTimeout: cfg.Orchestrator.RequestTimeout,
		}, log)
		if err != nil {
			log.WithError(err).Fatal("Failed to create orchestrator client")
		}
		orch = docker

		sc = scaler.NewAutoScaler(cfg.Scaler.Policy, orch, log, m)
		for _, service := range cfg.Scaler.Services {
			wg.Add(1)
			go func(name string) {
				defer wg.Done()
				sc.MonitorAndScale(ctx, name)
			}(service)
		}
	}

	auth, err := middleware.NewJWTAuth(cfg.Auth, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize auth middleware")
	}

	api := handler.NewAPI(reg, pool, sc, orch, m, auth, log, version)
	router := api.Router()

	// Middleware chain, outermost first
	middlewares := []func(http.Handler) http.Handler{
		middleware.RecoveryMiddleware(log),
		middleware.LoggingMiddleware(log),
		middleware.SecurityHeadersMiddleware(),
	}
	if cfg.RateLimit.Enabled {
		rl := middleware.NewRateLimiter(cfg.RateLimit, log)
		middlewares = append(middlewares, rl.Middleware())
		log.Info("Rate limiting enabled")
	}

	var finalHandler http.Handler = router
	for i := len(middlewares) - 1; i >= 0; i-- {
		finalHandler = middlewares[i](finalHandler)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      finalHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.WithField("port", cfg.Server.Port).Info("Starting HTTP server")

		var err error
		if cfg.TLS.Enabled {
			if err := http2.ConfigureServer(server, &http2.Server{}); err != nil {
				log.WithError(err).Fatal("Failed to configure HTTP/2")
			}
			err = server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	log.Info("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Error shutting down HTTP server")
	}

	cancel()
	wg.Wait()
	pool.Stop()
	reg.Stop()

	log.Info("Control plane stopped gracefully")
}
