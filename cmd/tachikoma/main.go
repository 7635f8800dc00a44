// Command tachikoma runs the orchestration runtime's HTTP surface: the
// Gateway security pipeline in front of the Planner/Worker-Pool/
// Orchestrator lifecycle.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tachikoma-run/tachikoma/internal/completer"
	"github.com/tachikoma-run/tachikoma/internal/config"
	"github.com/tachikoma-run/tachikoma/internal/events"
	"github.com/tachikoma-run/tachikoma/internal/gateway"
	"github.com/tachikoma-run/tachikoma/internal/gateway/middleware"
	"github.com/tachikoma-run/tachikoma/internal/obs"
	"github.com/tachikoma-run/tachikoma/internal/orchestrator"
	"github.com/tachikoma-run/tachikoma/internal/planner"
	"github.com/tachikoma-run/tachikoma/internal/pool"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		log.Fatalf("tachikoma: invalid configuration: %v", err)
	}

	logger := obs.NewJSONLogger(cfg.ServiceName, cfg.LogLevel, cfg.LogFormat)

	tp, err := obs.NewTracerProvider(context.Background(), cfg.ServiceName, os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if err != nil {
		logger.Warn("tracer provider setup failed, continuing without tracing", map[string]interface{}{"error": err.Error()})
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
	}

	c := newCompleter(cfg.Completer)
	p := planner.New(c, cfg.Delegation.MaxRetries)

	bus := events.New(logger)
	wp := pool.New(pool.Config{
		MaxWorkers: cfg.Delegation.MaxWorkers,
		Strategy:   pool.StrategyLeastLoaded,
		Logger:     logger,
		Bus:        bus,
	})

	orch := orchestrator.New(p, wp, orchestrator.Config{
		RootDir:            cfg.Session.RootDir,
		DefaultWorkerCount: cfg.Delegation.WorkerCount,
		DefaultTimeout:     cfg.Delegation.Timeout,
		MaxWorkers:         cfg.Delegation.MaxWorkers,
		MaxRetries:         cfg.Delegation.MaxRetries,
		BaseDelay:          cfg.Delegation.BaseDelay,
		BackoffFactor:      cfg.Delegation.BackoffFactor,
		MaxDelay:           cfg.Delegation.MaxDelay,
		AllowPartialSuccess: true,
		PollInterval:       cfg.Session.PollInterval,
		Logger:             logger,
		Metrics:            obs.NewMetrics(cfg.ServiceName),
	})

	mwCfg := middleware.Config{
		MaxBodySize: cfg.Gateway.MaxBodySize,
		JWT: middleware.JWTConfig{
			Secret:    cfg.Gateway.JWTSecret,
			Issuer:    cfg.Gateway.JWTIssuer,
			ClockSkew: cfg.Gateway.ClockSkew,
		},
		PublicPaths: publicPathSet(cfg.Gateway.PublicPaths),
		InputFilter: middleware.InputFilterConfig{
			MaxStringLength: cfg.Gateway.MaxInputLength,
			DetectInjection: true,
		},
		OutputFilter: middleware.OutputFilterConfig{
			MaxScanBytes:     int(cfg.Gateway.MaxScanSize),
			MaskOutput:       cfg.Gateway.MaskOutput,
			BlockOnDetection: cfg.Gateway.BlockOnDetection,
		},
		Logger:  logger,
		DevMode: cfg.Development.DevMode,
	}

	gw := gateway.New(orch, wp, mwCfg, gateway.ServiceInfo{
		Service: cfg.ServiceName,
		Version: "dev",
	}, nil, logger)

	if len(cfg.Gateway.AllowedHosts) > 0 {
		gw = gw.WithAllowList(allowListFromHosts(cfg.Gateway.AllowedHosts))
	}

	server := &http.Server{
		Addr:              addrFromPort(cfg.Port),
		Handler:           gw.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("starting http server", map[string]interface{}{
		"port":     cfg.Port,
		"devMode":  cfg.Development.DevMode,
		"provider": cfg.Completer.Provider,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatalf("tachikoma: server failed: %v", err)
	case sig := <-sigCh:
		logger.Info("shutting down", map[string]interface{}{"signal": sig.String()})
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", map[string]interface{}{"error": err.Error()})
	}
	wp.Shutdown()
}

// newCompleter dispatches on Completer.Provider: "mock"
// backs local/dev runs, anything else is treated as an OpenAI-chat-
// completions-shaped HTTP endpoint.
func newCompleter(cfg config.CompleterConfig) completer.Completer {
	switch cfg.Provider {
	case "", "mock":
		return completer.NewMockCompleter()
	default:
		return completer.NewHTTPProvider(cfg.Provider, cfg.APIKey, cfg.BaseURL, cfg.Model)
	}
}

func publicPathSet(paths []string) map[string]bool {
	out := make(map[string]bool, len(paths))
	for _, p := range paths {
		out[p] = true
	}
	return out
}

func allowListFromHosts(hosts []string) []middleware.AllowEntry {
	entries := make([]middleware.AllowEntry, 0, len(hosts)*2)
	for _, h := range hosts {
		entries = append(entries,
			middleware.AllowEntry{Host: h, Method: http.MethodGet, PathPrefix: "/"},
			middleware.AllowEntry{Host: h, Method: http.MethodPost, PathPrefix: "/"},
		)
	}
	return entries
}

func addrFromPort(port int) string {
	if port <= 0 {
		port = 3000
	}
	return fmt.Sprintf(":%d", port)
}
