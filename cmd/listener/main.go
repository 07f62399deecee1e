/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */


package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rwa-lending-go/internal/api"
	"rwa-lending-go/internal/common"
	"rwa-lending-go/internal/config"
	"rwa-lending-go/internal/listener"
	"rwa-lending-go/internal/retry"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// runMetricsServer exposes Prometheus metrics and a health probe until ctx is done
func runMetricsServer(ctx context.Context, addr string, lending *api.LendingService) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := lending.HealthCheck(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			zap.L().Warn("Failed to write health response", zap.Error(err))
		}
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Warn("Metrics server shutdown error", zap.Error(err))
		}
	}()

	zap.L().Info("Metrics server started", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		zap.L().Error("Metrics server failed", zap.Error(err))
	}
}

func main() {
	metricsAddr := flag.String("metrics-addr", "", "Optional listen address for /metrics and /healthz (e.g. :9090)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zap.L().Info("Starting settlement reconciler")

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	if *metricsAddr != "" {
		go runMetricsServer(ctx, *metricsAddr, services.Lending)
	}

	reconciler := listener.NewReconciler(listener.ReconcilerConfig{
		Settlement: services.Pipeline,
		Store:      services.DbService,
		Retry: retry.Policy{
			MaxAttempts: cfg.Settlement.RetryMaxAttempts,
			BaseDelay:   cfg.Settlement.RetryBaseDelay,
		},
		PollingInterval: cfg.Settlement.PollingInterval,
		CleanupInterval: cfg.Settlement.CleanupInterval,
	})

	if err := reconciler.Start(ctx); err != nil {
		zap.L().Fatal("Failed to start reconciler", zap.Error(err))
	}

	zap.L().Info("Reconciler running",
		zap.String("portfolio_id", services.DefaultPortfolio.Id),
		zap.Duration("polling_interval", cfg.Settlement.PollingInterval))
	zap.L().Info("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	zap.L().Info("Shutdown signal received, stopping reconciler...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		reconciler.Stop()
		close(done)
	}()

	select {
	case <-done:
		zap.L().Info("Reconciler stopped gracefully")
	case <-shutdownCtx.Done():
		zap.L().Warn("Forced shutdown after timeout")
	}
	cancel()
}
