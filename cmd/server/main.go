package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"mediaguard/internal/platform/config"
	"mediaguard/internal/platform/httpserver"
	"mediaguard/internal/platform/logger"
	"mediaguard/internal/platform/metrics"
	httptransport "mediaguard/internal/transport/http"
	"mediaguard/pkg/platform/middleware/auth"
	"mediaguard/pkg/platform/middleware/device"
)

// main wires high-level dependencies, exposes the HTTP and gRPC health
// servers and runs the background loops. Business logic lives in the
// internal service packages.
func main() {
	configPath := flag.String("config", os.Getenv("MEDIAGUARD_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Server.Environment, cfg.Server.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	handler := httptransport.NewHandler(a.registry, a.validator, a.takedowns, log)
	router := httptransport.NewRouter(handler, httptransport.RouterConfig{
		Tokens:        auth.NewTokenService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, cfg.Auth.Audience),
		Device:        device.NewService(true),
		Metrics:       metrics.New(),
		Ready:         a.ready,
		Logger:        log,
		SubmitTimeout: cfg.SubmitTimeout(),
	})
	srv := httpserver.New(cfg.Server.Addr, router)
	srv.WriteTimeout = max(srv.WriteTimeout, cfg.SubmitTimeout()+time.Second)

	grpcLis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return err
	}

	bg, cancelBg := context.WithCancel(ctx)
	var wg sync.WaitGroup
	spawn := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(bg)
		}()
	}

	a.queue.Start(bg)
	spawn(a.health.Run)
	spawn(func(ctx context.Context) {
		every(ctx, cfg.Takedown.FinalizeInterval, func(ctx context.Context) {
			n, err := a.takedowns.FinalizeExpired(ctx)
			if err != nil {
				log.ErrorContext(ctx, "finalizing expired takedowns failed", "error", err)
			} else if n > 0 {
				log.InfoContext(ctx, "expired takedowns finalized", "count", n)
			}
		})
	})
	spawn(func(ctx context.Context) {
		every(ctx, cfg.Consensus.SweepInterval, func(ctx context.Context) {
			if _, err := a.validator.CloseExpired(ctx); err != nil {
				log.ErrorContext(ctx, "closing expired consensus sessions failed", "error", err)
			}
		})
	})
	if a.monitor != nil {
		spawn(a.monitor.Run)
	}
	if a.ingestor != nil {
		spawn(func(ctx context.Context) {
			if err := a.ingestor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.ErrorContext(ctx, "consensus intake stopped", "error", err)
			}
		})
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("starting mediaguard", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		log.Info("starting grpc health server", "addr", cfg.Server.GRPCAddr)
		if err := a.health.Serve(grpcLis); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err = <-errCh:
		log.Error("server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Error("graceful shutdown failed", "error", shutdownErr)
	}
	a.health.Stop()
	cancelBg()
	a.queue.Stop()
	wg.Wait()
	return err
}

// every runs fn on each tick of interval until ctx is done.
func every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
