// Package grpcserver runs the gRPC health service. Each registered check is
// exposed as its own health service name; the empty name reports the whole
// process and is SERVING only when every check passes.
package grpcserver

import (
	"context"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

type Server struct {
	grpc     *grpc.Server
	health   *health.Server
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	checks map[string]Check
}

type Option func(*Server)

func WithInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(opts ...Option) *Server {
	s := &Server{
		grpc:     grpc.NewServer(),
		health:   health.NewServer(),
		interval: 10 * time.Second,
		timeout:  2 * time.Second,
		logger:   slog.New(slog.DiscardHandler),
		checks:   make(map[string]Check),
	}
	for _, opt := range opts {
		opt(s)
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// AddCheck registers a dependency under a health service name.
func (s *Server) AddCheck(service string, check Check) {
	s.mu.Lock()
	s.checks[service] = check
	s.mu.Unlock()
	s.health.SetServingStatus(service, healthpb.HealthCheckResponse_NOT_SERVING)
}

// CheckAll runs every check once and publishes the results.
func (s *Server) CheckAll(ctx context.Context) {
	s.mu.Lock()
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	s.mu.Unlock()
	sort.Strings(names)

	overall := healthpb.HealthCheckResponse_SERVING
	for _, name := range names {
		s.mu.Lock()
		check := s.checks[name]
		s.mu.Unlock()

		cctx, cancel := context.WithTimeout(ctx, s.timeout)
		err := check(cctx)
		cancel()

		status := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			overall = healthpb.HealthCheckResponse_NOT_SERVING
			s.logger.WarnContext(ctx, "health check failed",
				"service", name,
				"error", err,
			)
		}
		s.health.SetServingStatus(name, status)
	}
	s.health.SetServingStatus("", overall)
}

// Run repeats CheckAll until ctx is done.
func (s *Server) Run(ctx context.Context) {
	s.CheckAll(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CheckAll(ctx)
		}
	}
}

// Serve blocks serving gRPC on lis.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Stop marks every service NOT_SERVING and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
