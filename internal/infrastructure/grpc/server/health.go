// Package server exposes the standard gRPC health service backed by the health manager
package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"options_ledger/internal/auth"
	"options_ledger/internal/core"
	"options_ledger/internal/infrastructure/health"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported for the ledger as a whole
const ServiceName = "options_ledger.Ledger"

// HealthService serves grpc.health.v1.Health and keeps it in sync with a HealthManager
type HealthService struct {
	port     int
	interval time.Duration
	hm       *health.HealthManager
	health   *grpchealth.Server
	srv      *grpc.Server
	logger   core.ILogger
}

// NewHealthService builds the gRPC server. validator may be nil to disable API key checks.
func NewHealthService(port int, hm *health.HealthManager, validator *auth.APIKeyValidator, interval time.Duration, logger core.ILogger) *HealthService {
	if interval <= 0 {
		interval = 5 * time.Second
	}

	var opts []grpc.ServerOption
	if validator != nil && validator.Enabled() {
		opts = append(opts,
			grpc.UnaryInterceptor(validator.UnaryServerInterceptor()),
			grpc.StreamInterceptor(validator.StreamServerInterceptor()),
		)
	}

	srv := grpc.NewServer(opts...)
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &HealthService{
		port:     port,
		interval: interval,
		hm:       hm,
		health:   hs,
		srv:      srv,
		logger:   logger.WithField("component", "grpc_health"),
	}
}

// Sync pushes the current component checks into the gRPC health server.
// The empty service name reflects the aggregate.
func (s *HealthService) Sync() {
	overall := healthpb.HealthCheckResponse_SERVING
	for _, component := range s.hm.Components() {
		st := healthpb.HealthCheckResponse_SERVING
		if ok, _ := s.hm.CheckComponent(component); !ok {
			st = healthpb.HealthCheckResponse_NOT_SERVING
			overall = st
		}
		s.health.SetServingStatus(component, st)
	}
	s.health.SetServingStatus("", overall)
	s.health.SetServingStatus(ServiceName, overall)
}

// Run listens on the configured port until ctx is done
func (s *HealthService) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.Serve(ctx, lis)
}

// Serve runs on lis until ctx is done
func (s *HealthService) Serve(ctx context.Context, lis net.Listener) error {
	s.Sync()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting gRPC health server", "addr", lis.Addr().String())
		errCh <- s.srv.Serve(lis)
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			s.srv.GracefulStop()
			s.logger.Info("gRPC health server stopped")
			return nil
		case err := <-errCh:
			return fmt.Errorf("grpc serve: %w", err)
		case <-ticker.C:
			s.Sync()
		}
	}
}
