// Package client wraps gRPC clients for the ledger's gRPC surface
package client

import (
	"context"
	"fmt"

	"options_ledger/internal/auth"
	"options_ledger/internal/core"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
)

// HealthClient queries grpc.health.v1.Health on a ledger server
type HealthClient struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	apiKey string
	logger core.ILogger
}

// NewHealthClient creates a client for target. apiKey may be empty.
func NewHealthClient(target, apiKey string, logger core.ILogger) (*HealthClient, error) {
	// TODO: add TLS credentials once the server exposes a TLS listener
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to dial gRPC server at %s: %w", target, err)
	}

	return &HealthClient{
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		apiKey: apiKey,
		logger: logger.WithField("component", "grpc_health_client").WithField("target", target),
	}, nil
}

// Close closes the underlying gRPC connection
func (c *HealthClient) Close() error {
	return c.conn.Close()
}

// Check returns the serving status of service; "" is the aggregate
func (c *HealthClient) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	if c.apiKey != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, auth.MetadataKeyAPIKey, c.apiKey)
	}
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		c.logger.Debug("Health check failed", "service", service, "error", err)
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}
