package auth

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

func peerAddr(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok {
		return p.Addr.String()
	}
	return "unknown"
}

// authorize runs the key and rate checks shared by the unary and stream interceptors
func (v *APIKeyValidator) authorize(ctx context.Context, method string) error {
	fields := []interface{}{"method", method, "request_id", RequestID(ctx), "client_ip", peerAddr(ctx)}

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		v.failureLogger.Warn("Authentication failed: missing metadata", fields...)
		return status.Error(codes.Unauthenticated, "missing metadata")
	}

	keys := md.Get(MetadataKeyAPIKey)
	if len(keys) == 0 {
		v.failureLogger.Warn("Authentication failed: missing API key", fields...)
		return status.Error(codes.Unauthenticated, "missing API key")
	}

	if !v.ValidateAPIKey(keys[0]) {
		v.failureLogger.Warn("Authentication failed: invalid API key", fields...)
		return status.Error(codes.Unauthenticated, "invalid API key")
	}

	if !v.CheckRateLimit(keys[0]) {
		v.failureLogger.Warn("Rate limit exceeded", fields...)
		return status.Error(codes.ResourceExhausted, "rate limit exceeded for API key")
	}
	return nil
}

// UnaryServerInterceptor returns a gRPC unary interceptor for API key authentication
func (v *APIKeyValidator) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		ctx = WithRequestID(ctx, "")
		if err := v.authorize(ctx, info.FullMethod); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor returns a gRPC stream interceptor for API key authentication.
// The rate limit applies to stream initiation only.
func (v *APIKeyValidator) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := WithRequestID(ss.Context(), "")
		if err := v.authorize(ctx, info.FullMethod); err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

// wrappedServerStream wraps grpc.ServerStream to allow context replacement
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
