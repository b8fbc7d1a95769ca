// Package auth authenticates operator traffic with API keys, for HTTP and gRPC
package auth

import (
	"context"
	"crypto/subtle"
	"sync"

	"options_ledger/internal/core"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	// MetadataKeyAPIKey is the gRPC metadata key for API key authentication
	MetadataKeyAPIKey = "x-api-key"

	// HeaderAPIKey is the HTTP header carrying the API key
	HeaderAPIKey = "X-API-Key"

	// DefaultRateLimitPerKey is the default number of requests per second allowed per API key
	DefaultRateLimitPerKey = 100
)

// APIKeyValidator validates API keys and rate limits each key independently
type APIKeyValidator struct {
	mu            sync.RWMutex
	validKeys     map[string]struct{}
	limiters      map[string]*rate.Limiter
	rateLimit     int
	logger        core.ILogger
	failureLogger core.ILogger
}

// NewAPIKeyValidator creates a new API key validator with rate limiting
func NewAPIKeyValidator(apiKeys []string, rateLimit int, logger core.ILogger) *APIKeyValidator {
	validKeys := make(map[string]struct{}, len(apiKeys))
	for _, key := range apiKeys {
		if key != "" {
			validKeys[key] = struct{}{}
		}
	}
	if rateLimit <= 0 {
		rateLimit = DefaultRateLimitPerKey
	}

	return &APIKeyValidator{
		validKeys:     validKeys,
		limiters:      make(map[string]*rate.Limiter),
		rateLimit:     rateLimit,
		logger:        logger.WithField("component", "auth"),
		failureLogger: logger.WithField("component", "auth_failure"),
	}
}

// Enabled reports whether any key is configured. With no keys, admin routes are closed.
func (v *APIKeyValidator) Enabled() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.validKeys) > 0
}

// AddAPIKey adds a key, for rotation
func (v *APIKeyValidator) AddAPIKey(apiKey string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.validKeys[apiKey] = struct{}{}
	v.logger.Info("API key added")
}

// RemoveAPIKey removes a key and its limiter
func (v *APIKeyValidator) RemoveAPIKey(apiKey string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.validKeys, apiKey)
	delete(v.limiters, apiKey)
	v.logger.Info("API key removed")
}

// ValidateAPIKey checks apiKey against every configured key in constant time per key
func (v *APIKeyValidator) ValidateAPIKey(apiKey string) bool {
	if apiKey == "" {
		return false
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	match := 0
	for key := range v.validKeys {
		match |= subtle.ConstantTimeCompare([]byte(key), []byte(apiKey))
	}
	return match == 1
}

// CheckRateLimit reports whether apiKey may make another request now
func (v *APIKeyValidator) CheckRateLimit(apiKey string) bool {
	v.mu.Lock()
	limiter, ok := v.limiters[apiKey]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(v.rateLimit), v.rateLimit)
		v.limiters[apiKey] = limiter
	}
	v.mu.Unlock()
	return limiter.Allow()
}

type requestIDKey struct{}

// WithRequestID stores id in ctx, generating one when id is empty
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID extracts the request ID from the context
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return "unknown"
}
