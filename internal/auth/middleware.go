package auth

import (
	"encoding/json"
	"net/http"
)

// RequireAPIKey guards next with the X-API-Key header. With no keys configured every
// request is rejected.
func (v *APIKeyValidator) RequireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(HeaderAPIKey)
		fields := []interface{}{"path", r.URL.Path, "request_id", RequestID(r.Context()), "client_ip", r.RemoteAddr}

		if !v.ValidateAPIKey(key) {
			v.failureLogger.Warn("Authentication failed: invalid API key", fields...)
			writeAuthError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		if !v.CheckRateLimit(key) {
			v.failureLogger.Warn("Rate limit exceeded", fields...)
			writeAuthError(w, http.StatusTooManyRequests, "rate limit exceeded for API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeAuthError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized", "message": msg})
}
