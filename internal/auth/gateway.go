// Package auth trusts identity headers set by an authenticating gateway
// (Envoy, NGINX) in front of the service and binds them to the request
// context.
package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

type contextKey string

const (
	tenantIDKey contextKey = "tenant_id"
	userIDKey   contextKey = "user_id"
	scopesKey   contextKey = "scopes"
)

// Scopes checked by the bias API.
const (
	ScopeAnalyze = "bias:analyze"
	ScopeRead    = "bias:read"
)

// Config holds gateway header configuration.
type Config struct {
	Enabled         bool
	RequireVerified bool   // require VerifiedHeader == "true"
	TenantIDHeader  string // default "X-Tenant-ID"
	UserIDHeader    string // default "X-User-ID"
	ScopesHeader    string // default "X-Scopes"
	VerifiedHeader  string // default "X-Auth-Verified"
	// Public paths skip authentication entirely.
	Public []string
}

// DefaultConfig returns production defaults.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		RequireVerified: true,
		TenantIDHeader:  "X-Tenant-ID",
		UserIDHeader:    "X-User-ID",
		ScopesHeader:    "X-Scopes",
		VerifiedHeader:  "X-Auth-Verified",
		Public:          []string{"/health", "/metrics"},
	}
}

// Middleware validates gateway headers and stores tenant, user and scopes
// in the request context.
func Middleware(config *Config) func(http.Handler) http.Handler {
	if config == nil {
		config = DefaultConfig()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !config.Enabled || isPublic(config.Public, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			if config.RequireVerified && r.Header.Get(config.VerifiedHeader) != "true" {
				sendError(w, http.StatusUnauthorized, "gateway verification required")
				return
			}

			tenantID := r.Header.Get(config.TenantIDHeader)
			if tenantID == "" {
				sendError(w, http.StatusUnauthorized, "missing tenant id")
				return
			}

			ctx := context.WithValue(r.Context(), tenantIDKey, tenantID)
			if userID := r.Header.Get(config.UserIDHeader); userID != "" {
				ctx = context.WithValue(ctx, userIDKey, userID)
			}
			if scopes := parseScopes(r.Header.Get(config.ScopesHeader)); len(scopes) > 0 {
				ctx = context.WithValue(ctx, scopesKey, scopes)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope rejects requests whose context lacks scope. Requests that
// never passed through Middleware (auth disabled) are let through.
func RequireScope(scope string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := TenantID(r.Context()); ok && !HasScope(r.Context(), scope) {
			sendError(w, http.StatusForbidden, "missing scope "+scope)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// parseScopes accepts a JSON array or a comma-separated list.
func parseScopes(raw string) []string {
	if raw == "" {
		return nil
	}
	var scopes []string
	if err := json.Unmarshal([]byte(raw), &scopes); err == nil {
		return scopes
	}
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			scopes = append(scopes, s)
		}
	}
	return scopes
}

func isPublic(public []string, path string) bool {
	for _, p := range public {
		if p == path {
			return true
		}
	}
	return false
}

// TenantID returns the tenant bound by Middleware.
func TenantID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(tenantIDKey).(string)
	return id, ok
}

// UserID returns the user bound by Middleware.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok
}

// HasScope reports whether the request carries scope.
func HasScope(ctx context.Context, scope string) bool {
	scopes, _ := ctx.Value(scopesKey).([]string)
	for _, s := range scopes {
		if s == scope {
			return true
		}
	}
	return false
}

func sendError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
