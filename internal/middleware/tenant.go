package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/haxaco/payos-sub010/internal/apierr"
	"github.com/haxaco/payos-sub010/internal/envelope"
)

type tenantKey struct{}

// WithTenant injects a tenant id into the context.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// TenantFrom extracts the tenant id; empty means unauthenticated.
func TenantFrom(ctx context.Context) string {
	id, _ := ctx.Value(tenantKey{}).(string)
	return id
}

// Tenant ensures every request carries a tenant context before any handler
// runs. API keys ("payos_<tenant>_<secret>") are authoritative; the
// X-Tenant-ID header is the trusted-gateway fallback.
func Tenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var tenantID string

		authHeader := r.Header.Get("Authorization")
		if strings.HasPrefix(authHeader, "Bearer payos_") {
			key := strings.TrimPrefix(authHeader, "Bearer payos_")
			parts := strings.SplitN(key, "_", 2)
			if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
				writeAuthError(w, r, apierr.New(apierr.CodeInvalidAPIKey, "API key is malformed"))
				return
			}
			tenantID = parts[0]
		}

		if tenantID == "" {
			tenantID = r.Header.Get("X-Tenant-ID")
		}
		if tenantID == "" {
			writeAuthError(w, r, apierr.New(apierr.CodeMissingTenant, "tenant context required: API key or X-Tenant-ID"))
			return
		}

		next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), tenantID)))
	})
}

// writeAuthError emits the standard error envelope from middleware, where no
// envelope.Writer wrapping has happened yet.
func writeAuthError(w http.ResponseWriter, r *http.Request, e *apierr.Error) {
	env := envelope.BuildError(e, envelope.RequestID(r), time.Now())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPStatus())
	json.NewEncoder(w).Encode(env)
}
