package handlers

import (
	"context"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/AutoCookies/pomai-memberttl/internal/engine/concurrency"
	"github.com/AutoCookies/pomai-memberttl/internal/engine/tenants"
)

// HTTPHandlers holds what the request handlers need.
type HTTPHandlers struct {
	Tenants  *tenants.Manager
	Coalesce *concurrency.Manager
}

func NewHTTPHandlers(tm *tenants.Manager) *HTTPHandlers {
	return &HTTPHandlers{
		Tenants:  tm,
		Coalesce: concurrency.NewManager(),
	}
}

type tenantKey struct{}

// WithTenant stores the tenant id the middleware resolved.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

func tenantFromContext(ctx context.Context) string {
	if t, ok := ctx.Value(tenantKey{}).(string); ok && t != "" {
		return t
	}
	return "default"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
