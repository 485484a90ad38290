package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/AutoCookies/pomai-memberttl/internal/engine/tenants"
)

// HandleHealth checks server health
func (h *HTTPHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"tenants":   len(h.Tenants.ListTenants()),
	})
}

// HandleStats returns store and expiration statistics. ?tenant=id narrows
// the answer to one tenant. Concurrent full scans share one result.
func (h *HTTPHandlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	if id := r.URL.Query().Get("tenant"); id != "" {
		st, ok := h.Tenants.StatsAll()[id]
		if !ok {
			writeError(w, http.StatusNotFound, "tenant not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tenant": id, "stats": st})
		return
	}

	v, _, err := h.Coalesce.Do(r.Context(), "stats-all", func(_ context.Context) (any, error) {
		return h.Tenants.StatsAll(), nil
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	statsMap := v.(map[string]tenants.Stats)
	writeJSON(w, http.StatusOK, map[string]any{
		"total_tenants": len(statsMap),
		"per_tenant":    statsMap,
	})
}
