package handlers

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/AutoCookies/pomai-memberttl/internal/engine/common"
	"github.com/AutoCookies/pomai-memberttl/internal/engine/tenants"
	"github.com/AutoCookies/pomai-memberttl/internal/engine/ttl"
)

type memberTTLRequest struct {
	TTL  *int64 `json:"ttl"`
	Unit string `json:"unit"`
}

// HandleSetMemberTTL schedules, overrides, cancels or applies now the
// expiration of one member. Replies {"status": 0|1}.
func (h *HTTPHandlers) HandleSetMemberTTL(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req memberTTLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.TTL == nil {
		writeError(w, http.StatusBadRequest, "ttl is required")
		return
	}
	unit, err := ttl.ParseUnit(req.Unit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	t, err := h.Tenants.Get(tenantFromContext(r.Context()))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	st, err := t.TTL.Expire(vars["key"], vars["member"], *req.TTL, unit)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"status": int(st)})
}

// HandleGetMemberTTL reports the remaining time of an active expiration in
// milliseconds.
func (h *HTTPHandlers) HandleGetMemberTTL(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	t, err := h.Tenants.Get(tenantFromContext(r.Context()))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	remain, ok := t.TTL.TTLRemaining(vars["key"], vars["member"])
	if !ok {
		writeError(w, http.StatusNotFound, "no active expiration")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"ttl_ms": remain.Milliseconds()})
}

// HandleDeleteMemberTTL cancels an expiration. It always succeeds.
func (h *HTTPHandlers) HandleDeleteMemberTTL(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	t, err := h.Tenants.Get(tenantFromContext(r.Context()))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	st, err := t.TTL.Expire(vars["key"], vars["member"], -1, ttl.UnitSeconds)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"status": int(st)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrWrongType):
		return http.StatusConflict
	case errors.Is(err, ttl.ErrClosed), errors.Is(err, tenants.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, common.ErrEmptyKey),
		errors.Is(err, tenants.ErrInvalidTenant),
		errors.Is(err, common.ErrEmptyMember),
		errors.Is(err, ttl.ErrInvalidTTL),
		errors.Is(err, ttl.ErrInvalidUnit):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
