package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rajasatyajit/EstateHub/internal/ledger"
)

// listLedgerHandler handles GET /v1/admin/ledger
func (h *Handler) listLedgerHandler(w http.ResponseWriter, r *http.Request) {
	f, err := parseLedgerFilter(r)
	if err != nil {
		h.writeErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := h.deps.Ledger.List(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	response := map[string]interface{}{
		"data":      entries,
		"count":     len(entries),
		"timestamp": time.Now().UTC(),
	}
	w.Header().Set("Cache-Control", "no-store")
	h.writeJSONResponse(w, http.StatusOK, response)
}

// getLedgerHandler handles GET /v1/admin/ledger/{ref}
func (h *Handler) getLedgerHandler(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	e, err := h.deps.Ledger.Get(r.Context(), ref)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	h.writeJSONResponse(w, http.StatusOK, e)
}

func parseLedgerFilter(r *http.Request) (ledger.Filter, error) {
	var f ledger.Filter

	switch s := ledger.Status(r.URL.Query().Get("status")); s {
	case "", ledger.StatusPending, ledger.StatusApplied, ledger.StatusRejected:
		f.Status = s
	default:
		return f, fmt.Errorf("invalid status: %s", s)
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return f, fmt.Errorf("invalid limit: %s", limitStr)
		}
		if limit < 1 || limit > 500 {
			return f, fmt.Errorf("limit must be between 1 and 500")
		}
		f.Limit = limit
	}
	return f, nil
}
