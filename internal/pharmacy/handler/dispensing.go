package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/medflow/medtrack/internal/pharmacy/domain"
	"github.com/medflow/medtrack/internal/pharmacy/service"
	"github.com/medflow/medtrack/pkg/actor"
	"github.com/medflow/medtrack/pkg/errors"
	"github.com/medflow/medtrack/pkg/httputil"
	"github.com/medflow/medtrack/pkg/logger"
)

// DispensingHandler handles dispensing log endpoints
type DispensingHandler struct {
	log    *service.DispensingLog
	logger *logger.Logger
}

// NewDispensingHandler creates a new dispensing log handler
func NewDispensingHandler(dlog *service.DispensingLog, log *logger.Logger) *DispensingHandler {
	return &DispensingHandler{
		log:    dlog,
		logger: log,
	}
}

// List lists records by ?range=today|week|month|all and ?search=, paged
// with ?offset= and ?limit=. Meta.Total counts every match.
func (h *DispensingHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rng, ok := domain.ParseDateRange(q.Get("range"))
	if !ok {
		httputil.Error(w, errors.Invalid("range", "must be one of: today week month all"))
		return
	}

	records, err := h.log.List(r.Context(), domain.LogFilter{
		Search:       q.Get("search"),
		Range:        rng,
		MedicationID: q.Get("medication_id"),
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	total := len(records)
	offset := min(httputil.QueryInt(r, "offset", 0), total)
	records = records[offset:]
	if limit := httputil.QueryInt(r, "limit", 0); limit > 0 && limit < len(records) {
		records = records[:limit]
	}

	httputil.JSONWithMeta(w, http.StatusOK, records, &httputil.Meta{Total: total})
}

// Recent lists the caller's undo window
func (h *DispensingHandler) Recent(w http.ResponseWriter, r *http.Request) {
	records, err := h.log.Recent(r.Context(), actor.OrSystem(r.Context()).ID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, records)
}

// Get gets a record by ID
func (h *DispensingHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.log.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, rec)
}

// Update edits the whitelisted fields of a record. Any other field in
// the body is rejected.
func (h *DispensingHandler) Update(w http.ResponseWriter, r *http.Request) {
	var u domain.RecordUpdate
	if err := httputil.DecodeStrict(r, &u); err != nil {
		httputil.Error(w, err)
		return
	}

	rec, err := h.log.Update(r.Context(), chi.URLParam(r, "id"), u)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, rec)
}

// Withdraw undoes a record and restores its stock
func (h *DispensingHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	result, err := h.log.Withdraw(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}
