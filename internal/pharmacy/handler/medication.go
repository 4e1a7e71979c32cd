package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/medflow/medtrack/internal/pharmacy/domain"
	"github.com/medflow/medtrack/internal/pharmacy/service"
	"github.com/medflow/medtrack/pkg/errors"
	"github.com/medflow/medtrack/pkg/httputil"
	"github.com/medflow/medtrack/pkg/logger"
)

// MedicationHandler handles formulary endpoints
type MedicationHandler struct {
	formulary *service.Formulary
	ledger    *service.Ledger
	allocator *service.Allocator
	logger    *logger.Logger
}

// NewMedicationHandler creates a new medication handler
func NewMedicationHandler(svc *service.Services, log *logger.Logger) *MedicationHandler {
	return &MedicationHandler{
		formulary: svc.Formulary,
		ledger:    svc.Ledger,
		allocator: svc.Allocator,
		logger:    log,
	}
}

// List lists medications with derived stock
func (h *MedicationHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.MedicationFilter{
		Search: q.Get("search"),
		Status: domain.StockStatus(q.Get("status")),
	}
	switch filter.Status {
	case "", domain.StockOut, domain.StockLow, domain.StockGood:
	default:
		httputil.Error(w, errors.Invalid("status", "must be one of: out low good"))
		return
	}
	filter.IncludeInactive, _ = strconv.ParseBool(q.Get("include_inactive"))

	meds, err := h.formulary.ListMedications(r.Context(), filter)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, meds, &httputil.Meta{Total: len(meds)})
}

// Get gets a medication by ID
func (h *MedicationHandler) Get(w http.ResponseWriter, r *http.Request) {
	med, err := h.formulary.GetMedication(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, med)
}

// Create creates a medication
func (h *MedicationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in domain.MedicationInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&in); err != nil {
		httputil.Error(w, err)
		return
	}

	med, err := h.formulary.CreateMedication(r.Context(), in)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, med)
}

// Update replaces a medication's attributes
func (h *MedicationHandler) Update(w http.ResponseWriter, r *http.Request) {
	var in domain.MedicationInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&in); err != nil {
		httputil.Error(w, err)
		return
	}

	med, err := h.formulary.UpdateMedication(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, med)
}

// SetActive retires or reinstates a medication
func (h *MedicationHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IsActive *bool `json:"is_active" validate:"required"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	med, err := h.formulary.SetActive(r.Context(), chi.URLParam(r, "id"), *req.IsActive)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, med)
}

// Stock returns the derived stock of a medication
func (h *MedicationHandler) Stock(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	total, err := h.ledger.TotalStock(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]interface{}{
		"medication_id": id,
		"current_stock": total,
		"as_of":         h.ledger.Today(),
	})
}

// Alternatives lists available alternatives
func (h *MedicationHandler) Alternatives(w http.ResponseWriter, r *http.Request) {
	alts, err := h.formulary.Alternatives(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, alts)
}

// Plan previews the FEFO allocation of ?quantity= units
func (h *MedicationHandler) Plan(w http.ResponseWriter, r *http.Request) {
	qty, err := strconv.Atoi(r.URL.Query().Get("quantity"))
	if err != nil {
		httputil.Error(w, errors.Invalid("quantity", "must be a whole number"))
		return
	}

	plan, err := h.allocator.Plan(r.Context(), chi.URLParam(r, "id"), qty)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, plan)
}
