package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/medflow/medtrack/internal/pharmacy/domain"
	"github.com/medflow/medtrack/internal/pharmacy/service"
	"github.com/medflow/medtrack/pkg/httputil"
	"github.com/medflow/medtrack/pkg/logger"
)

// LotHandler handles inventory lot endpoints
type LotHandler struct {
	ledger *service.Ledger
	logger *logger.Logger
}

// NewLotHandler creates a new lot handler
func NewLotHandler(ledger *service.Ledger, log *logger.Logger) *LotHandler {
	return &LotHandler{
		ledger: ledger,
		logger: log,
	}
}

// ListByMedication lists the lots of a medication, FEFO order
func (h *LotHandler) ListByMedication(w http.ResponseWriter, r *http.Request) {
	lots, err := h.ledger.ListLots(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, lots, &httputil.Meta{Total: len(lots)})
}

// Create receives a new lot
func (h *LotHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in domain.NewLot
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.Error(w, err)
		return
	}
	in.MedicationID = chi.URLParam(r, "id")
	if err := httputil.Validate(&in); err != nil {
		httputil.Error(w, err)
		return
	}

	lot, err := h.ledger.AddLot(r.Context(), in)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, lot)
}

// Get gets a lot by ID
func (h *LotHandler) Get(w http.ResponseWriter, r *http.Request) {
	lot, err := h.ledger.GetLot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lot)
}

// Delete deletes a lot
func (h *LotHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if _, err := h.ledger.DeleteLot(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.NoContent(w)
}

// SetQuantity corrects a lot's quantity
func (h *LotHandler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Quantity *int `json:"quantity" validate:"required,gte=0"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	lot, err := h.ledger.SetLotQuantity(r.Context(), chi.URLParam(r, "id"), *req.Quantity)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lot)
}

// SetThreshold sets a lot's low stock threshold
func (h *LotHandler) SetThreshold(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Threshold *int `json:"low_stock_threshold" validate:"required,gte=0"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	lot, err := h.ledger.SetLowStockThreshold(r.Context(), chi.URLParam(r, "id"), *req.Threshold)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lot)
}

// Decrement removes stock outside of dispensing (breakage, wastage)
func (h *LotHandler) Decrement(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount int `json:"amount" validate:"gte=0"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	removed, err := h.ledger.DecrementLot(r.Context(), chi.URLParam(r, "id"), req.Amount)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// Adjustments lists a lot's audit trail
func (h *LotHandler) Adjustments(w http.ResponseWriter, r *http.Request) {
	adjustments, err := h.ledger.Adjustments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, adjustments)
}
