package handler

import (
	"net/http"
	"strings"

	"github.com/medflow/medtrack/internal/pharmacy/domain"
	"github.com/medflow/medtrack/internal/pharmacy/service"
	"github.com/medflow/medtrack/pkg/errors"
	"github.com/medflow/medtrack/pkg/httputil"
	"github.com/medflow/medtrack/pkg/logger"
)

// DispenseHandler handles allocation endpoints
type DispenseHandler struct {
	allocator *service.Allocator
	logger    *logger.Logger
}

// NewDispenseHandler creates a new dispense handler
func NewDispenseHandler(allocator *service.Allocator, log *logger.Logger) *DispenseHandler {
	return &DispenseHandler{
		allocator: allocator,
		logger:    log,
	}
}

// manualDispenseRequest is a dispense request with explicit lot choices.
// The total quantity is the sum of the selections.
type manualDispenseRequest struct {
	domain.DispenseRequest
	Lots []domain.LotSelection `json:"lots"`
}

// Dispense allocates FEFO
func (h *DispenseHandler) Dispense(w http.ResponseWriter, r *http.Request) {
	var req domain.DispenseRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	result, err := h.allocator.Dispense(r.Context(), req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	writeResult(w, result)
}

// DispenseManual applies user-chosen lots
func (h *DispenseHandler) DispenseManual(w http.ResponseWriter, r *http.Request) {
	var req manualDispenseRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	result, err := h.allocator.DispenseFromLots(r.Context(), req.DispenseRequest, req.Lots)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	writeResult(w, result)
}

// ReconcileIntent replays one dispense captured offline by a sync agent
func (h *DispenseHandler) ReconcileIntent(w http.ResponseWriter, r *http.Request) {
	var sub domain.IntentSubmission
	if err := httputil.DecodeJSON(r, &sub); err != nil {
		httputil.Error(w, err)
		return
	}
	sub.IntentID = strings.TrimSpace(sub.IntentID)
	if sub.IntentID == "" {
		httputil.Error(w, errors.Invalid("intent_id", "is required"))
		return
	}
	sub.Request.ClientRef = sub.IntentID

	result, err := h.allocator.ReconcileIntent(r.Context(), sub.Request, sub.PreferredLot)
	if err != nil {
		h.logger.Info().Err(err).Str("intent_id", sub.IntentID).Msg("offline intent rejected")
		httputil.Error(w, err)
		return
	}

	writeResult(w, result)
}

// writeResult maps the allocation outcome onto the status code: 201 when
// every step applied, 200 for a replay of an already-applied request,
// 207 when some units were dispensed but not cleanly, 409 when nothing was.
func writeResult(w http.ResponseWriter, result *domain.AllocationResult) {
	status := http.StatusCreated
	switch {
	case result.Duplicate:
		status = http.StatusOK
	case result.Outcome() == domain.OutcomePartiallyApplied:
		status = http.StatusMultiStatus
	case result.Outcome() == domain.OutcomeFailed:
		status = http.StatusConflict
	}
	httputil.JSON(w, status, result.Summary())
}
