package handler

import (
	"net/http"

	"github.com/medflow/medtrack/internal/pharmacy/domain"
	"github.com/medflow/medtrack/internal/pharmacy/formulary"
	"github.com/medflow/medtrack/internal/pharmacy/service"
	"github.com/medflow/medtrack/pkg/errors"
	"github.com/medflow/medtrack/pkg/httputil"
	"github.com/medflow/medtrack/pkg/logger"
)

// ImportHandler handles bulk formulary import
type ImportHandler struct {
	importer *service.Importer
	logger   *logger.Logger
}

// NewImportHandler creates a new import handler
func NewImportHandler(importer *service.Importer, log *logger.Logger) *ImportHandler {
	return &ImportHandler{
		importer: importer,
		logger:   log,
	}
}

// importRequest carries either classified rows or a raw cell grid as
// pasted from a spreadsheet.
type importRequest struct {
	Rows    []domain.ImportRow   `json:"rows"`
	Cells   [][]string           `json:"cells"`
	Options domain.ImportOptions `json:"options"`
}

// Import reconciles a batch of rows against the formulary
func (h *ImportHandler) Import(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	rows := req.Rows
	if len(req.Cells) > 0 {
		rows = append(rows, formulary.ParseRows(req.Cells)...)
	}
	if len(rows) == 0 {
		httputil.Error(w, errors.BadRequest("no rows to import"))
		return
	}

	result, err := h.importer.Import(r.Context(), rows, req.Options)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}
