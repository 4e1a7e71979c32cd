package handler

import (
	"github.com/go-chi/chi/v5"
	"github.com/medflow/medtrack/internal/pharmacy/service"
	"github.com/medflow/medtrack/pkg/httputil"
	"github.com/medflow/medtrack/pkg/logger"
	"github.com/medflow/medtrack/pkg/permissions"
)

// Routes mounts the pharmacy API on r. Authentication is applied by the
// caller; reads are open to any authenticated actor and writes are
// checked against the actor's role grants.
func Routes(r chi.Router, svc *service.Services, log *logger.Logger) {
	medicationHandler := NewMedicationHandler(svc, log)
	lotHandler := NewLotHandler(svc.Ledger, log)
	dispenseHandler := NewDispenseHandler(svc.Allocator, log)
	dispensingHandler := NewDispensingHandler(svc.Dispensing, log)
	importHandler := NewImportHandler(svc.Importer, log)

	can := httputil.RequirePermission

	r.Route("/medications", func(r chi.Router) {
		r.Get("/", medicationHandler.List)
		r.With(can(permissions.FormularyWrite)).Post("/", medicationHandler.Create)
		r.Get("/{id}", medicationHandler.Get)
		r.With(can(permissions.FormularyWrite)).Put("/{id}", medicationHandler.Update)
		r.With(can(permissions.FormularyWrite)).Put("/{id}/active", medicationHandler.SetActive)
		r.Get("/{id}/stock", medicationHandler.Stock)
		r.Get("/{id}/alternatives", medicationHandler.Alternatives)
		r.Get("/{id}/plan", medicationHandler.Plan)
		r.Get("/{id}/lots", lotHandler.ListByMedication)
		r.With(can(permissions.LotsWrite)).Post("/{id}/lots", lotHandler.Create)
	})

	r.Route("/lots", func(r chi.Router) {
		r.Get("/{id}", lotHandler.Get)
		r.Get("/{id}/adjustments", lotHandler.Adjustments)
		r.Group(func(r chi.Router) {
			r.Use(can(permissions.LotsWrite))
			r.Delete("/{id}", lotHandler.Delete)
			r.Put("/{id}/quantity", lotHandler.SetQuantity)
			r.Put("/{id}/threshold", lotHandler.SetThreshold)
			r.Post("/{id}/decrement", lotHandler.Decrement)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(can(permissions.DispenseCreate))
		r.Post("/dispense", dispenseHandler.Dispense)
		r.Post("/dispense/manual", dispenseHandler.DispenseManual)
		r.Post("/sync/intents", dispenseHandler.ReconcileIntent)
	})

	r.Route("/dispensing", func(r chi.Router) {
		r.Get("/", dispensingHandler.List)
		r.Get("/recent", dispensingHandler.Recent)
		r.Get("/{id}", dispensingHandler.Get)
		r.With(can(permissions.DispenseEdit)).Patch("/{id}", dispensingHandler.Update)
		r.With(can(permissions.DispenseWithdraw)).Post("/{id}/withdraw", dispensingHandler.Withdraw)
	})

	r.With(can(permissions.ImportRun)).Post("/import", importHandler.Import)
}
