package service

import (
	"context"

	"github.com/medflow/medtrack/internal/pharmacy/events"
	"github.com/medflow/medtrack/internal/pharmacy/repository"
	"github.com/medflow/medtrack/pkg/clinicdate"
	"github.com/medflow/medtrack/pkg/config"
	"github.com/medflow/medtrack/pkg/logger"
	"github.com/medflow/medtrack/pkg/metrics"
)

// StockCache holds derived stock per medication for one clinic day.
// *cache.StockCache implements it, nil included.
type StockCache interface {
	Get(ctx context.Context, medicationID string, today clinicdate.Date) (int, bool)
	Set(ctx context.Context, medicationID string, today clinicdate.Date, total int)
	Invalidate(ctx context.Context, medicationIDs ...string)
}

type noCache struct{}

func (noCache) Get(context.Context, string, clinicdate.Date) (int, bool) { return 0, false }
func (noCache) Set(context.Context, string, clinicdate.Date, int)        {}
func (noCache) Invalidate(context.Context, ...string)                    {}

// Deps are the collaborators shared by the pharmacy services. Cache,
// Publisher and Metrics may be nil.
type Deps struct {
	Medications repository.MedicationStore
	Lots        repository.LotStore
	Dispensing  repository.DispensingStore
	Clock       *clinicdate.Clock
	Clinic      config.ClinicConfig
	Cache       StockCache
	Publisher   *events.PharmacyEventPublisher
	Metrics     *metrics.Metrics
	Logger      *logger.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = clinicdate.NewClock(d.Clinic.Location())
	}
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	if d.Cache == nil {
		d.Cache = noCache{}
	}
	if d.Clinic.DispenseUnit == "" {
		d.Clinic.DispenseUnit = "tabs"
	}
	if d.Clinic.DefaultDosageForm == "" {
		d.Clinic.DefaultDosageForm = "tablet"
	}
	if d.Clinic.RecentWindow < 1 {
		d.Clinic.RecentWindow = 5
	}
	return d
}

// Services bundles the pharmacy services wired over one set of Deps.
type Services struct {
	Ledger     *Ledger
	Allocator  *Allocator
	Dispensing *DispensingLog
	Formulary  *Formulary
	Importer   *Importer
}

// New wires every service.
func New(d Deps) *Services {
	d = d.withDefaults()
	ledger := NewLedger(d)
	dlog := NewDispensingLog(d, ledger)
	return &Services{
		Ledger:     ledger,
		Allocator:  NewAllocator(d, ledger, dlog),
		Dispensing: dlog,
		Formulary:  NewFormulary(d, ledger),
		Importer:   NewImporter(d, ledger),
	}
}
