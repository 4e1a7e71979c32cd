package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/medflow/medtrack/internal/pharmacy/domain"
	"github.com/medflow/medtrack/internal/pharmacy/events"
	"github.com/medflow/medtrack/internal/pharmacy/memstore"
	"github.com/medflow/medtrack/internal/pharmacy/service"
	"github.com/medflow/medtrack/pkg/actor"
	"github.com/medflow/medtrack/pkg/clinicdate"
	"github.com/medflow/medtrack/pkg/config"
	"github.com/medflow/medtrack/pkg/logger"
	"github.com/medflow/medtrack/pkg/testutil"
	"github.com/stretchr/testify/require"
)

var testClinic = config.ClinicConfig{
	Timezone:          "America/New_York",
	DefaultSite:       "main",
	RecentWindow:      5,
	LowStockThreshold: 10,
	DefaultDosageForm: "tablet",
	DefaultMinStock:   20,
	DefaultMaxStock:   100,
	DispenseUnit:      "tabs",
}

type fixture struct {
	store  *memstore.Store
	svc    *service.Services
	clock  *clinicdate.Clock
	events *testutil.MockPublisher
}

func newFixture(t *testing.T, today string) *fixture {
	t.Helper()
	loc, err := time.LoadLocation(testClinic.Timezone)
	require.NoError(t, err)

	store := memstore.New()
	clock := clinicdate.Fixed(clinicdate.MustParse(today).Noon(), loc)
	published := testutil.NewMockPublisher()

	svc := service.New(service.Deps{
		Medications: store.Medications(),
		Lots:        store.Lots(),
		Dispensing:  store.Dispensing(),
		Clock:       clock,
		Clinic:      testClinic,
		Publisher:   events.New(published, logger.Nop()),
		Logger:      logger.Nop(),
	})
	return &fixture{store: store, svc: svc, clock: clock, events: published}
}

// advance moves the clinic clock to day.
func (f *fixture) advance(day string) {
	f.clock.Set(clinicdate.MustParse(day).Noon())
}

func staffContext() context.Context {
	return actor.WithActor(context.Background(), &actor.Actor{ID: "staff-1", Name: "Dr. Ada", Role: actor.RoleProvider})
}

func (f *fixture) medication(t *testing.T, name string, minStock int) *domain.Medication {
	t.Helper()
	med, err := f.svc.Formulary.CreateMedication(context.Background(), domain.MedicationInput{
		Name:     name,
		Strength: "500 mg",
		MinStock: minStock,
	})
	require.NoError(t, err)
	return med
}

func (f *fixture) lot(t *testing.T, medicationID, number, expiration string, qty int) *domain.InventoryLot {
	t.Helper()
	lot, err := f.svc.Ledger.AddLot(context.Background(), domain.NewLot{
		MedicationID:   medicationID,
		LotNumber:      number,
		ExpirationDate: expiration,
		Quantity:       qty,
	})
	require.NoError(t, err)
	return lot
}

func (f *fixture) quantity(t *testing.T, lotID string) int {
	t.Helper()
	lot, err := f.svc.Ledger.GetLot(context.Background(), lotID)
	require.NoError(t, err)
	return lot.Quantity
}

// assertStockInvariant checks derived stock against a direct lot sum.
func (f *fixture) assertStockInvariant(t *testing.T, medicationID string) {
	t.Helper()
	ctx := context.Background()
	lots, err := f.svc.Ledger.ListLots(ctx, medicationID)
	require.NoError(t, err)
	want := 0
	for _, l := range lots {
		if !l.IsExpired {
			want += l.Quantity
		}
	}
	got, err := f.svc.Ledger.TotalStock(ctx, medicationID)
	require.NoError(t, err)
	require.Equal(t, want, got, "derived stock must equal the sum of non-expired lots")
}

func dispenseRequest(medicationID string, qty int) domain.DispenseRequest {
	return domain.DispenseRequest{
		MedicationID:  medicationID,
		Quantity:      qty,
		PatientID:     "john-doe",
		Dose:          "1 tab PO BID",
		Indication:    "infection",
		PhysicianName: "Dr. Ada",
	}
}
