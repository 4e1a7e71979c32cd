package remote

import (
	"context"
	"fmt"

	"github.com/medflow/medtrack/internal/pharmacy/domain"
	"github.com/medflow/medtrack/internal/pharmacy/service"
	"github.com/medflow/medtrack/pkg/errors"
)

var errUnreachable = errors.SyncFailed(fmt.Errorf("pharmacy service unreachable"))

// InProcess is a remote backed directly by pharmacy services, for running
// the reconciler against a local ledger.
type InProcess struct {
	svc  *service.Services
	down bool
}

// NewInProcess wraps svc.
func NewInProcess(svc *service.Services) *InProcess {
	return &InProcess{svc: svc}
}

// SetReachable simulates losing or regaining the connection.
func (p *InProcess) SetReachable(ok bool) {
	p.down = !ok
}

func (p *InProcess) reachable() error {
	if p.down {
		return errUnreachable
	}
	return nil
}

func (p *InProcess) Ping(ctx context.Context) error {
	return p.reachable()
}

func (p *InProcess) SubmitIntent(ctx context.Context, sub domain.IntentSubmission) (*domain.DispenseSummary, error) {
	if err := p.reachable(); err != nil {
		return nil, err
	}
	sub.Request.ClientRef = sub.IntentID
	result, err := p.svc.Allocator.ReconcileIntent(ctx, sub.Request, sub.PreferredLot)
	if err != nil {
		return nil, err
	}
	summary := result.Summary()
	return &summary, nil
}

func (p *InProcess) Medications(ctx context.Context) ([]*domain.Medication, error) {
	if err := p.reachable(); err != nil {
		return nil, err
	}
	return p.svc.Formulary.ListMedications(ctx, domain.MedicationFilter{})
}

func (p *InProcess) Stock(ctx context.Context, medicationID string) (int, error) {
	if err := p.reachable(); err != nil {
		return 0, err
	}
	return p.svc.Ledger.TotalStock(ctx, medicationID)
}
