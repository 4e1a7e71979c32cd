// Package sync reconciles dispenses captured offline with the pharmacy
// service. Intents move Queued → Syncing → Applied (removed) or Failed
// (kept for retry).
package sync

import (
	"context"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/medflow/medtrack/internal/pharmacy/domain"
	"github.com/medflow/medtrack/pkg/errors"
	"github.com/medflow/medtrack/pkg/logger"
	"github.com/medflow/medtrack/pkg/metrics"
)

// LocalStore is the device-local cache and intent queue.
type LocalStore interface {
	ReplaceCache(ctx context.Context, meds []*domain.Medication, at time.Time) error
	CachedMedications(ctx context.Context) ([]*domain.Medication, error)
	SetCachedStock(ctx context.Context, id string, stock int, at time.Time) error
	QueueIntent(ctx context.Context, intent *domain.PendingIntent) error
	PendingIntents(ctx context.Context) ([]*domain.PendingIntent, error)
	CountPending(ctx context.Context) (int, error)
	PendingQuantities(ctx context.Context) (map[string]int, error)
	MarkSyncing(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, reason string) error
	RemoveIntent(ctx context.Context, id string) error
	LastSync(ctx context.Context) (time.Time, error)
	SetLastSync(ctx context.Context, at time.Time) error
}

// Remote is the authoritative pharmacy service.
type Remote interface {
	Ping(ctx context.Context) error
	SubmitIntent(ctx context.Context, sub domain.IntentSubmission) (*domain.DispenseSummary, error)
	Medications(ctx context.Context) ([]*domain.Medication, error)
	Stock(ctx context.Context, medicationID string) (int, error)
}

// FlushResult counts what one flush did. Cancelled intents were never
// attempted and remain queued.
type FlushResult struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Remaining int `json:"remaining"`
}

// Status is a snapshot for display.
type Status struct {
	Online            bool      `json:"online"`
	Pending           int       `json:"pending"`
	CachedMedications int       `json:"cached_medications"`
	LastSync          time.Time `json:"last_sync"`
}

// Options configure a Reconciler.
type Options struct {
	// AutoFlush flushes the queue when connectivity comes back.
	AutoFlush bool
	// IntentTimeout bounds one intent's submission.
	IntentTimeout time.Duration
	Now           func() time.Time
	Metrics       *metrics.Metrics
	Logger        *logger.Logger
}

// Reconciler owns the offline queue of one device.
type Reconciler struct {
	local   LocalStore
	remote  Remote
	opts    Options
	logger  *logger.Logger
	metrics *metrics.Metrics

	flushMu stdsync.Mutex

	mu        stdsync.Mutex
	online    bool
	pending   int
	listeners []func(pending int)
}

// NewReconciler creates a reconciler. It starts offline.
func NewReconciler(local LocalStore, remote Remote, opts Options) *Reconciler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.IntentTimeout <= 0 {
		opts.IntentTimeout = 15 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &Reconciler{
		local:   local,
		remote:  remote,
		opts:    opts,
		logger:  opts.Logger.WithComponent("sync"),
		metrics: opts.Metrics,
	}
}

// OnPendingChange registers fn to be called with the new queue length
// whenever it is recomputed.
func (r *Reconciler) OnPendingChange(fn func(pending int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// QueueOfflineDispense captures a dispense while disconnected. The cached
// stock drops by the requested quantity and the intent joins the queue in
// one local transaction.
func (r *Reconciler) QueueOfflineDispense(ctx context.Context, req domain.DispenseRequest) (*domain.PendingIntent, error) {
	return r.queue(ctx, req, "")
}

// QueueOfflineLotDispense is QueueOfflineDispense naming the lot the user
// took the units from. Replay prefers that lot while it still covers the
// quantity.
func (r *Reconciler) QueueOfflineLotDispense(ctx context.Context, req domain.DispenseRequest, lotNumber string) (*domain.PendingIntent, error) {
	return r.queue(ctx, req, lotNumber)
}

func (r *Reconciler) queue(ctx context.Context, req domain.DispenseRequest, lotNumber string) (*domain.PendingIntent, error) {
	if fields := req.Validate(); len(fields) > 0 {
		return nil, errors.Validation(fields)
	}

	now := r.opts.Now()
	if req.DispensedAt.IsZero() {
		req.DispensedAt = now
	}
	intent := &domain.PendingIntent{
		ID:           uuid.New().String(),
		PreferredLot: lotNumber,
		EnqueuedAt:   now,
	}
	req.ClientRef = intent.ID
	intent.Request = req

	if err := r.local.QueueIntent(ctx, intent); err != nil {
		return nil, err
	}
	r.logger.WithIntent(intent.ID).Info().
		Str("medication_id", req.MedicationID).
		Int("quantity", req.Quantity).
		Msg("dispense queued offline")

	r.recount(ctx)
	return intent, nil
}

// FlushQueue submits queued intents one at a time in enqueue order. A
// failed intent stays queued and the flush moves on. Cancelling ctx stops
// before the next intent; the one in flight completes. The error is
// non-nil only when the queue cannot be read.
func (r *Reconciler) FlushQueue(ctx context.Context) (FlushResult, error) {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	bg := context.WithoutCancel(ctx)

	var res FlushResult
	intents, err := r.local.PendingIntents(bg)
	if err != nil {
		return res, err
	}

	for i, intent := range intents {
		if ctx.Err() != nil {
			res.Cancelled = len(intents) - i
			break
		}
		if r.flushOne(bg, intent) {
			res.Processed++
		} else {
			res.Failed++
		}
	}

	res.Remaining = r.queued(bg)

	if res.Processed > 0 {
		if err := r.local.SetLastSync(bg, r.opts.Now()); err != nil {
			r.logger.Warn().Err(err).Msg("failed to record last sync")
		}
		if err := r.RefreshCache(bg); err != nil {
			r.logger.Warn().Err(err).Msg("cache refresh after flush failed")
		}
	}

	r.metrics.ObserveFlush(res.Processed, res.Failed, res.Cancelled, res.Remaining)
	r.logger.Info().
		Int("processed", res.Processed).
		Int("failed", res.Failed).
		Int("cancelled", res.Cancelled).
		Int("remaining", res.Remaining).
		Msg("queue flushed")
	return res, nil
}

// flushOne submits one intent and settles it locally. It reports whether
// the intent left the queue.
func (r *Reconciler) flushOne(ctx context.Context, intent *domain.PendingIntent) bool {
	log := r.logger.WithIntent(intent.ID)

	if err := r.local.MarkSyncing(ctx, intent.ID); err != nil {
		log.Warn().Err(err).Msg("failed to mark intent syncing")
	}

	submitCtx, cancel := context.WithTimeout(ctx, r.opts.IntentTimeout)
	summary, err := r.remote.SubmitIntent(submitCtx, domain.IntentSubmission{
		IntentID:     intent.ID,
		PreferredLot: intent.PreferredLot,
		Request:      intent.Request,
	})
	cancel()

	if err == nil && summary.Outcome == domain.OutcomeFailed {
		err = stepError(summary)
	}
	if err != nil {
		log.Warn().Err(err).Int("attempts", intent.Attempts+1).Msg("intent kept for retry")
		if markErr := r.local.MarkFailed(ctx, intent.ID, err.Error()); markErr != nil {
			log.Error().Err(markErr).Msg("failed to mark intent failed")
		}
		r.recount(ctx)
		return false
	}

	if summary.Outcome == domain.OutcomePartiallyApplied {
		log.Warn().
			Int("requested", summary.Requested).
			Int("dispensed", summary.Dispensed).
			Msg("intent partially applied on the server")
	}
	if err := r.local.RemoveIntent(ctx, intent.ID); err != nil {
		// The server has the dispense; the next flush replays it as a
		// duplicate and removes it then.
		log.Error().Err(err).Msg("failed to remove applied intent")
	}
	r.recount(ctx)
	log.Info().Bool("duplicate", summary.Duplicate).Msg("intent applied")
	return true
}

func stepError(s *domain.DispenseSummary) error {
	if s.AllocationResult != nil {
		for _, step := range s.Steps {
			if step.Error != "" {
				return errors.BadRequest(step.Error)
			}
		}
	}
	return errors.BadRequest("no units were dispensed")
}

// PendingCount recomputes the queue length.
func (r *Reconciler) PendingCount(ctx context.Context) int {
	return r.recount(ctx)
}

// queued reads the queue length without notifying listeners.
func (r *Reconciler) queued(ctx context.Context) int {
	n, err := r.local.CountPending(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("failed to count pending intents")
		r.mu.Lock()
		n = r.pending
		r.mu.Unlock()
	}
	return n
}

// recount refreshes the pending count after a queue mutation and tells
// every listener.
func (r *Reconciler) recount(ctx context.Context) int {
	n, err := r.local.CountPending(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("failed to count pending intents")
		r.mu.Lock()
		n = r.pending
		r.mu.Unlock()
		return n
	}

	r.mu.Lock()
	r.pending = n
	listeners := append([]func(int){}, r.listeners...)
	r.mu.Unlock()

	r.metrics.SetQueueDepth(n)
	for _, fn := range listeners {
		fn(n)
	}
	return n
}

// Online reports the last known connectivity.
func (r *Reconciler) Online() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.online
}

// SetOnline records a connectivity change. Coming back online with
// AutoFlush set flushes the queue and returns the result; otherwise the
// result is nil.
func (r *Reconciler) SetOnline(ctx context.Context, online bool) (*FlushResult, error) {
	r.mu.Lock()
	was := r.online
	r.online = online
	r.mu.Unlock()

	pending := r.recount(ctx)
	if was != online {
		r.logger.Info().Bool("online", online).Int("pending", pending).Msg("connectivity changed")
	}
	if !online || was || !r.opts.AutoFlush {
		return nil, nil
	}

	if pending == 0 {
		return nil, r.RefreshCache(ctx)
	}
	res, err := r.FlushQueue(ctx)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// RefreshCache replaces the local cache with the server's formulary. The
// cached stock of each medication is the server's stock less whatever is
// still queued for it.
func (r *Reconciler) RefreshCache(ctx context.Context) error {
	meds, err := r.remote.Medications(ctx)
	if err != nil {
		return err
	}
	pending, err := r.local.PendingQuantities(ctx)
	if err != nil {
		return err
	}

	for _, med := range meds {
		med.WithStock(med.CurrentStock - pending[med.ID])
	}
	if err := r.local.ReplaceCache(ctx, meds, r.opts.Now()); err != nil {
		return err
	}
	r.logger.Debug().Int("medications", len(meds)).Msg("cache refreshed")
	return nil
}

// ApplyStockNotification refreshes one medication's cached stock after
// the server signalled a change.
func (r *Reconciler) ApplyStockNotification(ctx context.Context, medicationID string) error {
	stock, err := r.remote.Stock(ctx, medicationID)
	if err != nil {
		return err
	}
	pending, err := r.local.PendingQuantities(ctx)
	if err != nil {
		return err
	}
	return r.local.SetCachedStock(ctx, medicationID, stock-pending[medicationID], r.opts.Now())
}

// Status reports connectivity, queue length and cache size.
func (r *Reconciler) Status(ctx context.Context) (*Status, error) {
	meds, err := r.local.CachedMedications(ctx)
	if err != nil {
		return nil, err
	}
	last, err := r.local.LastSync(ctx)
	if err != nil {
		return nil, err
	}
	return &Status{
		Online:            r.Online(),
		Pending:           r.recount(ctx),
		CachedMedications: len(meds),
		LastSync:          last,
	}, nil
}

// Watch pings the server every interval and feeds the result to
// SetOnline until ctx is done.
func (r *Reconciler) Watch(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		r.checkOnline(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Reconciler) checkOnline(ctx context.Context) {
	online := r.remote.Ping(ctx) == nil
	res, err := r.SetOnline(ctx, online)
	if err != nil {
		r.logger.Warn().Err(err).Msg("sync after reconnect failed")
		return
	}
	if res != nil && res.Failed > 0 {
		r.logger.Warn().Int("failed", res.Failed).Msg("some intents could not be applied")
	}
}
