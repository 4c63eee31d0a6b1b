package workflow

import (
	"context"
	"time"

	"github.com/wolfman30/patient-comms-platform/internal/compliance"
	"github.com/wolfman30/patient-comms-platform/pkg/logging"
)

// Reconciler sweeps for approved messages whose delivery job never reached
// the queue (enqueue failed after the approval committed) and schedules them
// again. Producer-side dedup keeps replays harmless.
type Reconciler struct {
	engine   *Engine
	audit    *compliance.Store
	logger   *logging.Logger
	interval time.Duration
	minAge   time.Duration
	batch    int
}

func NewReconciler(engine *Engine, audit *compliance.Store, logger *logging.Logger) *Reconciler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Reconciler{
		engine:   engine,
		audit:    audit,
		logger:   logger,
		interval: time.Minute,
		minAge:   5 * time.Minute,
		batch:    50,
	}
}

func (r *Reconciler) WithInterval(d time.Duration) *Reconciler {
	if d > 0 {
		r.interval = d
	}
	return r
}

func (r *Reconciler) WithMinAge(d time.Duration) *Reconciler {
	if d > 0 {
		r.minAge = d
	}
	return r
}

// Run sweeps on the configured interval until ctx is canceled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one reconciliation pass and returns how many entries it
// rescheduled.
func (r *Reconciler) Sweep(ctx context.Context) int {
	stuck, err := r.audit.Query(ctx, nil, compliance.Filter{
		DeliveryStatus: compliance.StatusApproved,
		End:            time.Now().Add(-r.minAge),
		Limit:          r.batch,
	})
	if err != nil {
		r.logger.Error("reconcile query failed", "error", err)
		return 0
	}

	rescheduled := 0
	for i := range stuck {
		entry := &stuck[i]
		if err := r.engine.scheduleDelivery(ctx, entry, entry.FinalMessage); err != nil {
			r.logger.Error("reconcile reschedule failed", "error", err, "entry_id", entry.ID)
			continue
		}
		rescheduled++
	}
	if rescheduled > 0 {
		r.logger.Info("reconciled unqueued approvals", "count", rescheduled)
	}
	return rescheduled
}
