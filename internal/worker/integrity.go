package worker

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/patient-comms-platform/internal/compliance"
	"github.com/wolfman30/patient-comms-platform/pkg/logging"
)

type finalizedLister interface {
	ListFinalizedSince(ctx context.Context, q compliance.Querier, after time.Time, limit int) ([]compliance.Entry, error)
}

// ViolationAlerter receives integrity violations found by the sweeper.
type ViolationAlerter interface {
	IntegrityViolation(ctx context.Context, auditEntryID uuid.UUID, cause error)
}

// IntegritySweeper periodically re-verifies content hashes of finalized audit
// entries. Mismatches are alerted, never repaired: the stored hash is the
// anchor and a divergence means the record was altered after finalization.
type IntegritySweeper struct {
	store    finalizedLister
	alerter  ViolationAlerter
	logger   *logging.Logger
	interval time.Duration
	batch    int
	cursor   time.Time
}

func NewIntegritySweeper(store finalizedLister, alerter ViolationAlerter, logger *logging.Logger) *IntegritySweeper {
	if store == nil {
		panic("worker: integrity store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &IntegritySweeper{
		store:    store,
		alerter:  alerter,
		logger:   logger,
		interval: time.Hour,
		batch:    500,
	}
}

func (s *IntegritySweeper) WithInterval(d time.Duration) *IntegritySweeper {
	if d > 0 {
		s.interval = d
	}
	return s
}

func (s *IntegritySweeper) WithBatchSize(n int) *IntegritySweeper {
	if n > 0 {
		s.batch = n
	}
	return s
}

// Run sweeps once immediately, then on every tick until ctx is cancelled.
func (s *IntegritySweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep verifies every finalized entry updated since the last sweep. It
// returns the number of violations found.
func (s *IntegritySweeper) Sweep(ctx context.Context) int {
	violations := 0
	for {
		entries, err := s.store.ListFinalizedSince(ctx, nil, s.cursor, s.batch)
		if err != nil {
			s.logger.Error("integrity sweep fetch failed", "error", err)
			return violations
		}
		if len(entries) == 0 {
			return violations
		}
		for i := range entries {
			e := &entries[i]
			if err := compliance.VerifyIntegrity(e); err != nil {
				violations++
				s.logger.Error("audit entry failed integrity check",
					"entry_id", e.ID,
					"patient_id", e.PatientID,
					"error", err,
				)
				if s.alerter != nil {
					s.alerter.IntegrityViolation(ctx, e.ID, err)
				}
			}
			if e.UpdatedAt.After(s.cursor) {
				s.cursor = e.UpdatedAt
			}
		}
		if len(entries) < s.batch {
			return violations
		}
	}
}
