// Package cleanup ages out stored data per retention policy. Audit entries
// are archived, never deleted; queue entries are archived or deleted by
// terminal status; temp files are removed outright.
package cleanup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/patient-comms-platform/internal/compliance"
	"github.com/wolfman30/patient-comms-platform/internal/queue"
	"github.com/wolfman30/patient-comms-platform/pkg/logging"
)

// Default retention windows.
const (
	RetentionAuditLogs    = 365 * 24 * time.Hour
	RetentionMessageQueue = 30 * 24 * time.Hour
	RetentionTempFiles    = 7 * 24 * time.Hour

	// targetPause spaces the comprehensive sweep so it never saturates
	// the database.
	targetPause = 2 * time.Second

	sweepBatch = 500
)

// auditStore is the slice of the audit store the cleaner needs.
type auditStore interface {
	ListOlderThan(ctx context.Context, q compliance.Querier, cutoff time.Time, limit int) ([]compliance.Entry, error)
	MarkArchived(ctx context.Context, q compliance.Querier, ids []uuid.UUID, at time.Time) (int64, error)
}

// queueStore is the slice of the queue entry store the cleaner needs.
type queueStore interface {
	ListTerminalOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]queue.Entry, error)
	MarkArchived(ctx context.Context, ids []uuid.UUID, at time.Time) (int64, error)
	DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error)
}

// archiveStore receives archived records before their rows are stamped or
// deleted.
type archiveStore interface {
	Enabled() bool
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// eventPurger drops webhook dedup records past retention.
type eventPurger interface {
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// Result summarizes one cleanup run.
type Result struct {
	Target           string
	RecordsProcessed int
	RecordsArchived  int
	RecordsDeleted   int
	Duration         time.Duration
}

// Processor executes cleanup jobs.
type Processor struct {
	audit        auditStore
	entries      queueStore
	archive      archiveStore
	events       eventPurger
	tempFilesDir string
	logger       *logging.Logger
	now          func() time.Time
	pause        time.Duration
}

func NewProcessor(audit auditStore, entries queueStore, archive archiveStore, tempFilesDir string, logger *logging.Logger) *Processor {
	if logger == nil {
		logger = logging.Default()
	}
	return &Processor{
		audit:        audit,
		entries:      entries,
		archive:      archive,
		tempFilesDir: tempFilesDir,
		logger:       logger,
		now:          time.Now,
		pause:        targetPause,
	}
}

// WithProcessedEvents enables purging of webhook dedup records during the
// message queue sweep.
func (p *Processor) WithProcessedEvents(events eventPurger) *Processor {
	p.events = events
	return p
}

// WithClock overrides the time source for deterministic tests.
func (p *Processor) WithClock(now func() time.Time) *Processor {
	if now != nil {
		p.now = now
	}
	return p
}

// WithPause overrides the inter-target pause.
func (p *Processor) WithPause(d time.Duration) *Processor {
	p.pause = d
	return p
}

// Process runs one cleanup job against its target.
func (p *Processor) Process(ctx context.Context, job queue.CleanupJob) (*Result, error) {
	switch job.Target {
	case queue.TargetAuditLogs:
		return p.cleanAuditLogs(ctx, job.OlderThan)
	case queue.TargetMessageQueue:
		return p.cleanMessageQueue(ctx, job.OlderThan)
	case queue.TargetTempFiles:
		return p.cleanTempFiles(ctx, job.OlderThan)
	default:
		return nil, fmt.Errorf("cleanup: unknown target %q", job.Target)
	}
}

// RunComprehensive sweeps every target with the default retention windows,
// pausing between targets.
func (p *Processor) RunComprehensive(ctx context.Context) ([]Result, error) {
	now := p.now().UTC()
	jobs := []queue.CleanupJob{
		{Target: queue.TargetAuditLogs, OlderThan: now.Add(-RetentionAuditLogs)},
		{Target: queue.TargetMessageQueue, OlderThan: now.Add(-RetentionMessageQueue)},
		{Target: queue.TargetTempFiles, OlderThan: now.Add(-RetentionTempFiles)},
	}

	var results []Result
	for i, job := range jobs {
		if i > 0 && p.pause > 0 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(p.pause):
			}
		}
		res, err := p.Process(ctx, job)
		if err != nil {
			return results, fmt.Errorf("cleanup: %s sweep: %w", job.Target, err)
		}
		results = append(results, *res)
	}
	return results, nil
}

// cleanAuditLogs archives expired audit entries. Rows are stamped archived
// only after the archive copy is stored; nothing is ever deleted.
func (p *Processor) cleanAuditLogs(ctx context.Context, cutoff time.Time) (*Result, error) {
	start := p.now()
	res := &Result{Target: queue.TargetAuditLogs}

	for {
		entries, err := p.audit.ListOlderThan(ctx, nil, cutoff, sweepBatch)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			break
		}
		res.RecordsProcessed += len(entries)

		ids := make([]uuid.UUID, 0, len(entries))
		for i := range entries {
			e := &entries[i]
			if p.archive != nil && p.archive.Enabled() {
				data, err := json.Marshal(e)
				if err != nil {
					return nil, fmt.Errorf("cleanup: marshal audit entry %s: %w", e.ID, err)
				}
				key := fmt.Sprintf("audit/v1/by-date/%d/%02d/%02d/%s.json",
					e.CreatedAt.Year(), e.CreatedAt.Month(), e.CreatedAt.Day(), e.ID)
				if _, err := p.archive.Put(ctx, key, "application/json", data); err != nil {
					return nil, err
				}
			}
			ids = append(ids, e.ID)
		}

		archived, err := p.audit.MarkArchived(ctx, nil, ids, p.now().UTC())
		if err != nil {
			return nil, err
		}
		res.RecordsArchived += int(archived)

		if len(entries) < sweepBatch {
			break
		}
	}

	res.Duration = p.now().Sub(start)
	p.logger.Info("audit log cleanup complete",
		"processed", res.RecordsProcessed, "archived", res.RecordsArchived, "duration", res.Duration)
	return res, nil
}

// cleanMessageQueue archives delivered entries and deletes failed and
// cancelled ones once they pass retention.
func (p *Processor) cleanMessageQueue(ctx context.Context, cutoff time.Time) (*Result, error) {
	start := p.now()
	res := &Result{Target: queue.TargetMessageQueue}

	for {
		entries, err := p.entries.ListTerminalOlderThan(ctx, cutoff, sweepBatch)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			break
		}
		res.RecordsProcessed += len(entries)

		var toArchive, toDelete []uuid.UUID
		for i := range entries {
			e := &entries[i]
			switch e.Status {
			case queue.EntryDelivered:
				if p.archive != nil && p.archive.Enabled() {
					data, err := json.Marshal(e)
					if err != nil {
						return nil, fmt.Errorf("cleanup: marshal queue entry %s: %w", e.ID, err)
					}
					key := fmt.Sprintf("queue/v1/by-date/%d/%02d/%02d/%s.json",
						e.CreatedAt.Year(), e.CreatedAt.Month(), e.CreatedAt.Day(), e.ID)
					if _, err := p.archive.Put(ctx, key, "application/json", data); err != nil {
						return nil, err
					}
				}
				toArchive = append(toArchive, e.ID)
			default:
				toDelete = append(toDelete, e.ID)
			}
		}

		if len(toArchive) > 0 {
			archived, err := p.entries.MarkArchived(ctx, toArchive, p.now().UTC())
			if err != nil {
				return nil, err
			}
			res.RecordsArchived += int(archived)
		}
		if len(toDelete) > 0 {
			deleted, err := p.entries.DeleteByIDs(ctx, toDelete)
			if err != nil {
				return nil, err
			}
			res.RecordsDeleted += int(deleted)
		}

		if len(entries) < sweepBatch {
			break
		}
	}

	// Webhook dedup records age out with the queue entries they guarded.
	if p.events != nil {
		purged, err := p.events.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			return nil, err
		}
		res.RecordsDeleted += int(purged)
	}

	res.Duration = p.now().Sub(start)
	p.logger.Info("message queue cleanup complete",
		"processed", res.RecordsProcessed, "archived", res.RecordsArchived,
		"deleted", res.RecordsDeleted, "duration", res.Duration)
	return res, nil
}

// cleanTempFiles removes files whose modification time is past the cutoff.
func (p *Processor) cleanTempFiles(ctx context.Context, cutoff time.Time) (*Result, error) {
	start := p.now()
	res := &Result{Target: queue.TargetTempFiles}
	if p.tempFilesDir == "" {
		res.Duration = p.now().Sub(start)
		return res, nil
	}

	dirEntries, err := os.ReadDir(p.tempFilesDir)
	if err != nil {
		if os.IsNotExist(err) {
			res.Duration = p.now().Sub(start)
			return res, nil
		}
		return nil, fmt.Errorf("cleanup: read temp dir: %w", err)
	}

	for _, de := range dirEntries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if de.IsDir() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		res.RecordsProcessed++
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(p.tempFilesDir, de.Name())
		if err := os.Remove(path); err != nil {
			p.logger.Warn("temp file removal failed", "path", path, "error", err)
			continue
		}
		res.RecordsDeleted++
	}

	res.Duration = p.now().Sub(start)
	p.logger.Info("temp file cleanup complete",
		"processed", res.RecordsProcessed, "deleted", res.RecordsDeleted, "duration", res.Duration)
	return res, nil
}
