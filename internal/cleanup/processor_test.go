package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/patient-comms-platform/internal/compliance"
	"github.com/wolfman30/patient-comms-platform/internal/queue"
	"github.com/wolfman30/patient-comms-platform/pkg/logging"
)

var cleanupNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeAuditStore struct {
	entries  []compliance.Entry
	archived []uuid.UUID
	served   bool
}

func (f *fakeAuditStore) ListOlderThan(_ context.Context, _ compliance.Querier, _ time.Time, _ int) ([]compliance.Entry, error) {
	if f.served {
		return nil, nil
	}
	f.served = true
	return f.entries, nil
}

func (f *fakeAuditStore) MarkArchived(_ context.Context, _ compliance.Querier, ids []uuid.UUID, _ time.Time) (int64, error) {
	f.archived = append(f.archived, ids...)
	return int64(len(ids)), nil
}

type fakeQueueStore struct {
	entries  []queue.Entry
	archived []uuid.UUID
	deleted  []uuid.UUID
	served   bool
}

func (f *fakeQueueStore) ListTerminalOlderThan(_ context.Context, _ time.Time, _ int) ([]queue.Entry, error) {
	if f.served {
		return nil, nil
	}
	f.served = true
	return f.entries, nil
}

func (f *fakeQueueStore) MarkArchived(_ context.Context, ids []uuid.UUID, _ time.Time) (int64, error) {
	f.archived = append(f.archived, ids...)
	return int64(len(ids)), nil
}

func (f *fakeQueueStore) DeleteByIDs(_ context.Context, ids []uuid.UUID) (int64, error) {
	f.deleted = append(f.deleted, ids...)
	return int64(len(ids)), nil
}

type fakeArchive struct {
	keys []string
}

func (f *fakeArchive) Enabled() bool { return true }

func (f *fakeArchive) Put(_ context.Context, key, _ string, _ []byte) (string, error) {
	f.keys = append(f.keys, key)
	return key, nil
}

func TestCleanAuditLogsArchivesNeverDeletes(t *testing.T) {
	old := cleanupNow.Add(-400 * 24 * time.Hour)
	audit := &fakeAuditStore{entries: []compliance.Entry{
		{ID: uuid.New(), CreatedAt: old},
		{ID: uuid.New(), CreatedAt: old},
	}}
	archive := &fakeArchive{}
	p := NewProcessor(audit, &fakeQueueStore{}, archive, "", logging.New("error")).
		WithClock(func() time.Time { return cleanupNow })

	res, err := p.Process(context.Background(), queue.CleanupJob{
		Target:    queue.TargetAuditLogs,
		OlderThan: cleanupNow.Add(-RetentionAuditLogs),
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.RecordsProcessed != 2 || res.RecordsArchived != 2 || res.RecordsDeleted != 0 {
		t.Errorf("result = %+v", res)
	}
	if len(audit.archived) != 2 {
		t.Errorf("archived ids = %d", len(audit.archived))
	}
	// Archive copy must be written per entry before rows are stamped.
	if len(archive.keys) != 2 {
		t.Errorf("archive keys = %v", archive.keys)
	}
}

func TestCleanMessageQueueSplitsByStatus(t *testing.T) {
	old := cleanupNow.Add(-45 * 24 * time.Hour)
	delivered := queue.Entry{ID: uuid.New(), Status: queue.EntryDelivered, CreatedAt: old}
	failed := queue.Entry{ID: uuid.New(), Status: queue.EntryFailed, CreatedAt: old}
	cancelled := queue.Entry{ID: uuid.New(), Status: queue.EntryCancelled, CreatedAt: old}
	qs := &fakeQueueStore{entries: []queue.Entry{delivered, failed, cancelled}}
	p := NewProcessor(&fakeAuditStore{}, qs, &fakeArchive{}, "", logging.New("error")).
		WithClock(func() time.Time { return cleanupNow })

	res, err := p.Process(context.Background(), queue.CleanupJob{
		Target:    queue.TargetMessageQueue,
		OlderThan: cleanupNow.Add(-RetentionMessageQueue),
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.RecordsProcessed != 3 || res.RecordsArchived != 1 || res.RecordsDeleted != 2 {
		t.Errorf("result = %+v", res)
	}
	if len(qs.archived) != 1 || qs.archived[0] != delivered.ID {
		t.Errorf("archived = %v", qs.archived)
	}
	if len(qs.deleted) != 2 {
		t.Errorf("deleted = %v", qs.deleted)
	}
}

func TestCleanTempFilesRemovesStaleOnly(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "export-old.csv")
	fresh := filepath.Join(dir, "export-new.csv")
	for _, path := range []string{stale, fresh} {
		if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	oldTime := time.Now().Add(-10 * 24 * time.Hour)
	if err := os.Chtimes(stale, oldTime, oldTime); err != nil {
		t.Fatal(err)
	}

	p := NewProcessor(&fakeAuditStore{}, &fakeQueueStore{}, nil, dir, logging.New("error"))
	res, err := p.Process(context.Background(), queue.CleanupJob{
		Target:    queue.TargetTempFiles,
		OlderThan: time.Now().Add(-RetentionTempFiles),
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.RecordsDeleted != 1 {
		t.Errorf("deleted = %d, want 1", res.RecordsDeleted)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale file should be removed")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh file should survive")
	}
}

func TestRunComprehensiveSweepsAllTargets(t *testing.T) {
	p := NewProcessor(&fakeAuditStore{}, &fakeQueueStore{}, nil, t.TempDir(), logging.New("error")).
		WithPause(0)

	results, err := p.RunComprehensive(context.Background())
	if err != nil {
		t.Fatalf("RunComprehensive: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	wantTargets := []string{queue.TargetAuditLogs, queue.TargetMessageQueue, queue.TargetTempFiles}
	for i, want := range wantTargets {
		if results[i].Target != want {
			t.Errorf("results[%d].Target = %s, want %s", i, results[i].Target, want)
		}
	}
}

func TestProcessUnknownTarget(t *testing.T) {
	p := NewProcessor(&fakeAuditStore{}, &fakeQueueStore{}, nil, "", logging.New("error"))
	if _, err := p.Process(context.Background(), queue.CleanupJob{Target: "attachments"}); err == nil {
		t.Fatal("expected error for unknown target")
	}
}

type fakeEventPurger struct {
	cutoff time.Time
	purged int64
}

func (f *fakeEventPurger) DeleteOlderThan(_ context.Context, before time.Time) (int64, error) {
	f.cutoff = before
	return f.purged, nil
}

func TestCleanMessageQueuePurgesDedupRecords(t *testing.T) {
	purger := &fakeEventPurger{purged: 4}
	p := NewProcessor(&fakeAuditStore{}, &fakeQueueStore{}, &fakeArchive{}, "", logging.New("error")).
		WithProcessedEvents(purger).
		WithClock(func() time.Time { return cleanupNow })

	cutoff := cleanupNow.Add(-RetentionMessageQueue)
	res, err := p.Process(context.Background(), queue.CleanupJob{
		Target:    queue.TargetMessageQueue,
		OlderThan: cutoff,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !purger.cutoff.Equal(cutoff) {
		t.Errorf("purge cutoff = %s, want %s", purger.cutoff, cutoff)
	}
	if res.RecordsDeleted != 4 {
		t.Errorf("RecordsDeleted = %d, want 4", res.RecordsDeleted)
	}
}
