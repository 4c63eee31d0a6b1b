package worker

import (
	"context"
	"testing"
	"time"

	"github.com/wolfman30/patient-comms-platform/internal/cleanup"
	"github.com/wolfman30/patient-comms-platform/internal/queue"
	"github.com/wolfman30/patient-comms-platform/pkg/logging"
)

type fakeRetentionProducer struct {
	jobs    []queue.Job
	dedupes []string
	err     error
}

func (f *fakeRetentionProducer) Enqueue(_ context.Context, job queue.Job, opts queue.EnqueueOptions) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	f.dedupes = append(f.dedupes, opts.DedupID)
	return nil
}

func TestScheduleEnqueuesAllTargets(t *testing.T) {
	producer := &fakeRetentionProducer{}
	now := time.Date(2025, 3, 10, 4, 0, 0, 0, time.UTC)
	s := NewRetentionScheduler(producer, logging.New("error")).
		WithClock(func() time.Time { return now })

	s.Schedule(context.Background())

	if len(producer.jobs) != 3 {
		t.Fatalf("expected 3 cleanup jobs, got %d", len(producer.jobs))
	}
	wantTargets := map[string]time.Duration{
		queue.TargetAuditLogs:    cleanup.RetentionAuditLogs,
		queue.TargetMessageQueue: cleanup.RetentionMessageQueue,
		queue.TargetTempFiles:    cleanup.RetentionTempFiles,
	}
	for _, job := range producer.jobs {
		if job.Kind != queue.KindCleanup || job.Cleanup == nil {
			t.Fatalf("expected cleanup job, got %+v", job)
		}
		retention, ok := wantTargets[job.Cleanup.Target]
		if !ok {
			t.Fatalf("unexpected target %q", job.Cleanup.Target)
		}
		if got := job.Cleanup.OlderThan; !got.Equal(now.Add(-retention)) {
			t.Errorf("target %s cutoff = %s, want %s", job.Cleanup.Target, got, now.Add(-retention))
		}
		delete(wantTargets, job.Cleanup.Target)
	}
	if len(wantTargets) != 0 {
		t.Fatalf("targets not scheduled: %v", wantTargets)
	}
}

func TestScheduleDedupIDsAreDateScoped(t *testing.T) {
	producer := &fakeRetentionProducer{}
	now := time.Date(2025, 3, 10, 4, 0, 0, 0, time.UTC)
	s := NewRetentionScheduler(producer, logging.New("error")).
		WithClock(func() time.Time { return now })

	s.Schedule(context.Background())

	want := "cleanup:audit_logs:2025-03-10"
	found := false
	for _, id := range producer.dedupes {
		if id == want {
			found = true
		}
	}
	if !found {
		t.Fatalf("dedup ids %v missing %q", producer.dedupes, want)
	}
}

func TestScheduleToleratesDuplicates(t *testing.T) {
	producer := &fakeRetentionProducer{err: queue.ErrDuplicateJob}
	s := NewRetentionScheduler(producer, logging.New("error"))

	// Must not panic or abort; duplicates just mean another instance won.
	s.Schedule(context.Background())

	if len(producer.jobs) != 0 {
		t.Fatalf("expected no jobs recorded, got %d", len(producer.jobs))
	}
}
