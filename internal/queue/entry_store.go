package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgx used by the entry store.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ErrEntryNotFound indicates the queue entry does not exist.
var ErrEntryNotFound = errors.New("queue: entry not found")

// EntryStore persists queue entries in Postgres.
type EntryStore struct {
	pool Querier
}

func NewEntryStore(pool Querier) *EntryStore {
	if pool == nil {
		return nil
	}
	return &EntryStore{pool: pool}
}

const entryColumns = `
	id, audit_entry_id, method, recipient, priority, status, attempts,
	max_attempts, next_retry_at, error_log, external_id, provider,
	created_at, updated_at, archived_at`

// Create persists a new queue entry in the queued state.
func (s *EntryStore) Create(ctx context.Context, e *Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Status == "" {
		e.Status = EntryQueued
	}
	if e.MaxAttempts <= 0 {
		e.MaxAttempts = DefaultMaxAttempts
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	errLog, err := json.Marshal(e.ErrorLog)
	if err != nil {
		return fmt.Errorf("queue: marshal error log: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO message_queue_entries (`+entryColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`,
		e.ID, e.AuditEntryID, e.Method, e.Recipient, string(e.Priority), string(e.Status),
		e.Attempts, e.MaxAttempts, e.NextRetryAt, errLog, e.ExternalID, e.Provider,
		e.CreatedAt, e.UpdatedAt, e.ArchivedAt,
	)
	if err != nil {
		return fmt.Errorf("queue: insert entry: %w", err)
	}
	return nil
}

func (s *EntryStore) GetByID(ctx context.Context, id uuid.UUID) (*Entry, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM message_queue_entries WHERE id = $1`, id)
	e, err := scanEntryRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("queue: get entry: %w", err)
	}
	return e, nil
}

// GetByAuditEntry returns the most recent queue entry for an audit entry.
func (s *EntryStore) GetByAuditEntry(ctx context.Context, auditEntryID uuid.UUID) (*Entry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+entryColumns+` FROM message_queue_entries
		WHERE audit_entry_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, auditEntryID)
	e, err := scanEntryRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("queue: get entry by audit entry: %w", err)
	}
	return e, nil
}

// MarkDeliveredByAuditEntry records a provider delivery confirmation keyed
// by the audit entry the webhook names.
func (s *EntryStore) MarkDeliveredByAuditEntry(ctx context.Context, auditEntryID uuid.UUID, externalID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE message_queue_entries
		SET status = $2, external_id = COALESCE(NULLIF($3, ''), external_id), updated_at = now()
		WHERE audit_entry_id = $1 AND status = $4
	`, auditEntryID, string(EntryDelivered), externalID, string(EntrySent))
	if err != nil {
		return fmt.Errorf("queue: mark delivered by audit entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// ClaimProcessing moves an entry to processing, but only from a processable
// state. Returning false means a duplicate queue delivery hit an entry that
// already finished; the caller must treat the job as a no-op.
func (s *EntryStore) ClaimProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE message_queue_entries
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status IN ($3, $4)
	`, id, string(EntryProcessing), string(EntryQueued), string(EntryProcessing))
	if err != nil {
		return false, fmt.Errorf("queue: claim entry: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkSent records a successful provider handoff.
func (s *EntryStore) MarkSent(ctx context.Context, id uuid.UUID, externalID, provider string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE message_queue_entries
		SET status = $2, attempts = attempts + 1, external_id = $3, provider = $4,
			next_retry_at = NULL, updated_at = now()
		WHERE id = $1
	`, id, string(EntrySent), externalID, provider)
	if err != nil {
		return fmt.Errorf("queue: mark sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// ScheduleRetry appends the failure to the error log, bumps attempts, and
// requeues the entry for the backoff deadline.
func (s *EntryStore) ScheduleRetry(ctx context.Context, id uuid.UUID, nextRetryAt time.Time, rec ErrorRecord) error {
	data, err := json.Marshal([]ErrorRecord{rec})
	if err != nil {
		return fmt.Errorf("queue: marshal error record: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE message_queue_entries
		SET status = $2, attempts = attempts + 1, next_retry_at = $3,
			error_log = error_log || $4::jsonb, updated_at = now()
		WHERE id = $1
	`, id, string(EntryQueued), nextRetryAt, data)
	if err != nil {
		return fmt.Errorf("queue: schedule retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// MarkFailed terminally fails the entry. No retry is ever scheduled from
// here; resolution requires operator action.
func (s *EntryStore) MarkFailed(ctx context.Context, id uuid.UUID, rec ErrorRecord) error {
	data, err := json.Marshal([]ErrorRecord{rec})
	if err != nil {
		return fmt.Errorf("queue: marshal error record: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE message_queue_entries
		SET status = $2, attempts = attempts + 1, next_retry_at = NULL,
			error_log = error_log || $3::jsonb, updated_at = now()
		WHERE id = $1
	`, id, string(EntryFailed), data)
	if err != nil {
		return fmt.Errorf("queue: mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// MarkDelivered records the provider confirmation for a sent entry.
func (s *EntryStore) MarkDelivered(ctx context.Context, id uuid.UUID, externalID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE message_queue_entries
		SET status = $2, external_id = COALESCE(NULLIF($3, ''), external_id), updated_at = now()
		WHERE id = $1 AND status = $4
	`, id, string(EntryDelivered), externalID, string(EntrySent))
	if err != nil {
		return fmt.Errorf("queue: mark delivered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// ListTerminalOlderThan returns aged entries in terminal states for cleanup.
func (s *EntryStore) ListTerminalOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM message_queue_entries
		WHERE updated_at < $1 AND status IN ($2, $3, $4) AND archived_at IS NULL
		ORDER BY updated_at ASC
		LIMIT $5
	`, cutoff, string(EntryDelivered), string(EntryFailed), string(EntryCancelled), limit)
	if err != nil {
		return nil, fmt.Errorf("queue: list terminal entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntryRow(rows)
		if err != nil {
			return nil, fmt.Errorf("queue: scan entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// MarkArchived stamps delivered entries as archived.
func (s *EntryStore) MarkArchived(ctx context.Context, ids []uuid.UUID, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE message_queue_entries SET archived_at = $2, updated_at = now()
		WHERE id = ANY($1) AND archived_at IS NULL
	`, ids, at)
	if err != nil {
		return 0, fmt.Errorf("queue: mark archived: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteByIDs removes failed/cancelled entries past retention.
func (s *EntryStore) DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM message_queue_entries WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("queue: delete entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanEntryRow(row pgx.Row) (*Entry, error) {
	var (
		e        Entry
		priority string
		status   string
		errLog   []byte
	)
	err := row.Scan(
		&e.ID, &e.AuditEntryID, &e.Method, &e.Recipient, &priority, &status,
		&e.Attempts, &e.MaxAttempts, &e.NextRetryAt, &errLog, &e.ExternalID, &e.Provider,
		&e.CreatedAt, &e.UpdatedAt, &e.ArchivedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Priority = Priority(priority)
	e.Status = EntryStatus(status)
	if len(errLog) > 0 {
		if err := json.Unmarshal(errLog, &e.ErrorLog); err != nil {
			return nil, fmt.Errorf("unmarshal error log: %w", err)
		}
	}
	return &e, nil
}
