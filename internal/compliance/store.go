package compliance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/patient-comms-platform/internal/identity"
)

// Querier is the subset of pgx used by the store, satisfied by pools and
// transactions alike so workflow transitions can run inside one tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgxPool adds transaction support on top of Querier.
type PgxPool interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

var (
	// ErrEntryNotFound indicates the requested audit entry does not exist.
	ErrEntryNotFound = errors.New("compliance: audit entry not found")
	// ErrAlreadyFinalized indicates the entry's final message and content
	// hash were already persisted.
	ErrAlreadyFinalized = errors.New("compliance: entry already finalized")
	// ErrStaleStatus indicates a status update lost against the monotonic
	// transition guard.
	ErrStaleStatus = errors.New("compliance: status update rejected by transition guard")
)

// Store persists audit entries in Postgres.
type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		return nil
	}
	return &Store{pool: pool}
}

func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	return s.pool.Begin(ctx)
}

const entryColumns = `
	id, author_id, author_email, author_role, patient_id, patient_name,
	original_request, generated_draft, draft_content, final_message, action_type,
	delivery_status, delivery_method, recipient, priority, reviewer_id, reviewer_notes,
	review_action, reviewed_at, edit_history, retry_count, content_hash,
	ai_model, tokens_consumed, ip_address, created_at, updated_at, archived_at`

// Insert persists a new entry. The content hash is only written when the
// final message is already present; otherwise finalization happens later via
// FinalizeMessage.
func (s *Store) Insert(ctx context.Context, q Querier, e *Entry) error {
	if q == nil {
		q = s.pool
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	if e.FinalMessage != "" && e.ContentHash == "" {
		e.ContentHash = ContentHash(e.FinalMessage)
	}
	history, err := json.Marshal(e.EditHistory)
	if err != nil {
		return fmt.Errorf("compliance: marshal edit history: %w", err)
	}

	query := `
		INSERT INTO audit_log_entries (` + entryColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28)
	`
	_, err = q.Exec(ctx, query,
		e.ID, e.AuthorID, e.AuthorEmail, string(e.AuthorRole), e.PatientID, e.PatientName,
		e.OriginalRequest, e.GeneratedDraft, e.DraftContent, e.FinalMessage, string(e.ActionType),
		string(e.DeliveryStatus), e.DeliveryMethod, e.Recipient, e.Priority, nilIfZero(e.ReviewerID), e.ReviewerNotes,
		e.ReviewAction, e.ReviewedAt, history, e.RetryCount, e.ContentHash,
		e.AIModel, e.TokensConsumed, e.IPAddress, e.CreatedAt, e.UpdatedAt, e.ArchivedAt,
	)
	if err != nil {
		return fmt.Errorf("compliance: insert audit entry: %w", err)
	}
	return nil
}

func (s *Store) GetByID(ctx context.Context, q Querier, id uuid.UUID) (*Entry, error) {
	if q == nil {
		q = s.pool
	}
	query := `SELECT ` + entryColumns + ` FROM audit_log_entries WHERE id = $1`
	row := q.QueryRow(ctx, query, id)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("compliance: get audit entry: %w", err)
	}
	return e, nil
}

// FinalizeMessage persists the final message text and computes the content
// hash exactly once. A second finalization attempt fails with
// ErrAlreadyFinalized; the hash is never recomputed.
func (s *Store) FinalizeMessage(ctx context.Context, q Querier, id uuid.UUID, finalMessage string) (string, error) {
	if q == nil {
		q = s.pool
	}
	hash := ContentHash(finalMessage)
	tag, err := q.Exec(ctx, `
		UPDATE audit_log_entries
		SET final_message = $2, content_hash = $3, updated_at = now()
		WHERE id = $1 AND content_hash = ''
	`, id, finalMessage, hash)
	if err != nil {
		return "", fmt.Errorf("compliance: finalize message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return "", ErrAlreadyFinalized
	}
	return hash, nil
}

// UpdateDraft replaces the working message text while the entry is still
// pre-finalization (rejected drafts being resubmitted). The generated draft
// is never overwritten, and a finalized entry refuses the update.
func (s *Store) UpdateDraft(ctx context.Context, q Querier, id uuid.UUID, draftText string) error {
	if q == nil {
		q = s.pool
	}
	tag, err := q.Exec(ctx, `
		UPDATE audit_log_entries
		SET draft_content = $2, updated_at = now()
		WHERE id = $1 AND content_hash = ''
	`, id, draftText)
	if err != nil {
		return fmt.Errorf("compliance: update draft: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyFinalized
	}
	return nil
}

// UpdateStatus moves the entry's delivery status, but only when the current
// status is in allowedFrom. Callers encode the transition table; the guard
// makes concurrent updates monotonic.
func (s *Store) UpdateStatus(ctx context.Context, q Querier, id uuid.UUID, to DeliveryStatus, action ActionType, allowedFrom []DeliveryStatus) error {
	if q == nil {
		q = s.pool
	}
	from := make([]string, 0, len(allowedFrom))
	for _, st := range allowedFrom {
		from = append(from, string(st))
	}
	tag, err := q.Exec(ctx, `
		UPDATE audit_log_entries
		SET delivery_status = $2, action_type = $3, updated_at = now()
		WHERE id = $1 AND delivery_status = ANY($4)
	`, id, string(to), string(action), from)
	if err != nil {
		return fmt.Errorf("compliance: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	return nil
}

// AppendHistory adds one edit record. The history column is append-only;
// nothing ever removes entries from it.
func (s *Store) AppendHistory(ctx context.Context, q Querier, id uuid.UUID, rec EditRecord) error {
	if q == nil {
		q = s.pool
	}
	data, err := json.Marshal([]EditRecord{rec})
	if err != nil {
		return fmt.Errorf("compliance: marshal edit record: %w", err)
	}
	tag, err := q.Exec(ctx, `
		UPDATE audit_log_entries
		SET edit_history = edit_history || $2::jsonb, updated_at = now()
		WHERE id = $1
	`, id, data)
	if err != nil {
		return fmt.Errorf("compliance: append edit history: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// SetReview records the reviewer decision on the entry.
func (s *Store) SetReview(ctx context.Context, q Querier, id uuid.UUID, reviewerID uuid.UUID, action, notes string, at time.Time) error {
	if q == nil {
		q = s.pool
	}
	tag, err := q.Exec(ctx, `
		UPDATE audit_log_entries
		SET reviewer_id = $2, review_action = $3, reviewer_notes = $4, reviewed_at = $5, updated_at = now()
		WHERE id = $1
	`, id, reviewerID, action, notes, at)
	if err != nil {
		return fmt.Errorf("compliance: set review: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// IncrementRetryCount bumps the delivery retry counter.
func (s *Store) IncrementRetryCount(ctx context.Context, q Querier, id uuid.UUID) error {
	if q == nil {
		q = s.pool
	}
	_, err := q.Exec(ctx, `
		UPDATE audit_log_entries SET retry_count = retry_count + 1, updated_at = now() WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("compliance: increment retry count: %w", err)
	}
	return nil
}

// Query returns entries matching the filter, newest first, capped at
// MaxQueryRecords regardless of the requested limit.
func (s *Store) Query(ctx context.Context, q Querier, f Filter) ([]Entry, error) {
	if q == nil {
		q = s.pool
	}
	query := `SELECT ` + entryColumns + ` FROM audit_log_entries WHERE 1=1`
	args := []any{}
	argIdx := 1

	if !f.Start.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, f.Start)
		argIdx++
	}
	if !f.End.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, f.End)
		argIdx++
	}
	if f.AuthorID != uuid.Nil {
		query += fmt.Sprintf(" AND author_id = $%d", argIdx)
		args = append(args, f.AuthorID)
		argIdx++
	}
	if f.ActionType != "" {
		query += fmt.Sprintf(" AND action_type = $%d", argIdx)
		args = append(args, string(f.ActionType))
		argIdx++
	}
	if f.DeliveryStatus != "" {
		query += fmt.Sprintf(" AND delivery_status = $%d", argIdx)
		args = append(args, string(f.DeliveryStatus))
		argIdx++
	}
	if f.PatientName != "" {
		query += fmt.Sprintf(" AND patient_name ILIKE $%d", argIdx)
		args = append(args, "%"+f.PatientName+"%")
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	limit := f.Limit
	if limit <= 0 || limit > MaxQueryRecords {
		limit = MaxQueryRecords
	}
	query += fmt.Sprintf(" LIMIT %d", limit)
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", f.Offset)
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("compliance: query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("compliance: scan audit entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// ListOlderThan returns unarchived entries created before the cutoff, for
// the cleanup sweep.
func (s *Store) ListOlderThan(ctx context.Context, q Querier, cutoff time.Time, limit int) ([]Entry, error) {
	if q == nil {
		q = s.pool
	}
	if limit <= 0 || limit > MaxQueryRecords {
		limit = MaxQueryRecords
	}
	query := `SELECT ` + entryColumns + `
		FROM audit_log_entries
		WHERE created_at < $1 AND archived_at IS NULL
		ORDER BY created_at ASC
		LIMIT $2`
	rows, err := q.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("compliance: list entries older than %s: %w", cutoff, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("compliance: scan audit entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// ListFinalizedSince returns finalized entries updated after the cursor, in
// update order. The integrity sweeper pages through these to re-verify
// content hashes.
func (s *Store) ListFinalizedSince(ctx context.Context, q Querier, after time.Time, limit int) ([]Entry, error) {
	if q == nil {
		q = s.pool
	}
	if limit <= 0 || limit > MaxQueryRecords {
		limit = MaxQueryRecords
	}
	query := `SELECT ` + entryColumns + `
		FROM audit_log_entries
		WHERE content_hash <> '' AND updated_at > $1
		ORDER BY updated_at ASC
		LIMIT $2`
	rows, err := q.Query(ctx, query, after, limit)
	if err != nil {
		return nil, fmt.Errorf("compliance: list finalized entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("compliance: scan audit entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// MarkArchived stamps entries as archived. Audit rows are compliance records
// and are never hard-deleted.
func (s *Store) MarkArchived(ctx context.Context, q Querier, ids []uuid.UUID, at time.Time) (int64, error) {
	if q == nil {
		q = s.pool
	}
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := q.Exec(ctx, `
		UPDATE audit_log_entries SET archived_at = $2, updated_at = now()
		WHERE id = ANY($1) AND archived_at IS NULL
	`, ids, at)
	if err != nil {
		return 0, fmt.Errorf("compliance: mark archived: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var (
		e          Entry
		authorRole string
		actionType string
		status     string
		reviewerID *uuid.UUID
		history    []byte
	)
	err := row.Scan(
		&e.ID, &e.AuthorID, &e.AuthorEmail, &authorRole, &e.PatientID, &e.PatientName,
		&e.OriginalRequest, &e.GeneratedDraft, &e.DraftContent, &e.FinalMessage, &actionType,
		&status, &e.DeliveryMethod, &e.Recipient, &e.Priority, &reviewerID, &e.ReviewerNotes,
		&e.ReviewAction, &e.ReviewedAt, &history, &e.RetryCount, &e.ContentHash,
		&e.AIModel, &e.TokensConsumed, &e.IPAddress, &e.CreatedAt, &e.UpdatedAt, &e.ArchivedAt,
	)
	if err != nil {
		return nil, err
	}
	e.AuthorRole = identity.Role(authorRole)
	e.ActionType = ActionType(actionType)
	e.DeliveryStatus = DeliveryStatus(status)
	if reviewerID != nil {
		e.ReviewerID = *reviewerID
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &e.EditHistory); err != nil {
			return nil, fmt.Errorf("unmarshal edit history: %w", err)
		}
	}
	return &e, nil
}

func nilIfZero(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
