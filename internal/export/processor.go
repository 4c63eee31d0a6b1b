package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/wolfman30/patient-comms-platform/internal/compliance"
	"github.com/wolfman30/patient-comms-platform/internal/identity"
	"github.com/wolfman30/patient-comms-platform/internal/queue"
	"github.com/wolfman30/patient-comms-platform/pkg/logging"
)

// csvHeader is the fixed column set of CSV exports. Auditors build tooling
// against it; the order is part of the contract.
var csvHeader = []string{
	"timestamp", "user_email", "user_role", "patient_name", "action_type",
	"delivery_status", "content_preview", "content_hash", "ai_model",
	"tokens_consumed", "ip_address", "review_status",
}

// auditSource is the slice of the audit store the exporter reads.
type auditSource interface {
	Query(ctx context.Context, q compliance.Querier, f compliance.Filter) ([]compliance.Entry, error)
}

// Result describes one finished export.
type Result struct {
	ExportID    string
	Format      string
	Filename    string
	Location    string // object key when artifact storage is enabled
	RecordCount int
	Truncated   bool
	Data        []byte
	GeneratedAt time.Time
}

// Processor renders audit exports. Message content is redacted unless the
// requesting role is allowed to see it and explicitly asked.
type Processor struct {
	audit     auditSource
	artifacts *ArtifactStore
	logger    *logging.Logger
	now       func() time.Time
}

func NewProcessor(audit auditSource, artifacts *ArtifactStore, logger *logging.Logger) *Processor {
	if audit == nil {
		panic("export: audit source cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Processor{audit: audit, artifacts: artifacts, logger: logger, now: time.Now}
}

// WithClock overrides the time source for deterministic tests.
func (p *Processor) WithClock(now func() time.Time) *Processor {
	if now != nil {
		p.now = now
	}
	return p
}

// Process runs one export job end to end.
func (p *Processor) Process(ctx context.Context, job queue.ExportJob) (*Result, error) {
	filter := compliance.Filter{
		Start:          job.Filters.Start,
		End:            job.Filters.End,
		AuthorID:       job.Filters.UserID,
		ActionType:     compliance.ActionType(job.Filters.ActionType),
		DeliveryStatus: compliance.DeliveryStatus(job.Filters.DeliveryStatus),
		PatientName:    job.Filters.PatientName,
		Limit:          compliance.MaxQueryRecords,
	}
	entries, err := p.audit.Query(ctx, nil, filter)
	if err != nil {
		return nil, fmt.Errorf("export: query audit entries: %w", err)
	}

	fullContent := job.IncludeFullContent && identity.Role(job.UserRole).AtLeast(identity.RoleAuditor)
	if job.IncludeFullContent && !fullContent {
		p.logger.Warn("full-content export denied; falling back to redacted",
			"export_id", job.ExportID, "user_role", job.UserRole)
	}

	now := p.now().UTC()
	var (
		data        []byte
		contentType string
	)
	switch job.Format {
	case "csv":
		data, err = renderCSV(entries, fullContent)
		contentType = "text/csv"
	case "json":
		data, err = renderJSON(entries, fullContent)
		contentType = "application/json"
	default:
		return nil, fmt.Errorf("export: unsupported format %q", job.Format)
	}
	if err != nil {
		return nil, err
	}

	filename := fmt.Sprintf("audit_logs_%s.%s", now.Format("2006-01-02"), job.Format)
	result := &Result{
		ExportID:    job.ExportID.String(),
		Format:      job.Format,
		Filename:    filename,
		RecordCount: len(entries),
		Truncated:   len(entries) >= compliance.MaxQueryRecords,
		Data:        data,
		GeneratedAt: now,
	}

	if p.artifacts.Enabled() {
		key := fmt.Sprintf("exports/v1/%s/%s", job.ExportID, filename)
		location, err := p.artifacts.Put(ctx, key, contentType, data)
		if err != nil {
			return nil, err
		}
		result.Location = location
	}

	p.logger.Info("export complete",
		"export_id", job.ExportID,
		"format", job.Format,
		"records", result.RecordCount,
		"truncated", result.Truncated,
		"full_content", fullContent,
	)
	return result, nil
}

func contentColumn(e *compliance.Entry, fullContent bool) string {
	text := e.FinalMessage
	if text == "" {
		text = e.DraftContent
	}
	if fullContent {
		return text
	}
	return compliance.Preview(text)
}

func renderCSV(entries []compliance.Entry, fullContent bool) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("export: write csv header: %w", err)
	}
	for i := range entries {
		e := &entries[i]
		record := []string{
			e.CreatedAt.UTC().Format(time.RFC3339),
			e.AuthorEmail,
			string(e.AuthorRole),
			e.PatientName,
			string(e.ActionType),
			string(e.DeliveryStatus),
			contentColumn(e, fullContent),
			e.ContentHash,
			e.AIModel,
			strconv.Itoa(e.TokensConsumed),
			e.IPAddress,
			e.ReviewAction,
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("export: write csv record: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("export: flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

type exportRecord struct {
	Timestamp      string `json:"timestamp"`
	UserEmail      string `json:"user_email"`
	UserRole       string `json:"user_role"`
	PatientName    string `json:"patient_name"`
	ActionType     string `json:"action_type"`
	DeliveryStatus string `json:"delivery_status"`
	ContentPreview string `json:"content_preview"`
	ContentHash    string `json:"content_hash"`
	AIModel        string `json:"ai_model,omitempty"`
	TokensConsumed int    `json:"tokens_consumed,omitempty"`
	IPAddress      string `json:"ip_address,omitempty"`
	ReviewStatus   string `json:"review_status,omitempty"`
}

func renderJSON(entries []compliance.Entry, fullContent bool) ([]byte, error) {
	records := make([]exportRecord, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		records = append(records, exportRecord{
			Timestamp:      e.CreatedAt.UTC().Format(time.RFC3339),
			UserEmail:      e.AuthorEmail,
			UserRole:       string(e.AuthorRole),
			PatientName:    e.PatientName,
			ActionType:     string(e.ActionType),
			DeliveryStatus: string(e.DeliveryStatus),
			ContentPreview: contentColumn(e, fullContent),
			ContentHash:    e.ContentHash,
			AIModel:        e.AIModel,
			TokensConsumed: e.TokensConsumed,
			IPAddress:      e.IPAddress,
			ReviewStatus:   e.ReviewAction,
		})
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export: marshal json: %w", err)
	}
	return data, nil
}
