// Package handlers exposes the messaging workflow over HTTP. Identity is
// resolved upstream (gateway or session layer); handlers trust the actor
// headers it injects.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/patient-comms-platform/internal/compliance"
	"github.com/wolfman30/patient-comms-platform/internal/identity"
	"github.com/wolfman30/patient-comms-platform/internal/queue"
	"github.com/wolfman30/patient-comms-platform/internal/workflow"
	"github.com/wolfman30/patient-comms-platform/pkg/logging"
)

// workflowService is the slice of the workflow engine the API drives.
type workflowService interface {
	SubmitForReview(ctx context.Context, author identity.Actor, sub workflow.DraftSubmission) (*compliance.Entry, error)
	Review(ctx context.Context, reviewer identity.Actor, entryID uuid.UUID, decision workflow.ReviewDecision) (*compliance.Entry, error)
	SendDirectly(ctx context.Context, author identity.Actor, sub workflow.DraftSubmission) (*compliance.Entry, error)
}

// auditReader reads audit entries for the query endpoints.
type auditReader interface {
	GetByID(ctx context.Context, q compliance.Querier, id uuid.UUID) (*compliance.Entry, error)
	Query(ctx context.Context, q compliance.Querier, f compliance.Filter) ([]compliance.Entry, error)
}

// MessagesHandler serves the message workflow endpoints.
type MessagesHandler struct {
	engine workflowService
	audit  auditReader
	logger *logging.Logger
}

func NewMessagesHandler(engine workflowService, audit auditReader, logger *logging.Logger) *MessagesHandler {
	if engine == nil {
		panic("handlers: workflow engine cannot be nil")
	}
	if audit == nil {
		panic("handlers: audit reader cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &MessagesHandler{engine: engine, audit: audit, logger: logger}
}

type submitRequest struct {
	EntryID         string         `json:"entry_id,omitempty"` // resubmit after rejection
	PatientID       string         `json:"patient_id"`
	PatientName     string         `json:"patient_name"`
	OriginalRequest string         `json:"original_request"`
	GeneratedDraft  string         `json:"generated_draft"`
	DraftContent    string         `json:"draft_content"`
	DeliveryMethod  string         `json:"delivery_method"`
	Recipient       string         `json:"recipient"`
	Priority        queue.Priority `json:"priority"`
	AIModel         string         `json:"ai_model,omitempty"`
	TokensConsumed  int            `json:"tokens_consumed,omitempty"`
}

type reviewRequest struct {
	Action             string `json:"action"` // approve or reject
	Notes              string `json:"notes,omitempty"`
	EditedFinalMessage string `json:"edited_final_message,omitempty"`
}

// entryResponse is the wire shape of an audit entry. Content fields are
// redacted previews unless the viewer may see full content.
type entryResponse struct {
	ID             string     `json:"id"`
	AuthorID       string     `json:"author_id"`
	AuthorEmail    string     `json:"author_email"`
	AuthorRole     string     `json:"author_role"`
	PatientID      string     `json:"patient_id"`
	PatientName    string     `json:"patient_name"`
	DraftContent   string     `json:"draft_content,omitempty"`
	FinalMessage   string     `json:"final_message,omitempty"`
	ActionType     string     `json:"action_type"`
	DeliveryStatus string     `json:"delivery_status"`
	DeliveryMethod string     `json:"delivery_method,omitempty"`
	Recipient      string     `json:"recipient,omitempty"`
	Priority       string     `json:"priority,omitempty"`
	ReviewerID     string     `json:"reviewer_id,omitempty"`
	ReviewerNotes  string     `json:"reviewer_notes,omitempty"`
	ReviewAction   string     `json:"review_action,omitempty"`
	ReviewedAt     *time.Time `json:"reviewed_at,omitempty"`
	RetryCount     int        `json:"retry_count"`
	ContentHash    string     `json:"content_hash,omitempty"`
	Redacted       bool       `json:"redacted"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Submit creates a pending-review entry from a drafted message.
func (h *MessagesHandler) Submit(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sub, err := req.toSubmission()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, err := h.engine.SubmitForReview(r.Context(), actor, sub)
	if err != nil {
		h.writeWorkflowError(w, "submit", err)
		return
	}
	writeJSON(w, http.StatusCreated, renderEntry(actor, entry))
}

// Review approves or rejects a pending entry.
func (h *MessagesHandler) Review(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	entryID, err := uuid.Parse(chi.URLParam(r, "entryID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid entry id")
		return
	}
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	entry, err := h.engine.Review(r.Context(), actor, entryID, workflow.ReviewDecision{
		Action:             req.Action,
		Notes:              req.Notes,
		EditedFinalMessage: req.EditedFinalMessage,
	})
	if err != nil {
		h.writeWorkflowError(w, "review", err)
		return
	}
	writeJSON(w, http.StatusOK, renderEntry(actor, entry))
}

// SendDirect finalizes and schedules a message without review. Role policy
// is enforced by the engine.
func (h *MessagesHandler) SendDirect(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sub, err := req.toSubmission()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, err := h.engine.SendDirectly(r.Context(), actor, sub)
	if err != nil {
		h.writeWorkflowError(w, "send_direct", err)
		return
	}
	writeJSON(w, http.StatusCreated, renderEntry(actor, entry))
}

// Get returns one audit entry, redacted according to the viewer's role.
func (h *MessagesHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	entryID, err := uuid.Parse(chi.URLParam(r, "entryID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid entry id")
		return
	}
	entry, err := h.audit.GetByID(r.Context(), nil, entryID)
	if err != nil {
		if errors.Is(err, compliance.ErrEntryNotFound) {
			writeError(w, http.StatusNotFound, "entry not found")
			return
		}
		h.logger.Error("entry lookup failed", "error", err, "entry_id", entryID)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	writeJSON(w, http.StatusOK, renderEntry(actor, entry))
}

// List queries audit entries with filters from the query string.
func (h *MessagesHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := h.audit.Query(r.Context(), nil, filter)
	if err != nil {
		h.logger.Error("entry query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}

	out := make([]entryResponse, 0, len(entries))
	for i := range entries {
		out = append(out, renderEntry(actor, &entries[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": out,
		"count":   len(out),
	})
}

func (r submitRequest) toSubmission() (workflow.DraftSubmission, error) {
	sub := workflow.DraftSubmission{
		PatientName:     r.PatientName,
		OriginalRequest: r.OriginalRequest,
		GeneratedDraft:  r.GeneratedDraft,
		DraftContent:    r.DraftContent,
		DeliveryMethod:  r.DeliveryMethod,
		Recipient:       r.Recipient,
		Priority:        r.Priority,
		AIModel:         r.AIModel,
		TokensConsumed:  r.TokensConsumed,
	}
	if r.EntryID != "" {
		id, err := uuid.Parse(r.EntryID)
		if err != nil {
			return sub, errors.New("invalid entry id")
		}
		sub.EntryID = id
	}
	patientID, err := uuid.Parse(r.PatientID)
	if err != nil {
		return sub, errors.New("invalid patient id")
	}
	sub.PatientID = patientID
	return sub, nil
}

func (h *MessagesHandler) writeWorkflowError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, workflow.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, workflow.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, workflow.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, compliance.ErrEntryNotFound):
		writeError(w, http.StatusNotFound, "entry not found")
	default:
		h.logger.Error("workflow operation failed", "op", op, "error", err)
		writeError(w, http.StatusInternalServerError, "server error")
	}
}

func renderEntry(viewer identity.Actor, e *compliance.Entry) entryResponse {
	resp := entryResponse{
		ID:             e.ID.String(),
		AuthorID:       e.AuthorID.String(),
		AuthorEmail:    e.AuthorEmail,
		AuthorRole:     string(e.AuthorRole),
		PatientID:      e.PatientID.String(),
		PatientName:    e.PatientName,
		DraftContent:   e.DraftContent,
		FinalMessage:   e.FinalMessage,
		ActionType:     string(e.ActionType),
		DeliveryStatus: string(e.DeliveryStatus),
		DeliveryMethod: e.DeliveryMethod,
		Recipient:      e.Recipient,
		Priority:       e.Priority,
		ReviewerNotes:  e.ReviewerNotes,
		ReviewAction:   e.ReviewAction,
		ReviewedAt:     e.ReviewedAt,
		RetryCount:     e.RetryCount,
		ContentHash:    e.ContentHash,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
	if e.ReviewerID != uuid.Nil {
		resp.ReviewerID = e.ReviewerID.String()
	}
	if !compliance.CanViewFullContent(viewer, e) {
		resp.DraftContent = compliance.Preview(e.DraftContent)
		resp.FinalMessage = compliance.Preview(e.FinalMessage)
		resp.Redacted = true
	}
	return resp
}

func filterFromQuery(r *http.Request) (compliance.Filter, error) {
	q := r.URL.Query()
	f := compliance.Filter{
		ActionType:     compliance.ActionType(q.Get("action_type")),
		DeliveryStatus: compliance.DeliveryStatus(q.Get("delivery_status")),
		PatientName:    q.Get("patient_name"),
	}
	if v := q.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New("start must be RFC3339")
		}
		f.Start = t
	}
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New("end must be RFC3339")
		}
		f.End = t
	}
	if v := q.Get("author_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, errors.New("invalid author id")
		}
		f.AuthorID = id
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, errors.New("invalid limit")
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, errors.New("invalid offset")
		}
		f.Offset = n
	}
	return f, nil
}
