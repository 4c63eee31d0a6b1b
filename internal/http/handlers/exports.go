package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/patient-comms-platform/internal/identity"
	"github.com/wolfman30/patient-comms-platform/internal/queue"
	"github.com/wolfman30/patient-comms-platform/pkg/logging"
)

// jobProducer enqueues background jobs.
type jobProducer interface {
	Enqueue(ctx context.Context, job queue.Job, opts queue.EnqueueOptions) error
}

// ExportsHandler accepts compliance export requests and hands them to the
// background queue. Rendering happens in the worker; the response carries
// the export id the artifact will be stored under.
type ExportsHandler struct {
	producer jobProducer
	logger   *logging.Logger
}

func NewExportsHandler(producer jobProducer, logger *logging.Logger) *ExportsHandler {
	if producer == nil {
		panic("handlers: job producer cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ExportsHandler{producer: producer, logger: logger}
}

type exportRequest struct {
	Format             string `json:"format"` // csv or json
	IncludeFullContent bool   `json:"include_full_content,omitempty"`
	Filters            struct {
		Start          string `json:"start,omitempty"`
		End            string `json:"end,omitempty"`
		UserID         string `json:"user_id,omitempty"`
		ActionType     string `json:"action_type,omitempty"`
		DeliveryStatus string `json:"delivery_status,omitempty"`
		PatientName    string `json:"patient_name,omitempty"`
	} `json:"filters"`
}

// Create enqueues an export job. Staff and above may request exports; full
// content still requires auditor privileges and is enforced by the export
// processor, not here.
func (h *ExportsHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if !actor.Role.AtLeast(identity.RoleStaff) {
		writeError(w, http.StatusForbidden, "exports require staff role")
		return
	}

	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := req.toJob(actor)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.producer.Enqueue(r.Context(), queue.NewExportJob(job), queue.EnqueueOptions{}); err != nil {
		if errors.Is(err, queue.ErrInvalidJob) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to enqueue export", "error", err, "export_id", job.ExportID)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}

	h.logger.Info("export requested",
		"export_id", job.ExportID,
		"format", job.Format,
		"requested_by", actor.ID,
	)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"export_id": job.ExportID.String(),
		"format":    job.Format,
	})
}

func (r exportRequest) toJob(actor identity.Actor) (queue.ExportJob, error) {
	job := queue.ExportJob{
		ExportID:           uuid.New(),
		UserID:             actor.ID,
		UserRole:           string(actor.Role),
		Format:             r.Format,
		IncludeFullContent: r.IncludeFullContent,
	}
	if r.Format != "csv" && r.Format != "json" {
		return job, errors.New("format must be csv or json")
	}
	if v := r.Filters.Start; v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return job, errors.New("filters.start must be RFC3339")
		}
		job.Filters.Start = t
	}
	if v := r.Filters.End; v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return job, errors.New("filters.end must be RFC3339")
		}
		job.Filters.End = t
	}
	if v := r.Filters.UserID; v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return job, errors.New("filters.user_id must be a uuid")
		}
		job.Filters.UserID = id
	}
	job.Filters.ActionType = r.Filters.ActionType
	job.Filters.DeliveryStatus = r.Filters.DeliveryStatus
	job.Filters.PatientName = r.Filters.PatientName
	return job, nil
}
