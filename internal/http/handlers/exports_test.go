package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/wolfman30/patient-comms-platform/internal/identity"
	"github.com/wolfman30/patient-comms-platform/internal/queue"
	"github.com/wolfman30/patient-comms-platform/pkg/logging"
)

type fakeProducer struct {
	jobs []queue.Job
	err  error
}

func (f *fakeProducer) Enqueue(_ context.Context, job queue.Job, _ queue.EnqueueOptions) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func TestCreateExportEnqueuesJob(t *testing.T) {
	producer := &fakeProducer{}
	h := NewExportsHandler(producer, logging.New("error"))

	auditor := identity.Actor{ID: uuid.New(), Email: "auditor@clinic.example", Role: identity.RoleAuditor}
	body := `{
		"format": "csv",
		"include_full_content": true,
		"filters": {"patient_name": "Smith", "delivery_status": "delivered"}
	}`
	req := withActor(httptest.NewRequest(http.MethodPost, "/api/exports", strings.NewReader(body)), auditor)
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if len(producer.jobs) != 1 {
		t.Fatalf("jobs = %d", len(producer.jobs))
	}
	job := producer.jobs[0]
	if job.Kind != queue.KindExport || job.Export == nil {
		t.Fatalf("job = %+v", job)
	}
	if job.Export.UserRole != "auditor" || !job.Export.IncludeFullContent {
		t.Errorf("export job = %+v", job.Export)
	}
	if job.Export.Filters.PatientName != "Smith" {
		t.Errorf("filters = %+v", job.Export.Filters)
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["export_id"] != job.Export.ExportID.String() {
		t.Errorf("export_id = %q", resp["export_id"])
	}
}

func TestCreateExportRejectsPatientRole(t *testing.T) {
	producer := &fakeProducer{}
	h := NewExportsHandler(producer, logging.New("error"))

	patient := identity.Actor{ID: uuid.New(), Role: identity.RolePatient}
	req := withActor(httptest.NewRequest(http.MethodPost, "/api/exports",
		strings.NewReader(`{"format": "csv"}`)), patient)
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(producer.jobs) != 0 {
		t.Fatal("patient request must not enqueue")
	}
}

func TestCreateExportRejectsUnknownFormat(t *testing.T) {
	h := NewExportsHandler(&fakeProducer{}, logging.New("error"))

	req := withActor(httptest.NewRequest(http.MethodPost, "/api/exports",
		strings.NewReader(`{"format": "xlsx"}`)), staffActor())
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
}
