package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/patient-comms-platform/internal/compliance"
	"github.com/wolfman30/patient-comms-platform/internal/identity"
	"github.com/wolfman30/patient-comms-platform/internal/workflow"
	"github.com/wolfman30/patient-comms-platform/pkg/logging"
)

type fakeWorkflow struct {
	submitted []workflow.DraftSubmission
	reviewed  []workflow.ReviewDecision
	actor     identity.Actor
	entry     *compliance.Entry
	err       error
}

func (f *fakeWorkflow) SubmitForReview(_ context.Context, author identity.Actor, sub workflow.DraftSubmission) (*compliance.Entry, error) {
	f.actor = author
	f.submitted = append(f.submitted, sub)
	return f.entry, f.err
}

func (f *fakeWorkflow) Review(_ context.Context, reviewer identity.Actor, _ uuid.UUID, decision workflow.ReviewDecision) (*compliance.Entry, error) {
	f.actor = reviewer
	f.reviewed = append(f.reviewed, decision)
	return f.entry, f.err
}

func (f *fakeWorkflow) SendDirectly(_ context.Context, author identity.Actor, sub workflow.DraftSubmission) (*compliance.Entry, error) {
	f.actor = author
	f.submitted = append(f.submitted, sub)
	return f.entry, f.err
}

type fakeAuditReader struct {
	entry   *compliance.Entry
	entries []compliance.Entry
	filter  compliance.Filter
	err     error
}

func (f *fakeAuditReader) GetByID(_ context.Context, _ compliance.Querier, _ uuid.UUID) (*compliance.Entry, error) {
	return f.entry, f.err
}

func (f *fakeAuditReader) Query(_ context.Context, _ compliance.Querier, filter compliance.Filter) ([]compliance.Entry, error) {
	f.filter = filter
	return f.entries, f.err
}

func sampleEntry(authorID uuid.UUID) *compliance.Entry {
	return &compliance.Entry{
		ID:             uuid.New(),
		AuthorID:       authorID,
		AuthorEmail:    "staff@clinic.example",
		AuthorRole:     identity.RoleStaff,
		PatientID:      uuid.New(),
		PatientName:    "Jordan Smith",
		DraftContent:   "Call us at 555-123-4567 about your results.",
		FinalMessage:   "Call us at 555-123-4567 about your results.",
		ActionType:     compliance.ActionSubmittedForReview,
		DeliveryStatus: compliance.StatusPendingReview,
		DeliveryMethod: "email",
		Recipient:      "patient@example.com",
		Priority:       "normal",
		CreatedAt:      time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
		UpdatedAt:      time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
	}
}

func withActor(req *http.Request, actor identity.Actor) *http.Request {
	req.Header.Set("X-Actor-Id", actor.ID.String())
	req.Header.Set("X-Actor-Email", actor.Email)
	req.Header.Set("X-Actor-Role", string(actor.Role))
	return req
}

func staffActor() identity.Actor {
	return identity.Actor{ID: uuid.New(), Email: "staff@clinic.example", Role: identity.RoleStaff}
}

func TestSubmitCreatesEntry(t *testing.T) {
	author := staffActor()
	engine := &fakeWorkflow{entry: sampleEntry(author.ID)}
	h := NewMessagesHandler(engine, &fakeAuditReader{}, logging.New("error"))

	body := `{
		"patient_id": "` + uuid.NewString() + `",
		"patient_name": "Jordan Smith",
		"draft_content": "Your results are ready.",
		"delivery_method": "email",
		"recipient": "patient@example.com",
		"priority": "normal"
	}`
	req := withActor(httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(body)), author)
	rec := httptest.NewRecorder()
	h.Submit(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if len(engine.submitted) != 1 {
		t.Fatalf("submissions = %d", len(engine.submitted))
	}
	if engine.actor.ID != author.ID || engine.actor.Role != identity.RoleStaff {
		t.Errorf("actor not propagated: %+v", engine.actor)
	}
	if engine.submitted[0].DraftContent != "Your results are ready." {
		t.Errorf("draft content = %q", engine.submitted[0].DraftContent)
	}
}

func TestSubmitRequiresActorHeaders(t *testing.T) {
	engine := &fakeWorkflow{}
	h := NewMessagesHandler(engine, &fakeAuditReader{}, logging.New("error"))

	req := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.Submit(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(engine.submitted) != 0 {
		t.Fatal("unauthenticated request must not reach the engine")
	}
}

func TestSubmitMapsPermissionDenied(t *testing.T) {
	engine := &fakeWorkflow{err: workflow.ErrPermissionDenied}
	h := NewMessagesHandler(engine, &fakeAuditReader{}, logging.New("error"))

	body := `{"patient_id": "` + uuid.NewString() + `", "draft_content": "x"}`
	req := withActor(httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(body)), staffActor())
	rec := httptest.NewRecorder()
	h.Submit(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
}

func reviewRequestFor(t *testing.T, entryID uuid.UUID, actor identity.Actor, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/messages/"+entryID.String()+"/review", strings.NewReader(body))
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("entryID", entryID.String())
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	return withActor(req, actor)
}

func TestReviewMapsInvalidTransition(t *testing.T) {
	engine := &fakeWorkflow{err: workflow.ErrInvalidTransition}
	h := NewMessagesHandler(engine, &fakeAuditReader{}, logging.New("error"))

	reviewer := identity.Actor{ID: uuid.New(), Role: identity.RoleReviewer}
	rec := httptest.NewRecorder()
	h.Review(rec, reviewRequestFor(t, uuid.New(), reviewer, `{"action": "approve"}`))

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
}

func TestReviewPassesDecision(t *testing.T) {
	reviewer := identity.Actor{ID: uuid.New(), Role: identity.RoleReviewer}
	engine := &fakeWorkflow{entry: sampleEntry(uuid.New())}
	h := NewMessagesHandler(engine, &fakeAuditReader{}, logging.New("error"))

	rec := httptest.NewRecorder()
	h.Review(rec, reviewRequestFor(t, engine.entry.ID, reviewer,
		`{"action": "approve", "notes": "lgtm", "edited_final_message": "Final text."}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if len(engine.reviewed) != 1 {
		t.Fatalf("reviews = %d", len(engine.reviewed))
	}
	d := engine.reviewed[0]
	if d.Action != "approve" || d.Notes != "lgtm" || d.EditedFinalMessage != "Final text." {
		t.Errorf("decision = %+v", d)
	}
}

func TestGetRedactsForUnrelatedStaff(t *testing.T) {
	entry := sampleEntry(uuid.New())
	audit := &fakeAuditReader{entry: entry}
	h := NewMessagesHandler(&fakeWorkflow{}, audit, logging.New("error"))

	viewer := staffActor() // not the author
	req := httptest.NewRequest(http.MethodGet, "/api/messages/"+entry.ID.String(), nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("entryID", entry.ID.String())
	req = withActor(req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx)), viewer)

	rec := httptest.NewRecorder()
	h.Get(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var resp entryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Redacted {
		t.Fatal("expected redacted response for unrelated staff viewer")
	}
	if strings.Contains(resp.FinalMessage, "555-123-4567") {
		t.Errorf("raw phone number leaked: %q", resp.FinalMessage)
	}
}

func TestGetFullContentForAuditor(t *testing.T) {
	entry := sampleEntry(uuid.New())
	audit := &fakeAuditReader{entry: entry}
	h := NewMessagesHandler(&fakeWorkflow{}, audit, logging.New("error"))

	auditor := identity.Actor{ID: uuid.New(), Role: identity.RoleAuditor}
	req := httptest.NewRequest(http.MethodGet, "/api/messages/"+entry.ID.String(), nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("entryID", entry.ID.String())
	req = withActor(req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx)), auditor)

	rec := httptest.NewRecorder()
	h.Get(rec, req)

	var resp entryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Redacted {
		t.Fatal("auditor must see full content")
	}
	if resp.FinalMessage != entry.FinalMessage {
		t.Errorf("final message = %q", resp.FinalMessage)
	}
}

func TestListParsesFilters(t *testing.T) {
	audit := &fakeAuditReader{}
	h := NewMessagesHandler(&fakeWorkflow{}, audit, logging.New("error"))

	req := withActor(httptest.NewRequest(http.MethodGet,
		"/api/messages?delivery_status=sent&patient_name=Smith&limit=10", nil), staffActor())
	rec := httptest.NewRecorder()
	h.List(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if audit.filter.DeliveryStatus != compliance.StatusSent {
		t.Errorf("delivery status filter = %q", audit.filter.DeliveryStatus)
	}
	if audit.filter.PatientName != "Smith" || audit.filter.Limit != 10 {
		t.Errorf("filter = %+v", audit.filter)
	}
}
