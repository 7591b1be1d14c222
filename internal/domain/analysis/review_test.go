package analysis

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/rxsense/rxsense/internal/domain/patient"
	"github.com/rxsense/rxsense/internal/domain/safety"
	"github.com/rxsense/rxsense/internal/platform/notification"
)

type mockReviewRepo struct {
	reviews     map[uuid.UUID]*Review
	adjustments map[uuid.UUID][]*Adjustment
}

func (m *mockReviewRepo) Create(ctx context.Context, rv *Review) error {
	rv.ID = uuid.New()
	rv.CreatedAt = time.Now()
	m.reviews[rv.ID] = rv
	return nil
}

func (m *mockReviewRepo) GetByID(ctx context.Context, id uuid.UUID) (*Review, error) {
	rv, ok := m.reviews[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return rv, nil
}

func (m *mockReviewRepo) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*Review, error) {
	var items []*Review
	for _, rv := range m.reviews {
		if rv.RequestID == requestID {
			items = append(items, rv)
		}
	}
	return items, nil
}

func (m *mockReviewRepo) AddAdjustment(ctx context.Context, a *Adjustment) error {
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	m.adjustments[a.ReviewID] = append(m.adjustments[a.ReviewID], a)
	return nil
}

func (m *mockReviewRepo) GetAdjustments(ctx context.Context, reviewID uuid.UUID) ([]*Adjustment, error) {
	return m.adjustments[reviewID], nil
}

type mockMedRepo struct {
	data map[uuid.UUID]*patient.MedicationRecord
}

func (m *mockMedRepo) Create(ctx context.Context, rec *patient.MedicationRecord) error {
	rec.ID = uuid.New()
	m.data[rec.ID] = rec
	return nil
}

func (m *mockMedRepo) GetByID(ctx context.Context, id uuid.UUID) (*patient.MedicationRecord, error) {
	rec, ok := m.data[id]
	if !ok {
		return nil, patient.ErrNotFound
	}
	return rec, nil
}

func (m *mockMedRepo) Update(ctx context.Context, rec *patient.MedicationRecord) error {
	if _, ok := m.data[rec.ID]; !ok {
		return patient.ErrNotFound
	}
	m.data[rec.ID] = rec
	return nil
}

func (m *mockMedRepo) ListActiveByPatient(ctx context.Context, patientID uuid.UUID) ([]*patient.MedicationRecord, error) {
	var items []*patient.MedicationRecord
	for _, rec := range m.data {
		if rec.PatientID == patientID && rec.Status == "active" {
			items = append(items, rec)
		}
	}
	return items, nil
}

func (m *mockMedRepo) Stop(ctx context.Context, id uuid.UUID) error {
	rec, ok := m.data[id]
	if !ok {
		return patient.ErrNotFound
	}
	rec.Status = "stopped"
	return nil
}

type mockAllergyRepo struct {
	data map[uuid.UUID]*patient.Allergy
}

func (m *mockAllergyRepo) Create(ctx context.Context, a *patient.Allergy) error {
	a.ID = uuid.New()
	m.data[a.ID] = a
	return nil
}

func (m *mockAllergyRepo) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*patient.Allergy, error) {
	var items []*patient.Allergy
	for _, a := range m.data {
		if a.PatientID == patientID {
			items = append(items, a)
		}
	}
	return items, nil
}

func (m *mockAllergyRepo) Delete(ctx context.Context, id uuid.UUID) error {
	delete(m.data, id)
	return nil
}

type reviewDeps struct {
	reviews   *mockReviewRepo
	requests  *mockRequestRepo
	meds      *mockMedRepo
	allergies *mockAllergyRepo
	alerts    *mockAlerter
	recorder  *mockRecorder
}

func newTestReviewService() (*ReviewService, *reviewDeps) {
	deps := &reviewDeps{
		reviews:   &mockReviewRepo{reviews: make(map[uuid.UUID]*Review), adjustments: make(map[uuid.UUID][]*Adjustment)},
		requests:  &mockRequestRepo{data: make(map[uuid.UUID]*Request)},
		meds:      &mockMedRepo{data: make(map[uuid.UUID]*patient.MedicationRecord)},
		allergies: &mockAllergyRepo{data: make(map[uuid.UUID]*patient.Allergy)},
		alerts:    &mockAlerter{},
		recorder:  &mockRecorder{},
	}
	checker := safety.NewEngine(nil, 2, zerolog.Nop())
	svc := NewReviewService(deps.reviews, deps.requests, deps.meds, deps.allergies, checker,
		deps.alerts, deps.recorder, "physician@rxsense.local", zerolog.Nop())
	return svc, deps
}

func seedCompletedRequest(t *testing.T, deps *reviewDeps) *Request {
	t.Helper()
	req := &Request{
		PatientID:       uuid.New(),
		RequestedByID:   uuid.New(),
		ConsentObtained: true,
		Status:          StatusCompleted,
		Input:           Input{Symptoms: []string{"fever"}},
	}
	if err := deps.requests.Create(context.Background(), req); err != nil {
		t.Fatalf("seed request: %v", err)
	}
	deps.requests.data[req.ID].Status = StatusCompleted
	return req
}

func strPtr(s string) *string { return &s }

// ── Review Tests ──

func TestSubmitReview_Approve(t *testing.T) {
	svc, deps := newTestReviewService()
	req := seedCompletedRequest(t, deps)

	rv := &Review{RequestID: req.ID, ReviewerID: uuid.New(), Decision: DecisionApproved}
	if err := svc.SubmitReview(context.Background(), rv); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rv.ID == uuid.Nil {
		t.Error("expected review id assigned")
	}
	if !deps.recorder.has("analysis.review.approved") {
		t.Error("expected review audit event")
	}
	if len(deps.alerts.sent) != 0 {
		t.Errorf("approval must not alert, got %v", deps.alerts.sent)
	}
}

func TestSubmitReview_OnlyCompleted(t *testing.T) {
	svc, deps := newTestReviewService()
	req := seedCompletedRequest(t, deps)
	deps.requests.data[req.ID].Status = StatusProcessing

	err := svc.SubmitReview(context.Background(), &Review{
		RequestID: req.ID, ReviewerID: uuid.New(), Decision: DecisionApproved,
	})
	if CodeOf(err) != CodeInvalidState {
		t.Fatalf("expected INVALID_STATE, got %v", err)
	}
}

func TestSubmitReview_RejectRequiresReason(t *testing.T) {
	svc, deps := newTestReviewService()
	req := seedCompletedRequest(t, deps)

	err := svc.SubmitReview(context.Background(), &Review{
		RequestID: req.ID, ReviewerID: uuid.New(), Decision: DecisionRejected,
	})
	if CodeOf(err) != CodeMissingReason {
		t.Fatalf("expected MISSING_REASON, got %v", err)
	}

	err = svc.SubmitReview(context.Background(), &Review{
		RequestID: req.ID, ReviewerID: uuid.New(), Decision: DecisionRejected,
		Reason: strPtr("assessment contradicts recent labs"),
	})
	if err != nil {
		t.Fatalf("rejection with reason must succeed: %v", err)
	}
}

func TestSubmitReview_ModifiedRequiresDetail(t *testing.T) {
	svc, deps := newTestReviewService()
	req := seedCompletedRequest(t, deps)

	err := svc.SubmitReview(context.Background(), &Review{
		RequestID: req.ID, ReviewerID: uuid.New(), Decision: DecisionModified,
	})
	if err == nil {
		t.Fatal("expected error for modified review without detail")
	}
}

func TestSubmitReview_InvalidDecision(t *testing.T) {
	svc, deps := newTestReviewService()
	req := seedCompletedRequest(t, deps)

	err := svc.SubmitReview(context.Background(), &Review{
		RequestID: req.ID, ReviewerID: uuid.New(), Decision: "deferred",
	})
	if err == nil {
		t.Fatal("expected error for unknown decision")
	}
}

func TestSubmitReview_EscalationNotifies(t *testing.T) {
	svc, deps := newTestReviewService()
	req := seedCompletedRequest(t, deps)

	err := svc.SubmitReview(context.Background(), &Review{
		RequestID: req.ID, ReviewerID: uuid.New(), Decision: DecisionEscalated,
		Reason: strPtr("possible sepsis, needs physician now"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deps.alerts.sent) != 1 || deps.alerts.sent[0] != notification.TemplatePhysicianEscalation {
		t.Errorf("expected one escalation notification, got %v", deps.alerts.sent)
	}
}

// ── Adjustment Tests ──

func seedReview(t *testing.T, svc *ReviewService, deps *reviewDeps, decision string) *Review {
	t.Helper()
	req := seedCompletedRequest(t, deps)
	rv := &Review{RequestID: req.ID, ReviewerID: uuid.New(), Decision: decision}
	if decision == DecisionRejected {
		rv.Reason = strPtr("not clinically sound")
	}
	if decision == DecisionModified {
		rv.Modification = strPtr("halve the dose")
	}
	if err := svc.SubmitReview(context.Background(), rv); err != nil {
		t.Fatalf("seed review: %v", err)
	}
	return rv
}

func TestImplementAdjustments_Start(t *testing.T) {
	svc, deps := newTestReviewService()
	rv := seedReview(t, svc, deps, DecisionApproved)

	results, err := svc.ImplementAdjustments(context.Background(), rv.ID, []AdjustmentInput{
		{Action: AdjustStart, Medication: "Azithromycin", Dose: strPtr("500 mg")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].Outcome != AdjustmentApplied {
		t.Fatalf("expected one applied adjustment, got %+v", results)
	}
	if len(deps.meds.data) != 1 {
		t.Errorf("expected medication created, got %d records", len(deps.meds.data))
	}
}

func TestImplementAdjustments_StopAndDose(t *testing.T) {
	svc, deps := newTestReviewService()
	rv := seedReview(t, svc, deps, DecisionModified)

	req, _ := deps.requests.GetByID(context.Background(), rv.RequestID)
	warfarin := &patient.MedicationRecord{PatientID: req.PatientID, Name: "Warfarin", Status: "active"}
	metformin := &patient.MedicationRecord{PatientID: req.PatientID, Name: "Metformin", Status: "active"}
	deps.meds.Create(context.Background(), warfarin)
	deps.meds.Create(context.Background(), metformin)

	results, err := svc.ImplementAdjustments(context.Background(), rv.ID, []AdjustmentInput{
		{Action: AdjustStop, Medication: "Warfarin", MedicationID: &warfarin.ID},
		{Action: AdjustChangeDose, Medication: "Metformin", MedicationID: &metformin.ID, Dose: strPtr("500 mg")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, r := range results {
		if r.Outcome != AdjustmentApplied {
			t.Errorf("adjustment %d: expected applied, got %s (%v)", i, r.Outcome, r.Detail)
		}
	}
	if deps.meds.data[warfarin.ID].Status != "stopped" {
		t.Error("expected warfarin stopped")
	}
	if deps.meds.data[metformin.ID].Dose == nil || *deps.meds.data[metformin.ID].Dose != "500 mg" {
		t.Error("expected metformin dose updated")
	}
}

func TestImplementAdjustments_PartialFailure(t *testing.T) {
	svc, deps := newTestReviewService()
	rv := seedReview(t, svc, deps, DecisionApproved)

	missingID := uuid.New()
	results, err := svc.ImplementAdjustments(context.Background(), rv.ID, []AdjustmentInput{
		{Action: AdjustStop, Medication: "Ghost", MedicationID: &missingID},
		{Action: AdjustStart, Medication: "Azithromycin"},
		{Action: "pause", Medication: "Warfarin"},
	})
	if err != nil {
		t.Fatalf("partial failure must not fail the batch: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected all items attempted, got %d", len(results))
	}
	if results[0].Outcome != AdjustmentFailed {
		t.Errorf("missing medication should fail, got %s", results[0].Outcome)
	}
	if results[1].Outcome != AdjustmentApplied {
		t.Errorf("valid start should apply, got %s", results[1].Outcome)
	}
	if results[2].Outcome != AdjustmentFailed {
		t.Errorf("unknown action should fail, got %s", results[2].Outcome)
	}

	stored, _ := deps.reviews.GetAdjustments(context.Background(), rv.ID)
	if len(stored) != 3 {
		t.Errorf("expected every attempt recorded, got %d", len(stored))
	}
}

func TestImplementAdjustments_RejectedReview(t *testing.T) {
	svc, deps := newTestReviewService()
	rv := seedReview(t, svc, deps, DecisionRejected)

	_, err := svc.ImplementAdjustments(context.Background(), rv.ID, []AdjustmentInput{
		{Action: AdjustStart, Medication: "Azithromycin"},
	})
	if CodeOf(err) != CodeInvalidState {
		t.Fatalf("expected INVALID_STATE for rejected review, got %v", err)
	}
}

func TestImplementAdjustments_StartBlockedByAllergy(t *testing.T) {
	svc, deps := newTestReviewService()
	rv := seedReview(t, svc, deps, DecisionApproved)

	req, _ := deps.requests.GetByID(context.Background(), rv.RequestID)
	deps.allergies.Create(context.Background(), &patient.Allergy{
		PatientID: req.PatientID,
		Substance: "Penicillin",
		Severity:  strPtr("severe"),
	})

	results, err := svc.ImplementAdjustments(context.Background(), rv.ID, []AdjustmentInput{
		{Action: AdjustStart, Medication: "Penicillin V", Dose: strPtr("250 mg")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].Outcome != AdjustmentBlocked {
		t.Fatalf("expected blocked adjustment, got %+v", results)
	}
	if results[0].Detail == nil || !strings.Contains(*results[0].Detail, "DO NOT PRESCRIBE") {
		t.Errorf("expected allergy finding in detail, got %v", results[0].Detail)
	}
	if len(deps.meds.data) != 0 {
		t.Errorf("blocked start must not create a medication record, got %d", len(deps.meds.data))
	}
	if !deps.recorder.has("analysis.adjustment.blocked") {
		t.Error("expected blocked-adjustment audit event")
	}
}

func TestImplementAdjustments_SafeStartStillApplies(t *testing.T) {
	svc, deps := newTestReviewService()
	rv := seedReview(t, svc, deps, DecisionApproved)

	req, _ := deps.requests.GetByID(context.Background(), rv.RequestID)
	deps.allergies.Create(context.Background(), &patient.Allergy{
		PatientID: req.PatientID,
		Substance: "Penicillin",
	})

	results, err := svc.ImplementAdjustments(context.Background(), rv.ID, []AdjustmentInput{
		{Action: AdjustStart, Medication: "Azithromycin", Dose: strPtr("500 mg")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].Outcome != AdjustmentApplied {
		t.Fatalf("unrelated allergy must not block, got %+v", results)
	}
	if len(deps.meds.data) != 1 {
		t.Errorf("expected medication created, got %d records", len(deps.meds.data))
	}
}

func TestImplementAdjustments_FrequencyChange(t *testing.T) {
	svc, deps := newTestReviewService()
	rv := seedReview(t, svc, deps, DecisionModified)

	req, _ := deps.requests.GetByID(context.Background(), rv.RequestID)
	metformin := &patient.MedicationRecord{PatientID: req.PatientID, Name: "Metformin", Status: "active",
		Frequency: strPtr("once daily")}
	deps.meds.Create(context.Background(), metformin)

	results, err := svc.ImplementAdjustments(context.Background(), rv.ID, []AdjustmentInput{
		{Action: AdjustChangeFrequency, Medication: "Metformin", MedicationID: &metformin.ID,
			Frequency: strPtr("twice daily")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results[0].Outcome != AdjustmentApplied {
		t.Fatalf("expected applied, got %s (%v)", results[0].Outcome, results[0].Detail)
	}
	if got := deps.meds.data[metformin.ID].Frequency; got == nil || *got != "twice daily" {
		t.Errorf("expected frequency updated, got %v", got)
	}
}

func TestImplementAdjustments_FormulationChange(t *testing.T) {
	svc, deps := newTestReviewService()
	rv := seedReview(t, svc, deps, DecisionModified)

	req, _ := deps.requests.GetByID(context.Background(), rv.RequestID)
	metformin := &patient.MedicationRecord{PatientID: req.PatientID, Name: "Metformin", Status: "active",
		Form: strPtr("tablet")}
	deps.meds.Create(context.Background(), metformin)

	results, err := svc.ImplementAdjustments(context.Background(), rv.ID, []AdjustmentInput{
		{Action: AdjustChangeForm, Medication: "Metformin", MedicationID: &metformin.ID,
			Formulation: strPtr("extended-release tablet")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results[0].Outcome != AdjustmentApplied {
		t.Fatalf("expected applied, got %s (%v)", results[0].Outcome, results[0].Detail)
	}
	if got := deps.meds.data[metformin.ID].Form; got == nil || *got != "extended-release tablet" {
		t.Errorf("expected formulation updated, got %v", got)
	}

	_, err = svc.ImplementAdjustments(context.Background(), rv.ID, []AdjustmentInput{
		{Action: AdjustChangeForm, Medication: "Metformin", MedicationID: &metformin.ID},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored, _ := deps.reviews.GetAdjustments(context.Background(), rv.ID)
	last := stored[len(stored)-1]
	if last.Outcome != AdjustmentFailed {
		t.Errorf("formulation change without a formulation should fail, got %s", last.Outcome)
	}
}
