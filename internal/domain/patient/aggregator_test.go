package patient

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func newTestAggregator() (*Aggregator, *testRepos) {
	repos := &testRepos{
		patients:   &mockPatientRepo{data: make(map[uuid.UUID]*Patient)},
		allergies:  &mockAllergyRepo{data: make(map[uuid.UUID]*Allergy)},
		conditions: &mockConditionRepo{data: make(map[uuid.UUID]*Condition)},
		meds:       &mockMedicationRepo{data: make(map[uuid.UUID]*MedicationRecord)},
		labs:       &mockLabRepo{data: make(map[uuid.UUID]*LabResult)},
	}
	agg := NewAggregator(repos.patients, repos.allergies, repos.conditions, repos.meds, repos.labs, zerolog.Nop())
	return agg, repos
}

func seedFullPatient(t *testing.T, repos *testRepos) *Patient {
	t.Helper()
	p := &Patient{
		MRN:         "MRN-100",
		FirstName:   "John",
		LastName:    "Smith",
		DateOfBirth: time.Date(1955, 1, 10, 0, 0, 0, 0, time.UTC),
	}
	repos.patients.Create(nil, p)
	repos.allergies.Create(nil, &Allergy{PatientID: p.ID, Substance: "Penicillin"})
	repos.conditions.Create(nil, &Condition{PatientID: p.ID, Name: "Atrial fibrillation", Status: "active"})
	repos.meds.Create(nil, &MedicationRecord{PatientID: p.ID, Name: "Warfarin", Status: "active", StartedAt: time.Now()})
	repos.meds.Create(nil, &MedicationRecord{PatientID: p.ID, Name: "Metoprolol", Status: "active", StartedAt: time.Now()})
	repos.labs.Create(nil, &LabResult{PatientID: p.ID, TestName: "INR", Value: "3.8", Abnormal: true, CollectedAt: time.Now()})
	return p
}

func TestAggregator_FullContext(t *testing.T) {
	agg, repos := newTestAggregator()
	p := seedFullPatient(t, repos)

	pc, err := agg.Aggregate(nil, p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if pc.Patient.ID != p.ID {
		t.Errorf("expected patient %s, got %s", p.ID, pc.Patient.ID)
	}
	if pc.Age <= 0 {
		t.Errorf("expected positive age, got %d", pc.Age)
	}
	if len(pc.Allergies) != 1 {
		t.Errorf("expected 1 allergy, got %d", len(pc.Allergies))
	}
	if len(pc.Conditions) != 1 {
		t.Errorf("expected 1 condition, got %d", len(pc.Conditions))
	}
	if len(pc.ActiveMedications) != 2 {
		t.Errorf("expected 2 active medications, got %d", len(pc.ActiveMedications))
	}
	if len(pc.RecentLabs) != 1 {
		t.Errorf("expected 1 lab, got %d", len(pc.RecentLabs))
	}
	if len(pc.MissingSources) != 0 {
		t.Errorf("expected no missing sources, got %v", pc.MissingSources)
	}
}

func TestAggregator_PatientNotFound(t *testing.T) {
	agg, _ := newTestAggregator()

	_, err := agg.Aggregate(nil, uuid.New())
	if err == nil {
		t.Fatal("expected error for missing patient")
	}
}

func TestAggregator_OptionalSourceFailureDegrades(t *testing.T) {
	agg, repos := newTestAggregator()
	p := seedFullPatient(t, repos)

	repos.allergies.fail = true
	repos.labs.fail = true

	pc, err := agg.Aggregate(nil, p.ID)
	if err != nil {
		t.Fatalf("expected aggregation to succeed despite source failures: %v", err)
	}

	if len(pc.Allergies) != 0 {
		t.Errorf("expected empty allergies on source failure, got %d", len(pc.Allergies))
	}
	if len(pc.RecentLabs) != 0 {
		t.Errorf("expected empty labs on source failure, got %d", len(pc.RecentLabs))
	}
	if len(pc.MissingSources) != 2 {
		t.Fatalf("expected 2 missing sources, got %v", pc.MissingSources)
	}

	found := map[string]bool{}
	for _, s := range pc.MissingSources {
		found[s] = true
	}
	if !found["allergies"] || !found["labs"] {
		t.Errorf("expected allergies and labs recorded as missing, got %v", pc.MissingSources)
	}

	// Untouched sources still populated
	if len(pc.ActiveMedications) != 2 {
		t.Errorf("expected medications unaffected, got %d", len(pc.ActiveMedications))
	}
}

func TestAggregator_EmptySourcesYieldEmptyLists(t *testing.T) {
	agg, repos := newTestAggregator()
	p := &Patient{
		MRN:         "MRN-200",
		FirstName:   "Empty",
		LastName:    "Chart",
		DateOfBirth: time.Date(1990, 7, 1, 0, 0, 0, 0, time.UTC),
	}
	repos.patients.Create(nil, p)

	pc, err := agg.Aggregate(nil, p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if pc.Allergies == nil || pc.Conditions == nil || pc.ActiveMedications == nil || pc.RecentLabs == nil {
		t.Error("expected empty slices, not nil")
	}
	if len(pc.MissingSources) != 0 {
		t.Errorf("expected no missing sources for empty chart, got %v", pc.MissingSources)
	}
}
