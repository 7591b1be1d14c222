package patient

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type Service struct {
	patients   PatientRepository
	allergies  AllergyRepository
	conditions ConditionRepository
	meds       MedicationRepository
	labs       LabRepository
	aggregator *Aggregator
}

func NewService(
	patients PatientRepository,
	allergies AllergyRepository,
	conditions ConditionRepository,
	meds MedicationRepository,
	labs LabRepository,
	aggregator *Aggregator,
) *Service {
	return &Service{
		patients:   patients,
		allergies:  allergies,
		conditions: conditions,
		meds:       meds,
		labs:       labs,
		aggregator: aggregator,
	}
}

// -- Patient --

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	if p.MRN == "" {
		return fmt.Errorf("mrn is required")
	}
	if p.FirstName == "" {
		return fmt.Errorf("first_name is required")
	}
	if p.LastName == "" {
		return fmt.Errorf("last_name is required")
	}
	if p.DateOfBirth.IsZero() {
		return fmt.Errorf("date_of_birth is required")
	}
	return s.patients.Create(ctx, p)
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) UpdatePatient(ctx context.Context, p *Patient) error {
	return s.patients.Update(ctx, p)
}

func (s *Service) DeletePatient(ctx context.Context, id uuid.UUID) error {
	return s.patients.Delete(ctx, id)
}

func (s *Service) ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.patients.List(ctx, limit, offset)
}

// GetContext assembles the consolidated clinical context for a patient.
func (s *Service) GetContext(ctx context.Context, id uuid.UUID) (*Context, error) {
	return s.aggregator.Aggregate(ctx, id)
}

// -- Allergy --

func (s *Service) AddAllergy(ctx context.Context, a *Allergy) error {
	if a.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if a.Substance == "" {
		return fmt.Errorf("substance is required")
	}
	return s.allergies.Create(ctx, a)
}

func (s *Service) ListAllergies(ctx context.Context, patientID uuid.UUID) ([]*Allergy, error) {
	return s.allergies.ListByPatient(ctx, patientID)
}

func (s *Service) DeleteAllergy(ctx context.Context, id uuid.UUID) error {
	return s.allergies.Delete(ctx, id)
}

// -- Condition --

var validConditionStatuses = map[string]bool{
	"active": true, "resolved": true, "inactive": true,
}

func (s *Service) AddCondition(ctx context.Context, c *Condition) error {
	if c.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.Status == "" {
		c.Status = "active"
	}
	if !validConditionStatuses[c.Status] {
		return fmt.Errorf("invalid status: %s", c.Status)
	}
	return s.conditions.Create(ctx, c)
}

func (s *Service) ListConditions(ctx context.Context, patientID uuid.UUID) ([]*Condition, error) {
	return s.conditions.ListByPatient(ctx, patientID)
}

func (s *Service) DeleteCondition(ctx context.Context, id uuid.UUID) error {
	return s.conditions.Delete(ctx, id)
}

// -- Medication --

var validMedicationStatuses = map[string]bool{
	"active": true, "stopped": true, "on-hold": true,
}

func (s *Service) AddMedication(ctx context.Context, m *MedicationRecord) error {
	if m.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if m.Name == "" {
		return fmt.Errorf("name is required")
	}
	if m.Status != "" && !validMedicationStatuses[m.Status] {
		return fmt.Errorf("invalid status: %s", m.Status)
	}
	return s.meds.Create(ctx, m)
}

func (s *Service) GetMedication(ctx context.Context, id uuid.UUID) (*MedicationRecord, error) {
	return s.meds.GetByID(ctx, id)
}

func (s *Service) UpdateMedication(ctx context.Context, m *MedicationRecord) error {
	if m.Status != "" && !validMedicationStatuses[m.Status] {
		return fmt.Errorf("invalid status: %s", m.Status)
	}
	return s.meds.Update(ctx, m)
}

func (s *Service) ListActiveMedications(ctx context.Context, patientID uuid.UUID) ([]*MedicationRecord, error) {
	return s.meds.ListActiveByPatient(ctx, patientID)
}

func (s *Service) StopMedication(ctx context.Context, id uuid.UUID) error {
	return s.meds.Stop(ctx, id)
}

// -- Lab --

func (s *Service) AddLabResult(ctx context.Context, l *LabResult) error {
	if l.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if l.TestName == "" {
		return fmt.Errorf("test_name is required")
	}
	if l.Value == "" {
		return fmt.Errorf("value is required")
	}
	return s.labs.Create(ctx, l)
}

func (s *Service) ListRecentLabs(ctx context.Context, patientID uuid.UUID, limit int) ([]*LabResult, error) {
	if limit <= 0 {
		limit = recentLabCount
	}
	return s.labs.ListRecentByPatient(ctx, patientID, limit)
}
