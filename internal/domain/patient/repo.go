package patient

import (
	"context"

	"github.com/google/uuid"
)

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Patient, int, error)
}

type AllergyRepository interface {
	Create(ctx context.Context, a *Allergy) error
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Allergy, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type ConditionRepository interface {
	Create(ctx context.Context, c *Condition) error
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Condition, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type MedicationRepository interface {
	Create(ctx context.Context, m *MedicationRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*MedicationRecord, error)
	Update(ctx context.Context, m *MedicationRecord) error
	ListActiveByPatient(ctx context.Context, patientID uuid.UUID) ([]*MedicationRecord, error)
	Stop(ctx context.Context, id uuid.UUID) error
}

type LabRepository interface {
	Create(ctx context.Context, l *LabResult) error
	ListRecentByPatient(ctx context.Context, patientID uuid.UUID, limit int) ([]*LabResult, error)
}
