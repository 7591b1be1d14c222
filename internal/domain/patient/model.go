package patient

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when the requested patient does not exist.
var ErrNotFound = errors.New("patient not found")

// Patient maps to the patient table.
type Patient struct {
	ID          uuid.UUID `db:"id" json:"id"`
	MRN         string    `db:"mrn" json:"mrn"`
	FirstName   string    `db:"first_name" json:"first_name"`
	LastName    string    `db:"last_name" json:"last_name"`
	DateOfBirth time.Time `db:"date_of_birth" json:"date_of_birth"`
	Sex         *string   `db:"sex" json:"sex,omitempty"`
	HeightCm    *float64  `db:"height_cm" json:"height_cm,omitempty"`
	WeightKg    *float64  `db:"weight_kg" json:"weight_kg,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Age returns the patient's age in whole years at the given time.
func (p *Patient) Age(at time.Time) int {
	years := at.Year() - p.DateOfBirth.Year()
	if at.YearDay() < p.DateOfBirth.YearDay() {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}

// Allergy maps to the patient_allergy table.
type Allergy struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PatientID uuid.UUID `db:"patient_id" json:"patient_id"`
	Substance string    `db:"substance" json:"substance"`
	Reaction  *string   `db:"reaction" json:"reaction,omitempty"`
	Severity  *string   `db:"severity" json:"severity,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Condition maps to the patient_condition table.
type Condition struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	PatientID uuid.UUID  `db:"patient_id" json:"patient_id"`
	Name      string     `db:"name" json:"name"`
	ICD10Code *string    `db:"icd10_code" json:"icd10_code,omitempty"`
	Status    string     `db:"status" json:"status"`
	OnsetDate *time.Time `db:"onset_date" json:"onset_date,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// MedicationRecord maps to the medication_record table.
type MedicationRecord struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	PatientID uuid.UUID  `db:"patient_id" json:"patient_id"`
	Name      string     `db:"name" json:"name"`
	Dose      *string    `db:"dose" json:"dose,omitempty"`
	Frequency *string    `db:"frequency" json:"frequency,omitempty"`
	Route     *string    `db:"route" json:"route,omitempty"`
	Form      *string    `db:"form" json:"form,omitempty"`
	Status    string     `db:"status" json:"status"`
	StartedAt time.Time  `db:"started_at" json:"started_at"`
	StoppedAt *time.Time `db:"stopped_at" json:"stopped_at,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// LabResult maps to the lab_result table.
type LabResult struct {
	ID             uuid.UUID `db:"id" json:"id"`
	PatientID      uuid.UUID `db:"patient_id" json:"patient_id"`
	TestName       string    `db:"test_name" json:"test_name"`
	Value          string    `db:"value" json:"value"`
	Unit           *string   `db:"unit" json:"unit,omitempty"`
	ReferenceRange *string   `db:"reference_range" json:"reference_range,omitempty"`
	Abnormal       bool      `db:"abnormal" json:"abnormal"`
	CollectedAt    time.Time `db:"collected_at" json:"collected_at"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
