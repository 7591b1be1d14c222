package patient

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// recentLabCount bounds how many lab results are pulled into the context.
const recentLabCount = 20

// Context is the consolidated clinical picture assembled for one patient.
// MissingSources names the optional data sources that could not be fetched;
// their slices are left empty rather than failing the aggregation.
type Context struct {
	Patient           *Patient            `json:"patient"`
	Age               int                 `json:"age"`
	Allergies         []*Allergy          `json:"allergies"`
	Conditions        []*Condition        `json:"conditions"`
	ActiveMedications []*MedicationRecord `json:"active_medications"`
	RecentLabs        []*LabResult        `json:"recent_labs"`
	MissingSources    []string            `json:"missing_sources,omitempty"`
}

// Aggregator assembles a Context from the per-source repositories. Only the
// patient record itself is mandatory; every other source degrades to an
// empty list when unavailable.
type Aggregator struct {
	patients   PatientRepository
	allergies  AllergyRepository
	conditions ConditionRepository
	meds       MedicationRepository
	labs       LabRepository
	logger     zerolog.Logger
}

func NewAggregator(
	patients PatientRepository,
	allergies AllergyRepository,
	conditions ConditionRepository,
	meds MedicationRepository,
	labs LabRepository,
	logger zerolog.Logger,
) *Aggregator {
	return &Aggregator{
		patients:   patients,
		allergies:  allergies,
		conditions: conditions,
		meds:       meds,
		labs:       labs,
		logger:     logger,
	}
}

// Aggregate builds the clinical context for a patient. Returns ErrNotFound
// (possibly wrapped) when the patient record is missing.
func (a *Aggregator) Aggregate(ctx context.Context, patientID uuid.UUID) (*Context, error) {
	p, err := a.patients.GetByID(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("load patient %s: %w", patientID, err)
	}

	pc := &Context{
		Patient:           p,
		Age:               p.Age(time.Now()),
		Allergies:         []*Allergy{},
		Conditions:        []*Condition{},
		ActiveMedications: []*MedicationRecord{},
		RecentLabs:        []*LabResult{},
	}

	if allergies, err := a.allergies.ListByPatient(ctx, patientID); err != nil {
		a.recordMissing(pc, "allergies", err)
	} else if allergies != nil {
		pc.Allergies = allergies
	}

	if conditions, err := a.conditions.ListByPatient(ctx, patientID); err != nil {
		a.recordMissing(pc, "conditions", err)
	} else if conditions != nil {
		pc.Conditions = conditions
	}

	if meds, err := a.meds.ListActiveByPatient(ctx, patientID); err != nil {
		a.recordMissing(pc, "medications", err)
	} else if meds != nil {
		pc.ActiveMedications = meds
	}

	if labs, err := a.labs.ListRecentByPatient(ctx, patientID, recentLabCount); err != nil {
		a.recordMissing(pc, "labs", err)
	} else if labs != nil {
		pc.RecentLabs = labs
	}

	return pc, nil
}

func (a *Aggregator) recordMissing(pc *Context, source string, err error) {
	a.logger.Warn().Err(err).
		Str("patient_id", pc.Patient.ID.String()).
		Str("source", source).
		Msg("patient data source unavailable")
	pc.MissingSources = append(pc.MissingSources, source)
}
