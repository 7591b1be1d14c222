// Package safety screens proposed medications against a patient's
// allergies, active medications, and the drug interaction catalog.
package safety

import (
	"time"

	"github.com/google/uuid"
)

// Severity levels, strongest first.
const (
	SeverityCritical = "critical"
	SeverityMajor    = "major"
	SeverityModerate = "moderate"
	SeverityMinor    = "minor"
)

// severityRank orders severities for comparison. Unknown values rank
// below minor so a bad catalog row can never outrank a known severity.
var severityRank = map[string]int{
	SeverityCritical: 4,
	SeverityMajor:    3,
	SeverityModerate: 2,
	SeverityMinor:    1,
}

// SeverityAtLeast reports whether a ranks at or above b.
func SeverityAtLeast(a, b string) bool {
	return severityRank[a] >= severityRank[b]
}

// Finding check types.
const (
	CheckAllergy          = "allergy"
	CheckInteraction      = "drug_interaction"
	CheckDuplicateTherapy = "duplicate_therapy"
)

// Finding is a single safety concern for one proposed medication.
type Finding struct {
	Type       string `json:"type"`
	Severity   string `json:"severity"`
	Medication string `json:"medication"`
	RelatedTo  string `json:"related_to,omitempty"`
	Message    string `json:"message"`
	Management string `json:"management,omitempty"`
}

// Report is the outcome of a full safety check. CriticalIssues is the
// subset of Findings with critical or major severity.
type Report struct {
	Findings       []Finding `json:"findings"`
	CriticalIssues []Finding `json:"critical_issues"`
	CheckedAt      time.Time `json:"checked_at"`
}

// HasCritical reports whether any finding demands escalation.
func (r *Report) HasCritical() bool {
	return len(r.CriticalIssues) > 0
}

// DrugInteraction maps to the drug_interaction table.
type DrugInteraction struct {
	ID              uuid.UUID `db:"id" json:"id"`
	MedicationAName string    `db:"medication_a_name" json:"medication_a_name"`
	MedicationBName string    `db:"medication_b_name" json:"medication_b_name"`
	Severity        string    `db:"severity" json:"severity"`
	Description     *string   `db:"description" json:"description,omitempty"`
	ClinicalEffect  *string   `db:"clinical_effect" json:"clinical_effect,omitempty"`
	Management      *string   `db:"management" json:"management,omitempty"`
	EvidenceLevel   *string   `db:"evidence_level" json:"evidence_level,omitempty"`
	Source          *string   `db:"source" json:"source,omitempty"`
	Active          bool      `db:"active" json:"active"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}
