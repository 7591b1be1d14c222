// Package analysis orchestrates AI-assisted clinical assessments from
// request intake through pharmacist review.
package analysis

import (
	"time"

	"github.com/google/uuid"
)

// Request statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// validTransitions is the full request lifecycle. Completed and cancelled
// are terminal.
var validTransitions = map[string][]string{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled},
	StatusFailed:     {StatusProcessing, StatusCancelled},
	StatusCompleted:  {},
	StatusCancelled:  {},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to string) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status admits no further transitions.
func IsTerminal(status string) bool {
	return len(validTransitions[status]) == 0
}

// Input is the clinical question snapshot frozen at request creation.
type Input struct {
	Symptoms            []string          `json:"symptoms"`
	Vitals              map[string]string `json:"vitals,omitempty"`
	ProposedMedications []string          `json:"proposed_medications,omitempty"`
	Notes               string            `json:"notes,omitempty"`
}

// Request maps to the analysis_request table.
type Request struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	PatientID       uuid.UUID  `db:"patient_id" json:"patient_id"`
	RequestedByID   uuid.UUID  `db:"requested_by_id" json:"requested_by_id"`
	Status          string     `db:"status" json:"status"`
	ConsentObtained bool       `db:"consent_obtained" json:"consent_obtained"`
	Input           Input      `db:"input" json:"input"`
	RetryCount      int        `db:"retry_count" json:"retry_count"`
	MaxRetries      int        `db:"max_retries" json:"max_retries"`
	ErrorCode       *string    `db:"error_code" json:"error_code,omitempty"`
	ErrorMessage    *string    `db:"error_message" json:"error_message,omitempty"`
	CompletedAt     *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// Result maps to the analysis_result table. Assessment and SafetyReport
// are stored as JSONB documents; RawResponse keeps the unedited model
// output for the audit trail.
type Result struct {
	ID                uuid.UUID `db:"id" json:"id"`
	RequestID         uuid.UUID `db:"request_id" json:"request_id"`
	Assessment        []byte    `db:"assessment" json:"-"`
	SafetyReport      []byte    `db:"safety_report" json:"-"`
	RawResponse       string    `db:"raw_response" json:"raw_response"`
	Model             *string   `db:"model" json:"model,omitempty"`
	ProviderRequestID *string   `db:"provider_request_id" json:"provider_request_id,omitempty"`
	TotalTokens       int       `db:"total_tokens" json:"total_tokens"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

// Review decisions.
const (
	DecisionApproved  = "approved"
	DecisionModified  = "modified"
	DecisionRejected  = "rejected"
	DecisionEscalated = "escalated"
)

// Review maps to the analysis_review table.
type Review struct {
	ID           uuid.UUID `db:"id" json:"id"`
	RequestID    uuid.UUID `db:"request_id" json:"request_id"`
	ReviewerID   uuid.UUID `db:"reviewer_id" json:"reviewer_id"`
	Decision     string    `db:"decision" json:"decision"`
	Reason       *string   `db:"reason" json:"reason,omitempty"`
	Modification *string   `db:"modification" json:"modification,omitempty"`
	EscalatedTo  *string   `db:"escalated_to" json:"escalated_to,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Adjustment actions.
const (
	AdjustStart           = "start"
	AdjustStop            = "stop"
	AdjustChangeDose      = "adjust-dose"
	AdjustChangeFrequency = "adjust-frequency"
	AdjustChangeForm      = "change-formulation"
)

// Adjustment outcomes. Blocked means the safety re-screen found a
// critical issue and the change was never applied.
const (
	AdjustmentApplied = "applied"
	AdjustmentFailed  = "failed"
	AdjustmentBlocked = "blocked"
)

// Adjustment maps to the analysis_adjustment table. One row per
// medication change attempted while implementing a review.
type Adjustment struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	ReviewID     uuid.UUID  `db:"review_id" json:"review_id"`
	Action       string     `db:"action" json:"action"`
	Medication   string     `db:"medication" json:"medication"`
	MedicationID *uuid.UUID `db:"medication_id" json:"medication_id,omitempty"`
	Dose         *string    `db:"dose" json:"dose,omitempty"`
	Frequency    *string    `db:"frequency" json:"frequency,omitempty"`
	Formulation  *string    `db:"formulation" json:"formulation,omitempty"`
	Outcome      string     `db:"outcome" json:"outcome"`
	Detail       *string    `db:"detail" json:"detail,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}
