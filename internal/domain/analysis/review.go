package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rxsense/rxsense/internal/domain/patient"
	"github.com/rxsense/rxsense/internal/domain/safety"
	"github.com/rxsense/rxsense/internal/platform/audit"
	"github.com/rxsense/rxsense/internal/platform/notification"
)

var validDecisions = map[string]bool{
	DecisionApproved: true, DecisionModified: true, DecisionRejected: true, DecisionEscalated: true,
}

// ReviewService records pharmacist decisions on completed analyses and
// implements the resulting medication adjustments. Every adjustment that
// introduces a medication is re-screened against the live patient record
// before it is applied; an approved review is not a bypass.
type ReviewService struct {
	reviews   ReviewRepository
	requests  RequestRepository
	meds      patient.MedicationRepository
	allergies patient.AllergyRepository
	checker   SafetyChecker
	alerts    Alerter
	audit     audit.Recorder
	logger    zerolog.Logger

	escalationRecipient string
}

func NewReviewService(
	reviews ReviewRepository,
	requests RequestRepository,
	meds patient.MedicationRepository,
	allergies patient.AllergyRepository,
	checker SafetyChecker,
	alerts Alerter,
	recorder audit.Recorder,
	escalationRecipient string,
	logger zerolog.Logger,
) *ReviewService {
	return &ReviewService{
		reviews:             reviews,
		requests:            requests,
		meds:                meds,
		allergies:           allergies,
		checker:             checker,
		alerts:              alerts,
		audit:               recorder,
		escalationRecipient: escalationRecipient,
		logger:              logger,
	}
}

// SubmitReview records a decision on a completed request. Rejections must
// carry a reason; escalations notify the covering physician.
func (s *ReviewService) SubmitReview(ctx context.Context, rv *Review) error {
	if rv.RequestID == uuid.Nil {
		return fmt.Errorf("request_id is required")
	}
	if rv.ReviewerID == uuid.Nil {
		return fmt.Errorf("reviewer_id is required")
	}
	if !validDecisions[rv.Decision] {
		return fmt.Errorf("invalid decision: %s", rv.Decision)
	}
	if rv.Decision == DecisionRejected && (rv.Reason == nil || *rv.Reason == "") {
		return NewError(CodeMissingReason, "a rejection must document its reason")
	}
	if rv.Decision == DecisionModified && (rv.Modification == nil || *rv.Modification == "") {
		return fmt.Errorf("modification detail is required for a modified decision")
	}

	req, err := s.requests.GetByID(ctx, rv.RequestID)
	if err != nil {
		return err
	}
	if req.Status != StatusCompleted {
		return NewError(CodeInvalidState, "only completed requests can be reviewed (status: %s)", req.Status)
	}

	if err := s.reviews.Create(ctx, rv); err != nil {
		return err
	}

	s.audit.Record(ctx, audit.Event{
		Action:     "analysis.review." + rv.Decision,
		ActorID:    rv.ReviewerID.String(),
		EntityType: "analysis_review",
		EntityID:   rv.ID.String(),
		Details:    map[string]interface{}{"request_id": rv.RequestID.String()},
	})

	if rv.Decision == DecisionEscalated {
		s.escalate(ctx, req, rv)
	}
	return nil
}

func (s *ReviewService) GetReview(ctx context.Context, id uuid.UUID) (*Review, error) {
	return s.reviews.GetByID(ctx, id)
}

func (s *ReviewService) ListReviews(ctx context.Context, requestID uuid.UUID) ([]*Review, error) {
	return s.reviews.ListByRequest(ctx, requestID)
}

// escalate notifies the covering physician. Delivery failure is logged
// but the review itself stands.
func (s *ReviewService) escalate(ctx context.Context, req *Request, rv *Review) {
	if s.alerts == nil || s.escalationRecipient == "" {
		s.logger.Warn().Str("review_id", rv.ID.String()).Msg("escalation with no physician recipient configured")
		return
	}

	notes := ""
	if rv.Reason != nil {
		notes = *rv.Reason
	}
	recipient := s.escalationRecipient
	if rv.EscalatedTo != nil && *rv.EscalatedTo != "" {
		recipient = *rv.EscalatedTo
	}

	if _, err := s.alerts.SendFromTemplate(ctx, notification.TemplatePhysicianEscalation, map[string]string{
		"patient_name": req.PatientID.String(),
		"request_id":   req.ID.String(),
		"notes":        notes,
	}, recipient); err != nil {
		s.logger.Error().Err(err).Str("review_id", rv.ID.String()).Msg("failed to deliver escalation")
	}
}

// AdjustmentInput is one requested medication change.
type AdjustmentInput struct {
	Action       string     `json:"action"`
	Medication   string     `json:"medication"`
	MedicationID *uuid.UUID `json:"medication_id,omitempty"`
	Dose         *string    `json:"dose,omitempty"`
	Frequency    *string    `json:"frequency,omitempty"`
	Formulation  *string    `json:"formulation,omitempty"`
}

// ImplementAdjustments applies each requested change against the patient's
// medication list. Items succeed or fail independently; a failed item is
// recorded and the rest still run. A start is re-screened against the
// patient's allergies and active medications first, and a critical finding
// blocks that item.
func (s *ReviewService) ImplementAdjustments(ctx context.Context, reviewID uuid.UUID, items []AdjustmentInput) ([]*Adjustment, error) {
	rv, err := s.reviews.GetByID(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	if rv.Decision == DecisionRejected {
		return nil, NewError(CodeInvalidState, "a rejected review has no adjustments to implement")
	}

	req, err := s.requests.GetByID(ctx, rv.RequestID)
	if err != nil {
		return nil, err
	}

	allergies, err := s.allergies.ListByPatient(ctx, req.PatientID)
	if err != nil {
		return nil, fmt.Errorf("load allergies for safety re-screen: %w", err)
	}
	activeMeds, err := s.meds.ListActiveByPatient(ctx, req.PatientID)
	if err != nil {
		return nil, fmt.Errorf("load active medications for safety re-screen: %w", err)
	}

	results := make([]*Adjustment, 0, len(items))
	for _, item := range items {
		adj := &Adjustment{
			ReviewID:     reviewID,
			Action:       item.Action,
			Medication:   item.Medication,
			MedicationID: item.MedicationID,
			Dose:         item.Dose,
			Frequency:    item.Frequency,
			Formulation:  item.Formulation,
		}

		if blocked := s.screenAdjustment(ctx, reviewID, item, allergies, activeMeds); blocked != nil {
			adj.Outcome = AdjustmentBlocked
			adj.Detail = blocked
		} else if applyErr := s.applyAdjustment(ctx, req.PatientID, item); applyErr != nil {
			adj.Outcome = AdjustmentFailed
			detail := applyErr.Error()
			adj.Detail = &detail
			s.logger.Warn().Err(applyErr).
				Str("review_id", reviewID.String()).
				Str("medication", item.Medication).
				Msg("adjustment failed")
		} else {
			adj.Outcome = AdjustmentApplied
		}

		if err := s.reviews.AddAdjustment(ctx, adj); err != nil {
			return nil, err
		}
		results = append(results, adj)
	}

	s.audit.Record(ctx, audit.Event{
		Action:     "analysis.adjustments.implemented",
		EntityType: "analysis_review",
		EntityID:   reviewID.String(),
		Details:    map[string]interface{}{"total": len(results)},
	})
	return results, nil
}

// screenAdjustment re-runs the safety checks for an adjustment that starts
// a medication. It returns the blocking finding's message, or nil when the
// item may proceed.
func (s *ReviewService) screenAdjustment(ctx context.Context, reviewID uuid.UUID, item AdjustmentInput,
	allergies []*patient.Allergy, activeMeds []*patient.MedicationRecord) *string {
	if item.Action != AdjustStart || item.Medication == "" || s.checker == nil {
		return nil
	}

	report := s.checker.Check(ctx, safety.CheckInput{
		Proposed:          []string{item.Medication},
		Allergies:         allergies,
		ActiveMedications: activeMeds,
	})
	if !report.HasCritical() {
		return nil
	}

	finding := report.CriticalIssues[0]
	s.logger.Error().
		Str("review_id", reviewID.String()).
		Str("medication", item.Medication).
		Str("finding", finding.Message).
		Msg("adjustment blocked by critical safety finding")
	s.audit.Record(ctx, audit.Event{
		Action:     "analysis.adjustment.blocked",
		EntityType: "analysis_review",
		EntityID:   reviewID.String(),
		Details: map[string]interface{}{
			"medication": item.Medication,
			"finding":    finding.Message,
		},
	})
	detail := "blocked by critical safety finding: " + finding.Message
	return &detail
}

func (s *ReviewService) applyAdjustment(ctx context.Context, patientID uuid.UUID, item AdjustmentInput) error {
	switch item.Action {
	case AdjustStart:
		if item.Medication == "" {
			return fmt.Errorf("medication name is required to start therapy")
		}
		return s.meds.Create(ctx, &patient.MedicationRecord{
			PatientID: patientID,
			Name:      item.Medication,
			Dose:      item.Dose,
			Frequency: item.Frequency,
			Status:    "active",
			StartedAt: time.Now().UTC(),
		})
	case AdjustStop:
		if item.MedicationID == nil {
			return fmt.Errorf("medication_id is required to stop therapy")
		}
		return s.meds.Stop(ctx, *item.MedicationID)
	case AdjustChangeDose:
		if item.MedicationID == nil {
			return fmt.Errorf("medication_id is required to adjust a dose")
		}
		if item.Dose == nil || *item.Dose == "" {
			return fmt.Errorf("dose is required to adjust a dose")
		}
		m, err := s.meds.GetByID(ctx, *item.MedicationID)
		if err != nil {
			return err
		}
		m.Dose = item.Dose
		if item.Frequency != nil {
			m.Frequency = item.Frequency
		}
		return s.meds.Update(ctx, m)
	case AdjustChangeFrequency:
		if item.MedicationID == nil {
			return fmt.Errorf("medication_id is required to adjust a frequency")
		}
		if item.Frequency == nil || *item.Frequency == "" {
			return fmt.Errorf("frequency is required to adjust a frequency")
		}
		m, err := s.meds.GetByID(ctx, *item.MedicationID)
		if err != nil {
			return err
		}
		m.Frequency = item.Frequency
		return s.meds.Update(ctx, m)
	case AdjustChangeForm:
		if item.MedicationID == nil {
			return fmt.Errorf("medication_id is required to change a formulation")
		}
		if item.Formulation == nil || *item.Formulation == "" {
			return fmt.Errorf("formulation is required to change a formulation")
		}
		m, err := s.meds.GetByID(ctx, *item.MedicationID)
		if err != nil {
			return err
		}
		m.Form = item.Formulation
		return s.meds.Update(ctx, m)
	default:
		return fmt.Errorf("unknown adjustment action: %s", item.Action)
	}
}
