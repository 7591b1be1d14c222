package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rxsense/rxsense/internal/ai"
	"github.com/rxsense/rxsense/internal/domain/patient"
	"github.com/rxsense/rxsense/internal/domain/safety"
	"github.com/rxsense/rxsense/internal/platform/audit"
	"github.com/rxsense/rxsense/internal/platform/notification"
)

const defaultMaxRetries = 3

// ContextProvider assembles the patient's clinical context.
type ContextProvider interface {
	Aggregate(ctx context.Context, patientID uuid.UUID) (*patient.Context, error)
}

// SafetyChecker screens proposed medications against the patient record.
type SafetyChecker interface {
	Check(ctx context.Context, in safety.CheckInput) *safety.Report
}

// Alerter delivers templated notifications for critical findings.
type Alerter interface {
	SendFromTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) (*notification.Notification, error)
}

// Service drives an analysis request through its lifecycle: intake,
// AI assessment, safety screening, result storage, and alerting.
type Service struct {
	requests RequestRepository
	results  ResultRepository
	contexts ContextProvider
	client   ai.Client
	safety   SafetyChecker
	alerts   Alerter
	audit    audit.Recorder
	logger   zerolog.Logger

	processingTimeout time.Duration
	alertRecipient    string
}

func NewService(
	requests RequestRepository,
	results ResultRepository,
	contexts ContextProvider,
	client ai.Client,
	checker SafetyChecker,
	alerts Alerter,
	recorder audit.Recorder,
	processingTimeout time.Duration,
	alertRecipient string,
	logger zerolog.Logger,
) *Service {
	if processingTimeout <= 0 {
		processingTimeout = 120 * time.Second
	}
	return &Service{
		requests:          requests,
		results:           results,
		contexts:          contexts,
		client:            client,
		safety:            checker,
		alerts:            alerts,
		audit:             recorder,
		processingTimeout: processingTimeout,
		alertRecipient:    alertRecipient,
		logger:            logger,
	}
}

// CreateRequest validates intake and stores a pending request. Consent is
// mandatory, and a patient can have at most one request that has not yet
// reached a terminal status.
func (s *Service) CreateRequest(ctx context.Context, req *Request) error {
	if req.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if req.RequestedByID == uuid.Nil {
		return fmt.Errorf("requested_by_id is required")
	}
	if !req.ConsentObtained {
		return NewError(CodeNoConsent, "patient consent is required before analysis")
	}
	if len(req.Input.Symptoms) == 0 && len(req.Input.ProposedMedications) == 0 {
		return fmt.Errorf("at least one symptom or proposed medication is required")
	}

	active, err := s.requests.HasActiveForPatient(ctx, req.PatientID)
	if err != nil {
		return err
	}
	if active {
		return NewError(CodeDuplicateActiveRequest, "patient already has an analysis request in progress")
	}

	req.Status = StatusPending
	req.RetryCount = 0
	if req.MaxRetries <= 0 {
		req.MaxRetries = defaultMaxRetries
	}
	if err := s.requests.Create(ctx, req); err != nil {
		return err
	}

	s.audit.Record(ctx, audit.Event{
		Action:     "analysis.request.created",
		ActorID:    req.RequestedByID.String(),
		EntityType: "analysis_request",
		EntityID:   req.ID.String(),
		Details:    map[string]interface{}{"patient_id": req.PatientID.String()},
	})
	return nil
}

// Process runs the pipeline for a pending request. The pending to
// processing transition is a compare-and-set, so concurrent callers for
// the same request cannot both run the pipeline.
func (s *Service) Process(ctx context.Context, id uuid.UUID) (*Result, error) {
	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	ok, err := s.requests.CompareAndSetStatus(ctx, id, StatusPending, StatusProcessing)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, NewError(CodeInvalidState, "request is not pending (status: %s)", req.Status)
	}
	req.Status = StatusProcessing

	return s.execute(ctx, req)
}

// Retry re-runs a failed request. Each retry consumes one attempt from
// the request's budget.
func (s *Service) Retry(ctx context.Context, id uuid.UUID) (*Result, error) {
	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusFailed {
		return nil, NewError(CodeInvalidState, "only failed requests can be retried (status: %s)", req.Status)
	}
	if req.RetryCount >= req.MaxRetries {
		return nil, NewError(CodeMaxRetriesExceeded, "retry budget of %d exhausted", req.MaxRetries)
	}

	ok, err := s.requests.CompareAndSetStatus(ctx, id, StatusFailed, StatusProcessing)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, NewError(CodeInvalidState, "request is no longer failed")
	}

	req.Status = StatusProcessing
	req.RetryCount++
	req.ErrorCode = nil
	req.ErrorMessage = nil
	if err := s.requests.Update(ctx, req); err != nil {
		return nil, err
	}

	return s.execute(ctx, req)
}

// Cancel moves a non-terminal request to cancelled.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, cancelledBy uuid.UUID) error {
	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if IsTerminal(req.Status) {
		return NewError(CodeInvalidState, "request is already %s", req.Status)
	}

	ok, err := s.requests.CompareAndSetStatus(ctx, id, req.Status, StatusCancelled)
	if err != nil {
		return err
	}
	if !ok {
		return NewError(CodeInvalidState, "request changed state during cancellation")
	}

	s.audit.Record(ctx, audit.Event{
		Action:     "analysis.request.cancelled",
		ActorID:    cancelledBy.String(),
		EntityType: "analysis_request",
		EntityID:   req.ID.String(),
	})
	return nil
}

func (s *Service) GetRequest(ctx context.Context, id uuid.UUID) (*Request, error) {
	return s.requests.GetByID(ctx, id)
}

func (s *Service) GetResult(ctx context.Context, requestID uuid.UUID) (*Result, error) {
	return s.results.GetByRequest(ctx, requestID)
}

func (s *Service) ListRequests(ctx context.Context, limit, offset int) ([]*Request, int, error) {
	return s.requests.List(ctx, limit, offset)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Request, int, error) {
	return s.requests.ListByPatient(ctx, patientID, limit, offset)
}

// execute runs the pipeline for a request already in processing. The whole
// run shares one deadline; blowing it marks the request failed with
// PROCESSING_TIMEOUT.
func (s *Service) execute(ctx context.Context, req *Request) (*Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, s.processingTimeout)
	defer cancel()

	result, err := s.runPipeline(runCtx, req)
	if err != nil {
		if errors.Is(err, errCancelledMidRun) {
			s.logger.Warn().Str("request_id", req.ID.String()).Msg("request cancelled during pipeline run")
			return nil, err
		}
		return nil, s.fail(ctx, req, err)
	}

	now := time.Now().UTC()
	ok, casErr := s.requests.CompareAndSetStatus(ctx, req.ID, StatusProcessing, StatusCompleted)
	if casErr != nil {
		return nil, casErr
	}
	if !ok {
		// Cancelled mid-run. The result row stays for the audit trail.
		s.logger.Warn().Str("request_id", req.ID.String()).Msg("request left processing during pipeline run")
		return nil, NewError(CodeInvalidState, "request was cancelled during processing")
	}
	req.Status = StatusCompleted
	req.CompletedAt = &now
	if err := s.requests.Update(ctx, req); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.Event{
		Action:     "analysis.request.completed",
		EntityType: "analysis_request",
		EntityID:   req.ID.String(),
	})
	return result, nil
}

// errCancelledMidRun signals that a cooperative checkpoint observed a
// cancellation while the pipeline was running.
var errCancelledMidRun = NewError(CodeInvalidState, "request was cancelled during processing")

// checkpoint is called between pipeline stages so a cancellation lands
// before the next stage starts instead of only at the final status swap.
func (s *Service) checkpoint(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cur, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if cur.Status == StatusCancelled {
		return errCancelledMidRun
	}
	return nil
}

func (s *Service) runPipeline(ctx context.Context, req *Request) (*Result, error) {
	pc, err := s.contexts.Aggregate(ctx, req.PatientID)
	if err != nil {
		if errors.Is(err, patient.ErrNotFound) {
			return nil, WrapError(CodePatientNotFound, err, "patient record not found")
		}
		return nil, err
	}
	if err := s.checkpoint(ctx, req.ID); err != nil {
		return nil, err
	}

	system, user := ai.BuildPrompt(ai.PromptInput{
		Patient:             pc,
		Symptoms:            req.Input.Symptoms,
		Vitals:              req.Input.Vitals,
		ProposedMedications: req.Input.ProposedMedications,
		Notes:               req.Input.Notes,
	})

	resp, err := s.client.Complete(ctx, ai.CompletionRequest{System: system, User: user})
	if err != nil {
		return nil, classifyAIError(err)
	}
	if err := s.checkpoint(ctx, req.ID); err != nil {
		return nil, err
	}

	assessment, err := ai.ParseAssessment(resp.Content)
	if err != nil {
		return nil, classifyValidationError(err)
	}
	if err := s.checkpoint(ctx, req.ID); err != nil {
		return nil, err
	}

	report := s.safety.Check(ctx, safety.CheckInput{
		Proposed:          req.Input.ProposedMedications,
		Allergies:         pc.Allergies,
		ActiveMedications: pc.ActiveMedications,
	})

	assessmentJSON, err := json.Marshal(assessment)
	if err != nil {
		return nil, fmt.Errorf("encode assessment: %w", err)
	}
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("encode safety report: %w", err)
	}

	if err := s.checkpoint(ctx, req.ID); err != nil {
		return nil, err
	}

	result := &Result{
		RequestID:    req.ID,
		Assessment:   assessmentJSON,
		SafetyReport: reportJSON,
		RawResponse:  resp.Content,
		TotalTokens:  resp.Usage.TotalTokens,
	}
	if resp.Model != "" {
		result.Model = &resp.Model
	}
	if resp.ProviderRequestID != "" {
		result.ProviderRequestID = &resp.ProviderRequestID
	}
	if err := s.results.Create(ctx, result); err != nil {
		return nil, err
	}

	s.alertOnCriticalFindings(ctx, req, pc, assessment, report)
	return result, nil
}

// alertOnCriticalFindings notifies the covering physician when the
// assessment carries red flags or the safety screen found critical
// issues. Alert delivery failures never fail the pipeline.
func (s *Service) alertOnCriticalFindings(ctx context.Context, req *Request, pc *patient.Context, assessment *ai.Assessment, report *safety.Report) {
	if !report.HasCritical() && len(assessment.RedFlags) == 0 {
		return
	}

	issue := ""
	switch {
	case report.HasCritical():
		issue = report.CriticalIssues[0].Message
	case len(assessment.RedFlags) > 0:
		issue = assessment.RedFlags[0].Description
	}

	s.audit.Record(ctx, audit.Event{
		Action:     "analysis.critical_finding",
		EntityType: "analysis_request",
		EntityID:   req.ID.String(),
		Details: map[string]interface{}{
			"critical_issues": len(report.CriticalIssues),
			"red_flags":       len(assessment.RedFlags),
		},
	})

	if s.alerts == nil || s.alertRecipient == "" {
		s.logger.Warn().Str("request_id", req.ID.String()).Msg("critical finding with no alert recipient configured")
		return
	}

	patientName := pc.Patient.FirstName + " " + pc.Patient.LastName
	if _, err := s.alerts.SendFromTemplate(ctx, notification.TemplateCriticalValueAlert, map[string]string{
		"patient_name": patientName,
		"issue":        issue,
		"request_id":   req.ID.String(),
	}, s.alertRecipient); err != nil {
		s.logger.Error().Err(err).Str("request_id", req.ID.String()).Msg("failed to deliver critical value alert")
	}
}

// fail records the pipeline error on the request and transitions it from
// processing to failed.
func (s *Service) fail(ctx context.Context, req *Request, cause error) error {
	code := CodeOf(cause)
	if code == "" {
		if errors.Is(cause, context.DeadlineExceeded) {
			cause = WrapError(CodeProcessingTimeout, cause, "pipeline exceeded the processing budget")
			code = CodeProcessingTimeout
		} else {
			cause = WrapError(CodeProviderError, cause, cause.Error())
			code = CodeProviderError
		}
	}

	ok, err := s.requests.CompareAndSetStatus(ctx, req.ID, StatusProcessing, StatusFailed)
	if err != nil {
		s.logger.Error().Err(err).Str("request_id", req.ID.String()).Msg("failed to mark request failed")
		return cause
	}
	if !ok {
		return cause
	}

	req.Status = StatusFailed
	codeStr := string(code)
	msg := cause.Error()
	req.ErrorCode = &codeStr
	req.ErrorMessage = &msg
	if err := s.requests.Update(ctx, req); err != nil {
		s.logger.Error().Err(err).Str("request_id", req.ID.String()).Msg("failed to record request error")
	}

	s.audit.Record(ctx, audit.Event{
		Action:     "analysis.request.failed",
		EntityType: "analysis_request",
		EntityID:   req.ID.String(),
		Details:    map[string]interface{}{"error_code": codeStr},
	})
	return cause
}

func classifyAIError(err error) error {
	if errors.Is(err, ai.ErrTimeout) {
		return WrapError(CodeAITimeout, err, "ai provider timed out")
	}
	var pe *ai.ProviderError
	if errors.As(err, &pe) {
		return WrapError(CodeProviderError, err, pe.Message)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return WrapError(CodeProcessingTimeout, err, "pipeline exceeded the processing budget")
	}
	return WrapError(CodeProviderError, err, err.Error())
}

func classifyValidationError(err error) error {
	if errors.Is(err, ai.ErrNoJSON) {
		return WrapError(CodeNoJSONFound, err, "model output contained no JSON object")
	}
	var ve *ai.ValidationError
	if errors.As(err, &ve) {
		return WrapError(CodeValidationFailed, err, ve.Error())
	}
	return err
}
