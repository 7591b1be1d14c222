package safety

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

var validSeverities = map[string]bool{
	SeverityCritical: true, SeverityMajor: true, SeverityModerate: true, SeverityMinor: true,
}

// Service manages the interaction catalog and runs safety checks.
type Service struct {
	interactions DrugInteractionRepository
	engine       *Engine
}

func NewService(interactions DrugInteractionRepository, engine *Engine) *Service {
	return &Service{interactions: interactions, engine: engine}
}

// -- Catalog --

func (s *Service) CreateInteraction(ctx context.Context, d *DrugInteraction) error {
	if d.MedicationAName == "" {
		return fmt.Errorf("medication_a_name is required")
	}
	if d.MedicationBName == "" {
		return fmt.Errorf("medication_b_name is required")
	}
	if !validSeverities[d.Severity] {
		return fmt.Errorf("invalid severity: %s", d.Severity)
	}
	return s.interactions.Create(ctx, d)
}

func (s *Service) GetInteraction(ctx context.Context, id uuid.UUID) (*DrugInteraction, error) {
	return s.interactions.GetByID(ctx, id)
}

func (s *Service) UpdateInteraction(ctx context.Context, d *DrugInteraction) error {
	if !validSeverities[d.Severity] {
		return fmt.Errorf("invalid severity: %s", d.Severity)
	}
	return s.interactions.Update(ctx, d)
}

func (s *Service) DeleteInteraction(ctx context.Context, id uuid.UUID) error {
	return s.interactions.Delete(ctx, id)
}

func (s *Service) ListInteractions(ctx context.Context, limit, offset int) ([]*DrugInteraction, int, error) {
	return s.interactions.List(ctx, limit, offset)
}

// -- Screening --

func (s *Service) Check(ctx context.Context, in CheckInput) (*Report, error) {
	if len(in.Proposed) == 0 {
		return nil, fmt.Errorf("at least one proposed medication is required")
	}
	return s.engine.Check(ctx, in), nil
}
