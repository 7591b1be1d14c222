package analysis

import (
	"context"

	"github.com/google/uuid"
)

type RequestRepository interface {
	Create(ctx context.Context, r *Request) error
	GetByID(ctx context.Context, id uuid.UUID) (*Request, error)
	Update(ctx context.Context, r *Request) error
	List(ctx context.Context, limit, offset int) ([]*Request, int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Request, int, error)
	// HasActiveForPatient reports whether the patient already has a
	// request in a non-terminal status.
	HasActiveForPatient(ctx context.Context, patientID uuid.UUID) (bool, error)
	// CompareAndSetStatus transitions the request only when it is still
	// in the expected status. Returns false when another worker won.
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to string) (bool, error)
}

type ResultRepository interface {
	Create(ctx context.Context, r *Result) error
	GetByRequest(ctx context.Context, requestID uuid.UUID) (*Result, error)
}

type ReviewRepository interface {
	Create(ctx context.Context, r *Review) error
	GetByID(ctx context.Context, id uuid.UUID) (*Review, error)
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*Review, error)
	// Adjustments
	AddAdjustment(ctx context.Context, a *Adjustment) error
	GetAdjustments(ctx context.Context, reviewID uuid.UUID) ([]*Adjustment, error)
}
