package safety

import (
	"context"

	"github.com/google/uuid"
)

type DrugInteractionRepository interface {
	Create(ctx context.Context, d *DrugInteraction) error
	GetByID(ctx context.Context, id uuid.UUID) (*DrugInteraction, error)
	Update(ctx context.Context, d *DrugInteraction) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*DrugInteraction, int, error)
	// FindByPair returns active interactions between two medications,
	// matching names case-insensitively in either order.
	FindByPair(ctx context.Context, medA, medB string) ([]*DrugInteraction, error)
}
