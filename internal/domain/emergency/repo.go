package emergency

import (
	"context"

	"github.com/google/uuid"
)

type VisitRepository interface {
	Create(ctx context.Context, v *ERVisit) error
	GetByID(ctx context.Context, id uuid.UUID) (*ERVisit, error)
	Update(ctx context.Context, v *ERVisit) error
	// ListActive returns waiting and in-treatment visits, most urgent first.
	ListActive(ctx context.Context) ([]*ERVisit, error)
	LastNumber(ctx context.Context, prefix string) (string, error)
}
