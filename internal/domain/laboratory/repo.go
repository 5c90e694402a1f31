package laboratory

import (
	"context"

	"github.com/google/uuid"
)

type OrderRepository interface {
	// Create inserts the order and its items.
	Create(ctx context.Context, o *LabOrder) error
	// GetByID returns the order with its items.
	GetByID(ctx context.Context, id uuid.UUID) (*LabOrder, error)
	UpdateStatus(ctx context.Context, o *LabOrder) error
	UpdateItem(ctx context.Context, it *LabOrderItem) error
	List(ctx context.Context, f OrderFilter) ([]*LabOrder, int, error)
	LastNumber(ctx context.Context, prefix string) (string, error)
}
