package pharmacy

import (
	"context"

	"github.com/google/uuid"
)

type MedicineRepository interface {
	Create(ctx context.Context, m *Medicine) error
	GetByID(ctx context.Context, id uuid.UUID) (*Medicine, error)
	List(ctx context.Context, f MedicineFilter) ([]*Medicine, int, error)
	// LowStock lists active medicines at or below their reorder level.
	LowStock(ctx context.Context) ([]*Medicine, error)
	SetStock(ctx context.Context, id uuid.UUID, qty int) error
}

type AdjustmentRepository interface {
	Create(ctx context.Context, a *StockAdjustment) error
	ListByMedicine(ctx context.Context, medicineID uuid.UUID, limit int) ([]*StockAdjustment, error)
}

type PurchaseOrderRepository interface {
	Create(ctx context.Context, po *PurchaseOrder) error
	GetByID(ctx context.Context, id uuid.UUID) (*PurchaseOrder, error)
	UpdateStatus(ctx context.Context, po *PurchaseOrder) error
	List(ctx context.Context, f POFilter) ([]*PurchaseOrder, int, error)
	LastNumber(ctx context.Context, prefix string) (string, error)
}
