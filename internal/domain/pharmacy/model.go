package pharmacy

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
)

// Stock adjustment reasons. Purchases add stock, dispensing removes it, the
// rest may go either way.
const (
	ReasonPurchase   = "purchase"
	ReasonDispense   = "dispense"
	ReasonDamage     = "damage"
	ReasonExpired    = "expired"
	ReasonCorrection = "correction"
)

var validReasons = map[string]bool{
	ReasonPurchase: true, ReasonDispense: true, ReasonDamage: true, ReasonExpired: true, ReasonCorrection: true,
}

// Purchase order statuses.
const (
	POStatusDraft     = "Draft"
	POStatusOrdered   = "Ordered"
	POStatusReceived  = "Received"
	POStatusCancelled = "Cancelled"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrMedicineInactive  = errors.New("medicine is inactive")
	ErrInvalidTransition = errors.New("invalid purchase order transition")
)

type Medicine struct {
	ID            uuid.UUID `db:"id" json:"id"`
	Name          string    `db:"name" json:"name"`
	GenericName   *string   `db:"generic_name" json:"generic_name,omitempty"`
	Unit          string    `db:"unit" json:"unit"`
	UnitPrice     float64   `db:"unit_price" json:"unit_price"`
	StockQuantity int       `db:"stock_quantity" json:"stock_quantity"`
	ReorderLevel  int       `db:"reorder_level" json:"reorder_level"`
	Active        *bool     `db:"active" json:"active,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

func (m *Medicine) IsActive() bool { return m.Active == nil || *m.Active }

// NeedsReorder reports whether stock is at or below the reorder level.
func (m *Medicine) NeedsReorder() bool { return m.StockQuantity <= m.ReorderLevel }

type StockAdjustment struct {
	ID         uuid.UUID `db:"id" json:"id"`
	MedicineID uuid.UUID `db:"medicine_id" json:"medicine_id"`
	Quantity   int       `db:"quantity" json:"quantity"`
	Reason     string    `db:"reason" json:"reason"`
	Reference  *string   `db:"reference" json:"reference,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

type PurchaseOrderItem struct {
	ID         uuid.UUID `db:"id" json:"id"`
	OrderID    uuid.UUID `db:"order_id" json:"order_id"`
	MedicineID uuid.UUID `db:"medicine_id" json:"medicine_id"`
	Quantity   int       `db:"quantity" json:"quantity"`
	UnitCost   float64   `db:"unit_cost" json:"unit_cost"`
	Amount     float64   `db:"amount" json:"amount"`
}

type PurchaseOrder struct {
	ID          uuid.UUID           `db:"id" json:"id"`
	PONumber    string              `db:"po_number" json:"po_number"`
	Supplier    string              `db:"supplier" json:"supplier"`
	Status      string              `db:"status" json:"status"`
	Items       []PurchaseOrderItem `db:"-" json:"items"`
	TotalAmount float64             `db:"total_amount" json:"total_amount"`
	ReceivedAt  *time.Time          `db:"received_at" json:"received_at,omitempty"`
	CreatedAt   time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time           `db:"updated_at" json:"updated_at"`
}

type MedicineFilter struct {
	Search     string
	ActiveOnly bool
	Limit      int
	Offset     int
}

type POFilter struct {
	Status string
	Limit  int
	Offset int
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

func boolPtr(b bool) *bool { return &b }
