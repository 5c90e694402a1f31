package pharmacy

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/sequence"
)

type Service struct {
	medicines   MedicineRepository
	adjustments AdjustmentRepository
	orders      PurchaseOrderRepository
	tx          db.Transactor
	codes       *sequence.Generator
	logger      zerolog.Logger
	now         func() time.Time
}

func NewService(med MedicineRepository, adj AdjustmentRepository, po PurchaseOrderRepository, tx db.Transactor, logger zerolog.Logger) *Service {
	return &Service{
		medicines:   med,
		adjustments: adj,
		orders:      po,
		tx:          tx,
		codes:       sequence.NewGenerator(tx),
		logger:      logger.With().Str("component", "pharmacy").Logger(),
		now:         time.Now,
	}
}

// -- Medicine --

func (s *Service) CreateMedicine(ctx context.Context, m *Medicine) error {
	m.Name = strings.TrimSpace(m.Name)
	if m.Name == "" {
		return fmt.Errorf("name is required")
	}
	if m.Unit == "" {
		return fmt.Errorf("unit is required")
	}
	if m.UnitPrice < 0 {
		return fmt.Errorf("unit_price must not be negative")
	}
	if m.StockQuantity < 0 || m.ReorderLevel < 0 {
		return fmt.Errorf("stock_quantity and reorder_level must not be negative")
	}
	m.UnitPrice = round2(m.UnitPrice)
	if m.Active == nil {
		m.Active = boolPtr(true)
	}
	return s.medicines.Create(ctx, m)
}

func (s *Service) GetMedicine(ctx context.Context, id uuid.UUID) (*Medicine, error) {
	return s.medicines.GetByID(ctx, id)
}

func (s *Service) ListMedicines(ctx context.Context, f MedicineFilter) ([]*Medicine, int, error) {
	return s.medicines.List(ctx, f)
}

func (s *Service) LowStock(ctx context.Context) ([]*Medicine, error) {
	return s.medicines.LowStock(ctx)
}

func (s *Service) ListAdjustments(ctx context.Context, medicineID uuid.UUID, limit int) ([]*StockAdjustment, error) {
	if _, err := s.medicines.GetByID(ctx, medicineID); err != nil {
		return nil, err
	}
	return s.adjustments.ListByMedicine(ctx, medicineID, limit)
}

func checkAdjustment(a *StockAdjustment) error {
	if a.MedicineID == uuid.Nil {
		return fmt.Errorf("medicine_id is required")
	}
	if !validReasons[a.Reason] {
		return fmt.Errorf("invalid reason: %s", a.Reason)
	}
	switch {
	case a.Quantity == 0:
		return fmt.Errorf("quantity must not be zero")
	case a.Reason == ReasonPurchase && a.Quantity < 0:
		return fmt.Errorf("purchase must add stock")
	case a.Reason == ReasonDispense && a.Quantity > 0:
		return fmt.Errorf("dispense must remove stock")
	}
	return nil
}

// AdjustStock applies a signed quantity change. Stock never goes below zero.
func (s *Service) AdjustStock(ctx context.Context, a *StockAdjustment) (*Medicine, error) {
	if err := checkAdjustment(a); err != nil {
		return nil, err
	}
	var m *Medicine
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		m, err = s.applyAdjustment(ctx, a)
		return err
	})
	if err != nil {
		return nil, err
	}
	if m.NeedsReorder() {
		s.logger.Warn().Str("medicine", m.Name).Int("stock", m.StockQuantity).Int("reorder_level", m.ReorderLevel).Msg("stock at reorder level")
	}
	return m, nil
}

// applyAdjustment must run inside a transaction.
func (s *Service) applyAdjustment(ctx context.Context, a *StockAdjustment) (*Medicine, error) {
	if err := s.tx.Lock(ctx, "stock:"+a.MedicineID.String()); err != nil {
		return nil, err
	}
	m, err := s.medicines.GetByID(ctx, a.MedicineID)
	if err != nil {
		return nil, err
	}
	if a.Quantity < 0 && a.Reason == ReasonDispense && !m.IsActive() {
		return nil, ErrMedicineInactive
	}
	next := m.StockQuantity + a.Quantity
	if next < 0 {
		return nil, fmt.Errorf("%w: %s has %d %s", ErrInsufficientStock, m.Name, m.StockQuantity, m.Unit)
	}
	if err := s.adjustments.Create(ctx, a); err != nil {
		return nil, err
	}
	if err := s.medicines.SetStock(ctx, m.ID, next); err != nil {
		return nil, err
	}
	m.StockQuantity = next
	return m, nil
}

// -- Purchase Orders --

func (s *Service) CreatePurchaseOrder(ctx context.Context, po *PurchaseOrder) error {
	po.Supplier = strings.TrimSpace(po.Supplier)
	if po.Supplier == "" {
		return fmt.Errorf("supplier is required")
	}
	if len(po.Items) == 0 {
		return fmt.Errorf("at least one line is required")
	}
	total := 0.0
	for i := range po.Items {
		it := &po.Items[i]
		if it.MedicineID == uuid.Nil {
			return fmt.Errorf("line %d: medicine_id is required", i)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("line %d: quantity must be positive", i)
		}
		if it.UnitCost < 0 {
			return fmt.Errorf("line %d: unit_cost must not be negative", i)
		}
		it.Amount = round2(float64(it.Quantity) * it.UnitCost)
		total += it.Amount
	}
	po.TotalAmount = round2(total)
	po.Status = POStatusDraft
	po.ReceivedAt = nil

	prefix := sequence.YearPrefix(sequence.PurchaseOrderBase, s.now())
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		for _, it := range po.Items {
			if _, err := s.medicines.GetByID(ctx, it.MedicineID); err != nil {
				return fmt.Errorf("medicine %s: %w", it.MedicineID, err)
			}
		}
		number, err := s.codes.NextCode(ctx, s.orders.LastNumber, prefix, sequence.YearlyWidth)
		if err != nil {
			return err
		}
		po.PONumber = number
		return s.orders.Create(ctx, po)
	})
}

func (s *Service) GetPurchaseOrder(ctx context.Context, id uuid.UUID) (*PurchaseOrder, error) {
	return s.orders.GetByID(ctx, id)
}

func (s *Service) ListPurchaseOrders(ctx context.Context, f POFilter) ([]*PurchaseOrder, int, error) {
	return s.orders.List(ctx, f)
}

// transition loads the order under its lock, checks the current status is one
// of from, and runs apply before saving.
func (s *Service) transition(ctx context.Context, id uuid.UUID, from []string, apply func(ctx context.Context, po *PurchaseOrder) error) (*PurchaseOrder, error) {
	var po *PurchaseOrder
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.tx.Lock(ctx, "po:"+id.String()); err != nil {
			return err
		}
		var err error
		po, err = s.orders.GetByID(ctx, id)
		if err != nil {
			return err
		}
		allowed := false
		for _, st := range from {
			if po.Status == st {
				allowed = true
			}
		}
		if !allowed {
			return fmt.Errorf("%w: %s order", ErrInvalidTransition, po.Status)
		}
		if err := apply(ctx, po); err != nil {
			return err
		}
		return s.orders.UpdateStatus(ctx, po)
	})
	if err != nil {
		return nil, err
	}
	return po, nil
}

func (s *Service) SubmitPurchaseOrder(ctx context.Context, id uuid.UUID) (*PurchaseOrder, error) {
	return s.transition(ctx, id, []string{POStatusDraft}, func(_ context.Context, po *PurchaseOrder) error {
		po.Status = POStatusOrdered
		return nil
	})
}

// ReceivePurchaseOrder books every line into stock as a purchase adjustment.
// Stock locks are taken in medicine id order so two orders sharing
// medicines cannot deadlock.
func (s *Service) ReceivePurchaseOrder(ctx context.Context, id uuid.UUID) (*PurchaseOrder, error) {
	po, err := s.transition(ctx, id, []string{POStatusDraft, POStatusOrdered}, func(ctx context.Context, po *PurchaseOrder) error {
		ref := po.PONumber
		lines := append([]PurchaseOrderItem(nil), po.Items...)
		sort.Slice(lines, func(i, j int) bool {
			return bytes.Compare(lines[i].MedicineID[:], lines[j].MedicineID[:]) < 0
		})
		for _, it := range lines {
			adj := &StockAdjustment{
				MedicineID: it.MedicineID,
				Quantity:   it.Quantity,
				Reason:     ReasonPurchase,
				Reference:  &ref,
			}
			if _, err := s.applyAdjustment(ctx, adj); err != nil {
				return err
			}
		}
		now := s.now()
		po.Status = POStatusReceived
		po.ReceivedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("po_number", po.PONumber).Int("lines", len(po.Items)).Msg("purchase order received")
	return po, nil
}

func (s *Service) CancelPurchaseOrder(ctx context.Context, id uuid.UUID) (*PurchaseOrder, error) {
	return s.transition(ctx, id, []string{POStatusDraft, POStatusOrdered}, func(_ context.Context, po *PurchaseOrder) error {
		po.Status = POStatusCancelled
		return nil
	})
}
