package laboratory

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/sequence"
)

type Service struct {
	orders OrderRepository
	tx     db.Transactor
	codes  *sequence.Generator
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(orders OrderRepository, tx db.Transactor, logger zerolog.Logger) *Service {
	return &Service{
		orders: orders,
		tx:     tx,
		codes:  sequence.NewGenerator(tx),
		logger: logger.With().Str("component", "laboratory").Logger(),
		now:    time.Now,
	}
}

func (s *Service) CreateOrder(ctx context.Context, o *LabOrder) error {
	if o.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if o.DoctorID == uuid.Nil {
		return fmt.Errorf("doctor_id is required")
	}
	if len(o.Items) == 0 {
		return fmt.Errorf("at least one test is required")
	}
	if o.Priority == "" {
		o.Priority = PriorityRoutine
	}
	if !validPriorities[o.Priority] {
		return fmt.Errorf("invalid priority: %s", o.Priority)
	}

	seen := make(map[string]bool, len(o.Items))
	total := 0.0
	for i := range o.Items {
		it := &o.Items[i]
		it.TestCode = strings.ToUpper(strings.TrimSpace(it.TestCode))
		if it.TestCode == "" || it.TestName == "" {
			return fmt.Errorf("item %d: test_code and test_name are required", i)
		}
		if seen[it.TestCode] {
			return fmt.Errorf("test %s ordered twice", it.TestCode)
		}
		seen[it.TestCode] = true
		if it.Price < 0 {
			return fmt.Errorf("item %d: price must not be negative", i)
		}
		it.Status = StatusPending
		it.Result, it.ResultedAt = nil, nil
		total += it.Price
	}
	o.TotalAmount = math.Round(total*100) / 100
	o.Status = StatusPending

	prefix := sequence.YearPrefix(sequence.LabOrderBase, s.now())
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		number, err := s.codes.NextCode(ctx, s.orders.LastNumber, prefix, sequence.YearlyWidth)
		if err != nil {
			return err
		}
		o.OrderNumber = number
		return s.orders.Create(ctx, o)
	})
	if err != nil {
		return err
	}
	s.logger.Info().Str("order_number", o.OrderNumber).Int("tests", len(o.Items)).Str("priority", o.Priority).Msg("lab order created")
	return nil
}

func (s *Service) GetOrder(ctx context.Context, id uuid.UUID) (*LabOrder, error) {
	return s.orders.GetByID(ctx, id)
}

func (s *Service) ListOrders(ctx context.Context, f OrderFilter) ([]*LabOrder, int, error) {
	return s.orders.List(ctx, f)
}

// RecordResult stores one test result. The order moves to In Progress on the
// first result and to Completed once every test has one.
func (s *Service) RecordResult(ctx context.Context, orderID, itemID uuid.UUID, in ResultInput) (*LabOrder, error) {
	if strings.TrimSpace(in.Result) == "" {
		return nil, fmt.Errorf("result is required")
	}
	var o *LabOrder
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.tx.Lock(ctx, "lab:"+orderID.String()); err != nil {
			return err
		}
		var err error
		o, err = s.orders.GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status == StatusCompleted || o.Status == StatusCancelled {
			return ErrOrderClosed
		}

		idx := -1
		for i := range o.Items {
			if o.Items[i].ID == itemID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return ErrItemNotInOrder
		}
		now := s.now()
		it := &o.Items[idx]
		result := in.Result
		it.Result = &result
		it.Unit = in.Unit
		it.ReferenceRange = in.ReferenceRange
		it.Status = StatusCompleted
		it.ResultedAt = &now
		if err := s.orders.UpdateItem(ctx, it); err != nil {
			return err
		}

		if next := orderStatus(o.Items); next != o.Status {
			o.Status = next
			return s.orders.UpdateStatus(ctx, o)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if o.Status == StatusCompleted {
		s.logger.Info().Str("order_number", o.OrderNumber).Msg("lab order completed")
	}
	return o, nil
}

func (s *Service) CancelOrder(ctx context.Context, id uuid.UUID) (*LabOrder, error) {
	var o *LabOrder
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.tx.Lock(ctx, "lab:"+id.String()); err != nil {
			return err
		}
		var err error
		o, err = s.orders.GetByID(ctx, id)
		if err != nil {
			return err
		}
		switch o.Status {
		case StatusCancelled:
			return nil
		case StatusCompleted:
			return ErrOrderClosed
		}
		o.Status = StatusCancelled
		return s.orders.UpdateStatus(ctx, o)
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}
