package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/sequence"
)

type Service struct {
	invoices InvoiceRepository
	payments PaymentRepository
	tx       db.Transactor
	codes    *sequence.Generator
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(inv InvoiceRepository, pay PaymentRepository, tx db.Transactor, logger zerolog.Logger) *Service {
	return &Service{
		invoices: inv,
		payments: pay,
		tx:       tx,
		codes:    sequence.NewGenerator(tx),
		logger:   logger.With().Str("component", "billing").Logger(),
		now:      time.Now,
	}
}

// -- Invoice --

func (s *Service) CreateInvoice(ctx context.Context, inv *Invoice) error {
	if inv.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if len(inv.Items) == 0 {
		return fmt.Errorf("at least one item is required")
	}
	for i, it := range inv.Items {
		if it.Description == "" {
			return fmt.Errorf("item %d: description is required", i)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("item %d: quantity must be positive", i)
		}
		if it.UnitPrice < 0 {
			return fmt.Errorf("item %d: unit_price must not be negative", i)
		}
	}
	if inv.Discount < 0 || inv.Tax < 0 {
		return fmt.Errorf("discount and tax must not be negative")
	}

	computeTotals(inv)
	inv.PaidAmount = 0
	inv.Status = paymentStatus(0, inv.TotalAmount, false)

	prefix := sequence.YearPrefix(sequence.InvoiceBase, s.now())
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		number, err := s.codes.NextCode(ctx, s.invoices.LastNumber, prefix, sequence.YearlyWidth)
		if err != nil {
			return err
		}
		inv.InvoiceNumber = number
		return s.invoices.Create(ctx, inv)
	})
}

func (s *Service) GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return s.invoices.GetByID(ctx, id)
}

func (s *Service) ListInvoices(ctx context.Context, f InvoiceFilter) ([]*Invoice, int, error) {
	return s.invoices.List(ctx, f)
}

// RecordPayment adds a payment and moves the invoice to Partially Paid or
// Paid. The invoice row stays locked until the payment is stored.
func (s *Service) RecordPayment(ctx context.Context, p *Payment) (*Invoice, error) {
	if p.InvoiceID == uuid.Nil {
		return nil, fmt.Errorf("invoice_id is required")
	}
	p.Amount = round2(p.Amount)
	if p.Amount <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	if !validMethods[p.Method] {
		return nil, fmt.Errorf("invalid payment method: %s", p.Method)
	}

	var inv *Invoice
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		inv, err = s.lockInvoice(ctx, p.InvoiceID)
		if err != nil {
			return err
		}
		switch inv.Status {
		case StatusCancelled:
			return ErrInvoiceCancelled
		case StatusPaid:
			return ErrAlreadyPaid
		}
		if p.Amount > inv.Balance() {
			return ErrOverpayment
		}
		if err := s.payments.Create(ctx, p); err != nil {
			return err
		}
		inv.PaidAmount = round2(inv.PaidAmount + p.Amount)
		inv.Status = paymentStatus(inv.PaidAmount, inv.TotalAmount, false)
		return s.invoices.UpdatePayment(ctx, inv)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("invoice_number", inv.InvoiceNumber).
		Float64("amount", p.Amount).
		Str("status", inv.Status).
		Msg("payment recorded")
	return inv, nil
}

// IssueRefund gives back up to the amount paid. An invoice refunded to zero
// becomes Refunded.
func (s *Service) IssueRefund(ctx context.Context, r *Refund) (*Invoice, error) {
	if r.InvoiceID == uuid.Nil {
		return nil, fmt.Errorf("invoice_id is required")
	}
	r.Amount = round2(r.Amount)
	if r.Amount <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	if r.Reason == "" {
		return nil, fmt.Errorf("reason is required")
	}

	var inv *Invoice
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		inv, err = s.lockInvoice(ctx, r.InvoiceID)
		if err != nil {
			return err
		}
		if inv.Status == StatusCancelled {
			return ErrInvoiceCancelled
		}
		if r.Amount > inv.PaidAmount {
			return ErrRefundExceedsPaid
		}
		if r.PaymentID != nil {
			if err := s.checkPayment(ctx, inv.ID, *r.PaymentID); err != nil {
				return err
			}
		}
		if err := s.payments.CreateRefund(ctx, r); err != nil {
			return err
		}
		inv.PaidAmount = round2(inv.PaidAmount - r.Amount)
		inv.Status = paymentStatus(inv.PaidAmount, inv.TotalAmount, true)
		return s.invoices.UpdatePayment(ctx, inv)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("invoice_number", inv.InvoiceNumber).
		Float64("amount", r.Amount).
		Str("status", inv.Status).
		Msg("refund issued")
	return inv, nil
}

// lockInvoice serializes balance changes on one invoice for the rest of the
// transaction.
func (s *Service) lockInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	if err := s.tx.Lock(ctx, "invoice:"+id.String()); err != nil {
		return nil, err
	}
	return s.invoices.GetForUpdate(ctx, id)
}

func (s *Service) checkPayment(ctx context.Context, invoiceID, paymentID uuid.UUID) error {
	payments, err := s.payments.ListByInvoice(ctx, invoiceID)
	if err != nil {
		return err
	}
	for _, p := range payments {
		if p.ID == paymentID {
			return nil
		}
	}
	return fmt.Errorf("payment %s does not belong to this invoice", paymentID)
}

// CancelInvoice voids an invoice nothing has been paid against.
func (s *Service) CancelInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	var inv *Invoice
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		inv, err = s.lockInvoice(ctx, id)
		if err != nil {
			return err
		}
		if inv.Status == StatusCancelled {
			return nil
		}
		if inv.PaidAmount > 0 {
			return ErrHasPayments
		}
		inv.Status = StatusCancelled
		return s.invoices.UpdatePayment(ctx, inv)
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *Service) ListPayments(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	return s.payments.ListByInvoice(ctx, invoiceID)
}

func (s *Service) ListRefunds(ctx context.Context, invoiceID uuid.UUID) ([]*Refund, error) {
	return s.payments.ListRefunds(ctx, invoiceID)
}
