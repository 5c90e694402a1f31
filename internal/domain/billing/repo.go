package billing

import (
	"context"

	"github.com/google/uuid"
)

type InvoiceRepository interface {
	// Create inserts the invoice and its items.
	Create(ctx context.Context, inv *Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	// GetForUpdate reads the invoice row locked until the transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error)
	UpdatePayment(ctx context.Context, inv *Invoice) error
	List(ctx context.Context, f InvoiceFilter) ([]*Invoice, int, error)
	LastNumber(ctx context.Context, prefix string) (string, error)
}

type PaymentRepository interface {
	Create(ctx context.Context, p *Payment) error
	ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error)
	CreateRefund(ctx context.Context, r *Refund) error
	ListRefunds(ctx context.Context, invoiceID uuid.UUID) ([]*Refund, error)
}
