package billing

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
)

// Invoice statuses.
const (
	StatusUnpaid        = "Unpaid"
	StatusPartiallyPaid = "Partially Paid"
	StatusPaid          = "Paid"
	StatusRefunded      = "Refunded"
	StatusCancelled     = "Cancelled"
)

var validMethods = map[string]bool{
	"cash": true, "card": true, "upi": true, "insurance": true,
}

var (
	ErrNotFound          = errors.New("not found")
	ErrInvoiceCancelled  = errors.New("invoice is cancelled")
	ErrAlreadyPaid       = errors.New("invoice is already paid")
	ErrOverpayment       = errors.New("payment exceeds the outstanding balance")
	ErrRefundExceedsPaid = errors.New("refund exceeds the amount paid")
	ErrHasPayments       = errors.New("invoice has payments and cannot be cancelled")
)

type InvoiceItem struct {
	ID          uuid.UUID `db:"id" json:"id"`
	InvoiceID   uuid.UUID `db:"invoice_id" json:"invoice_id"`
	Description string    `db:"description" json:"description"`
	Quantity    int       `db:"quantity" json:"quantity"`
	UnitPrice   float64   `db:"unit_price" json:"unit_price"`
	Amount      float64   `db:"amount" json:"amount"`
}

type Invoice struct {
	ID            uuid.UUID     `db:"id" json:"id"`
	InvoiceNumber string        `db:"invoice_number" json:"invoice_number"`
	PatientID     uuid.UUID     `db:"patient_id" json:"patient_id"`
	AppointmentID *uuid.UUID    `db:"appointment_id" json:"appointment_id,omitempty"`
	AdmissionID   *uuid.UUID    `db:"admission_id" json:"admission_id,omitempty"`
	Items         []InvoiceItem `db:"-" json:"items"`
	Subtotal      float64       `db:"subtotal" json:"subtotal"`
	Discount      float64       `db:"discount" json:"discount"`
	Tax           float64       `db:"tax" json:"tax"`
	TotalAmount   float64       `db:"total_amount" json:"total_amount"`
	PaidAmount    float64       `db:"paid_amount" json:"paid_amount"`
	Status        string        `db:"status" json:"status"`
	DueDate       *time.Time    `db:"due_date" json:"due_date,omitempty"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updated_at"`
}

// Balance is what is still owed.
func (inv *Invoice) Balance() float64 {
	return round2(inv.TotalAmount - inv.PaidAmount)
}

type Payment struct {
	ID        uuid.UUID `db:"id" json:"id"`
	InvoiceID uuid.UUID `db:"invoice_id" json:"invoice_id"`
	Amount    float64   `db:"amount" json:"amount"`
	Method    string    `db:"method" json:"method"`
	Reference *string   `db:"reference" json:"reference,omitempty"`
	PaidAt    time.Time `db:"paid_at" json:"paid_at"`
}

type Refund struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	InvoiceID  uuid.UUID  `db:"invoice_id" json:"invoice_id"`
	PaymentID  *uuid.UUID `db:"payment_id" json:"payment_id,omitempty"`
	Amount     float64    `db:"amount" json:"amount"`
	Reason     string     `db:"reason" json:"reason"`
	RefundedAt time.Time  `db:"refunded_at" json:"refunded_at"`
}

// InvoiceFilter selects invoices. Zero values match everything.
type InvoiceFilter struct {
	PatientID *uuid.UUID
	Status    string
	Limit     int
	Offset    int
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// computeTotals fills item amounts, subtotal and total. The total never
// drops below zero.
func computeTotals(inv *Invoice) {
	subtotal := 0.0
	for i := range inv.Items {
		it := &inv.Items[i]
		it.Amount = round2(float64(it.Quantity) * it.UnitPrice)
		subtotal += it.Amount
	}
	inv.Subtotal = round2(subtotal)
	inv.Discount = round2(inv.Discount)
	inv.Tax = round2(inv.Tax)
	inv.TotalAmount = math.Max(0, round2(inv.Subtotal-inv.Discount+inv.Tax))
}

// paymentStatus derives the status from the amounts. refunded marks an
// invoice whose payments were all given back.
func paymentStatus(paid, total float64, refunded bool) string {
	switch {
	case paid <= 0 && refunded:
		return StatusRefunded
	case paid <= 0:
		if total <= 0 {
			return StatusPaid
		}
		return StatusUnpaid
	case paid >= total:
		return StatusPaid
	default:
		return StatusPartiallyPaid
	}
}
