package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/pkg/pagination"
)

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// =========== Invoice Repository ===========

type invoiceRepoPG struct{ pool *pgxpool.Pool }

func NewInvoiceRepoPG(pool *pgxpool.Pool) InvoiceRepository { return &invoiceRepoPG{pool: pool} }

func (r *invoiceRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const invoiceCols = `id, invoice_number, patient_id, appointment_id, admission_id, subtotal, discount, tax,
	total_amount, paid_amount, status, due_date, created_at, updated_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.InvoiceNumber, &inv.PatientID, &inv.AppointmentID, &inv.AdmissionID,
		&inv.Subtotal, &inv.Discount, &inv.Tax, &inv.TotalAmount, &inv.PaidAmount, &inv.Status,
		&inv.DueDate, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &inv, nil
}

func (r *invoiceRepoPG) Create(ctx context.Context, inv *Invoice) error {
	q := r.conn(ctx)
	inv.ID = uuid.New()
	err := q.QueryRow(ctx, `
		INSERT INTO invoice (id, invoice_number, patient_id, appointment_id, admission_id, subtotal, discount,
			tax, total_amount, paid_amount, status, due_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING created_at, updated_at`,
		inv.ID, inv.InvoiceNumber, inv.PatientID, inv.AppointmentID, inv.AdmissionID, inv.Subtotal,
		inv.Discount, inv.Tax, inv.TotalAmount, inv.PaidAmount, inv.Status, inv.DueDate,
	).Scan(&inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return err
	}
	for i := range inv.Items {
		it := &inv.Items[i]
		it.ID = uuid.New()
		it.InvoiceID = inv.ID
		if _, err := q.Exec(ctx, `
			INSERT INTO invoice_item (id, invoice_id, description, quantity, unit_price, amount)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			it.ID, it.InvoiceID, it.Description, it.Quantity, it.UnitPrice, it.Amount); err != nil {
			return fmt.Errorf("insert invoice item %d: %w", i, err)
		}
	}
	return nil
}

func (r *invoiceRepoPG) items(ctx context.Context, inv *Invoice) error {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, invoice_id, description, quantity, unit_price, amount
		FROM invoice_item WHERE invoice_id = $1 ORDER BY description, id`, inv.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	inv.Items = []InvoiceItem{}
	for rows.Next() {
		var it InvoiceItem
		if err := rows.Scan(&it.ID, &it.InvoiceID, &it.Description, &it.Quantity, &it.UnitPrice, &it.Amount); err != nil {
			return err
		}
		inv.Items = append(inv.Items, it)
	}
	return rows.Err()
}

func (r *invoiceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := scanInvoice(r.conn(ctx).QueryRow(ctx, `SELECT `+invoiceCols+` FROM invoice WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	return inv, r.items(ctx, inv)
}

func (r *invoiceRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return scanInvoice(r.conn(ctx).QueryRow(ctx, `SELECT `+invoiceCols+` FROM invoice WHERE id = $1 FOR UPDATE`, id))
}

func (r *invoiceRepoPG) UpdatePayment(ctx context.Context, inv *Invoice) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE invoice SET paid_amount=$2, status=$3, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		inv.ID, inv.PaidAmount, inv.Status,
	).Scan(&inv.UpdatedAt)
	return notFound(err)
}

func (r *invoiceRepoPG) List(ctx context.Context, f InvoiceFilter) ([]*Invoice, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.PatientID != nil {
		where += fmt.Sprintf(` AND patient_id = $%d`, idx)
		args = append(args, *f.PatientID)
		idx++
	}
	if f.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, f.Status)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM invoice`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	p := pagination.Normalize(f.Limit, f.Offset)
	query := `SELECT ` + invoiceCols + ` FROM invoice` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, p.Limit, p.Offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, inv)
	}
	return items, total, rows.Err()
}

func (r *invoiceRepoPG) LastNumber(ctx context.Context, prefix string) (string, error) {
	return db.LastCode(ctx, r.conn(ctx), "invoice", "invoice_number", prefix)
}

// =========== Payment Repository ===========

type paymentRepoPG struct{ pool *pgxpool.Pool }

func NewPaymentRepoPG(pool *pgxpool.Pool) PaymentRepository { return &paymentRepoPG{pool: pool} }

func (r *paymentRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

func (r *paymentRepoPG) Create(ctx context.Context, p *Payment) error {
	p.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO payment (id, invoice_id, amount, method, reference)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING paid_at`,
		p.ID, p.InvoiceID, p.Amount, p.Method, p.Reference,
	).Scan(&p.PaidAt)
}

func (r *paymentRepoPG) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, invoice_id, amount, method, reference, paid_at
		FROM payment WHERE invoice_id = $1 ORDER BY paid_at`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.Amount, &p.Method, &p.Reference, &p.PaidAt); err != nil {
			return nil, err
		}
		items = append(items, &p)
	}
	return items, rows.Err()
}

func (r *paymentRepoPG) CreateRefund(ctx context.Context, rf *Refund) error {
	rf.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO refund (id, invoice_id, payment_id, amount, reason)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING refunded_at`,
		rf.ID, rf.InvoiceID, rf.PaymentID, rf.Amount, rf.Reason,
	).Scan(&rf.RefundedAt)
}

func (r *paymentRepoPG) ListRefunds(ctx context.Context, invoiceID uuid.UUID) ([]*Refund, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, invoice_id, payment_id, amount, reason, refunded_at
		FROM refund WHERE invoice_id = $1 ORDER BY refunded_at`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Refund
	for rows.Next() {
		var rf Refund
		if err := rows.Scan(&rf.ID, &rf.InvoiceID, &rf.PaymentID, &rf.Amount, &rf.Reason, &rf.RefundedAt); err != nil {
			return nil, err
		}
		items = append(items, &rf)
	}
	return items, rows.Err()
}
