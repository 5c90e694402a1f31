package laboratory

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

type orderRepoPG struct{ pool *pgxpool.Pool }

func NewOrderRepoPG(pool *pgxpool.Pool) OrderRepository { return &orderRepoPG{pool: pool} }

func (r *orderRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const orderCols = `id, order_number, patient_id, doctor_id, appointment_id, priority, status, total_amount,
	notes, created_at, updated_at`

func scanOrder(row pgx.Row) (*LabOrder, error) {
	var o LabOrder
	err := row.Scan(&o.ID, &o.OrderNumber, &o.PatientID, &o.DoctorID, &o.AppointmentID, &o.Priority,
		&o.Status, &o.TotalAmount, &o.Notes, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

func (r *orderRepoPG) Create(ctx context.Context, o *LabOrder) error {
	q := r.conn(ctx)
	o.ID = uuid.New()
	err := q.QueryRow(ctx, `
		INSERT INTO lab_order (id, order_number, patient_id, doctor_id, appointment_id, priority, status,
			total_amount, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		o.ID, o.OrderNumber, o.PatientID, o.DoctorID, o.AppointmentID, o.Priority, o.Status,
		o.TotalAmount, o.Notes,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return err
	}
	for i := range o.Items {
		it := &o.Items[i]
		it.ID = uuid.New()
		it.OrderID = o.ID
		if _, err := q.Exec(ctx, `
			INSERT INTO lab_order_item (id, order_id, test_code, test_name, price, status)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			it.ID, it.OrderID, it.TestCode, it.TestName, it.Price, it.Status); err != nil {
			return fmt.Errorf("insert lab item %s: %w", it.TestCode, err)
		}
	}
	return nil
}

func (r *orderRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*LabOrder, error) {
	o, err := scanOrder(r.conn(ctx).QueryRow(ctx, `SELECT `+orderCols+` FROM lab_order WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, order_id, test_code, test_name, price, result, unit, reference_range, status, resulted_at
		FROM lab_order_item WHERE order_id = $1 ORDER BY test_code`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	o.Items = []LabOrderItem{}
	for rows.Next() {
		var it LabOrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.TestCode, &it.TestName, &it.Price, &it.Result,
			&it.Unit, &it.ReferenceRange, &it.Status, &it.ResultedAt); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, it)
	}
	return o, rows.Err()
}

func (r *orderRepoPG) UpdateStatus(ctx context.Context, o *LabOrder) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE lab_order SET status=$2, updated_at=NOW() WHERE id = $1 RETURNING updated_at`,
		o.ID, o.Status,
	).Scan(&o.UpdatedAt)
	return notFound(err)
}

func (r *orderRepoPG) UpdateItem(ctx context.Context, it *LabOrderItem) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE lab_order_item SET result=$2, unit=$3, reference_range=$4, status=$5, resulted_at=$6
		WHERE id = $1`,
		it.ID, it.Result, it.Unit, it.ReferenceRange, it.Status, it.ResultedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *orderRepoPG) List(ctx context.Context, f OrderFilter) ([]*LabOrder, int, error) {
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
	if f.Priority != "" {
		where += fmt.Sprintf(` AND priority = $%d`, idx)
		args = append(args, f.Priority)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM lab_order`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	p := pagination.Normalize(f.Limit, f.Offset)
	query := `SELECT ` + orderCols + ` FROM lab_order` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, p.Limit, p.Offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*LabOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, o)
	}
	return items, total, rows.Err()
}

func (r *orderRepoPG) LastNumber(ctx context.Context, prefix string) (string, error) {
	return db.LastCode(ctx, r.conn(ctx), "lab_order", "order_number", prefix)
}
