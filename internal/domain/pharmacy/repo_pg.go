package pharmacy

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

// =========== Medicine Repository ===========

type medicineRepoPG struct{ pool *pgxpool.Pool }

func NewMedicineRepoPG(pool *pgxpool.Pool) MedicineRepository { return &medicineRepoPG{pool: pool} }

func (r *medicineRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const medicineCols = `id, name, generic_name, unit, unit_price, stock_quantity, reorder_level, active,
	created_at, updated_at`

func scanMedicine(row pgx.Row) (*Medicine, error) {
	var m Medicine
	err := row.Scan(&m.ID, &m.Name, &m.GenericName, &m.Unit, &m.UnitPrice, &m.StockQuantity,
		&m.ReorderLevel, &m.Active, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (r *medicineRepoPG) Create(ctx context.Context, m *Medicine) error {
	m.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medicine (id, name, generic_name, unit, unit_price, stock_quantity, reorder_level, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		m.ID, m.Name, m.GenericName, m.Unit, m.UnitPrice, m.StockQuantity, m.ReorderLevel, m.IsActive(),
	).Scan(&m.CreatedAt, &m.UpdatedAt)
}

func (r *medicineRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Medicine, error) {
	return scanMedicine(r.conn(ctx).QueryRow(ctx, `SELECT `+medicineCols+` FROM medicine WHERE id = $1`, id))
}

func (r *medicineRepoPG) List(ctx context.Context, f MedicineFilter) ([]*Medicine, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.Search != "" {
		where += fmt.Sprintf(` AND (name ILIKE $%d OR generic_name ILIKE $%d)`, idx, idx)
		args = append(args, "%"+f.Search+"%")
		idx++
	}
	if f.ActiveOnly {
		where += ` AND active`
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM medicine`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	p := pagination.Normalize(f.Limit, f.Offset)
	query := `SELECT ` + medicineCols + ` FROM medicine` + where +
		fmt.Sprintf(` ORDER BY name LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, p.Limit, p.Offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Medicine
	for rows.Next() {
		m, err := scanMedicine(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	return items, total, rows.Err()
}

func (r *medicineRepoPG) LowStock(ctx context.Context) ([]*Medicine, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+medicineCols+` FROM medicine
		WHERE active AND stock_quantity <= reorder_level
		ORDER BY stock_quantity - reorder_level, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Medicine
	for rows.Next() {
		m, err := scanMedicine(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (r *medicineRepoPG) SetStock(ctx context.Context, id uuid.UUID, qty int) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE medicine SET stock_quantity=$2, updated_at=NOW() WHERE id = $1`, id, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// =========== Adjustment Repository ===========

type adjustmentRepoPG struct{ pool *pgxpool.Pool }

func NewAdjustmentRepoPG(pool *pgxpool.Pool) AdjustmentRepository { return &adjustmentRepoPG{pool: pool} }

func (r *adjustmentRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

func (r *adjustmentRepoPG) Create(ctx context.Context, a *StockAdjustment) error {
	a.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO stock_adjustment (id, medicine_id, quantity, reason, reference)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at`,
		a.ID, a.MedicineID, a.Quantity, a.Reason, a.Reference,
	).Scan(&a.CreatedAt)
}

func (r *adjustmentRepoPG) ListByMedicine(ctx context.Context, medicineID uuid.UUID, limit int) ([]*StockAdjustment, error) {
	p := pagination.Normalize(limit, 0)
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, medicine_id, quantity, reason, reference, created_at
		FROM stock_adjustment WHERE medicine_id = $1
		ORDER BY created_at DESC LIMIT $2`, medicineID, p.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*StockAdjustment
	for rows.Next() {
		var a StockAdjustment
		if err := rows.Scan(&a.ID, &a.MedicineID, &a.Quantity, &a.Reason, &a.Reference, &a.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &a)
	}
	return items, rows.Err()
}

// =========== Purchase Order Repository ===========

type purchaseOrderRepoPG struct{ pool *pgxpool.Pool }

func NewPurchaseOrderRepoPG(pool *pgxpool.Pool) PurchaseOrderRepository {
	return &purchaseOrderRepoPG{pool: pool}
}

func (r *purchaseOrderRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const poCols = `id, po_number, supplier, status, total_amount, received_at, created_at, updated_at`

func scanPO(row pgx.Row) (*PurchaseOrder, error) {
	var po PurchaseOrder
	err := row.Scan(&po.ID, &po.PONumber, &po.Supplier, &po.Status, &po.TotalAmount, &po.ReceivedAt,
		&po.CreatedAt, &po.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &po, nil
}

func (r *purchaseOrderRepoPG) Create(ctx context.Context, po *PurchaseOrder) error {
	q := r.conn(ctx)
	po.ID = uuid.New()
	err := q.QueryRow(ctx, `
		INSERT INTO purchase_order (id, po_number, supplier, status, total_amount)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at, updated_at`,
		po.ID, po.PONumber, po.Supplier, po.Status, po.TotalAmount,
	).Scan(&po.CreatedAt, &po.UpdatedAt)
	if err != nil {
		return err
	}
	for i := range po.Items {
		it := &po.Items[i]
		it.ID = uuid.New()
		it.OrderID = po.ID
		if _, err := q.Exec(ctx, `
			INSERT INTO purchase_order_item (id, order_id, medicine_id, quantity, unit_cost, amount)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			it.ID, it.OrderID, it.MedicineID, it.Quantity, it.UnitCost, it.Amount); err != nil {
			return fmt.Errorf("insert purchase order line %d: %w", i, err)
		}
	}
	return nil
}

func (r *purchaseOrderRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*PurchaseOrder, error) {
	po, err := scanPO(r.conn(ctx).QueryRow(ctx, `SELECT `+poCols+` FROM purchase_order WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, order_id, medicine_id, quantity, unit_cost, amount
		FROM purchase_order_item WHERE order_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	po.Items = []PurchaseOrderItem{}
	for rows.Next() {
		var it PurchaseOrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.MedicineID, &it.Quantity, &it.UnitCost, &it.Amount); err != nil {
			return nil, err
		}
		po.Items = append(po.Items, it)
	}
	return po, rows.Err()
}

func (r *purchaseOrderRepoPG) UpdateStatus(ctx context.Context, po *PurchaseOrder) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE purchase_order SET status=$2, received_at=$3, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		po.ID, po.Status, po.ReceivedAt,
	).Scan(&po.UpdatedAt)
	return notFound(err)
}

func (r *purchaseOrderRepoPG) List(ctx context.Context, f POFilter) ([]*PurchaseOrder, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, f.Status)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM purchase_order`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	p := pagination.Normalize(f.Limit, f.Offset)
	query := `SELECT ` + poCols + ` FROM purchase_order` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, p.Limit, p.Offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*PurchaseOrder
	for rows.Next() {
		po, err := scanPO(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, po)
	}
	return items, total, rows.Err()
}

func (r *purchaseOrderRepoPG) LastNumber(ctx context.Context, prefix string) (string, error) {
	return db.LastCode(ctx, r.conn(ctx), "purchase_order", "po_number", prefix)
}
