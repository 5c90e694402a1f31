package support

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

type ticketRepoPG struct{ pool *pgxpool.Pool }

func NewTicketRepoPG(pool *pgxpool.Pool) TicketRepository { return &ticketRepoPG{pool: pool} }

func (r *ticketRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const ticketCols = `id, ticket_number, subject, description, category, priority, status, raised_by,
	assigned_to, created_at, updated_at`

func scanTicket(row pgx.Row) (*Ticket, error) {
	var t Ticket
	err := row.Scan(&t.ID, &t.TicketNumber, &t.Subject, &t.Description, &t.Category, &t.Priority,
		&t.Status, &t.RaisedBy, &t.AssignedTo, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (r *ticketRepoPG) Create(ctx context.Context, t *Ticket) error {
	t.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO support_ticket (id, ticket_number, subject, description, category, priority, status,
			raised_by, assigned_to)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		t.ID, t.TicketNumber, t.Subject, t.Description, t.Category, t.Priority, t.Status,
		t.RaisedBy, t.AssignedTo,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (r *ticketRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Ticket, error) {
	t, err := scanTicket(r.conn(ctx).QueryRow(ctx, `SELECT `+ticketCols+` FROM support_ticket WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, ticket_id, author, message, created_at
		FROM support_reply WHERE ticket_id = $1 ORDER BY created_at, id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var rp Reply
		if err := rows.Scan(&rp.ID, &rp.TicketID, &rp.Author, &rp.Message, &rp.CreatedAt); err != nil {
			return nil, err
		}
		t.Replies = append(t.Replies, rp)
	}
	return t, rows.Err()
}

func (r *ticketRepoPG) Update(ctx context.Context, t *Ticket) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE support_ticket SET priority=$2, status=$3, assigned_to=$4, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		t.ID, t.Priority, t.Status, t.AssignedTo,
	).Scan(&t.UpdatedAt)
	return notFound(err)
}

func (r *ticketRepoPG) AddReply(ctx context.Context, rp *Reply) error {
	rp.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO support_reply (id, ticket_id, author, message)
		VALUES ($1,$2,$3,$4)
		RETURNING created_at`,
		rp.ID, rp.TicketID, rp.Author, rp.Message,
	).Scan(&rp.CreatedAt)
}

func (r *ticketRepoPG) List(ctx context.Context, f TicketFilter) ([]*Ticket, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	for _, cond := range []struct{ col, val string }{
		{"status", f.Status},
		{"priority", f.Priority},
		{"assigned_to", f.AssignedTo},
		{"raised_by", f.RaisedBy},
	} {
		if cond.val == "" {
			continue
		}
		where += fmt.Sprintf(` AND %s = $%d`, cond.col, idx)
		args = append(args, cond.val)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM support_ticket`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	p := pagination.Normalize(f.Limit, f.Offset)
	query := `SELECT ` + ticketCols + ` FROM support_ticket` + where +
		fmt.Sprintf(` ORDER BY array_position(ARRAY['Critical','High','Medium','Low'], priority), created_at
			LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, p.Limit, p.Offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}

func (r *ticketRepoPG) LastNumber(ctx context.Context, prefix string) (string, error) {
	return db.LastCode(ctx, r.conn(ctx), "support_ticket", "ticket_number", prefix)
}
