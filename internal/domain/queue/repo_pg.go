package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

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

// =========== Reception Repository ===========

type receptionRepoPG struct{ pool *pgxpool.Pool }

func NewReceptionRepoPG(pool *pgxpool.Pool) ReceptionRepository { return &receptionRepoPG{pool: pool} }

func (r *receptionRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const receptionCols = `id, name, code, floor_number, active, created_at`

func scanReception(row pgx.Row) (*Reception, error) {
	var rc Reception
	if err := row.Scan(&rc.ID, &rc.Name, &rc.Code, &rc.FloorNumber, &rc.Active, &rc.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &rc, nil
}

func (r *receptionRepoPG) Create(ctx context.Context, rc *Reception) error {
	rc.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO reception (id, name, code, floor_number, active)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at`,
		rc.ID, rc.Name, rc.Code, rc.FloorNumber, rc.Active,
	).Scan(&rc.CreatedAt)
}

func (r *receptionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Reception, error) {
	return scanReception(r.conn(ctx).QueryRow(ctx, `SELECT `+receptionCols+` FROM reception WHERE id = $1`, id))
}

func (r *receptionRepoPG) List(ctx context.Context, activeOnly bool) ([]*Reception, error) {
	query := `SELECT ` + receptionCols + ` FROM reception`
	if activeOnly {
		query += ` WHERE active`
	}
	rows, err := r.conn(ctx).Query(ctx, query+` ORDER BY floor_number, code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Reception
	for rows.Next() {
		rc, err := scanReception(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rc)
	}
	return items, rows.Err()
}

// =========== Token Repository ===========

type tokenRepoPG struct{ pool *pgxpool.Pool }

func NewTokenRepoPG(pool *pgxpool.Pool) TokenRepository { return &tokenRepoPG{pool: pool} }

func (r *tokenRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const tokenCols = `id, appointment_id, reception_id, floor_number, token_date, sequence,
	token_number, status, called_at, completed_at, created_at`

func scanToken(row pgx.Row) (*Token, error) {
	var t Token
	err := row.Scan(&t.ID, &t.AppointmentID, &t.ReceptionID, &t.FloorNumber, &t.TokenDate, &t.Sequence,
		&t.TokenNumber, &t.Status, &t.CalledAt, &t.CompletedAt, &t.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (r *tokenRepoPG) Create(ctx context.Context, t *Token) error {
	t.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO queue_token (id, appointment_id, reception_id, floor_number, token_date, sequence,
			token_number, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at`,
		t.ID, t.AppointmentID, t.ReceptionID, t.FloorNumber, t.TokenDate, t.Sequence,
		t.TokenNumber, t.Status,
	).Scan(&t.CreatedAt)
}

func (r *tokenRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Token, error) {
	return scanToken(r.conn(ctx).QueryRow(ctx, `SELECT `+tokenCols+` FROM queue_token WHERE id = $1`, id))
}

func (r *tokenRepoPG) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Token, error) {
	return scanToken(r.conn(ctx).QueryRow(ctx,
		`SELECT `+tokenCols+` FROM queue_token WHERE appointment_id = $1`, appointmentID))
}

func (r *tokenRepoPG) Update(ctx context.Context, t *Token) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE queue_token SET status=$2, called_at=$3, completed_at=$4
		WHERE id = $1`,
		t.ID, t.Status, t.CalledAt, t.CompletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *tokenRepoPG) List(ctx context.Context, f TokenFilter) ([]*Token, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.ReceptionID != nil {
		where += fmt.Sprintf(` AND reception_id = $%d`, idx)
		args = append(args, *f.ReceptionID)
		idx++
	}
	if f.Date != nil {
		where += fmt.Sprintf(` AND token_date = $%d`, idx)
		args = append(args, *f.Date)
		idx++
	}
	if f.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, f.Status)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM queue_token`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	p := pagination.Normalize(f.Limit, f.Offset)
	query := `SELECT ` + tokenCols + ` FROM queue_token` + where +
		fmt.Sprintf(` ORDER BY token_date, sequence LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, p.Limit, p.Offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}

func (r *tokenRepoPG) MaxSequence(ctx context.Context, receptionID uuid.UUID, date *time.Time) (*int, error) {
	var max *int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT MAX(sequence) FROM queue_token
		WHERE reception_id = $1 AND ($2::date IS NULL OR token_date = $2)`,
		receptionID, date,
	).Scan(&max)
	return max, err
}

func (r *tokenRepoPG) LastTokenNumber(ctx context.Context, receptionID uuid.UUID, date *time.Time) (string, error) {
	var last string
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT token_number FROM queue_token
		WHERE reception_id = $1 AND ($2::date IS NULL OR token_date = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		receptionID, date,
	).Scan(&last)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return last, err
}

func (r *tokenRepoPG) NextWaiting(ctx context.Context, receptionID uuid.UUID, date time.Time) (*Token, error) {
	return scanToken(r.conn(ctx).QueryRow(ctx, `
		SELECT `+tokenCols+` FROM queue_token
		WHERE reception_id = $1 AND token_date = $2 AND status = $3
		ORDER BY sequence
		LIMIT 1
		FOR UPDATE SKIP LOCKED`,
		receptionID, date, StatusWaiting))
}

// =========== Appointment Lookup ===========

type appointmentLookupPG struct{ pool *pgxpool.Pool }

func NewAppointmentLookupPG(pool *pgxpool.Pool) AppointmentLookup {
	return &appointmentLookupPG{pool: pool}
}

func (r *appointmentLookupPG) AppointmentStatus(ctx context.Context, id uuid.UUID) (string, error) {
	var status string
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT status FROM appointment WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrAppointmentNotFound
	}
	return status, err
}
