package emergency

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
)

type visitRepoPG struct{ pool *pgxpool.Pool }

func NewVisitRepoPG(pool *pgxpool.Pool) VisitRepository { return &visitRepoPG{pool: pool} }

func (r *visitRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const visitCols = `id, visit_number, patient_id, patient_name, triage_level, chief_complaint, arrival_mode,
	status, attending_doctor_id, notes, arrived_at, disposition_at, updated_at`

func scanVisit(row pgx.Row) (*ERVisit, error) {
	var v ERVisit
	err := row.Scan(&v.ID, &v.VisitNumber, &v.PatientID, &v.PatientName, &v.TriageLevel, &v.ChiefComplaint,
		&v.ArrivalMode, &v.Status, &v.AttendingDoctorID, &v.Notes, &v.ArrivedAt, &v.DispositionAt, &v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *visitRepoPG) Create(ctx context.Context, v *ERVisit) error {
	v.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO er_visit (id, visit_number, patient_id, patient_name, triage_level, chief_complaint,
			arrival_mode, status, notes, arrived_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING updated_at`,
		v.ID, v.VisitNumber, v.PatientID, v.PatientName, v.TriageLevel, v.ChiefComplaint,
		v.ArrivalMode, v.Status, v.Notes, v.ArrivedAt,
	).Scan(&v.UpdatedAt)
}

func (r *visitRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ERVisit, error) {
	return scanVisit(r.conn(ctx).QueryRow(ctx, `SELECT `+visitCols+` FROM er_visit WHERE id = $1`, id))
}

func (r *visitRepoPG) Update(ctx context.Context, v *ERVisit) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE er_visit SET patient_id=$2, triage_level=$3, status=$4, attending_doctor_id=$5, notes=$6,
			disposition_at=$7, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		v.ID, v.PatientID, v.TriageLevel, v.Status, v.AttendingDoctorID, v.Notes, v.DispositionAt,
	).Scan(&v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *visitRepoPG) ListActive(ctx context.Context) ([]*ERVisit, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+visitCols+` FROM er_visit
		WHERE status IN ($1, $2)
		ORDER BY triage_level, arrived_at`, StatusWaiting, StatusInTreatment)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ERVisit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, rows.Err()
}

func (r *visitRepoPG) LastNumber(ctx context.Context, prefix string) (string, error) {
	return db.LastCode(ctx, r.conn(ctx), "er_visit", "visit_number", prefix)
}
