package admission

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

// =========== Admission Repository ===========

type admissionRepoPG struct{ pool *pgxpool.Pool }

func NewAdmissionRepoPG(pool *pgxpool.Pool) AdmissionRepository { return &admissionRepoPG{pool: pool} }

func (r *admissionRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const admissionCols = `id, ipd_number, patient_id, doctor_id, ward, bed_number, diagnosis, status,
	admitted_at, discharged_at, created_at, updated_at`

func scanAdmission(row pgx.Row) (*Admission, error) {
	var a Admission
	err := row.Scan(&a.ID, &a.IPDNumber, &a.PatientID, &a.DoctorID, &a.Ward, &a.BedNumber, &a.Diagnosis,
		&a.Status, &a.AdmittedAt, &a.DischargedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (r *admissionRepoPG) Create(ctx context.Context, a *Admission) error {
	a.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO admission (id, ipd_number, patient_id, doctor_id, ward, bed_number, diagnosis, status, admitted_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		a.ID, a.IPDNumber, a.PatientID, a.DoctorID, a.Ward, a.BedNumber, a.Diagnosis, a.Status, a.AdmittedAt,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *admissionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Admission, error) {
	return scanAdmission(r.conn(ctx).QueryRow(ctx, `SELECT `+admissionCols+` FROM admission WHERE id = $1`, id))
}

func (r *admissionRepoPG) Update(ctx context.Context, a *Admission) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE admission SET doctor_id=$2, ward=$3, bed_number=$4, diagnosis=$5, status=$6,
			discharged_at=$7, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, a.DoctorID, a.Ward, a.BedNumber, a.Diagnosis, a.Status, a.DischargedAt,
	).Scan(&a.UpdatedAt)
	return notFound(err)
}

func (r *admissionRepoPG) List(ctx context.Context, f AdmissionFilter) ([]*Admission, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.PatientID != nil {
		where += fmt.Sprintf(` AND patient_id = $%d`, idx)
		args = append(args, *f.PatientID)
		idx++
	}
	if f.Ward != "" {
		where += fmt.Sprintf(` AND ward = $%d`, idx)
		args = append(args, f.Ward)
		idx++
	}
	if f.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, f.Status)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM admission`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	p := pagination.Normalize(f.Limit, f.Offset)
	query := `SELECT ` + admissionCols + ` FROM admission` + where +
		fmt.Sprintf(` ORDER BY admitted_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, p.Limit, p.Offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Admission
	for rows.Next() {
		a, err := scanAdmission(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *admissionRepoPG) Occupant(ctx context.Context, ward, bed string) (*Admission, error) {
	return scanAdmission(r.conn(ctx).QueryRow(ctx, `
		SELECT `+admissionCols+` FROM admission
		WHERE lower(ward) = lower($1) AND lower(bed_number) = lower($2) AND status = $3`, ward, bed, StatusAdmitted))
}

func (r *admissionRepoPG) LastNumber(ctx context.Context, prefix string) (string, error) {
	return db.LastCode(ctx, r.conn(ctx), "admission", "ipd_number", prefix)
}

// =========== Transfer Repository ===========

type transferRepoPG struct{ pool *pgxpool.Pool }

func NewTransferRepoPG(pool *pgxpool.Pool) TransferRepository { return &transferRepoPG{pool: pool} }

func (r *transferRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

func (r *transferRepoPG) Create(ctx context.Context, t *BedTransfer) error {
	t.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO bed_transfer (id, admission_id, from_ward, from_bed, to_ward, to_bed, reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING transferred_at`,
		t.ID, t.AdmissionID, t.FromWard, t.FromBed, t.ToWard, t.ToBed, t.Reason,
	).Scan(&t.TransferredAt)
}

func (r *transferRepoPG) ListByAdmission(ctx context.Context, admissionID uuid.UUID) ([]*BedTransfer, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, admission_id, from_ward, from_bed, to_ward, to_bed, reason, transferred_at
		FROM bed_transfer WHERE admission_id = $1 ORDER BY transferred_at`, admissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*BedTransfer
	for rows.Next() {
		var t BedTransfer
		if err := rows.Scan(&t.ID, &t.AdmissionID, &t.FromWard, &t.FromBed, &t.ToWard, &t.ToBed,
			&t.Reason, &t.TransferredAt); err != nil {
			return nil, err
		}
		items = append(items, &t)
	}
	return items, rows.Err()
}

// =========== Certificate Repository ===========

type certificateRepoPG struct{ pool *pgxpool.Pool }

func NewCertificateRepoPG(pool *pgxpool.Pool) CertificateRepository {
	return &certificateRepoPG{pool: pool}
}

func (r *certificateRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

func (r *certificateRepoPG) Create(ctx context.Context, c *DeathCertificate) error {
	c.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO death_certificate (id, certificate_number, patient_id, admission_id, date_of_death,
			cause_of_death, issued_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING issued_at`,
		c.ID, c.CertificateNumber, c.PatientID, c.AdmissionID, c.DateOfDeath, c.CauseOfDeath, c.IssuedBy,
	).Scan(&c.IssuedAt)
}

func (r *certificateRepoPG) GetByPatient(ctx context.Context, patientID uuid.UUID) (*DeathCertificate, error) {
	var c DeathCertificate
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, certificate_number, patient_id, admission_id, date_of_death, cause_of_death, issued_by, issued_at
		FROM death_certificate WHERE patient_id = $1`, patientID,
	).Scan(&c.ID, &c.CertificateNumber, &c.PatientID, &c.AdmissionID, &c.DateOfDeath, &c.CauseOfDeath,
		&c.IssuedBy, &c.IssuedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (r *certificateRepoPG) LastNumber(ctx context.Context, prefix string) (string, error) {
	return db.LastCode(ctx, r.conn(ctx), "death_certificate", "certificate_number", prefix)
}
