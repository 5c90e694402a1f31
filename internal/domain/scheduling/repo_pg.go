package scheduling

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

// =========== Doctor Repository ===========

type doctorRepoPG struct{ pool *pgxpool.Pool }

func NewDoctorRepoPG(pool *pgxpool.Pool) DoctorRepository { return &doctorRepoPG{pool: pool} }

func (r *doctorRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const doctorCols = `id, name, specialization, department, consultation_fee, active, created_at, updated_at`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.Name, &d.Specialization, &d.Department, &d.ConsultationFee,
		&d.Active, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

func (r *doctorRepoPG) Create(ctx context.Context, d *Doctor) error {
	d.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO doctor (id, name, specialization, department, consultation_fee, active)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at, updated_at`,
		d.ID, d.Name, d.Specialization, d.Department, d.ConsultationFee, d.Active,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
}

func (r *doctorRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return scanDoctor(r.conn(ctx).QueryRow(ctx, `SELECT `+doctorCols+` FROM doctor WHERE id = $1`, id))
}

func (r *doctorRepoPG) Update(ctx context.Context, d *Doctor) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE doctor SET name=$2, specialization=$3, department=$4, consultation_fee=$5,
			active=$6, updated_at=NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		d.ID, d.Name, d.Specialization, d.Department, d.ConsultationFee, d.Active,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	return notFound(err)
}

func (r *doctorRepoPG) List(ctx context.Context, f DoctorFilter) ([]*Doctor, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.Department != "" {
		where += fmt.Sprintf(` AND department = $%d`, idx)
		args = append(args, f.Department)
		idx++
	}
	if f.Search != "" {
		where += fmt.Sprintf(` AND (name ILIKE $%d OR specialization ILIKE $%d)`, idx, idx)
		args = append(args, "%"+f.Search+"%")
		idx++
	}
	if f.ActiveOnly {
		where += ` AND active`
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM doctor`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	p := pagination.Normalize(f.Limit, f.Offset)
	query := `SELECT ` + doctorCols + ` FROM doctor` + where +
		fmt.Sprintf(` ORDER BY name LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, p.Limit, p.Offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}

// =========== Schedule Repository ===========

type scheduleRepoPG struct{ pool *pgxpool.Pool }

func NewScheduleRepoPG(pool *pgxpool.Pool) ScheduleRepository { return &scheduleRepoPG{pool: pool} }

func (r *scheduleRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

// Times are exchanged as HH:MM text so they map onto Clock without a custom codec.
const scheduleCols = `id, doctor_id, day_of_week,
	to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'),
	to_char(break_start, 'HH24:MI'), to_char(break_end, 'HH24:MI'),
	max_appointments, slot_duration, name, active`

func scanSchedule(row pgx.Row) (ScheduleSlot, error) {
	var s ScheduleSlot
	var start, end string
	var breakStart, breakEnd *string
	if err := row.Scan(&s.ID, &s.DoctorID, &s.DayOfWeek, &start, &end, &breakStart, &breakEnd,
		&s.MaxAppointments, &s.SlotDuration, &s.Name, &s.Active); err != nil {
		return s, err
	}
	var err error
	if s.StartTime, err = ParseClock(start); err != nil {
		return s, err
	}
	if s.EndTime, err = ParseClock(end); err != nil {
		return s, err
	}
	if s.BreakStart, err = parseOptionalClock(breakStart); err != nil {
		return s, err
	}
	if s.BreakEnd, err = parseOptionalClock(breakEnd); err != nil {
		return s, err
	}
	return s, nil
}

func parseOptionalClock(s *string) (*Clock, error) {
	if s == nil {
		return nil, nil
	}
	c, err := ParseClock(*s)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func clockArg(c *Clock) *string {
	if c == nil {
		return nil
	}
	s := c.String()
	return &s
}

func (r *scheduleRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]ScheduleSlot, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+scheduleCols+` FROM doctor_schedule
		WHERE doctor_id = $1
		ORDER BY array_position(ARRAY['Monday','Tuesday','Wednesday','Thursday','Friday','Saturday','Sunday'], day_of_week),
			start_time`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ScheduleSlot
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func (r *scheduleRepoPG) ReplaceForDoctor(ctx context.Context, doctorID uuid.UUID, rows []ScheduleSlot) error {
	q := r.conn(ctx)
	if _, err := q.Exec(ctx, `DELETE FROM doctor_schedule WHERE doctor_id = $1`, doctorID); err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	for i := range rows {
		s := &rows[i]
		s.ID = uuid.New()
		s.DoctorID = doctorID
		_, err := q.Exec(ctx, `
			INSERT INTO doctor_schedule (id, doctor_id, day_of_week, start_time, end_time,
				break_start, break_end, max_appointments, slot_duration, name, active)
			VALUES ($1,$2,$3,$4::time,$5::time,$6::time,$7::time,$8,$9,$10,$11)`,
			s.ID, s.DoctorID, s.DayOfWeek, s.StartTime.String(), s.EndTime.String(),
			clockArg(s.BreakStart), clockArg(s.BreakEnd), s.MaxAppointments, s.SlotDuration, s.Name, s.Active)
		if err != nil {
			return fmt.Errorf("insert schedule row %d: %w", i, err)
		}
	}
	return nil
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const apptCols = `id, appointment_number, patient_id, doctor_id, start_time, end_time,
	duration_minutes, status, reason, notes, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.AppointmentNumber, &a.PatientID, &a.DoctorID, &a.StartTime, &a.EndTime,
		&a.DurationMinutes, &a.Status, &a.Reason, &a.Notes, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment (id, appointment_number, patient_id, doctor_id, start_time, end_time,
			duration_minutes, status, reason, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		a.ID, a.AppointmentNumber, a.PatientID, a.DoctorID, a.StartTime, a.EndTime,
		a.DurationMinutes, a.Status, a.Reason, a.Notes,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
}

func (r *appointmentRepoPG) UpdateSchedule(ctx context.Context, a *Appointment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE appointment SET start_time=$2, end_time=$3, duration_minutes=$4, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, a.StartTime, a.EndTime, a.DurationMinutes,
	).Scan(&a.UpdatedAt)
	return notFound(err)
}

func (r *appointmentRepoPG) UpdateStatus(ctx context.Context, a *Appointment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE appointment SET status=$2, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, a.Status,
	).Scan(&a.UpdatedAt)
	return notFound(err)
}

func (r *appointmentRepoPG) List(ctx context.Context, f AppointmentFilter) ([]*Appointment, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.DoctorID != nil {
		where += fmt.Sprintf(` AND doctor_id = $%d`, idx)
		args = append(args, *f.DoctorID)
		idx++
	}
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
	if f.DateFrom != nil {
		where += fmt.Sprintf(` AND start_time >= $%d`, idx)
		args = append(args, *f.DateFrom)
		idx++
	}
	if f.DateTo != nil {
		where += fmt.Sprintf(` AND start_time < $%d`, idx)
		args = append(args, *f.DateTo)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointment`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	p := pagination.Normalize(f.Limit, f.Offset)
	query := `SELECT ` + apptCols + ` FROM appointment` + where +
		fmt.Sprintf(` ORDER BY start_time, appointment_number LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, p.Limit, p.Offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *appointmentRepoPG) CountAt(ctx context.Context, doctorID uuid.UUID, at time.Time, exclude *uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM appointment
		WHERE doctor_id = $1 AND start_time = $2 AND status <> $3
			AND ($4::uuid IS NULL OR id <> $4)`,
		doctorID, at, StatusCancelled, exclude,
	).Scan(&n)
	return n, err
}

func (r *appointmentRepoPG) CountByStart(ctx context.Context, doctorID uuid.UUID, from, to time.Time) (OccupancyCounts, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT start_time, COUNT(*) FROM appointment
		WHERE doctor_id = $1 AND start_time >= $2 AND start_time < $3 AND status <> $4
		GROUP BY start_time`,
		doctorID, from, to, StatusCancelled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := OccupancyCounts{}
	for rows.Next() {
		var at time.Time
		var n int
		if err := rows.Scan(&at, &n); err != nil {
			return nil, err
		}
		counts[at.Unix()] = n
	}
	return counts, rows.Err()
}

func (r *appointmentRepoPG) LastNumber(ctx context.Context, prefix string) (string, error) {
	return db.LastCode(ctx, r.conn(ctx), "appointment", "appointment_number", prefix)
}
