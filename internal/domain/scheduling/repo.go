package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type DoctorRepository interface {
	Create(ctx context.Context, d *Doctor) error
	GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	Update(ctx context.Context, d *Doctor) error
	List(ctx context.Context, f DoctorFilter) ([]*Doctor, int, error)
}

type ScheduleRepository interface {
	// ListByDoctor returns every row of the doctor's weekly schedule,
	// ordered by weekday then start time.
	ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]ScheduleSlot, error)
	// ReplaceForDoctor deletes all rows of the doctor and inserts rows.
	// Callers run it inside a transaction.
	ReplaceForDoctor(ctx context.Context, doctorID uuid.UUID, rows []ScheduleSlot) error
}

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// UpdateSchedule writes start, end and duration only.
	UpdateSchedule(ctx context.Context, a *Appointment) error
	// UpdateStatus writes status only.
	UpdateStatus(ctx context.Context, a *Appointment) error
	List(ctx context.Context, f AppointmentFilter) ([]*Appointment, int, error)
	// CountAt counts non-cancelled appointments of the doctor starting
	// exactly at at, ignoring exclude when set.
	CountAt(ctx context.Context, doctorID uuid.UUID, at time.Time, exclude *uuid.UUID) (int, error)
	// CountByStart groups non-cancelled appointments in [from, to) by start.
	CountByStart(ctx context.Context, doctorID uuid.UUID, from, to time.Time) (OccupancyCounts, error)
	// LastNumber returns the highest appointment number with prefix.
	LastNumber(ctx context.Context, prefix string) (string, error)
}
