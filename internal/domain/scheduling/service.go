package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/events"
	"github.com/hms/hms/internal/platform/metrics"
	"github.com/hms/hms/internal/platform/sequence"
)

type Service struct {
	doctors      DoctorRepository
	schedules    ScheduleRepository
	appointments AppointmentRepository
	tx           db.Transactor
	codes        *sequence.Generator
	events       events.Publisher
	metrics      *metrics.Collector
	logger       zerolog.Logger
	loc          *time.Location
}

func NewService(doc DoctorRepository, sched ScheduleRepository, appt AppointmentRepository,
	tx db.Transactor, pub events.Publisher, m *metrics.Collector, logger zerolog.Logger) *Service {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Service{
		doctors:      doc,
		schedules:    sched,
		appointments: appt,
		tx:           tx,
		codes:        sequence.NewGenerator(tx),
		events:       pub,
		metrics:      m,
		logger:       logger.With().Str("component", "scheduling").Logger(),
		loc:          time.Local,
	}
}

// SetLocation sets the hospital time zone in which schedule clock times
// are interpreted. Defaults to time.Local.
func (s *Service) SetLocation(loc *time.Location) {
	if loc != nil {
		s.loc = loc
	}
}

func (s *Service) Location() *time.Location { return s.loc }

// -- Doctor --

func (s *Service) CreateDoctor(ctx context.Context, d *Doctor) error {
	if d.Name == "" {
		return fmt.Errorf("name is required")
	}
	if d.ConsultationFee < 0 {
		return fmt.Errorf("consultation_fee must not be negative")
	}
	if d.Active == nil {
		d.Active = boolPtr(true)
	}
	return s.doctors.Create(ctx, d)
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return s.doctors.GetByID(ctx, id)
}

func (s *Service) UpdateDoctor(ctx context.Context, d *Doctor) error {
	if d.Name == "" {
		return fmt.Errorf("name is required")
	}
	if d.ConsultationFee < 0 {
		return fmt.Errorf("consultation_fee must not be negative")
	}
	if d.Active == nil {
		d.Active = boolPtr(true)
	}
	return s.doctors.Update(ctx, d)
}

func (s *Service) ListDoctors(ctx context.Context, f DoctorFilter) ([]*Doctor, int, error) {
	return s.doctors.List(ctx, f)
}

// -- Schedule --

func (s *Service) GetSchedule(ctx context.Context, doctorID uuid.UUID) ([]ScheduleSlot, error) {
	if _, err := s.doctors.GetByID(ctx, doctorID); err != nil {
		return nil, err
	}
	return s.schedules.ListByDoctor(ctx, doctorID)
}

func validateScheduleSlot(r *ScheduleSlot) error {
	if !validDay(r.DayOfWeek) {
		return fmt.Errorf("invalid day_of_week: %q", r.DayOfWeek)
	}
	if r.StartTime >= r.EndTime {
		return fmt.Errorf("start_time must be before end_time")
	}
	if r.SlotDuration <= 0 {
		return fmt.Errorf("slot_duration must be positive")
	}
	if r.MaxAppointments <= 0 {
		return fmt.Errorf("max_appointments must be positive")
	}
	if (r.BreakStart == nil) != (r.BreakEnd == nil) {
		return fmt.Errorf("break_start and break_end must be set together")
	}
	if r.BreakStart != nil {
		if *r.BreakStart >= *r.BreakEnd {
			return fmt.Errorf("break_start must be before break_end")
		}
		if *r.BreakStart < r.StartTime || *r.BreakEnd > r.EndTime {
			return fmt.Errorf("break must lie within the working window")
		}
	}
	return nil
}

// ReplaceSchedule swaps the doctor's whole weekly schedule for rows in one
// transaction. Existing appointments are left untouched.
func (s *Service) ReplaceSchedule(ctx context.Context, doctorID uuid.UUID, rows []ScheduleSlot) ([]ScheduleSlot, error) {
	for i := range rows {
		if err := validateScheduleSlot(&rows[i]); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		if rows[i].Active == nil {
			rows[i].Active = boolPtr(true)
		}
	}
	if _, err := s.doctors.GetByID(ctx, doctorID); err != nil {
		return nil, err
	}

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		return s.schedules.ReplaceForDoctor(ctx, doctorID, rows)
	})
	if err != nil {
		s.logger.Error().Err(err).Str("doctor_id", doctorID.String()).Msg("replace schedule failed")
		return nil, err
	}
	if inv, ok := s.schedules.(interface {
		Invalidate(context.Context, uuid.UUID)
	}); ok {
		inv.Invalidate(ctx, doctorID)
	}
	return rows, nil
}

// -- Slots --

// GetAvailableSlots enumerates the bookable start times of one calendar day.
// A positive duration keeps only starts that can hold that many minutes.
func (s *Service) GetAvailableSlots(ctx context.Context, doctorID uuid.UUID, date time.Time, duration int) ([]SlotDescriptor, error) {
	if duration < 0 {
		return nil, fmt.Errorf("duration must not be negative")
	}
	if _, err := s.doctors.GetByID(ctx, doctorID); err != nil {
		return nil, err
	}
	rows, err := s.schedules.ListByDoctor(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("load schedule: %w", err)
	}

	date = date.In(s.loc)
	dayRows := rowsForDay(rows, DayName(date))
	if len(dayRows) == 0 {
		return []SlotDescriptor{}, nil
	}

	from, to := dayBounds(date)
	counts, err := s.appointments.CountByStart(ctx, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("count appointments: %w", err)
	}

	slots := enumerateSlots(dayRows, date, duration, counts)
	s.logger.Debug().
		Str("doctor_id", doctorID.String()).
		Str("date", date.Format("2006-01-02")).
		Int("slots", len(slots)).
		Msg("enumerated slots")
	return slots, nil
}

// GetMonthAvailability summarizes capacity per day of a calendar month.
func (s *Service) GetMonthAvailability(ctx context.Context, doctorID uuid.UUID, year int, month time.Month) ([]DaySummary, error) {
	if month < time.January || month > time.December {
		return nil, fmt.Errorf("invalid month: %d", month)
	}
	if _, err := s.doctors.GetByID(ctx, doctorID); err != nil {
		return nil, err
	}
	rows, err := s.schedules.ListByDoctor(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("load schedule: %w", err)
	}

	from := time.Date(year, month, 1, 0, 0, 0, 0, s.loc)
	counts, err := s.appointments.CountByStart(ctx, doctorID, from, from.AddDate(0, 1, 0))
	if err != nil {
		return nil, fmt.Errorf("count appointments: %w", err)
	}
	return summarizeMonth(rows, year, month, s.loc, counts), nil
}

// CheckSlotAvailability reports whether one more appointment fits at at.
// exclude leaves an appointment out of the count, e.g. when rescheduling it.
func (s *Service) CheckSlotAvailability(ctx context.Context, doctorID uuid.UUID, at time.Time, duration int, exclude *uuid.UUID) (*Availability, error) {
	if duration < 0 {
		return nil, fmt.Errorf("duration must not be negative")
	}
	return s.check(ctx, doctorID, s.normalize(at), duration, exclude)
}

func (s *Service) normalize(t time.Time) time.Time {
	return t.In(s.loc).Truncate(time.Minute)
}

func (s *Service) check(ctx context.Context, doctorID uuid.UUID, at time.Time, duration int, exclude *uuid.UUID) (*Availability, error) {
	rows, err := s.schedules.ListByDoctor(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("load schedule: %w", err)
	}
	row, err := matchRow(rowsForDay(rows, DayName(at)), ClockOf(at), duration)
	if err != nil {
		return nil, err
	}

	current, err := s.appointments.CountAt(ctx, doctorID, at, exclude)
	if err != nil {
		return nil, fmt.Errorf("count appointments: %w", err)
	}
	if current >= row.MaxAppointments {
		return nil, &SlotFullError{Current: current, Max: row.MaxAppointments}
	}
	return &Availability{
		Available:    true,
		Message:      "Slot available",
		Current:      current,
		Max:          row.MaxAppointments,
		Remaining:    row.MaxAppointments - current,
		SlotDuration: row.SlotDuration,
	}, nil
}

func slotLockKey(doctorID uuid.UUID, at time.Time) string {
	return "slot:" + doctorID.String() + ":" + at.UTC().Format(time.RFC3339)
}

// apptLockKey is taken before the slot key so reschedules and status
// changes of one appointment never interleave.
func apptLockKey(id uuid.UUID) string {
	return "appt:" + id.String()
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrSlotFull):
		return metrics.ReasonSlotFull
	case errors.Is(err, ErrNotAvailableOnDay):
		return metrics.ReasonNotAvailableOnDay
	case errors.Is(err, ErrOutsideSchedule):
		return metrics.ReasonOutsideSchedule
	}
	return ""
}

func (s *Service) bookingFailed(err error, doctorID uuid.UUID, at time.Time) {
	if reason := rejectionReason(err); reason != "" {
		s.metrics.BookingRejected(reason)
		s.logger.Warn().Err(err).
			Str("doctor_id", doctorID.String()).
			Time("start_time", at).
			Msg("booking rejected")
		return
	}
	s.logger.Error().Err(err).Str("doctor_id", doctorID.String()).Msg("booking failed")
}

// -- Appointment --

// CreateAppointment books a. The capacity check, number allocation and
// insert share one transaction holding a lock on the doctor's slot, so
// concurrent bookings of the same slot are serialized.
func (s *Service) CreateAppointment(ctx context.Context, a *Appointment) error {
	if a.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if a.DoctorID == uuid.Nil {
		return fmt.Errorf("doctor_id is required")
	}
	if a.StartTime.IsZero() {
		return fmt.Errorf("start_time is required")
	}
	if a.DurationMinutes < 0 {
		return fmt.Errorf("duration_minutes must not be negative")
	}
	if a.Status == "" {
		a.Status = StatusScheduled
	}
	if a.Status != StatusScheduled && a.Status != StatusConfirmed {
		return fmt.Errorf("invalid initial status: %s", a.Status)
	}

	doctor, err := s.doctors.GetByID(ctx, a.DoctorID)
	if err != nil {
		return err
	}
	if !doctor.IsActive() {
		return ErrDoctorInactive
	}

	a.StartTime = s.normalize(a.StartTime)
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.tx.Lock(ctx, slotLockKey(a.DoctorID, a.StartTime)); err != nil {
			return err
		}
		avail, err := s.check(ctx, a.DoctorID, a.StartTime, a.DurationMinutes, nil)
		if err != nil {
			return err
		}
		if a.DurationMinutes == 0 {
			a.DurationMinutes = avail.SlotDuration
		}
		a.EndTime = a.StartTime.Add(time.Duration(a.DurationMinutes) * time.Minute)

		number, err := s.codes.NextCode(ctx, s.appointments.LastNumber, sequence.AppointmentPrefix, sequence.AppointmentWidth)
		if err != nil {
			return err
		}
		a.AppointmentNumber = number
		return s.appointments.Create(ctx, a)
	})
	if err != nil {
		s.bookingFailed(err, a.DoctorID, a.StartTime)
		return err
	}

	s.metrics.AppointmentBooked()
	s.logger.Info().
		Str("appointment_number", a.AppointmentNumber).
		Str("doctor_id", a.DoctorID.String()).
		Time("start_time", a.StartTime).
		Msg("appointment booked")
	events.Emit(ctx, s.events, s.logger, events.AppointmentBooked, a)
	return nil
}

// RescheduleAppointment moves an open appointment to start. A zero duration
// keeps the current length.
func (s *Service) RescheduleAppointment(ctx context.Context, id uuid.UUID, start time.Time, duration int) (*Appointment, error) {
	if start.IsZero() {
		return nil, fmt.Errorf("start_time is required")
	}
	if duration < 0 {
		return nil, fmt.Errorf("duration_minutes must not be negative")
	}
	start = s.normalize(start)

	var a *Appointment
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.tx.Lock(ctx, apptLockKey(id)); err != nil {
			return err
		}
		var err error
		a, err = s.appointments.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if a.Status == StatusCancelled || a.Status == StatusCompleted {
			return ErrInvalidTransition
		}
		if err := s.tx.Lock(ctx, slotLockKey(a.DoctorID, start)); err != nil {
			return err
		}
		if duration == 0 {
			duration = a.DurationMinutes
		}
		if _, err := s.check(ctx, a.DoctorID, start, duration, &id); err != nil {
			return err
		}
		a.StartTime = start
		a.DurationMinutes = duration
		a.EndTime = start.Add(time.Duration(duration) * time.Minute)
		return s.appointments.UpdateSchedule(ctx, a)
	})
	if err != nil {
		if a != nil {
			s.bookingFailed(err, a.DoctorID, start)
		}
		return nil, err
	}
	events.Emit(ctx, s.events, s.logger, events.AppointmentStatusChanged, a)
	return a, nil
}

// UpdateAppointmentStatus moves an appointment to status. Cancelled and
// Completed are terminal.
func (s *Service) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, status string) (*Appointment, error) {
	if !validAppointmentStatuses[status] {
		return nil, fmt.Errorf("invalid appointment status: %s", status)
	}
	var (
		a       *Appointment
		changed bool
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.tx.Lock(ctx, apptLockKey(id)); err != nil {
			return err
		}
		var err error
		a, err = s.appointments.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if a.Status == status {
			return nil
		}
		if a.Status == StatusCancelled || a.Status == StatusCompleted {
			return ErrInvalidTransition
		}
		a.Status = status
		changed = true
		return s.appointments.UpdateStatus(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		events.Emit(ctx, s.events, s.logger, events.AppointmentStatusChanged, a)
	}
	return a, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.appointments.GetByID(ctx, id)
}

func (s *Service) ListAppointments(ctx context.Context, f AppointmentFilter) ([]*Appointment, int, error) {
	return s.appointments.List(ctx, f)
}
