package scheduling

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Appointment statuses.
const (
	StatusScheduled  = "Scheduled"
	StatusConfirmed  = "Confirmed"
	StatusInProgress = "In Progress"
	StatusCompleted  = "Completed"
	StatusCancelled  = "Cancelled"
)

var validAppointmentStatuses = map[string]bool{
	StatusScheduled: true, StatusConfirmed: true, StatusInProgress: true,
	StatusCompleted: true, StatusCancelled: true,
}

// Slot descriptor statuses.
const (
	SlotAvailable = "available"
	SlotLimited   = "limited"
	SlotFull      = "full"
)

// Weekdays are stored by English name, Monday first.
var weekdays = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

func DayName(t time.Time) string {
	return t.Weekday().String()
}

func validDay(day string) bool {
	for _, d := range weekdays {
		if d == day {
			return true
		}
	}
	return false
}

// Clock is a time of day in minutes after midnight, written "HH:MM".
type Clock int

func ParseClock(s string) (Clock, error) {
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return Clock(t.Hour()*60 + t.Minute()), nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q, want HH:MM", s)
}

func MustClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

func ClockOf(t time.Time) Clock {
	return Clock(t.Hour()*60 + t.Minute())
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// On places the clock time on date's calendar day, in date's location.
func (c Clock) On(date time.Time) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, int(c)/60, int(c)%60, 0, 0, date.Location())
}

func (c Clock) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Clock) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func boolPtr(b bool) *bool { return &b }

type Doctor struct {
	ID              uuid.UUID `db:"id" json:"id"`
	Name            string    `db:"name" json:"name"`
	Specialization  string    `db:"specialization" json:"specialization"`
	Department      string    `db:"department" json:"department"`
	ConsultationFee float64   `db:"consultation_fee" json:"consultation_fee"`
	Active          *bool     `db:"active" json:"active,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

func (d *Doctor) IsActive() bool {
	return d.Active == nil || *d.Active
}

// ScheduleSlot is one weekly working window of a doctor. A doctor may have
// several per day, each with its own interval and capacity.
type ScheduleSlot struct {
	ID              uuid.UUID `db:"id" json:"id"`
	DoctorID        uuid.UUID `db:"doctor_id" json:"doctor_id"`
	DayOfWeek       string    `db:"day_of_week" json:"day_of_week"`
	StartTime       Clock     `db:"start_time" json:"start_time"`
	EndTime         Clock     `db:"end_time" json:"end_time"`
	BreakStart      *Clock    `db:"break_start" json:"break_start,omitempty"`
	BreakEnd        *Clock    `db:"break_end" json:"break_end,omitempty"`
	MaxAppointments int       `db:"max_appointments" json:"max_appointments"`
	SlotDuration    int       `db:"slot_duration" json:"slot_duration"`
	Name            string    `db:"name" json:"name"`
	Active          *bool     `db:"active" json:"active,omitempty"`
}

// IsActive treats an unset flag as active.
func (s *ScheduleSlot) IsActive() bool {
	return s.Active == nil || *s.Active
}

func (s *ScheduleSlot) hasBreak() bool {
	return s.BreakStart != nil && s.BreakEnd != nil && *s.BreakStart < *s.BreakEnd
}

// overlapsBreak reports whether [from, to) intersects the break window.
func (s *ScheduleSlot) overlapsBreak(from, to Clock) bool {
	return s.hasBreak() && from < *s.BreakEnd && to > *s.BreakStart
}

// inBreak reports whether t falls inside [break_start, break_end).
func (s *ScheduleSlot) inBreak(t Clock) bool {
	return s.hasBreak() && t >= *s.BreakStart && t < *s.BreakEnd
}

type Appointment struct {
	ID                uuid.UUID `db:"id" json:"id"`
	AppointmentNumber string    `db:"appointment_number" json:"appointment_number"`
	PatientID         uuid.UUID `db:"patient_id" json:"patient_id"`
	DoctorID          uuid.UUID `db:"doctor_id" json:"doctor_id"`
	StartTime         time.Time `db:"start_time" json:"start_time"`
	EndTime           time.Time `db:"end_time" json:"end_time"`
	DurationMinutes   int       `db:"duration_minutes" json:"duration_minutes"`
	Status            string    `db:"status" json:"status"`
	Reason            *string   `db:"reason" json:"reason,omitempty"`
	Notes             *string   `db:"notes" json:"notes,omitempty"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

func (a *Appointment) BoardTopic() string { return "doctor/" + a.DoctorID.String() }

// SlotDescriptor is one bookable interval returned by the slot enumerator.
type SlotDescriptor struct {
	Time            string    `json:"time"`
	DateTime        time.Time `json:"datetime"`
	Available       int       `json:"available"`
	Total           int       `json:"total"`
	Current         int       `json:"current"`
	Status          string    `json:"status"`
	ScheduleName    string    `json:"schedule_name,omitempty"`
	DurationMinutes int       `json:"duration_minutes"`
}

// DaySummary aggregates one calendar day for month views.
type DaySummary struct {
	Date                string `json:"date"`
	DayOfWeek           string `json:"day_of_week"`
	AvailableSlotsCount int    `json:"available_slots_count"`
	TotalSlots          int    `json:"total_slots"`
	HasSchedule         bool   `json:"has_schedule"`
}

// Availability is the result of a successful booking-time check.
type Availability struct {
	Available bool   `json:"available"`
	Message   string `json:"message"`
	Current   int    `json:"current"`
	Max       int    `json:"max"`
	Remaining int    `json:"remaining"`
	// SlotDuration of the matched schedule row, used as the default
	// appointment length.
	SlotDuration int `json:"slot_duration"`
}

// DoctorFilter selects doctors. Zero values match everything.
type DoctorFilter struct {
	Department string
	Search     string
	ActiveOnly bool
	Limit      int
	Offset     int
}

// AppointmentFilter selects appointments. Zero values match everything;
// Limit defaults to 20 and is capped at 100.
type AppointmentFilter struct {
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
	Status    string
	DateFrom  *time.Time
	DateTo    *time.Time
	Limit     int
	Offset    int
}
