package scheduling

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrNotAvailableOnDay = errors.New("doctor is not available on this day")
	ErrOutsideSchedule   = errors.New("requested time is outside the doctor's schedule")
	ErrSlotFull          = errors.New("slot is full")
	ErrDoctorInactive    = errors.New("doctor is not active")
	ErrInvalidTransition = errors.New("appointment can no longer be changed")
)

// SlotFullError carries the occupancy that caused a rejection.
type SlotFullError struct {
	Current int
	Max     int
}

func (e *SlotFullError) Error() string {
	return fmt.Sprintf("slot is full (%d/%d)", e.Current, e.Max)
}

func (e *SlotFullError) Unwrap() error { return ErrSlotFull }
