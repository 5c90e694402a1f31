package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ReceptionRepository interface {
	Create(ctx context.Context, r *Reception) error
	GetByID(ctx context.Context, id uuid.UUID) (*Reception, error)
	List(ctx context.Context, activeOnly bool) ([]*Reception, error)
}

type TokenRepository interface {
	Create(ctx context.Context, t *Token) error
	GetByID(ctx context.Context, id uuid.UUID) (*Token, error)
	GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Token, error)
	Update(ctx context.Context, t *Token) error
	List(ctx context.Context, f TokenFilter) ([]*Token, int, error)
	// MaxSequence returns the highest sequence of the reception, limited to
	// date when date is not nil. It returns nil when there is none.
	MaxSequence(ctx context.Context, receptionID uuid.UUID, date *time.Time) (*int, error)
	// LastTokenNumber returns the token number of the most recently created
	// token in the same scope as MaxSequence, or "".
	LastTokenNumber(ctx context.Context, receptionID uuid.UUID, date *time.Time) (string, error)
	// NextWaiting returns the oldest waiting token of the reception on date.
	NextWaiting(ctx context.Context, receptionID uuid.UUID, date time.Time) (*Token, error)
}

// AppointmentLookup reads the status of the appointment a token is issued
// for. It returns ErrAppointmentNotFound when there is none.
type AppointmentLookup interface {
	AppointmentStatus(ctx context.Context, id uuid.UUID) (string, error)
}
