package queue

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Token statuses, in the only order a token may move through them.
const (
	StatusWaiting    = "Waiting"
	StatusInProgress = "In Progress"
	StatusCompleted  = "Completed"
)

var statusRank = map[string]int{
	StatusWaiting:    0,
	StatusInProgress: 1,
	StatusCompleted:  2,
}

var (
	ErrNotFound          = errors.New("not found")
	ErrReceptionInactive = errors.New("reception is not active")
	ErrInvalidTransition = errors.New("token status can only move forward")
	ErrQueueEmpty        = errors.New("no waiting tokens")

	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrAppointmentClosed   = errors.New("appointment is cancelled or completed")
)

// closedAppointment lists appointment statuses that can no longer be queued.
var closedAppointment = map[string]bool{
	"Cancelled": true,
	"Completed": true,
}

type Reception struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Code        string    `db:"code" json:"code"`
	FloorNumber int       `db:"floor_number" json:"floor_number"`
	Active      *bool     `db:"active" json:"active,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

func (r *Reception) IsActive() bool {
	return r.Active == nil || *r.Active
}

type Token struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	AppointmentID uuid.UUID  `db:"appointment_id" json:"appointment_id"`
	ReceptionID   uuid.UUID  `db:"reception_id" json:"reception_id"`
	FloorNumber   int        `db:"floor_number" json:"floor_number"`
	TokenDate     time.Time  `db:"token_date" json:"token_date"`
	Sequence      int        `db:"sequence" json:"sequence"`
	TokenNumber   string     `db:"token_number" json:"token_number"`
	Status        string     `db:"status" json:"status"`
	CalledAt      *time.Time `db:"called_at" json:"called_at,omitempty"`
	CompletedAt   *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// BoardTopic is the display-board feed the token is announced on.
func (t *Token) BoardTopic() string { return "reception/" + t.ReceptionID.String() }

// Settings controls token numbering.
type Settings struct {
	// DailyReset restarts sequences at 1 on every date.
	DailyReset bool
	// PrefixTemplate builds the prefix from {floor} and {code}, e.g. "F{floor}".
	PrefixTemplate string
}

// TokenFilter selects tokens. Date matches token_date; Limit defaults to 20.
type TokenFilter struct {
	ReceptionID *uuid.UUID
	Date        *time.Time
	Status      string
	Limit       int
	Offset      int
}

// Date truncates t to its calendar date in t's location, expressed as UTC
// midnight so it round-trips through a DATE column unchanged.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
