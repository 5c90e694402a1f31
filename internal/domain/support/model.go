package support

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Ticket statuses.
const (
	StatusOpen       = "Open"
	StatusInProgress = "In Progress"
	StatusResolved   = "Resolved"
	StatusClosed     = "Closed"
)

// Ticket priorities.
const (
	PriorityLow      = "Low"
	PriorityMedium   = "Medium"
	PriorityHigh     = "High"
	PriorityCritical = "Critical"
)

var validPriorities = map[string]bool{
	PriorityLow: true, PriorityMedium: true, PriorityHigh: true, PriorityCritical: true,
}

// allowedTransitions lists where each status may move. Closed is final.
var allowedTransitions = map[string][]string{
	StatusOpen:       {StatusInProgress, StatusResolved, StatusClosed},
	StatusInProgress: {StatusOpen, StatusResolved, StatusClosed},
	StatusResolved:   {StatusOpen, StatusClosed},
}

var (
	ErrNotFound          = errors.New("not found")
	ErrTicketClosed      = errors.New("ticket is closed")
	ErrInvalidTransition = errors.New("invalid status transition")
)

type Ticket struct {
	ID           uuid.UUID `db:"id" json:"id"`
	TicketNumber string    `db:"ticket_number" json:"ticket_number"`
	Subject      string    `db:"subject" json:"subject"`
	Description  string    `db:"description" json:"description"`
	Category     string    `db:"category" json:"category"`
	Priority     string    `db:"priority" json:"priority"`
	Status       string    `db:"status" json:"status"`
	RaisedBy     string    `db:"raised_by" json:"raised_by"`
	AssignedTo   *string   `db:"assigned_to" json:"assigned_to,omitempty"`
	Replies      []Reply   `db:"-" json:"replies,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

type Reply struct {
	ID        uuid.UUID `db:"id" json:"id"`
	TicketID  uuid.UUID `db:"ticket_id" json:"ticket_id"`
	Author    string    `db:"author" json:"author"`
	Message   string    `db:"message" json:"message"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type TicketFilter struct {
	Status     string
	Priority   string
	AssignedTo string
	RaisedBy   string
	Limit      int
	Offset     int
}

func canTransition(from, to string) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
