package laboratory

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Order statuses.
const (
	StatusPending    = "Pending"
	StatusInProgress = "In Progress"
	StatusCompleted  = "Completed"
	StatusCancelled  = "Cancelled"
)

// Order priorities.
const (
	PriorityRoutine = "Routine"
	PriorityUrgent  = "Urgent"
	PrioritySTAT    = "STAT"
)

var validPriorities = map[string]bool{
	PriorityRoutine: true, PriorityUrgent: true, PrioritySTAT: true,
}

var (
	ErrNotFound       = errors.New("not found")
	ErrOrderClosed    = errors.New("order is completed or cancelled")
	ErrItemNotInOrder = errors.New("item does not belong to this order")
)

type LabOrder struct {
	ID            uuid.UUID      `db:"id" json:"id"`
	OrderNumber   string         `db:"order_number" json:"order_number"`
	PatientID     uuid.UUID      `db:"patient_id" json:"patient_id"`
	DoctorID      uuid.UUID      `db:"doctor_id" json:"doctor_id"`
	AppointmentID *uuid.UUID     `db:"appointment_id" json:"appointment_id,omitempty"`
	Priority      string         `db:"priority" json:"priority"`
	Status        string         `db:"status" json:"status"`
	TotalAmount   float64        `db:"total_amount" json:"total_amount"`
	Notes         *string        `db:"notes" json:"notes,omitempty"`
	Items         []LabOrderItem `db:"-" json:"items"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

type LabOrderItem struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	OrderID        uuid.UUID  `db:"order_id" json:"order_id"`
	TestCode       string     `db:"test_code" json:"test_code"`
	TestName       string     `db:"test_name" json:"test_name"`
	Price          float64    `db:"price" json:"price"`
	Result         *string    `db:"result" json:"result,omitempty"`
	Unit           *string    `db:"unit" json:"unit,omitempty"`
	ReferenceRange *string    `db:"reference_range" json:"reference_range,omitempty"`
	Status         string     `db:"status" json:"status"`
	ResultedAt     *time.Time `db:"resulted_at" json:"resulted_at,omitempty"`
}

// ResultInput is what a technician enters for one test.
type ResultInput struct {
	Result         string  `json:"result"`
	Unit           *string `json:"unit"`
	ReferenceRange *string `json:"reference_range"`
}

type OrderFilter struct {
	PatientID *uuid.UUID
	Status    string
	Priority  string
	Limit     int
	Offset    int
}

// orderStatus derives the order status from its items.
func orderStatus(items []LabOrderItem) string {
	done := 0
	for _, it := range items {
		if it.Status == StatusCompleted {
			done++
		}
	}
	switch {
	case done == 0:
		return StatusPending
	case done == len(items):
		return StatusCompleted
	default:
		return StatusInProgress
	}
}
