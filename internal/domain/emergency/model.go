package emergency

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Visit statuses. Waiting and In Treatment are active; the rest are
// dispositions and final.
const (
	StatusWaiting     = "Waiting"
	StatusInTreatment = "In Treatment"
	StatusAdmitted    = "Admitted"
	StatusDischarged  = "Discharged"
	StatusTransferred = "Transferred"
	StatusLWBS        = "LWBS"
)

var dispositions = map[string]bool{
	StatusAdmitted: true, StatusDischarged: true, StatusTransferred: true, StatusLWBS: true,
}

var arrivalModes = map[string]bool{
	"walk-in": true, "ambulance": true, "police": true, "referral": true,
}

var (
	ErrNotFound        = errors.New("not found")
	ErrFeatureDisabled = errors.New("emergency module not installed")
	ErrVisitClosed     = errors.New("visit already has a disposition")
	ErrInvalidTriage   = errors.New("triage level must be between 1 and 5")
)

type ERVisit struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	VisitNumber       string     `db:"visit_number" json:"visit_number"`
	PatientID         *uuid.UUID `db:"patient_id" json:"patient_id,omitempty"`
	PatientName       string     `db:"patient_name" json:"patient_name"`
	TriageLevel       int        `db:"triage_level" json:"triage_level"`
	ChiefComplaint    string     `db:"chief_complaint" json:"chief_complaint"`
	ArrivalMode       string     `db:"arrival_mode" json:"arrival_mode"`
	Status            string     `db:"status" json:"status"`
	AttendingDoctorID *uuid.UUID `db:"attending_doctor_id" json:"attending_doctor_id,omitempty"`
	Notes             *string    `db:"notes" json:"notes,omitempty"`
	ArrivedAt         time.Time  `db:"arrived_at" json:"arrived_at"`
	DispositionAt     *time.Time `db:"disposition_at" json:"disposition_at,omitempty"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// Active reports whether the patient is still in the department.
func (v *ERVisit) Active() bool {
	return v.Status == StatusWaiting || v.Status == StatusInTreatment
}

// VisitResult is returned by visit creation.
type VisitResult struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Visit   *ERVisit `json:"visit,omitempty"`
}
