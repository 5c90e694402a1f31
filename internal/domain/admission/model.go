package admission

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Admission statuses.
const (
	StatusAdmitted   = "Admitted"
	StatusDischarged = "Discharged"
	StatusDeceased   = "Deceased"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrBedOccupied       = errors.New("bed is occupied")
	ErrNotAdmitted       = errors.New("patient is not currently admitted")
	ErrSameBed           = errors.New("patient is already in that bed")
	ErrCertificateExists = errors.New("death certificate already issued for this patient")
)

type Admission struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	IPDNumber    string     `db:"ipd_number" json:"ipd_number"`
	PatientID    uuid.UUID  `db:"patient_id" json:"patient_id"`
	DoctorID     uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	Ward         string     `db:"ward" json:"ward"`
	BedNumber    string     `db:"bed_number" json:"bed_number"`
	Diagnosis    *string    `db:"diagnosis" json:"diagnosis,omitempty"`
	Status       string     `db:"status" json:"status"`
	AdmittedAt   time.Time  `db:"admitted_at" json:"admitted_at"`
	DischargedAt *time.Time `db:"discharged_at" json:"discharged_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

type BedTransfer struct {
	ID            uuid.UUID `db:"id" json:"id"`
	AdmissionID   uuid.UUID `db:"admission_id" json:"admission_id"`
	FromWard      string    `db:"from_ward" json:"from_ward"`
	FromBed       string    `db:"from_bed" json:"from_bed"`
	ToWard        string    `db:"to_ward" json:"to_ward"`
	ToBed         string    `db:"to_bed" json:"to_bed"`
	Reason        *string   `db:"reason" json:"reason,omitempty"`
	TransferredAt time.Time `db:"transferred_at" json:"transferred_at"`
}

type DeathCertificate struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	CertificateNumber string     `db:"certificate_number" json:"certificate_number"`
	PatientID         uuid.UUID  `db:"patient_id" json:"patient_id"`
	AdmissionID       *uuid.UUID `db:"admission_id" json:"admission_id,omitempty"`
	DateOfDeath       time.Time  `db:"date_of_death" json:"date_of_death"`
	CauseOfDeath      string     `db:"cause_of_death" json:"cause_of_death"`
	IssuedBy          uuid.UUID  `db:"issued_by" json:"issued_by"`
	IssuedAt          time.Time  `db:"issued_at" json:"issued_at"`
}

// TransferResult is the outcome of a bed move. Rejections are reported with
// Success false rather than as transport errors.
type TransferResult struct {
	Success  bool         `json:"success"`
	Message  string       `json:"message"`
	Transfer *BedTransfer `json:"transfer,omitempty"`
}

// AdmissionFilter selects admissions. Zero values match everything.
type AdmissionFilter struct {
	PatientID *uuid.UUID
	Ward      string
	Status    string
	Limit     int
	Offset    int
}
