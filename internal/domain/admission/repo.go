package admission

import (
	"context"

	"github.com/google/uuid"
)

type AdmissionRepository interface {
	Create(ctx context.Context, a *Admission) error
	GetByID(ctx context.Context, id uuid.UUID) (*Admission, error)
	Update(ctx context.Context, a *Admission) error
	List(ctx context.Context, f AdmissionFilter) ([]*Admission, int, error)
	// Occupant returns the admitted patient in ward/bed, or ErrNotFound.
	Occupant(ctx context.Context, ward, bed string) (*Admission, error)
	LastNumber(ctx context.Context, prefix string) (string, error)
}

type TransferRepository interface {
	Create(ctx context.Context, t *BedTransfer) error
	ListByAdmission(ctx context.Context, admissionID uuid.UUID) ([]*BedTransfer, error)
}

type CertificateRepository interface {
	Create(ctx context.Context, c *DeathCertificate) error
	GetByPatient(ctx context.Context, patientID uuid.UUID) (*DeathCertificate, error)
	LastNumber(ctx context.Context, prefix string) (string, error)
}
