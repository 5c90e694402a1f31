package admission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/sequence"
)

type Service struct {
	admissions   AdmissionRepository
	transfers    TransferRepository
	certificates CertificateRepository
	tx           db.Transactor
	codes        *sequence.Generator
	logger       zerolog.Logger
	now          func() time.Time
}

func NewService(adm AdmissionRepository, tr TransferRepository, cert CertificateRepository, tx db.Transactor, logger zerolog.Logger) *Service {
	return &Service{
		admissions:   adm,
		transfers:    tr,
		certificates: cert,
		tx:           tx,
		codes:        sequence.NewGenerator(tx),
		logger:       logger.With().Str("component", "admission").Logger(),
		now:          time.Now,
	}
}

func bedLockKey(ward, bed string) string {
	return "bed:" + strings.ToLower(ward) + ":" + strings.ToLower(bed)
}

// lockAdmission takes the admission lock and reads the row under it. It is
// taken before any bed lock.
func (s *Service) lockAdmission(ctx context.Context, id uuid.UUID) (*Admission, error) {
	if err := s.tx.Lock(ctx, "admission:"+id.String()); err != nil {
		return nil, err
	}
	return s.admissions.GetByID(ctx, id)
}

// lockFreeBed takes the bed lock and fails if someone is admitted there.
func (s *Service) lockFreeBed(ctx context.Context, ward, bed string) error {
	if err := s.tx.Lock(ctx, bedLockKey(ward, bed)); err != nil {
		return err
	}
	_, err := s.admissions.Occupant(ctx, ward, bed)
	switch {
	case err == nil:
		return ErrBedOccupied
	case errors.Is(err, ErrNotFound):
		return nil
	default:
		return err
	}
}

func (s *Service) Admit(ctx context.Context, a *Admission) error {
	if a.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if a.DoctorID == uuid.Nil {
		return fmt.Errorf("doctor_id is required")
	}
	if a.Ward == "" || a.BedNumber == "" {
		return fmt.Errorf("ward and bed_number are required")
	}
	a.Status = StatusAdmitted
	a.DischargedAt = nil
	if a.AdmittedAt.IsZero() {
		a.AdmittedAt = s.now()
	}

	prefix := sequence.YearPrefix(sequence.AdmissionBase, a.AdmittedAt)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.lockFreeBed(ctx, a.Ward, a.BedNumber); err != nil {
			return err
		}
		number, err := s.codes.NextCode(ctx, s.admissions.LastNumber, prefix, sequence.AdmissionWidth)
		if err != nil {
			return err
		}
		a.IPDNumber = number
		return s.admissions.Create(ctx, a)
	})
	if err != nil {
		return err
	}
	s.logger.Info().Str("ipd_number", a.IPDNumber).Str("ward", a.Ward).Str("bed", a.BedNumber).Msg("patient admitted")
	return nil
}

func (s *Service) GetAdmission(ctx context.Context, id uuid.UUID) (*Admission, error) {
	return s.admissions.GetByID(ctx, id)
}

func (s *Service) ListAdmissions(ctx context.Context, f AdmissionFilter) ([]*Admission, int, error) {
	return s.admissions.List(ctx, f)
}

// Transfer moves an admitted patient to another bed and records the move.
func (s *Service) Transfer(ctx context.Context, admissionID uuid.UUID, toWard, toBed string, reason *string) (*BedTransfer, error) {
	if toWard == "" || toBed == "" {
		return nil, fmt.Errorf("to_ward and to_bed are required")
	}
	var t *BedTransfer
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		a, err := s.lockAdmission(ctx, admissionID)
		if err != nil {
			return err
		}
		if a.Status != StatusAdmitted {
			return ErrNotAdmitted
		}
		if strings.EqualFold(a.Ward, toWard) && strings.EqualFold(a.BedNumber, toBed) {
			return ErrSameBed
		}
		if err := s.lockFreeBed(ctx, toWard, toBed); err != nil {
			return err
		}
		t = &BedTransfer{
			AdmissionID: a.ID,
			FromWard:    a.Ward,
			FromBed:     a.BedNumber,
			ToWard:      toWard,
			ToBed:       toBed,
			Reason:      reason,
		}
		if err := s.transfers.Create(ctx, t); err != nil {
			return err
		}
		a.Ward, a.BedNumber = toWard, toBed
		return s.admissions.Update(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("admission_id", admissionID.String()).
		Str("from", t.FromWard+"/"+t.FromBed).
		Str("to", t.ToWard+"/"+t.ToBed).
		Msg("bed transfer")
	return t, nil
}

func (s *Service) ListTransfers(ctx context.Context, admissionID uuid.UUID) ([]*BedTransfer, error) {
	if _, err := s.admissions.GetByID(ctx, admissionID); err != nil {
		return nil, err
	}
	return s.transfers.ListByAdmission(ctx, admissionID)
}

func (s *Service) Discharge(ctx context.Context, id uuid.UUID) (*Admission, error) {
	var a *Admission
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		a, err = s.lockAdmission(ctx, id)
		if err != nil {
			return err
		}
		if a.Status != StatusAdmitted {
			return ErrNotAdmitted
		}
		now := s.now()
		a.Status = StatusDischarged
		a.DischargedAt = &now
		return s.admissions.Update(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// IssueDeathCertificate records a death. When the certificate references an
// admission, that admission is closed as Deceased.
func (s *Service) IssueDeathCertificate(ctx context.Context, c *DeathCertificate) error {
	if c.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if c.IssuedBy == uuid.Nil {
		return fmt.Errorf("issued_by is required")
	}
	if strings.TrimSpace(c.CauseOfDeath) == "" {
		return fmt.Errorf("cause_of_death is required")
	}
	if c.DateOfDeath.IsZero() {
		return fmt.Errorf("date_of_death is required")
	}
	now := s.now()
	if c.DateOfDeath.After(now) {
		return fmt.Errorf("date_of_death is in the future")
	}

	prefix := sequence.YearPrefix(sequence.DeathCertificateBase, now)
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.tx.Lock(ctx, "death:"+c.PatientID.String()); err != nil {
			return err
		}
		if _, err := s.certificates.GetByPatient(ctx, c.PatientID); err == nil {
			return ErrCertificateExists
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		if c.AdmissionID != nil {
			a, err := s.lockAdmission(ctx, *c.AdmissionID)
			if err != nil {
				return err
			}
			if a.PatientID != c.PatientID {
				return fmt.Errorf("admission belongs to another patient")
			}
			if a.Status != StatusAdmitted {
				return ErrNotAdmitted
			}
			at := c.DateOfDeath
			a.Status = StatusDeceased
			a.DischargedAt = &at
			if err := s.admissions.Update(ctx, a); err != nil {
				return err
			}
		}

		number, err := s.codes.NextCode(ctx, s.certificates.LastNumber, prefix, sequence.DeathCertificateWidth)
		if err != nil {
			return err
		}
		c.CertificateNumber = number
		return s.certificates.Create(ctx, c)
	})
}
