package emergency

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/sequence"
)

// Service runs the emergency department board. The er_visit table is
// optional; when it is absent the service is built disabled and every
// operation returns ErrFeatureDisabled.
type Service struct {
	visits  VisitRepository
	tx      db.Transactor
	codes   *sequence.Generator
	enabled bool
	logger  zerolog.Logger
	now     func() time.Time
}

func NewService(visits VisitRepository, tx db.Transactor, enabled bool, logger zerolog.Logger) *Service {
	return &Service{
		visits:  visits,
		tx:      tx,
		codes:   sequence.NewGenerator(tx),
		enabled: enabled,
		logger:  logger.With().Str("component", "emergency").Logger(),
		now:     time.Now,
	}
}

func (s *Service) Enabled() bool { return s.enabled }

func (s *Service) CreateVisit(ctx context.Context, v *ERVisit) error {
	if !s.enabled {
		return ErrFeatureDisabled
	}
	v.PatientName = strings.TrimSpace(v.PatientName)
	if v.PatientName == "" && v.PatientID == nil {
		return fmt.Errorf("patient_name or patient_id is required")
	}
	if strings.TrimSpace(v.ChiefComplaint) == "" {
		return fmt.Errorf("chief_complaint is required")
	}
	if v.TriageLevel == 0 {
		v.TriageLevel = 3
	}
	if v.TriageLevel < 1 || v.TriageLevel > 5 {
		return ErrInvalidTriage
	}
	if v.ArrivalMode == "" {
		v.ArrivalMode = "walk-in"
	}
	if !arrivalModes[v.ArrivalMode] {
		return fmt.Errorf("invalid arrival_mode: %s", v.ArrivalMode)
	}
	v.Status = StatusWaiting
	v.AttendingDoctorID, v.DispositionAt = nil, nil
	if v.ArrivedAt.IsZero() {
		v.ArrivedAt = s.now()
	}

	prefix := sequence.YearPrefix(sequence.ERVisitBase, v.ArrivedAt)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		number, err := s.codes.NextCode(ctx, s.visits.LastNumber, prefix, sequence.YearlyWidth)
		if err != nil {
			return err
		}
		v.VisitNumber = number
		return s.visits.Create(ctx, v)
	})
	if err != nil {
		return err
	}
	s.logger.Info().Str("visit_number", v.VisitNumber).Int("triage", v.TriageLevel).Msg("er visit registered")
	return nil
}

func (s *Service) GetVisit(ctx context.Context, id uuid.UUID) (*ERVisit, error) {
	if !s.enabled {
		return nil, ErrFeatureDisabled
	}
	return s.visits.GetByID(ctx, id)
}

func (s *Service) ListActive(ctx context.Context) ([]*ERVisit, error) {
	if !s.enabled {
		return nil, ErrFeatureDisabled
	}
	return s.visits.ListActive(ctx)
}

// update applies fn to an active visit under its lock.
func (s *Service) update(ctx context.Context, id uuid.UUID, fn func(v *ERVisit) error) (*ERVisit, error) {
	if !s.enabled {
		return nil, ErrFeatureDisabled
	}
	var v *ERVisit
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.tx.Lock(ctx, "er:"+id.String()); err != nil {
			return err
		}
		var err error
		v, err = s.visits.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !v.Active() {
			return ErrVisitClosed
		}
		if err := fn(v); err != nil {
			return err
		}
		return s.visits.Update(ctx, v)
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Service) UpdateTriage(ctx context.Context, id uuid.UUID, level int) (*ERVisit, error) {
	if level < 1 || level > 5 {
		return nil, ErrInvalidTriage
	}
	return s.update(ctx, id, func(v *ERVisit) error {
		v.TriageLevel = level
		return nil
	})
}

// AssignDoctor sets the attending doctor; a waiting patient moves to In Treatment.
func (s *Service) AssignDoctor(ctx context.Context, id, doctorID uuid.UUID) (*ERVisit, error) {
	if doctorID == uuid.Nil {
		return nil, fmt.Errorf("doctor_id is required")
	}
	return s.update(ctx, id, func(v *ERVisit) error {
		v.AttendingDoctorID = &doctorID
		v.Status = StatusInTreatment
		return nil
	})
}

func (s *Service) Disposition(ctx context.Context, id uuid.UUID, status string, notes *string) (*ERVisit, error) {
	if !dispositions[status] {
		return nil, fmt.Errorf("invalid disposition: %s", status)
	}
	v, err := s.update(ctx, id, func(v *ERVisit) error {
		if status != StatusLWBS && v.AttendingDoctorID == nil {
			return fmt.Errorf("a doctor must be assigned before %s", status)
		}
		now := s.now()
		v.Status = status
		v.DispositionAt = &now
		if notes != nil {
			v.Notes = notes
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("visit_number", v.VisitNumber).Str("disposition", status).Msg("er visit closed")
	return v, nil
}
