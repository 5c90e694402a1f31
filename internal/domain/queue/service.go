package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/events"
	"github.com/hms/hms/internal/platform/metrics"
	"github.com/hms/hms/internal/platform/sequence"
)

// issueAttempts bounds retries when a concurrent insert wins the same sequence.
const issueAttempts = 3

const (
	backendDatabase = "database"
	backendRedis    = "redis"
)

type Service struct {
	receptions ReceptionRepository
	tokens     TokenRepository
	appts      AppointmentLookup
	tx         db.Transactor
	counter    sequence.Counter
	settings   Settings
	events     events.Publisher
	metrics    *metrics.Collector
	logger     zerolog.Logger
	loc        *time.Location
	now        func() time.Time
}

// NewService wires the queue. A nil counter allocates sequences in
// Postgres under an advisory lock; otherwise counter hands them out.
func NewService(rec ReceptionRepository, tok TokenRepository, appts AppointmentLookup, tx db.Transactor,
	counter sequence.Counter, settings Settings, pub events.Publisher, m *metrics.Collector, logger zerolog.Logger) *Service {
	if settings.PrefixTemplate == "" {
		settings.PrefixTemplate = "F{floor}"
	}
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Service{
		receptions: rec,
		tokens:     tok,
		appts:      appts,
		tx:         tx,
		counter:    counter,
		settings:   settings,
		events:     pub,
		metrics:    m,
		logger:     logger.With().Str("component", "queue").Logger(),
		loc:        time.Local,
		now:        time.Now,
	}
}

func (s *Service) SetLocation(loc *time.Location) {
	if loc != nil {
		s.loc = loc
	}
}

func (s *Service) Settings() Settings { return s.settings }

func (s *Service) backend() string {
	if s.counter != nil {
		return backendRedis
	}
	return backendDatabase
}

// -- Reception --

func (s *Service) CreateReception(ctx context.Context, r *Reception) error {
	if r.Name == "" {
		return fmt.Errorf("name is required")
	}
	if r.Code == "" {
		return fmt.Errorf("code is required")
	}
	if r.FloorNumber < 0 {
		return fmt.Errorf("floor_number must not be negative")
	}
	if r.Active == nil {
		active := true
		r.Active = &active
	}
	return s.receptions.Create(ctx, r)
}

func (s *Service) GetReception(ctx context.Context, id uuid.UUID) (*Reception, error) {
	return s.receptions.GetByID(ctx, id)
}

func (s *Service) ListReceptions(ctx context.Context, activeOnly bool) ([]*Reception, error) {
	return s.receptions.List(ctx, activeOnly)
}

// -- Tokens --

// scope limits sequence lookups to date when numbering resets daily.
func (s *Service) scope(date time.Time) *time.Time {
	if s.settings.DailyReset {
		return &date
	}
	return nil
}

func (s *Service) scopeKey(receptionID uuid.UUID, date time.Time) string {
	key := "token:" + receptionID.String()
	if s.settings.DailyReset {
		key += ":" + date.Format("2006-01-02")
	}
	return key
}

// lastSequence is the highest sequence in use: MAX(sequence), or the numeric
// suffix of the newest token number when MAX finds nothing.
func (s *Service) lastSequence(ctx context.Context, receptionID uuid.UUID, date time.Time) (int, error) {
	max, err := s.tokens.MaxSequence(ctx, receptionID, s.scope(date))
	if err != nil {
		return 0, fmt.Errorf("max sequence: %w", err)
	}
	if max != nil {
		return *max, nil
	}
	last, err := s.tokens.LastTokenNumber(ctx, receptionID, s.scope(date))
	if err != nil {
		return 0, fmt.Errorf("last token number: %w", err)
	}
	return sequence.Suffix(last), nil
}

func (s *Service) nextSequence(ctx context.Context, receptionID uuid.UUID, date time.Time) (int, error) {
	key := s.scopeKey(receptionID, date)
	if s.counter != nil {
		return s.counter.Next(ctx, key, func(ctx context.Context) (int, error) {
			return s.lastSequence(ctx, receptionID, date)
		})
	}
	if err := s.tx.Lock(ctx, key); err != nil {
		return 0, err
	}
	last, err := s.lastSequence(ctx, receptionID, date)
	if err != nil {
		return 0, err
	}
	return last + 1, nil
}

// checkAppointment holds the appointment lock for the rest of the
// transaction so a concurrent cancel cannot slip in before the token exists.
func (s *Service) checkAppointment(ctx context.Context, id uuid.UUID) error {
	if err := s.tx.Lock(ctx, "appt:"+id.String()); err != nil {
		return err
	}
	status, err := s.appts.AppointmentStatus(ctx, id)
	if err != nil {
		return err
	}
	if closedAppointment[status] {
		return ErrAppointmentClosed
	}
	return nil
}

func tokenLockKey(id uuid.UUID) string {
	return "token-row:" + id.String()
}

// IssueToken assigns the next queue number at a reception desk to an
// appointment. An appointment gets at most one token; issuing again returns
// the existing one with created false. Unknown, cancelled and completed
// appointments are rejected.
func (s *Service) IssueToken(ctx context.Context, appointmentID, receptionID uuid.UUID, date time.Time) (tok *Token, created bool, err error) {
	if appointmentID == uuid.Nil {
		return nil, false, fmt.Errorf("appointment_id is required")
	}
	if receptionID == uuid.Nil {
		return nil, false, fmt.Errorf("reception_id is required")
	}
	if date.IsZero() {
		date = s.now()
	}
	date = Date(date.In(s.loc))

	if existing, err := s.tokens.GetByAppointment(ctx, appointmentID); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	rec, err := s.receptions.GetByID(ctx, receptionID)
	if err != nil {
		return nil, false, err
	}
	if !rec.IsActive() {
		return nil, false, ErrReceptionInactive
	}
	prefix := sequence.ExpandTemplate(s.settings.PrefixTemplate, rec.FloorNumber, rec.Code)

	for attempt := 1; attempt <= issueAttempts; attempt++ {
		t := &Token{
			AppointmentID: appointmentID,
			ReceptionID:   receptionID,
			FloorNumber:   rec.FloorNumber,
			TokenDate:     date,
			Status:        StatusWaiting,
		}
		err = s.tx.InTx(ctx, func(ctx context.Context) error {
			if err := s.checkAppointment(ctx, appointmentID); err != nil {
				return err
			}
			seq, err := s.nextSequence(ctx, receptionID, date)
			if err != nil {
				return err
			}
			t.Sequence = seq
			t.TokenNumber = sequence.TokenNumber(prefix, seq)
			return s.tokens.Create(ctx, t)
		})
		if err == nil {
			s.metrics.TokenIssued(s.backend())
			s.logger.Debug().
				Str("token_number", t.TokenNumber).
				Str("reception_id", receptionID.String()).
				Int("sequence", t.Sequence).
				Msg("token issued")
			events.Emit(ctx, s.events, s.logger, events.TokenIssued, t)
			return t, true, nil
		}
		if errors.Is(err, ErrAppointmentNotFound) || errors.Is(err, ErrAppointmentClosed) {
			return nil, false, err
		}
		if !db.IsUniqueViolation(err) {
			s.logger.Error().Err(err).Str("reception_id", receptionID.String()).Msg("issue token failed")
			return nil, false, err
		}

		// Either another request took this sequence or it issued a token for
		// the same appointment first.
		if existing, getErr := s.tokens.GetByAppointment(ctx, appointmentID); getErr == nil {
			return existing, false, nil
		}
		s.metrics.SequenceConflict("token")
		s.logger.Warn().Err(err).
			Int("attempt", attempt).
			Str("reception_id", receptionID.String()).
			Msg("token sequence conflict, retrying")
	}
	return nil, false, fmt.Errorf("issue token after %d attempts: %w", issueAttempts, err)
}

func (s *Service) GetToken(ctx context.Context, id uuid.UUID) (*Token, error) {
	return s.tokens.GetByID(ctx, id)
}

// advance moves t to status, stamping called_at and completed_at.
func advance(t *Token, status string, now time.Time) error {
	next, ok := statusRank[status]
	if !ok {
		return fmt.Errorf("invalid token status: %s", status)
	}
	if next <= statusRank[t.Status] {
		return ErrInvalidTransition
	}
	if t.CalledAt == nil {
		t.CalledAt = &now
	}
	if status == StatusCompleted {
		t.CompletedAt = &now
	}
	t.Status = status
	return nil
}

// UpdateTokenStatus moves a token forward: Waiting, In Progress, Completed.
// Skipping straight to Completed is allowed; going back is not.
func (s *Service) UpdateTokenStatus(ctx context.Context, id uuid.UUID, status string) (*Token, error) {
	if _, ok := statusRank[status]; !ok {
		return nil, fmt.Errorf("invalid token status: %s", status)
	}
	var t *Token
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.tx.Lock(ctx, tokenLockKey(id)); err != nil {
			return err
		}
		var err error
		t, err = s.tokens.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := advance(t, status, s.now()); err != nil {
			return err
		}
		return s.tokens.Update(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	events.Emit(ctx, s.events, s.logger, events.TokenStatusChanged, t)
	return t, nil
}

// CallNext moves the lowest waiting token of the reception on date to
// In Progress.
func (s *Service) CallNext(ctx context.Context, receptionID uuid.UUID, date time.Time) (*Token, error) {
	if date.IsZero() {
		date = s.now()
	}
	date = Date(date.In(s.loc))

	var t *Token
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.tx.Lock(ctx, "call:"+receptionID.String()+":"+date.Format("2006-01-02")); err != nil {
			return err
		}
		// A token picked here may be moved on by UpdateTokenStatus before
		// its lock is taken; skip it and pick again.
		for {
			next, err := s.tokens.NextWaiting(ctx, receptionID, date)
			if errors.Is(err, ErrNotFound) {
				return ErrQueueEmpty
			}
			if err != nil {
				return err
			}
			if err := s.tx.Lock(ctx, tokenLockKey(next.ID)); err != nil {
				return err
			}
			if t, err = s.tokens.GetByID(ctx, next.ID); err != nil {
				return err
			}
			if t.Status == StatusWaiting {
				break
			}
		}
		if err := advance(t, StatusInProgress, s.now()); err != nil {
			return err
		}
		return s.tokens.Update(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	events.Emit(ctx, s.events, s.logger, events.TokenStatusChanged, t)
	return t, nil
}

func (s *Service) ListTokens(ctx context.Context, f TokenFilter) ([]*Token, int, error) {
	if f.Status != "" {
		if _, ok := statusRank[f.Status]; !ok {
			return nil, 0, fmt.Errorf("invalid token status: %s", f.Status)
		}
	}
	if f.Date != nil {
		d := Date(f.Date.In(s.loc))
		f.Date = &d
	}
	return s.tokens.List(ctx, f)
}
