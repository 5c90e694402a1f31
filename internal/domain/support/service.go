package support

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/sequence"
)

type Service struct {
	tickets TicketRepository
	tx      db.Transactor
	codes   *sequence.Generator
	logger  zerolog.Logger
	now     func() time.Time
}

func NewService(tickets TicketRepository, tx db.Transactor, logger zerolog.Logger) *Service {
	return &Service{
		tickets: tickets,
		tx:      tx,
		codes:   sequence.NewGenerator(tx),
		logger:  logger.With().Str("component", "support").Logger(),
		now:     time.Now,
	}
}

// caller falls back to the authenticated user when who is empty.
func caller(ctx context.Context, who string) string {
	if who != "" {
		return who
	}
	return auth.UserIDFromContext(ctx)
}

func (s *Service) CreateTicket(ctx context.Context, t *Ticket) error {
	t.Subject = strings.TrimSpace(t.Subject)
	if t.Subject == "" {
		return fmt.Errorf("subject is required")
	}
	if t.Category == "" {
		t.Category = "general"
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if !validPriorities[t.Priority] {
		return fmt.Errorf("invalid priority: %s", t.Priority)
	}
	t.RaisedBy = caller(ctx, t.RaisedBy)
	if t.RaisedBy == "" {
		return fmt.Errorf("raised_by is required")
	}
	t.Status = StatusOpen
	t.Replies = nil

	prefix := sequence.YearPrefix(sequence.TicketBase, s.now())
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		number, err := s.codes.NextCode(ctx, s.tickets.LastNumber, prefix, sequence.YearlyWidth)
		if err != nil {
			return err
		}
		t.TicketNumber = number
		return s.tickets.Create(ctx, t)
	})
	if err != nil {
		return err
	}
	if t.Priority == PriorityCritical {
		s.logger.Warn().Str("ticket_number", t.TicketNumber).Str("subject", t.Subject).Msg("critical support ticket raised")
	}
	return nil
}

func (s *Service) GetTicket(ctx context.Context, id uuid.UUID) (*Ticket, error) {
	return s.tickets.GetByID(ctx, id)
}

func (s *Service) ListTickets(ctx context.Context, f TicketFilter) ([]*Ticket, int, error) {
	return s.tickets.List(ctx, f)
}

func (s *Service) modify(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, t *Ticket) error) (*Ticket, error) {
	var t *Ticket
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.tx.Lock(ctx, "ticket:"+id.String()); err != nil {
			return err
		}
		var err error
		t, err = s.tickets.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if t.Status == StatusClosed {
			return ErrTicketClosed
		}
		return fn(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Reply adds a message. A reply from the requester on a resolved ticket
// reopens it.
func (s *Service) Reply(ctx context.Context, ticketID uuid.UUID, author, message string) (*Ticket, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, fmt.Errorf("message is required")
	}
	author = caller(ctx, author)
	if author == "" {
		return nil, fmt.Errorf("author is required")
	}
	return s.modify(ctx, ticketID, func(ctx context.Context, t *Ticket) error {
		r := Reply{TicketID: t.ID, Author: author, Message: message}
		if err := s.tickets.AddReply(ctx, &r); err != nil {
			return err
		}
		t.Replies = append(t.Replies, r)
		if t.Status == StatusResolved && author == t.RaisedBy {
			t.Status = StatusOpen
			return s.tickets.Update(ctx, t)
		}
		return nil
	})
}

func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status string) (*Ticket, error) {
	return s.modify(ctx, id, func(ctx context.Context, t *Ticket) error {
		if t.Status == status {
			return nil
		}
		if !canTransition(t.Status, status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, status)
		}
		t.Status = status
		return s.tickets.Update(ctx, t)
	})
}

// Assign hands the ticket to a staff member. An open ticket moves to In Progress.
func (s *Service) Assign(ctx context.Context, id uuid.UUID, assignee string) (*Ticket, error) {
	assignee = strings.TrimSpace(assignee)
	if assignee == "" {
		return nil, fmt.Errorf("assigned_to is required")
	}
	return s.modify(ctx, id, func(ctx context.Context, t *Ticket) error {
		t.AssignedTo = &assignee
		if t.Status == StatusOpen {
			t.Status = StatusInProgress
		}
		return s.tickets.Update(ctx, t)
	})
}
