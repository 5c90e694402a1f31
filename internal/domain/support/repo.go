package support

import (
	"context"

	"github.com/google/uuid"
)

type TicketRepository interface {
	Create(ctx context.Context, t *Ticket) error
	// GetByID returns the ticket with its replies, oldest first.
	GetByID(ctx context.Context, id uuid.UUID) (*Ticket, error)
	Update(ctx context.Context, t *Ticket) error
	AddReply(ctx context.Context, r *Reply) error
	List(ctx context.Context, f TicketFilter) ([]*Ticket, int, error)
	LastNumber(ctx context.Context, prefix string) (string, error)
}
