package auditlog

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Entry is one recorded API call.
type Entry struct {
	ID           uuid.UUID `db:"id" json:"id"`
	UserID       string    `db:"user_id" json:"user_id"`
	Action       string    `db:"action" json:"action"`
	ResourceType string    `db:"resource_type" json:"resource_type"`
	ResourceID   string    `db:"resource_id" json:"resource_id,omitempty"`
	Path         string    `db:"path" json:"path"`
	Method       string    `db:"method" json:"method"`
	StatusCode   int       `db:"status_code" json:"status_code"`
	IPAddress    string    `db:"ip_address" json:"ip_address"`
	RequestID    string    `db:"request_id" json:"request_id,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

type Filter struct {
	UserID       string
	ResourceType string
	Action       string
	From         *time.Time
	To           *time.Time
	Limit        int
	Offset       int
}

func (f Filter) validate() error {
	if f.From != nil && f.To != nil && !f.From.Before(*f.To) {
		return errors.New("from must be before to")
	}
	return nil
}

// exportLimit caps a CSV export.
const exportLimit = 10000
