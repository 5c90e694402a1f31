package auditlog

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/middleware"
	"github.com/hms/hms/pkg/pagination"
)

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

var _ middleware.AuditRecorder = (*Service)(nil)

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "auditlog").Logger()}
}

// RecordAccess stores one entry handed over by the Audit middleware.
func (s *Service) RecordAccess(ctx context.Context, entry middleware.AuditEntry) error {
	e := &Entry{
		UserID:       entry.UserID,
		Action:       entry.Action,
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
		Path:         entry.Path,
		Method:       entry.Method,
		StatusCode:   entry.StatusCode,
		IPAddress:    entry.IPAddress,
		RequestID:    entry.RequestID,
	}
	return s.Record(ctx, e)
}

func (s *Service) Record(ctx context.Context, e *Entry) error {
	if e.Action == "" || e.Path == "" {
		return fmt.Errorf("action and path are required")
	}
	if e.UserID == "" {
		e.UserID = "anonymous"
	}
	return s.repo.Create(ctx, e)
}

func (s *Service) List(ctx context.Context, f Filter) ([]*Entry, int, error) {
	if err := f.validate(); err != nil {
		return nil, 0, err
	}
	p := pagination.Normalize(f.Limit, f.Offset)
	f.Limit, f.Offset = p.Limit, p.Offset
	return s.repo.List(ctx, f)
}

// ExportCSV writes up to exportLimit matching entries, newest first.
func (s *Service) ExportCSV(ctx context.Context, f Filter, w io.Writer) error {
	if err := f.validate(); err != nil {
		return err
	}
	f.Limit, f.Offset = exportLimit, 0
	entries, _, err := s.repo.List(ctx, f)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "created_at", "user_id", "action", "resource_type", "resource_id",
		"method", "path", "status_code", "ip_address", "request_id"}); err != nil {
		return fmt.Errorf("audit export: write header: %w", err)
	}
	for _, e := range entries {
		if err := cw.Write([]string{
			e.ID.String(),
			e.CreatedAt.UTC().Format(time.RFC3339),
			e.UserID,
			e.Action,
			e.ResourceType,
			e.ResourceID,
			e.Method,
			e.Path,
			strconv.Itoa(e.StatusCode),
			e.IPAddress,
			e.RequestID,
		}); err != nil {
			return fmt.Errorf("audit export: write record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
