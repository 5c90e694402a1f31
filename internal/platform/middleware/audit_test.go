package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/auth"
)

type mockRecorder struct {
	mu      sync.Mutex
	entries []AuditEntry
	err     error
}

func (m *mockRecorder) RecordAccess(ctx context.Context, entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return m.err
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func newAuditContext(method, path string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), "user-7", []string{auth.RoleReceptionist}))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("request_id", "req-123")
	return c, rec
}

func TestAudit_RecordsWrites(t *testing.T) {
	rec := &mockRecorder{}
	c, _ := newAuditContext(http.MethodPatch, "/api/v1/appointments/6f1c8a52-4b8e-4c36-9d2a-0a4f5b7e9c11/status")

	err := Audit(zerolog.Nop(), rec)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("expected 1 entry, got %d", rec.count())
	}

	got := rec.entries[0]
	if got.UserID != "user-7" {
		t.Errorf("expected user-7, got %s", got.UserID)
	}
	if got.ResourceType != "appointments" || got.ResourceID != "6f1c8a52-4b8e-4c36-9d2a-0a4f5b7e9c11" {
		t.Errorf("unexpected resource: %s/%s", got.ResourceType, got.ResourceID)
	}
	if got.Action != "update" {
		t.Errorf("expected update, got %s", got.Action)
	}
	if got.RequestID != "req-123" {
		t.Errorf("expected req-123, got %s", got.RequestID)
	}
	if got.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", got.StatusCode)
	}
}

func TestAudit_ReadsAreOnlyLogged(t *testing.T) {
	rec := &mockRecorder{}
	var buf bytes.Buffer
	c, _ := newAuditContext(http.MethodGet, "/api/v1/doctors")

	_ = Audit(zerolog.New(&buf), rec)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})(c)

	if rec.count() != 0 {
		t.Errorf("expected reads not to be recorded, got %d", rec.count())
	}
	if !strings.Contains(buf.String(), `"resource_type":"doctors"`) {
		t.Errorf("expected read to be logged, got %s", buf.String())
	}
}

func TestAudit_SkipsNonAPIPaths(t *testing.T) {
	rec := &mockRecorder{}
	c, _ := newAuditContext(http.MethodPost, "/health")

	_ = Audit(zerolog.Nop(), rec)(func(c echo.Context) error { return nil })(c)
	if rec.count() != 0 {
		t.Errorf("expected /health to be skipped, got %d entries", rec.count())
	}
}

func TestAudit_CapturesHandlerErrorStatus(t *testing.T) {
	rec := &mockRecorder{}
	c, _ := newAuditContext(http.MethodPost, "/api/v1/appointments")

	err := Audit(zerolog.Nop(), rec)(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusConflict, "slot is full")
	})(c)
	if err == nil {
		t.Fatal("expected handler error to propagate")
	}
	if rec.entries[0].StatusCode != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.entries[0].StatusCode)
	}
	if rec.entries[0].Action != "create" {
		t.Errorf("expected create, got %s", rec.entries[0].Action)
	}
}

func TestAudit_RecorderFailureDoesNotFailRequest(t *testing.T) {
	rec := &mockRecorder{err: errors.New("db down")}
	var buf bytes.Buffer
	c, _ := newAuditContext(http.MethodDelete, "/api/v1/doctors/6f1c8a52-4b8e-4c36-9d2a-0a4f5b7e9c11")

	err := Audit(zerolog.New(&buf), rec)(func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "failed to record audit entry") {
		t.Errorf("expected recorder failure to be logged, got %s", buf.String())
	}
}

func TestResourceFromPath(t *testing.T) {
	tests := []struct {
		path     string
		wantType string
		wantID   string
	}{
		{"/api/v1/doctors", "doctors", ""},
		{"/api/v1/doctors/6f1c8a52-4b8e-4c36-9d2a-0a4f5b7e9c11/slots", "doctors", "6f1c8a52-4b8e-4c36-9d2a-0a4f5b7e9c11"},
		{"/api/v1/queue/receptions/6f1c8a52-4b8e-4c36-9d2a-0a4f5b7e9c11/next", "queue", "6f1c8a52-4b8e-4c36-9d2a-0a4f5b7e9c11"},
		{"/api/v1/", "unknown", ""},
	}
	for _, tt := range tests {
		gotType, gotID := resourceFromPath(tt.path)
		if gotType != tt.wantType || gotID != tt.wantID {
			t.Errorf("resourceFromPath(%q) = (%q, %q), want (%q, %q)", tt.path, gotType, gotID, tt.wantType, tt.wantID)
		}
	}
}

func TestMethodToAction(t *testing.T) {
	tests := map[string]string{
		http.MethodGet:    "read",
		http.MethodHead:   "read",
		http.MethodPost:   "create",
		http.MethodPut:    "update",
		http.MethodPatch:  "update",
		http.MethodDelete: "delete",
	}
	for method, want := range tests {
		if got := methodToAction(method); got != want {
			t.Errorf("methodToAction(%s) = %s, want %s", method, got, want)
		}
	}
}
