package emergency

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/db/dbtest"
)

type mockVisitRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*ERVisit
}

func newMockVisitRepo() *mockVisitRepo {
	return &mockVisitRepo{items: make(map[uuid.UUID]*ERVisit)}
}

func (m *mockVisitRepo) Create(_ context.Context, v *ERVisit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v.ID = uuid.New()
	cp := *v
	m.items[v.ID] = &cp
	return nil
}

func (m *mockVisitRepo) GetByID(_ context.Context, id uuid.UUID) (*ERVisit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *mockVisitRepo) Update(_ context.Context, v *ERVisit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[v.ID]; !ok {
		return ErrNotFound
	}
	cp := *v
	m.items[v.ID] = &cp
	return nil
}

func (m *mockVisitRepo) ListActive(_ context.Context) ([]*ERVisit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ERVisit
	for _, v := range m.items {
		if v.Active() {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TriageLevel != out[j].TriageLevel {
			return out[i].TriageLevel < out[j].TriageLevel
		}
		return out[i].ArrivedAt.Before(out[j].ArrivedAt)
	})
	return out, nil
}

func (m *mockVisitRepo) LastNumber(_ context.Context, prefix string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	last := ""
	for _, v := range m.items {
		if strings.HasPrefix(v.VisitNumber, prefix) && v.VisitNumber > last {
			last = v.VisitNumber
		}
	}
	return last, nil
}

var arrival = time.Date(2026, 10, 19, 2, 15, 0, 0, time.UTC)

func newTestService(enabled bool) *Service {
	svc := NewService(newMockVisitRepo(), dbtest.NewTransactor(), enabled, zerolog.Nop())
	svc.now = func() time.Time { return arrival }
	return svc
}

func register(t *testing.T, svc *Service, name string, triage int, at time.Time) *ERVisit {
	t.Helper()
	v := &ERVisit{PatientName: name, ChiefComplaint: "chest pain", TriageLevel: triage, ArrivedAt: at}
	if err := svc.CreateVisit(context.Background(), v); err != nil {
		t.Fatalf("create visit: %v", err)
	}
	return v
}

func TestCreateVisit(t *testing.T) {
	svc := newTestService(true)
	v := &ERVisit{PatientName: "Unknown male", ChiefComplaint: "RTA"}
	if err := svc.CreateVisit(context.Background(), v); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.VisitNumber != "ER-2026-00001" {
		t.Errorf("expected ER-2026-00001, got %s", v.VisitNumber)
	}
	if v.TriageLevel != 3 || v.ArrivalMode != "walk-in" || v.Status != StatusWaiting {
		t.Errorf("unexpected defaults: %+v", v)
	}
	if !v.ArrivedAt.Equal(arrival) {
		t.Errorf("expected arrival %v, got %v", arrival, v.ArrivedAt)
	}
}

func TestCreateVisit_Validation(t *testing.T) {
	svc := newTestService(true)
	tests := []struct {
		name string
		v    ERVisit
	}{
		{"no patient", ERVisit{ChiefComplaint: "x"}},
		{"no complaint", ERVisit{PatientName: "A"}},
		{"triage too high", ERVisit{PatientName: "A", ChiefComplaint: "x", TriageLevel: 6}},
		{"bad arrival mode", ERVisit{PatientName: "A", ChiefComplaint: "x", ArrivalMode: "helicopter"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := tt.v
			if err := svc.CreateVisit(context.Background(), &v); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestDisabled_EveryOperation(t *testing.T) {
	svc := newTestService(false)
	ctx := context.Background()
	id := uuid.New()

	checks := map[string]error{}
	checks["create"] = svc.CreateVisit(ctx, &ERVisit{PatientName: "A", ChiefComplaint: "x"})
	_, checks["get"] = svc.GetVisit(ctx, id)
	_, checks["list"] = svc.ListActive(ctx)
	_, checks["triage"] = svc.UpdateTriage(ctx, id, 2)
	_, checks["assign"] = svc.AssignDoctor(ctx, id, uuid.New())
	_, checks["disposition"] = svc.Disposition(ctx, id, StatusLWBS, nil)

	for op, err := range checks {
		if !errors.Is(err, ErrFeatureDisabled) {
			t.Errorf("%s: expected ErrFeatureDisabled, got %v", op, err)
		}
	}
}

func TestListActive_OrderedByTriageThenArrival(t *testing.T) {
	svc := newTestService(true)
	late := register(t, svc, "late critical", 1, arrival.Add(30*time.Minute))
	minor := register(t, svc, "minor", 4, arrival)
	early := register(t, svc, "early critical", 1, arrival)

	items, err := svc.ListActive(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []uuid.UUID{early.ID, late.ID, minor.ID}
	if len(items) != len(want) {
		t.Fatalf("expected %d visits, got %d", len(want), len(items))
	}
	for i, id := range want {
		if items[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, items[i].PatientName)
		}
	}
}

func TestVisitLifecycle(t *testing.T) {
	svc := newTestService(true)
	ctx := context.Background()
	v := register(t, svc, "A", 2, arrival)

	if _, err := svc.Disposition(ctx, v.ID, StatusAdmitted, nil); err == nil {
		t.Error("expected admission without an attending doctor to fail")
	}

	doc := uuid.New()
	got, err := svc.AssignDoctor(ctx, v.ID, doc)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if got.Status != StatusInTreatment || got.AttendingDoctorID == nil || *got.AttendingDoctorID != doc {
		t.Errorf("unexpected visit after assign: %+v", got)
	}

	if _, err := svc.UpdateTriage(ctx, v.ID, 1); err != nil {
		t.Fatalf("triage: %v", err)
	}

	got, err = svc.Disposition(ctx, v.ID, StatusAdmitted, nil)
	if err != nil {
		t.Fatalf("disposition: %v", err)
	}
	if got.Status != StatusAdmitted || got.DispositionAt == nil {
		t.Errorf("expected Admitted with timestamp, got %+v", got)
	}

	if _, err := svc.UpdateTriage(ctx, v.ID, 2); !errors.Is(err, ErrVisitClosed) {
		t.Errorf("expected ErrVisitClosed, got %v", err)
	}
	items, _ := svc.ListActive(ctx)
	if len(items) != 0 {
		t.Errorf("expected no active visits, got %d", len(items))
	}
}

func TestDisposition_LWBSWithoutDoctor(t *testing.T) {
	svc := newTestService(true)
	v := register(t, svc, "A", 5, arrival)
	got, err := svc.Disposition(context.Background(), v.ID, StatusLWBS, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusLWBS {
		t.Errorf("expected LWBS, got %s", got.Status)
	}
	if _, err := svc.Disposition(context.Background(), v.ID, "Vanished", nil); err == nil {
		t.Error("expected error for unknown disposition")
	}
}
