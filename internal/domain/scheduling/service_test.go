package scheduling

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
	"github.com/hms/hms/internal/platform/events"
)

// -- Mock Repositories --

type mockDoctorRepo struct {
	mu      sync.Mutex
	doctors map[uuid.UUID]*Doctor
}

func newMockDoctorRepo() *mockDoctorRepo {
	return &mockDoctorRepo{doctors: make(map[uuid.UUID]*Doctor)}
}

func (m *mockDoctorRepo) Create(_ context.Context, d *Doctor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.ID = uuid.New()
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	m.doctors[d.ID] = d
	return nil
}

func (m *mockDoctorRepo) GetByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.doctors[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d, nil
}

func (m *mockDoctorRepo) Update(_ context.Context, d *Doctor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.doctors[d.ID]; !ok {
		return ErrNotFound
	}
	m.doctors[d.ID] = d
	return nil
}

func (m *mockDoctorRepo) List(_ context.Context, f DoctorFilter) ([]*Doctor, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Doctor
	for _, d := range m.doctors {
		if f.Department != "" && d.Department != f.Department {
			continue
		}
		result = append(result, d)
	}
	return result, len(result), nil
}

type mockScheduleRepo struct {
	mu    sync.Mutex
	rows  map[uuid.UUID][]ScheduleSlot
	reads int
}

func newMockScheduleRepo() *mockScheduleRepo {
	return &mockScheduleRepo{rows: make(map[uuid.UUID][]ScheduleSlot)}
}

func (m *mockScheduleRepo) ListByDoctor(_ context.Context, doctorID uuid.UUID) ([]ScheduleSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	return append([]ScheduleSlot(nil), m.rows[doctorID]...), nil
}

func (m *mockScheduleRepo) ReplaceForDoctor(_ context.Context, doctorID uuid.UUID, rows []ScheduleSlot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range rows {
		rows[i].ID = uuid.New()
		rows[i].DoctorID = doctorID
	}
	m.rows[doctorID] = append([]ScheduleSlot(nil), rows...)
	return nil
}

type mockAppointmentRepo struct {
	mu    sync.Mutex
	appts map[uuid.UUID]*Appointment
}

func newMockAppointmentRepo() *mockAppointmentRepo {
	return &mockAppointmentRepo{appts: make(map[uuid.UUID]*Appointment)}
}

func (m *mockAppointmentRepo) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.appts {
		if existing.AppointmentNumber == a.AppointmentNumber {
			return errors.New("duplicate appointment number " + a.AppointmentNumber)
		}
	}
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	m.appts[a.ID] = &cp
	return nil
}

func (m *mockAppointmentRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockAppointmentRepo) UpdateSchedule(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.appts[a.ID]
	if !ok {
		return ErrNotFound
	}
	stored.StartTime, stored.EndTime, stored.DurationMinutes = a.StartTime, a.EndTime, a.DurationMinutes
	return nil
}

func (m *mockAppointmentRepo) UpdateStatus(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.appts[a.ID]
	if !ok {
		return ErrNotFound
	}
	stored.Status = a.Status
	return nil
}

func (m *mockAppointmentRepo) List(_ context.Context, f AppointmentFilter) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Appointment
	for _, a := range m.appts {
		if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		cp := *a
		result = append(result, &cp)
	}
	return result, len(result), nil
}

func (m *mockAppointmentRepo) CountAt(_ context.Context, doctorID uuid.UUID, at time.Time, exclude *uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.appts {
		if a.DoctorID != doctorID || !a.StartTime.Equal(at) || a.Status == StatusCancelled {
			continue
		}
		if exclude != nil && a.ID == *exclude {
			continue
		}
		n++
	}
	return n, nil
}

func (m *mockAppointmentRepo) CountByStart(_ context.Context, doctorID uuid.UUID, from, to time.Time) (OccupancyCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := OccupancyCounts{}
	for _, a := range m.appts {
		if a.DoctorID != doctorID || a.Status == StatusCancelled {
			continue
		}
		if a.StartTime.Before(from) || !a.StartTime.Before(to) {
			continue
		}
		counts[a.StartTime.Unix()]++
	}
	return counts, nil
}

func (m *mockAppointmentRepo) LastNumber(_ context.Context, prefix string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var nums []string
	for _, a := range m.appts {
		if strings.HasPrefix(a.AppointmentNumber, prefix) {
			nums = append(nums, a.AppointmentNumber)
		}
	}
	if len(nums) == 0 {
		return "", nil
	}
	sort.Slice(nums, func(i, j int) bool {
		if len(nums[i]) != len(nums[j]) {
			return len(nums[i]) < len(nums[j])
		}
		return nums[i] < nums[j]
	})
	return nums[len(nums)-1], nil
}

// gatedAppointmentRepo runs onGet once, after the first GetByID, while the
// reader is still inside its transaction.
type gatedAppointmentRepo struct {
	*mockAppointmentRepo
	once  sync.Once
	onGet func()
}

func (g *gatedAppointmentRepo) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := g.mockAppointmentRepo.GetByID(ctx, id)
	g.once.Do(g.onGet)
	return a, err
}

// -- Fixture --

type fixture struct {
	svc       *Service
	doctors   *mockDoctorRepo
	schedules *mockScheduleRepo
	appts     *mockAppointmentRepo
	tx        *dbtest.Transactor
	events    *events.Recorder
}

func newFixture() *fixture {
	f := &fixture{
		doctors:   newMockDoctorRepo(),
		schedules: newMockScheduleRepo(),
		appts:     newMockAppointmentRepo(),
		tx:        dbtest.NewTransactor(),
		events:    &events.Recorder{},
	}
	f.svc = NewService(f.doctors, f.schedules, f.appts, f.tx, f.events, nil, zerolog.Nop())
	f.svc.SetLocation(time.UTC)
	return f
}

func newTestService() *Service {
	return newFixture().svc
}

// doctorWithMorning creates a doctor with the Monday 09:00-12:00 row.
func (f *fixture) doctorWithMorning(t *testing.T) *Doctor {
	t.Helper()
	d := &Doctor{Name: "Dr. Rao", Department: "Cardiology"}
	if err := f.svc.CreateDoctor(context.Background(), d); err != nil {
		t.Fatalf("create doctor: %v", err)
	}
	if _, err := f.svc.ReplaceSchedule(context.Background(), d.ID, []ScheduleSlot{morningRow()}); err != nil {
		t.Fatalf("replace schedule: %v", err)
	}
	return d
}

func (f *fixture) book(doctorID uuid.UUID, at time.Time) (*Appointment, error) {
	a := &Appointment{PatientID: uuid.New(), DoctorID: doctorID, StartTime: at}
	err := f.svc.CreateAppointment(context.Background(), a)
	return a, err
}

// interleave starts other as soon as the next appointment read happens and
// checks that it stays blocked while the reader holds the appointment. The
// returned func waits for other to finish.
func (f *fixture) interleave(t *testing.T, other func()) (wait func()) {
	t.Helper()
	done := make(chan struct{})
	g := &gatedAppointmentRepo{mockAppointmentRepo: f.appts}
	g.onGet = func() {
		go func() {
			defer close(done)
			other()
		}()
		select {
		case <-done:
			t.Error("competing update ran while the appointment was locked")
		case <-time.After(50 * time.Millisecond):
		}
	}
	f.svc.appointments = g
	return func() { <-done }
}

func at(clock string) time.Time {
	return MustClock(clock).On(monday)
}

// -- Doctor Tests --

func TestService_CreateDoctor(t *testing.T) {
	svc := newTestService()
	d := &Doctor{Name: "Dr. Mehta"}
	if err := svc.CreateDoctor(context.Background(), d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.ID == uuid.Nil {
		t.Error("expected ID to be set")
	}
	if !d.IsActive() || d.Active == nil {
		t.Error("expected doctor to default to active")
	}
}

func TestService_CreateDoctor_Validation(t *testing.T) {
	svc := newTestService()
	if err := svc.CreateDoctor(context.Background(), &Doctor{}); err == nil {
		t.Error("expected error for missing name")
	}
	if err := svc.CreateDoctor(context.Background(), &Doctor{Name: "X", ConsultationFee: -1}); err == nil {
		t.Error("expected error for negative fee")
	}
}

func TestService_UpdateDoctor_NotFound(t *testing.T) {
	svc := newTestService()
	err := svc.UpdateDoctor(context.Background(), &Doctor{ID: uuid.New(), Name: "Ghost"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// -- Schedule Tests --

func TestService_ReplaceSchedule_Validation(t *testing.T) {
	f := newFixture()
	d := &Doctor{Name: "Dr. Rao"}
	_ = f.svc.CreateDoctor(context.Background(), d)

	bad := []struct {
		name   string
		mutate func(r *ScheduleSlot)
	}{
		{"unknown day", func(r *ScheduleSlot) { r.DayOfWeek = "Funday" }},
		{"end before start", func(r *ScheduleSlot) { r.EndTime = MustClock("08:00") }},
		{"zero interval", func(r *ScheduleSlot) { r.SlotDuration = 0 }},
		{"zero capacity", func(r *ScheduleSlot) { r.MaxAppointments = 0 }},
		{"half a break", func(r *ScheduleSlot) { r.BreakStart = clockPtr("10:00") }},
		{"inverted break", func(r *ScheduleSlot) {
			r.BreakStart = clockPtr("10:30")
			r.BreakEnd = clockPtr("10:00")
		}},
		{"break outside window", func(r *ScheduleSlot) {
			r.BreakStart = clockPtr("12:30")
			r.BreakEnd = clockPtr("13:00")
		}},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			row := morningRow()
			tt.mutate(&row)
			if _, err := f.svc.ReplaceSchedule(context.Background(), d.ID, []ScheduleSlot{row}); err == nil {
				t.Error("expected validation error")
			}
		})
	}
	if f.tx.Commits() != 0 {
		t.Errorf("expected no transaction for invalid input, got %d commits", f.tx.Commits())
	}
}

func TestService_ReplaceSchedule_ReplacesAllRows(t *testing.T) {
	f := newFixture()
	d := f.doctorWithMorning(t)

	tuesday := morningRow()
	tuesday.DayOfWeek = "Tuesday"
	if _, err := f.svc.ReplaceSchedule(context.Background(), d.ID, []ScheduleSlot{tuesday}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rows, err := f.svc.GetSchedule(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 || rows[0].DayOfWeek != "Tuesday" {
		t.Errorf("expected only the Tuesday row, got %+v", rows)
	}
	if rows[0].Active == nil || !*rows[0].Active {
		t.Error("expected row to default to active")
	}
}

func TestService_ReplaceSchedule_UnknownDoctor(t *testing.T) {
	svc := newTestService()
	_, err := svc.ReplaceSchedule(context.Background(), uuid.New(), []ScheduleSlot{morningRow()})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// -- Slot Tests --

func TestService_GetAvailableSlots_SixAvailable(t *testing.T) {
	f := newFixture()
	d := f.doctorWithMorning(t)

	slots, err := f.svc.GetAvailableSlots(context.Background(), d.ID, monday, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 6 {
		t.Fatalf("expected 6 slots, got %d", len(slots))
	}
	for _, s := range slots {
		if s.Status != SlotAvailable {
			t.Errorf("%s: expected available, got %s", s.Time, s.Status)
		}
	}
}

func TestService_GetAvailableSlots_NoScheduleThatDay(t *testing.T) {
	f := newFixture()
	d := f.doctorWithMorning(t)

	slots, err := f.svc.GetAvailableSlots(context.Background(), d.ID, monday.AddDate(0, 0, 1), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if slots == nil || len(slots) != 0 {
		t.Errorf("expected empty non-nil list, got %v", slots)
	}
}

func TestService_GetAvailableSlots_NegativeDuration(t *testing.T) {
	f := newFixture()
	d := f.doctorWithMorning(t)
	if _, err := f.svc.GetAvailableSlots(context.Background(), d.ID, monday, -5); err == nil {
		t.Error("expected error for negative duration")
	}
}

func TestService_GetMonthAvailability(t *testing.T) {
	f := newFixture()
	d := f.doctorWithMorning(t)
	if _, err := f.book(d.ID, at("09:00")); err != nil {
		t.Fatalf("book: %v", err)
	}

	days, err := f.svc.GetMonthAvailability(context.Background(), d.ID, 2026, time.October)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(days) != 31 {
		t.Fatalf("expected 31 days, got %d", len(days))
	}
	day := days[18]
	if day.Date != "2026-10-19" || day.TotalSlots != 12 || day.AvailableSlotsCount != 11 {
		t.Errorf("unexpected summary for booked Monday: %+v", day)
	}

	if _, err := f.svc.GetMonthAvailability(context.Background(), d.ID, 2026, 13); err == nil {
		t.Error("expected error for invalid month")
	}
}

// -- Availability & Booking Tests --

func TestService_BookingFillsSlot(t *testing.T) {
	f := newFixture()
	d := f.doctorWithMorning(t)

	for i := 0; i < 2; i++ {
		if _, err := f.book(d.ID, at("09:00")); err != nil {
			t.Fatalf("booking %d: %v", i+1, err)
		}
	}

	slots, err := f.svc.GetAvailableSlots(context.Background(), d.ID, monday, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if slots[0].Status != SlotFull || slots[0].Available != 0 {
		t.Errorf("expected 09:00 full with 0 available, got %+v", slots[0])
	}

	_, err = f.book(d.ID, at("09:00"))
	if !errors.Is(err, ErrSlotFull) {
		t.Fatalf("expected ErrSlotFull, got %v", err)
	}
	if !strings.Contains(err.Error(), "slot is full") {
		t.Errorf("expected 'slot is full' message, got %q", err.Error())
	}
	var full *SlotFullError
	if !errors.As(err, &full) || full.Current != 2 || full.Max != 2 {
		t.Errorf("expected SlotFullError{2,2}, got %v", err)
	}
}

func TestService_CheckSlotAvailability(t *testing.T) {
	f := newFixture()
	d := f.doctorWithMorning(t)
	row := morningRow()
	row.BreakStart = clockPtr("10:00")
	row.BreakEnd = clockPtr("10:30")
	if _, err := f.svc.ReplaceSchedule(context.Background(), d.ID, []ScheduleSlot{row}); err != nil {
		t.Fatalf("replace schedule: %v", err)
	}

	tests := []struct {
		name    string
		at      time.Time
		wantErr error
	}{
		{"inside window", at("09:30"), nil},
		{"other weekday", at("09:30").AddDate(0, 0, 1), ErrNotAvailableOnDay},
		{"before window", at("08:00"), ErrOutsideSchedule},
		{"inside break", at("10:00"), ErrOutsideSchedule},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			avail, err := f.svc.CheckSlotAvailability(context.Background(), d.ID, tt.at, 0, nil)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !avail.Available || avail.Remaining != 2 || avail.Max != 2 || avail.SlotDuration != 30 {
				t.Errorf("unexpected availability %+v", avail)
			}
		})
	}
}

func TestService_CheckSlotAvailability_HonoursOffset(t *testing.T) {
	f := newFixture()
	d := f.doctorWithMorning(t)

	// 14:30 in UTC+05:30 is 09:00 UTC on the same Monday
	ist := time.FixedZone("IST", 5*3600+1800)
	local := time.Date(2026, 10, 19, 14, 30, 0, 0, ist)
	if _, err := f.svc.CheckSlotAvailability(context.Background(), d.ID, local, 0, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestService_CreateAppointment_Defaults(t *testing.T) {
	f := newFixture()
	d := f.doctorWithMorning(t)

	a, err := f.book(d.ID, at("09:00").Add(20*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.AppointmentNumber != "A001" {
		t.Errorf("expected A001, got %s", a.AppointmentNumber)
	}
	if a.Status != StatusScheduled {
		t.Errorf("expected status Scheduled, got %s", a.Status)
	}
	if !a.StartTime.Equal(at("09:00")) {
		t.Errorf("expected start truncated to the minute, got %v", a.StartTime)
	}
	if a.DurationMinutes != 30 || !a.EndTime.Equal(at("09:30")) {
		t.Errorf("expected 30 minute appointment ending 09:30, got %d ending %v", a.DurationMinutes, a.EndTime)
	}
	if got := f.events.Types(); len(got) != 1 || got[0] != events.AppointmentBooked {
		t.Errorf("expected one appointment.booked event, got %v", got)
	}

	keys := f.tx.Keys()
	if len(keys) != 2 || !strings.HasPrefix(keys[0], "slot:"+d.ID.String()) || keys[1] != "seq:A" {
		t.Errorf("expected slot then sequence lock, got %v", keys)
	}
}

func TestService_CreateAppointment_NumberIncrements(t *testing.T) {
	f := newFixture()
	d := f.doctorWithMorning(t)
	f.appts.appts[uuid.New()] = &Appointment{AppointmentNumber: "A007", DoctorID: uuid.New(), Status: StatusCompleted}

	a, err := f.book(d.ID, at("10:00"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.AppointmentNumber != "A008" {
		t.Errorf("expected A008, got %s", a.AppointmentNumber)
	}
}

func TestService_CreateAppointment_Validation(t *testing.T) {
	f := newFixture()
	d := f.doctorWithMorning(t)

	tests := []struct {
		name string
		a    Appointment
	}{
		{"missing patient", Appointment{DoctorID: d.ID, StartTime: at("09:00")}},
		{"missing doctor", Appointment{PatientID: uuid.New(), StartTime: at("09:00")}},
		{"missing start", Appointment{PatientID: uuid.New(), DoctorID: d.ID}},
		{"negative duration", Appointment{PatientID: uuid.New(), DoctorID: d.ID, StartTime: at("09:00"), DurationMinutes: -1}},
		{"terminal status", Appointment{PatientID: uuid.New(), DoctorID: d.ID, StartTime: at("09:00"), Status: StatusCompleted}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := tt.a
			if err := f.svc.CreateAppointment(context.Background(), &a); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestService_CreateAppointment_InactiveDoctor(t *testing.T) {
	f := newFixture()
	d := f.doctorWithMorning(t)
	d.Active = boolPtr(false)

	if _, err := f.book(d.ID, at("09:00")); !errors.Is(err, ErrDoctorInactive) {
		t.Errorf("expected ErrDoctorInactive, got %v", err)
	}
}

func TestService_CreateAppointment_DurationPastWindow(t *testing.T) {
	f := newFixture()
	d := f.doctorWithMorning(t)
	a := &Appointment{PatientID: uuid.New(), DoctorID: d.ID, StartTime: at("11:30"), DurationMinutes: 60}
	if err := f.svc.CreateAppointment(context.Background(), a); !errors.Is(err, ErrOutsideSchedule) {
		t.Errorf("expected ErrOutsideSchedule, got %v", err)
	}
}

func TestService_ConcurrentBookingsRespectCapacity(t *testing.T) {
	f := newFixture()
	d := f.doctorWithMorning(t)

	const attempts = 12
	var wg sync.WaitGroup
	var mu sync.Mutex
	booked, full := 0, 0
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.book(d.ID, at("09:00"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				booked++
			case errors.Is(err, ErrSlotFull):
				full++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if booked != 2 || full != attempts-2 {
		t.Errorf("expected 2 booked and %d rejected, got %d and %d", attempts-2, booked, full)
	}
	n, _ := f.appts.CountAt(context.Background(), d.ID, at("09:00"), nil)
	if n != 2 {
		t.Errorf("expected 2 stored appointments, got %d", n)
	}
}

func TestService_CancelledAppointmentFreesCapacity(t *testing.T) {
	f := newFixture()
	d := f.doctorWithMorning(t)
	first, _ := f.book(d.ID, at("09:00"))
	_, _ = f.book(d.ID, at("09:00"))

	if _, err := f.svc.UpdateAppointmentStatus(context.Background(), first.ID, StatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := f.book(d.ID, at("09:00")); err != nil {
		t.Errorf("expected booking after cancellation, got %v", err)
	}
}

func TestService_UpdateAppointmentStatus(t *testing.T) {
	f := newFixture()
	d := f.doctorWithMorning(t)
	a, _ := f.book(d.ID, at("09:00"))

	if _, err := f.svc.UpdateAppointmentStatus(context.Background(), a.ID, "Bogus"); err == nil {
		t.Error("expected error for invalid status")
	}
	got, err := f.svc.UpdateAppointmentStatus(context.Background(), a.ID, StatusCompleted)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Errorf("expected Completed, got %s", got.Status)
	}
	if _, err := f.svc.UpdateAppointmentStatus(context.Background(), a.ID, StatusScheduled); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestService_RescheduleAppointment(t *testing.T) {
	f := newFixture()
	d := f.doctorWithMorning(t)
	a, _ := f.book(d.ID, at("09:00"))
	_, _ = f.book(d.ID, at("09:30"))

	// the appointment's own booking does not count against the new slot
	moved, err := f.svc.RescheduleAppointment(context.Background(), a.ID, at("09:30"), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !moved.StartTime.Equal(at("09:30")) || !moved.EndTime.Equal(at("10:00")) {
		t.Errorf("unexpected times %v - %v", moved.StartTime, moved.EndTime)
	}

	// 09:30 is now full
	other, _ := f.book(d.ID, at("11:00"))
	if _, err := f.svc.RescheduleAppointment(context.Background(), other.ID, at("09:30"), 0); !errors.Is(err, ErrSlotFull) {
		t.Errorf("expected ErrSlotFull, got %v", err)
	}
}

func TestService_RescheduleAppointment_Terminal(t *testing.T) {
	f := newFixture()
	d := f.doctorWithMorning(t)
	a, _ := f.book(d.ID, at("09:00"))
	_, _ = f.svc.UpdateAppointmentStatus(context.Background(), a.ID, StatusCancelled)

	if _, err := f.svc.RescheduleAppointment(context.Background(), a.ID, at("10:00"), 0); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestService_StatusChangeDuringReschedule(t *testing.T) {
	f := newFixture()
	d := f.doctorWithMorning(t)
	a, _ := f.book(d.ID, at("09:00"))

	var statusErr error
	wait := f.interleave(t, func() {
		_, statusErr = f.svc.UpdateAppointmentStatus(context.Background(), a.ID, StatusConfirmed)
	})
	if _, err := f.svc.RescheduleAppointment(context.Background(), a.ID, at("10:00"), 0); err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	wait()
	if statusErr != nil {
		t.Fatalf("status change: %v", statusErr)
	}

	got, _ := f.appts.GetByID(context.Background(), a.ID)
	if got.Status != StatusConfirmed || !got.StartTime.Equal(at("10:00")) {
		t.Errorf("expected Confirmed at 10:00, got %s at %v", got.Status, got.StartTime)
	}
	n := 0
	for _, k := range f.tx.Keys() {
		if k == apptLockKey(a.ID) {
			n++
		}
	}
	if n != 2 {
		t.Errorf("expected both updates to lock %s, got %v", apptLockKey(a.ID), f.tx.Keys())
	}
}

func TestService_RescheduleDuringCancel(t *testing.T) {
	f := newFixture()
	d := f.doctorWithMorning(t)
	a, _ := f.book(d.ID, at("09:00"))
	_, _ = f.book(d.ID, at("10:00"))

	var rescheduleErr error
	wait := f.interleave(t, func() {
		_, rescheduleErr = f.svc.RescheduleAppointment(context.Background(), a.ID, at("10:00"), 0)
	})
	if _, err := f.svc.UpdateAppointmentStatus(context.Background(), a.ID, StatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	wait()
	if !errors.Is(rescheduleErr, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition for the late reschedule, got %v", rescheduleErr)
	}

	got, _ := f.appts.GetByID(context.Background(), a.ID)
	if got.Status != StatusCancelled || !got.StartTime.Equal(at("09:00")) {
		t.Errorf("expected Cancelled at 09:00, got %s at %v", got.Status, got.StartTime)
	}
	// the cancelled booking must not have been revived into the 10:00 slot
	if n, _ := f.appts.CountAt(context.Background(), d.ID, at("10:00"), nil); n != 1 {
		t.Errorf("expected 1 appointment at 10:00, got %d", n)
	}
	for i := 0; i < 2; i++ {
		if _, err := f.book(d.ID, at("09:00")); err != nil {
			t.Fatalf("booking %d at freed 09:00: %v", i, err)
		}
	}
	if _, err := f.book(d.ID, at("09:00")); !errors.Is(err, ErrSlotFull) {
		t.Errorf("expected ErrSlotFull past capacity, got %v", err)
	}
}

func TestService_ReplaceSchedule_InvalidatesCache(t *testing.T) {
	f := newFixture()
	cached, err := NewCachedScheduleRepository(f.schedules, 8)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	svc := NewService(f.doctors, cached, f.appts, f.tx, nil, nil, zerolog.Nop())
	svc.SetLocation(time.UTC)

	d := &Doctor{Name: "Dr. Rao"}
	_ = svc.CreateDoctor(context.Background(), d)
	if _, err := svc.ReplaceSchedule(context.Background(), d.ID, []ScheduleSlot{morningRow()}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if slots, _ := svc.GetAvailableSlots(context.Background(), d.ID, monday, 0); len(slots) != 6 {
		t.Fatalf("expected 6 slots, got %d", len(slots))
	}

	shorter := morningRow()
	shorter.EndTime = MustClock("10:00")
	if _, err := svc.ReplaceSchedule(context.Background(), d.ID, []ScheduleSlot{shorter}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if slots, _ := svc.GetAvailableSlots(context.Background(), d.ID, monday, 0); len(slots) != 2 {
		t.Errorf("expected 2 slots after replacing the schedule, got %d", len(slots))
	}
}
