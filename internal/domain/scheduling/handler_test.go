package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func newTestHandler(t *testing.T) (*Handler, *echo.Echo, *fixture, *Doctor) {
	t.Helper()
	f := newFixture()
	d := f.doctorWithMorning(t)
	return NewHandler(f.svc), echo.New(), f, d
}

func statusOf(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return 0
}

func TestHandler_CreateDoctor(t *testing.T) {
	h, e, _, _ := newTestHandler(t)
	body := `{"name":"Dr. Iyer","department":"ENT","consultation_fee":500}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.CreateDoctor(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
}

func TestHandler_CreateDoctor_BadRequest(t *testing.T) {
	h, e, _, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.CreateDoctor(c); statusOf(err) != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_GetDoctor_InvalidID(t *testing.T) {
	h, e, _, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")

	if err := h.GetDoctor(c); statusOf(err) != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_GetDoctor_NotFound(t *testing.T) {
	h, e, _, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	if err := h.GetDoctor(c); statusOf(err) != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestHandler_ReplaceSchedule(t *testing.T) {
	h, e, _, d := newTestHandler(t)
	body := `[{"day_of_week":"Friday","start_time":"14:00","end_time":"16:00",
		"break_start":"15:00","break_end":"15:15","max_appointments":3,"slot_duration":15,"name":"Afternoon"}]`
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(d.ID.String())

	if err := h.ReplaceSchedule(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var rows []ScheduleSlot
	if err := json.Unmarshal(rec.Body.Bytes(), &rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 1 || rows[0].BreakStart == nil || rows[0].BreakStart.String() != "15:00" {
		t.Errorf("unexpected rows %+v", rows)
	}
}

func TestHandler_GetAvailableSlots(t *testing.T) {
	h, e, _, d := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/?date=2026-10-19", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(d.ID.String())

	if err := h.GetAvailableSlots(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var slots []SlotDescriptor
	if err := json.Unmarshal(rec.Body.Bytes(), &slots); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(slots) != 6 || slots[0].Time != "09:00" {
		t.Errorf("unexpected slots %+v", slots)
	}
}

func TestHandler_GetAvailableSlots_BadDate(t *testing.T) {
	h, e, _, d := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/?date=19-10-2026", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(d.ID.String())

	if err := h.GetAvailableSlots(c); statusOf(err) != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_CheckSlot_Rejection(t *testing.T) {
	h, e, _, d := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/?datetime=2026-10-20T09:00:00Z", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(d.ID.String())

	if err := h.CheckSlot(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var avail Availability
	_ = json.Unmarshal(rec.Body.Bytes(), &avail)
	if avail.Available || avail.Message != ErrNotAvailableOnDay.Error() {
		t.Errorf("unexpected availability %+v", avail)
	}
}

func createAppointment(h *Handler, e *echo.Echo, body string) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return rec, h.CreateAppointment(e.NewContext(req, rec))
}

func TestHandler_CreateAppointment(t *testing.T) {
	h, e, _, d := newTestHandler(t)
	body := `{"patient_id":"` + uuid.New().String() + `","doctor_id":"` + d.ID.String() +
		`","start_time":"2026-10-19T09:00:00Z"}`

	for i := 0; i < 2; i++ {
		rec, err := createAppointment(h, e, body)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", rec.Code)
		}
	}

	rec, err := createAppointment(h, e, body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}
	var res Result
	_ = json.Unmarshal(rec.Body.Bytes(), &res)
	if res.Success || !strings.Contains(res.Message, "slot is full") {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestHandler_CreateAppointment_Validation(t *testing.T) {
	h, e, _, _ := newTestHandler(t)
	_, err := createAppointment(h, e, `{"start_time":"2026-10-19T09:00:00Z"}`)
	if statusOf(err) != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_UpdateAppointmentStatus(t *testing.T) {
	h, e, f, d := newTestHandler(t)
	a, err := f.book(d.ID, at("09:00"))
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	req := httptest.NewRequest(http.MethodPatch, "/", strings.NewReader(`{"status":"Cancelled"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())

	if err := h.UpdateAppointmentStatus(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := f.svc.GetAppointment(context.Background(), a.ID)
	if got.Status != StatusCancelled {
		t.Errorf("expected Cancelled, got %s", got.Status)
	}
}

func TestHandler_ListAppointments(t *testing.T) {
	h, e, f, d := newTestHandler(t)
	_, _ = f.book(d.ID, at("09:00"))

	req := httptest.NewRequest(http.MethodGet, "/?doctor_id="+d.ID.String()+"&date_from=2026-10-19&date_to=2026-10-19", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ListAppointments(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Total int `json:"total"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Total != 1 {
		t.Errorf("expected 1 appointment, got %d", body.Total)
	}
}
