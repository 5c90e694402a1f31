package admission

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func transferRequestFor(e *echo.Echo, id, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(id)
	return c, rec
}

func TestHandler_Transfer(t *testing.T) {
	svc := newTestService()
	h, e := NewHandler(svc), echo.New()
	a := admit(t, svc, "General", "G-01")
	admit(t, svc, "General", "G-02")

	c, rec := transferRequestFor(e, a.ID.String(), `{"to_ward":"General","to_bed":"G-02"}`)
	if err := h.Transfer(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}
	var res TransferResult
	_ = json.Unmarshal(rec.Body.Bytes(), &res)
	if res.Success || res.Message != ErrBedOccupied.Error() {
		t.Errorf("unexpected result: %+v", res)
	}

	c, rec = transferRequestFor(e, a.ID.String(), `{"to_ward":"ICU","to_bed":"1","reason":"deteriorating"}`)
	if err := h.Transfer(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res = TransferResult{}
	_ = json.Unmarshal(rec.Body.Bytes(), &res)
	if rec.Code != http.StatusOK || !res.Success || res.Transfer == nil {
		t.Errorf("expected successful transfer, got %d %+v", rec.Code, res)
	}

	c, rec = transferRequestFor(e, uuid.New().String(), `{"to_ward":"ICU","to_bed":"2"}`)
	_ = h.Transfer(c)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_Admit(t *testing.T) {
	svc := newTestService()
	h, e := NewHandler(svc), echo.New()

	body := `{"patient_id":"` + uuid.New().String() + `","doctor_id":"` + uuid.New().String() + `","ward":"General","bed_number":"G-05"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	if err := h.Admit(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	list, _, _ := svc.ListAdmissions(context.Background(), AdmissionFilter{Ward: "General"})
	if len(list) != 1 {
		t.Errorf("expected 1 admission, got %d", len(list))
	}
}
