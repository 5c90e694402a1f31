package scheduling

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – clinical and front-desk staff
	readGroup := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse, auth.RoleReceptionist))
	readGroup.GET("/doctors", h.ListDoctors)
	readGroup.GET("/doctors/:id", h.GetDoctor)
	readGroup.GET("/doctors/:id/schedule", h.GetSchedule)
	readGroup.GET("/doctors/:id/slots", h.GetAvailableSlots)
	readGroup.GET("/doctors/:id/slots/check", h.CheckSlot)
	readGroup.GET("/doctors/:id/availability", h.GetMonthAvailability)
	readGroup.GET("/appointments", h.ListAppointments)
	readGroup.GET("/appointments/:id", h.GetAppointment)

	// Booking – front desk and clinicians
	bookGroup := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse, auth.RoleReceptionist))
	bookGroup.POST("/appointments", h.CreateAppointment)
	bookGroup.POST("/appointments/:id/reschedule", h.RescheduleAppointment)
	bookGroup.PATCH("/appointments/:id/status", h.UpdateAppointmentStatus)

	// Doctor master data – admin only
	adminGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	adminGroup.POST("/doctors", h.CreateDoctor)
	adminGroup.PUT("/doctors/:id", h.UpdateDoctor)
	adminGroup.PUT("/doctors/:id/schedule", h.ReplaceSchedule)
}

// Result is the body of booking operations.
type Result struct {
	Success     bool         `json:"success"`
	Message     string       `json:"message"`
	Appointment *Appointment `json:"appointment,omitempty"`
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrSlotFull), errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrNotAvailableOnDay), errors.Is(err, ErrOutsideSchedule), errors.Is(err, ErrDoctorInactive):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}

// isRejection reports booking outcomes returned as {success:false}.
func isRejection(err error) bool {
	return errors.Is(err, ErrSlotFull) || errors.Is(err, ErrNotAvailableOnDay) ||
		errors.Is(err, ErrOutsideSchedule) || errors.Is(err, ErrDoctorInactive) ||
		errors.Is(err, ErrInvalidTransition)
}

func queryInt(c echo.Context, name string) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return n, nil
}

// -- Doctor Handlers --

func (h *Handler) CreateDoctor(c echo.Context) error {
	var d Doctor
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateDoctor(c.Request().Context(), &d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) GetDoctor(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.GetDoctor(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "doctor not found")
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) UpdateDoctor(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var d Doctor
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d.ID = id
	if err := h.svc.UpdateDoctor(c.Request().Context(), &d); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ListDoctors(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := DoctorFilter{
		Department: c.QueryParam("department"),
		Search:     c.QueryParam("q"),
		ActiveOnly: c.QueryParam("active") == "true",
		Limit:      pg.Limit,
		Offset:     pg.Offset,
	}
	items, total, err := h.svc.ListDoctors(c.Request().Context(), f)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

// -- Schedule Handlers --

func (h *Handler) GetSchedule(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	rows, err := h.svc.GetSchedule(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if rows == nil {
		rows = []ScheduleSlot{}
	}
	return c.JSON(http.StatusOK, rows)
}

func (h *Handler) ReplaceSchedule(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var rows []ScheduleSlot
	if err := (&echo.DefaultBinder{}).BindBody(c, &rows); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	saved, err := h.svc.ReplaceSchedule(c.Request().Context(), id, rows)
	if err != nil {
		return httpError(err)
	}
	if saved == nil {
		saved = []ScheduleSlot{}
	}
	return c.JSON(http.StatusOK, saved)
}

// -- Slot Handlers --

func (h *Handler) GetAvailableSlots(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	date, err := time.ParseInLocation("2006-01-02", c.QueryParam("date"), h.svc.Location())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
	}
	duration, err := queryInt(c, "duration")
	if err != nil {
		return err
	}
	slots, err := h.svc.GetAvailableSlots(c.Request().Context(), id, date, duration)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, slots)
}

func (h *Handler) GetMonthAvailability(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	month, err := time.ParseInLocation("2006-01", c.QueryParam("month"), h.svc.Location())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "month must be YYYY-MM")
	}
	days, err := h.svc.GetMonthAvailability(c.Request().Context(), id, month.Year(), month.Month())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, days)
}

func (h *Handler) CheckSlot(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	at, err := time.Parse(time.RFC3339, c.QueryParam("datetime"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "datetime must be RFC 3339")
	}
	duration, err := queryInt(c, "duration")
	if err != nil {
		return err
	}
	var exclude *uuid.UUID
	if raw := c.QueryParam("exclude_id"); raw != "" {
		ex, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid exclude_id")
		}
		exclude = &ex
	}

	avail, err := h.svc.CheckSlotAvailability(c.Request().Context(), id, at, duration, exclude)
	if err != nil {
		if isRejection(err) {
			return c.JSON(http.StatusOK, Availability{Available: false, Message: err.Error()})
		}
		return httpError(err)
	}
	return c.JSON(http.StatusOK, avail)
}

// -- Appointment Handlers --

func (h *Handler) CreateAppointment(c echo.Context) error {
	var a Appointment
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateAppointment(c.Request().Context(), &a); err != nil {
		if isRejection(err) {
			return c.JSON(http.StatusConflict, Result{Success: false, Message: err.Error()})
		}
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, Result{Success: true, Message: "Appointment booked", Appointment: &a})
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.GetAppointment(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := AppointmentFilter{Status: c.QueryParam("status"), Limit: pg.Limit, Offset: pg.Offset}
	if raw := c.QueryParam("doctor_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor_id")
		}
		f.DoctorID = &id
	}
	if raw := c.QueryParam("patient_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = &id
	}
	if raw := c.QueryParam("date_from"); raw != "" {
		t, err := time.ParseInLocation("2006-01-02", raw, h.svc.Location())
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "date_from must be YYYY-MM-DD")
		}
		f.DateFrom = &t
	}
	if raw := c.QueryParam("date_to"); raw != "" {
		t, err := time.ParseInLocation("2006-01-02", raw, h.svc.Location())
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "date_to must be YYYY-MM-DD")
		}
		// date_to is inclusive
		t = t.AddDate(0, 0, 1)
		f.DateTo = &t
	}

	items, total, err := h.svc.ListAppointments(c.Request().Context(), f)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

type rescheduleRequest struct {
	StartTime       time.Time `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes"`
}

func (h *Handler) RescheduleAppointment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req rescheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.RescheduleAppointment(c.Request().Context(), id, req.StartTime, req.DurationMinutes)
	if err != nil {
		if isRejection(err) {
			return c.JSON(http.StatusConflict, Result{Success: false, Message: err.Error()})
		}
		return httpError(err)
	}
	return c.JSON(http.StatusOK, Result{Success: true, Message: "Appointment rescheduled", Appointment: a})
}

func (h *Handler) UpdateAppointmentStatus(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.UpdateAppointmentStatus(c.Request().Context(), id, req.Status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}
