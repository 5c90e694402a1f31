package admission

import (
	"errors"
	"net/http"
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
	ward := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse, auth.RoleReceptionist))
	ward.GET("/admissions", h.ListAdmissions)
	ward.GET("/admissions/:id", h.GetAdmission)
	ward.POST("/admissions", h.Admit)
	ward.GET("/admissions/:id/transfers", h.ListTransfers)
	ward.POST("/admissions/:id/transfer", h.Transfer)
	ward.POST("/admissions/:id/discharge", h.Discharge)

	doc := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doc.POST("/death-certificates", h.IssueDeathCertificate)
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
		return echo.NewHTTPError(http.StatusNotFound, "admission not found")
	case errors.Is(err, ErrBedOccupied), errors.Is(err, ErrNotAdmitted), errors.Is(err, ErrCertificateExists):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}

func (h *Handler) Admit(c echo.Context) error {
	var a Admission
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Admit(c.Request().Context(), &a); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAdmission(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.GetAdmission(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "admission not found")
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListAdmissions(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := AdmissionFilter{
		Ward:   c.QueryParam("ward"),
		Status: c.QueryParam("status"),
		Limit:  pg.Limit,
		Offset: pg.Offset,
	}
	if raw := c.QueryParam("patient_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = &id
	}
	items, total, err := h.svc.ListAdmissions(c.Request().Context(), f)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

type transferRequest struct {
	ToWard string  `json:"to_ward"`
	ToBed  string  `json:"to_bed"`
	Reason *string `json:"reason"`
}

// Transfer always answers with a TransferResult; rule violations come back
// as success=false with 409.
func (h *Handler) Transfer(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req transferRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, err := h.svc.Transfer(c.Request().Context(), id, req.ToWard, req.ToBed, req.Reason)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, TransferResult{Success: true, Message: "patient transferred", Transfer: t})
	case errors.Is(err, ErrNotFound):
		return c.JSON(http.StatusNotFound, TransferResult{Message: "admission not found"})
	case errors.Is(err, ErrBedOccupied), errors.Is(err, ErrNotAdmitted), errors.Is(err, ErrSameBed):
		return c.JSON(http.StatusConflict, TransferResult{Message: err.Error()})
	default:
		return c.JSON(http.StatusBadRequest, TransferResult{Message: err.Error()})
	}
}

func (h *Handler) ListTransfers(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListTransfers(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*BedTransfer{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Discharge(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Discharge(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

type certificateRequest struct {
	PatientID    uuid.UUID  `json:"patient_id"`
	AdmissionID  *uuid.UUID `json:"admission_id"`
	DateOfDeath  time.Time  `json:"date_of_death"`
	CauseOfDeath string     `json:"cause_of_death"`
	IssuedBy     uuid.UUID  `json:"issued_by"`
}

func (h *Handler) IssueDeathCertificate(c echo.Context) error {
	var req certificateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cert := DeathCertificate{
		PatientID:    req.PatientID,
		AdmissionID:  req.AdmissionID,
		DateOfDeath:  req.DateOfDeath,
		CauseOfDeath: req.CauseOfDeath,
		IssuedBy:     req.IssuedBy,
	}
	if err := h.svc.IssueDeathCertificate(c.Request().Context(), &cert); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, cert)
}
