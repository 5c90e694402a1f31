package emergency

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	er := api.Group("/er", h.requireInstalled)

	g := er.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse, auth.RoleReceptionist))
	g.GET("/visits", h.ListActive)
	g.GET("/visits/:id", h.GetVisit)
	g.POST("/visits", h.CreateVisit)
	g.PATCH("/visits/:id/triage", h.UpdateTriage)

	clin := er.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse))
	clin.POST("/visits/:id/assign", h.AssignDoctor)
	clin.POST("/visits/:id/disposition", h.Disposition)
}

func (h *Handler) requireInstalled(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !h.svc.Enabled() {
			return echo.NewHTTPError(http.StatusNotFound, ErrFeatureDisabled.Error())
		}
		return next(c)
	}
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
	case errors.Is(err, ErrFeatureDisabled):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "visit not found")
	case errors.Is(err, ErrVisitClosed):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}

func (h *Handler) CreateVisit(c echo.Context) error {
	var v ERVisit
	if err := c.Bind(&v); err != nil {
		return c.JSON(http.StatusBadRequest, VisitResult{Message: err.Error()})
	}
	err := h.svc.CreateVisit(c.Request().Context(), &v)
	switch {
	case err == nil:
		return c.JSON(http.StatusCreated, VisitResult{Success: true, Message: "visit registered", Visit: &v})
	case errors.Is(err, ErrFeatureDisabled):
		return c.JSON(http.StatusNotFound, VisitResult{Message: err.Error()})
	default:
		return c.JSON(http.StatusBadRequest, VisitResult{Message: err.Error()})
	}
}

func (h *Handler) GetVisit(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	v, err := h.svc.GetVisit(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) ListActive(c echo.Context) error {
	items, err := h.svc.ListActive(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*ERVisit{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) UpdateTriage(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req struct {
		TriageLevel int `json:"triage_level"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := h.svc.UpdateTriage(c.Request().Context(), id, req.TriageLevel)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) AssignDoctor(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req struct {
		DoctorID uuid.UUID `json:"doctor_id"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := h.svc.AssignDoctor(c.Request().Context(), id, req.DoctorID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) Disposition(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req struct {
		Status string  `json:"status"`
		Notes  *string `json:"notes"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := h.svc.Disposition(c.Request().Context(), id, req.Status, req.Notes)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}
