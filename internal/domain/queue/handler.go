package queue

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
	desk := api.Group("", auth.RequireRole(auth.RoleReceptionist, auth.RoleNurse, auth.RoleDoctor))
	desk.GET("/receptions", h.ListReceptions)
	desk.GET("/receptions/:id", h.GetReception)
	desk.GET("/receptions/:id/tokens", h.ListTokens)
	desk.POST("/receptions/:id/tokens", h.IssueToken)
	desk.POST("/receptions/:id/call-next", h.CallNext)
	desk.GET("/tokens/:id", h.GetToken)
	desk.PATCH("/tokens/:id/status", h.UpdateTokenStatus)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/receptions", h.CreateReception)
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
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrAppointmentNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrQueueEmpty), errors.Is(err, ErrAppointmentClosed):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrReceptionInactive):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}

// dateParam reads ?date=YYYY-MM-DD; an absent date means today.
func dateParam(c echo.Context, loc *time.Location) (time.Time, error) {
	raw := c.QueryParam("date")
	if raw == "" {
		return time.Time{}, nil
	}
	d, err := time.ParseInLocation("2006-01-02", raw, loc)
	if err != nil {
		return time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
	}
	return d, nil
}

func (h *Handler) CreateReception(c echo.Context) error {
	var r Reception
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateReception(c.Request().Context(), &r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) GetReception(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	r, err := h.svc.GetReception(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "reception not found")
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) ListReceptions(c echo.Context) error {
	items, err := h.svc.ListReceptions(c.Request().Context(), c.QueryParam("active") == "true")
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*Reception{}
	}
	return c.JSON(http.StatusOK, items)
}

type issueRequest struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	Date          string    `json:"date"`
}

func (h *Handler) IssueToken(c echo.Context) error {
	receptionID, err := parseID(c)
	if err != nil {
		return err
	}
	var req issueRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	var date time.Time
	if req.Date != "" {
		date, err = time.ParseInLocation("2006-01-02", req.Date, h.svc.loc)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
		}
	}

	tok, created, err := h.svc.IssueToken(c.Request().Context(), req.AppointmentID, receptionID, date)
	if err != nil {
		return httpError(err)
	}
	if !created {
		return c.JSON(http.StatusOK, tok)
	}
	return c.JSON(http.StatusCreated, tok)
}

func (h *Handler) CallNext(c echo.Context) error {
	receptionID, err := parseID(c)
	if err != nil {
		return err
	}
	date, err := dateParam(c, h.svc.loc)
	if err != nil {
		return err
	}
	tok, err := h.svc.CallNext(c.Request().Context(), receptionID, date)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, tok)
}

func (h *Handler) GetToken(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	tok, err := h.svc.GetToken(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "token not found")
	}
	return c.JSON(http.StatusOK, tok)
}

func (h *Handler) UpdateTokenStatus(c echo.Context) error {
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
	tok, err := h.svc.UpdateTokenStatus(c.Request().Context(), id, req.Status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, tok)
}

func (h *Handler) ListTokens(c echo.Context) error {
	receptionID, err := parseID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	f := TokenFilter{ReceptionID: &receptionID, Status: c.QueryParam("status"), Limit: pg.Limit, Offset: pg.Offset}
	date, err := dateParam(c, h.svc.loc)
	if err != nil {
		return err
	}
	if !date.IsZero() {
		f.Date = &date
	}
	items, total, err := h.svc.ListTokens(c.Request().Context(), f)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}
