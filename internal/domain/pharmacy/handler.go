package pharmacy

import (
	"context"
	"errors"
	"net/http"
	"strconv"

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
	read := api.Group("", auth.RequireRole(auth.RolePharmacist, auth.RoleDoctor, auth.RoleNurse))
	read.GET("/medicines", h.ListMedicines)
	read.GET("/medicines/low-stock", h.LowStock)
	read.GET("/medicines/:id", h.GetMedicine)

	ph := api.Group("", auth.RequireRole(auth.RolePharmacist))
	ph.POST("/medicines", h.CreateMedicine)
	ph.GET("/medicines/:id/adjustments", h.ListAdjustments)
	ph.POST("/medicines/:id/adjustments", h.AdjustStock)
	ph.GET("/purchase-orders", h.ListPurchaseOrders)
	ph.GET("/purchase-orders/:id", h.GetPurchaseOrder)
	ph.POST("/purchase-orders", h.CreatePurchaseOrder)
	ph.POST("/purchase-orders/:id/submit", h.SubmitPurchaseOrder)
	ph.POST("/purchase-orders/:id/receive", h.ReceivePurchaseOrder)
	ph.POST("/purchase-orders/:id/cancel", h.CancelPurchaseOrder)
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
	case errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrMedicineInactive):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}

// -- Medicine Handlers --

func (h *Handler) CreateMedicine(c echo.Context) error {
	var m Medicine
	if err := c.Bind(&m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateMedicine(c.Request().Context(), &m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) GetMedicine(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	m, err := h.svc.GetMedicine(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "medicine not found")
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) ListMedicines(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := MedicineFilter{
		Search:     c.QueryParam("q"),
		ActiveOnly: c.QueryParam("active") == "true",
		Limit:      pg.Limit,
		Offset:     pg.Offset,
	}
	items, total, err := h.svc.ListMedicines(c.Request().Context(), f)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) LowStock(c echo.Context) error {
	items, err := h.svc.LowStock(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*Medicine{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) AdjustStock(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var a StockAdjustment
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a.MedicineID = id
	m, err := h.svc.AdjustStock(c.Request().Context(), &a)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) ListAdjustments(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	items, err := h.svc.ListAdjustments(c.Request().Context(), id, limit)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*StockAdjustment{}
	}
	return c.JSON(http.StatusOK, items)
}

// -- Purchase Order Handlers --

func (h *Handler) CreatePurchaseOrder(c echo.Context) error {
	var po PurchaseOrder
	if err := c.Bind(&po); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreatePurchaseOrder(c.Request().Context(), &po); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, po)
}

func (h *Handler) GetPurchaseOrder(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	po, err := h.svc.GetPurchaseOrder(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "purchase order not found")
	}
	return c.JSON(http.StatusOK, po)
}

func (h *Handler) ListPurchaseOrders(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPurchaseOrders(c.Request().Context(), POFilter{
		Status: c.QueryParam("status"),
		Limit:  pg.Limit,
		Offset: pg.Offset,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) SubmitPurchaseOrder(c echo.Context) error {
	return h.poAction(c, h.svc.SubmitPurchaseOrder)
}

func (h *Handler) ReceivePurchaseOrder(c echo.Context) error {
	return h.poAction(c, h.svc.ReceivePurchaseOrder)
}

func (h *Handler) CancelPurchaseOrder(c echo.Context) error {
	return h.poAction(c, h.svc.CancelPurchaseOrder)
}

func (h *Handler) poAction(c echo.Context, action func(ctx context.Context, id uuid.UUID) (*PurchaseOrder, error)) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	po, err := action(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, po)
}
