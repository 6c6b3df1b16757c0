package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/airport-booking/internal/booking"
	"github.com/iliyamo/airport-booking/internal/model"
	"github.com/iliyamo/airport-booking/internal/seatmap"
)

// OrderService is the part of booking.Service the order endpoints use.
type OrderService interface {
	Create(ctx context.Context, actor booking.Actor, in booking.CreateOrderInput) (booking.OrderView, error)
	Replace(ctx context.Context, actor booking.Actor, orderID uint64, in booking.ReplaceOrderInput) (booking.OrderView, error)
	Get(ctx context.Context, actor booking.Actor, orderID uint64) (booking.OrderView, error)
	List(ctx context.Context, actor booking.Actor, page, pageSize int) (booking.OrderPage, error)
	Delete(ctx context.Context, actor booking.Actor, orderID uint64) error
}

// OrderHandler serves /v1/orders.
type OrderHandler struct {
	logger  *logrus.Logger
	service OrderService
}

func NewOrderHandler(logger *logrus.Logger, service OrderService) *OrderHandler {
	if service == nil {
		panic("nil service passed to NewOrderHandler")
	}
	return &OrderHandler{logger: logger, service: service}
}

type ticketResp struct {
	ID    uint64      `json:"id"`
	Row   int         `json:"row"`
	Seat  int         `json:"seat"`
	Label string      `json:"label"`
	Price model.Money `json:"price"`
}

type orderResp struct {
	OrderID    uint64       `json:"order_id"`
	FlightID   uint64       `json:"flight_id"`
	UserID     uint64       `json:"user_id"`
	CreatedAt  string       `json:"created_at"`
	TotalPrice model.Money  `json:"total_price"`
	Tickets    []ticketResp `json:"tickets"`
}

type orderPageResp struct {
	Items    []orderResp `json:"items"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}

func newOrderResp(v booking.OrderView) orderResp {
	tickets := make([]ticketResp, len(v.Tickets))
	for i, t := range v.Tickets {
		tickets[i] = ticketResp{
			ID:    t.ID,
			Row:   t.Row,
			Seat:  t.Seat,
			Label: seatmap.Seat{Row: t.Row, Seat: t.Seat}.Label(),
			Price: t.Price,
		}
	}
	return orderResp{
		OrderID:    v.Order.ID,
		FlightID:   v.Order.FlightID,
		UserID:     v.Order.UserID,
		CreatedAt:  v.Order.CreatedAt.UTC().Format(time.RFC3339),
		TotalPrice: v.Order.TotalPrice,
		Tickets:    tickets,
	}
}

// Create handles POST /v1/orders.
func (h *OrderHandler) Create(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	var req createOrderReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return writeError(c, h.logger, err)
	}

	view, err := h.service.Create(c.Request().Context(), a, booking.CreateOrderInput{
		FlightID: req.FlightID,
		Seats:    toSeatRequests(req.Seats),
	})
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusCreated, newOrderResp(view))
}

// List handles GET /v1/orders?page=&page_size=.
func (h *OrderHandler) List(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	page, size, ok := pageParams(c)
	if !ok {
		return badRequest(c, "page and page_size must be positive integers")
	}

	res, err := h.service.List(c.Request().Context(), a, page, size)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	items := make([]orderResp, len(res.Items))
	for i, v := range res.Items {
		items[i] = newOrderResp(v)
	}
	return c.JSON(http.StatusOK, orderPageResp{Items: items, Total: res.Total, Page: res.Page, PageSize: res.PageSize})
}

// Get handles GET /v1/orders/:id.
func (h *OrderHandler) Get(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid order id")
	}

	view, err := h.service.Get(c.Request().Context(), a, id)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, newOrderResp(view))
}

// Replace handles PUT /v1/orders/:id.  The order's seats are swapped for
// the submitted ones in one transaction.
func (h *OrderHandler) Replace(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid order id")
	}
	var req replaceOrderReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return writeError(c, h.logger, err)
	}

	view, err := h.service.Replace(c.Request().Context(), a, id, booking.ReplaceOrderInput{
		FlightID: req.FlightID,
		Seats:    toSeatRequests(req.Seats),
	})
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, newOrderResp(view))
}

// Delete handles DELETE /v1/orders/:id.
func (h *OrderHandler) Delete(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid order id")
	}
	if err := h.service.Delete(c.Request().Context(), a, id); err != nil {
		return writeError(c, h.logger, err)
	}
	return c.NoContent(http.StatusNoContent)
}
