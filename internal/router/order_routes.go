package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/airport-booking/internal/handler"
	"github.com/iliyamo/airport-booking/internal/middleware"
)

// RegisterOrders registers order endpoints under /v1/orders.  All routes
// require a valid JWT; ownership is enforced by the booking service, with
// admins seeing every order.  Mutations pass through the rate limiter.
func RegisterOrders(e *echo.Echo, h *handler.OrderHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	g := e.Group("/v1/orders", middleware.JWTAuth(jwtSecret))
	g.POST("", h.Create, limiter)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Replace, limiter)
	g.DELETE("/:id", h.Delete, limiter)
}
