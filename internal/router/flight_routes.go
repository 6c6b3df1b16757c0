package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/airport-booking/internal/handler"
	"github.com/iliyamo/airport-booking/internal/middleware"
	"github.com/iliyamo/airport-booking/internal/model"
)

// RegisterFlights registers the flight catalog.  The listing sits behind
// the response cache, so its tickets_available may lag by one cache TTL.
// The detail route is never cached.
func RegisterFlights(e *echo.Echo, h *handler.FlightHandler, jwtSecret string, cache echo.MiddlewareFunc) {
	g := e.Group("/v1/flights", middleware.JWTAuth(jwtSecret))
	g.GET("", h.List, cache)
	g.GET("/:id", h.Get)
}

// RegisterAdmin registers schedule management.  Every route requires the
// ADMIN role.
func RegisterAdmin(e *echo.Echo, h *handler.FlightHandler, jwtSecret string) {
	g := e.Group(
		"/v1/admin",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleAdmin),
	)
	g.POST("/airplanes", h.CreateAirplane)
	g.POST("/flights", h.CreateFlight)
}
