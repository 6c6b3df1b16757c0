package handler

import (
	"errors"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/airport-booking/internal/booking"
	"github.com/iliyamo/airport-booking/internal/middleware"
	"github.com/iliyamo/airport-booking/internal/model"
)

var errNoIdentity = errors.New("no authenticated user in context")

// actor reads the identity JWTAuth stored on the context.
func actor(c echo.Context) (booking.Actor, error) {
	uid, ok := c.Get(middleware.CtxUserID).(uint64)
	if !ok || uid == 0 {
		return booking.Actor{}, errNoIdentity
	}
	role, _ := c.Get(middleware.CtxRole).(string)
	return booking.Actor{UserID: uid, Admin: role == model.RoleAdmin}, nil
}
