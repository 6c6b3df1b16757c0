package handler

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/airport-booking/internal/booking"
	"github.com/iliyamo/airport-booking/internal/repository"
	"github.com/iliyamo/airport-booking/internal/seatmap"
)

// Error kinds carried in the "error" field of every error body.
const (
	KindValidation   = "validation_error"
	KindConflict     = "conflict"
	KindNotFound     = "not_found"
	KindForbidden    = "forbidden"
	KindUnauthorized = "unauthorized"
	KindUnavailable  = "unavailable"
	KindInternal     = "internal_error"
)

// errorBody is the JSON envelope of every failed request.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func respondError(c echo.Context, status int, kind, msg string, details any) error {
	return c.JSON(status, errorBody{Error: kind, Message: msg, Details: details})
}

func badRequest(c echo.Context, msg string) error {
	return respondError(c, http.StatusBadRequest, KindValidation, msg, nil)
}

// writeError maps err onto the error envelope.  Unknown errors are logged
// and answered with a generic 500.
func writeError(c echo.Context, logger *logrus.Logger, err error) error {
	var (
		verr     *booking.ValidationError
		conflict *booking.SeatConflictError
		fields   validator.ValidationErrors
	)
	switch {
	case errors.As(err, &verr):
		return respondError(c, http.StatusBadRequest, KindValidation, "request validation failed", verr.Problems)
	case errors.As(err, &fields):
		return respondError(c, http.StatusBadRequest, KindValidation, "request validation failed", fieldProblems(fields))
	case errors.As(err, &conflict):
		seats := conflict.Seats
		if seats == nil {
			seats = []seatmap.Seat{}
		}
		return respondError(c, http.StatusConflict, KindConflict, conflict.Error(), echo.Map{
			"flight_id": conflict.FlightID,
			"seats":     seats,
		})
	case errors.Is(err, booking.ErrFlightNotFound):
		return respondError(c, http.StatusNotFound, KindNotFound, "flight not found", nil)
	case errors.Is(err, booking.ErrOrderNotFound):
		return respondError(c, http.StatusNotFound, KindNotFound, "order not found", nil)
	case errors.Is(err, repository.ErrAirplaneNotFound):
		return respondError(c, http.StatusNotFound, KindNotFound, err.Error(), nil)
	case errors.Is(err, booking.ErrForbidden):
		return respondError(c, http.StatusForbidden, KindForbidden, "forbidden", nil)
	case errors.Is(err, repository.ErrFlightExists),
		errors.Is(err, repository.ErrRegistrationExists),
		errors.Is(err, repository.ErrEmailExists):
		return respondError(c, http.StatusConflict, KindConflict, err.Error(), nil)
	case errors.Is(err, booking.ErrTransient):
		return respondError(c, http.StatusServiceUnavailable, KindUnavailable, "service busy, retry the request", nil)
	case errors.Is(err, errNoIdentity):
		return respondError(c, http.StatusUnauthorized, KindUnauthorized, "unauthorized", nil)
	}
	logger.WithContext(c.Request().Context()).
		WithError(err).
		WithFields(logrus.Fields{"method": c.Request().Method, "path": c.Path()}).
		Error("unhandled error")
	return respondError(c, http.StatusInternalServerError, KindInternal, "internal server error", nil)
}
