package handler

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/airport-booking/internal/booking"
	"github.com/iliyamo/airport-booking/internal/model"
)

// ----- DTOs -----

// seatReq uses pointers so a missing coordinate is told apart from zero.
// Range checks happen in the booking validator, against the seat map.
type seatReq struct {
	Row  *int `json:"row" validate:"required"`
	Seat *int `json:"seat" validate:"required"`
}

type createOrderReq struct {
	FlightID uint64    `json:"flight_id" validate:"required,gt=0"`
	Seats    []seatReq `json:"seats" validate:"required,min=1,dive"`
}

type replaceOrderReq struct {
	FlightID uint64    `json:"flight_id" validate:"omitempty,gt=0"`
	Seats    []seatReq `json:"seats" validate:"required,min=1,dive"`
}

type createAirplaneReq struct {
	Name               string `json:"name" validate:"required,max=100"`
	RegistrationNumber string `json:"registration_number" validate:"omitempty,max=32"`
	Rows               int    `json:"rows" validate:"required,gte=1,lte=500"`
	SeatsInRow         int    `json:"seats_in_row" validate:"required,gte=1,lte=100"`
}

type createFlightReq struct {
	AirplaneID    uint64      `json:"airplane_id" validate:"required,gt=0"`
	FlightNumber  string      `json:"flight_number" validate:"required,max=16"`
	DepartureTime time.Time   `json:"departure_time" validate:"required"`
	ArrivalTime   time.Time   `json:"arrival_time" validate:"required,gtfield=DepartureTime"`
	Price         model.Money `json:"price" validate:"gt=0"`
}

func toSeatRequests(in []seatReq) []booking.SeatRequest {
	out := make([]booking.SeatRequest, len(in))
	for i, s := range in {
		out[i] = booking.SeatRequest{Row: *s.Row, Seat: *s.Seat}
	}
	return out
}

// ----- validation -----

// RequestValidator plugs validator/v10 into echo.  Field names in errors
// are the JSON names.
type RequestValidator struct {
	v *validator.Validate
}

func NewRequestValidator() *RequestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &RequestValidator{v: v}
}

func (rv *RequestValidator) Validate(i interface{}) error {
	return rv.v.Struct(i)
}

var _ echo.Validator = (*RequestValidator)(nil)

// fieldProblems converts validator errors into the details map used for
// booking validation errors, keyed like "seats[2].row".
func fieldProblems(errs validator.ValidationErrors) map[string][]booking.Problem {
	out := make(map[string][]booking.Problem, len(errs))
	for _, fe := range errs {
		field := fe.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		out[field] = append(out[field], booking.Problem{Code: problemCode(fe), Message: problemMessage(fe)})
	}
	return out
}

func problemCode(fe validator.FieldError) string {
	if fe.Field() == "seats" && fe.Tag() == "min" {
		return booking.CodeEmptyBatch
	}
	return fe.Tag()
}

func problemMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "min":
		return fmt.Sprintf("%s must contain at least %s item(s)", fe.Field(), fe.Param())
	case "gt", "gte":
		return fmt.Sprintf("%s must be greater than %s%s", fe.Field(), orEqual(fe.Tag()), fe.Param())
	case "lte", "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "gtfield":
		return fmt.Sprintf("%s must be after %s", fe.Field(), jsonName(fe.Param()))
	}
	return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
}

func orEqual(tag string) string {
	if tag == "gte" {
		return "or equal to "
	}
	return ""
}

// jsonName turns a Go field name from a validator param into snake case.
func jsonName(goName string) string {
	var b strings.Builder
	for i, r := range goName {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// pathID parses a positive numeric path parameter.
func pathID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}

// pageParams reads page and page_size.  Missing values get defaults and
// page_size is capped.
func pageParams(c echo.Context) (page, size int, ok bool) {
	page, size = 1, booking.DefaultPageSize
	if v := c.QueryParam("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return 0, 0, false
		}
		page = n
	}
	if v := c.QueryParam("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return 0, 0, false
		}
		size = n
	}
	if size > booking.MaxPageSize {
		size = booking.MaxPageSize
	}
	return page, size, true
}
