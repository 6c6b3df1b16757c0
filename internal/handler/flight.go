package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/airport-booking/internal/booking"
	"github.com/iliyamo/airport-booking/internal/model"
	"github.com/iliyamo/airport-booking/internal/seatmap"
)

// Catalog reads and writes airplanes and flights.
type Catalog interface {
	ListFlights(ctx context.Context, limit, offset int) ([]model.Flight, int64, error)
	GetFlight(ctx context.Context, id uint64) (model.Flight, error)
	CreateAirplane(ctx context.Context, a *model.Airplane) error
	CreateFlight(ctx context.Context, f *model.Flight) error
}

// Inventory reports seat availability.  Counts are read without locks.
type Inventory interface {
	Availability(ctx context.Context, flight model.Flight) (booking.Availability, error)
	AvailableByFlights(ctx context.Context, flights []model.Flight) (map[uint64]int, error)
}

// FlightHandler serves the flight catalog and the admin schedule endpoints.
type FlightHandler struct {
	logger    *logrus.Logger
	catalog   Catalog
	inventory Inventory
}

func NewFlightHandler(logger *logrus.Logger, catalog Catalog, inventory Inventory) *FlightHandler {
	if catalog == nil || inventory == nil {
		panic("nil dependency passed to NewFlightHandler")
	}
	return &FlightHandler{logger: logger, catalog: catalog, inventory: inventory}
}

type flightResp struct {
	ID               uint64      `json:"id"`
	AirplaneID       uint64      `json:"airplane_id"`
	AirplaneName     string      `json:"airplane_name"`
	FlightNumber     string      `json:"flight_number"`
	DepartureTime    string      `json:"departure_time"`
	ArrivalTime      string      `json:"arrival_time"`
	FlightTime       float64     `json:"flight_time"`
	Price            model.Money `json:"price"`
	Rows             int         `json:"rows"`
	SeatsInRow       int         `json:"seats_in_row"`
	TicketsAvailable int         `json:"tickets_available"`
}

type flightDetailResp struct {
	flightResp
	TakenPlaces []seatmap.Seat `json:"taken_places"`
}

type flightPageResp struct {
	Items    []flightResp `json:"items"`
	Total    int64        `json:"total"`
	Page     int          `json:"page"`
	PageSize int          `json:"page_size"`
}

type airplaneResp struct {
	ID                 uint64 `json:"id"`
	Name               string `json:"name"`
	RegistrationNumber string `json:"registration_number,omitempty"`
	Rows               int    `json:"rows"`
	SeatsInRow         int    `json:"seats_in_row"`
	Capacity           int    `json:"capacity"`
	IsActive           bool   `json:"is_active"`
}

func newFlightResp(f model.Flight, available int) flightResp {
	return flightResp{
		ID:               f.ID,
		AirplaneID:       f.AirplaneID,
		AirplaneName:     f.AirplaneName,
		FlightNumber:     f.FlightNumber,
		DepartureTime:    f.DepartureTime.UTC().Format(time.RFC3339),
		ArrivalTime:      f.ArrivalTime.UTC().Format(time.RFC3339),
		FlightTime:       f.FlightTime(),
		Price:            f.Price,
		Rows:             f.Rows,
		SeatsInRow:       f.SeatsInRow,
		TicketsAvailable: available,
	}
}

// List handles GET /v1/flights?page=&page_size=.
func (h *FlightHandler) List(c echo.Context) error {
	page, size, ok := pageParams(c)
	if !ok {
		return badRequest(c, "page and page_size must be positive integers")
	}
	ctx := c.Request().Context()

	flights, total, err := h.catalog.ListFlights(ctx, size, (page-1)*size)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	avail, err := h.inventory.AvailableByFlights(ctx, flights)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	items := make([]flightResp, len(flights))
	for i, f := range flights {
		items[i] = newFlightResp(f, avail[f.ID])
	}
	return c.JSON(http.StatusOK, flightPageResp{Items: items, Total: total, Page: page, PageSize: size})
}

// Get handles GET /v1/flights/:id with the seats already sold.
func (h *FlightHandler) Get(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid flight id")
	}
	ctx := c.Request().Context()

	f, err := h.catalog.GetFlight(ctx, id)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	av, err := h.inventory.Availability(ctx, f)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	taken := av.Taken
	if taken == nil {
		taken = []seatmap.Seat{}
	}
	return c.JSON(http.StatusOK, flightDetailResp{flightResp: newFlightResp(f, av.Available), TakenPlaces: taken})
}

// CreateAirplane handles POST /v1/admin/airplanes.
func (h *FlightHandler) CreateAirplane(c echo.Context) error {
	var req createAirplaneReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	req.Name = strings.TrimSpace(req.Name)
	req.RegistrationNumber = strings.ToUpper(strings.TrimSpace(req.RegistrationNumber))
	if err := c.Validate(&req); err != nil {
		return writeError(c, h.logger, err)
	}

	a := model.Airplane{
		Name:               req.Name,
		RegistrationNumber: req.RegistrationNumber,
		Rows:               req.Rows,
		SeatsInRow:         req.SeatsInRow,
	}
	if err := h.catalog.CreateAirplane(c.Request().Context(), &a); err != nil {
		return writeError(c, h.logger, err)
	}
	h.logger.WithFields(logrus.Fields{"airplane_id": a.ID, "rows": a.Rows, "seats_in_row": a.SeatsInRow}).Info("airplane created")
	return c.JSON(http.StatusCreated, airplaneResp{
		ID:                 a.ID,
		Name:               a.Name,
		RegistrationNumber: a.RegistrationNumber,
		Rows:               a.Rows,
		SeatsInRow:         a.SeatsInRow,
		Capacity:           seatmap.SeatMap{Rows: a.Rows, SeatsInRow: a.SeatsInRow}.Capacity(),
		IsActive:           a.IsActive,
	})
}

// CreateFlight handles POST /v1/admin/flights.  Departure must precede
// arrival and (flight_number, departure_time) must be unique.
func (h *FlightHandler) CreateFlight(c echo.Context) error {
	var req createFlightReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	req.FlightNumber = strings.ToUpper(strings.TrimSpace(req.FlightNumber))
	if err := c.Validate(&req); err != nil {
		return writeError(c, h.logger, err)
	}

	f := model.Flight{
		AirplaneID:    req.AirplaneID,
		FlightNumber:  req.FlightNumber,
		DepartureTime: req.DepartureTime.UTC(),
		ArrivalTime:   req.ArrivalTime.UTC(),
		Price:         req.Price,
	}
	if err := h.catalog.CreateFlight(c.Request().Context(), &f); err != nil {
		return writeError(c, h.logger, err)
	}
	h.logger.WithFields(logrus.Fields{"flight_id": f.ID, "flight_number": f.FlightNumber}).Info("flight created")
	return c.JSON(http.StatusCreated, newFlightResp(f, f.SeatMap().Capacity()))
}
