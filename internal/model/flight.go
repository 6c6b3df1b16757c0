package model

import (
	"math"
	"time"

	"github.com/iliyamo/airport-booking/internal/seatmap"
)

// Airplane represents a physical aircraft as stored in the `airplanes`
// table.  Its seat grid is fixed: every flight flown by the airplane
// inherits rows x seats_in_row as its seat map.
//
// Fields:
//
//	ID                 – primary key identifier.
//	Name               – human readable name.
//	RegistrationNumber – unique tail number.
//	Rows               – number of seat rows (>= 1).
//	SeatsInRow         – number of seats per row (>= 1).
//	IsActive           – whether the airplane is in service.
//	CreatedAt          – creation timestamp.
type Airplane struct {
	ID                 uint64    // airplanes.id
	Name               string    // airplanes.name
	RegistrationNumber string    // airplanes.registration_number
	Rows               int       // airplanes.seat_rows
	SeatsInRow         int       // airplanes.seats_in_row
	IsActive           bool      // airplanes.is_active
	CreatedAt          time.Time // airplanes.created_at
}

// Flight is a scheduled departure of an airplane.  The seat geometry is
// read through the airplane join and copied onto the struct so callers do
// not need a second lookup.  Price applies uniformly to every seat.
type Flight struct {
	ID            uint64    // flights.id
	AirplaneID    uint64    // flights.airplane_id
	AirplaneName  string    // airplanes.name (joined)
	FlightNumber  string    // flights.flight_number
	DepartureTime time.Time // flights.departure_time
	ArrivalTime   time.Time // flights.arrival_time
	Price         Money     // flights.price_cents
	Rows          int       // airplanes.seat_rows (joined)
	SeatsInRow    int       // airplanes.seats_in_row (joined)
	CreatedAt     time.Time // flights.created_at
}

// SeatMap returns the seat bounds of the flight's airplane.
func (f Flight) SeatMap() seatmap.SeatMap {
	return seatmap.SeatMap{Rows: f.Rows, SeatsInRow: f.SeatsInRow}
}

// FlightTime is the scheduled duration in hours rounded to two decimals.
// Zero is returned when either timestamp is missing.
func (f Flight) FlightTime() float64 {
	if f.DepartureTime.IsZero() || f.ArrivalTime.IsZero() {
		return 0
	}
	h := f.ArrivalTime.Sub(f.DepartureTime).Hours()
	return math.Round(h*100) / 100
}
