package model

import "time"

// Order groups the tickets a user bought on one flight.  TotalPrice is
// derived (flight price x ticket count) and rewritten whenever the ticket
// set changes.
//
// Fields:
//
//	ID         – primary key identifier.
//	UserID     – owner of the order.
//	FlightID   – flight every ticket of the order belongs to.
//	TotalPrice – sum of ticket prices.
//	CreatedAt  – immutable creation timestamp.
//	UpdatedAt  – last update timestamp.
type Order struct {
	ID         uint64    // orders.id
	UserID     uint64    // orders.user_id
	FlightID   uint64    // orders.flight_id
	TotalPrice Money     // orders.total_price_cents
	CreatedAt  time.Time // orders.created_at
	UpdatedAt  time.Time // orders.updated_at
}

// Ticket reserves one seat on a flight.  (FlightID, Row, Seat) is unique
// across all live tickets.  Price is copied from the flight at booking
// time and never changes afterwards.
type Ticket struct {
	ID        uint64    // tickets.id
	OrderID   uint64    // tickets.order_id
	FlightID  uint64    // tickets.flight_id
	Row       int       // tickets.seat_row
	Seat      int       // tickets.seat_number
	Price     Money     // tickets.price_cents
	CreatedAt time.Time // tickets.created_at
}
