package booking

import (
	"context"

	"github.com/iliyamo/airport-booking/internal/model"
	"github.com/iliyamo/airport-booking/internal/queue"
	"github.com/iliyamo/airport-booking/internal/seatmap"
)

// FlightSeatMap is what the booking core needs to know about a flight.
type FlightSeatMap struct {
	FlightID uint64
	SeatMap  seatmap.SeatMap
	Price    model.Money
}

// TicketDraft is a ticket row before it has an id.
type TicketDraft struct {
	Row   int
	Seat  int
	Price model.Money
}

// Scope restricts order lookups.  All is set for administrators; otherwise
// only orders of UserID are visible.
type Scope struct {
	UserID uint64
	All    bool
}

// TxRunner runs fn inside one storage transaction.  Store methods called
// with the ctx passed to fn take part in that transaction.  A nested call
// reuses the outer transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type FlightStore interface {
	GetSeatMap(ctx context.Context, flightID uint64) (FlightSeatMap, error)
}

type TicketStore interface {
	// LockAndProbe takes exclusive row locks on the candidate seats and
	// returns those already sold.  It must run inside WithTx.
	LockAndProbe(ctx context.Context, flightID uint64, seats []seatmap.Seat) ([]seatmap.Seat, error)
	PersistTickets(ctx context.Context, orderID, flightID uint64, drafts []TicketDraft) ([]uint64, error)
	DeleteByOrder(ctx context.Context, orderID uint64) (int64, error)
	ListByOrders(ctx context.Context, orderIDs []uint64) (map[uint64][]model.Ticket, error)
	// CountSold and friends read without locks and may be stale.
	CountSold(ctx context.Context, flightID uint64) (int, error)
	CountSoldByFlights(ctx context.Context, flightIDs []uint64) (map[uint64]int, error)
	TakenSeats(ctx context.Context, flightID uint64) ([]seatmap.Seat, error)
}

type OrderStore interface {
	CreateOrderHeader(ctx context.Context, userID, flightID uint64) (model.Order, error)
	// LockForUpdate locks the order row; ErrOrderNotFound when the order
	// does not exist or is outside scope.
	LockForUpdate(ctx context.Context, orderID uint64, scope Scope) (model.Order, error)
	SetTotal(ctx context.Context, orderID uint64, total model.Money) error
	Get(ctx context.Context, orderID uint64, scope Scope) (model.Order, error)
	List(ctx context.Context, scope Scope, limit, offset int) ([]model.Order, int64, error)
	Delete(ctx context.Context, orderID uint64, scope Scope) error
}

// EventPublisher forwards committed order changes to the message broker.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.OrderEvent) error
}
