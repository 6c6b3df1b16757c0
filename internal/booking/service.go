// Package booking is the seat-inventory core: it validates seat batches,
// reserves seats under row locks and keeps orders and their totals
// consistent.  Storage and messaging are reached through the interfaces
// in ports.go.
package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/airport-booking/internal/model"
	"github.com/iliyamo/airport-booking/internal/queue"
	"github.com/iliyamo/airport-booking/internal/seatmap"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Actor is the authenticated caller.
type Actor struct {
	UserID uint64
	Admin  bool
}

func (a Actor) scope() Scope {
	return Scope{UserID: a.UserID, All: a.Admin}
}

type CreateOrderInput struct {
	FlightID uint64
	Seats    []SeatRequest
}

// ReplaceOrderInput replaces every seat of an order.  FlightID is optional;
// when set it must match the order's flight.
type ReplaceOrderInput struct {
	FlightID uint64
	Seats    []SeatRequest
}

// OrderView is an order with its tickets ordered by (row, seat).
type OrderView struct {
	Order   model.Order
	Tickets []model.Ticket
}

type OrderPage struct {
	Items    []OrderView
	Total    int64
	Page     int
	PageSize int
}

// Availability summarizes the seat inventory of one flight.
type Availability struct {
	Capacity  int
	Sold      int
	Available int
	Taken     []seatmap.Seat
}

type Config struct {
	MaxSeatsPerOrder int
	TxAttempts       int
	TxTimeout        time.Duration
}

type Service struct {
	logger     *logrus.Logger
	cfg        Config
	tx         TxRunner
	flights    FlightStore
	tickets    TicketStore
	orders     OrderStore
	transactor *Transactor
	publisher  EventPublisher
	now        func() time.Time
}

// ServiceProperty carries the dependencies of NewService.  Publisher and
// Now are optional.
type ServiceProperty struct {
	Logger    *logrus.Logger
	Config    Config
	Tx        TxRunner
	Flights   FlightStore
	Tickets   TicketStore
	Orders    OrderStore
	Publisher EventPublisher
	Now       func() time.Time
}

func NewService(props ServiceProperty) *Service {
	if props.Tx == nil || props.Flights == nil || props.Tickets == nil || props.Orders == nil {
		panic("nil store passed to booking.NewService")
	}
	logger := props.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	now := props.Now
	if now == nil {
		now = time.Now
	}
	cfg := props.Config
	if cfg.TxAttempts < 1 {
		cfg.TxAttempts = 1
	}
	return &Service{
		logger:     logger,
		cfg:        cfg,
		tx:         props.Tx,
		flights:    props.Flights,
		tickets:    props.Tickets,
		orders:     props.Orders,
		transactor: NewTransactor(props.Tickets),
		publisher:  props.Publisher,
		now:        now,
	}
}

// Create validates the batch, then creates the order header and its
// tickets in one transaction.  On any error nothing is persisted.
func (s *Service) Create(ctx context.Context, actor Actor, in CreateOrderInput) (OrderView, error) {
	flight, err := s.flights.GetSeatMap(ctx, in.FlightID)
	if err != nil {
		return OrderView{}, err
	}
	seats, err := ValidateBatch(flight.SeatMap, in.Seats, s.cfg.MaxSeatsPerOrder)
	if err != nil {
		return OrderView{}, err
	}

	var view OrderView
	err = s.runBooking(ctx, flight.FlightID, func() []seatmap.Seat { return seats }, func(txCtx context.Context) error {
		order, err := s.orders.CreateOrderHeader(txCtx, actor.UserID, flight.FlightID)
		if err != nil {
			return err
		}
		tickets, err := s.transactor.Reserve(txCtx, flight, order.ID, seats)
		if err != nil {
			return err
		}
		order.TotalPrice = flight.Price.Mul(len(tickets))
		if err := s.orders.SetTotal(txCtx, order.ID, order.TotalPrice); err != nil {
			return err
		}
		view = newOrderView(order, tickets)
		return nil
	})
	if err != nil {
		return OrderView{}, err
	}

	s.publish(ctx, queue.EventOrderBooked, view)
	return view, nil
}

// Replace swaps the whole ticket set of an order inside one transaction.
// The order's old seats are released before the new batch is probed so
// they never conflict with themselves; a conflict with anyone else rolls
// everything back and the original tickets stay.
func (s *Service) Replace(ctx context.Context, actor Actor, orderID uint64, in ReplaceOrderInput) (OrderView, error) {
	var (
		view      OrderView
		requested []seatmap.Seat
		flightID  uint64
	)
	err := s.runBooking(ctx, 0, func() []seatmap.Seat { return requested }, func(txCtx context.Context) error {
		order, err := s.orders.LockForUpdate(txCtx, orderID, actor.scope())
		if err != nil {
			return err
		}
		flightID = order.FlightID
		if in.FlightID != 0 && in.FlightID != order.FlightID {
			verr := &ValidationError{}
			verr.Add("flight_id", Problem{
				Code:    CodeFlightMismatch,
				Message: fmt.Sprintf("order %d belongs to flight %d, not %d", order.ID, order.FlightID, in.FlightID),
			})
			return verr
		}
		flight, err := s.flights.GetSeatMap(txCtx, order.FlightID)
		if err != nil {
			return err
		}
		seats, err := ValidateBatch(flight.SeatMap, in.Seats, s.cfg.MaxSeatsPerOrder)
		if err != nil {
			return err
		}
		requested = seats
		if _, err := s.tickets.DeleteByOrder(txCtx, order.ID); err != nil {
			return err
		}
		tickets, err := s.transactor.Reserve(txCtx, flight, order.ID, seats)
		if err != nil {
			return err
		}
		order.TotalPrice = flight.Price.Mul(len(tickets))
		if err := s.orders.SetTotal(txCtx, order.ID, order.TotalPrice); err != nil {
			return err
		}
		view = newOrderView(order, tickets)
		return nil
	})
	if err != nil {
		var conflict *SeatConflictError
		if errors.As(err, &conflict) && conflict.FlightID == 0 {
			conflict.FlightID = flightID
		}
		return OrderView{}, err
	}

	s.publish(ctx, queue.EventOrderReplaced, view)
	return view, nil
}

// Get returns one order visible to actor.
func (s *Service) Get(ctx context.Context, actor Actor, orderID uint64) (OrderView, error) {
	order, err := s.orders.Get(ctx, orderID, actor.scope())
	if err != nil {
		return OrderView{}, err
	}
	byOrder, err := s.tickets.ListByOrders(ctx, []uint64{order.ID})
	if err != nil {
		return OrderView{}, err
	}
	return newOrderView(order, byOrder[order.ID]), nil
}

// List pages through the orders visible to actor, newest first.
func (s *Service) List(ctx context.Context, actor Actor, page, pageSize int) (OrderPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	orders, total, err := s.orders.List(ctx, actor.scope(), pageSize, (page-1)*pageSize)
	if err != nil {
		return OrderPage{}, err
	}
	ids := make([]uint64, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	byOrder, err := s.tickets.ListByOrders(ctx, ids)
	if err != nil {
		return OrderPage{}, err
	}
	items := make([]OrderView, len(orders))
	for i, o := range orders {
		items[i] = newOrderView(o, byOrder[o.ID])
	}
	return OrderPage{Items: items, Total: total, Page: page, PageSize: pageSize}, nil
}

// Delete cancels an order and frees its seats.
func (s *Service) Delete(ctx context.Context, actor Actor, orderID uint64) error {
	var view OrderView
	err := s.tx.WithTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.LockForUpdate(txCtx, orderID, actor.scope())
		if err != nil {
			return err
		}
		byOrder, err := s.tickets.ListByOrders(txCtx, []uint64{order.ID})
		if err != nil {
			return err
		}
		if _, err := s.tickets.DeleteByOrder(txCtx, order.ID); err != nil {
			return err
		}
		if err := s.orders.Delete(txCtx, order.ID, actor.scope()); err != nil {
			return err
		}
		view = newOrderView(order, byOrder[order.ID])
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(ctx, queue.EventOrderCancelled, view)
	return nil
}

// CountAvailable is capacity minus sold seats, read without locks.  The
// value may be stale by the time the caller uses it.
func (s *Service) CountAvailable(ctx context.Context, flightID uint64) (int, error) {
	flight, err := s.flights.GetSeatMap(ctx, flightID)
	if err != nil {
		return 0, err
	}
	sold, err := s.tickets.CountSold(ctx, flightID)
	if err != nil {
		return 0, err
	}
	return available(flight.SeatMap.Capacity(), sold), nil
}

// Availability returns counts plus the list of taken seats of a flight.
func (s *Service) Availability(ctx context.Context, flight model.Flight) (Availability, error) {
	taken, err := s.tickets.TakenSeats(ctx, flight.ID)
	if err != nil {
		return Availability{}, err
	}
	capacity := flight.SeatMap().Capacity()
	return Availability{
		Capacity:  capacity,
		Sold:      len(taken),
		Available: available(capacity, len(taken)),
		Taken:     taken,
	}, nil
}

// AvailableByFlights maps flight id to available seat count for a page of
// flights with one query.
func (s *Service) AvailableByFlights(ctx context.Context, flights []model.Flight) (map[uint64]int, error) {
	ids := make([]uint64, len(flights))
	for i, f := range flights {
		ids[i] = f.ID
	}
	sold, err := s.tickets.CountSoldByFlights(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[uint64]int, len(flights))
	for _, f := range flights {
		out[f.ID] = available(f.SeatMap().Capacity(), sold[f.ID])
	}
	return out, nil
}

// runBooking runs fn in a transaction and retries the whole transaction on
// deadlocks and unique-key collisions.  A retry re-probes under lock, so a
// seat lost to a concurrent commit comes back as a SeatConflictError with
// exact pairs.  When retries run out on a unique-key collision the seats
// returned by requested are reported as conflicting.
func (s *Service) runBooking(ctx context.Context, flightID uint64, requested func() []seatmap.Seat, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= s.cfg.TxAttempts; attempt++ {
		err = s.withTimeout(ctx, fn)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrTransient) && !errors.Is(err, ErrDuplicateSeat) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.WithContext(ctx).WithError(err).WithField("attempt", attempt).Warn("booking transaction aborted")
	}
	if errors.Is(err, ErrDuplicateSeat) {
		return &SeatConflictError{FlightID: flightID, Seats: requested()}
	}
	return err
}

func (s *Service) withTimeout(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.cfg.TxTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.TxTimeout)
		defer cancel()
	}
	return s.tx.WithTx(ctx, fn)
}

// publish is best effort: the order is already committed, so a broker
// failure is logged and swallowed.
func (s *Service) publish(ctx context.Context, eventType string, view OrderView) {
	if s.publisher == nil {
		return
	}
	seats := make([]string, len(view.Tickets))
	for i, t := range view.Tickets {
		seats[i] = seatmap.Seat{Row: t.Row, Seat: t.Seat}.Label()
	}
	ev := queue.OrderEvent{
		EventID:    uuid.NewString(),
		Type:       eventType,
		OrderID:    view.Order.ID,
		UserID:     view.Order.UserID,
		FlightID:   view.Order.FlightID,
		Seats:      seats,
		TotalPrice: view.Order.TotalPrice.String(),
		OccurredAt: s.now().UTC().Format(time.RFC3339),
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(logrus.Fields{
			"event":    eventType,
			"order_id": view.Order.ID,
		}).Error("publish order event")
	}
}

func newOrderView(order model.Order, tickets []model.Ticket) OrderView {
	sorted := make([]model.Ticket, len(tickets))
	copy(sorted, tickets)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Row != sorted[j].Row {
			return sorted[i].Row < sorted[j].Row
		}
		return sorted[i].Seat < sorted[j].Seat
	})
	return OrderView{Order: order, Tickets: sorted}
}

func available(capacity, sold int) int {
	if sold >= capacity {
		return 0
	}
	return capacity - sold
}
