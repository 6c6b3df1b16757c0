package booking_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/suite"

	"github.com/iliyamo/airport-booking/internal/booking"
	"github.com/iliyamo/airport-booking/internal/model"
	"github.com/iliyamo/airport-booking/internal/queue"
	"github.com/iliyamo/airport-booking/internal/seatmap"
	"github.com/iliyamo/airport-booking/internal/testutil"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.OrderEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev queue.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) last() queue.OrderEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

type ServiceSuite struct {
	suite.Suite
	ctx    context.Context
	store  *testutil.Store
	flight model.Flight
	pub    *recordingPublisher
	hook   *logtest.Hook
	svc    *booking.Service

	alice booking.Actor
	bob   booking.Actor
	admin booking.Actor
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = testutil.NewStore()
	s.store.LockWait = 5 * time.Second
	s.flight = s.store.AddFlight(10, 10, model.Money(10000))
	s.pub = &recordingPublisher{}

	var logger *logrus.Logger
	logger, s.hook = logtest.NewNullLogger()
	s.svc = booking.NewService(booking.ServiceProperty{
		Logger: logger,
		Config: booking.Config{
			MaxSeatsPerOrder: 100,
			TxAttempts:       3,
			TxTimeout:        10 * time.Second,
		},
		Tx:        s.store,
		Flights:   s.store,
		Tickets:   s.store,
		Orders:    s.store,
		Publisher: s.pub,
	})

	s.alice = booking.Actor{UserID: 1}
	s.bob = booking.Actor{UserID: 2}
	s.admin = booking.Actor{UserID: 99, Admin: true}
}

func seats(pairs ...[2]int) []booking.SeatRequest {
	out := make([]booking.SeatRequest, len(pairs))
	for i, p := range pairs {
		out[i] = booking.SeatRequest{Row: p[0], Seat: p[1]}
	}
	return out
}

func (s *ServiceSuite) create(actor booking.Actor, pairs ...[2]int) booking.OrderView {
	view, err := s.svc.Create(s.ctx, actor, booking.CreateOrderInput{FlightID: s.flight.ID, Seats: seats(pairs...)})
	s.Require().NoError(err)
	return view
}

func (s *ServiceSuite) takenSeats() []seatmap.Seat {
	taken, err := s.store.TakenSeats(s.ctx, s.flight.ID)
	s.Require().NoError(err)
	return taken
}

func (s *ServiceSuite) requireConflict(err error, want ...seatmap.Seat) {
	s.Require().ErrorIs(err, booking.ErrSeatConflict)
	var conflict *booking.SeatConflictError
	s.Require().True(errors.As(err, &conflict))
	s.Equal(want, conflict.Seats)
	s.Equal(s.flight.ID, conflict.FlightID)
}

func (s *ServiceSuite) TestCreateTwoSeats() {
	view := s.create(s.alice, [2]int{1, 1}, [2]int{1, 2})

	s.Equal("200.00", view.Order.TotalPrice.String())
	s.Equal(s.alice.UserID, view.Order.UserID)
	s.Require().Len(view.Tickets, 2)
	for _, tk := range view.Tickets {
		s.Equal(model.Money(10000), tk.Price)
		s.Equal(view.Order.ID, tk.OrderID)
	}
	s.Equal([]seatmap.Seat{{Row: 1, Seat: 1}, {Row: 1, Seat: 2}}, s.takenSeats())

	ev := s.pub.last()
	s.Equal(queue.EventOrderBooked, ev.Type)
	s.Equal([]string{"1A", "1B"}, ev.Seats)
	s.Equal("200.00", ev.TotalPrice)
	s.NotEmpty(ev.EventID)
}

func (s *ServiceSuite) TestCreateConflictNamesTakenSeat() {
	s.create(s.alice, [2]int{1, 1}, [2]int{1, 2})

	_, err := s.svc.Create(s.ctx, s.bob, booking.CreateOrderInput{FlightID: s.flight.ID, Seats: seats([2]int{1, 1})})

	s.requireConflict(err, seatmap.Seat{Row: 1, Seat: 1})
	s.Equal(1, s.store.OrderCount())
}

func (s *ServiceSuite) TestCreateOutOfRange() {
	_, err := s.svc.Create(s.ctx, s.alice, booking.CreateOrderInput{FlightID: s.flight.ID, Seats: seats([2]int{11, 1})})

	s.Require().ErrorIs(err, booking.ErrValidation)
	var verr *booking.ValidationError
	s.Require().True(errors.As(err, &verr))
	s.True(verr.Has("seats[0]", booking.CodeOutOfRangeRow))
	s.Zero(s.store.OrderCount())
	s.Zero(s.store.Commits(), "validation runs before any transaction")
}

func (s *ServiceSuite) TestCreateDuplicateInRequest() {
	_, err := s.svc.Create(s.ctx, s.alice, booking.CreateOrderInput{FlightID: s.flight.ID, Seats: seats([2]int{2, 2}, [2]int{2, 2})})

	var verr *booking.ValidationError
	s.Require().True(errors.As(err, &verr))
	s.Equal([]string{"seats[1]"}, verr.Fields())
	s.True(verr.Has("seats[1]", booking.CodeDuplicateSeat))
}

func (s *ServiceSuite) TestCreateUnknownFlight() {
	_, err := s.svc.Create(s.ctx, s.alice, booking.CreateOrderInput{FlightID: 404, Seats: seats([2]int{1, 1})})

	s.ErrorIs(err, booking.ErrFlightNotFound)
}

func (s *ServiceSuite) TestCreateIsAllOrNothing() {
	s.create(s.alice, [2]int{1, 1})

	_, err := s.svc.Create(s.ctx, s.bob, booking.CreateOrderInput{
		FlightID: s.flight.ID,
		Seats:    seats([2]int{3, 3}, [2]int{3, 4}, [2]int{1, 1}),
	})

	s.requireConflict(err, seatmap.Seat{Row: 1, Seat: 1})
	s.Equal([]seatmap.Seat{{Row: 1, Seat: 1}}, s.takenSeats())
	s.Equal(1, s.store.OrderCount())

	view := s.create(s.bob, [2]int{3, 3}, [2]int{3, 4})
	s.Len(view.Tickets, 2, "retrying with a disjoint set succeeds")
}

func (s *ServiceSuite) TestReplaceFreesOldSeats() {
	order := s.create(s.alice, [2]int{1, 1})

	view, err := s.svc.Replace(s.ctx, s.alice, order.Order.ID, booking.ReplaceOrderInput{Seats: seats([2]int{1, 2})})
	s.Require().NoError(err)

	s.Equal(order.Order.ID, view.Order.ID)
	s.Require().Len(view.Tickets, 1)
	s.Equal(1, view.Tickets[0].Row)
	s.Equal(2, view.Tickets[0].Seat)
	s.Equal("100.00", view.Order.TotalPrice.String())
	s.Equal([]seatmap.Seat{{Row: 1, Seat: 2}}, s.takenSeats())
	s.Equal(queue.EventOrderReplaced, s.pub.last().Type)

	other := s.create(s.bob, [2]int{1, 1})
	s.Len(other.Tickets, 1)
}

func (s *ServiceSuite) TestReplaceMayKeepOwnSeats() {
	order := s.create(s.alice, [2]int{4, 1}, [2]int{4, 2})

	view, err := s.svc.Replace(s.ctx, s.alice, order.Order.ID, booking.ReplaceOrderInput{
		FlightID: s.flight.ID,
		Seats:    seats([2]int{4, 2}, [2]int{4, 1}, [2]int{4, 3}),
	})
	s.Require().NoError(err)

	s.Equal("300.00", view.Order.TotalPrice.String())
	s.Equal([]seatmap.Seat{{Row: 4, Seat: 1}, {Row: 4, Seat: 2}, {Row: 4, Seat: 3}}, s.takenSeats())

	got, err := s.svc.Get(s.ctx, s.alice, order.Order.ID)
	s.Require().NoError(err)
	s.Equal(model.Money(30000), got.Order.TotalPrice)
	s.Equal(order.Order.CreatedAt, got.Order.CreatedAt)
}

func (s *ServiceSuite) TestReplaceConflictKeepsOriginalTickets() {
	order := s.create(s.alice, [2]int{1, 1})
	s.create(s.bob, [2]int{1, 2})

	_, err := s.svc.Replace(s.ctx, s.alice, order.Order.ID, booking.ReplaceOrderInput{Seats: seats([2]int{5, 5}, [2]int{1, 2})})

	s.requireConflict(err, seatmap.Seat{Row: 1, Seat: 2})
	got, err := s.svc.Get(s.ctx, s.alice, order.Order.ID)
	s.Require().NoError(err)
	s.Require().Len(got.Tickets, 1)
	s.Equal(1, got.Tickets[0].Seat)
	s.Equal("100.00", got.Order.TotalPrice.String())
	s.Equal([]seatmap.Seat{{Row: 1, Seat: 1}, {Row: 1, Seat: 2}}, s.takenSeats())
}

func (s *ServiceSuite) TestReplaceInvalidBatchKeepsOriginalTickets() {
	order := s.create(s.alice, [2]int{1, 1})

	_, err := s.svc.Replace(s.ctx, s.alice, order.Order.ID, booking.ReplaceOrderInput{Seats: seats([2]int{1, 99})})

	s.ErrorIs(err, booking.ErrValidation)
	s.Equal([]seatmap.Seat{{Row: 1, Seat: 1}}, s.takenSeats())
}

type countingTickets struct {
	booking.TicketStore
	deletes int
}

func (c *countingTickets) DeleteByOrder(ctx context.Context, orderID uint64) (int64, error) {
	c.deletes++
	return c.TicketStore.DeleteByOrder(ctx, orderID)
}

func (s *ServiceSuite) TestReplaceValidatesBeforeDeleting() {
	order := s.create(s.alice, [2]int{1, 1})
	tickets := &countingTickets{TicketStore: s.store}
	logger, _ := logtest.NewNullLogger()
	svc := booking.NewService(booking.ServiceProperty{
		Logger:  logger,
		Config:  booking.Config{MaxSeatsPerOrder: 100, TxAttempts: 3, TxTimeout: 10 * time.Second},
		Tx:      s.store,
		Flights: s.store,
		Tickets: tickets,
		Orders:  s.store,
	})

	_, err := svc.Replace(s.ctx, s.alice, order.Order.ID, booking.ReplaceOrderInput{Seats: seats([2]int{0, 1}, [2]int{2, 2}, [2]int{2, 2})})
	s.ErrorIs(err, booking.ErrValidation)
	_, err = svc.Replace(s.ctx, s.alice, order.Order.ID, booking.ReplaceOrderInput{})
	s.ErrorIs(err, booking.ErrValidation)
	s.Zero(tickets.deletes)

	_, err = svc.Replace(s.ctx, s.alice, order.Order.ID, booking.ReplaceOrderInput{Seats: seats([2]int{2, 2})})
	s.Require().NoError(err)
	s.Equal(1, tickets.deletes)
}

func (s *ServiceSuite) TestReplaceRejectsOtherFlight() {
	order := s.create(s.alice, [2]int{1, 1})

	_, err := s.svc.Replace(s.ctx, s.alice, order.Order.ID, booking.ReplaceOrderInput{FlightID: s.flight.ID + 1, Seats: seats([2]int{1, 2})})

	var verr *booking.ValidationError
	s.Require().True(errors.As(err, &verr))
	s.True(verr.Has("flight_id", booking.CodeFlightMismatch))
}

func (s *ServiceSuite) TestOrdersOfOthersAreNotFound() {
	order := s.create(s.alice, [2]int{1, 1})

	_, err := s.svc.Get(s.ctx, s.bob, order.Order.ID)
	s.ErrorIs(err, booking.ErrOrderNotFound)

	_, err = s.svc.Replace(s.ctx, s.bob, order.Order.ID, booking.ReplaceOrderInput{Seats: seats([2]int{2, 2})})
	s.ErrorIs(err, booking.ErrOrderNotFound)

	s.ErrorIs(s.svc.Delete(s.ctx, s.bob, order.Order.ID), booking.ErrOrderNotFound)
	s.Equal([]seatmap.Seat{{Row: 1, Seat: 1}}, s.takenSeats())

	got, err := s.svc.Get(s.ctx, s.admin, order.Order.ID)
	s.Require().NoError(err)
	s.Equal(s.alice.UserID, got.Order.UserID)
}

func (s *ServiceSuite) TestAdminCanReplaceAnyOrder() {
	order := s.create(s.alice, [2]int{1, 1})

	view, err := s.svc.Replace(s.ctx, s.admin, order.Order.ID, booking.ReplaceOrderInput{Seats: seats([2]int{6, 6})})

	s.Require().NoError(err)
	s.Equal(s.alice.UserID, view.Order.UserID, "ownership does not move to the admin")
}

func (s *ServiceSuite) TestDeleteReleasesSeats() {
	order := s.create(s.alice, [2]int{1, 1}, [2]int{1, 2})

	s.Require().NoError(s.svc.Delete(s.ctx, s.alice, order.Order.ID))

	s.Empty(s.takenSeats())
	_, err := s.svc.Get(s.ctx, s.alice, order.Order.ID)
	s.ErrorIs(err, booking.ErrOrderNotFound)
	ev := s.pub.last()
	s.Equal(queue.EventOrderCancelled, ev.Type)
	s.Equal([]string{"1A", "1B"}, ev.Seats)

	s.ErrorIs(s.svc.Delete(s.ctx, s.alice, order.Order.ID), booking.ErrOrderNotFound)
}

func (s *ServiceSuite) TestListScopesAndPages() {
	for i := 1; i <= 3; i++ {
		s.create(s.alice, [2]int{i, 1})
	}
	s.create(s.bob, [2]int{9, 9})

	page, err := s.svc.List(s.ctx, s.alice, 1, 2)
	s.Require().NoError(err)
	s.EqualValues(3, page.Total)
	s.Len(page.Items, 2)
	s.Equal(2, page.PageSize)

	page, err = s.svc.List(s.ctx, s.alice, 2, 2)
	s.Require().NoError(err)
	s.Len(page.Items, 1)

	page, err = s.svc.List(s.ctx, s.admin, 0, 0)
	s.Require().NoError(err)
	s.EqualValues(4, page.Total)
	s.Equal(1, page.Page)
	s.Equal(booking.DefaultPageSize, page.PageSize)

	page, err = s.svc.List(s.ctx, s.bob, 1, 1000)
	s.Require().NoError(err)
	s.Equal(booking.MaxPageSize, page.PageSize)
	s.Require().Len(page.Items, 1)
	s.Len(page.Items[0].Tickets, 1)
}

func (s *ServiceSuite) TestCountAvailable() {
	s.create(s.alice, [2]int{1, 1}, [2]int{1, 2})

	n, err := s.svc.CountAvailable(s.ctx, s.flight.ID)
	s.Require().NoError(err)
	s.Equal(98, n)

	avail, err := s.svc.Availability(s.ctx, s.flight)
	s.Require().NoError(err)
	s.Equal(100, avail.Capacity)
	s.Equal(2, avail.Sold)
	s.Equal(98, avail.Available)

	byFlight, err := s.svc.AvailableByFlights(s.ctx, []model.Flight{s.flight})
	s.Require().NoError(err)
	s.Equal(map[uint64]int{s.flight.ID: 98}, byFlight)

	_, err = s.svc.CountAvailable(s.ctx, 404)
	s.ErrorIs(err, booking.ErrFlightNotFound)
}

func (s *ServiceSuite) TestRetriesTransientFailures() {
	s.store.InjectProbeErrors(booking.ErrTransient, booking.ErrTransient)

	view := s.create(s.alice, [2]int{2, 2})

	s.Len(view.Tickets, 1)
	s.Equal(1, s.store.OrderCount())
	s.Equal(2, s.store.Rollbacks())
	s.Len(s.hook.AllEntries(), 2)
}

func (s *ServiceSuite) TestTransientFailuresExhaustRetries() {
	s.store.InjectProbeErrors(booking.ErrTransient, booking.ErrTransient, booking.ErrTransient)

	_, err := s.svc.Create(s.ctx, s.alice, booking.CreateOrderInput{FlightID: s.flight.ID, Seats: seats([2]int{2, 2})})

	s.ErrorIs(err, booking.ErrTransient)
	s.Zero(s.store.OrderCount())
}

func (s *ServiceSuite) TestDuplicateKeyBecomesConflict() {
	s.store.InjectProbeErrors(booking.ErrDuplicateSeat, booking.ErrDuplicateSeat, booking.ErrDuplicateSeat)

	_, err := s.svc.Create(s.ctx, s.alice, booking.CreateOrderInput{FlightID: s.flight.ID, Seats: seats([2]int{2, 2}, [2]int{2, 3})})

	s.requireConflict(err, seatmap.Seat{Row: 2, Seat: 2}, seatmap.Seat{Row: 2, Seat: 3})
}

func (s *ServiceSuite) TestPublishFailureDoesNotFailBooking() {
	s.pub.err = errors.New("broker down")

	view := s.create(s.alice, [2]int{1, 1})

	s.NotZero(view.Order.ID)
	entry := s.hook.LastEntry()
	s.Require().NotNil(entry)
	s.Equal(logrus.ErrorLevel, entry.Level)
	s.Equal(queue.EventOrderBooked, entry.Data["event"])
}

// lockModes runs fn once against the default store and once against a
// store whose probe also locks free seats.
func (s *ServiceSuite) lockModes(fn func()) {
	for _, mode := range []struct {
		name     string
		gapLocks bool
	}{
		{"row locks", false},
		{"gap locks", true},
	} {
		s.Run(mode.name, func() {
			s.SetupTest()
			s.store.GapLocks = mode.gapLocks
			fn()
		})
	}
}

func (s *ServiceSuite) TestConcurrentRequestsForOneSeatHaveOneWinner() {
	s.lockModes(func() {
		const n = 16
		var (
			wg        sync.WaitGroup
			start     = make(chan struct{})
			mu        sync.Mutex
			wins      int
			conflicts int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(user uint64) {
				defer wg.Done()
				<-start
				_, err := s.svc.Create(s.ctx, booking.Actor{UserID: user}, booking.CreateOrderInput{
					FlightID: s.flight.ID,
					Seats:    seats([2]int{7, 7}),
				})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case errors.Is(err, booking.ErrSeatConflict):
					conflicts++
				default:
					s.T().Errorf("unexpected error: %v", err)
				}
			}(uint64(i + 1))
		}
		close(start)
		wg.Wait()

		s.Equal(1, wins)
		s.Equal(n-1, conflicts)
		s.Equal([]seatmap.Seat{{Row: 7, Seat: 7}}, s.takenSeats())
		s.Equal(1, s.store.OrderCount())
	})
}

func (s *ServiceSuite) TestConcurrentOverlappingBatchesNeverDoubleBook() {
	s.lockModes(func() {
		batches := [][]booking.SeatRequest{
			seats([2]int{3, 1}, [2]int{3, 2}),
			seats([2]int{3, 2}, [2]int{3, 3}),
			seats([2]int{3, 3}, [2]int{3, 1}),
			seats([2]int{3, 4}),
		}
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i, b := range batches {
			wg.Add(1)
			go func(user uint64, b []booking.SeatRequest) {
				defer wg.Done()
				<-start
				_, err := s.svc.Create(s.ctx, booking.Actor{UserID: user}, booking.CreateOrderInput{FlightID: s.flight.ID, Seats: b})
				if err != nil && !errors.Is(err, booking.ErrSeatConflict) {
					s.T().Errorf("unexpected error: %v", err)
				}
			}(uint64(i+1), b)
		}
		close(start)
		wg.Wait()

		seen := make(map[seatmap.Seat]bool)
		for _, tk := range s.store.Tickets(s.flight.ID) {
			seat := seatmap.Seat{Row: tk.Row, Seat: tk.Seat}
			s.False(seen[seat], "seat %s sold twice", seat)
			seen[seat] = true
		}
		s.True(seen[seatmap.Seat{Row: 3, Seat: 4}])

		page, err := s.svc.List(s.ctx, s.admin, 1, 10)
		s.Require().NoError(err)
		for _, item := range page.Items {
			s.Equal(s.flight.Price.Mul(len(item.Tickets)), item.Order.TotalPrice)
		}
	})
}

// Both requests probe the free seat before either inserts it.  The unique
// key turns the second insert into a duplicate, and the retry reports the
// seat as taken.
func (s *ServiceSuite) TestRacingInsertsResolveThroughRetry() {
	var (
		probes  atomic.Int32
		arrived sync.WaitGroup
	)
	arrived.Add(2)
	s.store.OnProbe = func() {
		if probes.Add(1) <= 2 {
			arrived.Done()
			arrived.Wait()
		}
	}

	errs := make(chan error, 2)
	for _, actor := range []booking.Actor{s.alice, s.bob} {
		go func(actor booking.Actor) {
			_, err := s.svc.Create(s.ctx, actor, booking.CreateOrderInput{FlightID: s.flight.ID, Seats: seats([2]int{1, 1})})
			errs <- err
		}(actor)
	}
	var wins int
	var lost error
	for i := 0; i < 2; i++ {
		if err := <-errs; err == nil {
			wins++
		} else {
			lost = err
		}
	}

	s.Equal(1, wins)
	s.requireConflict(lost, seatmap.Seat{Row: 1, Seat: 1})
	s.Equal(int32(3), probes.Load())
	s.Equal(2, s.store.Rollbacks())
	s.Equal(1, s.store.OrderCount())

	var retried bool
	for _, entry := range s.hook.AllEntries() {
		if err, ok := entry.Data[logrus.ErrorKey].(error); ok && errors.Is(err, booking.ErrDuplicateSeat) {
			retried = true
		}
	}
	s.True(retried, "the duplicate insert was retried")
}
