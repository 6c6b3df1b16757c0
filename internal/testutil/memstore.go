// Package testutil provides an in-memory implementation of the booking
// ports and the flight catalog for tests.  It behaves like InnoDB at READ
// COMMITTED in the ways the booking core depends on:
//
//   - LockAndProbe locks only seats that already have a ticket row.  A
//     free seat is not locked, so two transactions may both see it free.
//   - PersistTickets locks every inserted seat until commit or rollback.
//     An insert of a seat another transaction has inserted but not yet
//     committed waits for it, then fails with booking.ErrDuplicateSeat
//     if that transaction committed.
//   - LockForUpdate and DeleteByOrder take exclusive row locks.
//   - A lock wait longer than LockWait fails with booking.ErrTransient.
//   - Writes are staged per transaction and become visible on commit.
//
// Setting GapLocks makes LockAndProbe lock every candidate seat, free or
// not, like a next-key locking read.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/airport-booking/internal/booking"
	"github.com/iliyamo/airport-booking/internal/model"
	"github.com/iliyamo/airport-booking/internal/repository"
	"github.com/iliyamo/airport-booking/internal/seatmap"
)

// ErrNoTx is returned by locking reads called outside WithTx.
var ErrNoTx = errors.New("testutil: locking read outside transaction")

type Store struct {
	// LockWait bounds how long a transaction waits for a row lock.
	LockWait time.Duration
	// Now stamps created rows.
	Now func() time.Time
	// GapLocks makes LockAndProbe lock free seats as well.
	GapLocks bool
	// OnProbe, when set, runs at the end of every successful LockAndProbe.
	OnProbe func()

	mu          sync.Mutex
	airplanes   map[uint64]model.Airplane
	flights     map[uint64]model.Flight
	orders      map[uint64]model.Order
	tickets     map[uint64]model.Ticket
	locks       map[string]chan struct{}
	probeErrs   []error
	airplaneSeq uint64
	flightSeq   uint64
	orderSeq    uint64
	ticketSeq   uint64
	commits     int
	rollbacks   int
}

func NewStore() *Store {
	return &Store{
		LockWait:  2 * time.Second,
		Now:       func() time.Time { return time.Now().UTC().Truncate(time.Second) },
		airplanes: make(map[uint64]model.Airplane),
		flights:   make(map[uint64]model.Flight),
		orders:    make(map[uint64]model.Order),
		tickets:   make(map[uint64]model.Ticket),
		locks:     make(map[string]chan struct{}),
	}
}

type txKey struct{}

type memTx struct {
	held          []string
	newOrders     map[uint64]model.Order
	totals        map[uint64]model.Money
	deletedOrders map[uint64]bool
	// clearedOrders are orders whose committed tickets were deleted.
	clearedOrders map[uint64]bool
	newTickets    []model.Ticket
}

func newMemTx() *memTx {
	return &memTx{
		newOrders:     make(map[uint64]model.Order),
		totals:        make(map[uint64]model.Money),
		deletedOrders: make(map[uint64]bool),
		clearedOrders: make(map[uint64]bool),
	}
}

func txFrom(ctx context.Context) *memTx {
	t, _ := ctx.Value(txKey{}).(*memTx)
	return t
}

// WithTx implements booking.TxRunner.  A nested call joins the outer
// transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}
	t := newMemTx()
	committed := false
	defer func() {
		if !committed {
			s.rollback(t)
		}
	}()
	if err := fn(context.WithValue(ctx, txKey{}, t)); err != nil {
		return err
	}
	s.commit(t)
	committed = true
	return nil
}

// autocommit runs fn in the caller's transaction or in a single statement
// transaction when there is none.
func (s *Store) autocommit(ctx context.Context, fn func(t *memTx) error) error {
	if t := txFrom(ctx); t != nil {
		return fn(t)
	}
	return s.WithTx(ctx, func(ctx context.Context) error { return fn(txFrom(ctx)) })
}

func (s *Store) commit(t *memTx) {
	s.mu.Lock()
	for id := range t.clearedOrders {
		for tid, tk := range s.tickets {
			if tk.OrderID == id {
				delete(s.tickets, tid)
			}
		}
	}
	for id, o := range t.newOrders {
		s.orders[id] = o
	}
	for id, total := range t.totals {
		if o, ok := s.orders[id]; ok {
			o.TotalPrice = total
			o.UpdatedAt = s.Now()
			s.orders[id] = o
		}
	}
	for id := range t.deletedOrders {
		delete(s.orders, id)
	}
	for _, tk := range t.newTickets {
		s.tickets[tk.ID] = tk
	}
	s.commits++
	s.mu.Unlock()
	s.release(t)
}

func (s *Store) rollback(t *memTx) {
	s.mu.Lock()
	s.rollbacks++
	s.mu.Unlock()
	s.release(t)
}

func (s *Store) release(t *memTx) {
	s.mu.Lock()
	chans := make([]chan struct{}, 0, len(t.held))
	for _, k := range t.held {
		chans = append(chans, s.locks[k])
	}
	s.mu.Unlock()
	for _, ch := range chans {
		<-ch
	}
	t.held = nil
}

func (s *Store) lock(ctx context.Context, t *memTx, key string) error {
	for _, k := range t.held {
		if k == key {
			return nil
		}
	}
	s.mu.Lock()
	ch, ok := s.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[key] = ch
	}
	s.mu.Unlock()

	timer := time.NewTimer(s.LockWait)
	defer timer.Stop()
	select {
	case ch <- struct{}{}:
		t.held = append(t.held, key)
		return nil
	case <-timer.C:
		return fmt.Errorf("lock wait timeout on %s: %w", key, booking.ErrTransient)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func seatLockKey(flightID uint64, s seatmap.Seat) string {
	return fmt.Sprintf("ticket:%d:%d:%d", flightID, s.Row, s.Seat)
}

func orderLockKey(id uint64) string { return fmt.Sprintf("order:%d", id) }

// InjectProbeErrors makes the next LockAndProbe calls fail with errs, one
// per call, before any lock is taken.
func (s *Store) InjectProbeErrors(errs ...error) {
	s.mu.Lock()
	s.probeErrs = append(s.probeErrs, errs...)
	s.mu.Unlock()
}

// Commits and Rollbacks count finished transactions.
func (s *Store) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

func (s *Store) Rollbacks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollbacks
}

// visibleTickets returns the tickets t can see; t may be nil.  Caller
// holds s.mu.
func (s *Store) visibleTickets(t *memTx) []model.Ticket {
	out := make([]model.Ticket, 0, len(s.tickets))
	for _, tk := range s.tickets {
		if t != nil && (t.clearedOrders[tk.OrderID] || t.deletedOrders[tk.OrderID]) {
			continue
		}
		out = append(out, tk)
	}
	if t != nil {
		out = append(out, t.newTickets...)
	}
	return out
}

// visibleOrder returns order id as t sees it.  Caller holds s.mu.
func (s *Store) visibleOrder(t *memTx, id uint64) (model.Order, bool) {
	if t != nil {
		if t.deletedOrders[id] {
			return model.Order{}, false
		}
		if o, ok := t.newOrders[id]; ok {
			return o, true
		}
	}
	o, ok := s.orders[id]
	if ok && t != nil {
		if total, set := t.totals[id]; set {
			o.TotalPrice = total
		}
	}
	return o, ok
}

// ---- catalog ----

// CreateAirplane stores a and assigns its id.
func (s *Store) CreateAirplane(_ context.Context, a *model.Airplane) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.airplanes {
		if a.RegistrationNumber != "" && existing.RegistrationNumber == a.RegistrationNumber {
			return repository.ErrRegistrationExists
		}
	}
	s.airplaneSeq++
	a.ID = s.airplaneSeq
	a.IsActive = true
	a.CreatedAt = s.Now()
	s.airplanes[a.ID] = *a
	return nil
}

// CreateFlight stores f, copying the seat geometry of its airplane.
func (s *Store) CreateFlight(_ context.Context, f *model.Flight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.airplanes[f.AirplaneID]
	if !ok {
		return repository.ErrAirplaneNotFound
	}
	for _, existing := range s.flights {
		if existing.FlightNumber == f.FlightNumber && existing.DepartureTime.Equal(f.DepartureTime) {
			return repository.ErrFlightExists
		}
	}
	s.flightSeq++
	f.ID = s.flightSeq
	f.AirplaneName = a.Name
	f.Rows = a.Rows
	f.SeatsInRow = a.SeatsInRow
	f.CreatedAt = s.Now()
	s.flights[f.ID] = *f
	return nil
}

// AddFlight creates an airplane of rows x seatsInRow and a flight on it.
func (s *Store) AddFlight(rows, seatsInRow int, price model.Money) model.Flight {
	ctx := context.Background()
	a := model.Airplane{Name: "Test", Rows: rows, SeatsInRow: seatsInRow}
	if err := s.CreateAirplane(ctx, &a); err != nil {
		panic(err)
	}
	dep := s.Now().Add(24 * time.Hour)
	f := model.Flight{
		AirplaneID:    a.ID,
		FlightNumber:  fmt.Sprintf("TS%03d", a.ID),
		DepartureTime: dep,
		ArrivalTime:   dep.Add(2 * time.Hour),
		Price:         price,
	}
	if err := s.CreateFlight(ctx, &f); err != nil {
		panic(err)
	}
	return f
}

func (s *Store) GetFlight(_ context.Context, id uint64) (model.Flight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flights[id]
	if !ok {
		return model.Flight{}, booking.ErrFlightNotFound
	}
	return f, nil
}

// ListFlights pages flights by departure time.
func (s *Store) ListFlights(_ context.Context, limit, offset int) ([]model.Flight, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]model.Flight, 0, len(s.flights))
	for _, f := range s.flights {
		all = append(all, f)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].DepartureTime.Equal(all[j].DepartureTime) {
			return all[i].DepartureTime.Before(all[j].DepartureTime)
		}
		return all[i].ID < all[j].ID
	})
	total := int64(len(all))
	if offset >= len(all) {
		return []model.Flight{}, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

// GetSeatMap implements booking.FlightStore.
func (s *Store) GetSeatMap(ctx context.Context, flightID uint64) (booking.FlightSeatMap, error) {
	f, err := s.GetFlight(ctx, flightID)
	if err != nil {
		return booking.FlightSeatMap{}, err
	}
	return booking.FlightSeatMap{FlightID: f.ID, SeatMap: f.SeatMap(), Price: f.Price}, nil
}

// ---- tickets ----

func (s *Store) LockAndProbe(ctx context.Context, flightID uint64, seats []seatmap.Seat) ([]seatmap.Seat, error) {
	t := txFrom(ctx)
	if t == nil {
		return nil, ErrNoTx
	}
	s.mu.Lock()
	if len(s.probeErrs) > 0 {
		err := s.probeErrs[0]
		s.probeErrs = s.probeErrs[1:]
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	locking := seats
	if !s.GapLocks {
		locking = s.soldAmong(t, flightID, seats)
	}
	for _, seat := range locking {
		if err := s.lock(ctx, t, seatLockKey(flightID, seat)); err != nil {
			return nil, err
		}
	}

	taken := s.soldAmong(t, flightID, seats)
	if s.OnProbe != nil {
		s.OnProbe()
	}
	return taken, nil
}

// soldAmong returns the seats of flightID that have a ticket visible to t,
// in the order given.
func (s *Store) soldAmong(t *memTx, flightID uint64, seats []seatmap.Seat) []seatmap.Seat {
	s.mu.Lock()
	defer s.mu.Unlock()
	sold := make(map[seatmap.Seat]bool)
	for _, tk := range s.visibleTickets(t) {
		if tk.FlightID == flightID {
			sold[seatmap.Seat{Row: tk.Row, Seat: tk.Seat}] = true
		}
	}
	var out []seatmap.Seat
	for _, seat := range seats {
		if sold[seat] {
			out = append(out, seat)
		}
	}
	return out
}

// PersistTickets locks each inserted seat in draft order before checking
// the unique key, so an insert racing an uncommitted one waits for it.
func (s *Store) PersistTickets(ctx context.Context, orderID, flightID uint64, drafts []booking.TicketDraft) ([]uint64, error) {
	var ids []uint64
	err := s.autocommit(ctx, func(t *memTx) error {
		for _, d := range drafts {
			if err := s.lock(ctx, t, seatLockKey(flightID, seatmap.Seat{Row: d.Row, Seat: d.Seat})); err != nil {
				return err
			}
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		sold := make(map[seatmap.Seat]bool)
		for _, tk := range s.visibleTickets(t) {
			if tk.FlightID == flightID {
				sold[seatmap.Seat{Row: tk.Row, Seat: tk.Seat}] = true
			}
		}
		staged := make([]model.Ticket, 0, len(drafts))
		for _, d := range drafts {
			seat := seatmap.Seat{Row: d.Row, Seat: d.Seat}
			if sold[seat] {
				return fmt.Errorf("ticket %s on flight %d: %w", seat, flightID, booking.ErrDuplicateSeat)
			}
			sold[seat] = true
			s.ticketSeq++
			staged = append(staged, model.Ticket{
				ID:        s.ticketSeq,
				OrderID:   orderID,
				FlightID:  flightID,
				Row:       d.Row,
				Seat:      d.Seat,
				Price:     d.Price,
				CreatedAt: s.Now(),
			})
			ids = append(ids, s.ticketSeq)
		}
		t.newTickets = append(t.newTickets, staged...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// DeleteByOrder locks the deleted ticket rows like InnoDB does, so a
// concurrent probe of those seats waits for this transaction to finish.
func (s *Store) DeleteByOrder(ctx context.Context, orderID uint64) (int64, error) {
	var n int64
	err := s.autocommit(ctx, func(t *memTx) error {
		s.mu.Lock()
		var seats []seatmap.Seat
		var flightID uint64
		for _, tk := range s.visibleTickets(t) {
			if tk.OrderID == orderID {
				seats = append(seats, seatmap.Seat{Row: tk.Row, Seat: tk.Seat})
				flightID = tk.FlightID
			}
		}
		s.mu.Unlock()
		for _, seat := range seatmap.Sorted(seats) {
			if err := s.lock(ctx, t, seatLockKey(flightID, seat)); err != nil {
				return err
			}
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		n = int64(len(seats))
		t.clearedOrders[orderID] = true
		kept := t.newTickets[:0]
		for _, tk := range t.newTickets {
			if tk.OrderID != orderID {
				kept = append(kept, tk)
			}
		}
		t.newTickets = kept
		return nil
	})
	return n, err
}

func (s *Store) ListByOrders(ctx context.Context, orderIDs []uint64) (map[uint64][]model.Ticket, error) {
	want := make(map[uint64]bool, len(orderIDs))
	for _, id := range orderIDs {
		want[id] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uint64][]model.Ticket, len(orderIDs))
	for _, tk := range s.visibleTickets(txFrom(ctx)) {
		if want[tk.OrderID] {
			out[tk.OrderID] = append(out[tk.OrderID], tk)
		}
	}
	for id := range out {
		list := out[id]
		sort.Slice(list, func(i, j int) bool {
			return seatmap.Seat{Row: list[i].Row, Seat: list[i].Seat}.Less(seatmap.Seat{Row: list[j].Row, Seat: list[j].Seat})
		})
	}
	return out, nil
}

func (s *Store) CountSold(ctx context.Context, flightID uint64) (int, error) {
	counts, err := s.CountSoldByFlights(ctx, []uint64{flightID})
	return counts[flightID], err
}

func (s *Store) CountSoldByFlights(ctx context.Context, flightIDs []uint64) (map[uint64]int, error) {
	want := make(map[uint64]bool, len(flightIDs))
	for _, id := range flightIDs {
		want[id] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uint64]int, len(flightIDs))
	for _, tk := range s.visibleTickets(txFrom(ctx)) {
		if want[tk.FlightID] {
			out[tk.FlightID]++
		}
	}
	return out, nil
}

func (s *Store) TakenSeats(ctx context.Context, flightID uint64) ([]seatmap.Seat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []seatmap.Seat
	for _, tk := range s.visibleTickets(txFrom(ctx)) {
		if tk.FlightID == flightID {
			out = append(out, seatmap.Seat{Row: tk.Row, Seat: tk.Seat})
		}
	}
	return seatmap.Sorted(out), nil
}

// ---- orders ----

func (s *Store) CreateOrderHeader(ctx context.Context, userID, flightID uint64) (model.Order, error) {
	var o model.Order
	err := s.autocommit(ctx, func(t *memTx) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.flights[flightID]; !ok {
			return booking.ErrFlightNotFound
		}
		s.orderSeq++
		now := s.Now()
		o = model.Order{ID: s.orderSeq, UserID: userID, FlightID: flightID, CreatedAt: now, UpdatedAt: now}
		t.newOrders[o.ID] = o
		t.held = append(t.held, orderLockKey(o.ID))
		ch := make(chan struct{}, 1)
		ch <- struct{}{}
		s.locks[orderLockKey(o.ID)] = ch
		return nil
	})
	return o, err
}

func (s *Store) LockForUpdate(ctx context.Context, orderID uint64, scope booking.Scope) (model.Order, error) {
	t := txFrom(ctx)
	if t == nil {
		return model.Order{}, ErrNoTx
	}
	if err := s.lock(ctx, t, orderLockKey(orderID)); err != nil {
		return model.Order{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.visibleOrder(t, orderID)
	if !ok || !inScope(o, scope) {
		return model.Order{}, booking.ErrOrderNotFound
	}
	return o, nil
}

func (s *Store) SetTotal(ctx context.Context, orderID uint64, total model.Money) error {
	return s.autocommit(ctx, func(t *memTx) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if o, ok := t.newOrders[orderID]; ok {
			o.TotalPrice = total
			t.newOrders[orderID] = o
			return nil
		}
		if _, ok := s.visibleOrder(t, orderID); !ok {
			return booking.ErrOrderNotFound
		}
		t.totals[orderID] = total
		return nil
	})
}

func (s *Store) Get(ctx context.Context, orderID uint64, scope booking.Scope) (model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.visibleOrder(txFrom(ctx), orderID)
	if !ok || !inScope(o, scope) {
		return model.Order{}, booking.ErrOrderNotFound
	}
	return o, nil
}

// List returns orders newest first.
func (s *Store) List(ctx context.Context, scope booking.Scope, limit, offset int) ([]model.Order, int64, error) {
	t := txFrom(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make(map[uint64]bool)
	for id := range s.orders {
		ids[id] = true
	}
	if t != nil {
		for id := range t.newOrders {
			ids[id] = true
		}
	}
	var all []model.Order
	for id := range ids {
		if o, ok := s.visibleOrder(t, id); ok && inScope(o, scope) {
			all = append(all, o)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})
	total := int64(len(all))
	if offset >= len(all) {
		return []model.Order{}, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (s *Store) Delete(ctx context.Context, orderID uint64, scope booking.Scope) error {
	return s.autocommit(ctx, func(t *memTx) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		o, ok := s.visibleOrder(t, orderID)
		if !ok || !inScope(o, scope) {
			return booking.ErrOrderNotFound
		}
		delete(t.newOrders, orderID)
		t.deletedOrders[orderID] = true
		t.clearedOrders[orderID] = true
		kept := t.newTickets[:0]
		for _, tk := range t.newTickets {
			if tk.OrderID != orderID {
				kept = append(kept, tk)
			}
		}
		t.newTickets = kept
		return nil
	})
}

func inScope(o model.Order, scope booking.Scope) bool {
	return scope.All || o.UserID == scope.UserID
}

// ---- inspection ----

// Tickets returns the committed tickets of a flight ordered by seat.
func (s *Store) Tickets(flightID uint64) []model.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Ticket
	for _, tk := range s.tickets {
		if tk.FlightID == flightID {
			out = append(out, tk)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return seatmap.Seat{Row: out[i].Row, Seat: out[i].Seat}.Less(seatmap.Seat{Row: out[j].Row, Seat: out[j].Seat})
	})
	return out
}

// OrderCount is the number of committed orders.
func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}
