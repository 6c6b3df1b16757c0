package booking

import (
	"context"
	"fmt"

	"github.com/iliyamo/airport-booking/internal/model"
	"github.com/iliyamo/airport-booking/internal/seatmap"
)

// Transactor is the check-then-insert step of a booking.  It never opens
// a transaction itself: the caller runs Reserve inside TxRunner.WithTx so
// the row locks taken by the probe are held until commit or rollback.
type Transactor struct {
	tickets TicketStore
}

func NewTransactor(tickets TicketStore) *Transactor {
	return &Transactor{tickets: tickets}
}

// Reserve locks the candidate seats, re-checks them and inserts one ticket
// per seat at the flight price.  If any seat is taken nothing is written
// and a *SeatConflictError lists every taken seat in request order.
//
// Both the probe and the insert walk the seats in (row, seat) order, so two
// overlapping batches take their record locks in the same order.  Tickets
// come back in that order too.
func (t *Transactor) Reserve(ctx context.Context, flight FlightSeatMap, orderID uint64, seats []seatmap.Seat) ([]model.Ticket, error) {
	if len(seats) == 0 {
		return nil, nil
	}
	ordered := seatmap.Sorted(seats)

	taken, err := t.tickets.LockAndProbe(ctx, flight.FlightID, ordered)
	if err != nil {
		return nil, err
	}
	if len(taken) > 0 {
		takenSet := make(map[seatmap.Seat]struct{}, len(taken))
		for _, s := range taken {
			takenSet[s] = struct{}{}
		}
		clashes := make([]seatmap.Seat, 0, len(taken))
		for _, s := range seats {
			if _, ok := takenSet[s]; ok {
				clashes = append(clashes, s)
			}
		}
		return nil, &SeatConflictError{FlightID: flight.FlightID, Seats: clashes}
	}

	drafts := make([]TicketDraft, len(ordered))
	for i, s := range ordered {
		drafts[i] = TicketDraft{Row: s.Row, Seat: s.Seat, Price: flight.Price}
	}
	ids, err := t.tickets.PersistTickets(ctx, orderID, flight.FlightID, drafts)
	if err != nil {
		return nil, err
	}
	if len(ids) != len(drafts) {
		return nil, fmt.Errorf("persist tickets: got %d ids for %d tickets", len(ids), len(drafts))
	}

	out := make([]model.Ticket, len(drafts))
	for i, d := range drafts {
		out[i] = model.Ticket{
			ID:       ids[i],
			OrderID:  orderID,
			FlightID: flight.FlightID,
			Row:      d.Row,
			Seat:     d.Seat,
			Price:    d.Price,
		}
	}
	return out, nil
}
