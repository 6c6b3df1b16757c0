package booking_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/airport-booking/internal/booking"
	"github.com/iliyamo/airport-booking/internal/model"
	"github.com/iliyamo/airport-booking/internal/seatmap"
	"github.com/iliyamo/airport-booking/internal/testutil"
)

func reserve(t *testing.T, store *testutil.Store, flight booking.FlightSeatMap, userID uint64, seats ...seatmap.Seat) ([]model.Ticket, error) {
	t.Helper()
	tr := booking.NewTransactor(store)
	var out []model.Ticket
	err := store.WithTx(context.Background(), func(ctx context.Context) error {
		order, err := store.CreateOrderHeader(ctx, userID, flight.FlightID)
		if err != nil {
			return err
		}
		out, err = tr.Reserve(ctx, flight, order.ID, seats)
		return err
	})
	return out, err
}

func TestTransactorReserveCopiesFlightPrice(t *testing.T) {
	store := testutil.NewStore()
	f := store.AddFlight(10, 10, model.Money(12550))
	sm, err := store.GetSeatMap(context.Background(), f.ID)
	require.NoError(t, err)

	tickets, err := reserve(t, store, sm, 1, seatmap.Seat{Row: 2, Seat: 1}, seatmap.Seat{Row: 1, Seat: 1})

	require.NoError(t, err)
	require.Len(t, tickets, 2)
	for _, tk := range tickets {
		assert.Equal(t, model.Money(12550), tk.Price)
		assert.Equal(t, f.ID, tk.FlightID)
		assert.NotZero(t, tk.ID)
	}
	assert.Equal(t, 1, tickets[0].Row, "tickets are inserted in seat order")
	assert.Equal(t, 2, tickets[1].Row)
	assert.Len(t, store.Tickets(f.ID), 2)
}

func TestTransactorReserveConflictWritesNothing(t *testing.T) {
	store := testutil.NewStore()
	f := store.AddFlight(10, 10, model.Money(10000))
	sm, _ := store.GetSeatMap(context.Background(), f.ID)
	_, err := reserve(t, store, sm, 1, seatmap.Seat{Row: 4, Seat: 4}, seatmap.Seat{Row: 1, Seat: 2})
	require.NoError(t, err)

	_, err = reserve(t, store, sm, 2,
		seatmap.Seat{Row: 9, Seat: 9},
		seatmap.Seat{Row: 4, Seat: 4},
		seatmap.Seat{Row: 1, Seat: 2},
	)

	require.ErrorIs(t, err, booking.ErrSeatConflict)
	var conflict *booking.SeatConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, []seatmap.Seat{{Row: 4, Seat: 4}, {Row: 1, Seat: 2}}, conflict.Seats)
	assert.Equal(t, f.ID, conflict.FlightID)
	assert.Len(t, store.Tickets(f.ID), 2)
	assert.Equal(t, 1, store.OrderCount())
}

func TestTransactorReserveNoSeats(t *testing.T) {
	store := testutil.NewStore()
	tickets, err := booking.NewTransactor(store).Reserve(context.Background(), booking.FlightSeatMap{FlightID: 1}, 1, nil)

	assert.NoError(t, err)
	assert.Empty(t, tickets)
}
