package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/airport-booking/internal/booking"
	"github.com/iliyamo/airport-booking/internal/model"
	"github.com/iliyamo/airport-booking/internal/seatmap"
)

var errNoTx = errors.New("locking read outside transaction")

// TicketRepo manages the `tickets` table.  The unique key on
// (flight_id, seat_row, seat_number) backs the row-lock probe.
type TicketRepo struct {
	logger *logrus.Logger
	db     *sql.DB
}

func NewTicketRepo(logger *logrus.Logger, db *sql.DB) *TicketRepo {
	return &TicketRepo{logger: logger, db: db}
}

// seatTuples renders "(?,?),(?,?)" for a row constructor IN list.
func seatTuples(seats []seatmap.Seat) (string, []any) {
	args := make([]any, 0, 2*len(seats))
	parts := make([]string, len(seats))
	for i, s := range seats {
		parts[i] = "(?,?)"
		args = append(args, s.Row, s.Seat)
	}
	return strings.Join(parts, ","), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// LockAndProbe runs a locking read over the candidate seats and returns the
// ones already sold.  At READ COMMITTED InnoDB locks only the ticket rows
// it finds, so two transactions can both see a free seat.  The unique
// (flight_id, seat_row, seat_number) key settles that race: the second
// insert waits for the first, fails with a duplicate key once it commits,
// and the booking retry probes again and reports the seat as taken.
func (r *TicketRepo) LockAndProbe(ctx context.Context, flightID uint64, seats []seatmap.Seat) ([]seatmap.Seat, error) {
	tx := txFromContext(ctx)
	if tx == nil {
		return nil, errNoTx
	}
	if len(seats) == 0 {
		return nil, nil
	}
	tuples, seatArgs := seatTuples(seats)
	args := append([]any{flightID}, seatArgs...)
	rows, err := tx.QueryContext(ctx, `
		SELECT seat_row, seat_number
		FROM tickets
		WHERE flight_id = ? AND (seat_row, seat_number) IN (`+tuples+`)
		ORDER BY seat_row, seat_number
		FOR UPDATE`, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("flight_id", flightID).Warn("lock seats")
		return nil, fmt.Errorf("lock seats: %w", classifyLockError(err))
	}
	defer rows.Close()

	var taken []seatmap.Seat
	for rows.Next() {
		var s seatmap.Seat
		if err := rows.Scan(&s.Row, &s.Seat); err != nil {
			return nil, fmt.Errorf("scan seat: %w", err)
		}
		taken = append(taken, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lock seats: %w", classifyLockError(err))
	}
	return taken, nil
}

// PersistTickets inserts all drafts with one statement and returns their
// ids in draft order.
func (r *TicketRepo) PersistTickets(ctx context.Context, orderID, flightID uint64, drafts []booking.TicketDraft) ([]uint64, error) {
	if len(drafts) == 0 {
		return nil, nil
	}
	db := cmd(ctx, r.db)

	values := make([]string, len(drafts))
	args := make([]any, 0, 5*len(drafts))
	for i, d := range drafts {
		values[i] = "(?,?,?,?,?)"
		args = append(args, orderID, flightID, d.Row, d.Seat, d.Price.Cents())
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO tickets (order_id, flight_id, seat_row, seat_number, price_cents) VALUES `+strings.Join(values, ","),
		args...); err != nil {
		if isDuplicate(err) {
			return nil, errors.Join(booking.ErrDuplicateSeat, err)
		}
		r.logger.WithContext(ctx).WithError(err).WithField("order_id", orderID).Error("insert tickets")
		return nil, fmt.Errorf("insert tickets: %w", classifyLockError(err))
	}

	// Auto-increment ids of a multi-row insert are not guaranteed to be
	// consecutive, so read them back by seat.
	rows, err := db.QueryContext(ctx,
		`SELECT id, seat_row, seat_number FROM tickets WHERE order_id = ?`, orderID)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("order_id", orderID).Error("read ticket ids")
		return nil, fmt.Errorf("read ticket ids: %w", err)
	}
	defer rows.Close()
	bySeat := make(map[seatmap.Seat]uint64, len(drafts))
	for rows.Next() {
		var (
			id uint64
			s  seatmap.Seat
		)
		if err := rows.Scan(&id, &s.Row, &s.Seat); err != nil {
			return nil, fmt.Errorf("scan ticket id: %w", err)
		}
		bySeat[s] = id
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ids := make([]uint64, len(drafts))
	for i, d := range drafts {
		id, ok := bySeat[seatmap.Seat{Row: d.Row, Seat: d.Seat}]
		if !ok {
			return nil, fmt.Errorf("ticket (%d,%d) of order %d not found after insert", d.Row, d.Seat, orderID)
		}
		ids[i] = id
	}
	return ids, nil
}

// DeleteByOrder removes every ticket of an order and reports how many.
func (r *TicketRepo) DeleteByOrder(ctx context.Context, orderID uint64) (int64, error) {
	res, err := cmd(ctx, r.db).ExecContext(ctx, `DELETE FROM tickets WHERE order_id = ?`, orderID)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("order_id", orderID).Error("delete tickets")
		return 0, fmt.Errorf("delete tickets: %w", classifyLockError(err))
	}
	return res.RowsAffected()
}

// ListByOrders groups the tickets of several orders, each list ordered by
// (row, seat).
func (r *TicketRepo) ListByOrders(ctx context.Context, orderIDs []uint64) (map[uint64][]model.Ticket, error) {
	out := make(map[uint64][]model.Ticket, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}
	args := make([]any, len(orderIDs))
	for i, id := range orderIDs {
		args[i] = id
	}
	rows, err := cmd(ctx, r.db).QueryContext(ctx, `
		SELECT id, order_id, flight_id, seat_row, seat_number, price_cents, created_at
		FROM tickets
		WHERE order_id IN (`+placeholders(len(orderIDs))+`)
		ORDER BY order_id, seat_row, seat_number`, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("list tickets")
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var t model.Ticket
		if err := rows.Scan(&t.ID, &t.OrderID, &t.FlightID, &t.Row, &t.Seat, &t.Price, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		out[t.OrderID] = append(out[t.OrderID], t)
	}
	return out, rows.Err()
}

// CountSold is a plain, unlocked count for display.
func (r *TicketRepo) CountSold(ctx context.Context, flightID uint64) (int, error) {
	var n int
	if err := cmd(ctx, r.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tickets WHERE flight_id = ?`, flightID).Scan(&n); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("count sold")
		return 0, fmt.Errorf("count sold: %w", err)
	}
	return n, nil
}

func (r *TicketRepo) CountSoldByFlights(ctx context.Context, flightIDs []uint64) (map[uint64]int, error) {
	out := make(map[uint64]int, len(flightIDs))
	if len(flightIDs) == 0 {
		return out, nil
	}
	args := make([]any, len(flightIDs))
	for i, id := range flightIDs {
		args[i] = id
	}
	rows, err := cmd(ctx, r.db).QueryContext(ctx, `
		SELECT flight_id, COUNT(*)
		FROM tickets
		WHERE flight_id IN (`+placeholders(len(flightIDs))+`)
		GROUP BY flight_id`, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("count sold by flights")
		return nil, fmt.Errorf("count sold by flights: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id uint64
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[id] = n
	}
	return out, rows.Err()
}

// TakenSeats lists sold seats of a flight in (row, seat) order.
func (r *TicketRepo) TakenSeats(ctx context.Context, flightID uint64) ([]seatmap.Seat, error) {
	rows, err := cmd(ctx, r.db).QueryContext(ctx, `
		SELECT seat_row, seat_number
		FROM tickets
		WHERE flight_id = ?
		ORDER BY seat_row, seat_number`, flightID)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("taken seats")
		return nil, fmt.Errorf("taken seats: %w", err)
	}
	defer rows.Close()
	out := []seatmap.Seat{}
	for rows.Next() {
		var s seatmap.Seat
		if err := rows.Scan(&s.Row, &s.Seat); err != nil {
			return nil, fmt.Errorf("scan seat: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
