package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/airport-booking/internal/booking"
	"github.com/iliyamo/airport-booking/internal/model"
)

// OrderRepo manages order headers.  Every read takes a booking.Scope; rows
// outside the scope are reported as booking.ErrOrderNotFound.
type OrderRepo struct {
	logger *logrus.Logger
	db     *sql.DB
}

func NewOrderRepo(logger *logrus.Logger, db *sql.DB) *OrderRepo {
	return &OrderRepo{logger: logger, db: db}
}

const orderColumns = `id, user_id, flight_id, total_price_cents, created_at, updated_at`

func scanOrder(row interface{ Scan(dest ...any) error }) (model.Order, error) {
	var o model.Order
	err := row.Scan(&o.ID, &o.UserID, &o.FlightID, &o.TotalPrice, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

// scopeClause narrows a WHERE clause to the caller's orders.
func scopeClause(scope booking.Scope) (string, []any) {
	if scope.All {
		return "", nil
	}
	return " AND user_id = ?", []any{scope.UserID}
}

// CreateOrderHeader inserts an order with a zero total; the caller sets the
// total once tickets exist.
func (r *OrderRepo) CreateOrderHeader(ctx context.Context, userID, flightID uint64) (model.Order, error) {
	db := cmd(ctx, r.db)
	res, err := db.ExecContext(ctx,
		`INSERT INTO orders (user_id, flight_id, total_price_cents) VALUES (?,?,0)`, userID, flightID)
	if err != nil {
		if mysqlNumber(err) == mysqlNoReferencedRow {
			return model.Order{}, booking.ErrFlightNotFound
		}
		r.logger.WithContext(ctx).WithError(err).Error("create order")
		return model.Order{}, fmt.Errorf("create order: %w", classifyLockError(err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Order{}, err
	}
	o, err := scanOrder(db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("reload order")
		return model.Order{}, fmt.Errorf("reload order: %w", err)
	}
	return o, nil
}

// LockForUpdate reads an order with an exclusive row lock.
func (r *OrderRepo) LockForUpdate(ctx context.Context, orderID uint64, scope booking.Scope) (model.Order, error) {
	tx := txFromContext(ctx)
	if tx == nil {
		return model.Order{}, errNoTx
	}
	clause, extra := scopeClause(scope)
	o, err := scanOrder(tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = ?`+clause+` FOR UPDATE`,
		append([]any{orderID}, extra...)...))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, booking.ErrOrderNotFound
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("order_id", orderID).Warn("lock order")
		return model.Order{}, fmt.Errorf("lock order: %w", classifyLockError(err))
	}
	return o, nil
}

func (r *OrderRepo) SetTotal(ctx context.Context, orderID uint64, total model.Money) error {
	res, err := cmd(ctx, r.db).ExecContext(ctx,
		`UPDATE orders SET total_price_cents = ? WHERE id = ?`, total.Cents(), orderID)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("set order total")
		return fmt.Errorf("set order total: %w", classifyLockError(err))
	}
	// MySQL reports zero affected rows when the value is unchanged, so a
	// missing row is only detected by the id check below.
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		if err := cmd(ctx, r.db).QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE id = ?`, orderID).Scan(&exists); err != nil {
			return fmt.Errorf("set order total: %w", err)
		}
		if exists == 0 {
			return booking.ErrOrderNotFound
		}
	}
	return nil
}

func (r *OrderRepo) Get(ctx context.Context, orderID uint64, scope booking.Scope) (model.Order, error) {
	clause, extra := scopeClause(scope)
	o, err := scanOrder(cmd(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = ?`+clause,
		append([]any{orderID}, extra...)...))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, booking.ErrOrderNotFound
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("get order")
		return model.Order{}, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// List returns a page of orders, newest first, and the total in scope.
func (r *OrderRepo) List(ctx context.Context, scope booking.Scope, limit, offset int) ([]model.Order, int64, error) {
	db := cmd(ctx, r.db)
	where, args := "", []any{}
	if !scope.All {
		where, args = " WHERE user_id = ?", []any{scope.UserID}
	}

	var total int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&total); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("count orders")
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders`+where+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("list orders")
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()
	out := make([]model.Order, 0, limit)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// Delete removes an order; tickets go with it through ON DELETE CASCADE.
func (r *OrderRepo) Delete(ctx context.Context, orderID uint64, scope booking.Scope) error {
	clause, extra := scopeClause(scope)
	res, err := cmd(ctx, r.db).ExecContext(ctx,
		`DELETE FROM orders WHERE id = ?`+clause, append([]any{orderID}, extra...)...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("delete order")
		return fmt.Errorf("delete order: %w", classifyLockError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return booking.ErrOrderNotFound
	}
	return nil
}
