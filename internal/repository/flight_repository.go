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

// FlightRepo reads and writes the `airplanes` and `flights` tables.  It is
// the booking core's FlightStore and the catalog behind the flight
// endpoints.
type FlightRepo struct {
	logger *logrus.Logger
	db     *sql.DB
}

func NewFlightRepo(logger *logrus.Logger, db *sql.DB) *FlightRepo {
	return &FlightRepo{logger: logger, db: db}
}

const flightColumns = `
	f.id, f.airplane_id, a.name, f.flight_number, f.departure_time, f.arrival_time,
	f.price_cents, a.seat_rows, a.seats_in_row, f.created_at`

func scanFlight(row interface{ Scan(dest ...any) error }) (model.Flight, error) {
	var f model.Flight
	err := row.Scan(&f.ID, &f.AirplaneID, &f.AirplaneName, &f.FlightNumber, &f.DepartureTime,
		&f.ArrivalTime, &f.Price, &f.Rows, &f.SeatsInRow, &f.CreatedAt)
	return f, err
}

// GetSeatMap returns the seat bounds and price of a flight.
func (r *FlightRepo) GetSeatMap(ctx context.Context, flightID uint64) (booking.FlightSeatMap, error) {
	var out booking.FlightSeatMap
	err := cmd(ctx, r.db).QueryRowContext(ctx, `
		SELECT f.id, a.seat_rows, a.seats_in_row, f.price_cents
		FROM flights f
		JOIN airplanes a ON a.id = f.airplane_id
		WHERE f.id = ?`, flightID).
		Scan(&out.FlightID, &out.SeatMap.Rows, &out.SeatMap.SeatsInRow, &out.Price)
	if errors.Is(err, sql.ErrNoRows) {
		return booking.FlightSeatMap{}, booking.ErrFlightNotFound
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("get seat map")
		return booking.FlightSeatMap{}, fmt.Errorf("get seat map: %w", err)
	}
	return out, nil
}

// GetFlight fetches one flight with its airplane geometry.
func (r *FlightRepo) GetFlight(ctx context.Context, id uint64) (model.Flight, error) {
	f, err := scanFlight(cmd(ctx, r.db).QueryRowContext(ctx, `
		SELECT`+flightColumns+`
		FROM flights f
		JOIN airplanes a ON a.id = f.airplane_id
		WHERE f.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Flight{}, booking.ErrFlightNotFound
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("get flight")
		return model.Flight{}, fmt.Errorf("get flight: %w", err)
	}
	return f, nil
}

// ListFlights pages flights ordered by departure time and returns the
// total count.
func (r *FlightRepo) ListFlights(ctx context.Context, limit, offset int) ([]model.Flight, int64, error) {
	db := cmd(ctx, r.db)
	var total int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM flights`).Scan(&total); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("count flights")
		return nil, 0, fmt.Errorf("count flights: %w", err)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT`+flightColumns+`
		FROM flights f
		JOIN airplanes a ON a.id = f.airplane_id
		ORDER BY f.departure_time, f.id
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("list flights")
		return nil, 0, fmt.Errorf("list flights: %w", err)
	}
	defer rows.Close()

	out := make([]model.Flight, 0, limit)
	for rows.Next() {
		f, err := scanFlight(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan flight: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// CreateAirplane inserts a and sets its ID.
func (r *FlightRepo) CreateAirplane(ctx context.Context, a *model.Airplane) error {
	var reg sql.NullString
	if a.RegistrationNumber != "" {
		reg = sql.NullString{String: a.RegistrationNumber, Valid: true}
	}
	res, err := cmd(ctx, r.db).ExecContext(ctx,
		`INSERT INTO airplanes (name, registration_number, seat_rows, seats_in_row) VALUES (?,?,?,?)`,
		a.Name, reg, a.Rows, a.SeatsInRow)
	if err != nil {
		if isDuplicate(err) {
			return ErrRegistrationExists
		}
		r.logger.WithContext(ctx).WithError(err).Error("create airplane")
		return fmt.Errorf("create airplane: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	a.ID = uint64(id)
	a.IsActive = true
	return nil
}

// CreateFlight inserts f and reloads it so the airplane columns are set.
func (r *FlightRepo) CreateFlight(ctx context.Context, f *model.Flight) error {
	res, err := cmd(ctx, r.db).ExecContext(ctx,
		`INSERT INTO flights (airplane_id, flight_number, departure_time, arrival_time, price_cents) VALUES (?,?,?,?,?)`,
		f.AirplaneID, f.FlightNumber, f.DepartureTime.UTC(), f.ArrivalTime.UTC(), f.Price.Cents())
	if err != nil {
		switch mysqlNumber(err) {
		case mysqlDuplicateEntry:
			return ErrFlightExists
		case mysqlNoReferencedRow:
			return ErrAirplaneNotFound
		}
		r.logger.WithContext(ctx).WithError(err).Error("create flight")
		return fmt.Errorf("create flight: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	created, err := r.GetFlight(ctx, uint64(id))
	if err != nil {
		return err
	}
	*f = created
	return nil
}
