// Package repository holds the MySQL implementations of the booking ports
// and the catalog, user and token stores.  Errors that higher layers must
// tell apart are returned as sentinels: booking errors come from the
// booking package, catalog and account errors are declared here.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/airport-booking/internal/booking"
)

// ErrEmailExists is returned when registering an email that is taken.
var ErrEmailExists = errors.New("email already exists")

// ErrFlightExists is returned when a flight with the same number already
// departs at the same time.  Handlers translate it into HTTP 409.
var ErrFlightExists = errors.New("This flight already exists in this time.")

// ErrAirplaneNotFound is returned when a flight references an unknown
// airplane.
var ErrAirplaneNotFound = errors.New("airplane not found")

// ErrRegistrationExists is returned when an airplane registration number
// is already in use.
var ErrRegistrationExists = errors.New("airplane registration already exists")

// MySQL server error numbers we act on.
const (
	mysqlDuplicateEntry  = 1062
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
	mysqlNoReferencedRow = 1452
)

func mysqlNumber(err error) uint16 {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number
	}
	return 0
}

// isDuplicate reports a unique key violation.
func isDuplicate(err error) bool { return mysqlNumber(err) == mysqlDuplicateEntry }

// classifyLockError maps deadlocks and lock wait timeouts to
// booking.ErrTransient so the service can retry the transaction.  Other
// errors are returned unchanged.
func classifyLockError(err error) error {
	switch mysqlNumber(err) {
	case mysqlDeadlock, mysqlLockWaitTimeout:
		return errors.Join(booking.ErrTransient, err)
	}
	return err
}
