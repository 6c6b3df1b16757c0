package booking

import (
	"errors"
	"fmt"
	"strings"

	"github.com/iliyamo/airport-booking/internal/seatmap"
)

// Sentinel errors of the booking core.  Typed errors below match them via
// errors.Is so handlers only need one switch.
var (
	ErrValidation     = errors.New("validation error")
	ErrSeatConflict   = errors.New("seat already taken")
	ErrFlightNotFound = errors.New("flight not found")
	ErrOrderNotFound  = errors.New("order not found")
	ErrForbidden      = errors.New("forbidden")

	// ErrDuplicateSeat is raised by storage when the unique
	// (flight, row, seat) constraint rejects an insert.
	ErrDuplicateSeat = errors.New("duplicate seat on flight")
	// ErrTransient covers deadlocks and lock wait timeouts.  The whole
	// transaction may be retried.
	ErrTransient = errors.New("transient storage conflict")
)

// Problem codes reported inside a ValidationError.
const (
	CodeOutOfRangeRow  = "out_of_range_row"
	CodeOutOfRangeSeat = "out_of_range_seat"
	CodeDuplicateSeat  = "duplicate_seat"
	CodeEmptyBatch     = "empty_batch"
	CodeTooManySeats   = "too_many_seats"
	CodeFlightMismatch = "flight_mismatch"
)

// Problem is one field-addressable validation failure.
type Problem struct {
	Code    string           `json:"code"`
	Message string           `json:"message"`
	Seat    *seatmap.Seat    `json:"seat,omitempty"`
	Bounds  *seatmap.SeatMap `json:"bounds,omitempty"`
}

// ValidationError collects every problem found in a request, keyed by
// field ("seats[3]", "seats", "flight_id").  Keys keep insertion order so
// Error() is stable.
type ValidationError struct {
	Problems map[string][]Problem
	fields   []string
}

// SeatField is the key used for the seat at batch index i.
func SeatField(i int) string { return fmt.Sprintf("seats[%d]", i) }

// Add records a problem under field.
func (e *ValidationError) Add(field string, p Problem) {
	if e.Problems == nil {
		e.Problems = make(map[string][]Problem)
	}
	if _, ok := e.Problems[field]; !ok {
		e.fields = append(e.fields, field)
	}
	e.Problems[field] = append(e.Problems[field], p)
}

// Has reports whether field carries a problem with the given code.
func (e *ValidationError) Has(field, code string) bool {
	for _, p := range e.Problems[field] {
		if p.Code == code {
			return true
		}
	}
	return false
}

// Len is the number of fields with problems.
func (e *ValidationError) Len() int { return len(e.fields) }

// Fields returns the offending field keys in the order they were found.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.fields))
	for _, f := range e.fields {
		for _, p := range e.Problems[f] {
			parts = append(parts, f+": "+p.Message)
		}
	}
	return "validation error: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// orNil lets validators return a nil error interface when nothing was added.
func (e *ValidationError) orNil() error {
	if e.Len() == 0 {
		return nil
	}
	return e
}

// SeatConflictError names every requested seat that is already sold.
type SeatConflictError struct {
	FlightID uint64
	Seats    []seatmap.Seat
}

func (e *SeatConflictError) Error() string {
	labels := make([]string, len(e.Seats))
	for i, s := range e.Seats {
		labels[i] = s.String()
	}
	return fmt.Sprintf("seats already taken on flight %d: %s", e.FlightID, strings.Join(labels, ", "))
}

func (e *SeatConflictError) Is(target error) bool { return target == ErrSeatConflict }
