package booking

import (
	"fmt"

	"github.com/iliyamo/airport-booking/internal/seatmap"
)

// SeatRequest is one client-submitted seat coordinate.
type SeatRequest struct {
	Row  int
	Seat int
}

// ValidateBatch checks a submitted batch against the seat map before any
// storage is touched.  It returns the seats in request order or a
// *ValidationError carrying every problem keyed by batch index.  maxSeats
// <= 0 disables the batch size limit.  Availability is not checked here.
func ValidateBatch(m seatmap.SeatMap, reqs []SeatRequest, maxSeats int) ([]seatmap.Seat, error) {
	verr := &ValidationError{}
	if len(reqs) == 0 {
		verr.Add("seats", Problem{Code: CodeEmptyBatch, Message: "at least one seat is required"})
		return nil, verr
	}
	if maxSeats > 0 && len(reqs) > maxSeats {
		verr.Add("seats", Problem{
			Code:    CodeTooManySeats,
			Message: fmt.Sprintf("at most %d seats may be booked in one order, got %d", maxSeats, len(reqs)),
		})
	}

	bounds := m
	seen := make(map[seatmap.Seat]struct{}, len(reqs))
	out := make([]seatmap.Seat, 0, len(reqs))
	for i, r := range reqs {
		s := seatmap.Seat{Row: r.Row, Seat: r.Seat}
		field := SeatField(i)
		if !seatmap.IsValidRow(r.Row, m.Rows) {
			verr.Add(field, Problem{
				Code:    CodeOutOfRangeRow,
				Message: fmt.Sprintf("row must be in range [1, %d], not %d", m.Rows, r.Row),
				Seat:    &s,
				Bounds:  &bounds,
			})
		}
		if !seatmap.IsValidSeat(r.Seat, m.SeatsInRow) {
			verr.Add(field, Problem{
				Code:    CodeOutOfRangeSeat,
				Message: fmt.Sprintf("seat must be in range [1, %d], not %d", m.SeatsInRow, r.Seat),
				Seat:    &s,
				Bounds:  &bounds,
			})
		}
		if _, dup := seen[s]; dup {
			verr.Add(field, Problem{
				Code:    CodeDuplicateSeat,
				Message: fmt.Sprintf("duplicate seat in request at index %d: %s", i, s),
				Seat:    &s,
			})
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}
	return out, nil
}
