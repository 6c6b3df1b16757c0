// Package seatmap describes the physical seat grid of an airplane.  A seat
// is addressed by a one-based (row, seat) pair; the grid is the rectangle
// rows x seats_in_row taken from the airplane assigned to a flight.
package seatmap

import (
	"fmt"
	"sort"
)

// SeatMap is the rectangular bound of valid coordinates on one airplane.
type SeatMap struct {
	Rows       int `json:"rows"`
	SeatsInRow int `json:"seats_in_row"`
}

// Seat is a single coordinate on a seat map.
type Seat struct {
	Row  int `json:"row"`
	Seat int `json:"seat"`
}

// IsValidRow reports whether 1 <= row <= rows.
func IsValidRow(row, rows int) bool {
	return row >= 1 && row <= rows
}

// IsValidSeat reports whether 1 <= seat <= seatsInRow.
func IsValidSeat(seat, seatsInRow int) bool {
	return seat >= 1 && seat <= seatsInRow
}

// Contains reports whether both coordinates of s lie inside the map.
func (m SeatMap) Contains(s Seat) bool {
	return IsValidRow(s.Row, m.Rows) && IsValidSeat(s.Seat, m.SeatsInRow)
}

// Capacity is the number of seats on the map.  Degenerate maps have none.
func (m SeatMap) Capacity() int {
	if m.Rows < 1 || m.SeatsInRow < 1 {
		return 0
	}
	return m.Rows * m.SeatsInRow
}

// Less orders seats row-major.
func (s Seat) Less(o Seat) bool {
	if s.Row != o.Row {
		return s.Row < o.Row
	}
	return s.Seat < o.Seat
}

func (s Seat) String() string {
	return fmt.Sprintf("(%d,%d)", s.Row, s.Seat)
}

// Label renders a seat the way boarding passes do: row number followed by
// a seat letter, e.g. (12,3) -> "12C".  Seats past Z continue AA, AB, ...
func (s Seat) Label() string {
	return fmt.Sprintf("%d%s", s.Row, seatLetters(s.Seat-1))
}

// seatLetters converts a zero-based index to A, B, ..., Z, AA, AB.
func seatLetters(i int) string {
	if i < 0 {
		return ""
	}
	var res []byte
	for {
		res = append(res, byte('A'+i%26))
		i = i/26 - 1
		if i < 0 {
			break
		}
	}
	for j, k := 0, len(res)-1; j < k; j, k = j+1, k-1 {
		res[j], res[k] = res[k], res[j]
	}
	return string(res)
}

// Sorted returns a row-major sorted copy of seats.  Callers that take row
// locks sort first so overlapping batches lock in the same order.
func Sorted(seats []Seat) []Seat {
	out := make([]Seat, len(seats))
	copy(out, seats)
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
