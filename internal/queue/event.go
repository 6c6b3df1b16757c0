// Package queue defines message payloads exchanged over the message broker
// and the background consumer that journals them.
package queue

// Order event types, also used as AMQP message types.
const (
	EventOrderBooked    = "order.booked"
	EventOrderReplaced  = "order.replaced"
	EventOrderCancelled = "order.cancelled"
)

// OrderEvent is published after an order change has been committed.  It
// carries enough for downstream consumers to log, notify or feed
// analytics without querying the primary database.
type OrderEvent struct {
	EventID    string   `json:"event_id"`
	Type       string   `json:"type"`
	OrderID    uint64   `json:"order_id"`
	UserID     uint64   `json:"user_id"`
	FlightID   uint64   `json:"flight_id"`
	Seats      []string `json:"seats"`
	TotalPrice string   `json:"total_price"`
	OccurredAt string   `json:"occurred_at"`
}
