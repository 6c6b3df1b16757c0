package config

import "os"

// BrokerConfig locates the RabbitMQ broker and names the queue order
// events are published to.  An empty URL disables publishing and the
// journal consumer.
type BrokerConfig struct {
	URL        string
	OrderQueue string
	LogDir     string // directory of the booking journal written by the consumer
}

// LoadBrokerConfig reads RABBITMQ_URL, falling back to AMQP_URL.
func LoadBrokerConfig() BrokerConfig {
	url := os.Getenv("RABBITMQ_URL")
	if url == "" {
		url = os.Getenv("AMQP_URL")
	}
	return BrokerConfig{
		URL:        url,
		OrderQueue: envStr("ORDER_EVENTS_QUEUE", "order_events"),
		LogDir:     envStr("BOOKING_LOG_DIR", "logs"),
	}
}
