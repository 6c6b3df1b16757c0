package config

import "time"

// BookingConfig tunes the seat reservation service.
type BookingConfig struct {
	MaxSeatsPerOrder int           // upper bound on one batch, <= 0 disables it
	TxAttempts       int           // tries per booking transaction on deadlock
	TxTimeout        time.Duration // deadline of one transaction attempt
}

func LoadBookingConfig() BookingConfig {
	cfg := BookingConfig{
		MaxSeatsPerOrder: envInt("BOOKING_MAX_SEATS_PER_ORDER", 100),
		TxAttempts:       envInt("BOOKING_TX_ATTEMPTS", 3),
		TxTimeout:        envDur("BOOKING_TX_TIMEOUT", 10*time.Second),
	}
	if cfg.TxAttempts < 1 {
		cfg.TxAttempts = 1
	}
	if cfg.TxTimeout <= 0 {
		cfg.TxTimeout = 10 * time.Second
	}
	return cfg
}
