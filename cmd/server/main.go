package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/iliyamo/airport-booking/internal/booking"
	"github.com/iliyamo/airport-booking/internal/config"
	"github.com/iliyamo/airport-booking/internal/database"
	"github.com/iliyamo/airport-booking/internal/handler"
	"github.com/iliyamo/airport-booking/internal/logger"
	"github.com/iliyamo/airport-booking/internal/middleware"
	"github.com/iliyamo/airport-booking/internal/queue"
	"github.com/iliyamo/airport-booking/internal/repository"
	"github.com/iliyamo/airport-booking/internal/router"
	"github.com/iliyamo/airport-booking/internal/service"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = godotenv.Load() // .env is optional; real env wins

	cfg := config.Load()
	log := logger.New(cfg.Env, cfg.LogLevel)

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.WithError(err).Fatal("open database")
	}
	defer db.Close()

	if err := database.Migrate(context.Background(), db, log); err != nil {
		log.WithError(err).Fatal("migrate database")
	}

	rdb := config.NewRedisClient(log) // nil disables cache and rate limit
	if rdb != nil {
		defer rdb.Close()
	}

	flights := repository.NewFlightRepo(log, db)
	tickets := repository.NewTicketRepo(log, db)
	orders := repository.NewOrderRepo(log, db)

	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	broker := config.LoadBrokerConfig()
	var publisher booking.EventPublisher
	if broker.URL != "" {
		p := service.NewPublisher(log, broker.URL, broker.OrderQueue)
		defer p.Close()
		publisher = p

		consumer := queue.NewConsumer(log, broker.URL, broker.OrderQueue, broker.LogDir)
		go func() {
			if err := consumer.Run(stopCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("order consumer stopped")
			}
		}()
	} else {
		log.Warn("RABBITMQ_URL not set, order events are not published")
	}

	bc := config.LoadBookingConfig()
	svc := booking.NewService(booking.ServiceProperty{
		Logger: log,
		Config: booking.Config{
			MaxSeatsPerOrder: bc.MaxSeatsPerOrder,
			TxAttempts:       bc.TxAttempts,
			TxTimeout:        bc.TxTimeout,
		},
		Tx:        repository.NewTxManager(log, db),
		Flights:   flights,
		Tickets:   tickets,
		Orders:    orders,
		Publisher: publisher,
	})

	flightHandler := handler.NewFlightHandler(log, flights, svc)
	authHandler := handler.NewAuthHandler(cfg, log, repository.NewUserRepo(log, db), repository.NewTokenRepo(log, db))

	e := router.NewEcho(log)
	router.RegisterRoutes(e, db)
	router.RegisterAuth(e, authHandler, cfg.JWTSecret)
	router.RegisterFlights(e, flightHandler, cfg.JWTSecret, middleware.NewRedisCache(config.LoadCacheConfig(), rdb, log))
	router.RegisterAdmin(e, flightHandler, cfg.JWTSecret)
	router.RegisterOrders(e, handler.NewOrderHandler(log, svc), cfg.JWTSecret, middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, log))

	addr := ":" + cfg.Port
	srvErr := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).WithField("env", cfg.Env).Info("listening")
		srvErr <- e.Start(addr)
	}()

	select {
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("server error")
		}
	case <-stopCtx.Done():
		log.Info("shutdown signal received, stopping server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Error("server shutdown")
	}
	log.Info("server stopped")
}
