// Command createadmin creates an ADMIN user, or promotes an existing user
// with the same email.  Public registration only creates customers.
//
//	createadmin -email root@example.com -password s3cret
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/iliyamo/airport-booking/internal/config"
	"github.com/iliyamo/airport-booking/internal/database"
	"github.com/iliyamo/airport-booking/internal/logger"
	"github.com/iliyamo/airport-booking/internal/model"
	"github.com/iliyamo/airport-booking/internal/repository"
)

func main() {
	email := flag.String("email", "", "admin email (required)")
	password := flag.String("password", os.Getenv("ADMIN_PASSWORD"), "admin password, defaults to $ADMIN_PASSWORD")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.New(cfg.Env, cfg.LogLevel)

	if *email == "" || len(*password) < 6 {
		flag.Usage()
		log.Fatal("email and a password of at least 6 characters are required")
	}

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.WithError(err).Fatal("open database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := database.Migrate(ctx, db, log); err != nil {
		log.WithError(err).Fatal("migrate database")
	}

	users := repository.NewUserRepo(log, db)
	id, err := users.Create(ctx, *email, *password, model.RoleAdmin, cfg.BcryptCost)
	switch {
	case err == nil:
		log.WithField("user_id", id).WithField("email", *email).Info("admin created")
	case errors.Is(err, repository.ErrEmailExists):
		if err := users.SetRole(ctx, *email, model.RoleAdmin); err != nil {
			log.WithError(err).Fatal("promote user")
		}
		log.WithField("email", *email).Info("existing user promoted to admin, password unchanged")
	default:
		log.WithError(err).Fatal("create admin")
	}
}
