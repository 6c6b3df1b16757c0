package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Health answers liveness probes.  When a database is attached it is
// pinged and a failure turns the probe into 503.
func Health(db Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if db != nil {
			ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				return respondError(c, http.StatusServiceUnavailable, KindUnavailable, "database unreachable", nil)
			}
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	}
}
