package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
}

// HealthReport is the body of GET /health/db.
type HealthReport struct {
	Status       string       `json:"status"`
	Error        string       `json:"error,omitempty"`
	Pool         *PoolStats   `json:"pool"`
	Capabilities Capabilities `json:"capabilities"`
}

func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
		Healthy:         stat.TotalConns() > 0,
	}
}

func newHealthReport(stats *PoolStats, pingErr error, caps Capabilities) (int, HealthReport) {
	report := HealthReport{Status: "healthy", Pool: stats, Capabilities: caps}
	if pingErr != nil {
		stats.Healthy = false
		report.Status = "unhealthy"
		report.Error = pingErr.Error()
		return http.StatusServiceUnavailable, report
	}
	return http.StatusOK, report
}

// HealthHandler pings the database and reports pool statistics together with
// the optional modules detected at startup.
func HealthHandler(pool *pgxpool.Pool, caps Capabilities) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		err := pool.Ping(ctx)
		code, report := newHealthReport(GetPoolStats(pool), err, caps)
		return c.JSON(code, report)
	}
}
