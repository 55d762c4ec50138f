package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats is a snapshot of the connection pool for the health endpoint.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
}

// HealthReport is the /health/db response body.
type HealthReport struct {
	Status        string     `json:"status"`
	Error         string     `json:"error,omitempty"`
	TenantSchemas int        `json:"tenant_schemas"`
	Pool          *PoolStats `json:"pool"`
}

// GetPoolStats snapshots the pool counters.
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

// HealthHandler serves the database health check: a bounded ping plus pool
// counters and the number of provisioned tenant schemas.
func HealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		stats := GetPoolStats(pool)

		if err := pool.Ping(ctx); err != nil {
			stats.Healthy = false
			return c.JSON(http.StatusServiceUnavailable, HealthReport{
				Status: "unhealthy",
				Error:  err.Error(),
				Pool:   stats,
			})
		}

		report := HealthReport{Status: "healthy", Pool: stats}
		// Schema count is informational; a listing failure does not flip the check.
		if schemas, err := ListTenantSchemas(ctx, pool); err == nil {
			report.TenantSchemas = len(schemas)
		}
		return c.JSON(http.StatusOK, report)
	}
}
