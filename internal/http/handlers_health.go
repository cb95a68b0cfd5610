package httpx

import (
	"context"
	"database/sql"
	"io"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

const healthResponse = `{"status":"ok"}`

const readinessTimeout = 2 * time.Second

// healthHandler returns a simple 200 OK status for liveness checks.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.WriteString(w, healthResponse); err != nil {
		// Nothing more to do if the client connection is gone.
		return
	}
}

// ReadinessHandlers pings the process's backing stores for readiness checks.
type ReadinessHandlers struct {
	DB          *sql.DB
	RedisClient redis.UniversalClient
}

// Ready reports 200 when both Postgres and Redis answer a ping.
func (h *ReadinessHandlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	checks := map[string]string{"postgres": "ok", "redis": "ok"}
	healthy := true

	if h.DB != nil {
		if err := h.DB.PingContext(ctx); err != nil {
			checks["postgres"] = err.Error()
			healthy = false
		}
	}
	if h.RedisClient != nil {
		if err := h.RedisClient.Ping(ctx).Err(); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		}
	}

	code := http.StatusOK
	status := "ok"
	if !healthy {
		code = http.StatusServiceUnavailable
		status = "degraded"
	}
	WriteJSON(w, code, map[string]any{"status": status, "checks": checks})
}
