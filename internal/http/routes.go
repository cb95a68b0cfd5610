package httpx

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/mediaforge/transcoder/internal/service"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Jobs *service.JobService

	// Backing stores for readiness checks. Either may be nil in tests.
	DB          *sql.DB
	RedisClient redis.UniversalClient

	Logger *slog.Logger
}

// NewRouter creates and configures a new HTTP router.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	registerJobRoutes(mux, &JobHandlers{Svc: services.Jobs})

	readiness := &ReadinessHandlers{DB: services.DB, RedisClient: services.RedisClient}
	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))
	mux.HandleFunc("GET /readyz", readiness.Ready)

	return mux
}
