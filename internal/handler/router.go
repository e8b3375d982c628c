package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

const serviceName = "otp-auth-service"

// HealthChecker reports per-dependency health; a nil error means healthy.
type HealthChecker interface {
	HealthCheck(ctx context.Context) map[string]error
}

// RouterConfig holds the transport settings taken from config.
type RouterConfig struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
	RequireHTTPS   bool
}

// NewRouter creates and configures the Chi router with all middleware and routes
func NewRouter(cfg RouterConfig, authHandler *AuthHandler, health HealthChecker, logger *zap.Logger) chi.Router {
	router := chi.NewRouter()

	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(LoggerMiddleware(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(cfg.RequestTimeout))

	// Cookies carry the session, so credentials are allowed and origins
	// must be listed explicitly.
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Retry-After", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	rs := responder{logger: logger}
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status, body := healthReport(r.Context(), health)
		rs.respondWithJSON(w, status, body)
	})

	// Health checks stay reachable over plain HTTP inside the cluster.
	router.Group(func(r chi.Router) {
		if cfg.RequireHTTPS {
			r.Use(requireHTTPS)
		}
		authHandler.RegisterRoutes(r)
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		rs.respondWithJSON(w, http.StatusNotFound, Response{Error: "endpoint not found"})
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		rs.respondWithJSON(w, http.StatusMethodNotAllowed, Response{Error: "method not allowed"})
	})

	return router
}

type healthBody struct {
	Status  string            `json:"status"`
	Service string            `json:"service"`
	Checks  map[string]string `json:"checks"`
	Failing []string          `json:"failing,omitempty"`
}

func healthReport(ctx context.Context, health HealthChecker) (int, healthBody) {
	body := healthBody{Status: "healthy", Service: serviceName, Checks: map[string]string{}}
	if health == nil {
		return http.StatusOK, body
	}

	for name, err := range health.HealthCheck(ctx) {
		if err != nil {
			body.Checks[name] = err.Error()
			body.Failing = append(body.Failing, name)
			continue
		}
		body.Checks[name] = "ok"
	}
	if len(body.Failing) > 0 {
		sort.Strings(body.Failing)
		body.Status = "degraded"
		return http.StatusServiceUnavailable, body
	}
	return http.StatusOK, body
}
