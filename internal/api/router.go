package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/gigchat/internal/api/middleware"
	"github.com/eldtechnologies/gigchat/internal/handlers"
	"github.com/eldtechnologies/gigchat/internal/realtime"
	"github.com/eldtechnologies/gigchat/internal/store"
)

// RouterConfig holds the dependencies of the HTTP router.
type RouterConfig struct {
	Store          store.DataStore
	Redis          *store.RedisStore // nil disables rate limiting
	Hub            *realtime.Hub
	Fanout         *realtime.Channel
	Binder         *realtime.Binder
	AllowedOrigins []string
	RateLimit      middleware.RateLimiterConfig
}

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(16 * 1024)) // 16KB max body
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting needs Redis
	if client := cfg.Redis.Client(); client != nil {
		limiter := middleware.NewRateLimiter(client, logger, cfg.RateLimit)
		r.Use(limiter.Middleware)
	}

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(handlers.Options{
		Store:          cfg.Store,
		Redis:          cfg.Redis,
		Hub:            cfg.Hub,
		Fanout:         cfg.Fanout,
		Binder:         cfg.Binder,
		AllowedOrigins: origins,
		Logger:         logger,
	})

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/api", h.Root)
	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)

	r.Route("/api/messages", func(r chi.Router) {
		r.Post("/", h.SendMessage)
		r.Put("/read", h.MarkRead)
		r.Get("/{contextID}/{userA}/{userB}", h.History)
	})
	r.Get("/api/conversations/{userID}", h.Conversations)

	// Realtime channels
	r.Get("/ws/messages", h.MessagesSocket)
	r.Get("/ws/notifications", h.NotificationsSocket)

	return r
}
