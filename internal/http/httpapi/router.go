package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"contentfactory/internal/http/handlers"
	"contentfactory/internal/middleware"
)

// Options configures the optional parts of the router.
type Options struct {
	Logger zerolog.Logger
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	// StaticDir is served under /static when set.
	StaticDir string
	// RateLimitPerMin throttles task creation per client IP; zero disables it.
	RateLimitPerMin int
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
	)

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/tasks", func(r chi.Router) {
		r.With(middleware.RateLimit(opts.RateLimitPerMin, time.Minute)).Post("/", app.CreateTask)
		r.Get("/{id}", app.GetTask)
		r.Get("/{id}/events", app.TaskEvents)
	})

	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	if opts.StaticDir != "" {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir))))
	}

	return r
}
