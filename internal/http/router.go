package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cinetick/movie-bookings/internal/observability"
	"github.com/cinetick/movie-bookings/internal/rateLimit"
)

func SetupRouter(h *Handlers, logger observability.Logger, rl *rateLimit.RateLimiter, jwtSecret string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(MetricsMiddleware)
	r.Use(TracingMiddleware)

	r.Get("/v1/shows", h.ListShows)
	r.Get("/v1/shows/{id}", h.GetShow)
	r.Post("/v1/payments/callback", h.PaymentCallback)
	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwtSecret))
		r.Use(RateLimitMiddleware(rl))

		r.Post("/v1/shows", h.CreateShow)
		r.Post("/v1/shows/{id}/lock-seats", h.LockSeats)
		r.Post("/v1/shows/{id}/unlock-seats", h.UnlockSeats)
		r.With(IdempotencyKeyMiddleware).Post("/v1/bookings", h.CreateBooking)
		r.Get("/v1/bookings", h.ListBookings)
		r.Get("/v1/bookings/{id}", h.GetBooking)
		r.Put("/v1/bookings/{id}", h.UpdateBooking)
		r.Post("/v1/bookings/{id}/pay", h.PayBooking)
	})

	return r
}
