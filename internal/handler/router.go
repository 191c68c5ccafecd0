package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

// NewRouter builds the chi router with the middleware stack and all routes.
func NewRouter(h *RegistrationHandler, log *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(Logger(log))
	r.Use(middleware.Recoverer)
	r.Use(CORS)
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.NotFound(NotFound)
	r.MethodNotAllowed(MethodNotAllowed)

	r.Get("/health", HealthCheck)

	r.Route("/distances", func(r chi.Router) {
		r.Post("/", h.CreateDistance)
		r.Get("/", h.ListDistances)
		r.Get("/{id}", h.GetDistance)
		r.Post("/{id}/register", h.Register)
		r.Post("/{id}/quote", h.Quote)
		r.Get("/{id}/registrations", h.ListRegistrations)
	})

	r.Route("/registrations", func(r chi.Router) {
		r.Post("/{id}/cancel", h.CancelRegistration)
		r.Post("/{id}/confirm", h.ConfirmRegistration)
	})

	return r
}
