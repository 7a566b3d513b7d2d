package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/mailpipe/internal/api"
	"github.com/phrazzld/mailpipe/internal/api/middleware"
)

// setupRouter mounts the operator API behind bearer authentication and the
// unauthenticated health check.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Trace(app.logger))
	r.Use(chimw.Recoverer)

	taskHandler := api.NewTaskHandler(app.taskService, app.logger)
	webhookHandler := api.NewWebhookHandler(app.webhookService, app.logger)
	authMiddleware := middleware.NewAuthMiddleware(app.tokens)

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)

		r.Post("/tasks", taskHandler.Enqueue)
		r.Get("/tasks/{id}", taskHandler.Get)
		r.Post("/tasks/{id}/cancel", taskHandler.Cancel)
		r.Post("/tasks/{id}/retry", taskHandler.Retry)
		r.Get("/emails/{id}/tasks", taskHandler.ListByEmail)

		r.Get("/webhook-events", webhookHandler.List)
		r.Get("/webhook-events/{id}", webhookHandler.Get)
		r.Post("/webhook-events/{id}/retry", webhookHandler.Retry)
	})

	r.Get("/health", api.HealthHandler(app.db))

	return r
}
