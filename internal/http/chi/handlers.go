package chi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog"
	"github.com/taskhive/webhookd/webhook"
)

// Handlers sets up the webhook management API routes
func Handlers(ctx context.Context, registry webhook.RegistryUseCase, service webhook.UseCase, scheduler webhook.SchedulerUseCase, metricsHandler http.Handler) *chi.Mux {
	logger := httplog.NewLogger("webhookd-api", httplog.Options{
		JSON: true,
	})

	r := chi.NewRouter()
	r.Use(httplog.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		// Event ingestion: fan out to subscribed endpoints
		r.Post("/events", postEvent(service).ServeHTTP)

		r.Route("/endpoints", func(r chi.Router) {
			r.Get("/", getEndpoints(registry).ServeHTTP)
			r.Post("/", postEndpoint(registry).ServeHTTP)
			r.Get("/{id}", getEndpoint(registry).ServeHTTP)
			r.Put("/{id}", putEndpoint(registry).ServeHTTP)
			r.Delete("/{id}", deleteEndpoint(registry).ServeHTTP)
			r.Post("/{id}/toggle", toggleEndpoint(registry).ServeHTTP)
			r.Post("/{id}/rotate-secret", rotateEndpointSecret(registry).ServeHTTP)
			r.Post("/{id}/test", testEndpoint(service).ServeHTTP)
		})

		r.Route("/deliveries", func(r chi.Router) {
			r.Get("/", getDeliveries(service).ServeHTTP)
			r.Post("/", postDelivery(service).ServeHTTP)
			r.Get("/{id}", getDelivery(service).ServeHTTP)
			r.Put("/{id}", putDelivery(service).ServeHTTP)
			r.Delete("/{id}", deleteDelivery(service).ServeHTTP)
			r.Post("/{id}/retry", retryDelivery(scheduler).ServeHTTP)
			r.Post("/{id}/mark-delivered", markDelivered(service).ServeHTTP)
			r.Post("/{id}/mark-failed", markFailed(service).ServeHTTP)
		})

		r.Get("/stats", getStats(service).ServeHTTP)
		r.Post("/retries/process", processRetries(scheduler).ServeHTTP)
	})

	return r
}

// writeError maps domain sentinels onto HTTP status codes
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, webhook.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, webhook.ErrNotRetriable), errors.Is(err, webhook.ErrAttemptConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
