package chi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/taskhive/webhookd/webhook"
)

/* HTTP layer DTOs for the endpoint registry
 * Separate from domain entities to avoid leaking internal structure
 */

// endpointRequest represents the payload for creating an endpoint
type endpointRequest struct {
	WorkspaceID string   `json:"workspace_id"`
	URL         string   `json:"url"`
	Secret      string   `json:"secret"`
	Events      []string `json:"events"`
	MaxRetries  int      `json:"max_retries"`
	Label       string   `json:"label"`
}

// endpointUpdateRequest carries partial mutations; absent fields stay put
type endpointUpdateRequest struct {
	URL        *string  `json:"url"`
	Events     []string `json:"events"`
	Active     *bool    `json:"active"`
	MaxRetries *int     `json:"max_retries"`
	Label      *string  `json:"label"`
}

/* endpointResponse represents an endpoint in the API.
 * The secret is only populated on create and rotate responses; reads
 * never echo it back.
 */
type endpointResponse struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	URL         string    `json:"url"`
	Secret      string    `json:"secret,omitempty"`
	Events      []string  `json:"events"`
	Active      bool      `json:"active"`
	MaxRetries  int       `json:"max_retries"`
	Label       string    `json:"label,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toEndpointResponse(ep webhook.Endpoint, includeSecret bool) endpointResponse {
	resp := endpointResponse{
		ID:          ep.ID,
		WorkspaceID: ep.WorkspaceID,
		URL:         ep.URL,
		Events:      ep.Events,
		Active:      ep.Active,
		MaxRetries:  ep.MaxRetries,
		Label:       ep.Label,
		CreatedAt:   ep.CreatedAt,
		UpdatedAt:   ep.UpdatedAt,
	}
	if includeSecret {
		resp.Secret = ep.Secret
	}
	return resp
}

// postEndpoint handles POST /v1/endpoints
func postEndpoint(registry webhook.RegistryUseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req endpointRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		ep, err := registry.Create(r.Context(), webhook.Endpoint{
			WorkspaceID: req.WorkspaceID,
			URL:         req.URL,
			Secret:      req.Secret,
			Events:      req.Events,
			MaxRetries:  req.MaxRetries,
			Label:       req.Label,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		if err := json.NewEncoder(w).Encode(toEndpointResponse(ep, true)); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}

// getEndpoints handles GET /v1/endpoints
func getEndpoints(registry webhook.RegistryUseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		filter := webhook.EndpointFilter{
			WorkspaceID: r.URL.Query().Get("workspace_id"),
			Event:       r.URL.Query().Get("event"),
		}
		if raw := r.URL.Query().Get("active"); raw != "" {
			active := raw == "true"
			filter.Active = &active
		}

		all, err := registry.List(r.Context(), filter)
		if err != nil {
			writeError(w, err)
			return
		}

		result := make([]endpointResponse, 0, len(all))
		for _, ep := range all {
			result = append(result, toEndpointResponse(ep, false))
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(result); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}

// getEndpoint handles GET /v1/endpoints/{id}
func getEndpoint(registry webhook.RegistryUseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ep, err := registry.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(toEndpointResponse(ep, false)); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}

// putEndpoint handles PUT /v1/endpoints/{id}
func putEndpoint(registry webhook.RegistryUseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req endpointUpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		ep, err := registry.Update(r.Context(), chi.URLParam(r, "id"), webhook.EndpointUpdate{
			URL:        req.URL,
			Events:     req.Events,
			Active:     req.Active,
			MaxRetries: req.MaxRetries,
			Label:      req.Label,
		})
		if err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(toEndpointResponse(ep, false)); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}

// deleteEndpoint handles DELETE /v1/endpoints/{id}
func deleteEndpoint(registry webhook.RegistryUseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := registry.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// toggleEndpoint handles POST /v1/endpoints/{id}/toggle
func toggleEndpoint(registry webhook.RegistryUseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ep, err := registry.ToggleActive(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(toEndpointResponse(ep, false)); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}

// rotateEndpointSecret handles POST /v1/endpoints/{id}/rotate-secret
func rotateEndpointSecret(registry webhook.RegistryUseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ep, err := registry.RotateSecret(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(toEndpointResponse(ep, true)); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}

// testEndpoint handles POST /v1/endpoints/{id}/test
func testEndpoint(service webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result, err := service.TestEndpoint(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(result); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}
