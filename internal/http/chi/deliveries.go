package chi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/taskhive/webhookd/webhook"
)

// eventRequest represents an event to fan out to subscribed endpoints
type eventRequest struct {
	WorkspaceID string         `json:"workspace_id"`
	Event       string         `json:"event"`
	Payload     map[string]any `json:"payload"`
}

// eventResponse reports how many deliveries the event produced
type eventResponse struct {
	Deliveries int `json:"deliveries"`
}

// deliveryRequest represents an administratively created or corrected delivery
type deliveryRequest struct {
	EndpointID  string         `json:"endpoint_id"`
	WorkspaceID string         `json:"workspace_id"`
	Event       string         `json:"event"`
	Payload     map[string]any `json:"payload"`
	Status      string         `json:"status"`
}

// deliveryResponse represents a delivery record in the API
type deliveryResponse struct {
	ID            int64          `json:"id"`
	EndpointID    string         `json:"endpoint_id"`
	WorkspaceID   string         `json:"workspace_id"`
	Event         string         `json:"event"`
	Payload       map[string]any `json:"payload"`
	Status        string         `json:"status"`
	AttemptCount  int            `json:"attempt_count"`
	ResponseCode  *int           `json:"response_code,omitempty"`
	ResponseBody  *string        `json:"response_body,omitempty"`
	NextAttemptAt *time.Time     `json:"next_attempt_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// attemptResultRequest carries a manually reported attempt outcome
type attemptResultRequest struct {
	ResponseCode int    `json:"response_code"`
	ResponseBody string `json:"response_body"`
}

func toDeliveryResponse(d webhook.Delivery) deliveryResponse {
	return deliveryResponse{
		ID:            d.ID,
		EndpointID:    d.EndpointID,
		WorkspaceID:   d.WorkspaceID,
		Event:         d.Event,
		Payload:       d.Payload,
		Status:        d.Status.String(),
		AttemptCount:  d.AttemptCount,
		ResponseCode:  d.ResponseCode,
		ResponseBody:  d.ResponseBody,
		NextAttemptAt: d.NextAttemptAt,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

func deliveryID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// postEvent handles POST /v1/events
func postEvent(service webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req eventRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.WorkspaceID == "" || req.Event == "" {
			http.Error(w, "workspace_id and event are required", http.StatusBadRequest)
			return
		}

		created, err := service.Trigger(r.Context(), req.WorkspaceID, req.Event, req.Payload)
		if err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		if err := json.NewEncoder(w).Encode(eventResponse{Deliveries: created}); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}

// getDeliveries handles GET /v1/deliveries
func getDeliveries(service webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		filter := webhook.DeliveryFilter{
			WorkspaceID: r.URL.Query().Get("workspace_id"),
			EndpointID:  r.URL.Query().Get("endpoint_id"),
		}
		if raw := r.URL.Query().Get("status"); raw != "" {
			status, err := webhook.NewStatus(raw)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			filter.Status = &status
		}
		if raw := r.URL.Query().Get("limit"); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			filter.Limit = limit
		}

		all, err := service.ListDeliveries(r.Context(), filter)
		if err != nil {
			writeError(w, err)
			return
		}

		result := make([]deliveryResponse, 0, len(all))
		for _, d := range all {
			result = append(result, toDeliveryResponse(d))
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(result); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}

// getDelivery handles GET /v1/deliveries/{id}
func getDelivery(service webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := deliveryID(r)
		if err != nil {
			http.Error(w, "invalid delivery id", http.StatusBadRequest)
			return
		}

		d, err := service.GetDelivery(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(toDeliveryResponse(d)); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}

// postDelivery handles POST /v1/deliveries
func postDelivery(service webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req deliveryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		d := webhook.Delivery{
			EndpointID:  req.EndpointID,
			WorkspaceID: req.WorkspaceID,
			Event:       req.Event,
			Payload:     req.Payload,
			Status:      webhook.Pending,
		}
		if req.Status != "" {
			status, err := webhook.NewStatus(req.Status)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			d.Status = status
		}

		stored, err := service.CreateDelivery(r.Context(), d)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		if err := json.NewEncoder(w).Encode(toDeliveryResponse(stored)); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}

// putDelivery handles PUT /v1/deliveries/{id}
func putDelivery(service webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := deliveryID(r)
		if err != nil {
			http.Error(w, "invalid delivery id", http.StatusBadRequest)
			return
		}

		current, err := service.GetDelivery(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}

		var req deliveryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		if req.Event != "" {
			current.Event = req.Event
		}
		if req.Payload != nil {
			current.Payload = req.Payload
		}
		if req.Status != "" {
			status, err := webhook.NewStatus(req.Status)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			current.Status = status
		}

		if err := service.UpdateDelivery(r.Context(), current); err != nil {
			writeError(w, err)
			return
		}

		updated, err := service.GetDelivery(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(toDeliveryResponse(updated)); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}

// deleteDelivery handles DELETE /v1/deliveries/{id}
func deleteDelivery(service webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := deliveryID(r)
		if err != nil {
			http.Error(w, "invalid delivery id", http.StatusBadRequest)
			return
		}

		if err := service.DeleteDelivery(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// retryDelivery handles POST /v1/deliveries/{id}/retry
func retryDelivery(scheduler webhook.SchedulerUseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := deliveryID(r)
		if err != nil {
			http.Error(w, "invalid delivery id", http.StatusBadRequest)
			return
		}

		d, err := scheduler.Retry(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		if err := json.NewEncoder(w).Encode(toDeliveryResponse(d)); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}

// markDelivered handles POST /v1/deliveries/{id}/mark-delivered
func markDelivered(service webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := deliveryID(r)
		if err != nil {
			http.Error(w, "invalid delivery id", http.StatusBadRequest)
			return
		}

		var req attemptResultRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		if err := service.MarkDelivered(r.Context(), id, req.ResponseCode, req.ResponseBody); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// markFailed handles POST /v1/deliveries/{id}/mark-failed
func markFailed(service webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := deliveryID(r)
		if err != nil {
			http.Error(w, "invalid delivery id", http.StatusBadRequest)
			return
		}

		var req attemptResultRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		if err := service.MarkFailed(r.Context(), id, req.ResponseCode, req.ResponseBody); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// getStats handles GET /v1/stats
func getStats(service webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stats, err := service.Stats(r.Context(), r.URL.Query().Get("workspace_id"), r.URL.Query().Get("endpoint_id"))
		if err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(stats); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}

// processRetries handles POST /v1/retries/process
func processRetries(scheduler webhook.SchedulerUseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		processed, err := scheduler.ProcessFailed(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]int{"processed": processed}); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}
