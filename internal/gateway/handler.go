// Package gateway is the HTTP surface over the dispatch core.
package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/af-corp/conduit/internal/auth"
	"github.com/af-corp/conduit/internal/config"
	"github.com/af-corp/conduit/internal/dispatch"
	"github.com/af-corp/conduit/internal/httputil"
	"github.com/af-corp/conduit/internal/tracker"
	"github.com/af-corp/conduit/internal/transport"
)

// Handler holds dependencies for the gateway HTTP handlers.
type Handler struct {
	service   *dispatch.Service
	modelsCfg func() *config.ModelsConfig
}

func NewHandler(service *dispatch.Service, modelsCfg func() *config.ModelsConfig) *Handler {
	return &Handler{service: service, modelsCfg: modelsCfg}
}

// dispatchRequest is the body of POST /v1/dispatch.
type dispatchRequest struct {
	transport.Request
	Priority *int `json:"priority,omitempty"`
}

type dispatchResponse struct {
	ID             string `json:"id"`
	State          string `json:"state"`
	RanImmediately bool   `json:"ran_immediately"`
}

// Dispatch handles POST /v1/dispatch. The call is admitted asynchronously;
// the response carries the tracking id, not the provider result.
func (h *Handler) Dispatch(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	authInfo, ok := auth.AuthFromContext(r.Context())
	if !ok {
		httputil.WriteAuthError(w, reqID, "Not authenticated")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteBadRequestError(w, reqID, "Failed to read request body")
		return
	}
	defer r.Body.Close()

	var req dispatchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httputil.WriteBadRequestError(w, reqID, "Invalid JSON: "+err.Error())
		return
	}
	if req.Model == "" {
		httputil.WriteBadRequestError(w, reqID, "model is required")
		return
	}
	if len(req.Messages) == 0 {
		httputil.WriteBadRequestError(w, reqID, "messages is required")
		return
	}
	if !authInfo.AllowsModel(req.Model) {
		httputil.WriteAuthError(w, reqID, "API key is not permitted to use model "+req.Model)
		return
	}

	priority := authInfo.Priority
	if req.Priority != nil {
		priority = *req.Priority
	}

	id, ran, err := h.service.Dispatch(r.Context(), &req.Request, priority)
	if err != nil {
		if errors.Is(err, dispatch.ErrUnknownModel) {
			httputil.WriteBadRequestError(w, reqID, "Unknown model: "+req.Model)
			return
		}
		slog.Error("dispatch rejected", "error", err, "request_id", reqID)
		httputil.WriteServiceUnavailableError(w, reqID, "Dispatcher unavailable")
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, dispatchResponse{
		ID:             id,
		State:          string(tracker.StatePending),
		RanImmediately: ran,
	})
}

// GetRequest handles GET /v1/requests/{id}.
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	id := chi.URLParam(r, "id")
	if !tracker.ValidID(id) {
		httputil.WriteBadRequestError(w, reqID, "Malformed request id")
		return
	}

	rec, err := h.service.Get(id)
	if err != nil {
		httputil.WriteNotFoundError(w, reqID, "No request with id "+id)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

// ListRequests handles GET /v1/requests: all active (non-terminal) records.
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	active := h.service.ListActive()
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"active": active,
		"count":  len(active),
	})
}

// CancelRequest handles DELETE /v1/requests/{id}.
func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	id := chi.URLParam(r, "id")
	if !tracker.ValidID(id) {
		httputil.WriteBadRequestError(w, reqID, "Malformed request id")
		return
	}
	if !h.service.Cancel(id) {
		httputil.WriteNotFoundError(w, reqID, "No active request with id "+id)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"id": id, "canceled": true})
}

// Usage handles GET /v1/usage.
func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"usage":       h.service.UsageStats(),
		"queue_depth": h.service.QueueDepth(),
	}
	// Fleet-wide counters ride along when the Redis mirror is configured.
	if daily, ok := h.service.DailyUsage(r.Context()); ok {
		resp["daily"] = daily
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

type modelLimit struct {
	RequestsPerMinute float64 `json:"requests_per_minute"`
	BurstCapacity     float64 `json:"burst_capacity,omitempty"`
}

// GetModelLimit handles GET /v1/limits/{model}.
func (h *Handler) GetModelLimit(w http.ResponseWriter, r *http.Request) {
	model := chi.URLParam(r, "model")
	rpm, burst := h.service.GetModelLimit(model)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"model":               model,
		"requests_per_minute": rpm,
		"burst_capacity":      burst,
	})
}

// SetModelLimit handles PUT /v1/limits/{model}.
func (h *Handler) SetModelLimit(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	model := chi.URLParam(r, "model")

	var limit modelLimit
	if err := json.NewDecoder(r.Body).Decode(&limit); err != nil {
		httputil.WriteBadRequestError(w, reqID, "Invalid JSON: "+err.Error())
		return
	}
	defer r.Body.Close()
	if limit.RequestsPerMinute <= 0 {
		httputil.WriteBadRequestError(w, reqID, "requests_per_minute must be positive")
		return
	}

	if limit.BurstCapacity > 0 {
		h.service.SetModelLimit(model, limit.RequestsPerMinute, limit.BurstCapacity)
	} else {
		h.service.SetModelLimit(model, limit.RequestsPerMinute)
	}

	rpm, burst := h.service.GetModelLimit(model)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"model":               model,
		"requests_per_minute": rpm,
		"burst_capacity":      burst,
	})
}

// ClearQueue handles DELETE /v1/queue.
func (h *Handler) ClearQueue(w http.ResponseWriter, r *http.Request) {
	removed := h.service.ClearQueue()
	slog.Info("queue cleared via admin surface", "removed", removed)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

// ListModels handles GET /v1/models
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	authInfo, ok := auth.AuthFromContext(r.Context())
	if !ok {
		httputil.WriteAuthError(w, reqID, "Not authenticated")
		return
	}

	modelsCfg := h.modelsCfg()
	var models []modelObject
	for name := range modelsCfg.Models {
		if !authInfo.AllowsModel(name) {
			continue
		}
		models = append(models, modelObject{
			ID:      name,
			Object:  "model",
			Created: 0,
			OwnedBy: "conduit",
		})
	}

	httputil.WriteJSON(w, http.StatusOK, modelListResponse{
		Object: "list",
		Data:   models,
	})
}

// Health handles GET /conduit/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"queue_depth": h.service.QueueDepth(),
		"active":      len(h.service.ListActive()),
	})
}

type modelObject struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type modelListResponse struct {
	Object string        `json:"object"`
	Data   []modelObject `json:"data"`
}
