// Package ingest exposes the HTTP API through which traffic processors
// submit matched events for notification dispatch.
package ingest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/hookline/hookline/internal/dispatch"
	"github.com/hookline/hookline/internal/domain"
	"github.com/hookline/hookline/internal/pkg/ctxlog"
	"github.com/hookline/hookline/internal/pkg/httputil"
)

// Dispatcher accepts events for fan-out. Satisfied by dispatch.Engine.
type Dispatcher interface {
	Dispatch(event domain.Event)
	Stats() dispatch.Stats
}

// Handler handles HTTP requests for event ingestion.
type Handler struct {
	dispatcher Dispatcher
	validator  *validator.Validate
}

// NewHandler creates a new ingest handler.
func NewHandler(dispatcher Dispatcher) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		validator:  validator.New(),
	}
}

// RegisterRoutes registers ingest routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/events", h.CreateEvent)
	r.Get("/stats", h.GetStats)
}

// CreateEventRequest represents the request body for submitting an event.
type CreateEventRequest struct {
	Method     string            `json:"method" validate:"required"`
	TargetURI  string            `json:"target_uri" validate:"required"`
	StatusCode int               `json:"status_code" validate:"min=0,max=599"`
	Body       string            `json:"body"`
	Error      string            `json:"error"`
	DurationMS int64             `json:"duration_ms" validate:"min=0"`
	Metadata   map[string]string `json:"metadata"`
}

// CreateEvent handles POST /events. The event is accepted and dispatched
// asynchronously; the response never waits for delivery.
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	logger := ctxlog.FromContext(r.Context())

	var req CreateEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("rejected event payload", "error", err)
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		logger.Warn("event failed validation", "error", err)
		httputil.ValidationError(w, err)
		return
	}

	event := domain.NewEvent(req.Method, req.TargetURI, req.StatusCode)
	event.Body = req.Body
	event.Error = req.Error
	event.Duration = time.Duration(req.DurationMS) * time.Millisecond
	event.Metadata = req.Metadata

	h.dispatcher.Dispatch(event)

	httputil.Success(w, http.StatusAccepted, map[string]string{"id": event.ID})
}

// GetStats handles GET /stats.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	httputil.Success(w, http.StatusOK, h.dispatcher.Stats())
}
