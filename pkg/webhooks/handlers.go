package webhooks

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/herohooks/pkg/delivery"
	"github.com/platinummonkey/herohooks/pkg/httputil"
	"github.com/platinummonkey/herohooks/pkg/observability"
	"github.com/sirupsen/logrus"
)

// maxRecentDeliveries caps the limit query parameter
const maxRecentDeliveries = 500

// DeliveryReporter answers delivery history queries. delivery.Tracker
// satisfies it.
type DeliveryReporter interface {
	GetMetrics(ctx context.Context, filter delivery.Filter) delivery.Metrics
	GetRecentDeliveries(ctx context.Context, limit int, filter delivery.Filter) []delivery.Delivery
	GetErrorAnalysis(ctx context.Context, filter delivery.Filter) []delivery.ErrorGroup
}

// Enqueuer accepts events for durable delivery. *Queue satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, event Event) (string, error)
}

// Handlers exposes event intake and delivery history over HTTP
type Handlers struct {
	emitter  EventEmitter
	queue    Enqueuer
	reporter DeliveryReporter
	logger   logrus.FieldLogger
}

// NewHandlers creates handlers. With a queue, events are accepted with 202
// and delivered by a worker; without one they are delivered inline.
func NewHandlers(emitter EventEmitter, queue Enqueuer, reporter DeliveryReporter, logger logrus.FieldLogger) *Handlers {
	return &Handlers{
		emitter:  emitter,
		queue:    queue,
		reporter: reporter,
		logger:   observability.OrNop(logger),
	}
}

// RegisterRoutes registers the webhook routes on router
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/events", h.emitEvent).Methods(http.MethodPost)
	router.HandleFunc("/deliveries", h.listDeliveries).Methods(http.MethodGet)
	router.HandleFunc("/deliveries/metrics", h.deliveryMetrics).Methods(http.MethodGet)
	router.HandleFunc("/deliveries/errors", h.deliveryErrors).Methods(http.MethodGet)
}

// emitEvent handles POST /events
func (h *Handlers) emitEvent(w http.ResponseWriter, r *http.Request) {
	var event Event
	if !httputil.ParseJSONOrError(w, r, &event) {
		return
	}
	if !httputil.RequireNonEmpty(w, event.Type, "type") {
		return
	}

	if h.queue != nil {
		id, err := h.queue.Enqueue(r.Context(), event)
		if err != nil {
			h.logger.WithError(err).WithField("event_type", event.Type).Error("Failed to enqueue event")
			httputil.WriteServiceUnavailable(w, "event queue unavailable")
			return
		}
		_ = httputil.WriteAccepted(w, map[string]string{
			"status":     "queued",
			"message_id": id,
		})
		return
	}

	if h.emitter == nil {
		httputil.WriteServiceUnavailable(w, "event delivery not configured")
		return
	}
	_ = httputil.WriteSuccess(w, h.emitter.Emit(r.Context(), event))
}

// listDeliveries handles GET /deliveries
func (h *Handlers) listDeliveries(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.parseFilter(w, r)
	if !ok {
		return
	}
	limit, err := httputil.ParseQueryInt(r, "limit", delivery.DefaultRecentLimit)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if limit <= 0 || limit > maxRecentDeliveries {
		httputil.WriteBadRequest(w, "limit must be between 1 and 500")
		return
	}

	deliveries := h.reporter.GetRecentDeliveries(r.Context(), limit, filter)
	if deliveries == nil {
		deliveries = []delivery.Delivery{}
	}
	_ = httputil.WriteSuccess(w, map[string]interface{}{
		"deliveries": deliveries,
		"count":      len(deliveries),
	})
}

// deliveryMetrics handles GET /deliveries/metrics
func (h *Handlers) deliveryMetrics(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.parseFilter(w, r)
	if !ok {
		return
	}
	_ = httputil.WriteSuccess(w, h.reporter.GetMetrics(r.Context(), filter))
}

// deliveryErrors handles GET /deliveries/errors
func (h *Handlers) deliveryErrors(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.parseFilter(w, r)
	if !ok {
		return
	}
	_ = httputil.WriteSuccess(w, map[string]interface{}{
		"errors": h.reporter.GetErrorAnalysis(r.Context(), filter),
	})
}

func (h *Handlers) parseFilter(w http.ResponseWriter, r *http.Request) (delivery.Filter, bool) {
	var filter delivery.Filter
	var err error

	if filter.Start, err = httputil.ParseQueryTime(r, "start"); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return filter, false
	}
	if filter.End, err = httputil.ParseQueryTime(r, "end"); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return filter, false
	}
	if filter.Success, err = httputil.ParseQueryOptionalBool(r, "success"); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return filter, false
	}
	filter.EventType = httputil.ParseQueryString(r, "event_type", "")
	filter.Endpoint = httputil.ParseQueryString(r, "endpoint", "")
	return filter, true
}
