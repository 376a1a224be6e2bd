package webhook

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/billing-webhooks/internal/model"
	"github.com/jwalitptl/billing-webhooks/pkg/logger"
	"github.com/jwalitptl/billing-webhooks/pkg/metrics"
)

// Handler is the uniform processing contract one event type (or family)
// implements. Handlers must tolerate being invoked more than once with the
// same event and converge on the same end state.
type Handler interface {
	EventTypes() []string
	Process(ctx context.Context, event *model.WebhookEvent) *model.HandlerResult
}

// Registry maps event type tags to handlers. It is built once at startup
// and injected into the dispatcher; there is no package-level state.
type Registry struct {
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to every event type it declares. Registering two
// handlers for the same type is a wiring bug, so it panics at startup.
func (r *Registry) Register(h Handler) {
	for _, eventType := range h.EventTypes() {
		if _, exists := r.handlers[eventType]; exists {
			panic(fmt.Sprintf("duplicate handler registration for %q", eventType))
		}
		r.handlers[eventType] = h
	}
}

func (r *Registry) Get(eventType string) (Handler, bool) {
	h, ok := r.handlers[eventType]
	return h, ok
}

// Dispatcher selects and invokes the handler for an event's declared type.
type Dispatcher struct {
	registry *Registry
	logger   *logger.Logger
	metrics  *metrics.Metrics
}

func NewDispatcher(registry *Registry, logger *logger.Logger, metrics *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		logger:   logger,
		metrics:  metrics,
	}
}

// Dispatch runs the event through its handler. An unregistered type is not
// an error: providers deliver many event types an integration does not care
// about, so those resolve to a successful no-op. Handler failures of any
// kind, panics included, come back as failed results with the message
// preserved for the ledger; they never escape as Go errors.
func (d *Dispatcher) Dispatch(ctx context.Context, event *model.WebhookEvent) (result *model.HandlerResult) {
	handler, ok := d.registry.Get(event.EventType)
	if !ok {
		return model.NewSuccessResult(fmt.Sprintf("no handler for %s, no action required", event.EventType))
	}

	timer := prometheus.NewTimer(d.metrics.DispatchLatency.WithLabelValues(event.EventType))
	defer timer.ObserveDuration()

	defer func() {
		if p := recover(); p != nil {
			d.logger.Error(fmt.Errorf("%v", p), "handler panic",
				"event_id", event.EventID,
				"event_type", event.EventType)
			result = model.NewFailureResult(http.StatusInternalServerError, fmt.Sprintf("handler panic: %v", p))
		}
	}()

	start := time.Now()
	result = handler.Process(ctx, event)
	if result == nil {
		result = model.NewFailureResult(http.StatusInternalServerError, "handler returned no result")
	}

	if result.Success {
		d.logger.Debug("event handled",
			"event_id", event.EventID,
			"event_type", event.EventType,
			"duration", time.Since(start).String())
	} else {
		d.logger.Warn("event handler failed",
			"event_id", event.EventID,
			"event_type", event.EventType,
			"message", result.Message)
	}
	return result
}
