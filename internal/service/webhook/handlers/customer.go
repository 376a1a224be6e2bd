package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/jwalitptl/billing-webhooks/internal/model"
	"github.com/jwalitptl/billing-webhooks/internal/service/billing"
	"github.com/jwalitptl/billing-webhooks/internal/service/webhook"
	"github.com/jwalitptl/billing-webhooks/pkg/logger"
)

const (
	eventCustomerCreated = "customer.created"
	eventCustomerUpdated = "customer.updated"
	eventCustomerDeleted = "customer.deleted"
)

// CustomerHandler keeps the local customer mirror in step with provider
// customer lifecycle events. Deletion removes the row; create and update
// share one upsert path.
type CustomerHandler struct {
	billing billing.Service
	logger  *logger.Logger
}

func NewCustomerHandler(billing billing.Service, logger *logger.Logger) *CustomerHandler {
	return &CustomerHandler{
		billing: billing,
		logger:  logger,
	}
}

func (h *CustomerHandler) EventTypes() []string {
	return []string{
		eventCustomerCreated,
		eventCustomerUpdated,
		eventCustomerDeleted,
	}
}

func (h *CustomerHandler) Process(ctx context.Context, event *model.WebhookEvent) *model.HandlerResult {
	env, err := webhook.ParseEnvelope(event.Payload)
	if err != nil {
		return model.NewFailureResult(http.StatusBadRequest, fmt.Sprintf("bad customer payload: %v", err))
	}

	var obj webhook.CustomerObject
	if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
		return model.NewFailureResult(http.StatusBadRequest, fmt.Sprintf("bad customer object: %v", err))
	}

	if event.EventType == eventCustomerDeleted {
		if err := h.billing.RemoveCustomer(ctx, obj.ID); err != nil {
			return model.NewFailureResult(http.StatusInternalServerError, fmt.Sprintf("customer removal failed: %v", err))
		}
		return model.NewSuccessResult(fmt.Sprintf("customer %s removed", obj.ID))
	}

	if event.OrganizationID == nil {
		h.logger.Warn("customer event without organization",
			"event_id", event.EventID,
			"provider_id", obj.ID)
		return model.NewSuccessResult("no organization attached, nothing to sync")
	}

	customer := &model.Customer{
		OrganizationID: *event.OrganizationID,
		ProviderID:     obj.ID,
		Email:          obj.Email,
		Name:           obj.Name,
	}
	if err := h.billing.UpsertCustomer(ctx, customer); err != nil {
		return model.NewFailureResult(http.StatusInternalServerError, fmt.Sprintf("customer sync failed: %v", err))
	}

	return model.NewSuccessResult(fmt.Sprintf("customer %s synced", obj.ID))
}
