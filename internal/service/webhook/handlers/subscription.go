package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jwalitptl/billing-webhooks/internal/model"
	"github.com/jwalitptl/billing-webhooks/internal/notifier"
	"github.com/jwalitptl/billing-webhooks/internal/service/billing"
	"github.com/jwalitptl/billing-webhooks/internal/service/webhook"
	"github.com/jwalitptl/billing-webhooks/pkg/logger"
)

const (
	eventSubscriptionCreated      = "customer.subscription.created"
	eventSubscriptionUpdated      = "customer.subscription.updated"
	eventSubscriptionDeleted      = "customer.subscription.deleted"
	eventSubscriptionTrialWillEnd = "customer.subscription.trial_will_end"
)

// SubscriptionHandler reconciles the local subscription mirror from provider
// lifecycle events. Every operation is an upsert keyed on the provider ID,
// so redelivery and retries converge on the same row.
type SubscriptionHandler struct {
	billing  billing.Service
	notifier notifier.Notifier
	logger   *logger.Logger
}

func NewSubscriptionHandler(billing billing.Service, notifier notifier.Notifier, logger *logger.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		billing:  billing,
		notifier: notifier,
		logger:   logger,
	}
}

func (h *SubscriptionHandler) EventTypes() []string {
	return []string{
		eventSubscriptionCreated,
		eventSubscriptionUpdated,
		eventSubscriptionDeleted,
		eventSubscriptionTrialWillEnd,
	}
}

func (h *SubscriptionHandler) Process(ctx context.Context, event *model.WebhookEvent) *model.HandlerResult {
	env, err := webhook.ParseEnvelope(event.Payload)
	if err != nil {
		return model.NewFailureResult(http.StatusBadRequest, fmt.Sprintf("bad subscription payload: %v", err))
	}

	var obj webhook.SubscriptionObject
	if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
		return model.NewFailureResult(http.StatusBadRequest, fmt.Sprintf("bad subscription object: %v", err))
	}

	if event.OrganizationID == nil {
		// Provider objects created outside our provisioning flow carry no
		// organization metadata. Nothing local to reconcile against.
		h.logger.Warn("subscription event without organization",
			"event_id", event.EventID,
			"provider_id", obj.ID)
		return model.NewSuccessResult("no organization attached, nothing to sync")
	}

	sub := &model.Subscription{
		OrganizationID:    *event.OrganizationID,
		ProviderID:        obj.ID,
		Status:            obj.Status,
		Plan:              obj.Plan.ID,
		CancelAtPeriodEnd: obj.CancelAtPeriodEnd,
	}
	if obj.CurrentPeriodStart > 0 {
		start := time.Unix(obj.CurrentPeriodStart, 0).UTC()
		sub.CurrentPeriodStart = &start
	}
	if obj.CurrentPeriodEnd > 0 {
		end := time.Unix(obj.CurrentPeriodEnd, 0).UTC()
		sub.CurrentPeriodEnd = &end
	}
	if event.EventType == eventSubscriptionDeleted {
		sub.Status = string(model.SubscriptionStatusCanceled)
	}

	if err := h.billing.SyncSubscription(ctx, sub); err != nil {
		return model.NewFailureResult(http.StatusInternalServerError, fmt.Sprintf("subscription sync failed: %v", err))
	}

	if event.EventType == eventSubscriptionTrialWillEnd {
		detail := "trial ending"
		if obj.TrialEnd > 0 {
			detail = fmt.Sprintf("trial ends %s", time.Unix(obj.TrialEnd, 0).UTC().Format(time.RFC3339))
		}
		h.notifier.Notify(ctx, &model.Notification{
			OrganizationID: *event.OrganizationID,
			Kind:           model.NotificationTrialEnding,
			EventID:        event.EventID,
			Detail:         detail,
		})
	}

	return model.NewSuccessResult(fmt.Sprintf("subscription %s synced", obj.ID))
}
