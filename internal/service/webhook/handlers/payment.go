package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/jwalitptl/billing-webhooks/internal/model"
	"github.com/jwalitptl/billing-webhooks/internal/notifier"
	"github.com/jwalitptl/billing-webhooks/internal/service/billing"
	"github.com/jwalitptl/billing-webhooks/internal/service/webhook"
	"github.com/jwalitptl/billing-webhooks/pkg/logger"
)

const (
	eventPaymentSucceeded       = "payment_intent.succeeded"
	eventPaymentFailed          = "payment_intent.payment_failed"
	eventInvoicePaid            = "invoice.paid"
	eventInvoicePaymentFailed   = "invoice.payment_failed"
	eventInvoicePaymentRequired = "invoice.payment_action_required"
)

// PaymentHandler records payment outcomes and raises a notification when a
// payment fails. The payment row is an append-style mirror with upsert
// semantics on the provider ID.
type PaymentHandler struct {
	billing  billing.Service
	notifier notifier.Notifier
	logger   *logger.Logger
}

func NewPaymentHandler(billing billing.Service, notifier notifier.Notifier, logger *logger.Logger) *PaymentHandler {
	return &PaymentHandler{
		billing:  billing,
		notifier: notifier,
		logger:   logger,
	}
}

func (h *PaymentHandler) EventTypes() []string {
	return []string{
		eventPaymentSucceeded,
		eventPaymentFailed,
		eventInvoicePaid,
		eventInvoicePaymentFailed,
		eventInvoicePaymentRequired,
	}
}

func (h *PaymentHandler) Process(ctx context.Context, event *model.WebhookEvent) *model.HandlerResult {
	env, err := webhook.ParseEnvelope(event.Payload)
	if err != nil {
		return model.NewFailureResult(http.StatusBadRequest, fmt.Sprintf("bad payment payload: %v", err))
	}

	var obj webhook.PaymentObject
	if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
		return model.NewFailureResult(http.StatusBadRequest, fmt.Sprintf("bad payment object: %v", err))
	}

	payment := &model.Payment{
		OrganizationID: event.OrganizationID,
		ProviderID:     obj.ID,
		AmountCents:    obj.Amount,
		Currency:       obj.Currency,
		Status:         paymentStatus(event.EventType, obj.Status),
	}
	if obj.ErrorMessage != "" {
		msg := obj.ErrorMessage
		payment.FailureMessage = &msg
	}

	if err := h.billing.RecordPayment(ctx, payment); err != nil {
		return model.NewFailureResult(http.StatusInternalServerError, fmt.Sprintf("payment record failed: %v", err))
	}

	if payment.Status == string(model.PaymentStatusFailed) && event.OrganizationID != nil {
		detail := fmt.Sprintf("payment %s failed", obj.ID)
		if payment.FailureMessage != nil {
			detail = fmt.Sprintf("payment %s failed: %s", obj.ID, *payment.FailureMessage)
		}
		h.notifier.Notify(ctx, &model.Notification{
			OrganizationID: *event.OrganizationID,
			Kind:           model.NotificationPaymentFailed,
			EventID:        event.EventID,
			Detail:         detail,
		})
	}

	return model.NewSuccessResult(fmt.Sprintf("payment %s recorded", obj.ID))
}

// paymentStatus collapses the provider's event taxonomy onto our three
// payment states. The event type is more reliable than the object's status
// field, which differs between payment intents and invoices.
func paymentStatus(eventType, objectStatus string) string {
	switch eventType {
	case eventPaymentSucceeded, eventInvoicePaid:
		return string(model.PaymentStatusSucceeded)
	case eventPaymentFailed, eventInvoicePaymentFailed:
		return string(model.PaymentStatusFailed)
	case eventInvoicePaymentRequired:
		return string(model.PaymentStatusPending)
	}
	if objectStatus != "" {
		return objectStatus
	}
	return string(model.PaymentStatusPending)
}
