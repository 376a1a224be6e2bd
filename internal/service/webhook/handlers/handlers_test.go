package handlers

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/billing-webhooks/internal/model"
	"github.com/jwalitptl/billing-webhooks/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.NewLogger(&logger.Config{
		Level:  logger.ErrorLevel,
		Output: io.Discard,
	})
}

// stubBilling records what the handlers push through the billing boundary.
type stubBilling struct {
	subscriptions []*model.Subscription
	payments      []*model.Payment
	customers     []*model.Customer
	removed       []string

	syncErr error
}

func (s *stubBilling) SyncSubscription(ctx context.Context, sub *model.Subscription) error {
	if s.syncErr != nil {
		return s.syncErr
	}
	s.subscriptions = append(s.subscriptions, sub)
	return nil
}

func (s *stubBilling) RecordPayment(ctx context.Context, payment *model.Payment) error {
	if s.syncErr != nil {
		return s.syncErr
	}
	s.payments = append(s.payments, payment)
	return nil
}

func (s *stubBilling) UpsertCustomer(ctx context.Context, customer *model.Customer) error {
	if s.syncErr != nil {
		return s.syncErr
	}
	s.customers = append(s.customers, customer)
	return nil
}

func (s *stubBilling) RemoveCustomer(ctx context.Context, providerID string) error {
	if s.syncErr != nil {
		return s.syncErr
	}
	s.removed = append(s.removed, providerID)
	return nil
}

func (s *stubBilling) OrganizationExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return true, nil
}

type stubNotifier struct {
	sent []*model.Notification
}

func (s *stubNotifier) Notify(ctx context.Context, n *model.Notification) {
	s.sent = append(s.sent, n)
}

func subscriptionEvent(eventID, eventType string, orgID uuid.UUID, object string) *model.WebhookEvent {
	payload := fmt.Sprintf(`{"id":%q,"type":%q,"data":{"object":%s}}`, eventID, eventType, object)
	return &model.WebhookEvent{
		EventID:        eventID,
		EventType:      eventType,
		OrganizationID: &orgID,
		Payload:        []byte(payload),
	}
}

func TestSubscriptionHandlerSyncs(t *testing.T) {
	billing := &stubBilling{}
	notify := &stubNotifier{}
	h := NewSubscriptionHandler(billing, notify, testLogger())
	orgID := uuid.New()

	event := subscriptionEvent("evt_1", "customer.subscription.updated", orgID,
		`{"id":"sub_1","status":"active","plan":{"id":"pro"},"current_period_start":1700000000,"current_period_end":1702592000}`)

	result := h.Process(context.Background(), event)

	require.True(t, result.Success)
	require.Len(t, billing.subscriptions, 1)
	sub := billing.subscriptions[0]
	assert.Equal(t, orgID, sub.OrganizationID)
	assert.Equal(t, "sub_1", sub.ProviderID)
	assert.Equal(t, "active", sub.Status)
	assert.Equal(t, "pro", sub.Plan)
	require.NotNil(t, sub.CurrentPeriodStart)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.Empty(t, notify.sent)
}

func TestSubscriptionHandlerDeletedMarksCanceled(t *testing.T) {
	billing := &stubBilling{}
	h := NewSubscriptionHandler(billing, &stubNotifier{}, testLogger())

	event := subscriptionEvent("evt_2", "customer.subscription.deleted", uuid.New(),
		`{"id":"sub_1","status":"active"}`)

	result := h.Process(context.Background(), event)

	require.True(t, result.Success)
	require.Len(t, billing.subscriptions, 1)
	assert.Equal(t, string(model.SubscriptionStatusCanceled), billing.subscriptions[0].Status)
}

func TestSubscriptionHandlerTrialEndingNotifies(t *testing.T) {
	billing := &stubBilling{}
	notify := &stubNotifier{}
	h := NewSubscriptionHandler(billing, notify, testLogger())
	orgID := uuid.New()

	event := subscriptionEvent("evt_3", "customer.subscription.trial_will_end", orgID,
		`{"id":"sub_1","status":"trialing","trial_end":1702592000}`)

	result := h.Process(context.Background(), event)

	require.True(t, result.Success)
	require.Len(t, notify.sent, 1)
	assert.Equal(t, model.NotificationTrialEnding, notify.sent[0].Kind)
	assert.Equal(t, orgID, notify.sent[0].OrganizationID)
	assert.Equal(t, "evt_3", notify.sent[0].EventID)
}

func TestSubscriptionHandlerWithoutOrganizationIsNoOp(t *testing.T) {
	billing := &stubBilling{}
	h := NewSubscriptionHandler(billing, &stubNotifier{}, testLogger())

	event := &model.WebhookEvent{
		EventID:   "evt_4",
		EventType: "customer.subscription.updated",
		Payload:   []byte(`{"id":"evt_4","type":"customer.subscription.updated","data":{"object":{"id":"sub_1"}}}`),
	}

	result := h.Process(context.Background(), event)

	assert.True(t, result.Success)
	assert.Empty(t, billing.subscriptions)
}

func TestSubscriptionHandlerSyncFailure(t *testing.T) {
	billing := &stubBilling{syncErr: fmt.Errorf("db down")}
	h := NewSubscriptionHandler(billing, &stubNotifier{}, testLogger())

	event := subscriptionEvent("evt_5", "customer.subscription.updated", uuid.New(),
		`{"id":"sub_1","status":"active"}`)

	result := h.Process(context.Background(), event)

	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "db down")
}

func TestPaymentHandlerRecordsSuccess(t *testing.T) {
	billing := &stubBilling{}
	notify := &stubNotifier{}
	h := NewPaymentHandler(billing, notify, testLogger())
	orgID := uuid.New()

	event := subscriptionEvent("evt_6", "payment_intent.succeeded", orgID,
		`{"id":"pi_1","amount":4900,"currency":"usd","status":"succeeded"}`)

	result := h.Process(context.Background(), event)

	require.True(t, result.Success)
	require.Len(t, billing.payments, 1)
	payment := billing.payments[0]
	assert.Equal(t, "pi_1", payment.ProviderID)
	assert.Equal(t, int64(4900), payment.AmountCents)
	assert.Equal(t, string(model.PaymentStatusSucceeded), payment.Status)
	assert.Empty(t, notify.sent)
}

func TestPaymentHandlerFailureNotifies(t *testing.T) {
	billing := &stubBilling{}
	notify := &stubNotifier{}
	h := NewPaymentHandler(billing, notify, testLogger())
	orgID := uuid.New()

	event := subscriptionEvent("evt_7", "invoice.payment_failed", orgID,
		`{"id":"in_1","amount":4900,"currency":"usd","last_payment_error_message":"card declined"}`)

	result := h.Process(context.Background(), event)

	require.True(t, result.Success)
	require.Len(t, billing.payments, 1)
	assert.Equal(t, string(model.PaymentStatusFailed), billing.payments[0].Status)

	require.Len(t, notify.sent, 1)
	assert.Equal(t, model.NotificationPaymentFailed, notify.sent[0].Kind)
	assert.Contains(t, notify.sent[0].Detail, "card declined")
}

func TestPaymentHandlerFailureWithoutOrganizationSkipsNotification(t *testing.T) {
	billing := &stubBilling{}
	notify := &stubNotifier{}
	h := NewPaymentHandler(billing, notify, testLogger())

	event := &model.WebhookEvent{
		EventID:   "evt_8",
		EventType: "payment_intent.payment_failed",
		Payload:   []byte(`{"id":"evt_8","type":"payment_intent.payment_failed","data":{"object":{"id":"pi_2","amount":100,"currency":"usd"}}}`),
	}

	result := h.Process(context.Background(), event)

	require.True(t, result.Success)
	require.Len(t, billing.payments, 1)
	assert.Nil(t, billing.payments[0].OrganizationID)
	assert.Empty(t, notify.sent)
}

func TestCustomerHandlerUpserts(t *testing.T) {
	billing := &stubBilling{}
	h := NewCustomerHandler(billing, testLogger())
	orgID := uuid.New()

	event := subscriptionEvent("evt_9", "customer.created", orgID,
		`{"id":"cus_1","email":"ops@example.com","name":"Acme"}`)

	result := h.Process(context.Background(), event)

	require.True(t, result.Success)
	require.Len(t, billing.customers, 1)
	assert.Equal(t, "cus_1", billing.customers[0].ProviderID)
	assert.Equal(t, "ops@example.com", billing.customers[0].Email)
}

func TestCustomerHandlerDeleteRemoves(t *testing.T) {
	billing := &stubBilling{}
	h := NewCustomerHandler(billing, testLogger())

	event := subscriptionEvent("evt_10", "customer.deleted", uuid.New(),
		`{"id":"cus_1"}`)

	result := h.Process(context.Background(), event)

	require.True(t, result.Success)
	assert.Equal(t, []string{"cus_1"}, billing.removed)
	assert.Empty(t, billing.customers)
}

func TestHandlersAreIdempotent(t *testing.T) {
	billing := &stubBilling{}
	h := NewSubscriptionHandler(billing, &stubNotifier{}, testLogger())

	event := subscriptionEvent("evt_11", "customer.subscription.updated", uuid.New(),
		`{"id":"sub_1","status":"active","plan":{"id":"pro"}}`)

	first := h.Process(context.Background(), event)
	second := h.Process(context.Background(), event)

	assert.True(t, first.Success)
	assert.True(t, second.Success)
	// Same upsert both times; converging on one row is the repository's
	// contract, the handler just must not diverge.
	require.Len(t, billing.subscriptions, 2)
	assert.Equal(t, billing.subscriptions[0].ProviderID, billing.subscriptions[1].ProviderID)
	assert.Equal(t, billing.subscriptions[0].Status, billing.subscriptions[1].Status)
}
