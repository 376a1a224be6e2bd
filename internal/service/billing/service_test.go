package billing

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/billing-webhooks/internal/model"
	"github.com/jwalitptl/billing-webhooks/internal/repository/mock"
	"github.com/jwalitptl/billing-webhooks/pkg/logger"
)

func newTestService() (Service, *mock.SubscriptionRepository, *mock.CustomerRepository, *mock.OrganizationRepository) {
	subs := mock.NewSubscriptionRepository()
	customers := mock.NewCustomerRepository()
	payments := mock.NewPaymentRepository()
	orgs := mock.NewOrganizationRepository()
	quiet := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})

	return NewService(subs, customers, payments, orgs, quiet), subs, customers, orgs
}

func TestSyncSubscriptionUpdatesPlanAndUsage(t *testing.T) {
	svc, subs, _, orgs := newTestService()
	orgID := uuid.New()
	orgs.Seed(&model.Organization{ID: orgID, Plan: "free", UsageSeats: 3})

	err := svc.SyncSubscription(context.Background(), &model.Subscription{
		OrganizationID: orgID,
		ProviderID:     "sub_1",
		Status:         "active",
		Plan:           "pro",
	})

	require.NoError(t, err)
	assert.Equal(t, 1, subs.UpsertCalls)
	assert.Equal(t, 1, orgs.RecomputeUsageCalls)

	org, err := orgs.Get(context.Background(), orgID)
	require.NoError(t, err)
	require.NotNil(t, org)
	assert.Equal(t, "pro", org.Plan)
	assert.Equal(t, 3, org.UsageSeats)
}

func TestSyncSubscriptionToleratesUsageFailure(t *testing.T) {
	svc, _, _, orgs := newTestService()
	orgs.RecomputeUsageFunc = func(ctx context.Context, id uuid.UUID) error {
		return assert.AnError
	}

	err := svc.SyncSubscription(context.Background(), &model.Subscription{
		OrganizationID: uuid.New(),
		ProviderID:     "sub_1",
		Status:         "active",
	})

	assert.NoError(t, err)
}

func TestRemoveCustomer(t *testing.T) {
	svc, _, customers, _ := newTestService()
	orgID := uuid.New()

	require.NoError(t, svc.UpsertCustomer(context.Background(), &model.Customer{
		OrganizationID: orgID,
		ProviderID:     "cus_1",
		Email:          "ops@example.com",
	}))
	require.NoError(t, svc.RemoveCustomer(context.Background(), "cus_1"))

	customer, err := customers.GetByProviderID(context.Background(), "cus_1")
	require.NoError(t, err)
	assert.Nil(t, customer)
}

func TestOrganizationExistsCachesLookups(t *testing.T) {
	svc, _, _, orgs := newTestService()
	orgID := uuid.New()
	orgs.Seed(&model.Organization{ID: orgID, Name: "Acme"})

	for i := 0; i < 3; i++ {
		exists, err := svc.OrganizationExists(context.Background(), orgID)
		require.NoError(t, err)
		assert.True(t, exists)
	}

	assert.Equal(t, 1, orgs.GetCalls, "repeat lookups must hit the cache")

	exists, err := svc.OrganizationExists(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.False(t, exists)
}
