package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/billing-webhooks/internal/model"
	"github.com/jwalitptl/billing-webhooks/internal/repository"
	"github.com/jwalitptl/billing-webhooks/pkg/logger"
)

const (
	orgCacheTTL     = 5 * time.Minute
	orgCacheCleanup = 10 * time.Minute
)

// Service is the outbound boundary into the organization/subscription data
// model: upsert subscription state and trigger usage recomputation. Webhook
// handlers call this instead of touching the repositories directly.
type Service interface {
	SyncSubscription(ctx context.Context, sub *model.Subscription) error
	RecordPayment(ctx context.Context, payment *model.Payment) error
	UpsertCustomer(ctx context.Context, customer *model.Customer) error
	RemoveCustomer(ctx context.Context, providerID string) error
	OrganizationExists(ctx context.Context, id uuid.UUID) (bool, error)
}

type service struct {
	subs      repository.SubscriptionRepository
	customers repository.CustomerRepository
	payments  repository.PaymentRepository
	orgs      repository.OrganizationRepository
	orgCache  *cache.Cache
	logger    *logger.Logger
}

func NewService(
	subs repository.SubscriptionRepository,
	customers repository.CustomerRepository,
	payments repository.PaymentRepository,
	orgs repository.OrganizationRepository,
	logger *logger.Logger,
) Service {
	return &service{
		subs:      subs,
		customers: customers,
		payments:  payments,
		orgs:      orgs,
		orgCache:  cache.New(orgCacheTTL, orgCacheCleanup),
		logger:    logger,
	}
}

// SyncSubscription reconciles the local mirror from provider state, keeps
// the organization's plan in step, and refreshes derived usage metrics.
// Upsert semantics make this safe to run any number of times per event.
func (s *service) SyncSubscription(ctx context.Context, sub *model.Subscription) error {
	if err := s.subs.Upsert(ctx, sub); err != nil {
		return fmt.Errorf("failed to sync subscription: %w", err)
	}

	if sub.Plan != "" {
		if err := s.orgs.UpdatePlan(ctx, sub.OrganizationID, sub.Plan); err != nil {
			return fmt.Errorf("failed to update organization plan: %w", err)
		}
	}

	if err := s.orgs.RecomputeUsage(ctx, sub.OrganizationID); err != nil {
		// Usage metrics are derived data; a failed refresh should not
		// fail the subscription sync that triggered it.
		s.logger.Error(err, "failed to recompute usage",
			"organization_id", sub.OrganizationID.String())
	}
	return nil
}

func (s *service) RecordPayment(ctx context.Context, payment *model.Payment) error {
	if err := s.payments.Upsert(ctx, payment); err != nil {
		return fmt.Errorf("failed to record payment: %w", err)
	}
	return nil
}

func (s *service) UpsertCustomer(ctx context.Context, customer *model.Customer) error {
	if err := s.customers.Upsert(ctx, customer); err != nil {
		return fmt.Errorf("failed to upsert customer: %w", err)
	}
	if err := s.orgs.RecomputeUsage(ctx, customer.OrganizationID); err != nil {
		s.logger.Error(err, "failed to recompute usage",
			"organization_id", customer.OrganizationID.String())
	}
	return nil
}

func (s *service) RemoveCustomer(ctx context.Context, providerID string) error {
	if err := s.customers.DeleteByProviderID(ctx, providerID); err != nil {
		return fmt.Errorf("failed to remove customer: %w", err)
	}
	return nil
}

// OrganizationExists checks the organization behind cached reads; webhook
// bursts tend to hammer the same organization repeatedly.
func (s *service) OrganizationExists(ctx context.Context, id uuid.UUID) (bool, error) {
	key := id.String()
	if _, found := s.orgCache.Get(key); found {
		return true, nil
	}

	org, err := s.orgs.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if org == nil {
		return false, nil
	}

	s.orgCache.SetDefault(key, struct{}{})
	return true, nil
}
