package mock

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/jwalitptl/billing-webhooks/internal/model"
)

// SubscriptionRepository is an in-memory mock keyed by provider ID.
type SubscriptionRepository struct {
	mu   sync.Mutex
	subs map[string]*model.Subscription

	UpsertFunc func(ctx context.Context, sub *model.Subscription) error

	UpsertCalls int
}

func NewSubscriptionRepository() *SubscriptionRepository {
	return &SubscriptionRepository{subs: make(map[string]*model.Subscription)}
}

func (m *SubscriptionRepository) Upsert(ctx context.Context, sub *model.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpsertCalls++

	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, sub)
	}

	stored := *sub
	m.subs[sub.ProviderID] = &stored
	return nil
}

func (m *SubscriptionRepository) GetByProviderID(ctx context.Context, providerID string) (*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[providerID]
	if !ok {
		return nil, nil
	}
	copied := *sub
	return &copied, nil
}

// CustomerRepository is an in-memory mock keyed by provider ID.
type CustomerRepository struct {
	mu        sync.Mutex
	customers map[string]*model.Customer

	UpsertFunc func(ctx context.Context, customer *model.Customer) error
}

func NewCustomerRepository() *CustomerRepository {
	return &CustomerRepository{customers: make(map[string]*model.Customer)}
}

func (m *CustomerRepository) Upsert(ctx context.Context, customer *model.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, customer)
	}

	stored := *customer
	m.customers[customer.ProviderID] = &stored
	return nil
}

func (m *CustomerRepository) GetByProviderID(ctx context.Context, providerID string) (*model.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	customer, ok := m.customers[providerID]
	if !ok {
		return nil, nil
	}
	copied := *customer
	return &copied, nil
}

func (m *CustomerRepository) DeleteByProviderID(ctx context.Context, providerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.customers, providerID)
	return nil
}

// PaymentRepository is an in-memory mock keyed by provider ID.
type PaymentRepository struct {
	mu       sync.Mutex
	payments map[string]*model.Payment

	UpsertFunc func(ctx context.Context, payment *model.Payment) error
}

func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{payments: make(map[string]*model.Payment)}
}

func (m *PaymentRepository) Upsert(ctx context.Context, payment *model.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, payment)
	}

	stored := *payment
	m.payments[payment.ProviderID] = &stored
	return nil
}

func (m *PaymentRepository) GetByProviderID(ctx context.Context, providerID string) (*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	payment, ok := m.payments[providerID]
	if !ok {
		return nil, nil
	}
	copied := *payment
	return &copied, nil
}

// OrganizationRepository is an in-memory mock of the external organization
// boundary.
type OrganizationRepository struct {
	mu   sync.Mutex
	orgs map[uuid.UUID]*model.Organization

	RecomputeUsageFunc  func(ctx context.Context, id uuid.UUID) error
	RecomputeUsageCalls int
	GetCalls            int
}

func NewOrganizationRepository() *OrganizationRepository {
	return &OrganizationRepository{orgs: make(map[uuid.UUID]*model.Organization)}
}

func (m *OrganizationRepository) Seed(org *model.Organization) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *org
	m.orgs[org.ID] = &stored
}

func (m *OrganizationRepository) Get(ctx context.Context, id uuid.UUID) (*model.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetCalls++

	org, ok := m.orgs[id]
	if !ok {
		return nil, nil
	}
	copied := *org
	return &copied, nil
}

func (m *OrganizationRepository) UpdatePlan(ctx context.Context, id uuid.UUID, plan string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if org, ok := m.orgs[id]; ok {
		org.Plan = plan
	}
	return nil
}

func (m *OrganizationRepository) RecomputeUsage(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RecomputeUsageCalls++

	if m.RecomputeUsageFunc != nil {
		return m.RecomputeUsageFunc(ctx, id)
	}
	return nil
}
