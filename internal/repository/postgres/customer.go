package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/billing-webhooks/internal/model"
	"github.com/jwalitptl/billing-webhooks/internal/repository"
)

type customerRepository struct {
	BaseRepository
}

func NewCustomerRepository(base BaseRepository) repository.CustomerRepository {
	return &customerRepository{base}
}

func (r *customerRepository) Upsert(ctx context.Context, customer *model.Customer) error {
	if customer == nil {
		return fmt.Errorf("customer cannot be nil")
	}

	query := `
		INSERT INTO customers (
			id, organization_id, provider_id, email, name, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (provider_id) DO UPDATE SET
			email = EXCLUDED.email,
			name = EXCLUDED.name,
			updated_at = EXCLUDED.updated_at
	`

	now := time.Now()
	if customer.ID == uuid.Nil {
		customer.ID = uuid.New()
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = now
	}
	customer.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, query,
		customer.ID,
		customer.OrganizationID,
		customer.ProviderID,
		customer.Email,
		customer.Name,
		customer.CreatedAt,
		customer.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert customer: %w", err)
	}
	return nil
}

func (r *customerRepository) GetByProviderID(ctx context.Context, providerID string) (*model.Customer, error) {
	query := `
		SELECT * FROM customers
		WHERE provider_id = $1
	`

	var customer model.Customer
	if err := r.db.GetContext(ctx, &customer, query, providerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	return &customer, nil
}

// DeleteByProviderID removes the local mirror row. Deleting a row that is
// already gone is fine; removal events can be redelivered.
func (r *customerRepository) DeleteByProviderID(ctx context.Context, providerID string) error {
	query := `DELETE FROM customers WHERE provider_id = $1`

	if _, err := r.db.ExecContext(ctx, query, providerID); err != nil {
		return fmt.Errorf("failed to delete customer: %w", err)
	}
	return nil
}
