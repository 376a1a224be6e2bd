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

type subscriptionRepository struct {
	BaseRepository
}

func NewSubscriptionRepository(base BaseRepository) repository.SubscriptionRepository {
	return &subscriptionRepository{base}
}

// Upsert reconciles the subscription mirror keyed on the provider ID.
// Handlers may be re-invoked for the same event, so this must converge on
// the same end state no matter how often it runs.
func (r *subscriptionRepository) Upsert(ctx context.Context, sub *model.Subscription) error {
	if sub == nil {
		return fmt.Errorf("subscription cannot be nil")
	}

	query := `
		INSERT INTO subscriptions (
			id, organization_id, provider_id, status, plan,
			current_period_start, current_period_end, cancel_at_period_end,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (provider_id) DO UPDATE SET
			status = EXCLUDED.status,
			plan = EXCLUDED.plan,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			updated_at = EXCLUDED.updated_at
	`

	now := time.Now()
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, query,
		sub.ID,
		sub.OrganizationID,
		sub.ProviderID,
		sub.Status,
		sub.Plan,
		sub.CurrentPeriodStart,
		sub.CurrentPeriodEnd,
		sub.CancelAtPeriodEnd,
		sub.CreatedAt,
		sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

func (r *subscriptionRepository) GetByProviderID(ctx context.Context, providerID string) (*model.Subscription, error) {
	query := `
		SELECT * FROM subscriptions
		WHERE provider_id = $1
	`

	var sub model.Subscription
	if err := r.db.GetContext(ctx, &sub, query, providerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &sub, nil
}
