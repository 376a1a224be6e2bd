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

type paymentRepository struct {
	BaseRepository
}

func NewPaymentRepository(base BaseRepository) repository.PaymentRepository {
	return &paymentRepository{base}
}

func (r *paymentRepository) Upsert(ctx context.Context, payment *model.Payment) error {
	if payment == nil {
		return fmt.Errorf("payment cannot be nil")
	}

	query := `
		INSERT INTO payments (
			id, organization_id, provider_id, amount_cents, currency,
			status, failure_message, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (provider_id) DO UPDATE SET
			status = EXCLUDED.status,
			failure_message = EXCLUDED.failure_message,
			updated_at = EXCLUDED.updated_at
	`

	now := time.Now()
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = now
	}
	payment.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, query,
		payment.ID,
		payment.OrganizationID,
		payment.ProviderID,
		payment.AmountCents,
		payment.Currency,
		payment.Status,
		payment.FailureMessage,
		payment.CreatedAt,
		payment.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert payment: %w", err)
	}
	return nil
}

func (r *paymentRepository) GetByProviderID(ctx context.Context, providerID string) (*model.Payment, error) {
	query := `
		SELECT * FROM payments
		WHERE provider_id = $1
	`

	var payment model.Payment
	if err := r.db.GetContext(ctx, &payment, query, providerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &payment, nil
}
