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

type organizationRepository struct {
	BaseRepository
}

func NewOrganizationRepository(base BaseRepository) repository.OrganizationRepository {
	return &organizationRepository{base}
}

func (r *organizationRepository) Get(ctx context.Context, id uuid.UUID) (*model.Organization, error) {
	// Columns are listed explicitly; the table belongs to another system
	// and may grow columns this model does not carry.
	query := `
		SELECT id, name, plan, status, usage_seats, created_at, updated_at
		FROM organizations
		WHERE id = $1
	`

	var org model.Organization
	if err := r.db.GetContext(ctx, &org, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return &org, nil
}

func (r *organizationRepository) UpdatePlan(ctx context.Context, id uuid.UUID, plan string) error {
	query := `
		UPDATE organizations
		SET plan = $1, updated_at = $2
		WHERE id = $3
	`

	result, err := r.db.ExecContext(ctx, query, plan, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update organization plan: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("organization %s not found", id)
	}
	return nil
}

// RecomputeUsage refreshes the derived usage metrics for an organization.
// The heavy lifting is a stored aggregate; this just triggers it.
func (r *organizationRepository) RecomputeUsage(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE organizations o
		SET usage_seats = (
			SELECT COUNT(*) FROM customers c WHERE c.organization_id = o.id
		),
		updated_at = NOW()
		WHERE o.id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to recompute usage: %w", err)
	}
	return nil
}
