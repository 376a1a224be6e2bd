package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/billing-webhooks/internal/model"
	"github.com/jwalitptl/billing-webhooks/internal/repository"
)

type verificationAttemptRepository struct {
	BaseRepository
}

func NewVerificationAttemptRepository(base BaseRepository) repository.VerificationAttemptRepository {
	return &verificationAttemptRepository{base}
}

// Create appends one audit row. The table has no update or delete path.
func (r *verificationAttemptRepository) Create(ctx context.Context, attempt *model.VerificationAttempt) error {
	if attempt == nil {
		return fmt.Errorf("attempt cannot be nil")
	}

	query := `
		INSERT INTO verification_attempts (
			id, event_id, event_type, outcome, failure_reason,
			source_ip, user_agent, duration_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	attempt.ID = uuid.New()
	attempt.CreatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		attempt.ID,
		attempt.EventID,
		attempt.EventType,
		attempt.Outcome,
		attempt.FailureReason,
		attempt.SourceIP,
		attempt.UserAgent,
		attempt.DurationMS,
		attempt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create verification attempt: %w", err)
	}
	return nil
}

func (r *verificationAttemptRepository) List(ctx context.Context, filters model.VerificationFilters) ([]*model.VerificationAttempt, error) {
	query := `SELECT * FROM verification_attempts WHERE 1=1`
	var args []interface{}

	if filters.Outcome != "" {
		args = append(args, filters.Outcome)
		query += fmt.Sprintf(" AND outcome = $%d", len(args))
	}
	if filters.EventID != "" {
		args = append(args, filters.EventID)
		query += fmt.Sprintf(" AND event_id = $%d", len(args))
	}
	if filters.Since != nil {
		args = append(args, *filters.Since)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}

	query += " ORDER BY created_at DESC"

	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if filters.Offset > 0 {
		args = append(args, filters.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	var attempts []*model.VerificationAttempt
	if err := r.db.SelectContext(ctx, &attempts, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list verification attempts: %w", err)
	}
	return attempts, nil
}

func (r *verificationAttemptRepository) CountByOutcome(ctx context.Context, since time.Time) (map[model.VerificationOutcome]int64, error) {
	query := `
		SELECT outcome, COUNT(*) AS count
		FROM verification_attempts
		WHERE created_at >= $1
		GROUP BY outcome
	`

	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count verification attempts: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.VerificationOutcome]int64)
	for rows.Next() {
		var outcome model.VerificationOutcome
		var count int64
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, err
		}
		counts[outcome] = count
	}

	return counts, rows.Err()
}
