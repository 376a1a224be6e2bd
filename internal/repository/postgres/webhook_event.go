package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/billing-webhooks/internal/model"
	"github.com/jwalitptl/billing-webhooks/internal/repository"
)

const pqUniqueViolation = "23505"

type webhookEventRepository struct {
	BaseRepository
}

func NewWebhookEventRepository(base BaseRepository) repository.WebhookEventRepository {
	return &webhookEventRepository{base}
}

// Insert creates the ledger row for a provider event. A unique-violation on
// event_id means a concurrent or earlier delivery already claimed the event;
// that is reported as AlreadyExists, not as an error.
func (r *webhookEventRepository) Insert(ctx context.Context, event *model.WebhookEvent) (repository.InsertOutcome, error) {
	if event == nil {
		return repository.Inserted, fmt.Errorf("event cannot be nil")
	}
	if event.EventID == "" {
		return repository.Inserted, fmt.Errorf("event ID cannot be empty")
	}

	query := `
		INSERT INTO webhook_events (
			id, event_id, event_type, organization_id, payload,
			api_version, livemode, status, retry_count, max_retries, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`

	event.ID = uuid.New()
	event.Status = model.WebhookEventStatusReceived
	event.RetryCount = 0
	if event.MaxRetries <= 0 {
		event.MaxRetries = model.DefaultMaxRetries
	}
	event.CreatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		event.ID,
		event.EventID,
		event.EventType,
		event.OrganizationID,
		event.Payload,
		event.APIVersion,
		event.Livemode,
		event.Status,
		event.RetryCount,
		event.MaxRetries,
		event.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return repository.AlreadyExists, nil
		}
		return repository.Inserted, fmt.Errorf("failed to insert webhook event: %w", err)
	}

	return repository.Inserted, nil
}

func (r *webhookEventRepository) GetByEventID(ctx context.Context, eventID string) (*model.WebhookEvent, error) {
	query := `
		SELECT * FROM webhook_events
		WHERE event_id = $1
	`

	var event model.WebhookEvent
	if err := r.db.GetContext(ctx, &event, query, eventID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get webhook event: %w", err)
	}
	return &event, nil
}

func (r *webhookEventRepository) MarkProcessed(ctx context.Context, eventID string, success bool, lastError *string) error {
	status := model.WebhookEventStatusProcessed
	if !success {
		status = model.WebhookEventStatusFailed
	}

	query := `
		UPDATE webhook_events
		SET status = $1,
			last_error = $2,
			processed_at = CASE WHEN $1 = 'processed' THEN NOW() ELSE processed_at END
		WHERE event_id = $3
	`

	result, err := r.db.ExecContext(ctx, query, status, lastError, eventID)
	if err != nil {
		return fmt.Errorf("failed to mark webhook event: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("webhook event %s not found", eventID)
	}
	return nil
}

// ScheduleRetry records the failure and re-arms the event for the sweep in
// a single UPDATE, so the row can never be left failed without a
// next_retry_at. The retry_count guard makes this a no-op once the ceiling
// is reached, so a racing scheduler cannot push an event past its policy.
func (r *webhookEventRepository) ScheduleRetry(ctx context.Context, eventID string, nextRetryAt time.Time, lastError *string) error {
	query := `
		UPDATE webhook_events
		SET status = 'failed',
			retry_count = retry_count + 1,
			next_retry_at = $1,
			last_error = COALESCE($2, last_error)
		WHERE event_id = $3
		AND retry_count < max_retries
	`

	_, err := r.db.ExecContext(ctx, query, nextRetryAt, lastError, eventID)
	if err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}
	return nil
}

func (r *webhookEventRepository) ListDueForRetry(ctx context.Context, limit int) ([]*model.WebhookEvent, error) {
	query := `
		SELECT * FROM webhook_events
		WHERE status = 'failed'
		AND retry_count < max_retries
		AND next_retry_at IS NOT NULL
		AND next_retry_at <= NOW()
		ORDER BY next_retry_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`

	var events []*model.WebhookEvent
	err := r.db.SelectContext(ctx, &events, query, limit)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list due events: %w", err)
	}
	return events, nil
}

func (r *webhookEventRepository) List(ctx context.Context, filters model.WebhookEventFilters) ([]*model.WebhookEvent, error) {
	query := `SELECT * FROM webhook_events WHERE 1=1`
	var args []interface{}

	if filters.Status != "" {
		args = append(args, filters.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filters.EventType != "" {
		args = append(args, filters.EventType)
		query += fmt.Sprintf(" AND event_type = $%d", len(args))
	}
	if filters.OrganizationID != nil {
		args = append(args, *filters.OrganizationID)
		query += fmt.Sprintf(" AND organization_id = $%d", len(args))
	}
	if filters.Livemode != nil {
		args = append(args, *filters.Livemode)
		query += fmt.Sprintf(" AND livemode = $%d", len(args))
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

	var events []*model.WebhookEvent
	if err := r.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list webhook events: %w", err)
	}
	return events, nil
}

func (r *webhookEventRepository) GetStats(ctx context.Context, orgID *uuid.UUID) (*model.WebhookEventStats, error) {
	whereClause := "WHERE 1=1"
	var args []interface{}

	if orgID != nil {
		args = append(args, *orgID)
		whereClause += fmt.Sprintf(" AND organization_id = $%d", len(args))
	}

	stats := &model.WebhookEventStats{
		TypeCounts: make(map[string]int64),
	}

	// Both aggregates run inside one transaction so the totals and the
	// per-type breakdown describe the same snapshot.
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		countQuery := `
			SELECT
				COUNT(*) AS total,
				COUNT(*) FILTER (WHERE status = 'processed') AS processed,
				COUNT(*) FILTER (WHERE status = 'failed') AS failed,
				COUNT(*) FILTER (WHERE status = 'received') AS received
			FROM webhook_events ` + whereClause

		row := tx.QueryRowxContext(ctx, countQuery, args...)
		if err := row.Scan(&stats.TotalEvents, &stats.ProcessedEvents, &stats.FailedEvents, &stats.ReceivedEvents); err != nil {
			return fmt.Errorf("failed to get event counts: %w", err)
		}

		typeQuery := `
			SELECT event_type, COUNT(*) AS count
			FROM webhook_events ` + whereClause + `
			GROUP BY event_type
		`
		rows, err := tx.QueryContext(ctx, typeQuery, args...)
		if err != nil {
			return fmt.Errorf("failed to get type counts: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var eventType string
			var count int64
			if err := rows.Scan(&eventType, &count); err != nil {
				return err
			}
			stats.TypeCounts[eventType] = count
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return stats, nil
}
