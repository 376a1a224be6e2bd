package model

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type WebhookEventStatus string

const (
	WebhookEventStatusReceived  WebhookEventStatus = "received"
	WebhookEventStatusProcessed WebhookEventStatus = "processed"
	WebhookEventStatusFailed    WebhookEventStatus = "failed"
)

// DefaultMaxRetries is the retry ceiling applied to every ledger row.
const DefaultMaxRetries = 3

// WebhookEvent is the ledger row for one provider event. The provider event
// ID carries a unique constraint and acts as the idempotency key; rows are
// never deleted so the table doubles as a permanent audit trail.
type WebhookEvent struct {
	ID             uuid.UUID          `db:"id" json:"id"`
	EventID        string             `db:"event_id" json:"event_id"`
	EventType      string             `db:"event_type" json:"event_type"`
	OrganizationID *uuid.UUID         `db:"organization_id" json:"organization_id,omitempty"`
	Payload        json.RawMessage    `db:"payload" json:"payload"`
	APIVersion     string             `db:"api_version" json:"api_version"`
	Livemode       bool               `db:"livemode" json:"livemode"`
	Status         WebhookEventStatus `db:"status" json:"status"`
	RetryCount     int                `db:"retry_count" json:"retry_count"`
	MaxRetries     int                `db:"max_retries" json:"max_retries"`
	NextRetryAt    *time.Time         `db:"next_retry_at" json:"next_retry_at,omitempty"`
	LastError      *string            `db:"last_error" json:"last_error,omitempty"`
	CreatedAt      time.Time          `db:"created_at" json:"created_at"`
	ProcessedAt    *time.Time         `db:"processed_at" json:"processed_at,omitempty"`
}

// RetriesExhausted reports whether the event has hit its retry ceiling.
func (e *WebhookEvent) RetriesExhausted() bool {
	return e.RetryCount >= e.MaxRetries
}

// HandlerResult is the ephemeral outcome a handler returns to the dispatcher.
// It is never persisted as its own entity; the dispatcher folds it into the
// ledger row and the transport response.
type HandlerResult struct {
	Success    bool
	Message    string
	StatusCode int
}

func NewSuccessResult(message string) *HandlerResult {
	return &HandlerResult{Success: true, Message: message, StatusCode: http.StatusOK}
}

func NewFailureResult(statusCode int, message string) *HandlerResult {
	return &HandlerResult{Success: false, Message: message, StatusCode: statusCode}
}

// WebhookEventFilters narrows operator ledger queries.
type WebhookEventFilters struct {
	Status         string
	EventType      string
	OrganizationID *uuid.UUID
	Livemode       *bool
	Limit          int
	Offset         int
}

// WebhookEventStats is the aggregate view consumed by the security/audit
// dashboard.
type WebhookEventStats struct {
	TotalEvents     int64            `json:"total_events"`
	ProcessedEvents int64            `json:"processed_events"`
	FailedEvents    int64            `json:"failed_events"`
	ReceivedEvents  int64            `json:"received_events"`
	TypeCounts      map[string]int64 `json:"type_counts"`
}
