package model

import (
	"time"

	"github.com/google/uuid"
)

type VerificationOutcome string

const (
	VerificationOutcomeSuccess VerificationOutcome = "success"
	VerificationOutcomeFailed  VerificationOutcome = "failed"
)

// VerificationAttempt is one append-only audit row per inbound request.
// Written regardless of outcome and regardless of whether the event was
// later short-circuited as a duplicate; never updated or deleted.
type VerificationAttempt struct {
	ID            uuid.UUID           `db:"id" json:"id"`
	EventID       *string             `db:"event_id" json:"event_id,omitempty"`
	EventType     *string             `db:"event_type" json:"event_type,omitempty"`
	Outcome       VerificationOutcome `db:"outcome" json:"outcome"`
	FailureReason *string             `db:"failure_reason" json:"failure_reason,omitempty"`
	SourceIP      string              `db:"source_ip" json:"source_ip"`
	UserAgent     string              `db:"user_agent" json:"user_agent"`
	DurationMS    int64               `db:"duration_ms" json:"duration_ms"`
	CreatedAt     time.Time           `db:"created_at" json:"created_at"`
}

type VerificationFilters struct {
	Outcome string
	EventID string
	Since   *time.Time
	Limit   int
	Offset  int
}
