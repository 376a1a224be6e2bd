package model

import (
	"time"

	"github.com/google/uuid"
)

type SubscriptionStatus string

const (
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

// Subscription mirrors the provider subscription state for one organization.
// Handlers reconcile it with upsert semantics keyed on the provider ID.
type Subscription struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	OrganizationID     uuid.UUID  `db:"organization_id" json:"organization_id"`
	ProviderID         string     `db:"provider_id" json:"provider_id"`
	Status             string     `db:"status" json:"status"`
	Plan               string     `db:"plan" json:"plan"`
	CurrentPeriodStart *time.Time `db:"current_period_start" json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `db:"current_period_end" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd  bool       `db:"cancel_at_period_end" json:"cancel_at_period_end"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// Customer is the minimal local mirror of a provider customer. Removal
// events delete the row.
type Customer struct {
	ID             uuid.UUID `db:"id" json:"id"`
	OrganizationID uuid.UUID `db:"organization_id" json:"organization_id"`
	ProviderID     string    `db:"provider_id" json:"provider_id"`
	Email          string    `db:"email" json:"email"`
	Name           string    `db:"name" json:"name"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

type PaymentStatus string

const (
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusPending   PaymentStatus = "pending"
)

// Payment records the outcome of a provider payment intent or invoice.
type Payment struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	OrganizationID *uuid.UUID `db:"organization_id" json:"organization_id,omitempty"`
	ProviderID     string     `db:"provider_id" json:"provider_id"`
	AmountCents    int64      `db:"amount_cents" json:"amount_cents"`
	Currency       string     `db:"currency" json:"currency"`
	Status         string     `db:"status" json:"status"`
	FailureMessage *string    `db:"failure_message" json:"failure_message,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

type OrganizationStatus string

const (
	OrganizationStatusActive    OrganizationStatus = "active"
	OrganizationStatusSuspended OrganizationStatus = "suspended"
)

// Organization is the slice of the external organization model this
// subsystem reads and annotates. Ownership lives elsewhere.
type Organization struct {
	ID         uuid.UUID `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	Plan       string    `db:"plan" json:"plan"`
	Status     string    `db:"status" json:"status"`
	UsageSeats int       `db:"usage_seats" json:"usage_seats"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

type NotificationKind string

const (
	NotificationPaymentFailed NotificationKind = "payment_failed"
	NotificationTrialEnding   NotificationKind = "trial_ending"
)

// Notification is the fire-and-forget request handed to the notification
// collaborator. This subsystem decides that a notice is warranted, not how
// it is rendered or delivered.
type Notification struct {
	OrganizationID uuid.UUID        `json:"organization_id"`
	Kind           NotificationKind `json:"kind"`
	EventID        string           `json:"event_id"`
	Detail         string           `json:"detail,omitempty"`
}
