package webhook

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Envelope is the outer structure common to every provider event. The inner
// object stays raw until a handler decodes it against its category type.
type Envelope struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	APIVersion string `json:"api_version"`
	Livemode   bool   `json:"livemode"`
	Data       struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// ParseEnvelope decodes the outer event structure from the raw body. The
// raw body itself is what gets persisted; the envelope is only read.
func ParseEnvelope(rawBody []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return nil, fmt.Errorf("malformed event payload: %w", err)
	}
	if env.ID == "" {
		return nil, fmt.Errorf("event payload has no id")
	}
	if env.Type == "" {
		return nil, fmt.Errorf("event payload has no type")
	}
	return &env, nil
}

// Category is the closed set of event families this integration reacts to.
// Anything else is CategoryUnknown and passes through as a no-op.
type Category int

const (
	CategoryUnknown Category = iota
	CategorySubscription
	CategoryPayment
	CategoryCustomer
)

func (c Category) String() string {
	switch c {
	case CategorySubscription:
		return "subscription"
	case CategoryPayment:
		return "payment"
	case CategoryCustomer:
		return "customer"
	default:
		return "unknown"
	}
}

// CategoryOf maps a provider event type tag to its category.
func CategoryOf(eventType string) Category {
	switch {
	case strings.HasPrefix(eventType, "customer.subscription."):
		return CategorySubscription
	case strings.HasPrefix(eventType, "payment_intent."),
		strings.HasPrefix(eventType, "invoice."):
		return CategoryPayment
	case strings.HasPrefix(eventType, "customer."):
		return CategoryCustomer
	default:
		return CategoryUnknown
	}
}

// objectMetadata is the provider-side metadata bag we stamp our own
// organization ID into when creating provider resources.
type objectMetadata struct {
	OrganizationID string `json:"organization_id"`
}

// SubscriptionObject is the inner object for subscription lifecycle events.
type SubscriptionObject struct {
	ID                 string         `json:"id"`
	Customer           string         `json:"customer"`
	Status             string         `json:"status"`
	Plan               planRef        `json:"plan"`
	CurrentPeriodStart int64          `json:"current_period_start"`
	CurrentPeriodEnd   int64          `json:"current_period_end"`
	CancelAtPeriodEnd  bool           `json:"cancel_at_period_end"`
	TrialEnd           int64          `json:"trial_end"`
	Metadata           objectMetadata `json:"metadata"`
}

type planRef struct {
	ID string `json:"id"`
}

// PaymentObject is the inner object for payment intents and invoices.
type PaymentObject struct {
	ID           string         `json:"id"`
	Customer     string         `json:"customer"`
	Amount       int64          `json:"amount"`
	Currency     string         `json:"currency"`
	Status       string         `json:"status"`
	ErrorMessage string         `json:"last_payment_error_message"`
	Metadata     objectMetadata `json:"metadata"`
}

// CustomerObject is the inner object for customer lifecycle events.
type CustomerObject struct {
	ID       string         `json:"id"`
	Email    string         `json:"email"`
	Name     string         `json:"name"`
	Metadata objectMetadata `json:"metadata"`
}

// ExtractOrganizationID resolves the internal organization an event belongs
// to, per category, from the metadata our own provisioning stamps onto
// provider objects. An event whose organization cannot be resolved is still
// processed; the ledger row simply has no organization attached.
func ExtractOrganizationID(env *Envelope) (uuid.UUID, bool) {
	var meta objectMetadata

	switch CategoryOf(env.Type) {
	case CategorySubscription:
		var obj SubscriptionObject
		if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
			return uuid.Nil, false
		}
		meta = obj.Metadata
	case CategoryPayment:
		var obj PaymentObject
		if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
			return uuid.Nil, false
		}
		meta = obj.Metadata
	case CategoryCustomer:
		var obj CustomerObject
		if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
			return uuid.Nil, false
		}
		meta = obj.Metadata
	default:
		return uuid.Nil, false
	}

	if meta.OrganizationID == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(meta.OrganizationID)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
