package mock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/billing-webhooks/internal/model"
	"github.com/jwalitptl/billing-webhooks/internal/repository"
)

// WebhookEventRepository is an in-memory mock of the event ledger. It
// enforces the event_id uniqueness the real table enforces, so idempotency
// tests exercise the same contract.
type WebhookEventRepository struct {
	mu     sync.Mutex
	events map[string]*model.WebhookEvent

	// Function stubs that can be overridden in tests
	InsertFunc        func(ctx context.Context, event *model.WebhookEvent) (repository.InsertOutcome, error)
	MarkProcessedFunc func(ctx context.Context, eventID string, success bool, lastError *string) error
	ScheduleRetryFunc func(ctx context.Context, eventID string, nextRetryAt time.Time, lastError *string) error

	// Call tracking
	Calls map[string]int
}

func NewWebhookEventRepository() *WebhookEventRepository {
	return &WebhookEventRepository{
		events: make(map[string]*model.WebhookEvent),
		Calls:  make(map[string]int),
	}
}

func (m *WebhookEventRepository) Insert(ctx context.Context, event *model.WebhookEvent) (repository.InsertOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["Insert"]++

	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, event)
	}

	if _, ok := m.events[event.EventID]; ok {
		return repository.AlreadyExists, nil
	}

	event.ID = uuid.New()
	event.Status = model.WebhookEventStatusReceived
	if event.MaxRetries <= 0 {
		event.MaxRetries = model.DefaultMaxRetries
	}
	event.CreatedAt = time.Now()
	stored := *event
	m.events[event.EventID] = &stored
	return repository.Inserted, nil
}

func (m *WebhookEventRepository) GetByEventID(ctx context.Context, eventID string) (*model.WebhookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["GetByEventID"]++

	event, ok := m.events[eventID]
	if !ok {
		return nil, nil
	}
	copied := *event
	return &copied, nil
}

func (m *WebhookEventRepository) MarkProcessed(ctx context.Context, eventID string, success bool, lastError *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["MarkProcessed"]++

	if m.MarkProcessedFunc != nil {
		return m.MarkProcessedFunc(ctx, eventID, success, lastError)
	}

	event, ok := m.events[eventID]
	if !ok {
		return nil
	}
	if success {
		event.Status = model.WebhookEventStatusProcessed
		now := time.Now()
		event.ProcessedAt = &now
	} else {
		event.Status = model.WebhookEventStatusFailed
	}
	event.LastError = lastError
	return nil
}

func (m *WebhookEventRepository) ScheduleRetry(ctx context.Context, eventID string, nextRetryAt time.Time, lastError *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["ScheduleRetry"]++

	if m.ScheduleRetryFunc != nil {
		return m.ScheduleRetryFunc(ctx, eventID, nextRetryAt, lastError)
	}

	event, ok := m.events[eventID]
	if !ok || event.RetryCount >= event.MaxRetries {
		return nil
	}
	event.Status = model.WebhookEventStatusFailed
	event.RetryCount++
	at := nextRetryAt
	event.NextRetryAt = &at
	if lastError != nil {
		event.LastError = lastError
	}
	return nil
}

func (m *WebhookEventRepository) ListDueForRetry(ctx context.Context, limit int) ([]*model.WebhookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["ListDueForRetry"]++

	now := time.Now()
	var due []*model.WebhookEvent
	for _, event := range m.events {
		if len(due) >= limit {
			break
		}
		if event.Status == model.WebhookEventStatusFailed &&
			event.RetryCount < event.MaxRetries &&
			event.NextRetryAt != nil && !event.NextRetryAt.After(now) {
			copied := *event
			due = append(due, &copied)
		}
	}
	return due, nil
}

func (m *WebhookEventRepository) List(ctx context.Context, filters model.WebhookEventFilters) ([]*model.WebhookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["List"]++

	var events []*model.WebhookEvent
	for _, event := range m.events {
		if filters.Status != "" && string(event.Status) != filters.Status {
			continue
		}
		if filters.EventType != "" && event.EventType != filters.EventType {
			continue
		}
		copied := *event
		events = append(events, &copied)
	}
	return events, nil
}

func (m *WebhookEventRepository) GetStats(ctx context.Context, orgID *uuid.UUID) (*model.WebhookEventStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["GetStats"]++

	stats := &model.WebhookEventStats{TypeCounts: make(map[string]int64)}
	for _, event := range m.events {
		if orgID != nil && (event.OrganizationID == nil || *event.OrganizationID != *orgID) {
			continue
		}
		stats.TotalEvents++
		switch event.Status {
		case model.WebhookEventStatusProcessed:
			stats.ProcessedEvents++
		case model.WebhookEventStatusFailed:
			stats.FailedEvents++
		case model.WebhookEventStatusReceived:
			stats.ReceivedEvents++
		}
		stats.TypeCounts[event.EventType]++
	}
	return stats, nil
}

// Seed inserts an event directly, bypassing Insert bookkeeping.
func (m *WebhookEventRepository) Seed(event *model.WebhookEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *event
	m.events[event.EventID] = &stored
}

// Stored returns the current ledger row for an event ID, or nil.
func (m *WebhookEventRepository) Stored(eventID string) *model.WebhookEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	event, ok := m.events[eventID]
	if !ok {
		return nil
	}
	copied := *event
	return &copied
}

// Count reports how many ledger rows exist.
func (m *WebhookEventRepository) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}
