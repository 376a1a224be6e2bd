package mock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/billing-webhooks/internal/model"
)

// VerificationAttemptRepository is an in-memory mock of the append-only
// audit log.
type VerificationAttemptRepository struct {
	mu       sync.Mutex
	attempts []*model.VerificationAttempt

	CreateFunc func(ctx context.Context, attempt *model.VerificationAttempt) error
}

func NewVerificationAttemptRepository() *VerificationAttemptRepository {
	return &VerificationAttemptRepository{}
}

func (m *VerificationAttemptRepository) Create(ctx context.Context, attempt *model.VerificationAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, attempt)
	}

	attempt.ID = uuid.New()
	attempt.CreatedAt = time.Now()
	stored := *attempt
	m.attempts = append(m.attempts, &stored)
	return nil
}

func (m *VerificationAttemptRepository) List(ctx context.Context, filters model.VerificationFilters) ([]*model.VerificationAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*model.VerificationAttempt
	for _, attempt := range m.attempts {
		if filters.Outcome != "" && string(attempt.Outcome) != filters.Outcome {
			continue
		}
		copied := *attempt
		out = append(out, &copied)
	}
	return out, nil
}

func (m *VerificationAttemptRepository) CountByOutcome(ctx context.Context, since time.Time) (map[model.VerificationOutcome]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[model.VerificationOutcome]int64)
	for _, attempt := range m.attempts {
		if attempt.CreatedAt.Before(since) {
			continue
		}
		counts[attempt.Outcome]++
	}
	return counts, nil
}

// Attempts returns a snapshot of everything written so far.
func (m *VerificationAttemptRepository) Attempts() []*model.VerificationAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*model.VerificationAttempt, 0, len(m.attempts))
	for _, attempt := range m.attempts {
		copied := *attempt
		out = append(out, &copied)
	}
	return out
}
