package tickets

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/OFFIS-RIT/triage/pkg/common"

	"github.com/google/uuid"
)

// MemoryStore keeps tickets in process, for tests and single-node runs
// without a database.
type MemoryStore struct {
	mu      sync.RWMutex
	tickets map[uuid.UUID]Ticket
}

var _ Repository = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tickets: map[uuid.UUID]Ticket{}}
}

func (s *MemoryStore) Create(ctx context.Context, result common.ClassificationResult, reporter Reporter) (Ticket, error) {
	t := NewTicket(result, reporter)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets[t.ID] = t
	return t, nil
}

func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickets[id]
	if !ok {
		return Ticket{}, ErrNotFound
	}
	return t, nil
}

func (s *MemoryStore) List(ctx context.Context, params ListParams) ([]Ticket, error) {
	s.mu.RLock()
	out := make([]Ticket, 0, len(s.tickets))
	for _, t := range s.tickets {
		if params.Status != "" && t.Status != params.Status {
			continue
		}
		if params.NeedsReview != nil && t.NeedsReview != *params.NeedsReview {
			continue
		}
		out = append(out, t)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Ticket) int {
		if a.UrgencyLevel != b.UrgencyLevel {
			return b.UrgencyLevel - a.UrgencyLevel
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if len(out) > params.limit() {
		out = out[:params.limit()]
	}
	return out, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return ErrNotFound
	}
	t.Status = status
	t.UpdatedAt = time.Now().UTC()
	s.tickets[id] = t
	return nil
}
