package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ahrav/flawtracker/internal/domain/collector"
)

var _ collector.StateRepository = (*StateStore)(nil)

// StateStore keeps collector progress in memory.
type StateStore struct {
	mu   sync.Mutex
	ends map[string]time.Time
}

func NewStateStore() *StateStore { return &StateStore{ends: make(map[string]time.Time)} }

func (s *StateStore) PeriodEnd(_ context.Context, name string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	end, ok := s.ends[name]
	if !ok {
		return time.Time{}, collector.ErrStateNotFound
	}
	return end, nil
}

func (s *StateStore) SetPeriodEnd(_ context.Context, name string, end time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ends[name] = end
	return nil
}
