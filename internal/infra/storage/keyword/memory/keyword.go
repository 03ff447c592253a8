package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/ahrav/flawtracker/internal/domain/keyword"
)

var _ keyword.Repository = (*KeywordStore)(nil)

// KeywordStore keeps keywords in a map.
type KeywordStore struct {
	mu       sync.RWMutex
	keywords map[string]keyword.Type
}

func NewKeywordStore() *KeywordStore {
	return &KeywordStore{keywords: make(map[string]keyword.Type)}
}

func (s *KeywordStore) Upsert(_ context.Context, kw keyword.Keyword) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keywords[kw.Value] = kw.Type
	return nil
}

func (s *KeywordStore) List(_ context.Context) ([]keyword.Keyword, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	kws := make([]keyword.Keyword, 0, len(s.keywords))
	for v, t := range s.keywords {
		kws = append(kws, keyword.Keyword{Value: v, Type: t})
	}
	slices.SortFunc(kws, func(a, b keyword.Keyword) int { return strings.Compare(a.Value, b.Value) })
	return kws, nil
}

func (s *KeywordStore) Delete(_ context.Context, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keywords[value]; !ok {
		return keyword.ErrKeywordNotFound
	}
	delete(s.keywords, value)
	return nil
}
