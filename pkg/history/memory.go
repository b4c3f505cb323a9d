package history

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]HistoryItem
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]HistoryItem)}
}

func (s *MemoryStore) Save(ctx context.Context, item HistoryItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = clone(item)
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, id string) (HistoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return HistoryItem{}, ErrNotFound
	}
	return clone(item), nil
}

func (s *MemoryStore) List(ctx context.Context) ([]HistoryItem, error) {
	s.mu.RLock()
	items := make([]HistoryItem, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, clone(item))
	}
	s.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return ErrNotFound
	}
	delete(s.items, id)
	return nil
}
