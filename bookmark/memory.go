package bookmark

import (
	"context"
	"sync"
)

// MemoryStore is a dependency-free Store test double.
type MemoryStore struct {
	mu    sync.Mutex
	marks map[string]int64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{marks: map[string]int64{}}
}

func (s *MemoryStore) BookmarkFor(ctx context.Context, name string) (Bookmark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Bookmark{Name: name, Sequence: s.marks[name]}, nil
}

func (s *MemoryStore) Save(ctx context.Context, name string, sequence int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks[name] = sequence
	return nil
}
