package talks

import (
	"context"
	"sync"

	"skill-sharing/server/internal/model"
)

// InMemoryStore 是基于内存的 Store 实现，主要用于测试与 store.driver=memory。
// 注意：重启即丢数据。
type InMemoryStore struct {
	mu    sync.RWMutex
	order []string
	data  map[string]model.Talk
}

func NewInMemoryStore(seed ...model.Talk) *InMemoryStore {
	s := &InMemoryStore{data: make(map[string]model.Talk)}
	for _, t := range seed {
		s.put(t)
	}
	return s
}

func (s *InMemoryStore) FindAll(_ context.Context) ([]model.Talk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Talk, 0, len(s.order))
	for _, title := range s.order {
		out = append(out, s.data[title].Clone())
	}
	return out, nil
}

func (s *InMemoryStore) FindByTitle(_ context.Context, title string) (model.Talk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	talk, ok := s.data[title]
	if !ok {
		return model.Talk{}, ErrNotFound
	}
	return talk.Clone(), nil
}

func (s *InMemoryStore) Save(_ context.Context, talk model.Talk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.put(talk)
	return nil
}

func (s *InMemoryStore) DeleteByTitle(_ context.Context, title string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[title]; !ok {
		return false, nil
	}
	delete(s.data, title)
	for i, t := range s.order {
		if t == title {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (s *InMemoryStore) put(talk model.Talk) {
	if _, ok := s.data[talk.Title]; !ok {
		s.order = append(s.order, talk.Title)
	}
	s.data[talk.Title] = talk.Normalize().Clone()
}
