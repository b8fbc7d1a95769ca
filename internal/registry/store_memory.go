package registry

import (
	"context"
	"sync"

	"options_ledger/internal/option"
)

// MemoryStore implements core.IOptionStore in memory
type MemoryStore struct {
	mu        sync.RWMutex
	options   map[uint64]*option.Option
	positions map[string][]uint64
	// FailNext makes the next CommitOption return this error, for tests
	FailNext error
	// FailPositions makes every CommitOption that appends a position return this error
	FailPositions error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		options:   make(map[uint64]*option.Option),
		positions: make(map[string][]uint64),
	}
}

func (s *MemoryStore) CommitOption(ctx context.Context, opt *option.Option, positionAccount string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.FailNext; err != nil {
		s.FailNext = nil
		return err
	}
	if positionAccount != "" && s.FailPositions != nil {
		return s.FailPositions
	}
	s.options[opt.ID] = opt.Clone()
	if positionAccount != "" {
		s.positions[positionAccount] = append(s.positions[positionAccount], opt.ID)
	}
	return nil
}

func (s *MemoryStore) LoadOptions(ctx context.Context) ([]*option.Option, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*option.Option, 0, len(s.options))
	for id := uint64(0); id < uint64(len(s.options)); id++ {
		if opt, ok := s.options[id]; ok {
			out = append(out, opt.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) LoadPositions(ctx context.Context) (map[string][]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]uint64, len(s.positions))
	for k, v := range s.positions {
		out[k] = append([]uint64(nil), v...)
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
