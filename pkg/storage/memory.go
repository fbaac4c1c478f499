package storage

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/absmach/fedguard/pkg/errors"
)

// inMemoryStorage keeps its keys sorted so prefix scans need no sort.
type inMemoryStorage struct {
	sync.RWMutex

	keys []string
	data map[string]any
}

func NewInMemoryStorage() Storage {
	return &inMemoryStorage{
		data: make(map[string]any),
	}
}

func (s *inMemoryStorage) Create(_ context.Context, key string, value any) error {
	if key == "" {
		return errors.ErrEmptyKey
	}

	s.Lock()
	defer s.Unlock()

	i, ok := slices.BinarySearch(s.keys, key)
	if ok {
		return errors.ErrEntityExists
	}
	s.keys = slices.Insert(s.keys, i, key)
	s.data[key] = value

	return nil
}

func (s *inMemoryStorage) Get(_ context.Context, key string) (any, error) {
	if key == "" {
		return nil, errors.ErrEmptyKey
	}

	s.RLock()
	defer s.RUnlock()

	if val, ok := s.data[key]; ok {
		return val, nil
	}

	return nil, errors.ErrNotFound
}

// List pages through the values under prefix in ascending key order.
func (s *inMemoryStorage) List(_ context.Context, prefix string, offset, limit uint64) (result []any, total uint64, err error) {
	s.RLock()
	defer s.RUnlock()

	lo, hi := s.span(prefix)
	total = uint64(hi - lo)
	if offset >= total {
		return []any{}, total, nil
	}

	end := total
	if limit < total-offset {
		end = offset + limit
	}

	result = make([]any, 0, end-offset)
	for _, k := range s.keys[lo+int(offset) : lo+int(end)] {
		result = append(result, s.data[k])
	}

	return result, total, nil
}

func (s *inMemoryStorage) Last(_ context.Context, prefix string) (any, error) {
	s.RLock()
	defer s.RUnlock()

	lo, hi := s.span(prefix)
	if lo == hi {
		return nil, errors.ErrNotFound
	}

	return s.data[s.keys[hi-1]], nil
}

// span returns the index range of the keys starting with prefix.
func (s *inMemoryStorage) span(prefix string) (lo, hi int) {
	lo, _ = slices.BinarySearch(s.keys, prefix)
	hi = lo
	for hi < len(s.keys) && strings.HasPrefix(s.keys[hi], prefix) {
		hi++
	}

	return lo, hi
}
