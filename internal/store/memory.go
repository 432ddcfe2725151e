package store

import (
	"context"
	"sort"
	"sync"
)

// NewMemoryStore 构建进程内存储，所有代际共享一把读写锁。
func NewMemoryStore() Store {
	return &memoryStore{
		versions: make(map[string]map[Key]*Response),
	}
}

type memoryStore struct {
	mu       sync.RWMutex
	versions map[string]map[Key]*Response
}

func (s *memoryStore) Get(ctx context.Context, version string, key Key) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, ok := s.versions[version]
	if !ok {
		return nil, ErrNotFound
	}
	resp, ok := entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return resp.Clone(), nil
}

func (s *memoryStore) Put(ctx context.Context, version string, key Key, resp *Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, ok := s.versions[version]
	if !ok {
		entries = make(map[Key]*Response)
		s.versions[version] = entries
	}
	entries[key] = resp.Clone()
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, version string, key Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entries, ok := s.versions[version]; ok {
		delete(entries, key)
	}
	return nil
}

func (s *memoryStore) Keys(ctx context.Context, version string) ([]Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, ok := s.versions[version]
	if !ok {
		return nil, nil
	}
	keys := make([]Key, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys, nil
}

func (s *memoryStore) Versions(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := make([]string, 0, len(s.versions))
	for version := range s.versions {
		versions = append(versions, version)
	}
	sort.Strings(versions)
	return versions, nil
}

func (s *memoryStore) DeleteVersion(ctx context.Context, version string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.versions, version)
	return nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.versions = make(map[string]map[Key]*Response)
	return nil
}
