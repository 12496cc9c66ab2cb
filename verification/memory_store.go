package verification

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type memEntry struct {
	key string
	rec Record
}

// MemoryStore is a process-local Store. Entries expire after the TTL and,
// past the capacity cap, the oldest entries are evicted first. Expired
// entries are purged on every access.
type MemoryStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	now      func() time.Time

	order *list.List // oldest at front
	items map[string]*list.Element
}

type MemoryOption func(*MemoryStore)

func WithTTL(ttl time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithCapacity(n int) MemoryOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.capacity = n
		}
	}
}

func WithStoreClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		ttl:      DefaultTTL,
		capacity: DefaultCapacity,
		now:      time.Now,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Get(_ context.Context, key string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purge()
	el, ok := s.items[key]
	if !ok {
		return Record{}, false, nil
	}
	return el.Value.(*memEntry).rec, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purge()
	if el, ok := s.items[key]; ok {
		s.order.Remove(el)
		delete(s.items, key)
	}
	s.insert(key, value)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[key]; ok {
		s.order.Remove(el)
		delete(s.items, key)
	}
	s.purge()
	return nil
}

func (s *MemoryStore) SetIfAbsent(_ context.Context, key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purge()
	if _, ok := s.items[key]; ok {
		return false, nil
	}
	s.insert(key, value)
	return true, nil
}

// Len reports the number of live entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purge()
	return len(s.items)
}

func (s *MemoryStore) insert(key, value string) {
	el := s.order.PushBack(&memEntry{key: key, rec: Record{Value: value, CreatedAt: s.now()}})
	s.items[key] = el
	for len(s.items) > s.capacity {
		s.evict(s.order.Front())
	}
}

// purge drops expired entries. Insertion order is creation order, so the
// scan stops at the first live entry.
func (s *MemoryStore) purge() {
	cutoff := s.now().Add(-s.ttl)
	for el := s.order.Front(); el != nil; el = s.order.Front() {
		if el.Value.(*memEntry).rec.CreatedAt.After(cutoff) {
			return
		}
		s.evict(el)
	}
}

func (s *MemoryStore) evict(el *list.Element) {
	s.order.Remove(el)
	delete(s.items, el.Value.(*memEntry).key)
}
