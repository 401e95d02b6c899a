package bus

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryRecord struct {
	data    []byte
	expires time.Time
}

// MemoryStore is an in-process Store for tests and single-process
// deployments without Redis. Multiple buses sharing one MemoryStore see
// each other's events.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]memoryRecord
	subs    []chan Notification
	closed  bool
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]memoryRecord),
	}
}

func (s *MemoryStore) Write(_ context.Context, key string, record []byte, ttl time.Duration) error {
	data := make([]byte, len(record))
	copy(data, record)

	s.mu.Lock()
	s.records[key] = memoryRecord{data: data, expires: time.Now().Add(ttl)}
	subs := make([]chan Notification, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub <- Notification{Key: key, Record: data}:
		default:
		}
	}
	return nil
}

func (s *MemoryStore) Scan(_ context.Context) (map[string][]byte, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	live := make(map[string][]byte, len(s.records))
	for key, record := range s.records {
		if now.After(record.expires) {
			delete(s.records, key)
			continue
		}
		if strings.HasPrefix(key, KeyPrefix) {
			live[key] = record.data
		}
	}
	return live, nil
}

// Notifications returns a fresh push stream; each bus attached to the
// store gets its own.
func (s *MemoryStore) Notifications() <-chan Notification {
	ch := make(chan Notification, 64)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, sub := range s.subs {
		close(sub)
	}
	s.subs = nil
	return nil
}
