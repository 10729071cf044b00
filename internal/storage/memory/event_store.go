package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"dex-indexer/internal/domain"
	"dex-indexer/internal/storage"
)

// EventStore is an in-memory implementation of storage.EventStore.
type EventStore struct {
	mu     sync.RWMutex
	data   map[string]*domain.Event // keyed by tx hash and log index
	nextID int64
}

// NewEventStore creates a new in-memory event store.
func NewEventStore() *EventStore {
	return &EventStore{
		data: make(map[string]*domain.Event),
	}
}

func eventKey(txHash string, logIndex uint) string {
	return fmt.Sprintf("%s|%d", domain.NormalizeAddress(txHash), logIndex)
}

// Append adds an event. Returns ErrDuplicateKey if the log was already recorded.
func (s *EventStore) Append(_ context.Context, e *domain.Event) error {
	if e == nil || !e.Type.Valid() || e.TransactionHash == "" {
		return storage.ErrInvalidInput
	}

	key := eventKey(e.TransactionHash, e.LogIndex)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; exists {
		return storage.ErrDuplicateKey
	}

	s.nextID++
	stored := normalizeEvent(e)
	stored.ID = s.nextID
	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Now().UTC()
	}
	s.data[key] = stored
	e.ID = stored.ID
	return nil
}

// GetByTransaction returns the events of a transaction ordered by log index.
func (s *EventStore) GetByTransaction(_ context.Context, txHash string) ([]*domain.Event, error) {
	txHash = domain.NormalizeAddress(txHash)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Event
	for _, e := range s.data {
		if e.TransactionHash == txHash {
			eventCopy := *e
			result = append(result, &eventCopy)
		}
	}
	sortEvents(result)
	return result, nil
}

// GetByPool returns the events of a pool ordered by block and log index.
func (s *EventStore) GetByPool(_ context.Context, pool string) ([]*domain.Event, error) {
	pool = domain.NormalizeAddress(pool)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Event
	for _, e := range s.data {
		if e.PoolAddress != nil && *e.PoolAddress == pool {
			eventCopy := *e
			result = append(result, &eventCopy)
		}
	}
	sortEvents(result)
	return result, nil
}

// Len returns the number of stored events.
func (s *EventStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func sortEvents(events []*domain.Event) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber < events[j].BlockNumber
		}
		if events[i].TransactionHash != events[j].TransactionHash {
			return events[i].TransactionHash < events[j].TransactionHash
		}
		return events[i].LogIndex < events[j].LogIndex
	})
}

func normalizeEvent(e *domain.Event) *domain.Event {
	c := *e
	c.Sender = domain.NormalizeAddress(e.Sender)
	c.TransactionHash = domain.NormalizeAddress(e.TransactionHash)
	if e.PoolAddress != nil {
		v := domain.NormalizeAddress(*e.PoolAddress)
		c.PoolAddress = &v
	}
	if e.Token0 != nil {
		v := domain.NormalizeAddress(*e.Token0)
		c.Token0 = &v
	}
	if e.Token1 != nil {
		v := domain.NormalizeAddress(*e.Token1)
		c.Token1 = &v
	}
	return &c
}

var _ storage.EventStore = (*EventStore)(nil)
