package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"dex-indexer/internal/domain"
	"dex-indexer/internal/storage"
)

// PoolStore is an in-memory implementation of storage.PoolStore.
type PoolStore struct {
	mu     sync.RWMutex
	data   map[string]*domain.Pool // keyed by lower-case address
	nextID int64
}

// NewPoolStore creates a new in-memory pool store.
func NewPoolStore() *PoolStore {
	return &PoolStore{
		data: make(map[string]*domain.Pool),
	}
}

// GetByAddress retrieves a pool by address.
func (s *PoolStore) GetByAddress(_ context.Context, address string) (*domain.Pool, error) {
	key := domain.NormalizeAddress(address)

	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	poolCopy := *p
	return &poolCopy, nil
}

// Create adds a new pool with zero reserves. Returns ErrDuplicateKey if exists.
func (s *PoolStore) Create(_ context.Context, address, token0, token1 string) (*domain.Pool, error) {
	key := domain.NormalizeAddress(address)
	if key == "" {
		return nil, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; exists {
		return nil, storage.ErrDuplicateKey
	}

	s.nextID++
	p := &domain.Pool{
		ID:        s.nextID,
		Address:   key,
		Token0:    domain.NormalizeAddress(token0),
		Token1:    domain.NormalizeAddress(token1),
		Reserve0:  decimal.Zero,
		Reserve1:  decimal.Zero,
		Swaps:     decimal.Zero,
		CreatedAt: time.Now().UTC(),
	}
	s.data[key] = p

	poolCopy := *p
	return &poolCopy, nil
}

// UpdateReserves applies r to the pool under the store lock.
func (s *PoolStore) UpdateReserves(_ context.Context, address string, r domain.Reserves, op domain.ReserveOp) error {
	if domain.ValidateAmount(r.Reserve0) != nil || domain.ValidateAmount(r.Reserve1) != nil {
		return storage.ErrInvalidInput
	}
	key := domain.NormalizeAddress(address)

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.data[key]
	if !ok {
		return storage.ErrNotFound
	}

	switch op {
	case domain.ReserveOpMint:
		p.Reserve0 = p.Reserve0.Add(r.Reserve0)
		p.Reserve1 = p.Reserve1.Add(r.Reserve1)
	case domain.ReserveOpBurn:
		if p.Reserve0.LessThan(r.Reserve0) || p.Reserve1.LessThan(r.Reserve1) {
			return storage.ErrNegativeBalance
		}
		p.Reserve0 = p.Reserve0.Sub(r.Reserve0)
		p.Reserve1 = p.Reserve1.Sub(r.Reserve1)
	case domain.ReserveOpSwap:
		p.Reserve0 = r.Reserve0
		p.Reserve1 = r.Reserve1
		p.Swaps = p.Swaps.Add(decimal.NewFromInt(1))
	case domain.ReserveOpCountSwap:
		p.Swaps = p.Swaps.Add(decimal.NewFromInt(1))
	default:
		return storage.ErrInvalidInput
	}
	return nil
}

// GetAll returns all pools ordered by ID.
func (s *PoolStore) GetAll(_ context.Context) ([]*domain.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Pool, 0, len(s.data))
	for _, p := range s.data {
		poolCopy := *p
		result = append(result, &poolCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})

	return result, nil
}

var _ storage.PoolStore = (*PoolStore)(nil)
