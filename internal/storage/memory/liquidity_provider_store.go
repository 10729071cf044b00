package memory

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"dex-indexer/internal/domain"
	"dex-indexer/internal/storage"
)

// LiquidityProviderStore is an in-memory implementation of storage.LiquidityProviderStore.
type LiquidityProviderStore struct {
	mu     sync.RWMutex
	data   map[string]*domain.LiquidityProvider
	nextID int64
}

// NewLiquidityProviderStore creates a new in-memory liquidity provider store.
func NewLiquidityProviderStore() *LiquidityProviderStore {
	return &LiquidityProviderStore{
		data: make(map[string]*domain.LiquidityProvider),
	}
}

// GetByAddress retrieves a provider by address.
func (s *LiquidityProviderStore) GetByAddress(_ context.Context, address string) (*domain.LiquidityProvider, error) {
	key := domain.NormalizeAddress(address)

	s.mu.RLock()
	defer s.mu.RUnlock()

	lp, ok := s.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return lp.Clone(), nil
}

// Create adds a new provider. Returns ErrDuplicateKey if exists.
func (s *LiquidityProviderStore) Create(_ context.Context, lp *domain.LiquidityProvider) (*domain.LiquidityProvider, error) {
	if lp == nil || domain.NormalizeAddress(lp.Address) == "" || lp.TotalShares.IsNegative() {
		return nil, storage.ErrInvalidInput
	}

	key := domain.NormalizeAddress(lp.Address)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; exists {
		return nil, storage.ErrDuplicateKey
	}

	s.nextID++
	stored := lp.Clone()
	stored.ID = s.nextID
	stored.Address = key
	stored.CreatedAt = time.Now().UTC()
	stored.PoolLiquidity = make(map[string]decimal.Decimal, len(lp.PoolLiquidity))
	for pool, shares := range lp.PoolLiquidity {
		stored.PoolLiquidity[domain.NormalizeAddress(pool)] = shares
	}
	s.data[key] = stored

	return stored.Clone(), nil
}

// Mint credits amount to the provider's total and pool shares.
func (s *LiquidityProviderStore) Mint(_ context.Context, address, pool string, amount decimal.Decimal) error {
	if domain.ValidateAmount(amount) != nil {
		return storage.ErrInvalidInput
	}
	key := domain.NormalizeAddress(address)
	poolKey := domain.NormalizeAddress(pool)

	s.mu.Lock()
	defer s.mu.Unlock()

	lp, ok := s.data[key]
	if !ok {
		return storage.ErrNotFound
	}
	lp.TotalShares = lp.TotalShares.Add(amount)
	lp.PoolLiquidity[poolKey] = lp.PoolLiquidity[poolKey].Add(amount)
	return nil
}

// Burn debits amount from the provider's total and pool shares.
func (s *LiquidityProviderStore) Burn(_ context.Context, address, pool string, amount decimal.Decimal) error {
	if domain.ValidateAmount(amount) != nil {
		return storage.ErrInvalidInput
	}
	key := domain.NormalizeAddress(address)
	poolKey := domain.NormalizeAddress(pool)

	s.mu.Lock()
	defer s.mu.Unlock()

	lp, ok := s.data[key]
	if !ok {
		return storage.ErrNotFound
	}
	if lp.PoolLiquidity[poolKey].LessThan(amount) || lp.TotalShares.LessThan(amount) {
		return storage.ErrNegativeBalance
	}
	lp.TotalShares = lp.TotalShares.Sub(amount)
	lp.PoolLiquidity[poolKey] = lp.PoolLiquidity[poolKey].Sub(amount)
	return nil
}

var _ storage.LiquidityProviderStore = (*LiquidityProviderStore)(nil)
