package storage

import (
	"context"

	"dex-indexer/internal/domain"

	"github.com/shopspring/decimal"
)

// All stores normalize addresses to lower case before writes and lookups,
// so callers may pass checksummed or mixed-case input.

// PoolStore persists pools keyed by pair address.
type PoolStore interface {
	// GetByAddress returns the pool or ErrNotFound.
	GetByAddress(ctx context.Context, address string) (*domain.Pool, error)

	// Create inserts a pool with zero reserves and zero swaps.
	// Returns ErrDuplicateKey if a pool with the address exists.
	Create(ctx context.Context, address, token0, token1 string) (*domain.Pool, error)

	// UpdateReserves applies r according to op in a single atomic step.
	// Returns ErrNotFound if the pool does not exist and ErrNegativeBalance
	// if a burn exceeds the current reserves.
	UpdateReserves(ctx context.Context, address string, r domain.Reserves, op domain.ReserveOp) error

	// GetAll returns every pool ordered by creation.
	GetAll(ctx context.Context) ([]*domain.Pool, error)
}

// UserStore persists users keyed by wallet address.
type UserStore interface {
	// GetByAddress returns the user or ErrNotFound.
	GetByAddress(ctx context.Context, address string) (*domain.User, error)

	// Create inserts a user. Status defaults to pending when empty.
	// Returns ErrDuplicateKey if the address exists.
	Create(ctx context.Context, user *domain.User) (*domain.User, error)

	// IncrementSwaps adds one to the user's swap count, creating the
	// user with a count of one if absent.
	IncrementSwaps(ctx context.Context, address string) error
}

// LiquidityProviderStore persists LP share balances.
type LiquidityProviderStore interface {
	// GetByAddress returns the provider or ErrNotFound.
	GetByAddress(ctx context.Context, address string) (*domain.LiquidityProvider, error)

	// Create inserts a provider. Returns ErrDuplicateKey if the address exists.
	Create(ctx context.Context, lp *domain.LiquidityProvider) (*domain.LiquidityProvider, error)

	// Mint adds amount to both the total and the pool's shares.
	// Returns ErrNotFound if the provider does not exist.
	Mint(ctx context.Context, address, pool string, amount decimal.Decimal) error

	// Burn subtracts amount from both the total and the pool's shares.
	// Returns ErrNotFound if the provider does not exist and
	// ErrNegativeBalance if the pool's shares are insufficient.
	Burn(ctx context.Context, address, pool string, amount decimal.Decimal) error
}

// EventStore is the append-only event log.
type EventStore interface {
	// Append inserts an event record.
	// Returns ErrDuplicateKey if (transaction_hash, log_index) was already recorded.
	Append(ctx context.Context, e *domain.Event) error

	// GetByTransaction returns the events of a transaction ordered by log index.
	GetByTransaction(ctx context.Context, txHash string) ([]*domain.Event, error)

	// GetByPool returns the events of a pool ordered by (block, log index).
	GetByPool(ctx context.Context, pool string) ([]*domain.Event, error)
}
