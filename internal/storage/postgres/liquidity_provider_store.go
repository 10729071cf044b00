package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"dex-indexer/internal/domain"
	"dex-indexer/internal/storage"
)

// LiquidityProviderStore implements storage.LiquidityProviderStore using PostgreSQL.
// Per-pool shares live in a jsonb object of decimal strings keyed by pool address.
type LiquidityProviderStore struct {
	pool *Pool
}

// NewLiquidityProviderStore creates a new LiquidityProviderStore.
func NewLiquidityProviderStore(pool *Pool) *LiquidityProviderStore {
	return &LiquidityProviderStore{pool: pool}
}

const lpColumns = `id, user_id, address, total_shares::text, pool_liquidity::text, created_at`

// GetByAddress retrieves a provider by address.
func (s *LiquidityProviderStore) GetByAddress(ctx context.Context, address string) (*domain.LiquidityProvider, error) {
	query := `SELECT ` + lpColumns + ` FROM liquidity_providers WHERE address = $1`

	lp, err := scanLiquidityProvider(s.pool.QueryRow(ctx, query, domain.NormalizeAddress(address)))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get liquidity provider: %w", err)
	}
	return lp, nil
}

// Create inserts a provider. Returns ErrDuplicateKey if exists.
func (s *LiquidityProviderStore) Create(ctx context.Context, lp *domain.LiquidityProvider) (*domain.LiquidityProvider, error) {
	if lp == nil || domain.NormalizeAddress(lp.Address) == "" || lp.TotalShares.IsNegative() {
		return nil, storage.ErrInvalidInput
	}

	shares := make(map[string]decimal.Decimal, len(lp.PoolLiquidity))
	for pool, v := range lp.PoolLiquidity {
		shares[domain.NormalizeAddress(pool)] = v
	}
	doc, err := json.Marshal(shares)
	if err != nil {
		return nil, fmt.Errorf("marshal pool liquidity: %w", err)
	}

	query := `
		INSERT INTO liquidity_providers (user_id, address, total_shares, pool_liquidity)
		VALUES ($1, $2, $3::numeric, $4::jsonb)
		RETURNING ` + lpColumns

	created, err := scanLiquidityProvider(s.pool.QueryRow(ctx, query,
		lp.UserID, domain.NormalizeAddress(lp.Address), lp.TotalShares.String(), string(doc)))
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, storage.ErrDuplicateKey
		}
		return nil, fmt.Errorf("insert liquidity provider: %w", err)
	}
	return created, nil
}

// Mint adds amount to total_shares and pool_liquidity[pool] in one statement.
func (s *LiquidityProviderStore) Mint(ctx context.Context, address, pool string, amount decimal.Decimal) error {
	if domain.ValidateAmount(amount) != nil {
		return storage.ErrInvalidInput
	}
	address = domain.NormalizeAddress(address)

	query := `
		UPDATE liquidity_providers
		SET total_shares = total_shares + $3::numeric,
		    pool_liquidity = jsonb_set(pool_liquidity, ARRAY[$2::text],
		        to_jsonb((COALESCE((pool_liquidity ->> $2::text)::numeric, 0) + $3::numeric)::text))
		WHERE address = $1`

	tag, err := s.pool.Exec(ctx, query, address, domain.NormalizeAddress(pool), amount.String())
	if err != nil {
		return fmt.Errorf("mint liquidity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Burn subtracts amount from total_shares and pool_liquidity[pool] in one statement.
func (s *LiquidityProviderStore) Burn(ctx context.Context, address, pool string, amount decimal.Decimal) error {
	if domain.ValidateAmount(amount) != nil {
		return storage.ErrInvalidInput
	}
	address = domain.NormalizeAddress(address)

	query := `
		UPDATE liquidity_providers
		SET total_shares = total_shares - $3::numeric,
		    pool_liquidity = jsonb_set(pool_liquidity, ARRAY[$2::text],
		        to_jsonb((COALESCE((pool_liquidity ->> $2::text)::numeric, 0) - $3::numeric)::text))
		WHERE address = $1
		  AND total_shares >= $3::numeric
		  AND COALESCE((pool_liquidity ->> $2::text)::numeric, 0) >= $3::numeric`

	tag, err := s.pool.Exec(ctx, query, address, domain.NormalizeAddress(pool), amount.String())
	if err != nil {
		return fmt.Errorf("burn liquidity: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	found, err := s.pool.exists(ctx, "liquidity_providers", address)
	if err != nil {
		return err
	}
	if !found {
		return storage.ErrNotFound
	}
	return storage.ErrNegativeBalance
}

func scanLiquidityProvider(row pgx.Row) (*domain.LiquidityProvider, error) {
	var lp domain.LiquidityProvider
	var total, doc string
	if err := row.Scan(&lp.ID, &lp.UserID, &lp.Address, &total, &doc, &lp.CreatedAt); err != nil {
		return nil, err
	}

	var err error
	if lp.TotalShares, err = domain.ParseAmount(total); err != nil {
		return nil, fmt.Errorf("parse total_shares: %w", err)
	}
	lp.PoolLiquidity = make(map[string]decimal.Decimal)
	if err := json.Unmarshal([]byte(doc), &lp.PoolLiquidity); err != nil {
		return nil, fmt.Errorf("parse pool_liquidity: %w", err)
	}
	return &lp, nil
}

var _ storage.LiquidityProviderStore = (*LiquidityProviderStore)(nil)
