package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"dex-indexer/internal/domain"
	"dex-indexer/internal/storage"
)

// PoolStore implements storage.PoolStore using PostgreSQL.
type PoolStore struct {
	pool *Pool
}

// NewPoolStore creates a new PoolStore.
func NewPoolStore(pool *Pool) *PoolStore {
	return &PoolStore{pool: pool}
}

const poolColumns = `id, address, token0, token1, reserve0::text, reserve1::text, swaps::text, created_at`

// GetByAddress retrieves a pool by address.
func (s *PoolStore) GetByAddress(ctx context.Context, address string) (*domain.Pool, error) {
	query := `SELECT ` + poolColumns + ` FROM pools WHERE address = $1`

	p, err := scanPool(s.pool.QueryRow(ctx, query, domain.NormalizeAddress(address)))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get pool: %w", err)
	}
	return p, nil
}

// Create inserts a pool with zero reserves. Returns ErrDuplicateKey if exists.
func (s *PoolStore) Create(ctx context.Context, address, token0, token1 string) (*domain.Pool, error) {
	address = domain.NormalizeAddress(address)
	if address == "" {
		return nil, storage.ErrInvalidInput
	}

	query := `
		INSERT INTO pools (address, token0, token1)
		VALUES ($1, $2, $3)
		RETURNING ` + poolColumns

	p, err := scanPool(s.pool.QueryRow(ctx, query,
		address, domain.NormalizeAddress(token0), domain.NormalizeAddress(token1)))
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, storage.ErrDuplicateKey
		}
		return nil, fmt.Errorf("insert pool: %w", err)
	}
	return p, nil
}

// UpdateReserves applies r in one statement so concurrent handlers never lose updates.
func (s *PoolStore) UpdateReserves(ctx context.Context, address string, r domain.Reserves, op domain.ReserveOp) error {
	if domain.ValidateAmount(r.Reserve0) != nil || domain.ValidateAmount(r.Reserve1) != nil {
		return storage.ErrInvalidInput
	}
	address = domain.NormalizeAddress(address)

	var query string
	args := []any{address, r.Reserve0.String(), r.Reserve1.String()}
	switch op {
	case domain.ReserveOpMint:
		query = `
			UPDATE pools
			SET reserve0 = reserve0 + $2::numeric, reserve1 = reserve1 + $3::numeric
			WHERE address = $1`
	case domain.ReserveOpBurn:
		query = `
			UPDATE pools
			SET reserve0 = reserve0 - $2::numeric, reserve1 = reserve1 - $3::numeric
			WHERE address = $1 AND reserve0 >= $2::numeric AND reserve1 >= $3::numeric`
	case domain.ReserveOpSwap:
		query = `
			UPDATE pools
			SET reserve0 = $2::numeric, reserve1 = $3::numeric, swaps = swaps + 1
			WHERE address = $1`
	case domain.ReserveOpCountSwap:
		query = `UPDATE pools SET swaps = swaps + 1 WHERE address = $1`
		args = args[:1]
	default:
		return storage.ErrInvalidInput
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		if isCheckViolation(err) {
			return storage.ErrNegativeBalance
		}
		return fmt.Errorf("update reserves (%s): %w", op, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	found, err := s.pool.exists(ctx, "pools", address)
	if err != nil {
		return err
	}
	if !found {
		return storage.ErrNotFound
	}
	return storage.ErrNegativeBalance
}

// GetAll returns all pools ordered by ID.
func (s *PoolStore) GetAll(ctx context.Context) ([]*domain.Pool, error) {
	query := `SELECT ` + poolColumns + ` FROM pools ORDER BY id ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query pools: %w", err)
	}
	defer rows.Close()

	var result []*domain.Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pool: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pools: %w", err)
	}
	return result, nil
}

func scanPool(row pgx.Row) (*domain.Pool, error) {
	var p domain.Pool
	var r0, r1, swaps string
	err := row.Scan(&p.ID, &p.Address, &p.Token0, &p.Token1, &r0, &r1, &swaps, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	if p.Reserve0, err = domain.ParseAmount(r0); err != nil {
		return nil, fmt.Errorf("parse reserve0: %w", err)
	}
	if p.Reserve1, err = domain.ParseAmount(r1); err != nil {
		return nil, fmt.Errorf("parse reserve1: %w", err)
	}
	if p.Swaps, err = domain.ParseAmount(swaps); err != nil {
		return nil, fmt.Errorf("parse swaps: %w", err)
	}
	return &p, nil
}

var _ storage.PoolStore = (*PoolStore)(nil)
