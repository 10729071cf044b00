package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"dex-indexer/internal/domain"
	"dex-indexer/internal/storage"
)

// UserStore implements storage.UserStore using PostgreSQL.
type UserStore struct {
	pool *Pool
}

// NewUserStore creates a new UserStore.
func NewUserStore(pool *Pool) *UserStore {
	return &UserStore{pool: pool}
}

const userColumns = `id, address, name, email, swaps, status::text, created_at`

// GetByAddress retrieves a user by address.
func (s *UserStore) GetByAddress(ctx context.Context, address string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE address = $1`

	u, err := scanUser(s.pool.QueryRow(ctx, query, domain.NormalizeAddress(address)))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// Create inserts a user. Returns ErrDuplicateKey if exists.
func (s *UserStore) Create(ctx context.Context, user *domain.User) (*domain.User, error) {
	if user == nil || domain.NormalizeAddress(user.Address) == "" {
		return nil, storage.ErrInvalidInput
	}
	status := user.Status
	if status == "" {
		status = domain.UserStatusPending
	}
	if !status.Valid() {
		return nil, storage.ErrInvalidInput
	}

	query := `
		INSERT INTO users (address, name, email, swaps, status)
		VALUES ($1, $2, $3, $4, $5::user_status)
		RETURNING ` + userColumns

	u, err := scanUser(s.pool.QueryRow(ctx, query,
		domain.NormalizeAddress(user.Address), user.Name, user.Email, user.Swaps, string(status)))
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, storage.ErrDuplicateKey
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// IncrementSwaps upserts the user and adds one swap atomically.
func (s *UserStore) IncrementSwaps(ctx context.Context, address string) error {
	address = domain.NormalizeAddress(address)
	if address == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO users (address, swaps)
		VALUES ($1, 1)
		ON CONFLICT (address) DO UPDATE SET swaps = users.swaps + 1`

	if _, err := s.pool.Exec(ctx, query, address); err != nil {
		return fmt.Errorf("increment user swaps: %w", err)
	}
	return nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	var status string
	if err := row.Scan(&u.ID, &u.Address, &u.Name, &u.Email, &u.Swaps, &status, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Status = domain.UserStatus(status)
	return &u, nil
}

var _ storage.UserStore = (*UserStore)(nil)
