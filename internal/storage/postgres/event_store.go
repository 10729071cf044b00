package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"dex-indexer/internal/domain"
	"dex-indexer/internal/storage"
)

// EventStore implements storage.EventStore using PostgreSQL.
type EventStore struct {
	pool *Pool
}

// NewEventStore creates a new EventStore.
func NewEventStore(pool *Pool) *EventStore {
	return &EventStore{pool: pool}
}

const eventColumns = `id, type::text, sender, pool_address, amount0::text, amount1::text,
	token0, token1, transaction_hash, log_index, block_number, timestamp`

// Append inserts an event. Returns ErrDuplicateKey if the log was already recorded.
func (s *EventStore) Append(ctx context.Context, e *domain.Event) error {
	if e == nil || !e.Type.Valid() || e.TransactionHash == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO events (
			type, sender, pool_address, amount0, amount1, token0, token1,
			transaction_hash, log_index, block_number, timestamp
		) VALUES (
			$1::event_type, $2, $3, $4::numeric, $5::numeric, $6, $7,
			$8, $9, $10, COALESCE($11::timestamptz, now())
		)
		RETURNING id`

	var ts *time.Time
	if !e.Timestamp.IsZero() {
		ts = &e.Timestamp
	}

	err := s.pool.QueryRow(ctx, query,
		string(e.Type),
		domain.NormalizeAddress(e.Sender),
		normalizePtr(e.PoolAddress),
		decimalText(e.Amount0),
		decimalText(e.Amount1),
		normalizePtr(e.Token0),
		normalizePtr(e.Token1),
		domain.NormalizeAddress(e.TransactionHash),
		int64(e.LogIndex),
		int64(e.BlockNumber),
		ts,
	).Scan(&e.ID)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// GetByTransaction returns the events of a transaction ordered by log index.
func (s *EventStore) GetByTransaction(ctx context.Context, txHash string) ([]*domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE transaction_hash = $1 ORDER BY log_index ASC`

	rows, err := s.pool.Query(ctx, query, domain.NormalizeAddress(txHash))
	if err != nil {
		return nil, fmt.Errorf("query events by transaction: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GetByPool returns the events of a pool ordered by (block_number, transaction_hash, log_index).
func (s *EventStore) GetByPool(ctx context.Context, pool string) ([]*domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE pool_address = $1
		ORDER BY block_number ASC, transaction_hash ASC, log_index ASC`

	rows, err := s.pool.Query(ctx, query, domain.NormalizeAddress(pool))
	if err != nil {
		return nil, fmt.Errorf("query events by pool: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvent(row pgx.Row) (*domain.Event, error) {
	var e domain.Event
	var typ string
	var amount0, amount1 *string
	var logIndex int32
	var block int64

	err := row.Scan(&e.ID, &typ, &e.Sender, &e.PoolAddress, &amount0, &amount1,
		&e.Token0, &e.Token1, &e.TransactionHash, &logIndex, &block, &e.Timestamp)
	if err != nil {
		return nil, err
	}

	e.Type = domain.EventType(typ)
	e.LogIndex = uint(logIndex)
	e.BlockNumber = uint64(block)
	if e.Amount0, err = parseDecimalPtr(amount0); err != nil {
		return nil, fmt.Errorf("parse amount0: %w", err)
	}
	if e.Amount1, err = parseDecimalPtr(amount1); err != nil {
		return nil, fmt.Errorf("parse amount1: %w", err)
	}
	return &e, nil
}

func scanEvents(rows pgx.Rows) ([]*domain.Event, error) {
	var result []*domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return result, nil
}

func normalizePtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := domain.NormalizeAddress(*s)
	return &v
}

func decimalText(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func parseDecimalPtr(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

var _ storage.EventStore = (*EventStore)(nil)
