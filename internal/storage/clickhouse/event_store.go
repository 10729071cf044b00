package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"dex-indexer/internal/domain"
	"dex-indexer/internal/storage"
)

// EventStore implements storage.EventStore on a ClickHouse ReplacingMergeTree.
// MergeTree does not enforce uniqueness, so Append checks for an existing
// (transaction_hash, log_index) row first.
type EventStore struct {
	conn *Conn
}

// NewEventStore creates a new EventStore.
func NewEventStore(conn *Conn) *EventStore {
	return &EventStore{conn: conn}
}

const eventColumns = `type, sender, pool_address, toString(amount0), toString(amount1),
	token0, token1, transaction_hash, log_index, block_number, timestamp`

// Append inserts an event. Returns ErrDuplicateKey if the log was already recorded.
func (s *EventStore) Append(ctx context.Context, e *domain.Event) error {
	if e == nil || !e.Type.Valid() || e.TransactionHash == "" {
		return storage.ErrInvalidInput
	}

	txHash := domain.NormalizeAddress(e.TransactionHash)

	var count uint64
	err := s.conn.QueryRow(ctx,
		`SELECT count() FROM events WHERE transaction_hash = ? AND log_index = ?`,
		txHash, uint32(e.LogIndex),
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("check event exists: %w", err)
	}
	if count > 0 {
		return storage.ErrDuplicateKey
	}

	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	query := `
		INSERT INTO events (
			type, sender, pool_address, amount0, amount1, token0, token1,
			transaction_hash, log_index, block_number, timestamp
		) VALUES (?, ?, ?, toUInt256OrNull(?), toUInt256OrNull(?), ?, ?, ?, ?, ?, ?)`

	err = s.conn.Exec(ctx, query,
		string(e.Type),
		domain.NormalizeAddress(e.Sender),
		normalizePtr(e.PoolAddress),
		decimalText(e.Amount0),
		decimalText(e.Amount1),
		normalizePtr(e.Token0),
		normalizePtr(e.Token1),
		txHash,
		uint32(e.LogIndex),
		e.BlockNumber,
		ts,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// GetByTransaction returns the events of a transaction ordered by log index.
func (s *EventStore) GetByTransaction(ctx context.Context, txHash string) ([]*domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events FINAL WHERE transaction_hash = ? ORDER BY log_index`
	return s.query(ctx, query, domain.NormalizeAddress(txHash))
}

// GetByPool returns the events of a pool ordered by (block_number, transaction_hash, log_index).
func (s *EventStore) GetByPool(ctx context.Context, pool string) ([]*domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events FINAL WHERE pool_address = ?
		ORDER BY block_number, transaction_hash, log_index`
	return s.query(ctx, query, domain.NormalizeAddress(pool))
}

func (s *EventStore) query(ctx context.Context, query string, args ...any) ([]*domain.Event, error) {
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var result []*domain.Event
	for rows.Next() {
		var (
			e                domain.Event
			typ              string
			amount0, amount1 *string
			logIndex         uint32
		)
		if err := rows.Scan(&typ, &e.Sender, &e.PoolAddress, &amount0, &amount1,
			&e.Token0, &e.Token1, &e.TransactionHash, &logIndex, &e.BlockNumber, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Type = domain.EventType(typ)
		e.LogIndex = uint(logIndex)
		if e.Amount0, err = parseDecimalPtr(amount0); err != nil {
			return nil, fmt.Errorf("parse amount0: %w", err)
		}
		if e.Amount1, err = parseDecimalPtr(amount1); err != nil {
			return nil, fmt.Errorf("parse amount1: %w", err)
		}
		result = append(result, &e)
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
