package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType classifies an Event record.
type EventType string

// Event types
const (
	EventTypeMint          EventType = "MINT"
	EventTypeBurn          EventType = "BURN"
	EventTypeSwap          EventType = "SWAP"
	EventTypeSwapForwarded EventType = "SWAP_FORWARDED"
	EventTypeInvestment    EventType = "INVESTMENT"
	EventTypeDivestment    EventType = "DIVESTMENT"
	EventTypePairCreated   EventType = "PAIR_CREATED"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventTypeMint, EventTypeBurn, EventTypeSwap, EventTypeSwapForwarded,
		EventTypeInvestment, EventTypeDivestment, EventTypePairCreated:
		return true
	}
	return false
}

// Event is an append-only audit record of one observed chain log.
// Corresponds to events table in PostgreSQL.
type Event struct {
	ID              int64
	Type            EventType
	Sender          string  // lower-case
	PoolAddress     *string // lower-case
	Amount0         *decimal.Decimal
	Amount1         *decimal.Decimal
	Token0          *string
	Token1          *string
	TransactionHash string // lower-case 0x-prefixed
	LogIndex        uint
	BlockNumber     uint64
	Timestamp       time.Time
}
