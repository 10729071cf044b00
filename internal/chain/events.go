package chain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrMalformedLog is returned when a log carries a known topic but its
// topics or data do not match the event definition.
var ErrMalformedLog = errors.New("malformed log")

// Event is a decoded contract event. The concrete types are
// *PairCreated, *Mint, *Burn, *Swap, *SwapForwarded and *UnknownEvent.
type Event interface {
	EventName() string
}

// PairCreated is emitted by the factory when a pool is deployed.
type PairCreated struct {
	Token0    common.Address
	Token1    common.Address
	Pair      common.Address
	PoolCount *big.Int
}

// Mint is emitted when liquidity is added to a pool.
type Mint struct {
	Sender    common.Address
	Amount0   *big.Int
	Amount1   *big.Int
	Liquidity *big.Int
}

// Burn is emitted when liquidity is removed from a pool.
type Burn struct {
	Sender    common.Address
	To        common.Address
	Amount0   *big.Int
	Amount1   *big.Int
	Liquidity *big.Int
}

// Swap is emitted by a pool on a direct trade.
type Swap struct {
	Sender    common.Address
	TokenIn   common.Address
	TokenOut  common.Address
	AmountIn  *big.Int
	AmountOut *big.Int
}

// SwapForwarded is emitted when a router forwards a trade on behalf of User.
type SwapForwarded struct {
	User      common.Address
	TokenIn   common.Address
	TokenOut  common.Address
	AmountIn  *big.Int
	AmountOut *big.Int
}

// UnknownEvent carries a topic that no known event matches.
type UnknownEvent struct {
	Topic common.Hash
}

func (*PairCreated) EventName() string   { return EventPairCreated }
func (*Mint) EventName() string          { return EventMint }
func (*Burn) EventName() string          { return EventBurn }
func (*Swap) EventName() string          { return EventSwap }
func (*SwapForwarded) EventName() string { return EventSwapForwarded }
func (*UnknownEvent) EventName() string  { return "Unknown" }

// Log is a decoded event with its position on chain.
type Log struct {
	Event       Event
	Address     common.Address // emitting contract
	TxHash      common.Hash
	BlockNumber uint64
	TxIndex     uint
	Index       uint
}

// Decode converts a raw log into a Log. Unknown topics decode to *UnknownEvent;
// a known topic with bad topics or data returns ErrMalformedLog.
func Decode(raw types.Log) (Log, error) {
	out := Log{
		Address:     raw.Address,
		TxHash:      raw.TxHash,
		BlockNumber: raw.BlockNumber,
		TxIndex:     raw.TxIndex,
		Index:       raw.Index,
	}
	if len(raw.Topics) == 0 {
		out.Event = &UnknownEvent{}
		return out, nil
	}

	def, ok := eventsByID[raw.Topics[0]]
	if !ok {
		out.Event = &UnknownEvent{Topic: raw.Topics[0]}
		return out, nil
	}

	indexed := 0
	for _, in := range def.Inputs {
		if in.Indexed {
			indexed++
		}
	}
	if len(raw.Topics) != indexed+1 {
		return out, fmt.Errorf("%w: %s has %d topics, want %d", ErrMalformedLog, def.Name, len(raw.Topics), indexed+1)
	}

	values, err := def.Inputs.NonIndexed().Unpack(raw.Data)
	if err != nil {
		return out, fmt.Errorf("%w: unpack %s: %v", ErrMalformedLog, def.Name, err)
	}
	topics := raw.Topics[1:]
	topicAddr := func(i int) common.Address { return common.BytesToAddress(topics[i].Bytes()) }

	switch def.Name {
	case EventPairCreated:
		out.Event = &PairCreated{
			Token0:    topicAddr(0),
			Token1:    topicAddr(1),
			Pair:      values[0].(common.Address),
			PoolCount: values[1].(*big.Int),
		}
	case EventMint:
		out.Event = &Mint{
			Sender:    topicAddr(0),
			Amount0:   values[0].(*big.Int),
			Amount1:   values[1].(*big.Int),
			Liquidity: values[2].(*big.Int),
		}
	case EventBurn:
		out.Event = &Burn{
			Sender:    topicAddr(0),
			To:        topicAddr(1),
			Amount0:   values[0].(*big.Int),
			Amount1:   values[1].(*big.Int),
			Liquidity: values[2].(*big.Int),
		}
	case EventSwap:
		out.Event = &Swap{
			Sender:    topicAddr(0),
			TokenIn:   values[0].(common.Address),
			TokenOut:  values[1].(common.Address),
			AmountIn:  values[2].(*big.Int),
			AmountOut: values[3].(*big.Int),
		}
	case EventSwapForwarded:
		out.Event = &SwapForwarded{
			User:      values[0].(common.Address),
			TokenIn:   values[1].(common.Address),
			TokenOut:  values[2].(common.Address),
			AmountIn:  values[3].(*big.Int),
			AmountOut: values[4].(*big.Int),
		}
	default:
		out.Event = &UnknownEvent{Topic: raw.Topics[0]}
	}
	return out, nil
}
