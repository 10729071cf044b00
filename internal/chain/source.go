package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// Filter selects logs emitted by one contract for a set of event names.
type Filter struct {
	Address common.Address
	Events  []string
	// FromBlock is the first block to deliver. Zero starts after the
	// chain head observed when the watch opens.
	FromBlock uint64
}

// Query converts the filter into an eth_getLogs / eth_subscribe query.
// Topic0 is the OR of the event IDs.
func (f Filter) Query() (ethereum.FilterQuery, error) {
	ids := make([]common.Hash, 0, len(f.Events))
	for _, name := range f.Events {
		id, ok := EventID(name)
		if !ok {
			return ethereum.FilterQuery{}, fmt.Errorf("unknown event %q", name)
		}
		ids = append(ids, id)
	}
	q := ethereum.FilterQuery{Addresses: []common.Address{f.Address}}
	if len(ids) > 0 {
		q.Topics = [][]common.Hash{ids}
	}
	if f.FromBlock > 0 {
		q.FromBlock = new(big.Int).SetUint64(f.FromBlock)
	}
	return q, nil
}

// LogHandler receives decoded logs in delivery order. A subscription never
// invokes its handler concurrently with itself.
type LogHandler func(ctx context.Context, logs []Log)

// Subscription is a live watch.
type Subscription interface {
	// Unsubscribe stops the watch and waits for its handler to return.
	// It is safe to call more than once.
	Unsubscribe()
}

// LogSource delivers decoded logs matching a filter. Delivery is
// at-least-once; the source reconnects on transport failures.
type LogSource interface {
	// Watch starts delivering logs to handler until the subscription is
	// cancelled or ctx is done.
	Watch(ctx context.Context, filter Filter, handler LogHandler) (Subscription, error)
}
