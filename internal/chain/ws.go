package chain

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
)

// WSClient is an eth_subscribe("logs") client.
type WSClient interface {
	// SubscribeLogs opens a logs subscription. Delivery stops once the
	// subscription is unsubscribed or the client closes.
	SubscribeLogs(ctx context.Context, q ethereum.FilterQuery) (*WSSubscription, error)

	// Unsubscribe cancels a subscription.
	Unsubscribe(ctx context.Context, sub *WSSubscription) error

	// Close closes the WebSocket connection.
	Close() error
}

// WSSubscription is one logs subscription. Its remote ID changes after a
// reconnect; the channel stays the same.
type WSSubscription struct {
	query    ethereum.FilterQuery
	ch       chan types.Log
	done     chan struct{}
	stopOnce sync.Once

	// mu serializes delivery; the cursor is the last delivered position.
	mu          sync.Mutex
	hasCursor   bool
	cursorBlock uint64
	cursorIndex uint
}

// Logs returns the notification channel.
func (s *WSSubscription) Logs() <-chan types.Log {
	return s.ch
}

// Done is closed when the subscription ends.
func (s *WSSubscription) Done() <-chan struct{} {
	return s.done
}
