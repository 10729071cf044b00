package stub

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"dex-indexer/internal/chain"
)

// LogSource is an in-memory chain.LogSource for testing.
// Emit delivers logs synchronously to the watches of the emitting address.
type LogSource struct {
	mu      sync.Mutex
	watches map[common.Address][]*watch
	filters []chain.Filter

	// WatchErr, when set, is returned by Watch.
	WatchErr error
}

// NewLogSource creates an empty stub source.
func NewLogSource() *LogSource {
	return &LogSource{watches: make(map[common.Address][]*watch)}
}

type watch struct {
	src     *LogSource
	ctx     context.Context
	filter  chain.Filter
	handler chain.LogHandler

	mu     sync.Mutex // serializes handler calls with Unsubscribe
	closed bool
}

// Watch registers handler for logs emitted by filter.Address.
func (s *LogSource) Watch(ctx context.Context, filter chain.Filter, handler chain.LogHandler) (chain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.WatchErr != nil {
		return nil, s.WatchErr
	}
	w := &watch{src: s, ctx: ctx, filter: filter, handler: handler}
	s.watches[filter.Address] = append(s.watches[filter.Address], w)
	s.filters = append(s.filters, filter)
	return w, nil
}

// Emit groups logs by emitting address and runs each matching handler once
// per address, in the order the addresses first appear.
func (s *LogSource) Emit(logs ...chain.Log) {
	var order []common.Address
	byAddr := make(map[common.Address][]chain.Log)
	for _, l := range logs {
		if _, ok := byAddr[l.Address]; !ok {
			order = append(order, l.Address)
		}
		byAddr[l.Address] = append(byAddr[l.Address], l)
	}

	for _, addr := range order {
		s.mu.Lock()
		targets := append([]*watch(nil), s.watches[addr]...)
		s.mu.Unlock()

		for _, w := range targets {
			w.deliver(byAddr[addr])
		}
	}
}

// Watching reports whether addr has at least one active watch.
func (s *LogSource) Watching(addr common.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watches[addr]) > 0
}

// Active returns the number of active watches.
func (s *LogSource) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ws := range s.watches {
		n += len(ws)
	}
	return n
}

// Filters returns every filter passed to Watch, in call order.
func (s *LogSource) Filters() []chain.Filter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chain.Filter(nil), s.filters...)
}

func (w *watch) deliver(logs []chain.Log) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.ctx.Err() != nil {
		return
	}
	w.handler(w.ctx, logs)
}

func (w *watch) Unsubscribe() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()

	s := w.src
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.watches[w.filter.Address]
	for i, other := range list {
		if other == w {
			s.watches[w.filter.Address] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(s.watches[w.filter.Address]) == 0 {
		delete(s.watches, w.filter.Address)
	}
}

var _ chain.LogSource = (*LogSource)(nil)
