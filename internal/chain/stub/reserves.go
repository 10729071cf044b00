package stub

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"dex-indexer/internal/chain"
)

// ErrNoReserves is returned for pools without configured reserves.
var ErrNoReserves = errors.New("no reserves configured")

// ReserveReader returns configured reserves for testing.
type ReserveReader struct {
	mu       sync.Mutex
	reserves map[common.Address][2]*big.Int
	calls    int

	// Err, when set, is returned by every call.
	Err error
}

// NewReserveReader creates an empty stub reader.
func NewReserveReader() *ReserveReader {
	return &ReserveReader{reserves: make(map[common.Address][2]*big.Int)}
}

// Set configures the reserves returned for pool.
func (r *ReserveReader) Set(pool common.Address, reserve0, reserve1 int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reserves[pool] = [2]*big.Int{big.NewInt(reserve0), big.NewInt(reserve1)}
}

// GetReserves returns copies of the configured reserves.
func (r *ReserveReader) GetReserves(_ context.Context, pool common.Address) (*big.Int, *big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.Err != nil {
		return nil, nil, r.Err
	}
	res, ok := r.reserves[pool]
	if !ok {
		return nil, nil, ErrNoReserves
	}
	return new(big.Int).Set(res[0]), new(big.Int).Set(res[1]), nil
}

// Calls returns how many times GetReserves was called.
func (r *ReserveReader) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

var _ chain.ReserveReader = (*ReserveReader)(nil)
