package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"dex-indexer/internal/observability"
)

// ErrMalformedReserves is returned when getReserves returns too little data.
var ErrMalformedReserves = errors.New("malformed getReserves response")

// ReserveReader reads a pool's current reserves from chain.
type ReserveReader interface {
	GetReserves(ctx context.Context, pool common.Address) (reserve0, reserve1 *big.Int, err error)
}

// ContractReserveReader calls getReserves() through eth_call.
type ContractReserveReader struct {
	caller   ethereum.ContractCaller
	timeout  time.Duration
	maxTries uint
	metrics  *observability.Metrics
}

// NewReserveReader creates a reader. timeout bounds each eth_call attempt.
func NewReserveReader(caller ethereum.ContractCaller, timeout time.Duration, metrics *observability.Metrics) *ContractReserveReader {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ContractReserveReader{caller: caller, timeout: timeout, maxTries: 3, metrics: metrics}
}

var getReservesSelector = PairABI.Methods["getReserves"].ID

// GetReserves returns (reserve0, reserve1) at the latest block. Responses of at
// least 64 bytes are accepted so pairs that also return a timestamp word work.
func (r *ContractReserveReader) GetReserves(ctx context.Context, pool common.Address) (*big.Int, *big.Int, error) {
	start := time.Now()
	defer func() { r.metrics.RecordReserveRead(time.Since(start).Seconds()) }()

	msg := ethereum.CallMsg{To: &pool, Data: getReservesSelector}

	data, err := backoff.Retry(ctx, func() ([]byte, error) {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		out, err := r.caller.CallContract(callCtx, msg, nil)
		if err != nil {
			return nil, err
		}
		if len(out) < 64 {
			return nil, backoff.Permanent(fmt.Errorf("%w: %d bytes", ErrMalformedReserves, len(out)))
		}
		return out, nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(r.maxTries),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("getReserves %s: %w", pool.Hex(), err)
	}

	reserve0 := new(big.Int).SetBytes(data[0:32])
	reserve1 := new(big.Int).SetBytes(data[32:64])
	return reserve0, reserve1, nil
}

var _ ReserveReader = (*ContractReserveReader)(nil)
