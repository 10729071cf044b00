// Package ingestion turns decoded chain logs into store mutations and owns
// the lifecycle of the log subscriptions that feed them.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"dex-indexer/internal/chain"
	"dex-indexer/internal/domain"
	"dex-indexer/internal/observability"
	"dex-indexer/internal/storage"
)

// Reconciler applies one decoded log to the stores. Every handler issues
// its sub-operations as an independent batch and settles all of them; a
// failing sub-operation is logged and never prevents its siblings.
// Reconciler holds no aggregate state between calls.
type Reconciler struct {
	pools    storage.PoolStore
	users    storage.UserStore
	lps      storage.LiquidityProviderStore
	events   storage.EventStore
	reserves chain.ReserveReader
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// ReconcilerOptions contains the collaborators of a Reconciler.
type ReconcilerOptions struct {
	Pools    storage.PoolStore
	Users    storage.UserStore
	LPs      storage.LiquidityProviderStore
	Events   storage.EventStore
	Reserves chain.ReserveReader
	Logger   *zap.Logger
	Metrics  *observability.Metrics
}

// NewReconciler creates a Reconciler.
func NewReconciler(opts ReconcilerOptions) *Reconciler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		pools:    opts.Pools,
		users:    opts.Users,
		lps:      opts.LPs,
		events:   opts.Events,
		reserves: opts.Reserves,
		logger:   logger,
		metrics:  opts.Metrics,
	}
}

// PairCreated records the event and creates the pool with zero reserves.
func (r *Reconciler) PairCreated(ctx context.Context, l chain.Log, ev *chain.PairCreated) Result {
	pair := hexAddr(ev.Pair)
	token0, token1 := hexAddr(ev.Token0), hexAddr(ev.Token1)

	record := newEventRecord(l, domain.EventTypePairCreated, hexAddr(l.Address))
	record.PoolAddress = &pair
	record.Token0 = &token0
	record.Token1 = &token1

	return r.settle(ctx, l, chain.EventPairCreated,
		Op{Name: OpEvent, Run: func(ctx context.Context) error {
			return r.events.Append(ctx, record)
		}},
		Op{Name: OpPool, Run: func(ctx context.Context) error {
			if _, err := r.pools.Create(ctx, pair, token0, token1); err != nil {
				return err
			}
			r.metrics.RecordPoolDiscovered()
			return nil
		}},
	)
}

// Mint records the event, adds the amounts to the pool reserves and credits
// the minted liquidity to the sender, creating the provider when missing.
func (r *Reconciler) Mint(ctx context.Context, l chain.Log, ev *chain.Mint) Result {
	pool := hexAddr(l.Address)
	sender := hexAddr(ev.Sender)

	return r.settle(ctx, l, chain.EventMint,
		Op{Name: OpEvent, Run: func(ctx context.Context) error {
			record, err := amountEventRecord(l, domain.EventTypeMint, sender, ev.Amount0, ev.Amount1)
			if err != nil {
				return err
			}
			return r.events.Append(ctx, record)
		}},
		Op{Name: OpPool, Run: func(ctx context.Context) error {
			delta, err := toReserves(ev.Amount0, ev.Amount1)
			if err != nil {
				return err
			}
			return r.pools.UpdateReserves(ctx, pool, delta, domain.ReserveOpMint)
		}},
		Op{Name: OpLP, Run: func(ctx context.Context) error {
			shares, err := domain.AmountFromBig(ev.Liquidity)
			if err != nil {
				return err
			}
			return r.mintShares(ctx, sender, pool, shares)
		}},
	)
}

// Burn records the event, subtracts the amounts from the pool reserves and
// debits the burnt liquidity from the sender. The provider must exist.
func (r *Reconciler) Burn(ctx context.Context, l chain.Log, ev *chain.Burn) Result {
	pool := hexAddr(l.Address)
	sender := hexAddr(ev.Sender)

	return r.settle(ctx, l, chain.EventBurn,
		Op{Name: OpEvent, Run: func(ctx context.Context) error {
			record, err := amountEventRecord(l, domain.EventTypeBurn, sender, ev.Amount0, ev.Amount1)
			if err != nil {
				return err
			}
			return r.events.Append(ctx, record)
		}},
		Op{Name: OpPool, Run: func(ctx context.Context) error {
			delta, err := toReserves(ev.Amount0, ev.Amount1)
			if err != nil {
				return err
			}
			return r.pools.UpdateReserves(ctx, pool, delta, domain.ReserveOpBurn)
		}},
		Op{Name: OpLP, Run: func(ctx context.Context) error {
			shares, err := domain.AmountFromBig(ev.Liquidity)
			if err != nil {
				return err
			}
			return r.lps.Burn(ctx, sender, pool, shares)
		}},
	)
}

// Swap records the event, counts the swap for the sender and replaces the
// pool reserves with the values read back from the pool contract. A failed
// read-back still counts the swap on the pool.
func (r *Reconciler) Swap(ctx context.Context, l chain.Log, ev *chain.Swap) Result {
	pool := hexAddr(l.Address)
	sender := hexAddr(ev.Sender)

	return r.settle(ctx, l, chain.EventSwap,
		Op{Name: OpEvent, Run: func(ctx context.Context) error {
			record, err := amountEventRecord(l, domain.EventTypeSwap, sender, ev.AmountIn, ev.AmountOut)
			if err != nil {
				return err
			}
			return r.events.Append(ctx, record)
		}},
		Op{Name: OpUser, Run: func(ctx context.Context) error {
			return r.users.IncrementSwaps(ctx, sender)
		}},
		Op{Name: OpPool, Run: func(ctx context.Context) error {
			current, err := r.readReserves(ctx, l.Address)
			if err != nil {
				// The swap still counts when the reserves cannot be read back.
				if cerr := r.pools.UpdateReserves(ctx, pool, domain.Reserves{}, domain.ReserveOpCountSwap); cerr != nil {
					return errors.Join(err, cerr)
				}
				return err
			}
			return r.pools.UpdateReserves(ctx, pool, current, domain.ReserveOpSwap)
		}},
	)
}

func (r *Reconciler) readReserves(ctx context.Context, pool common.Address) (domain.Reserves, error) {
	reserve0, reserve1, err := r.reserves.GetReserves(ctx, pool)
	if err != nil {
		return domain.Reserves{}, fmt.Errorf("read reserves: %w", err)
	}
	return toReserves(reserve0, reserve1)
}

// SwapForwarded records the event and counts the swap for the forwarded
// user. Pool reserves are left untouched.
func (r *Reconciler) SwapForwarded(ctx context.Context, l chain.Log, ev *chain.SwapForwarded) Result {
	user := hexAddr(ev.User)

	return r.settle(ctx, l, chain.EventSwapForwarded,
		Op{Name: OpEvent, Run: func(ctx context.Context) error {
			record, err := amountEventRecord(l, domain.EventTypeSwapForwarded, user, ev.AmountIn, ev.AmountOut)
			if err != nil {
				return err
			}
			return r.events.Append(ctx, record)
		}},
		Op{Name: OpUser, Run: func(ctx context.Context) error {
			return r.users.IncrementSwaps(ctx, user)
		}},
	)
}

// mintShares credits shares to an existing provider or creates one linked
// to the sender's user. A concurrent creation falls back to a credit.
func (r *Reconciler) mintShares(ctx context.Context, address, pool string, shares decimal.Decimal) error {
	_, err := r.lps.GetByAddress(ctx, address)
	switch {
	case err == nil:
		return r.lps.Mint(ctx, address, pool, shares)
	case !errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("lookup provider: %w", err)
	}

	lp := &domain.LiquidityProvider{
		Address:       address,
		TotalShares:   shares,
		PoolLiquidity: map[string]decimal.Decimal{pool: shares},
	}
	user, err := r.ensureUser(ctx, address)
	if err != nil {
		r.logger.Warn("creating provider without user link",
			zap.String("address", address), zap.Error(err))
	} else {
		lp.UserID = &user.ID
	}

	if _, err := r.lps.Create(ctx, lp); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return r.lps.Mint(ctx, address, pool, shares)
		}
		return fmt.Errorf("create provider: %w", err)
	}
	return nil
}

// ensureUser returns the user for address, creating a pending one if absent.
func (r *Reconciler) ensureUser(ctx context.Context, address string) (*domain.User, error) {
	user, err := r.users.GetByAddress(ctx, address)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	user, err = r.users.Create(ctx, &domain.User{Address: address, Status: domain.UserStatusPending})
	if errors.Is(err, storage.ErrDuplicateKey) {
		return r.users.GetByAddress(ctx, address)
	}
	return user, err
}

// settle runs ops, then logs and counts every outcome.
func (r *Reconciler) settle(ctx context.Context, l chain.Log, event string, ops ...Op) Result {
	start := time.Now()
	res := Result{Event: event, Outcomes: Settle(ctx, ops...)}

	for _, o := range res.Outcomes {
		r.metrics.RecordHandlerOp(event, o.Op, o.Err)
		if o.Err == nil {
			continue
		}
		fields := []zap.Field{
			zap.String("event", event),
			zap.String("op", o.Op),
			zap.String("pool", hexAddr(l.Address)),
			zap.String("tx", l.TxHash.Hex()),
			zap.Uint64("block", l.BlockNumber),
			zap.Uint("log_index", l.Index),
			zap.Error(o.Err),
		}
		if errors.Is(o.Err, storage.ErrDuplicateKey) {
			r.logger.Info("already applied", fields...)
			continue
		}
		r.logger.Error("sub-operation failed", fields...)
	}

	r.metrics.RecordEventHandled(event, time.Since(start).Seconds(), time.Now().Unix())
	return res
}

func newEventRecord(l chain.Log, typ domain.EventType, sender string) *domain.Event {
	pool := hexAddr(l.Address)
	return &domain.Event{
		Type:            typ,
		Sender:          sender,
		PoolAddress:     &pool,
		TransactionHash: l.TxHash.Hex(),
		LogIndex:        l.Index,
		BlockNumber:     l.BlockNumber,
	}
}

func amountEventRecord(l chain.Log, typ domain.EventType, sender string, amount0, amount1 *big.Int) (*domain.Event, error) {
	a0, err := domain.AmountFromBig(amount0)
	if err != nil {
		return nil, fmt.Errorf("amount0: %w", err)
	}
	a1, err := domain.AmountFromBig(amount1)
	if err != nil {
		return nil, fmt.Errorf("amount1: %w", err)
	}
	record := newEventRecord(l, typ, sender)
	record.Amount0 = &a0
	record.Amount1 = &a1
	return record, nil
}

func toReserves(amount0, amount1 *big.Int) (domain.Reserves, error) {
	r0, err := domain.AmountFromBig(amount0)
	if err != nil {
		return domain.Reserves{}, fmt.Errorf("reserve0: %w", err)
	}
	r1, err := domain.AmountFromBig(amount1)
	if err != nil {
		return domain.Reserves{}, fmt.Errorf("reserve1: %w", err)
	}
	return domain.Reserves{Reserve0: r0, Reserve1: r1}, nil
}

func hexAddr(a common.Address) string {
	return domain.NormalizeAddress(a.Hex())
}
