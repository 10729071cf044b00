package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Event names as they appear in the contract ABIs.
const (
	EventPairCreated   = "PairCreated"
	EventMint          = "Mint"
	EventBurn          = "Burn"
	EventSwap          = "Swap"
	EventSwapForwarded = "SwapForwarded"
)

const factoryABIJSON = `[
	{"type":"event","name":"PairCreated","anonymous":false,"inputs":[
		{"name":"token0","type":"address","indexed":true},
		{"name":"token1","type":"address","indexed":true},
		{"name":"pair","type":"address","indexed":false},
		{"name":"poolCount","type":"uint256","indexed":false}]}
]`

const pairABIJSON = `[
	{"type":"event","name":"Mint","anonymous":false,"inputs":[
		{"name":"sender","type":"address","indexed":true},
		{"name":"amount0","type":"uint256","indexed":false},
		{"name":"amount1","type":"uint256","indexed":false},
		{"name":"mintedLiquidity","type":"uint256","indexed":false}]},
	{"type":"event","name":"Burn","anonymous":false,"inputs":[
		{"name":"sender","type":"address","indexed":true},
		{"name":"amount0","type":"uint256","indexed":false},
		{"name":"amount1","type":"uint256","indexed":false},
		{"name":"to","type":"address","indexed":true},
		{"name":"burntLiquidity","type":"uint256","indexed":false}]},
	{"type":"event","name":"Swap","anonymous":false,"inputs":[
		{"name":"sender","type":"address","indexed":true},
		{"name":"tokenIn","type":"address","indexed":false},
		{"name":"tokenOut","type":"address","indexed":false},
		{"name":"amountIn","type":"uint256","indexed":false},
		{"name":"amountOut","type":"uint256","indexed":false}]},
	{"type":"event","name":"SwapForwarded","anonymous":false,"inputs":[
		{"name":"user","type":"address","indexed":false},
		{"name":"tokenIn","type":"address","indexed":false},
		{"name":"tokenOut","type":"address","indexed":false},
		{"name":"amountIn","type":"uint256","indexed":false},
		{"name":"amountOut","type":"uint256","indexed":false}]},
	{"type":"function","name":"getReserves","stateMutability":"view","inputs":[],"outputs":[
		{"name":"_reserve0","type":"uint256"},
		{"name":"_reserve1","type":"uint256"}]}
]`

var (
	// FactoryABI is the factory contract interface.
	FactoryABI = mustParseABI(factoryABIJSON)
	// PairABI is the pool (pair) contract interface.
	PairABI = mustParseABI(pairABIJSON)

	// FactoryEvents are the events a factory watch subscribes to.
	FactoryEvents = []string{EventPairCreated}
	// PoolEvents are the events a pool watch subscribes to.
	PoolEvents = []string{EventMint, EventBurn, EventSwap, EventSwapForwarded}
)

// eventsByID maps topic0 to the event definition across both ABIs.
var eventsByID = func() map[common.Hash]abi.Event {
	m := make(map[common.Hash]abi.Event)
	for _, a := range []abi.ABI{FactoryABI, PairABI} {
		for _, ev := range a.Events {
			m[ev.ID] = ev
		}
	}
	return m
}()

// EventID returns topic0 for a known event name.
func EventID(name string) (common.Hash, bool) {
	if ev, ok := PairABI.Events[name]; ok {
		return ev.ID, true
	}
	if ev, ok := FactoryABI.Events[name]; ok {
		return ev.ID, true
	}
	return common.Hash{}, false
}

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("chain: invalid abi: " + err.Error())
	}
	return parsed
}
