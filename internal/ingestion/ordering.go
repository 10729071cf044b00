package ingestion

import (
	"sort"

	"dex-indexer/internal/chain"
)

// SortLogs orders logs by (block ASC, tx_index ASC, log_index ASC).
// The sort is stable so identical positions keep delivery order.
func SortLogs(logs []chain.Log) {
	sort.SliceStable(logs, func(i, j int) bool {
		return compareLogs(logs[i], logs[j]) < 0
	})
}

// compareLogs returns:
//   - negative if a < b
//   - zero if a == b
//   - positive if a > b
//
// Order: (block ASC, tx_index ASC, log_index ASC)
func compareLogs(a, b chain.Log) int {
	if a.BlockNumber != b.BlockNumber {
		if a.BlockNumber < b.BlockNumber {
			return -1
		}
		return 1
	}
	if a.TxIndex != b.TxIndex {
		if a.TxIndex < b.TxIndex {
			return -1
		}
		return 1
	}
	if a.Index != b.Index {
		if a.Index < b.Index {
			return -1
		}
		return 1
	}
	return 0
}
