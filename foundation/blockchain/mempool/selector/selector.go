// Package selector provides different transaction selecting algorithms.
package selector

import (
	"container/heap"
	"fmt"
	"sort"
	"time"

	"github.com/m-peko/tetherion/foundation/blockchain/database"
)

// List of different select strategies.
const (
	StrategyFee     = "fee"
	StrategyArrival = "arrival"
)

// Map of different select strategies with functions.
var strategies = map[string]Func{
	StrategyFee:     feeSelect,
	StrategyArrival: arrivalSelect,
}

// Entry is a pooled transaction with the bookkeeping the pool keeps for it.
type Entry struct {
	Tx       database.SignedTx
	ID       string
	Size     int
	Seq      uint64 // Arrival order in the pool.
	Received time.Time
}

// Limits bounds a selection. A zero value means no limit.
type Limits struct {
	MaxCount int
	MaxBytes int
}

// Func defines a function that takes the pooled transactions grouped by
// sender and selects a batch for the next block in an order based on the
// function's strategy. All selector functions MUST respect nonce ordering:
// a sender's transactions are only taken contiguously from the nonce
// nextNonce returns for that sender.
type Func func(entries map[database.AccountID][]Entry, nextNonce func(database.AccountID) uint64, limits Limits) []database.SignedTx

// Retrieve returns the specified select strategy function.
func Retrieve(strategy string) (Func, error) {
	fn, exists := strategies[strategy]
	if !exists {
		return nil, fmt.Errorf("strategy %q does not exist", strategy)
	}
	return fn, nil
}

// =============================================================================

// selectBy walks the senders' runs of contiguous nonces, always taking the
// head that sorts first under less. A sender whose next transaction would
// overflow the byte limit is dropped for this block since anything after it
// depends on it.
func selectBy(entries map[database.AccountID][]Entry, nextNonce func(database.AccountID) uint64, limits Limits, less func(a, b Entry) bool) []database.SignedTx {
	q := queue{less: less}

	for accountID, list := range entries {
		run := contiguous(list, nextNonce(accountID))
		if len(run) > 0 {
			q.runs = append(q.runs, run)
		}
	}
	heap.Init(&q)

	var final []database.SignedTx
	var bytes int

	for q.Len() > 0 {
		if limits.MaxCount > 0 && len(final) >= limits.MaxCount {
			break
		}

		run := q.runs[0]
		head := run[0]

		if limits.MaxBytes > 0 && bytes+head.Size > limits.MaxBytes {
			heap.Pop(&q)
			continue
		}

		final = append(final, head.Tx)
		bytes += head.Size

		if len(run) == 1 {
			heap.Pop(&q)
			continue
		}

		q.runs[0] = run[1:]
		heap.Fix(&q, 0)
	}

	return final
}

// contiguous sorts a sender's transactions by nonce and returns the run that
// starts at the next nonce with no gaps.
func contiguous(list []Entry, next uint64) []Entry {
	sorted := make([]Entry, len(list))
	copy(sorted, list)
	sort.Sort(byNonce(sorted))

	var run []Entry
	for _, e := range sorted {
		switch {
		case e.Tx.Nonce < next:
			continue
		case e.Tx.Nonce == next:
			run = append(run, e)
			next++
		default:
			return run
		}
	}

	return run
}

// =============================================================================

// queue is a heap of per sender runs ordered by the head of each run.
type queue struct {
	runs [][]Entry
	less func(a, b Entry) bool
}

func (q queue) Len() int           { return len(q.runs) }
func (q queue) Less(i, j int) bool { return q.less(q.runs[i][0], q.runs[j][0]) }
func (q queue) Swap(i, j int)      { q.runs[i], q.runs[j] = q.runs[j], q.runs[i] }

func (q *queue) Push(x any) {
	q.runs = append(q.runs, x.([]Entry))
}

func (q *queue) Pop() any {
	old := q.runs
	n := len(old)
	x := old[n-1]
	q.runs = old[:n-1]
	return x
}

// =============================================================================

// byNonce provides sorting support by the transaction nonce value.
type byNonce []Entry

// Len returns the number of transactions in the list.
func (bn byNonce) Len() int {
	return len(bn)
}

// Less helps to sort the list by nonce in ascending order to keep the
// transactions in the right order of processing.
func (bn byNonce) Less(i, j int) bool {
	return bn[i].Tx.Nonce < bn[j].Tx.Nonce
}

// Swap moves transactions in the order of the nonce value.
func (bn byNonce) Swap(i, j int) {
	bn[i], bn[j] = bn[j], bn[i]
}
