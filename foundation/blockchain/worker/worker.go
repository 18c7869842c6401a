// Package worker implements mining, peer updates, transaction sharing and
// block requests for the blockchain.
package worker

import (
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/m-peko/tetherion/foundation/blockchain/database"
	"github.com/m-peko/tetherion/foundation/blockchain/state"
)

// peerUpdateInterval represents the interval of finding new peer nodes
// and updating the blockchain with missing blocks.
const peerUpdateInterval = time.Minute

// maxTxShareRequests represents the max number of pending tx network share
// requests that can be outstanding before share requests are dropped. To keep
// this simple, a buffered channel of this arbitrary number is being used. If
// the channel does become full, requests for new transactions to be shared
// will not be accepted.
const maxTxShareRequests = 100

// maxBlockRequests is the same bound for outstanding requests for blocks
// missing from the chain.
const maxBlockRequests = 100

// =============================================================================

// Config represents the settings for the background workflows.
type Config struct {
	MineEmpty bool           // Keep mining blocks when the mempool is empty.
	Shutdown  chan os.Signal // Signaled when the node can no longer persist blocks.
	EvHandler state.EventHandler
}

// Worker manages the POW workflows for the blockchain.
type Worker struct {
	state         *state.State
	mineEmpty     bool
	shutdown      chan os.Signal
	wg            sync.WaitGroup
	ticker        *time.Ticker
	shut          chan struct{}
	startMining   chan bool
	txSharing     chan database.SignedTx
	blockRequests chan string
	phase         atomic.Int32
	evHandler     state.EventHandler
}

// Run creates a worker, registers the worker with the state package, and
// starts up all the background processes.
func Run(st *state.State, cfg Config) *Worker {
	evHandler := cfg.EvHandler
	if evHandler == nil {
		evHandler = func(string, ...any) {}
	}

	w := Worker{
		state:         st,
		mineEmpty:     cfg.MineEmpty,
		shutdown:      cfg.Shutdown,
		ticker:        time.NewTicker(peerUpdateInterval),
		shut:          make(chan struct{}),
		startMining:   make(chan bool, 1),
		txSharing:     make(chan database.SignedTx, maxTxShareRequests),
		blockRequests: make(chan string, maxBlockRequests),
		evHandler:     evHandler,
	}

	// Register this worker with the state package.
	st.Worker = &w

	// Update this node before starting any support G's.
	w.Sync()

	// Load the set of operations we need to run.
	operations := []func(){
		w.peerOperations,
		w.miningOperations,
		w.shareTxOperations,
		w.blockRequestOperations,
	}

	// Set waitgroup to match the number of G's we need for the set
	// of operations we have.
	g := len(operations)
	w.wg.Add(g)

	// We don't want to return until we know all the G's are up and running.
	hasStarted := make(chan bool)

	// Start all the operational G's.
	for _, op := range operations {
		go func(op func()) {
			defer w.wg.Done()
			hasStarted <- true
			op()
		}(op)
	}

	// Wait for the G's to report they are running.
	for i := 0; i < g; i++ {
		<-hasStarted
	}

	// There might be transactions left over from a restart or the sync.
	if w.hasWork() {
		w.SignalStartMining()
	}

	return &w
}

// Phase returns where the miner is in its cycle.
func (w *Worker) Phase() Phase {
	return Phase(w.phase.Load())
}

// =============================================================================
// These methods implement the state.Worker interface.

// Shutdown terminates the goroutine performing work.
func (w *Worker) Shutdown() {
	w.evHandler("worker: shutdown: started")
	defer w.evHandler("worker: shutdown: completed")

	w.evHandler("worker: shutdown: stop ticker")
	w.ticker.Stop()

	w.evHandler("worker: shutdown: terminate goroutines")
	close(w.shut)
	w.wg.Wait()
}

// SignalStartMining starts a mining operation. If there is already a signal
// pending in the channel, just return since a mining operation will start.
func (w *Worker) SignalStartMining() {
	select {
	case w.startMining <- true:
	default:
	}
	w.evHandler("worker: SignalStartMining: mining signaled")
}

// SignalShareTx signals a share transaction operation. If
// maxTxShareRequests signals exist in the channel, we won't send these.
func (w *Worker) SignalShareTx(tx database.SignedTx) {
	select {
	case w.txSharing <- tx:
		w.evHandler("worker: SignalShareTx: share Tx signaled")
	default:
		w.evHandler("worker: SignalShareTx: queue full, transactions won't be shared.")
	}
}

// RequestBlock queues a request to the known peers for a missing block.
func (w *Worker) RequestBlock(hash string) {
	select {
	case w.blockRequests <- hash:
		w.evHandler("worker: RequestBlock: request signaled: blk[%s]", hash)
	default:
		w.evHandler("worker: RequestBlock: queue full, blk[%s] won't be requested.", hash)
	}
}

// =============================================================================

// isShutdown is used to test if a shutdown has been signaled.
func (w *Worker) isShutdown() bool {
	select {
	case <-w.shut:
		return true
	default:
		return false
	}
}

func (w *Worker) setPhase(p Phase) {
	w.phase.Store(int32(p))
}

// hasWork reports whether another block should be mined.
func (w *Worker) hasWork() bool {
	return w.mineEmpty || w.state.QueryMempoolLength() > 0
}

// fatal asks the node to shut down after blocks could not be persisted.
func (w *Worker) fatal(err error) {
	w.evHandler("worker: FATAL: %s", err)

	if w.shutdown == nil {
		return
	}

	select {
	case w.shutdown <- syscall.SIGTERM:
	default:
	}
}
