package worker

import (
	"context"
	"errors"
	"time"

	"github.com/m-peko/tetherion/foundation/blockchain/database"
	"github.com/m-peko/tetherion/foundation/blockchain/state"
)

// miningOperations handles mining.
func (w *Worker) miningOperations() {
	w.evHandler("worker: miningOperations: G started")
	defer w.evHandler("worker: miningOperations: G completed")

	for {
		select {
		case <-w.startMining:
			if !w.isShutdown() {
				w.runMiningOperation()
			}
		case <-w.shut:
			w.evHandler("worker: miningOperations: received shut signal")
			return
		}
	}
}

// runMiningOperation assembles a block from the mempool on the active tip
// and searches for its proof of work. When the tip moves during the search
// the candidate is dropped and a new one is assembled.
func (w *Worker) runMiningOperation() {
	w.evHandler("worker: runMiningOperation: MINING: started")
	defer w.evHandler("worker: runMiningOperation: MINING: completed")

	defer w.setPhase(PhaseIdle)

	// Create a context so mining can be cancelled by a shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-w.shut:
			w.evHandler("worker: runMiningOperation: MINING: CANCEL: requested")
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		w.setPhase(PhaseAssembling)

		cand, err := w.state.AssembleBlock()
		if err != nil {
			w.evHandler("worker: runMiningOperation: MINING: ERROR: %s", err)
			return
		}

		if len(cand.Args.Trans) == 0 && !w.mineEmpty {
			w.evHandler("worker: runMiningOperation: MINING: WARNING: no transactions to mine")
			return
		}

		w.setPhase(PhaseSearching)

		t := time.Now()
		block, err := database.POW(ctx, cand.Args)
		duration := time.Since(t)

		w.evHandler("worker: runMiningOperation: MINING: mining duration[%v]", duration)

		if err != nil {
			switch {
			case errors.Is(err, database.ErrPreempted):
				w.setPhase(PhasePreempted)
				w.evHandler("worker: runMiningOperation: MINING: PREEMPTED: version[%d]", cand.Version)
				continue
			case ctx.Err() != nil:
				w.evHandler("worker: runMiningOperation: MINING: CANCEL: complete")
			default:
				w.evHandler("worker: runMiningOperation: MINING: ERROR: %s", err)
			}
			return
		}

		w.setPhase(PhaseFound)

		if err := w.state.ProcessMinedBlock(block); err != nil {
			if errors.Is(err, state.ErrPersistence) {
				w.fatal(err)
				return
			}
			w.evHandler("worker: runMiningOperation: MINING: ERROR: %s", err)
			return
		}

		// WOW, we mined a block. Propose the new block to the network.
		// Log the error, but that's it.
		if err := w.state.NetSendBlockToPeers(block); err != nil {
			w.evHandler("worker: runMiningOperation: MINING: proposeBlockToPeers: WARNING %s", err)
		}

		// After running a mining operation, check if a new operation should
		// be signaled again.
		if w.hasWork() {
			w.evHandler("worker: runMiningOperation: MINING: signal new mining operation: Txs[%d]", w.state.QueryMempoolLength())
			w.SignalStartMining()
		}

		return
	}
}
