package worker

import (
	"errors"

	"github.com/m-peko/tetherion/foundation/blockchain/state"
)

// blockRequestOperations handles asking peers for blocks the chain is
// missing.
func (w *Worker) blockRequestOperations() {
	w.evHandler("worker: blockRequestOperations: G started")
	defer w.evHandler("worker: blockRequestOperations: G completed")

	for {
		select {
		case hash := <-w.blockRequests:
			if !w.isShutdown() {
				w.runBlockRequestOperation(hash)
			}
		case <-w.shut:
			w.evHandler("worker: blockRequestOperations: received shut signal")
			return
		}
	}
}

// runBlockRequestOperation asks the known peers for the block. A block that
// arrives still missing its own parent queues the next request.
func (w *Worker) runBlockRequestOperation(hash string) {
	if _, err := w.state.GetBlock(hash); err == nil {
		return
	}

	if err := w.state.NetRequestBlock(hash); err != nil {
		if errors.Is(err, state.ErrPersistence) {
			w.fatal(err)
			return
		}
		w.evHandler("worker: runBlockRequestOperation: blk[%s]: WARNING: %s", hash, err)
	}
}
