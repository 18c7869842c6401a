package worker

import (
	"errors"
	"math/big"

	"github.com/m-peko/tetherion/foundation/blockchain/peer"
	"github.com/m-peko/tetherion/foundation/blockchain/state"
)

// peerOperations handles finding new peers and catching up with them.
func (w *Worker) peerOperations() {
	w.evHandler("worker: peerOperations: G started")
	defer w.evHandler("worker: peerOperations: G completed")

	for {
		select {
		case <-w.ticker.C:
			if !w.isShutdown() {
				w.Sync()
				w.state.EvictExpired()
			}
		case <-w.shut:
			w.evHandler("worker: peerOperations: received shut signal")
			return
		}
	}
}

// Sync updates the peer list, mempool and blocks.
func (w *Worker) Sync() {
	w.evHandler("worker: sync: started")
	defer w.evHandler("worker: sync: completed")

	for _, pr := range w.state.RetrieveKnownPeers() {

		// Retrieve the status of this peer.
		peerStatus, err := w.state.NetRequestPeerStatus(pr)
		if err != nil {
			w.evHandler("worker: sync: queryPeerStatus: %s: ERROR: %s", pr.Host, err)
			w.state.RemoveKnownPeer(pr)
			continue
		}

		// Add new peers to this nodes list.
		w.addNewPeers(peerStatus.KnownPeers)

		// Retrieve the mempool from the peer.
		pool, err := w.state.NetRequestPeerMempool(pr)
		if err != nil {
			w.evHandler("worker: sync: retrievePeerMempool: %s: ERROR: %s", pr.Host, err)
		}
		for _, tx := range pool {
			if err := w.state.UpsertNodeTransaction(tx); err != nil {
				w.evHandler("worker: sync: retrievePeerMempool: %s: skip Tx[%s]: %s", pr.Host, tx, err)
			}
		}

		// If this peer has more work than we do, we need its blocks.
		if w.isHeavier(peerStatus) {
			w.evHandler("worker: sync: retrievePeerBlocks: %s: latestBlockNumber[%d]: totalWork[%s]", pr.Host, peerStatus.LatestBlockNumber, peerStatus.TotalWork)

			if err := w.state.NetRequestPeerBlocks(pr); err != nil {
				if errors.Is(err, state.ErrPersistence) {
					w.fatal(err)
					return
				}
				w.evHandler("worker: sync: retrievePeerBlocks: %s: ERROR %s", pr.Host, err)
			}

			// A peer on a fork may be heavier at a lower height. Asking for
			// its tip walks back to the fork point through the orphan pool.
			if _, err := w.state.GetBlock(peerStatus.LatestBlockHash); err != nil {
				w.RequestBlock(peerStatus.LatestBlockHash)
			}
		}
	}

	// Let the peers know this node is available to chat.
	for _, pr := range w.state.RetrieveKnownPeers() {
		if err := w.state.NetRequestAddPeer(pr); err != nil {
			w.evHandler("worker: sync: addPeer: %s: ERROR: %s", pr.Host, err)
		}
	}
}

// =============================================================================

// addNewPeers takes the list of known peers and makes sure they are included
// in the nodes list of know peers.
func (w *Worker) addNewPeers(knownPeers []peer.Peer) {
	for _, pr := range knownPeers {
		if w.state.AddKnownPeer(pr) {
			w.evHandler("worker: sync: addNewPeers: adding peer-node %s", pr)
		}
	}
}

// isHeavier reports whether the peer's chain has more work than ours.
func (w *Worker) isHeavier(ps peer.PeerStatus) bool {
	work, ok := new(big.Int).SetString(ps.TotalWork, 10)
	if !ok {
		return ps.LatestBlockNumber > w.state.ActiveTip().Height
	}

	return work.Cmp(w.state.ActiveTip().TotalWork) > 0
}
