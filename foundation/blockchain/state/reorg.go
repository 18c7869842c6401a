package state

import "github.com/m-peko/tetherion/foundation/blockchain/chain"

// reconcileMempool brings the mempool in line with a new active chain.
// Transactions confirmed only on the abandoned segment go back into the pool,
// transactions confirmed on the new segment leave it, and anything left whose
// nonce the new tip has already consumed is pruned. The caller must hold the
// lock so readers never see a half reconciled pool.
func (s *State) reconcileMempool(out chain.Outcome) {
	confirmed := make(map[string]struct{})
	var ids []string
	for _, block := range out.Activated {
		for _, tx := range block.Trans() {
			id := tx.ID()
			confirmed[id] = struct{}{}
			ids = append(ids, id)
		}
	}

	removed := s.mempool.Remove(ids...)

	// Older blocks first so each sender's nonces go back in order.
	var returned int
	for i := len(out.RolledBack) - 1; i >= 0; i-- {
		for _, tx := range out.RolledBack[i].Trans() {
			if _, exists := confirmed[tx.ID()]; exists {
				continue
			}

			if err := s.mempool.Submit(tx); err != nil {
				s.evHandler("state: reconcileMempool: tx[%s] not returned: %s", tx, err)
				continue
			}
			returned++
		}
	}

	tip := s.chain.TipAccounts()
	pruned := s.mempool.PruneStale(tip.NextNonce)

	s.evHandler("state: reconcileMempool: removed[%d]: returned[%d]: pruned[%d]", removed, returned, pruned)

	// The returned transactions need a block on the new chain.
	if returned > 0 {
		s.Worker.SignalStartMining()
	}
}
