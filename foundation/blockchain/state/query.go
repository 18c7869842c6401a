package state

import (
	"github.com/m-peko/tetherion/foundation/blockchain/chain"
	"github.com/m-peko/tetherion/foundation/blockchain/database"
	"github.com/m-peko/tetherion/foundation/blockchain/genesis"
	"github.com/m-peko/tetherion/foundation/blockchain/peer"
)

// QueryLatest represents to query the latest block in the chain.
const QueryLatest = ^uint64(0) >> 1

// =============================================================================

// ActiveTip returns the head of the active chain. It doesn't wait on writers.
func (s *State) ActiveTip() chain.Tip {
	return s.chain.ActiveTip()
}

// Balance returns the account as of the active tip. Unknown accounts have a
// zero balance.
func (s *State) Balance(accountID database.AccountID) database.Account {
	return s.chain.TipAccounts().Query(accountID)
}

// QueryAccounts returns the accounts as of the active tip. If the account
// is empty, all accounts are returned.
func (s *State) QueryAccounts(accountID database.AccountID) []database.Account {
	accounts := s.chain.TipAccounts()

	if accountID == "" {
		return accounts.List()
	}

	if account, exists := accounts[accountID]; exists {
		return []database.Account{account}
	}

	return nil
}

// GetBlock returns the block with the hash whether it's on the active chain
// or a side chain.
func (s *State) GetBlock(hash string) (database.Block, error) {
	return s.chain.GetBlock(hash)
}

// IsActive reports whether the block is on the active chain.
func (s *State) IsActive(hash string) bool {
	return s.chain.IsActive(hash)
}

// CurrentDifficulty returns the difficulty required of the next block on
// the active tip.
func (s *State) CurrentDifficulty() uint64 {
	difficulty, err := s.nextDifficulty(s.chain.ActiveTip().Hash)
	if err != nil {
		return s.genesis.Difficulty
	}

	return difficulty
}

// QueryBlocksByNumber returns the set of active blocks based on block
// numbers. Use QueryLatest to name the tip.
func (s *State) QueryBlocksByNumber(from uint64, to uint64) []database.Block {
	height := s.chain.Height()

	if from == QueryLatest {
		from = height
		to = from
	}
	if to == QueryLatest {
		to = height
	}

	return s.chain.ActiveBlocks(from, to)
}

// QueryMempool returns a copy of the mempool in arrival order.
func (s *State) QueryMempool() []database.SignedTx {
	return s.mempool.Copy()
}

// QueryMempoolLength returns the current length of the mempool.
func (s *State) QueryMempoolLength() int {
	return s.mempool.Count()
}

// QueryOrphanCount returns the number of blocks waiting on a parent.
func (s *State) QueryOrphanCount() int {
	return s.orphans.Count()
}

// QueryStatus returns the status this node reports to its peers.
func (s *State) QueryStatus() peer.PeerStatus {
	tip := s.chain.ActiveTip()

	return peer.PeerStatus{
		LatestBlockHash:   tip.Hash,
		LatestBlockNumber: tip.Height,
		TotalWork:         tip.TotalWork.String(),
		KnownPeers:        s.RetrieveKnownPeers(),
	}
}

// =============================================================================

// RetrieveHost returns a copy of host information.
func (s *State) RetrieveHost() string {
	return s.host
}

// RetrieveGenesis returns a copy of the genesis information.
func (s *State) RetrieveGenesis() genesis.Genesis {
	return s.genesis
}

// RetrieveKnownPeers retrieves a copy of the known peer list.
func (s *State) RetrieveKnownPeers() []peer.Peer {
	return s.knownPeers.Copy(s.host)
}

// AddKnownPeer provides the ability to add a new peer.
func (s *State) AddKnownPeer(peer peer.Peer) bool {
	if peer.Match(s.host) {
		return false
	}

	return s.knownPeers.Add(peer)
}

// RemoveKnownPeer removes a peer that can't be reached.
func (s *State) RemoveKnownPeer(peer peer.Peer) {
	s.knownPeers.Remove(peer)
}

// EvictExpired drops mempool transactions and orphan blocks that have been
// held longer than allowed.
func (s *State) EvictExpired() (trans int, blocks int) {
	if s.txTTL > 0 {
		trans = s.mempool.EvictExpired(s.now(), s.txTTL)
	}
	blocks = s.orphans.EvictExpired()

	if trans > 0 || blocks > 0 {
		s.evHandler("state: EvictExpired: trans[%d]: blocks[%d]", trans, blocks)
	}

	return trans, blocks
}
