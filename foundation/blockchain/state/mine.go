package state

import (
	"github.com/m-peko/tetherion/foundation/blockchain/consensus"
	"github.com/m-peko/tetherion/foundation/blockchain/database"
)

// Candidate is a block template on top of the active tip, ready for the
// proof of work search.
type Candidate struct {
	Version uint64
	Args    database.POWArgs
}

// AssembleBlock reads the active tip and the difficulty it requires and picks
// the transactions for the next block. Each picked transaction is applied to
// the tip state and the ones that don't apply are left out. The arguments
// returned report preemption once the active tip moves. A candidate with no
// transactions is valid and earns the mining reward alone.
func (s *State) AssembleBlock() (Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	version := s.tipVersion.Load()
	tip := s.chain.ActiveTip()
	accounts := s.chain.TipAccounts()

	s.evHandler("state: AssembleBlock: MINING: tip[%d]: hash[%s]: version[%d]", tip.Height, tip.Hash, version)

	difficulty, err := s.nextDifficulty(tip.Hash)
	if err != nil {
		return Candidate{}, err
	}

	picked := s.mempool.SelectForBlock(s.rules.TransPerBlock, s.rules.MaxBlockBytes, accounts.NextNonce)

	trans := make([]database.SignedTx, 0, len(picked))
	for _, tx := range picked {
		if err := accounts.ApplyTransaction(s.beneficiaryID, tx); err != nil {
			s.evHandler("state: AssembleBlock: MINING: skipping tx[%s]: %s", tx, err)
			continue
		}
		trans = append(trans, tx)
	}

	// The timestamp has to move past the parent even if the local clock
	// is behind it.
	timeStamp := uint64(s.now().UTC().UnixMilli())
	if timeStamp <= tip.Block.Header.TimeStamp {
		timeStamp = tip.Block.Header.TimeStamp + 1
	}

	cand := Candidate{
		Version: version,
		Args: database.POWArgs{
			BeneficiaryID: s.beneficiaryID,
			Difficulty:    difficulty,
			MiningReward:  s.rules.MiningReward,
			PrevBlock:     tip.Block,
			TimeStamp:     timeStamp,
			Trans:         trans,
			CheckInterval: s.checkInterval,
			Preempted:     func() bool { return s.tipVersion.Load() != version },
			EvHandler:     s.evHandler,
		},
	}

	return cand, nil
}

// IsPreempted reports whether the active tip moved since the version.
func (s *State) IsPreempted(version uint64) bool {
	return s.tipVersion.Load() != version
}

// =============================================================================

// nextDifficulty returns the difficulty required of a block built on the
// block with the hash.
func (s *State) nextDifficulty(hash string) (uint64, error) {
	window, err := s.chain.Ancestors(hash, int(s.rules.AdjustmentWindow)+1)
	if err != nil {
		return 0, err
	}

	return consensus.NextDifficulty(s.rules, window), nil
}
