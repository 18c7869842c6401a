package state

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/m-peko/tetherion/foundation/blockchain/chain"
	"github.com/m-peko/tetherion/foundation/blockchain/consensus"
	"github.com/m-peko/tetherion/foundation/blockchain/database"
)

// Set of error variables for processing blocks.
var (
	ErrMalformed   = errors.New("malformed message")
	ErrPersistence = errors.New("storage failed")
)

// OnBlockReceived takes a serialized block from a peer and processes it. A
// message that can't be decoded is dropped.
func (s *State) OnBlockReceived(data []byte) error {
	var blockData database.BlockData
	if err := json.Unmarshal(data, &blockData); err != nil {
		s.evHandler("state: OnBlockReceived: DROPPED: %s", err)
		return fmt.Errorf("%w: %s", ErrMalformed, err)
	}

	block, err := database.ToBlock(blockData)
	if err != nil {
		s.evHandler("state: OnBlockReceived: DROPPED: %s", err)
		return fmt.Errorf("%w: %s", ErrMalformed, err)
	}

	if blockData.Hash != "" && blockData.Hash != block.Hash() {
		s.evHandler("state: OnBlockReceived: DROPPED: hash[%s] does not match block[%s]", blockData.Hash, block.Hash())
		return fmt.Errorf("%w: hash %s does not match the block", ErrMalformed, blockData.Hash)
	}

	return s.ProcessProposedBlock(block)
}

// ProcessProposedBlock takes a block received from a peer, validates it and
// if that passes, adds the block to the chain. A block whose parent is unknown
// is held until the parent arrives and the parent is requested from peers.
func (s *State) ProcessProposedBlock(block database.Block) error {
	hash := block.Hash()

	s.evHandler("state: ProcessProposedBlock: started: prevBlk[%s]: newBlk[%s]: numTrans[%d]", block.Header.PrevBlockHash, hash, len(block.Trans()))
	defer s.evHandler("state: ProcessProposedBlock: completed: newBlk[%s]", hash)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.acceptBlock(block, true)
	switch {
	case errors.Is(err, chain.ErrOrphanBlock):
		if s.orphans.Add(block) {
			s.evHandler("state: ProcessProposedBlock: ORPHAN: blk[%s]: waiting on parent[%s]", hash, block.Header.PrevBlockHash)
			s.Worker.RequestBlock(block.Header.PrevBlockHash)
		}
		return fmt.Errorf("block %s: %w", hash, err)

	case errors.Is(err, ErrPersistence):
		return err

	case err != nil:
		if consensus.IsKind(err, consensus.KindProofOfWork) {
			s.evHandler("state: ProcessProposedBlock: WARNING: possible attack: %s", err)
		}
		return err
	}

	s.connectOrphans(hash)

	return nil
}

// ProcessMinedBlock takes a block this node mined and adds it to the chain
// through the same validation used for blocks from peers.
func (s *State) ProcessMinedBlock(block database.Block) error {
	s.evHandler("state: ProcessMinedBlock: started: blk[%s]", block.Hash())
	defer s.evHandler("state: ProcessMinedBlock: completed")

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.acceptBlock(block, true); err != nil {
		return err
	}

	s.connectOrphans(block.Hash())

	return nil
}

// =============================================================================

// acceptBlock validates the block against its parent and inserts it into the
// chain. When the active chain changes the mempool is reconciled and, if
// persist is set, the newly active blocks are written to storage. Once a write
// fails no other block is accepted, so storage stays a replayable prefix of
// what the node accepted. The caller must hold the lock.
func (s *State) acceptBlock(block database.Block, persist bool) (chain.Outcome, error) {
	if s.persistErr != nil {
		return chain.Outcome{}, s.persistErr
	}

	hash := block.Hash()
	parentHash := block.Header.PrevBlockHash

	if s.chain.Contains(hash) {
		return chain.Outcome{Duplicate: true}, nil
	}

	parent, err := s.chain.GetBlock(parentHash)
	if err != nil {
		return chain.Outcome{}, chain.ErrOrphanBlock
	}

	window, err := s.chain.Ancestors(parentHash, int(s.rules.AdjustmentWindow)+1)
	if err != nil {
		return chain.Outcome{}, err
	}

	accounts, err := s.chain.Accounts(parentHash)
	if err != nil {
		return chain.Outcome{}, err
	}

	s.evHandler("state: acceptBlock: validate: blk[%d]: hash[%s]", block.Header.Number, hash)

	next, err := consensus.ValidateBlock(block, parent, consensus.Context{
		Rules:     s.rules,
		Window:    window,
		Accounts:  accounts,
		Now:       s.now,
		EvHandler: s.evHandler,
	})
	if err != nil {
		return chain.Outcome{}, err
	}

	out, err := s.chain.Insert(block, next)
	if err != nil {
		return chain.Outcome{}, err
	}

	if !out.Changed {
		s.evHandler("state: acceptBlock: blk[%d]: hash[%s]: added to a side chain", block.Header.Number, hash)
		return out, nil
	}

	s.tipVersion.Add(1)

	if out.Reorganized() {
		s.evHandler("state: acceptBlock: REORG: rolledBack[%d]: activated[%d]", len(out.RolledBack), len(out.Activated))
	}

	// The tip has moved in memory, so the mempool and the viewers follow it
	// even when the write below fails.
	s.reconcileMempool(out)

	for _, b := range out.Activated {
		s.blockEvent(b)
	}

	if persist {
		for _, b := range out.Activated {
			if err := s.storage.Write(database.NewBlockData(b)); err != nil {
				s.persistErr = fmt.Errorf("%w: writing block %s: %s", ErrPersistence, b.Hash(), err)
				s.evHandler("state: acceptBlock: FATAL: %s", s.persistErr)
				return out, s.persistErr
			}
		}
	}

	return out, nil
}

// connectOrphans retries every held block that was waiting on an accepted
// block, and then the blocks waiting on those. The caller must hold the lock.
func (s *State) connectOrphans(hash string) {
	queue := []string{hash}

	for len(queue) > 0 {
		parentHash := queue[0]
		queue = queue[1:]

		for _, block := range s.orphans.TakeChildren(parentHash) {
			if _, err := s.acceptBlock(block, true); err != nil {
				s.evHandler("state: connectOrphans: DROPPED: blk[%s]: %s", block.Hash(), err)
				continue
			}

			s.evHandler("state: connectOrphans: connected: blk[%s]", block.Hash())
			queue = append(queue, block.Hash())
		}
	}
}

// blockEvent provides a specific event about a new block in the chain for
// application specific support.
func (s *State) blockEvent(block database.Block) {
	blockHeaderJSON, err := json.Marshal(block.Header)
	if err != nil {
		blockHeaderJSON = []byte(fmt.Sprintf("%q", err.Error()))
	}

	blockTransJSON, err := json.Marshal(block.Trans())
	if err != nil {
		blockTransJSON = []byte(fmt.Sprintf("%q", err.Error()))
	}

	s.evHandler(`viewer: block: {"hash":%q,"header":%s,"trans":%s}`, block.Hash(), string(blockHeaderJSON), string(blockTransJSON))
}
