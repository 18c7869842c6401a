// Package chain maintains the tree of validated blocks rooted at genesis and
// selects the active chain as the path with the most accumulated work.
package chain

import (
	"errors"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/m-peko/tetherion/foundation/blockchain/database"
)

// Set of error variables for the chain store.
var (
	ErrOrphanBlock = errors.New("parent block is unknown")
	ErrNotFound    = errors.New("block not found")
)

// node is a block in the tree. The accounts are the ledger state after the
// block so a fork can be validated without replaying it.
type node struct {
	block     database.Block
	hash      string
	height    uint64
	totalWork *big.Int
	seq       uint64
	accounts  database.Accounts
	parent    *node
}

// Tip is a read-only view of the head of the active chain.
type Tip struct {
	Block     database.Block
	Hash      string
	Height    uint64
	TotalWork *big.Int
}

func (n *node) tip() Tip {
	return Tip{
		Block:     n.block,
		Hash:      n.hash,
		Height:    n.height,
		TotalWork: new(big.Int).Set(n.totalWork),
	}
}

// Outcome describes what an insert did to the active chain.
type Outcome struct {
	Duplicate  bool             // The block was already in the tree.
	Changed    bool             // The active tip moved.
	RolledBack []database.Block // Blocks that left the active chain, tip first.
	Activated  []database.Block // Blocks that joined the active chain, parent first.
}

// Reorganized reports whether blocks left the active chain.
func (o Outcome) Reorganized() bool {
	return len(o.RolledBack) > 0
}

// =============================================================================

// Store holds every validated block keyed by hash. The active tip can be read
// without taking the lock, everything else is guarded by an RWMutex.
type Store struct {
	mu       sync.RWMutex
	nodes    map[string]*node
	leaves   map[string]*node
	active   []*node // Active chain indexed by height.
	genesis  *node
	seq      uint64
	tipState atomic.Pointer[node]
}

// New constructs a chain store rooted at the genesis block with the genesis
// account state.
func New(genesisBlock database.Block, genesisAccounts database.Accounts) *Store {
	g := node{
		block:     genesisBlock,
		hash:      genesisBlock.Hash(),
		height:    genesisBlock.Header.Number,
		totalWork: new(big.Int),
		accounts:  genesisAccounts.Copy(),
	}

	s := Store{
		nodes:   map[string]*node{g.hash: &g},
		leaves:  map[string]*node{g.hash: &g},
		active:  []*node{&g},
		genesis: &g,
	}
	s.tipState.Store(&g)

	return &s
}

// Insert adds a validated block and the account state after it to the tree
// and runs fork choice. The parent must already be in the tree. Inserting a
// block that is already present changes nothing.
func (s *Store) Insert(block database.Block, accounts database.Accounts) (Outcome, error) {
	hash := block.Hash()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.nodes[hash]; exists {
		return Outcome{Duplicate: true}, nil
	}

	parent, exists := s.nodes[block.Header.PrevBlockHash]
	if !exists {
		return Outcome{}, ErrOrphanBlock
	}

	s.seq++
	n := node{
		block:     block,
		hash:      hash,
		height:    parent.height + 1,
		totalWork: new(big.Int).Add(parent.totalWork, database.Work(block.Header.Difficulty)),
		seq:       s.seq,
		accounts:  accounts,
		parent:    parent,
	}

	s.nodes[hash] = &n
	delete(s.leaves, parent.hash)
	s.leaves[hash] = &n

	best := s.heaviest()
	old := s.tipState.Load()
	if best == old {
		return Outcome{}, nil
	}

	return s.reorganize(old, best), nil
}

// heaviest returns the leaf with the most accumulated work. Ties go to the
// leaf that arrived first.
func (s *Store) heaviest() *node {
	var best *node
	for _, n := range s.leaves {
		if best == nil {
			best = n
			continue
		}

		switch n.totalWork.Cmp(best.totalWork) {
		case 1:
			best = n
		case 0:
			if n.seq < best.seq {
				best = n
			}
		}
	}

	return best
}

// reorganize moves the active chain from the old tip to the new one.
func (s *Store) reorganize(old *node, tip *node) Outcome {
	var out Outcome
	out.Changed = true

	a, b := old, tip
	for a.height > b.height {
		out.RolledBack = append(out.RolledBack, a.block)
		a = a.parent
	}

	var activated []*node
	for b.height > a.height {
		activated = append(activated, b)
		b = b.parent
	}

	for a != b {
		if a == nil || b == nil {
			panic("chain: reorganize: tips share no ancestor")
		}

		out.RolledBack = append(out.RolledBack, a.block)
		activated = append(activated, b)
		a, b = a.parent, b.parent
	}

	s.active = s.active[:a.height-s.genesis.height+1]
	for i := len(activated) - 1; i >= 0; i-- {
		s.active = append(s.active, activated[i])
		out.Activated = append(out.Activated, activated[i].block)
	}

	s.tipState.Store(tip)

	return out
}

// =============================================================================

// ActiveTip returns the head of the active chain.
func (s *Store) ActiveTip() Tip {
	return s.tipState.Load().tip()
}

// Genesis returns the root block.
func (s *Store) Genesis() database.Block {
	return s.genesis.block
}

// Height returns the height of the active tip.
func (s *Store) Height() uint64 {
	return s.tipState.Load().height
}

// Count returns the number of blocks in the tree including genesis.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.nodes)
}

// Contains reports whether the block is in the tree.
func (s *Store) Contains(hash string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.nodes[hash]
	return exists
}

// GetBlock returns the block with the hash whether or not it's active.
func (s *Store) GetBlock(hash string) (database.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, exists := s.nodes[hash]
	if !exists {
		return database.Block{}, ErrNotFound
	}

	return n.block, nil
}

// Accounts returns a copy of the account state after the block.
func (s *Store) Accounts(hash string) (database.Accounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, exists := s.nodes[hash]
	if !exists {
		return nil, ErrNotFound
	}

	return n.accounts.Copy(), nil
}

// TipAccounts returns a copy of the account state after the active tip.
func (s *Store) TipAccounts() database.Accounts {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.tipState.Load().accounts.Copy()
}

// IsActive reports whether the block is on the active chain.
func (s *Store) IsActive(hash string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, exists := s.nodes[hash]
	if !exists {
		return false
	}

	i := n.height - s.genesis.height
	return i < uint64(len(s.active)) && s.active[i] == n
}

// IsAncestor reports whether block a is block b or one of its ancestors.
func (s *Store) IsAncestor(a string, b string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	na, exists := s.nodes[a]
	if !exists {
		return false
	}

	for nb := s.nodes[b]; nb != nil && nb.height >= na.height; nb = nb.parent {
		if nb == na {
			return true
		}
	}

	return false
}

// Ancestors returns up to n headers on the path ending at the block, oldest
// first. The block's own header is the last one.
func (s *Store) Ancestors(hash string, n int) ([]database.BlockHeader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cur, exists := s.nodes[hash]
	if !exists {
		return nil, ErrNotFound
	}

	headers := make([]database.BlockHeader, 0, n)
	for ; cur != nil && len(headers) < n; cur = cur.parent {
		headers = append(headers, cur.block.Header)
	}

	for i, j := 0, len(headers)-1; i < j; i, j = i+1, j-1 {
		headers[i], headers[j] = headers[j], headers[i]
	}

	return headers, nil
}

// ActiveBlocks returns the active blocks with heights from through to
// inclusive. Heights past the tip are ignored.
func (s *Store) ActiveBlocks(from uint64, to uint64) []database.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()

	base := s.genesis.height
	if to < from || to < base {
		return nil
	}
	from = max(from, base)

	var blocks []database.Block
	for h := from; h <= to && h-base < uint64(len(s.active)); h++ {
		blocks = append(blocks, s.active[h-base].block)
	}

	return blocks
}
