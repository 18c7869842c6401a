// Package orphan holds blocks that arrived before their parent until the
// parent is known.
package orphan

import (
	"sync"
	"time"

	"github.com/m-peko/tetherion/foundation/blockchain/database"
)

// Config represents the bounds of the pool.
type Config struct {
	MaxBlocks int           // Oldest blocks are evicted past this count.
	TTL       time.Duration // Blocks older than this are dropped. Zero keeps them.
	Now       func() time.Time
}

type entry struct {
	block    database.Block
	hash     string
	seq      uint64
	received time.Time
}

// Pool represents a bounded set of orphan blocks keyed by the hash of the
// parent they're waiting on.
type Pool struct {
	mu      sync.Mutex
	cfg     Config
	byHash  map[string]entry
	waiting map[string][]string // parent hash -> orphan hashes
	seq     uint64
}

// New constructs an orphan pool.
func New(cfg Config) *Pool {
	if cfg.MaxBlocks <= 0 {
		cfg.MaxBlocks = 100
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Pool{
		cfg:     cfg,
		byHash:  make(map[string]entry),
		waiting: make(map[string][]string),
	}
}

// Add buffers the block. It returns false if the block was already held.
func (p *Pool) Add(block database.Block) bool {
	hash := block.Hash()

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.byHash[hash]; exists {
		return false
	}

	p.evictExpired()
	for len(p.byHash) >= p.cfg.MaxBlocks {
		p.evictOldest()
	}

	p.seq++
	p.byHash[hash] = entry{block: block, hash: hash, seq: p.seq, received: p.cfg.Now()}

	parent := block.Header.PrevBlockHash
	p.waiting[parent] = append(p.waiting[parent], hash)

	return true
}

// Contains reports whether the block is held.
func (p *Pool) Contains(hash string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, exists := p.byHash[hash]
	return exists
}

// Count returns the number of blocks held.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.byHash)
}

// TakeChildren removes and returns the blocks waiting on the parent, in the
// order they arrived.
func (p *Pool) TakeChildren(parentHash string) []database.Block {
	p.mu.Lock()
	defer p.mu.Unlock()

	var blocks []database.Block
	for _, hash := range p.waiting[parentHash] {
		e, exists := p.byHash[hash]
		if !exists {
			continue
		}

		blocks = append(blocks, e.block)
		delete(p.byHash, hash)
	}
	delete(p.waiting, parentHash)

	return blocks
}

// EvictExpired drops blocks older than the TTL and returns how many.
func (p *Pool) EvictExpired() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.evictExpired()
}

// =============================================================================

func (p *Pool) evictExpired() int {
	if p.cfg.TTL <= 0 {
		return 0
	}

	now := p.cfg.Now()

	var n int
	for hash, e := range p.byHash {
		if now.Sub(e.received) > p.cfg.TTL {
			p.remove(hash)
			n++
		}
	}

	return n
}

func (p *Pool) evictOldest() {
	var oldest entry
	for _, e := range p.byHash {
		if oldest.hash == "" || e.seq < oldest.seq {
			oldest = e
		}
	}

	p.remove(oldest.hash)
}

func (p *Pool) remove(hash string) {
	e, exists := p.byHash[hash]
	if !exists {
		return
	}
	delete(p.byHash, hash)

	parent := e.block.Header.PrevBlockHash
	list := p.waiting[parent]
	for i, h := range list {
		if h == hash {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}

	if len(list) == 0 {
		delete(p.waiting, parent)
		return
	}
	p.waiting[parent] = list
}
