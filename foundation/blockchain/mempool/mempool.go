// Package mempool maintains the mempool for the blockchain.
package mempool

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/m-peko/tetherion/foundation/blockchain/database"
	"github.com/m-peko/tetherion/foundation/blockchain/mempool/selector"
)

// Set of error variables for rejecting transactions.
var (
	ErrStructural = errors.New("transaction is malformed")
	ErrDuplicate  = errors.New("transaction already in pool")
	ErrStale      = errors.New("transaction is stale")
)

// DefaultReplaceFeeDelta is used when no replacement delta is configured.
const DefaultReplaceFeeDelta = 1

// Config represents the policy the pool runs with.
type Config struct {
	ChainID         uint16
	Strategy        string
	ReplaceFeeDelta *uint64 // Minimum fee increase to replace a sender:nonce already pooled.
	Now             func() time.Time
}

// Mempool represents a cache of transactions keyed by transaction hash with
// a second key on account:nonce.
type Mempool struct {
	mu           sync.RWMutex
	pool         map[string]selector.Entry
	byNonce      map[string]string
	seq          uint64
	chainID      uint16
	replaceDelta uint64
	selectFn     selector.Func
	now          func() time.Time
}

// New constructs a new mempool using the configured select strategy. The fee
// strategy is used when none is named and DefaultReplaceFeeDelta when no
// delta is set. A delta of zero lets an equal fee replace.
func New(cfg Config) (*Mempool, error) {
	if cfg.Strategy == "" {
		cfg.Strategy = selector.StrategyFee
	}

	replaceDelta := uint64(DefaultReplaceFeeDelta)
	if cfg.ReplaceFeeDelta != nil {
		replaceDelta = *cfg.ReplaceFeeDelta
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	selectFn, err := selector.Retrieve(cfg.Strategy)
	if err != nil {
		return nil, err
	}

	mp := Mempool{
		pool:         make(map[string]selector.Entry),
		byNonce:      make(map[string]string),
		chainID:      cfg.ChainID,
		replaceDelta: replaceDelta,
		selectFn:     selectFn,
		now:          cfg.Now,
	}

	return &mp, nil
}

// Count returns the current number of transaction in the pool.
func (mp *Mempool) Count() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return len(mp.pool)
}

// Contains reports whether the transaction is in the pool.
func (mp *Mempool) Contains(id string) bool {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	_, exists := mp.pool[id]
	return exists
}

// Submit adds a transaction to the pool. A transaction for an account:nonce
// that is already pooled replaces it only if its fee is higher by at least
// the replacement delta.
func (mp *Mempool) Submit(tx database.SignedTx) error {
	if err := tx.Validate(mp.chainID); err != nil {
		return fmt.Errorf("%w: %s", ErrStructural, err)
	}

	id := tx.ID()

	mp.mu.Lock()
	defer mp.mu.Unlock()

	if _, exists := mp.pool[id]; exists {
		return ErrDuplicate
	}

	key := mapKey(tx)
	if oldID, exists := mp.byNonce[key]; exists {
		old := mp.pool[oldID]
		if tx.Fee < old.Tx.Fee || tx.Fee-old.Tx.Fee < mp.replaceDelta {
			return fmt.Errorf("%w: %s already pooled with fee %d, need at least %d more", ErrStale, key, old.Tx.Fee, mp.replaceDelta)
		}

		delete(mp.pool, oldID)
	}

	mp.seq++
	mp.pool[id] = selector.Entry{
		Tx:       tx,
		ID:       id,
		Size:     tx.Size(),
		Seq:      mp.seq,
		Received: mp.now(),
	}
	mp.byNonce[key] = id

	return nil
}

// Remove deletes the transactions from the pool and returns how many were
// present.
func (mp *Mempool) Remove(ids ...string) int {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	var n int
	for _, id := range ids {
		if mp.delete(id) {
			n++
		}
	}

	return n
}

// EvictExpired deletes transactions received more than ttl before now.
func (mp *Mempool) EvictExpired(now time.Time, ttl time.Duration) int {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	var n int
	for id, e := range mp.pool {
		if now.Sub(e.Received) > ttl {
			mp.delete(id)
			n++
		}
	}

	return n
}

// PruneStale deletes transactions whose nonce the sender has already used
// on the active chain.
func (mp *Mempool) PruneStale(nextNonce func(database.AccountID) uint64) int {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	var n int
	for id, e := range mp.pool {
		if e.Tx.Nonce < nextNonce(e.Tx.FromID) {
			mp.delete(id)
			n++
		}
	}

	return n
}

// Truncate clears all the transactions from the pool.
func (mp *Mempool) Truncate() {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.pool = make(map[string]selector.Entry)
	mp.byNonce = make(map[string]string)
}

// Copy returns the pooled transactions in arrival order.
func (mp *Mempool) Copy() []database.SignedTx {
	mp.mu.RLock()
	entries := make([]selector.Entry, 0, len(mp.pool))
	for _, e := range mp.pool {
		entries = append(entries, e)
	}
	mp.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })

	trans := make([]database.SignedTx, len(entries))
	for i, e := range entries {
		trans[i] = e.Tx
	}

	return trans
}

// SelectForBlock uses the configured select strategy to return the next set
// of transactions for the next block. nextNonce returns the nonce each sender
// is expected to use next on the chain being extended.
func (mp *Mempool) SelectForBlock(maxCount int, maxBytes int, nextNonce func(database.AccountID) uint64) []database.SignedTx {

	// Group the transactions by account.
	m := make(map[database.AccountID][]selector.Entry)
	mp.mu.RLock()
	{
		for _, e := range mp.pool {
			m[e.Tx.FromID] = append(m[e.Tx.FromID], e)
		}
	}
	mp.mu.RUnlock()

	return mp.selectFn(m, nextNonce, selector.Limits{MaxCount: maxCount, MaxBytes: maxBytes})
}

// =============================================================================

// delete removes a transaction and its account:nonce key. The caller must
// hold the write lock.
func (mp *Mempool) delete(id string) bool {
	e, exists := mp.pool[id]
	if !exists {
		return false
	}

	delete(mp.pool, id)

	key := mapKey(e.Tx)
	if mp.byNonce[key] == id {
		delete(mp.byNonce, key)
	}

	return true
}

// mapKey is used to generate the account:nonce key.
func mapKey(tx database.SignedTx) string {
	return fmt.Sprintf("%s:%d", tx.FromID, tx.Nonce)
}
