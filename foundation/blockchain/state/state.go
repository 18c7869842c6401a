// Package state is the core API for the blockchain and implements all the
// business rules and processing. It owns the chain store and the mempool and
// is the single writer for both.
package state

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m-peko/tetherion/foundation/blockchain/chain"
	"github.com/m-peko/tetherion/foundation/blockchain/consensus"
	"github.com/m-peko/tetherion/foundation/blockchain/database"
	"github.com/m-peko/tetherion/foundation/blockchain/genesis"
	"github.com/m-peko/tetherion/foundation/blockchain/mempool"
	"github.com/m-peko/tetherion/foundation/blockchain/orphan"
	"github.com/m-peko/tetherion/foundation/blockchain/peer"
)

// EventHandler defines a function that is called when events
// occur in the processing of persisting blocks.
type EventHandler func(v string, args ...any)

// Worker interface represents the behavior required to be implemented by any
// package providing support for mining, peer updates, and transaction sharing.
type Worker interface {
	Shutdown()
	SignalStartMining()
	SignalShareTx(tx database.SignedTx)
	PeerRequester
}

// PeerRequester asks the network for a block this node doesn't have. The
// call must not block; the block comes back through OnBlockReceived.
type PeerRequester interface {
	RequestBlock(hash string)
}

// =============================================================================

// Config represents the configuration required to start
// the blockchain node.
type Config struct {
	BeneficiaryID   database.AccountID
	Host            string
	Genesis         genesis.Genesis
	Storage         database.Serializer
	SelectStrategy  string
	ReplaceFeeDelta *uint64 // Nil uses the mempool default.
	TxTTL           time.Duration // Zero keeps transactions until mined.
	OrphanMax       int
	OrphanTTL       time.Duration
	CheckInterval   uint64 // Nonces tried between preemption checks.
	KnownPeers      *peer.PeerSet
	Now             func() time.Time
	EvHandler       EventHandler
}

// State manages the blockchain database.
type State struct {
	mu sync.Mutex

	beneficiaryID database.AccountID
	host          string
	evHandler     EventHandler
	now           func() time.Time
	checkInterval uint64
	txTTL         time.Duration

	knownPeers *peer.PeerSet
	genesis    genesis.Genesis
	rules      consensus.Rules
	chain      *chain.Store
	mempool    *mempool.Mempool
	orphans    *orphan.Pool
	storage    database.Serializer

	// persistErr is set once a block could not be written.
	persistErr error

	// tipVersion moves every time the active tip changes. A miner compares
	// it against the version it assembled on to know it was preempted.
	tipVersion atomic.Uint64

	Worker Worker
}

// New constructs a new blockchain for data management. The blocks held by
// the storage are replayed through the validator to rebuild the chain.
func New(cfg Config) (*State, error) {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	if cfg.Storage == nil {
		return nil, errors.New("storage is required")
	}

	if err := cfg.Genesis.Validate(); err != nil {
		return nil, fmt.Errorf("genesis: %w", err)
	}

	if !cfg.BeneficiaryID.IsCanonical() {
		return nil, fmt.Errorf("beneficiary %q is not a valid account", cfg.BeneficiaryID)
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	if cfg.KnownPeers == nil {
		cfg.KnownPeers = peer.NewPeerSet()
	}

	accounts, err := database.NewAccounts(cfg.Genesis.Balances)
	if err != nil {
		return nil, fmt.Errorf("genesis: %w", err)
	}

	// Construct a mempool with the specified sort strategy.
	mp, err := mempool.New(mempool.Config{
		ChainID:         cfg.Genesis.ChainID,
		Strategy:        cfg.SelectStrategy,
		ReplaceFeeDelta: cfg.ReplaceFeeDelta,
		Now:             cfg.Now,
	})
	if err != nil {
		return nil, err
	}

	// Create the State to provide support for managing the blockchain.
	state := State{
		beneficiaryID: cfg.BeneficiaryID,
		host:          cfg.Host,
		evHandler:     ev,
		now:           cfg.Now,
		checkInterval: cfg.CheckInterval,
		txTTL:         cfg.TxTTL,

		knownPeers: cfg.KnownPeers,
		genesis:    cfg.Genesis,
		rules:      consensus.NewRules(cfg.Genesis),
		chain:      chain.New(database.NewGenesisBlock(cfg.Genesis), accounts),
		mempool:    mp,
		orphans:    orphan.New(orphan.Config{MaxBlocks: cfg.OrphanMax, TTL: cfg.OrphanTTL, Now: cfg.Now}),
		storage:    cfg.Storage,

		Worker: nopWorker{},
	}

	if err := state.loadChain(); err != nil {
		return nil, err
	}

	return &state, nil
}

// Shutdown cleanly brings the node down.
func (s *State) Shutdown() error {
	s.evHandler("state: shutdown: started")
	defer s.evHandler("state: shutdown: completed")

	// Make sure the database file is properly closed.
	defer func() {
		s.storage.Close()
	}()

	// Stop all blockchain writing activity.
	s.Worker.Shutdown()

	return nil
}

// =============================================================================

// loadChain replays every stored block in write order. A block that fails to
// validate means the storage is corrupt and the node can't start.
func (s *State) loadChain() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evHandler("state: loadChain: started")

	iter := s.storage.ForEach()

	var count int
	for blockData, err := iter.Next(); !iter.Done(); blockData, err = iter.Next() {
		if err != nil {
			return fmt.Errorf("reading block %d: %w", count, err)
		}

		block, err := database.ToBlock(blockData)
		if err != nil {
			return fmt.Errorf("decoding block %d: %w", count, err)
		}

		if blockData.Hash != block.Hash() {
			return fmt.Errorf("block %d: stored hash %s does not match %s", count, blockData.Hash, block.Hash())
		}

		if _, err := s.acceptBlock(block, false); err != nil {
			return fmt.Errorf("replaying block %d: %w", count, err)
		}

		count++
	}

	tip := s.chain.ActiveTip()
	s.evHandler("state: loadChain: completed: blocks[%d]: tip[%d]: hash[%s]", count, tip.Height, tip.Hash)

	return nil
}

// =============================================================================

// nopWorker is used until a worker registers itself with the state.
type nopWorker struct{}

func (nopWorker) Shutdown() {}
func (nopWorker) SignalStartMining() {}
func (nopWorker) SignalShareTx(database.SignedTx) {}
func (nopWorker) RequestBlock(string) {}
