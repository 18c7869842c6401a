package state

import (
	"encoding/json"
	"fmt"

	"github.com/m-peko/tetherion/foundation/blockchain/database"
	"github.com/m-peko/tetherion/foundation/blockchain/mempool"
)

// SubmitTransaction accepts a transaction from a wallet for inclusion. The
// transaction is shared with the known peers once it's in the mempool.
func (s *State) SubmitTransaction(tx database.SignedTx) error {
	if err := s.upsertTransaction(tx); err != nil {
		return err
	}

	s.Worker.SignalShareTx(tx)
	s.Worker.SignalStartMining()

	return nil
}

// OnTransactionReceived takes a serialized transaction from a peer for
// inclusion. A message that can't be decoded is dropped.
func (s *State) OnTransactionReceived(data []byte) error {
	var tx database.SignedTx
	if err := json.Unmarshal(data, &tx); err != nil {
		s.evHandler("state: OnTransactionReceived: DROPPED: %s", err)
		return fmt.Errorf("%w: %s", ErrMalformed, err)
	}

	return s.UpsertNodeTransaction(tx)
}

// UpsertNodeTransaction accepts a transaction from a node for inclusion.
func (s *State) UpsertNodeTransaction(tx database.SignedTx) error {
	if err := s.upsertTransaction(tx); err != nil {
		return err
	}

	s.Worker.SignalStartMining()

	return nil
}

// =============================================================================

// upsertTransaction validates the transaction against the active tip and
// adds it to the mempool. The lock keeps the tip from moving between the
// nonce check and the insert.
func (s *State) upsertTransaction(tx database.SignedTx) error {
	if err := tx.Validate(s.genesis.ChainID); err != nil {
		return fmt.Errorf("%w: %s", mempool.ErrStructural, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if next := s.chain.TipAccounts().NextNonce(tx.FromID); tx.Nonce < next {
		return fmt.Errorf("%w: nonce %d already used by %s, next is %d", mempool.ErrStale, tx.Nonce, tx.FromID, next)
	}

	if err := s.mempool.Submit(tx); err != nil {
		return err
	}

	s.evHandler("state: upsertTransaction: tx[%s]: added to mempool", tx)

	return nil
}
