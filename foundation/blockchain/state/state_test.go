package state_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/m-peko/tetherion/foundation/blockchain/chain"
	"github.com/m-peko/tetherion/foundation/blockchain/consensus"
	"github.com/m-peko/tetherion/foundation/blockchain/database"
	"github.com/m-peko/tetherion/foundation/blockchain/database/storage/memory"
	"github.com/m-peko/tetherion/foundation/blockchain/genesis"
	"github.com/m-peko/tetherion/foundation/blockchain/mempool"
	"github.com/m-peko/tetherion/foundation/blockchain/peer"
	"github.com/m-peko/tetherion/foundation/blockchain/state"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

const (
	signPavel = "fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959"
	signBill  = "9f332e3700d8fc2446eaf6d15034cf96e0c2745e40353deef032a5dbf1dfed93"
	signEd    = "aed31b6b5a341af8f27e66fb0b7633cf20fc27049e3eb7f6f623a4655b719ebb"
	signMiner = "8dc79feefd3b86e2f9991def0e5ccd9a5128e104682407b308594bc1032ac7f0"
	reward    = 700
)

var genDate = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func accountOf(t *testing.T, hexKey string) database.AccountID {
	pk, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		t.Fatalf("Should be able to load the private key: %s", err)
	}

	return database.PublicKeyToAccountID(pk.PublicKey)
}

func tran(t *testing.T, hexKey string, nonce uint64, value uint64, fee uint64) database.SignedTx {
	return tranTo(t, hexKey, accountOf(t, signMiner), nonce, value, fee)
}

func tranTo(t *testing.T, hexKey string, to database.AccountID, nonce uint64, value uint64, fee uint64) database.SignedTx {
	pk, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		t.Fatalf("Should be able to load the private key: %s", err)
	}

	tx := database.Tx{
		ChainID: 1,
		Nonce:   nonce,
		FromID:  database.PublicKeyToAccountID(pk.PublicKey),
		ToID:    to,
		Value:   value,
		Fee:     fee,
	}

	signedTx, err := tx.Sign(pk)
	if err != nil {
		t.Fatalf("Should be able to sign the transaction: %s", err)
	}

	return signedTx
}

// fakeWorker records what the state asked of it.
type fakeWorker struct {
	requested []string
	shared    int
	started   int
}

func (w *fakeWorker) Shutdown() {}
func (w *fakeWorker) SignalStartMining() { w.started++ }
func (w *fakeWorker) SignalShareTx(tx database.SignedTx) { w.shared++ }
func (w *fakeWorker) RequestBlock(hash string) { w.requested = append(w.requested, hash) }

func newState(t *testing.T, storage database.Serializer) (*state.State, *fakeWorker) {
	gen := genesis.Genesis{
		Date:          genDate,
		ChainID:       1,
		TransPerBlock: 10,
		Difficulty:    1,
		MaxClockDrift: genesis.Duration{Duration: time.Minute},
		MiningReward:  reward,
		Balances: map[string]uint64{
			string(accountOf(t, signPavel)): 1_000,
			string(accountOf(t, signBill)):  1_000,
			string(accountOf(t, signEd)):    1_000,
		},
	}

	st, err := state.New(state.Config{
		BeneficiaryID: accountOf(t, signMiner),
		Host:          "0.0.0.0:9080",
		Genesis:       gen,
		Storage:       storage,
		CheckInterval: 1,
		Now:           func() time.Time { return genDate.Add(time.Hour) },
	})
	if err != nil {
		t.Fatalf("Should be able to construct the state: %s", err)
	}

	w := fakeWorker{}
	st.Worker = &w

	return st, &w
}

// mine solves a block on the parent the way a peer would.
func mine(t *testing.T, st *state.State, parent database.Block, trans []database.SignedTx) database.Block {
	block, err := database.POW(context.Background(), database.POWArgs{
		BeneficiaryID: accountOf(t, signMiner),
		Difficulty:    1,
		MiningReward:  reward,
		PrevBlock:     parent,
		TimeStamp:     parent.Header.TimeStamp + 1,
		Trans:         trans,
	})
	if err != nil {
		t.Fatalf("Should be able to mine a block: %s", err)
	}

	return block
}

// mineLocal runs the miner's path: assemble, search, submit.
func mineLocal(t *testing.T, st *state.State) database.Block {
	cand, err := st.AssembleBlock()
	if err != nil {
		t.Fatalf("Should be able to assemble a block: %s", err)
	}

	block, err := database.POW(context.Background(), cand.Args)
	if err != nil {
		t.Fatalf("Should be able to solve the block: %s", err)
	}

	if err := st.ProcessMinedBlock(block); err != nil {
		t.Fatalf("Should be able to add the mined block: %s", err)
	}

	return block
}

// brokenStorage stores blocks in memory until it's told to fail.
type brokenStorage struct {
	*memory.Memory
	fail bool
}

func (b *brokenStorage) Write(blockData database.BlockData) error {
	if b.fail {
		return errors.New("disk full")
	}

	return b.Memory.Write(blockData)
}

func encode(t *testing.T, block database.Block) []byte {
	data, err := json.Marshal(database.NewBlockData(block))
	if err != nil {
		t.Fatalf("Should be able to encode the block: %s", err)
	}

	return data
}

// =============================================================================

func Test_MineSubmitMine(t *testing.T) {
	t.Log("Given the need to mine transactions into the chain.")
	{
		storage := memory.New()
		st, w := newState(t, storage)

		pavel := accountOf(t, signPavel)
		miner := accountOf(t, signMiner)
		g := st.ActiveTip().Block

		empty := mineLocal(t, st)

		if len(empty.Trans()) != 0 || empty.Header.PrevBlockHash != g.Hash() || st.ActiveTip().Hash != empty.Hash() {
			t.Fatalf("\t%s\tShould mine an empty block on genesis.", failed)
		}
		if got := st.Balance(miner).Balance; got != reward {
			t.Fatalf("\t%s\tShould credit the reward for an empty block, got %d.", failed, got)
		}
		t.Logf("\t%s\tShould mine an empty block on genesis.", success)

		tx0 := tran(t, signPavel, 0, 100, 2)
		if err := st.SubmitTransaction(tx0); err != nil {
			t.Fatalf("\t%s\tShould be able to submit a transaction: %v", failed, err)
		}
		if w.shared != 1 || w.started != 1 {
			t.Fatalf("\t%s\tShould share the transaction and signal mining.", failed)
		}
		t.Logf("\t%s\tShould be able to submit a transaction.", success)

		block := mineLocal(t, st)

		tip := st.ActiveTip()
		if tip.Height != 2 || tip.Hash != block.Hash() {
			t.Fatalf("\t%s\tShould have the mined block as the tip.", failed)
		}
		t.Logf("\t%s\tShould have the mined block as the tip.", success)

		if got := st.Balance(pavel).Balance; got != 898 {
			t.Fatalf("\t%s\tShould debit value and fee from the sender, got %d.", failed, got)
		}
		if got := st.Balance(miner).Balance; got != 2*reward+100+2 {
			t.Fatalf("\t%s\tShould credit value, fee and reward, got %d.", failed, got)
		}
		if st.QueryMempoolLength() != 0 {
			t.Fatalf("\t%s\tShould remove the mined transaction from the mempool.", failed)
		}
		t.Logf("\t%s\tShould apply the block to the accounts.", success)

		if err := st.SubmitTransaction(tran(t, signPavel, 0, 5, 50)); !errors.Is(err, mempool.ErrStale) {
			t.Fatalf("\t%s\tShould reject a nonce already used on the chain: %v", failed, err)
		}
		t.Logf("\t%s\tShould reject a nonce already used on the chain.", success)

		if err := st.SubmitTransaction(tran(t, signPavel, 1, 100, 2)); err != nil {
			t.Fatalf("\t%s\tShould be able to submit the next nonce: %v", failed, err)
		}
		mineLocal(t, st)

		if st.ActiveTip().Height != 3 || st.Balance(pavel).Balance != 796 || st.Balance(pavel).Nonce != 2 {
			t.Fatalf("\t%s\tShould mine the second transaction.", failed)
		}
		t.Logf("\t%s\tShould mine the second transaction.", success)

		cand, err := st.AssembleBlock()
		if err != nil || len(cand.Args.Trans) != 0 || cand.Args.MiningReward != reward {
			t.Fatalf("\t%s\tShould assemble an empty block once the mempool drains: %v", failed, err)
		}
		t.Logf("\t%s\tShould assemble an empty block once the mempool drains.", success)

		if storage.Len() != 3 {
			t.Fatalf("\t%s\tShould persist every block, got %d.", failed, storage.Len())
		}
		t.Logf("\t%s\tShould persist every block.", success)

		t.Log("\tWhen restarting the node on the same storage.")
		{
			again, _ := newState(t, storage)

			if again.ActiveTip().Hash != st.ActiveTip().Hash {
				t.Fatalf("\t%s\tShould replay to the same tip.", failed)
			}
			if again.Balance(pavel) != st.Balance(pavel) || again.Balance(miner) != st.Balance(miner) {
				t.Fatalf("\t%s\tShould replay to the same accounts.", failed)
			}
			t.Logf("\t%s\tShould replay to the same tip and accounts.", success)
		}
	}
}

func Test_Reorg(t *testing.T) {
	t.Log("Given the need to reconcile the mempool when the chain switches forks.")
	{
		st, w := newState(t, memory.New())
		g := st.ActiveTip().Block

		a := tran(t, signPavel, 0, 10, 1)
		b := tran(t, signBill, 0, 10, 1)
		c := tran(t, signEd, 0, 10, 1)
		d := tran(t, signPavel, 1, 10, 1)

		// G -> B1 -> B2 carries a and b.
		b1 := mine(t, st, g, []database.SignedTx{a})
		b2 := mine(t, st, b1, []database.SignedTx{b})

		// G -> F1 -> F2 -> F3 carries c.
		f1 := mine(t, st, g, []database.SignedTx{c})
		f2 := mine(t, st, f1, nil)
		f3 := mine(t, st, f2, nil)

		for _, blk := range []database.Block{b1, b2} {
			if err := st.ProcessProposedBlock(blk); err != nil {
				t.Fatalf("\t%s\tShould be able to add a block: %v", failed, err)
			}
		}

		for _, tx := range []database.SignedTx{c, d} {
			if err := st.UpsertNodeTransaction(tx); err != nil {
				t.Fatalf("\t%s\tShould be able to pool a transaction: %v", failed, err)
			}
		}

		for _, blk := range []database.Block{f1, f2} {
			if err := st.ProcessProposedBlock(blk); err != nil {
				t.Fatalf("\t%s\tShould be able to add a fork block: %v", failed, err)
			}
		}

		if st.ActiveTip().Hash != b2.Hash() || st.QueryMempoolLength() != 2 {
			t.Fatalf("\t%s\tShould stay on B2 while the fork only ties.", failed)
		}
		t.Logf("\t%s\tShould stay on B2 while the fork only ties.", success)

		started := w.started
		if err := st.ProcessProposedBlock(f3); err != nil {
			t.Fatalf("\t%s\tShould be able to add F3: %v", failed, err)
		}

		if st.ActiveTip().Hash != f3.Hash() {
			t.Fatalf("\t%s\tShould switch to F3.", failed)
		}
		t.Logf("\t%s\tShould switch to F3.", success)

		pool := make(map[string]bool)
		for _, tx := range st.QueryMempool() {
			pool[tx.ID()] = true
		}

		if len(pool) != 3 || !pool[a.ID()] || !pool[b.ID()] || !pool[d.ID()] {
			t.Fatalf("\t%s\tShould return a and b to the pool and keep d: %v", failed, pool)
		}
		t.Logf("\t%s\tShould return a and b to the pool and keep d.", success)

		if w.started != started+1 {
			t.Fatalf("\t%s\tShould signal the miner for the returned transactions.", failed)
		}
		t.Logf("\t%s\tShould signal the miner for the returned transactions.", success)

		if pool[c.ID()] {
			t.Fatalf("\t%s\tShould remove c once F1 confirms it.", failed)
		}
		t.Logf("\t%s\tShould remove c once F1 confirms it.", success)

		if got := st.Balance(accountOf(t, signPavel)).Balance; got != 1_000 {
			t.Fatalf("\t%s\tShould undo a's spend, got %d.", failed, got)
		}
		t.Logf("\t%s\tShould undo a's spend.", success)

		if _, err := st.GetBlock(b2.Hash()); err != nil || st.IsActive(b2.Hash()) {
			t.Fatalf("\t%s\tShould keep B2 as a side chain block.", failed)
		}
		t.Logf("\t%s\tShould keep B2 as a side chain block.", success)
	}
}

func Test_Orphans(t *testing.T) {
	t.Log("Given the need to accept blocks that arrive before their parent.")
	{
		st, w := newState(t, memory.New())
		g := st.ActiveTip().Block

		f1 := mine(t, st, g, []database.SignedTx{tran(t, signEd, 0, 10, 1)})
		f2 := mine(t, st, f1, nil)
		f3 := mine(t, st, f2, nil)

		for _, blk := range []database.Block{f3, f2, f3} {
			if err := st.OnBlockReceived(encode(t, blk)); !errors.Is(err, chain.ErrOrphanBlock) {
				t.Fatalf("\t%s\tShould hold a block with an unknown parent: %v", failed, err)
			}
		}

		if st.QueryOrphanCount() != 2 || st.ActiveTip().Height != 0 {
			t.Fatalf("\t%s\tShould hold both blocks once, got %d.", failed, st.QueryOrphanCount())
		}
		t.Logf("\t%s\tShould hold a block with an unknown parent.", success)

		if len(w.requested) != 2 || w.requested[0] != f2.Hash() || w.requested[1] != f1.Hash() {
			t.Fatalf("\t%s\tShould request each missing parent once: %v", failed, w.requested)
		}
		t.Logf("\t%s\tShould request each missing parent once.", success)

		if err := st.OnBlockReceived(encode(t, f1)); err != nil {
			t.Fatalf("\t%s\tShould accept the missing parent: %v", failed, err)
		}

		if st.ActiveTip().Hash != f3.Hash() || st.QueryOrphanCount() != 0 {
			t.Fatalf("\t%s\tShould connect the held blocks once the parent arrives.", failed)
		}
		t.Logf("\t%s\tShould connect the held blocks once the parent arrives.", success)
	}
}

func Test_Malformed(t *testing.T) {
	t.Log("Given the need to drop messages that can't be decoded.")
	{
		st, _ := newState(t, memory.New())
		g := st.ActiveTip().Block
		b1 := mine(t, st, g, nil)

		if err := st.OnBlockReceived([]byte(`{"hash":`)); !errors.Is(err, state.ErrMalformed) {
			t.Fatalf("\t%s\tShould drop a truncated block: %v", failed, err)
		}

		bd := database.NewBlockData(b1)
		bd.Hash = g.Hash()
		data, _ := json.Marshal(bd)
		if err := st.OnBlockReceived(data); !errors.Is(err, state.ErrMalformed) {
			t.Fatalf("\t%s\tShould drop a block whose hash doesn't match: %v", failed, err)
		}

		if err := st.OnTransactionReceived([]byte("junk")); !errors.Is(err, state.ErrMalformed) {
			t.Fatalf("\t%s\tShould drop a transaction that can't be decoded: %v", failed, err)
		}
		t.Logf("\t%s\tShould drop messages that can't be decoded.", success)

		if err := st.OnBlockReceived(encode(t, b1)); err != nil {
			t.Fatalf("\t%s\tShould keep accepting valid messages: %v", failed, err)
		}

		tx, _ := json.Marshal(tran(t, signBill, 0, 1, 1))
		if err := st.OnTransactionReceived(tx); err != nil {
			t.Fatalf("\t%s\tShould keep accepting valid transactions: %v", failed, err)
		}
		t.Logf("\t%s\tShould keep accepting valid messages.", success)
	}
}

func Test_Preempted(t *testing.T) {
	t.Log("Given the need to abandon a candidate once the tip moves.")
	{
		st, _ := newState(t, memory.New())
		g := st.ActiveTip().Block

		if err := st.SubmitTransaction(tran(t, signPavel, 0, 10, 1)); err != nil {
			t.Fatalf("\t%s\tShould be able to submit a transaction: %v", failed, err)
		}

		cand, err := st.AssembleBlock()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to assemble a block: %v", failed, err)
		}

		if cand.Args.Preempted() || st.IsPreempted(cand.Version) {
			t.Fatalf("\t%s\tShould not be preempted on the current tip.", failed)
		}

		if err := st.ProcessProposedBlock(mine(t, st, g, []database.SignedTx{tran(t, signBill, 0, 10, 1)})); err != nil {
			t.Fatalf("\t%s\tShould be able to add a peer block: %v", failed, err)
		}

		if !cand.Args.Preempted() {
			t.Fatalf("\t%s\tShould be preempted when the tip moves.", failed)
		}
		t.Logf("\t%s\tShould be preempted when the tip moves.", success)

		if _, err := database.POW(context.Background(), cand.Args); !errors.Is(err, database.ErrPreempted) {
			t.Fatalf("\t%s\tShould stop the search: %v", failed, err)
		}
		t.Logf("\t%s\tShould stop the search.", success)

		if st.QueryMempoolLength() != 1 {
			t.Fatalf("\t%s\tShould keep the unmined transaction pooled.", failed)
		}
		t.Logf("\t%s\tShould keep the unmined transaction pooled.", success)
	}
}

func Test_DoubleSpend(t *testing.T) {
	t.Log("Given the need to confirm at most one spend of a nonce.")
	{
		st, _ := newState(t, memory.New())
		g := st.ActiveTip().Block

		pavel := accountOf(t, signPavel)
		bill := accountOf(t, signBill)
		ed := accountOf(t, signEd)

		toBill := tranTo(t, signPavel, bill, 0, 10, 1)
		toEd := tranTo(t, signPavel, ed, 0, 10, 1)

		if err := st.SubmitTransaction(toBill); err != nil {
			t.Fatalf("\t%s\tShould be able to submit a transaction: %v", failed, err)
		}

		if err := st.SubmitTransaction(toEd); !errors.Is(err, mempool.ErrStale) {
			t.Fatalf("\t%s\tShould not pool a second spend of the nonce: %v", failed, err)
		}
		t.Logf("\t%s\tShould not pool a second spend of the nonce.", success)

		err := st.ProcessProposedBlock(mine(t, st, g, []database.SignedTx{toBill, toEd}))
		if !consensus.IsKind(err, consensus.KindState) || st.ActiveTip().Height != 0 {
			t.Fatalf("\t%s\tShould reject a block spending the nonce twice: %v", failed, err)
		}
		t.Logf("\t%s\tShould reject a block spending the nonce twice.", success)

		block := mineLocal(t, st)

		if len(block.Trans()) != 1 || block.Trans()[0].ID() != toBill.ID() {
			t.Fatalf("\t%s\tShould mine only the pooled spend.", failed)
		}
		if st.Balance(pavel).Nonce != 1 || st.Balance(bill).Balance != 1_010 || st.Balance(ed).Balance != 1_000 {
			t.Fatalf("\t%s\tShould confirm exactly one spend.", failed)
		}
		t.Logf("\t%s\tShould confirm exactly one spend.", success)

		if err := st.UpsertNodeTransaction(toEd); !errors.Is(err, mempool.ErrStale) {
			t.Fatalf("\t%s\tShould reject the other spend once the nonce is used: %v", failed, err)
		}
		t.Logf("\t%s\tShould reject the other spend once the nonce is used.", success)
	}
}

func Test_StorageFailure(t *testing.T) {
	t.Log("Given the need to stop accepting blocks once storage fails.")
	{
		storage := brokenStorage{Memory: memory.New()}
		st, _ := newState(t, &storage)
		g := st.ActiveTip().Block

		tx := tran(t, signPavel, 0, 10, 1)
		if err := st.SubmitTransaction(tx); err != nil {
			t.Fatalf("\t%s\tShould be able to submit a transaction: %v", failed, err)
		}

		b1 := mine(t, st, g, []database.SignedTx{tx})
		b2 := mine(t, st, b1, nil)

		storage.fail = true
		if err := st.ProcessProposedBlock(b1); !errors.Is(err, state.ErrPersistence) {
			t.Fatalf("\t%s\tShould report the failed write: %v", failed, err)
		}
		t.Logf("\t%s\tShould report the failed write.", success)

		if st.ActiveTip().Hash != b1.Hash() || st.QueryMempoolLength() != 0 {
			t.Fatalf("\t%s\tShould keep the mempool in line with the tip.", failed)
		}
		t.Logf("\t%s\tShould keep the mempool in line with the tip.", success)

		storage.fail = false
		if err := st.ProcessProposedBlock(b2); !errors.Is(err, state.ErrPersistence) || st.ActiveTip().Hash != b1.Hash() {
			t.Fatalf("\t%s\tShould refuse blocks after the failure: %v", failed, err)
		}
		if storage.Len() != 0 {
			t.Fatalf("\t%s\tShould not write past the failed block, got %d.", failed, storage.Len())
		}
		t.Logf("\t%s\tShould refuse blocks after the failure.", success)

		again, _ := newState(t, &storage)
		if again.ActiveTip().Hash != g.Hash() {
			t.Fatalf("\t%s\tShould restart from what was written.", failed)
		}
		t.Logf("\t%s\tShould restart from what was written.", success)
	}
}

func Test_PeerBlocks(t *testing.T) {
	t.Log("Given the need to keep every fetched block whose parent is missing.")
	{
		st, w := newState(t, memory.New())
		g := st.ActiveTip().Block

		f1 := mine(t, st, g, nil)
		f2 := mine(t, st, f1, nil)
		f3 := mine(t, st, f2, nil)

		srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v1/node/block/list/1/latest" {
				rw.WriteHeader(http.StatusNotFound)
				return
			}
			json.NewEncoder(rw).Encode([]database.BlockData{database.NewBlockData(f2), database.NewBlockData(f3)})
		}))
		defer srv.Close()

		pr := peer.New(strings.TrimPrefix(srv.URL, "http://"))
		if err := st.NetRequestPeerBlocks(pr); err != nil {
			t.Fatalf("\t%s\tShould fetch the blocks: %v", failed, err)
		}

		if st.QueryOrphanCount() != 2 || len(w.requested) == 0 || w.requested[0] != f1.Hash() {
			t.Fatalf("\t%s\tShould hold both blocks and ask for F1: %d, %v", failed, st.QueryOrphanCount(), w.requested)
		}
		t.Logf("\t%s\tShould hold both blocks and ask for F1.", success)

		if err := st.ProcessProposedBlock(f1); err != nil || st.ActiveTip().Hash != f3.Hash() {
			t.Fatalf("\t%s\tShould connect both blocks once F1 arrives: %v", failed, err)
		}
		t.Logf("\t%s\tShould connect both blocks once F1 arrives.", success)
	}
}

func Test_SubmitDuringBlock(t *testing.T) {
	t.Log("Given the need to never pool a transaction the tip already confirmed.")
	{
		for run := 0; run < 25; run++ {
			st, _ := newState(t, memory.New())
			g := st.ActiveTip().Block

			tx := tran(t, signPavel, 0, 10, 1)
			b1 := mine(t, st, g, []database.SignedTx{tx})

			var wg sync.WaitGroup
			wg.Add(2)

			go func() {
				defer wg.Done()
				st.UpsertNodeTransaction(tx)
			}()

			go func() {
				defer wg.Done()
				st.ProcessProposedBlock(b1)
			}()

			wg.Wait()

			if st.ActiveTip().Hash != b1.Hash() || st.QueryMempoolLength() != 0 {
				t.Fatalf("\t%s\tRun %d:\tShould leave the confirmed transaction out of the pool.", failed, run)
			}
		}
		t.Logf("\t%s\tShould leave the confirmed transaction out of the pool.", success)
	}
}
