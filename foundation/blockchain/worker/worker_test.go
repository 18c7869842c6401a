package worker_test

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/m-peko/tetherion/foundation/blockchain/database"
	"github.com/m-peko/tetherion/foundation/blockchain/database/storage/memory"
	"github.com/m-peko/tetherion/foundation/blockchain/genesis"
	"github.com/m-peko/tetherion/foundation/blockchain/state"
	"github.com/m-peko/tetherion/foundation/blockchain/worker"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

const (
	signPavel = "fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959"
	signMiner = "8dc79feefd3b86e2f9991def0e5ccd9a5128e104682407b308594bc1032ac7f0"
)

func accountOf(t *testing.T, hexKey string) database.AccountID {
	pk, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		t.Fatalf("Should be able to load the private key: %s", err)
	}

	return database.PublicKeyToAccountID(pk.PublicKey)
}

func tran(t *testing.T, nonce uint64) database.SignedTx {
	pk, err := crypto.HexToECDSA(signPavel)
	if err != nil {
		t.Fatalf("Should be able to load the private key: %s", err)
	}

	tx := database.Tx{
		ChainID: 1,
		Nonce:   nonce,
		FromID:  database.PublicKeyToAccountID(pk.PublicKey),
		ToID:    accountOf(t, signMiner),
		Value:   10,
		Fee:     1,
	}

	signedTx, err := tx.Sign(pk)
	if err != nil {
		t.Fatalf("Should be able to sign the transaction: %s", err)
	}

	return signedTx
}

// waitFor polls until the condition holds or the time runs out.
func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}

	return false
}

func newState(t *testing.T, storage database.Serializer) *state.State {
	st, err := state.New(state.Config{
		BeneficiaryID: accountOf(t, signMiner),
		Host:          "0.0.0.0:9080",
		Storage:       storage,
		Genesis: genesis.Genesis{
			Date:          time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			ChainID:       1,
			TransPerBlock: 1,
			Difficulty:    1,
			MaxClockDrift: genesis.Duration{Duration: time.Minute},
			MiningReward:  700,
			Balances:      map[string]uint64{string(accountOf(t, signPavel)): 1_000},
		},
	})
	if err != nil {
		t.Fatalf("Should be able to construct the state: %s", err)
	}

	return st
}

// fullDisk accepts no blocks.
type fullDisk struct {
	*memory.Memory
}

func (fullDisk) Write(database.BlockData) error {
	return errors.New("disk full")
}

// =============================================================================

func Test_Mining(t *testing.T) {
	t.Log("Given the need to mine pooled transactions in the background.")
	{
		st := newState(t, memory.New())

		w := worker.Run(st, worker.Config{})
		defer st.Shutdown()

		if w.Phase() != worker.PhaseIdle {
			t.Fatalf("\t%s\tShould start idle, got %s.", failed, w.Phase())
		}
		t.Logf("\t%s\tShould start idle.", success)

		for nonce := range uint64(2) {
			if err := st.SubmitTransaction(tran(t, nonce)); err != nil {
				t.Fatalf("\t%s\tShould be able to submit a transaction: %v", failed, err)
			}
		}

		// One transaction per block means two blocks get mined.
		if !waitFor(func() bool { return st.ActiveTip().Height == 2 }) {
			t.Fatalf("\t%s\tShould mine both transactions, height %d.", failed, st.ActiveTip().Height)
		}
		t.Logf("\t%s\tShould mine both transactions.", success)

		if st.QueryMempoolLength() != 0 {
			t.Fatalf("\t%s\tShould empty the mempool.", failed)
		}
		t.Logf("\t%s\tShould empty the mempool.", success)

		if !waitFor(func() bool { return w.Phase() == worker.PhaseIdle }) {
			t.Fatalf("\t%s\tShould go back to idle, got %s.", failed, w.Phase())
		}
		t.Logf("\t%s\tShould go back to idle.", success)
	}
}

func Test_MineEmpty(t *testing.T) {
	t.Log("Given the need to keep mining when the mempool is empty.")
	{
		st := newState(t, memory.New())

		worker.Run(st, worker.Config{MineEmpty: true})
		defer st.Shutdown()

		if !waitFor(func() bool { return st.ActiveTip().Height >= 2 }) {
			t.Fatalf("\t%s\tShould mine empty blocks, height %d.", failed, st.ActiveTip().Height)
		}
		t.Logf("\t%s\tShould mine empty blocks.", success)

		if n := len(st.ActiveTip().Block.Trans()); n != 0 {
			t.Fatalf("\t%s\tShould mine blocks without transactions, got %d.", failed, n)
		}
		t.Logf("\t%s\tShould mine blocks without transactions.", success)
	}
}

func Test_StorageFailure(t *testing.T) {
	t.Log("Given the need to shut the node down when blocks can't be written.")
	{
		st := newState(t, fullDisk{Memory: memory.New()})

		shutdown := make(chan os.Signal, 1)
		worker.Run(st, worker.Config{Shutdown: shutdown})
		defer st.Shutdown()

		if err := st.SubmitTransaction(tran(t, 0)); err != nil {
			t.Fatalf("\t%s\tShould be able to submit a transaction: %v", failed, err)
		}

		select {
		case <-shutdown:
			t.Logf("\t%s\tShould signal a shutdown.", success)
		case <-time.After(10 * time.Second):
			t.Fatalf("\t%s\tShould signal a shutdown.", failed)
		}
	}
}

func Test_PhaseString(t *testing.T) {
	tt := []struct {
		phase worker.Phase
		exp   string
	}{
		{worker.PhaseIdle, "idle"},
		{worker.PhaseAssembling, "assembling"},
		{worker.PhaseSearching, "searching"},
		{worker.PhasePreempted, "preempted"},
		{worker.PhaseFound, "found"},
		{worker.Phase(42), "unknown"},
	}

	t.Log("Given the need to report the miner phase.")
	{
		for testID, tst := range tt {
			if got := tst.phase.String(); got != tst.exp {
				t.Fatalf("\t%s\tTest %d:\tShould get %q, got %q.", failed, testID, tst.exp, got)
			}
		}
		t.Logf("\t%s\tShould name every phase.", success)
	}
}
