package chain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/m-peko/tetherion/foundation/blockchain/chain"
	"github.com/m-peko/tetherion/foundation/blockchain/database"
	"github.com/m-peko/tetherion/foundation/blockchain/genesis"
	"github.com/m-peko/tetherion/foundation/blockchain/signature"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func newStore() (*chain.Store, database.Block) {
	gen := genesis.Genesis{Date: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Difficulty: 1}
	g := database.NewGenesisBlock(gen)

	return chain.New(g, database.Accounts{}), g
}

// child builds a block on the parent. The tag keeps siblings apart.
func child(parent database.Block, difficulty uint64, tag uint64) database.Block {
	h := database.BlockHeader{
		Number:        parent.Header.Number + 1,
		PrevBlockHash: parent.Hash(),
		TimeStamp:     parent.Header.TimeStamp + 1,
		Difficulty:    difficulty,
		Nonce:         tag,
		TransRoot:     signature.ZeroHash,
	}

	b, _ := database.NewBlock(h, nil)
	return b
}

func hashes(blocks []database.Block) []string {
	var hs []string
	for _, b := range blocks {
		hs = append(hs, b.Hash())
	}
	return hs
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// =============================================================================

func Test_Insert(t *testing.T) {
	t.Log("Given the need to add blocks to the tree.")
	{
		s, g := newStore()

		b1 := child(g, 1, 0)
		out, err := s.Insert(b1, database.Accounts{})
		if err != nil {
			t.Fatalf("\t%s\tShould be able to insert a block: %v", failed, err)
		}

		if !out.Changed || !equal(hashes(out.Activated), hashes([]database.Block{b1})) || out.Reorganized() {
			t.Fatalf("\t%s\tShould extend the active chain: %+v", failed, out)
		}
		t.Logf("\t%s\tShould extend the active chain.", success)

		again, err := s.Insert(b1, database.Accounts{})
		if err != nil || !again.Duplicate || again.Changed {
			t.Fatalf("\t%s\tShould treat a second insert as a no-op: %+v, %v", failed, again, err)
		}
		if s.Count() != 2 || s.ActiveTip().Hash != b1.Hash() {
			t.Fatalf("\t%s\tShould leave the tree unchanged after a duplicate.", failed)
		}
		t.Logf("\t%s\tShould treat a second insert as a no-op.", success)

		orphan := child(child(g, 1, 99), 1, 0)
		if _, err := s.Insert(orphan, database.Accounts{}); !errors.Is(err, chain.ErrOrphanBlock) {
			t.Fatalf("\t%s\tShould reject a block with an unknown parent: %v", failed, err)
		}
		t.Logf("\t%s\tShould reject a block with an unknown parent.", success)

		if !s.IsAncestor(g.Hash(), b1.Hash()) || s.IsAncestor(b1.Hash(), g.Hash()) {
			t.Fatalf("\t%s\tShould know genesis is an ancestor of the block.", failed)
		}
		t.Logf("\t%s\tShould know genesis is an ancestor of the block.", success)
	}
}

func Test_Reorg(t *testing.T) {
	t.Log("Given the need to switch to a heavier fork.")
	{
		s, g := newStore()

		// G -> B1 -> B2 has work 5.
		b1 := child(g, 2, 0)
		b2 := child(b1, 3, 0)

		// G -> B1' -> B2' -> B3' has work 7.
		f1 := child(g, 2, 1)
		f2 := child(f1, 2, 1)
		f3 := child(f2, 3, 1)

		for _, b := range []database.Block{b1, b2, f1, f2} {
			if _, err := s.Insert(b, database.Accounts{}); err != nil {
				t.Fatalf("\t%s\tShould be able to insert a block: %v", failed, err)
			}
		}

		if s.ActiveTip().Hash != b2.Hash() || s.ActiveTip().TotalWork.Int64() != 5 {
			t.Fatalf("\t%s\tShould stay on B2 while the fork is lighter.", failed)
		}
		t.Logf("\t%s\tShould stay on B2 while the fork is lighter.", success)

		out, err := s.Insert(f3, database.Accounts{})
		if err != nil {
			t.Fatalf("\t%s\tShould be able to insert B3': %v", failed, err)
		}

		if !out.Changed || s.ActiveTip().Hash != f3.Hash() || s.ActiveTip().TotalWork.Int64() != 7 {
			t.Fatalf("\t%s\tShould switch to B3'.", failed)
		}
		t.Logf("\t%s\tShould switch to B3'.", success)

		if !equal(hashes(out.RolledBack), hashes([]database.Block{b2, b1})) {
			t.Fatalf("\t%s\tShould roll back B2 then B1.", failed)
		}
		t.Logf("\t%s\tShould roll back B2 then B1.", success)

		if !equal(hashes(out.Activated), hashes([]database.Block{f1, f2, f3})) {
			t.Fatalf("\t%s\tShould activate B1', B2', B3' in order.", failed)
		}
		t.Logf("\t%s\tShould activate B1', B2', B3' in order.", success)

		if s.IsActive(b1.Hash()) || !s.IsActive(f2.Hash()) {
			t.Fatalf("\t%s\tShould track which blocks are active.", failed)
		}

		active := s.ActiveBlocks(0, 10)
		if !equal(hashes(active), hashes([]database.Block{g, f1, f2, f3})) {
			t.Fatalf("\t%s\tShould list the active chain by height.", failed)
		}
		t.Logf("\t%s\tShould list the active chain by height.", success)

		if _, err := s.GetBlock(b2.Hash()); err != nil {
			t.Fatalf("\t%s\tShould keep abandoned blocks in the tree.", failed)
		}
		t.Logf("\t%s\tShould keep abandoned blocks in the tree.", success)

		headers, err := s.Ancestors(f3.Hash(), 3)
		if err != nil || len(headers) != 3 || headers[0].Difficulty != 2 || headers[2].Difficulty != 3 {
			t.Fatalf("\t%s\tShould get the last 3 headers oldest first: %v", failed, err)
		}
		t.Logf("\t%s\tShould get the last 3 headers oldest first.", success)
	}
}

func Test_ForkChoiceDeterminism(t *testing.T) {
	t.Log("Given the need to pick the same tip for the same arrivals.")
	{
		_, g := newStore()
		a := child(g, 3, 1)
		b := child(g, 3, 2)
		c := child(g, 1, 3)

		tt := []struct {
			name  string
			order []database.Block
			exp   database.Block
		}{
			{name: "afirst", order: []database.Block{a, b, c}, exp: a},
			{name: "bfirst", order: []database.Block{b, a, c}, exp: b},
			{name: "lightfirst", order: []database.Block{c, a, b}, exp: a},
		}

		for testID, tst := range tt {
			f := func(t *testing.T) {
				for run := 0; run < 3; run++ {
					s, _ := newStore()
					for _, blk := range tst.order {
						if _, err := s.Insert(blk, database.Accounts{}); err != nil {
							t.Fatalf("\t%s\tTest %d:\tShould be able to insert a block: %v", failed, testID, err)
						}
					}

					if s.ActiveTip().Hash != tst.exp.Hash() {
						t.Fatalf("\t%s\tTest %d:\tShould keep the earliest of equal work tips.", failed, testID)
					}
				}
				t.Logf("\t%s\tTest %d:\tShould keep the earliest of equal work tips.", success, testID)
			}

			t.Run(tst.name, f)
		}
	}
}
