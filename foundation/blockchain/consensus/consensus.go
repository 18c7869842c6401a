// Package consensus implements the rules a block must satisfy to join the
// chain: its structure, link to the parent, proof of work, timestamp and
// the effect of its transactions on account state.
package consensus

import (
	"math"
	"math/big"
	"time"

	"github.com/m-peko/tetherion/foundation/blockchain/database"
	"github.com/m-peko/tetherion/foundation/blockchain/genesis"
)

// maxAdjustment bounds how far a single adjustment can move the difficulty
// in either direction.
const maxAdjustment = 4

// Rules represents the consensus parameters every node on a chain shares.
type Rules struct {
	ChainID          uint16
	TransPerBlock    int
	MaxBlockBytes    int
	BlockInterval    time.Duration
	AdjustmentWindow uint64
	MaxClockDrift    time.Duration
	MiningReward     uint64
}

// NewRules reads the consensus parameters out of the genesis file.
func NewRules(gen genesis.Genesis) Rules {
	return Rules{
		ChainID:          gen.ChainID,
		TransPerBlock:    int(gen.TransPerBlock),
		MaxBlockBytes:    gen.MaxBlockBytes,
		BlockInterval:    gen.BlockInterval.Duration,
		AdjustmentWindow: gen.AdjustmentWindow,
		MaxClockDrift:    gen.MaxClockDrift.Duration,
		MiningReward:     gen.MiningReward,
	}
}

// NextDifficulty returns the difficulty required of a block whose parent is
// the last header of the window. The window holds the most recent headers
// on the path ending at the parent, oldest first. Until the window holds
// AdjustmentWindow+1 headers the parent's difficulty is kept.
func NextDifficulty(rules Rules, window []database.BlockHeader) uint64 {
	if len(window) == 0 {
		return 1
	}

	parent := window[len(window)-1].Difficulty

	n := rules.AdjustmentWindow
	if n == 0 || uint64(len(window)) < n+1 {
		return parent
	}

	window = window[uint64(len(window))-(n+1):]
	first, last := window[0], window[len(window)-1]

	// Timestamps strictly increase along a valid chain so the span is only
	// zero for a window that didn't come from one.
	span := uint64(1)
	if last.TimeStamp > first.TimeStamp {
		span = last.TimeStamp - first.TimeStamp
	}
	expected := n * uint64(rules.BlockInterval.Milliseconds())

	// new = parent * expected / span, done in big ints so large
	// difficulties don't overflow.
	d := new(big.Int).SetUint64(parent)
	d.Mul(d, new(big.Int).SetUint64(expected))
	d.Div(d, new(big.Int).SetUint64(span))

	lo := parent / maxAdjustment
	hi := uint64(math.MaxUint64)
	if parent <= math.MaxUint64/maxAdjustment {
		hi = parent * maxAdjustment
	}

	switch {
	case d.Cmp(new(big.Int).SetUint64(hi)) > 0:
		return hi
	case d.Cmp(new(big.Int).SetUint64(lo)) < 0:
		return max(lo, 1)
	}

	return max(d.Uint64(), 1)
}
