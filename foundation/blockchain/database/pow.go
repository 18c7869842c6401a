package database

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"

	"github.com/m-peko/tetherion/foundation/blockchain/signature"
)

// ErrPreempted is returned by POW when the chain tip moved while searching
// and the candidate block can no longer extend it.
var ErrPreempted = errors.New("mining preempted")

// maxTarget is the largest possible hash value, 2^256-1.
var maxTarget = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// defaultCheckInterval is how many nonces are tried between checks for
// cancellation and preemption when none is provided.
const defaultCheckInterval = 10_000

// Target returns the value a block hash must be below for the difficulty.
func Target(difficulty uint64) *big.Int {
	if difficulty == 0 {
		difficulty = 1
	}

	return new(big.Int).Div(maxTarget, new(big.Int).SetUint64(difficulty))
}

// Work returns the amount of work a block of the difficulty represents.
func Work(difficulty uint64) *big.Int {
	return new(big.Int).SetUint64(difficulty)
}

// IsHashSolved checks the hash to make sure it complies with the POW rules.
// The hash read as a 256 bit number needs to be below the target.
func IsHashSolved(difficulty uint64, hash string) bool {
	if !signature.IsHash(hash) {
		return false
	}

	n, err := signature.HashToInt(hash)
	if err != nil {
		return false
	}

	return n.Cmp(Target(difficulty)) < 0
}

// =============================================================================

// POWArgs represents the set of arguments required to run POW.
type POWArgs struct {
	BeneficiaryID AccountID
	Difficulty    uint64
	MiningReward  uint64
	PrevBlock     Block
	TimeStamp     uint64
	Trans         []SignedTx
	CheckInterval uint64
	Preempted     func() bool
	EvHandler     func(v string, args ...any)
}

// POW constructs a new Block and performs the work to find a nonce that
// solves the cryptographic POW puzzle.
func POW(ctx context.Context, args POWArgs) (Block, error) {
	if args.EvHandler == nil {
		args.EvHandler = func(string, ...any) {}
	}
	if args.Preempted == nil {
		args.Preempted = func() bool { return false }
	}
	if args.CheckInterval == 0 {
		args.CheckInterval = defaultCheckInterval
	}

	header := BlockHeader{
		Number:        args.PrevBlock.Header.Number + 1,
		PrevBlockHash: args.PrevBlock.Hash(),
		TimeStamp:     args.TimeStamp,
		BeneficiaryID: args.BeneficiaryID,
		Difficulty:    args.Difficulty,
		MiningReward:  args.MiningReward,
	}

	nb, err := NewBlock(header, args.Trans)
	if err != nil {
		return Block{}, err
	}
	nb.Header.TransRoot = nb.MerkleTree.RootHex()

	// Peform the proof of work mining operation.
	if err := nb.performPOW(ctx, args); err != nil {
		return Block{}, err
	}

	return nb, nil
}

// performPOW does the work of mining to find a valid hash for a specified
// block. Pointer semantics are being used since a nonce is being discovered.
func (b *Block) performPOW(ctx context.Context, args POWArgs) error {
	ev := args.EvHandler

	ev("worker: performPOW: MINING: started: blk[%d]: difficulty[%d]", b.Header.Number, b.Header.Difficulty)
	defer ev("worker: performPOW: MINING: completed")

	// Log the transactions that are a part of this potential block.
	for _, tx := range b.Trans() {
		ev("worker: performPOW: MINING: tx[%s]", tx)
	}

	// Choose a random starting point for the nonce. After this, the nonce
	// will be incremented by 1 until a solution is found by us or another node.
	nBig, err := rand.Int(rand.Reader, big.NewInt(math.MaxInt64))
	if err != nil {
		return err
	}
	b.Header.Nonce = nBig.Uint64()

	target := Target(b.Header.Difficulty)

	// Loop until we or another node finds a solution for the next block.
	var attempts uint64
	for {
		attempts++
		if attempts%args.CheckInterval == 0 {

			// Did we timeout trying to solve the problem.
			if ctx.Err() != nil {
				ev("worker: performPOW: MINING: CANCELLED")
				return ctx.Err()
			}

			// Did the tip move underneath us.
			if args.Preempted() {
				ev("worker: performPOW: MINING: PREEMPTED: attempts[%d]", attempts)
				return ErrPreempted
			}
		}

		// Hash the block and check if we have solved the puzzle.
		hash := b.Hash()
		n, err := signature.HashToInt(hash)
		if err != nil || n.Cmp(target) >= 0 {
			b.Header.Nonce++
			continue
		}

		ev("worker: performPOW: MINING: SOLVED: prevBlk[%s]: newBlk[%s]: attempts[%d]", b.Header.PrevBlockHash, hash, attempts)

		return nil
	}
}
