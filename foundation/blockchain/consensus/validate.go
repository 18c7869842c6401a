package consensus

import (
	"time"

	"github.com/m-peko/tetherion/foundation/blockchain/database"
	"github.com/m-peko/tetherion/foundation/blockchain/signature"
)

// Context carries what the validator needs to know about the position a
// block is being validated at. It's assembled by the caller from the chain
// store so ValidateBlock itself has no side effects.
type Context struct {
	Rules Rules

	// Window is up to AdjustmentWindow+1 headers on the path ending at the
	// parent, oldest first. An empty window means only the parent is known.
	Window []database.BlockHeader

	// Accounts is the state after the parent block. It is not changed.
	Accounts database.Accounts

	// Now is the local clock. Defaults to time.Now.
	Now func() time.Time

	EvHandler func(v string, args ...any)
}

// ValidateBlock takes a block and validates it to be included into the
// blockchain on top of the parent. The checks run in the order structural,
// linkage, proof of work, temporal and state, stopping at the first rule
// broken. On success the account state after the block is returned.
func ValidateBlock(block database.Block, parent database.Block, ctx Context) (database.Accounts, error) {
	ev := ctx.EvHandler
	if ev == nil {
		ev = func(string, ...any) {}
	}

	now := time.Now
	if ctx.Now != nil {
		now = ctx.Now
	}

	window := ctx.Window
	if len(window) == 0 {
		window = []database.BlockHeader{parent.Header}
	}

	h := block.Header
	hash := block.Hash()

	// =========================================================================
	// Structural

	ev("consensus: ValidateBlock: validate: blk[%d]: check: header fields are present", h.Number)

	if !signature.IsHash(h.PrevBlockHash) {
		return nil, newError(KindStructural, h.Number, hash, "previous block hash is malformed")
	}

	if !signature.IsHash(h.TransRoot) {
		return nil, newError(KindStructural, h.Number, hash, "transaction root is malformed")
	}

	if !h.BeneficiaryID.IsCanonical() {
		return nil, newError(KindStructural, h.Number, hash, "beneficiary %q is not a valid account", h.BeneficiaryID)
	}

	if h.Difficulty < 1 {
		return nil, newError(KindStructural, h.Number, hash, "difficulty must be at least 1")
	}

	ev("consensus: ValidateBlock: validate: blk[%d]: check: block number is the next number", h.Number)

	if h.Number != parent.Header.Number+1 {
		return nil, newError(KindStructural, h.Number, hash, "this block is not the next number, got %d, exp %d", h.Number, parent.Header.Number+1)
	}

	if h.MiningReward != ctx.Rules.MiningReward {
		return nil, newError(KindStructural, h.Number, hash, "mining reward is wrong, got %d, exp %d", h.MiningReward, ctx.Rules.MiningReward)
	}

	ev("consensus: ValidateBlock: validate: blk[%d]: check: merkle root does match transactions", h.Number)

	if block.MerkleTree == nil || h.TransRoot != block.MerkleTree.RootHex() {
		return nil, newError(KindStructural, h.Number, hash, "merkle root does not match transactions")
	}

	trans := block.Trans()

	if ctx.Rules.TransPerBlock > 0 && len(trans) > ctx.Rules.TransPerBlock {
		return nil, newError(KindStructural, h.Number, hash, "too many transactions, got %d, max %d", len(trans), ctx.Rules.TransPerBlock)
	}

	if ctx.Rules.MaxBlockBytes > 0 {
		if size := block.TransSize(); size > ctx.Rules.MaxBlockBytes {
			return nil, newError(KindStructural, h.Number, hash, "transactions too large, got %d bytes, max %d", size, ctx.Rules.MaxBlockBytes)
		}
	}

	ev("consensus: ValidateBlock: validate: blk[%d]: check: transactions are well formed", h.Number)

	for _, tx := range trans {
		if err := tx.Validate(ctx.Rules.ChainID); err != nil {
			return nil, newError(KindStructural, h.Number, hash, "transaction %s: %w", tx, err)
		}
	}

	// =========================================================================
	// Linkage

	ev("consensus: ValidateBlock: validate: blk[%d]: check: parent hash does match parent block", h.Number)

	if h.PrevBlockHash != parent.Hash() {
		return nil, newError(KindLinkage, h.Number, hash, "parent block hash doesn't match our known parent, got %s, exp %s", h.PrevBlockHash, parent.Hash())
	}

	// =========================================================================
	// Proof of work

	ev("consensus: ValidateBlock: validate: blk[%d]: check: block difficulty is the required difficulty", h.Number)

	if exp := NextDifficulty(ctx.Rules, window); h.Difficulty != exp {
		return nil, newError(KindProofOfWork, h.Number, hash, "wrong difficulty, got %d, exp %d", h.Difficulty, exp)
	}

	ev("consensus: ValidateBlock: validate: blk[%d]: check: block hash has been solved", h.Number)

	if !database.IsHashSolved(h.Difficulty, hash) {
		return nil, newError(KindProofOfWork, h.Number, hash, "hash is not below the target for difficulty %d", h.Difficulty)
	}

	// =========================================================================
	// Temporal

	ev("consensus: ValidateBlock: validate: blk[%d]: check: block's timestamp is greater than parent block's timestamp", h.Number)

	if h.TimeStamp <= parent.Header.TimeStamp {
		return nil, newError(KindTemporal, h.Number, hash, "block timestamp is not after parent block, parent %d, block %d", parent.Header.TimeStamp, h.TimeStamp)
	}

	limit := now().Add(ctx.Rules.MaxClockDrift).UnixMilli()
	if limit < 0 || h.TimeStamp > uint64(limit) {
		return nil, newError(KindTemporal, h.Number, hash, "block timestamp %d is too far in the future, limit %d", h.TimeStamp, limit)
	}

	// =========================================================================
	// State

	ev("consensus: ValidateBlock: validate: blk[%d]: check: transactions apply to parent state", h.Number)

	accounts, err := ApplyBlock(ctx.Accounts, block)
	if err != nil {
		return nil, newError(KindState, h.Number, hash, "%w", err)
	}

	return accounts, nil
}

// ApplyBlock applies the block's transactions in order and then the mining
// reward to a copy of the accounts. The accounts passed in are not changed.
func ApplyBlock(accounts database.Accounts, block database.Block) (database.Accounts, error) {
	next := accounts.Copy()

	for _, tx := range block.Trans() {
		if err := next.ApplyTransaction(block.Header.BeneficiaryID, tx); err != nil {
			return nil, err
		}
	}

	next.ApplyMiningReward(block.Header.BeneficiaryID, block.Header.MiningReward)

	return next, nil
}
