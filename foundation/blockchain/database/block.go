package database

import (
	"fmt"

	"github.com/m-peko/tetherion/foundation/blockchain/genesis"
	"github.com/m-peko/tetherion/foundation/blockchain/merkle"
	"github.com/m-peko/tetherion/foundation/blockchain/signature"
)

// BlockHeader represents common information required for each block.
type BlockHeader struct {
	Number        uint64    `json:"number"`          // Ethereum: Block number in the chain.
	PrevBlockHash string    `json:"prev_block_hash"` // Bitcoin: Hash of the previous block in the chain.
	TimeStamp     uint64    `json:"timestamp"`       // Bitcoin: Time the block was mined in unix milliseconds.
	BeneficiaryID AccountID `json:"beneficiary"`     // Ethereum: The account who is receiving fees and the reward.
	Difficulty    uint64    `json:"difficulty"`      // Work required: the hash must be below the max target divided by this.
	MiningReward  uint64    `json:"mining_reward"`   // Ethereum: The reward for mining this block.
	Nonce         uint64    `json:"nonce"`           // Bitcoin: Value identified to solve the hash solution.
	TransRoot     string    `json:"trans_root"`      // Bitcoin/Ethereum: Represents the merkle tree root hash for the transactions in this block.
}

// Block represents a group of transactions batched together.
type Block struct {
	Header     BlockHeader
	MerkleTree *merkle.Tree[SignedTx]
}

// NewBlock constructs a block from the header and transactions. The header
// is taken as is; the transaction root is not filled in.
func NewBlock(header BlockHeader, trans []SignedTx) (Block, error) {
	tree, err := merkle.NewTree(trans)
	if err != nil {
		return Block{}, fmt.Errorf("building merkle tree: %w", err)
	}

	return Block{Header: header, MerkleTree: tree}, nil
}

// NewGenesisBlock constructs the fixed root block of the chain described by
// the genesis file. It carries no transactions and is never mined.
func NewGenesisBlock(gen genesis.Genesis) Block {
	tree, _ := merkle.NewTree[SignedTx](nil)

	return Block{
		Header: BlockHeader{
			Number:        0,
			PrevBlockHash: signature.ZeroHash,
			TimeStamp:     uint64(gen.Date.UTC().UnixMilli()),
			Difficulty:    gen.Difficulty,
			TransRoot:     tree.RootHex(),
		},
		MerkleTree: tree,
	}
}

// Hash returns the unique hash for the Block.
func (b Block) Hash() string {

	// CORE NOTE: Hashing the block header and not the whole block so the blockchain
	// can be cryptographically checked by only needing block headers and not full
	// blocks with the transaction data.

	return signature.Hash(b.Header)
}

// Trans returns the transactions of the block in order.
func (b Block) Trans() []SignedTx {
	if b.MerkleTree == nil {
		return nil
	}

	return b.MerkleTree.Values()
}

// TransSize returns the total encoded size of the block's transactions.
func (b Block) TransSize() int {
	var size int
	for _, tx := range b.Trans() {
		size += tx.Size()
	}

	return size
}

// =============================================================================

// BlockData represents what can be serialized to disk and over the network.
type BlockData struct {
	Hash   string      `json:"hash"`
	Header BlockHeader `json:"block"`
	Trans  []SignedTx  `json:"trans"`
}

// NewBlockData constructs block data from a block.
func NewBlockData(block Block) BlockData {
	blockData := BlockData{
		Hash:   block.Hash(),
		Header: block.Header,
		Trans:  block.Trans(),
	}

	return blockData
}

// ToBlock converts a storage block into a database block.
func ToBlock(blockData BlockData) (Block, error) {
	return NewBlock(blockData.Header, blockData.Trans)
}
