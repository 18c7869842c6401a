package public

import (
	"github.com/m-peko/tetherion/foundation/blockchain/database"
)

type info struct {
	Account database.AccountID `json:"account"`
	Name    string             `json:"name"`
	Balance uint64             `json:"balance"`
	Nonce   uint64             `json:"nonce"`
}

type actInfo struct {
	LatestBlock string `json:"latest_block"`
	Uncommitted int    `json:"uncommitted"`
	Accounts    []info `json:"accounts"`
}

type tx struct {
	ID          string             `json:"id"`
	FromAccount database.AccountID `json:"from"`
	FromName    string             `json:"from_name"`
	To          database.AccountID `json:"to"`
	ToName      string             `json:"to_name"`
	ChainID     uint16             `json:"chain_id"`
	Nonce       uint64             `json:"nonce"`
	Value       uint64             `json:"value"`
	Fee         uint64             `json:"fee"`
	Data        []byte             `json:"data"`
	Sig         string             `json:"sig"`
}

type block struct {
	Hash            string             `json:"hash"`
	Number          uint64             `json:"number"`
	PrevBlockHash   string             `json:"prev_block_hash"`
	TimeStamp       uint64             `json:"timestamp"`
	BeneficiaryID   database.AccountID `json:"beneficiary"`
	BeneficiaryName string             `json:"beneficiary_name"`
	Difficulty      uint64             `json:"difficulty"`
	MiningReward    uint64             `json:"mining_reward"`
	Nonce           uint64             `json:"nonce"`
	TransRoot       string             `json:"trans_root"`
	Active          bool               `json:"active"`
	Transactions    []tx               `json:"txs"`
}

type tip struct {
	Hash      string `json:"hash"`
	Height    uint64 `json:"height"`
	TotalWork string `json:"total_work"`
	Block     block  `json:"block"`
}

type difficulty struct {
	Tip        string `json:"tip"`
	Difficulty uint64 `json:"difficulty"`
}
