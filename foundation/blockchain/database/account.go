package database

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Set of error variables for applying transactions to account state.
var (
	ErrNonceMismatch     = errors.New("nonce mismatch")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Account represents information stored in the database for an individual account.
type Account struct {
	AccountID AccountID `json:"account"`
	Nonce     uint64    `json:"nonce"` // The next nonce this account is expected to use.
	Balance   uint64    `json:"balance"`
}

// =============================================================================

// AccountID represents an account id that is used to sign transactions and is
// associated with transactions on the blockchain.
type AccountID string

// ToAccountID converts a hex-encoded string to an account and validates the
// hex-encoded string is formatted correctly. The returned id is always in
// its checksum form so the same account can't be stored under two keys.
func ToAccountID(hex string) (AccountID, error) {
	a := AccountID(hex)
	if !a.IsAccountID() {
		return "", errors.New("invalid account format")
	}

	return AccountID(common.HexToAddress(hex).Hex()), nil
}

// PublicKeyToAccountID converts the public key to an account value.
func PublicKeyToAccountID(pk ecdsa.PublicKey) AccountID {
	return AccountID(crypto.PubkeyToAddress(pk).String())
}

// IsAccountID verifies whether the underlying data represents a valid
// hex-encoded account.
func (a AccountID) IsAccountID() bool {
	const addressLength = 20

	if has0xPrefix(a) {
		a = a[2:]
	}

	return len(a) == 2*addressLength && isHex(a)
}

// IsCanonical reports whether the account is a valid id in checksum form.
func (a AccountID) IsCanonical() bool {
	return a.IsAccountID() && common.HexToAddress(string(a)).Hex() == string(a)
}

// has0xPrefix validates the account starts with a 0x.
func has0xPrefix(a AccountID) bool {
	return len(a) >= 2 && a[0] == '0' && (a[1] == 'x' || a[1] == 'X')
}

// isHex validates whether each byte is valid hexadecimal string.
func isHex(a AccountID) bool {
	if len(a)%2 != 0 {
		return false
	}

	for _, c := range []byte(a) {
		if !isHexCharacter(c) {
			return false
		}
	}

	return true
}

// isHexCharacter returns bool of c being a valid hexadecimal.
func isHexCharacter(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

// =============================================================================

// Accounts is the ledger state after some block: every account that has a
// balance or has sent a transaction.
type Accounts map[AccountID]Account

// NewAccounts constructs the ledger state from a set of starting balances.
func NewAccounts(balances map[string]uint64) (Accounts, error) {
	accounts := make(Accounts, len(balances))
	for accountStr, balance := range balances {
		accountID, err := ToAccountID(accountStr)
		if err != nil {
			return nil, fmt.Errorf("balance account %q: %w", accountStr, err)
		}

		accounts[accountID] = Account{AccountID: accountID, Balance: balance}
	}

	return accounts, nil
}

// Copy makes a copy of the accounts so the copy can be changed without
// affecting the original.
func (a Accounts) Copy() Accounts {
	accounts := make(Accounts, len(a))
	for accountID, account := range a {
		accounts[accountID] = account
	}

	return accounts
}

// Query returns the account for the id. Unknown accounts have a zero
// balance and expect a nonce of 0.
func (a Accounts) Query(accountID AccountID) Account {
	account, exists := a[accountID]
	if !exists {
		return Account{AccountID: accountID}
	}

	return account
}

// NextNonce returns the nonce the account is expected to use next.
func (a Accounts) NextNonce(accountID AccountID) uint64 {
	return a.Query(accountID).Nonce
}

// List returns the accounts sorted by account id.
func (a Accounts) List() []Account {
	list := make([]Account, 0, len(a))
	for _, account := range a {
		list = append(list, account)
	}

	sort.Sort(byAccount(list))
	return list
}

// ApplyTransaction performs the business logic for applying a transaction
// to the accounts. The value moves from the sender to the recipient and the
// fee goes to the beneficiary. Nothing changes when an error is returned.
func (a Accounts) ApplyTransaction(beneficiaryID AccountID, tx SignedTx) error {
	from := a.Query(tx.FromID)

	if tx.Nonce != from.Nonce {
		return fmt.Errorf("%w: account %s, got %d, exp %d", ErrNonceMismatch, tx.FromID, tx.Nonce, from.Nonce)
	}

	if tx.Value > math.MaxUint64-tx.Fee || from.Balance < tx.Value+tx.Fee {
		return fmt.Errorf("%w: account %s, bal %d, needed %d+%d", ErrInsufficientFunds, tx.FromID, from.Balance, tx.Value, tx.Fee)
	}

	from.Balance -= tx.Value + tx.Fee
	from.Nonce++
	a[tx.FromID] = from

	to := a.Query(tx.ToID)
	to.Balance += tx.Value
	a[tx.ToID] = to

	bnfc := a.Query(beneficiaryID)
	bnfc.Balance += tx.Fee
	a[beneficiaryID] = bnfc

	return nil
}

// ApplyMiningReward gives the beneficiary the mining reward.
func (a Accounts) ApplyMiningReward(beneficiaryID AccountID, reward uint64) {
	bnfc := a.Query(beneficiaryID)
	bnfc.Balance += reward

	a[beneficiaryID] = bnfc
}

// =============================================================================

// byAccount provides sorting support by the account id value.
type byAccount []Account

// Len returns the number of accounts in the list.
func (ba byAccount) Len() int {
	return len(ba)
}

// Less helps to sort the list by account id in ascending order.
func (ba byAccount) Less(i, j int) bool {
	return ba[i].AccountID < ba[j].AccountID
}

// Swap moves accounts in the order of the account id value.
func (ba byAccount) Swap(i, j int) {
	ba[i], ba[j] = ba[j], ba[i]
}
