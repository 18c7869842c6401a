package database

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/m-peko/tetherion/foundation/blockchain/signature"
	"github.com/m-peko/tetherion/foundation/validate"
)

// Tx is the transactional information between two parties.
type Tx struct {
	ChainID uint16    `json:"chain_id"`                          // Ethereum: The chain id that is listed in the genesis file.
	Nonce   uint64    `json:"nonce"`                             // Ethereum: Unique id for the transaction supplied by the user.
	FromID  AccountID `json:"from" validate:"required,eth_addr"` // Ethereum: Account sending the transaction. Will be checked against signature.
	ToID    AccountID `json:"to" validate:"required,eth_addr"`   // Ethereum: Account receiving the benefit of the transaction.
	Value   uint64    `json:"value"`                             // Ethereum: Monetary value received from this transaction.
	Fee     uint64    `json:"fee"`                               // Fee offered by the sender as an incentive to mine this transaction.
	Data    []byte    `json:"data"`                              // Ethereum: Extra data related to the transaction.
}

// NewTx constructs a new transaction.
func NewTx(chainID uint16, nonce uint64, fromID AccountID, toID AccountID, value uint64, fee uint64, data []byte) (Tx, error) {
	if !fromID.IsAccountID() {
		return Tx{}, errors.New("from account is not properly formatted")
	}
	if !toID.IsAccountID() {
		return Tx{}, errors.New("to account is not properly formatted")
	}

	tx := Tx{
		ChainID: chainID,
		Nonce:   nonce,
		FromID:  fromID,
		ToID:    toID,
		Value:   value,
		Fee:     fee,
		Data:    data,
	}

	return tx, nil
}

// Sign uses the specified private key to sign the transaction.
func (tx Tx) Sign(privateKey *ecdsa.PrivateKey) (SignedTx, error) {

	// Validate the to account address is a valid address.
	if !tx.ToID.IsAccountID() {
		return SignedTx{}, errors.New("to account is not properly formatted")
	}

	// Sign the transaction with the private key to produce a signature.
	v, r, s, err := signature.Sign(tx, privateKey)
	if err != nil {
		return SignedTx{}, err
	}

	// Construct the signed transaction by adding the signature
	// in the [R|S|V] format.
	signedTx := SignedTx{
		Tx: tx,
		V:  v,
		R:  r,
		S:  s,
	}

	return signedTx, nil
}

// =============================================================================

// SignedTx is a signed version of the transaction. This is how clients like
// a wallet provide transactions for inclusion into the blockchain.
type SignedTx struct {
	Tx
	V *big.Int `json:"v"` // Ethereum: Recovery identifier, either 29 or 30 with tetherionID.
	R *big.Int `json:"r"` // Ethereum: First coordinate of the ECDSA signature.
	S *big.Int `json:"s"` // Ethereum: Second coordinate of the ECDSA signature.
}

// Validate verifies the transaction is well formed for the given chain: the
// accounts are formatted correctly, the signature conforms to our standards
// and it was produced by the from account. It does not look at any ledger
// state.
func (tx SignedTx) Validate(chainID uint16) error {
	if err := validate.Check(tx.Tx); err != nil {
		return err
	}

	if tx.ChainID != chainID {
		return fmt.Errorf("invalid chain id, got %d, exp %d", tx.ChainID, chainID)
	}

	if !tx.FromID.IsCanonical() || !tx.ToID.IsCanonical() {
		return errors.New("accounts must be in checksum form")
	}

	if tx.FromID == tx.ToID {
		return fmt.Errorf("sending money to yourself, from %s, to %s", tx.FromID, tx.ToID)
	}

	if err := signature.VerifySignature(tx.V, tx.R, tx.S); err != nil {
		return err
	}

	address, err := signature.FromAddress(tx.Tx, tx.V, tx.R, tx.S)
	if err != nil {
		return err
	}

	if address != string(tx.FromID) {
		return fmt.Errorf("signature address doesn't match from address, got %s, exp %s", address, tx.FromID)
	}

	return nil
}

// ID returns the unique content hash of the signed transaction.
func (tx SignedTx) ID() string {
	return signature.Hash(tx)
}

// Size returns the number of bytes the transaction takes once encoded.
func (tx SignedTx) Size() int {
	data, err := json.Marshal(tx)
	if err != nil {
		return 0
	}

	return len(data)
}

// SignatureString returns the signature as a string.
func (tx SignedTx) SignatureString() string {
	return signature.SignatureString(tx.V, tx.R, tx.S)
}

// String implements the fmt.Stringer interface for logging.
func (tx SignedTx) String() string {
	return fmt.Sprintf("%s:%d", tx.FromID, tx.Nonce)
}

// Hash implements the merkle Hashable interface for providing a hash
// of a transaction.
func (tx SignedTx) Hash() ([]byte, error) {
	return hexutil.Decode(tx.ID())
}

// Equals implements the merkle Hashable interface for providing an equality
// check between two transactions.
func (tx SignedTx) Equals(otherTx SignedTx) bool {
	return tx.ID() == otherTx.ID()
}
