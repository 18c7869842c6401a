package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/m-peko/tetherion/foundation/blockchain/database"
)

var client = http.Client{
	Timeout: 10 * time.Second,
}

type account struct {
	Account database.AccountID `json:"account"`
	Name    string             `json:"name"`
	Balance uint64             `json:"balance"`
	Nonce   uint64             `json:"nonce"`
}

type accounts struct {
	LatestBlock string    `json:"latest_block"`
	Uncommitted int       `json:"uncommitted"`
	Accounts    []account `json:"accounts"`
}

// queryAccount asks the node for the account as of its tip. An account the
// node has never seen has a zero balance and nonce.
func queryAccount(url string, accountID database.AccountID) (account, error) {
	resp, err := client.Get(fmt.Sprintf("%s/v1/accounts/list/%s", url, accountID))
	if err != nil {
		return account{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return account{}, readError(resp)
	}

	var acts accounts
	if err := json.NewDecoder(resp.Body).Decode(&acts); err != nil {
		return account{}, err
	}

	if len(acts.Accounts) == 0 {
		return account{Account: accountID}, nil
	}

	return acts.Accounts[0], nil
}

// submitTx posts the signed transaction to the node's public api.
func submitTx(url string, signedTx database.SignedTx) error {
	data, err := json.Marshal(signedTx)
	if err != nil {
		return err
	}

	resp, err := client.Post(fmt.Sprintf("%s/v1/tx/submit", url), "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readError(resp)
	}

	return nil
}

func readError(resp *http.Response) error {
	var er struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil || er.Error == "" {
		return fmt.Errorf("node responded %s", resp.Status)
	}

	return fmt.Errorf("node responded %s: %s", resp.Status, er.Error)
}
