package cmd

import (
	"crypto/ecdsa"
	"fmt"
	"log"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/m-peko/tetherion/foundation/blockchain/database"
	"github.com/spf13/cobra"
)

var (
	chainID uint16
	nonce   uint64
	to      string
	value   uint64
	fee     uint64
	data    []byte
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send transaction",
	Run: func(cmd *cobra.Command, args []string) {
		privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
		if err != nil {
			log.Fatal(err)
		}

		// Without an explicit nonce use the next one the chain expects.
		if !cmd.Flags().Changed("nonce") {
			act, err := queryAccount(url, database.PublicKeyToAccountID(privateKey.PublicKey))
			if err != nil {
				log.Fatal(err)
			}
			nonce = act.Nonce
		}

		id, err := sendWithDetails(url, privateKey)
		if err != nil {
			log.Fatal(err)
		}

		fmt.Println("Submitted:", id)
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().Uint16VarP(&chainID, "chain", "c", 1, "Chain id from the genesis file.")
	sendCmd.Flags().Uint64VarP(&nonce, "nonce", "n", 0, "Nonce for the transaction, defaults to the account's next nonce.")
	sendCmd.Flags().StringVarP(&to, "to", "t", "", "Account to send to.")
	sendCmd.MarkFlagRequired("to")
	sendCmd.Flags().Uint64VarP(&value, "value", "v", 0, "Value to send.")
	sendCmd.Flags().Uint64VarP(&fee, "fee", "f", 0, "Fee offered to the miner.")
	sendCmd.Flags().BytesHexVarP(&data, "data", "d", nil, "Data to send.")
}

func sendWithDetails(url string, privateKey *ecdsa.PrivateKey) (string, error) {
	toID, err := database.ToAccountID(to)
	if err != nil {
		return "", err
	}

	fromID := database.PublicKeyToAccountID(privateKey.PublicKey)

	tx, err := database.NewTx(chainID, nonce, fromID, toID, value, fee, data)
	if err != nil {
		return "", err
	}

	signedTx, err := tx.Sign(privateKey)
	if err != nil {
		return "", err
	}

	if err := submitTx(url, signedTx); err != nil {
		return "", err
	}

	return signedTx.ID(), nil
}
