package selector

import "github.com/m-peko/tetherion/foundation/blockchain/database"

// feeSelect returns transactions with the best fee while respecting the nonce
// for each account. Equal fees go to the transaction that arrived first.
var feeSelect = func(entries map[database.AccountID][]Entry, nextNonce func(database.AccountID) uint64, limits Limits) []database.SignedTx {
	less := func(a, b Entry) bool {
		if a.Tx.Fee != b.Tx.Fee {
			return a.Tx.Fee > b.Tx.Fee
		}
		return a.Seq < b.Seq
	}

	return selectBy(entries, nextNonce, limits, less)
}
