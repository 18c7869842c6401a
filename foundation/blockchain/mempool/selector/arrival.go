package selector

import "github.com/m-peko/tetherion/foundation/blockchain/database"

// arrivalSelect returns transactions in the order they reached the pool
// while respecting the nonce for each account.
var arrivalSelect = func(entries map[database.AccountID][]Entry, nextNonce func(database.AccountID) uint64, limits Limits) []database.SignedTx {
	less := func(a, b Entry) bool {
		return a.Seq < b.Seq
	}

	return selectBy(entries, nextNonce, limits, less)
}
