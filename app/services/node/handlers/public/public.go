// Package public maintains the group of handlers for public access.
package public

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/m-peko/tetherion/business/web/errs"
	"github.com/m-peko/tetherion/foundation/blockchain/database"
	"github.com/m-peko/tetherion/foundation/blockchain/mempool"
	"github.com/m-peko/tetherion/foundation/blockchain/state"
	"github.com/m-peko/tetherion/foundation/events"
	"github.com/m-peko/tetherion/foundation/nameservice"
	"github.com/m-peko/tetherion/foundation/web"
	"go.uber.org/zap"
)

// Handlers manages the set of public endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
	NS    *nameservice.NameService
	WS    websocket.Upgrader
	Evts  *events.Stream
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	ch := h.Evts.Subscribe(v.TraceID)
	defer h.Evts.Unsubscribe(v.TraceID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, wd := <-ch:
			if !wd {
				return nil
			}

			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return err
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// SubmitWalletTransaction adds new user transactions to the mempool.
func (h Handlers) SubmitWalletTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var signedTx database.SignedTx
	if err := web.Decode(r, &signedTx); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	h.Log.Infow("add user tran", "traceid", v.TraceID, "from:nonce", signedTx, "to", signedTx.ToID, "value", signedTx.Value, "fee", signedTx.Fee)

	if err := h.State.SubmitTransaction(signedTx); err != nil {
		switch {
		case errors.Is(err, mempool.ErrStructural):
			return errs.NewTrusted(err, http.StatusBadRequest)
		case errors.Is(err, mempool.ErrDuplicate), errors.Is(err, mempool.ErrStale):
			return errs.NewTrusted(err, http.StatusConflict)
		}
		return err
	}

	resp := struct {
		Status string `json:"status"`
		ID     string `json:"id"`
	}{
		Status: "transaction added to mempool",
		ID:     signedTx.ID(),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Genesis returns the genesis information.
func (h Handlers) Genesis(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.RetrieveGenesis(), http.StatusOK)
}

// Tip returns the head of the active chain.
func (h Handlers) Tip(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	t := h.State.ActiveTip()

	resp := tip{
		Hash:      t.Hash,
		Height:    t.Height,
		TotalWork: t.TotalWork.String(),
		Block:     h.toBlock(t.Block),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// BlockByHash returns the block with the hash and whether it's active.
func (h Handlers) BlockByHash(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	blk, err := h.State.GetBlock(web.Param(r, "hash"))
	if err != nil {
		return errs.NewTrusted(err, http.StatusNotFound)
	}

	return web.Respond(ctx, w, h.toBlock(blk), http.StatusOK)
}

// Difficulty returns the difficulty the next block on the tip must meet.
func (h Handlers) Difficulty(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	resp := difficulty{
		Tip:        h.State.ActiveTip().Hash,
		Difficulty: h.State.CurrentDifficulty(),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Mempool returns the set of uncommitted transactions.
func (h Handlers) Mempool(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var accountID database.AccountID
	if acct := web.Param(r, "account"); acct != "" {
		var err error
		if accountID, err = h.resolve(acct); err != nil {
			return errs.NewTrusted(err, http.StatusBadRequest)
		}
	}

	pool := h.State.QueryMempool()

	trans := make([]tx, 0, len(pool))
	for _, tran := range pool {
		if accountID != "" && accountID != tran.FromID && accountID != tran.ToID {
			continue
		}
		trans = append(trans, h.toTx(tran))
	}

	return web.Respond(ctx, w, trans, http.StatusOK)
}

// Accounts returns the current balances for all users.
func (h Handlers) Accounts(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var accountID database.AccountID
	if acct := web.Param(r, "account"); acct != "" {
		var err error
		if accountID, err = h.resolve(acct); err != nil {
			return errs.NewTrusted(err, http.StatusBadRequest)
		}
	}

	blkAccounts := h.State.QueryAccounts(accountID)

	acts := make([]info, 0, len(blkAccounts))
	for _, account := range blkAccounts {
		act := info{
			Account: account.AccountID,
			Name:    h.NS.Lookup(account.AccountID),
			Balance: account.Balance,
			Nonce:   account.Nonce,
		}
		acts = append(acts, act)
	}

	ai := actInfo{
		LatestBlock: h.State.ActiveTip().Hash,
		Uncommitted: h.State.QueryMempoolLength(),
		Accounts:    acts,
	}

	return web.Respond(ctx, w, ai, http.StatusOK)
}

// =============================================================================

// resolve accepts either an account id or a name known to the name service.
func (h Handlers) resolve(acct string) (database.AccountID, error) {
	if accountID, exists := h.NS.Resolve(acct); exists {
		return accountID, nil
	}

	return database.ToAccountID(acct)
}

func (h Handlers) toTx(tran database.SignedTx) tx {
	return tx{
		ID:          tran.ID(),
		FromAccount: tran.FromID,
		FromName:    h.NS.Lookup(tran.FromID),
		To:          tran.ToID,
		ToName:      h.NS.Lookup(tran.ToID),
		ChainID:     tran.ChainID,
		Nonce:       tran.Nonce,
		Value:       tran.Value,
		Fee:         tran.Fee,
		Data:        tran.Data,
		Sig:         tran.SignatureString(),
	}
}

func (h Handlers) toBlock(blk database.Block) block {
	blkTrans := blk.Trans()
	trans := make([]tx, len(blkTrans))
	for i, tran := range blkTrans {
		trans[i] = h.toTx(tran)
	}

	hash := blk.Hash()

	return block{
		Hash:            hash,
		Number:          blk.Header.Number,
		PrevBlockHash:   blk.Header.PrevBlockHash,
		TimeStamp:       blk.Header.TimeStamp,
		BeneficiaryID:   blk.Header.BeneficiaryID,
		BeneficiaryName: h.NS.Lookup(blk.Header.BeneficiaryID),
		Difficulty:      blk.Header.Difficulty,
		MiningReward:    blk.Header.MiningReward,
		Nonce:           blk.Header.Nonce,
		TransRoot:       blk.Header.TransRoot,
		Active:          h.State.IsActive(hash),
		Transactions:    trans,
	}
}
