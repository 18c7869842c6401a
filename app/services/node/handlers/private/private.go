// Package private maintains the group of handlers for node to node access.
package private

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/m-peko/tetherion/business/web/errs"
	"github.com/m-peko/tetherion/foundation/blockchain/chain"
	"github.com/m-peko/tetherion/foundation/blockchain/consensus"
	"github.com/m-peko/tetherion/foundation/blockchain/database"
	"github.com/m-peko/tetherion/foundation/blockchain/mempool"
	"github.com/m-peko/tetherion/foundation/blockchain/peer"
	"github.com/m-peko/tetherion/foundation/blockchain/state"
	"github.com/m-peko/tetherion/foundation/web"
	"go.uber.org/zap"
)

// maxBodyBytes caps the size of a block or transaction sent by a peer.
const maxBodyBytes = 4 << 20

// Handlers manages the set of node to node endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
}

// SubmitNodeTransaction adds a transaction shared by a peer to the mempool.
func (h Handlers) SubmitNodeTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to read payload: %w", err), http.StatusBadRequest)
	}

	h.Log.Infow("add node tran", "traceid", v.TraceID, "bytes", len(data))

	if err := h.State.OnTransactionReceived(data); err != nil {
		switch {
		case errors.Is(err, state.ErrMalformed), errors.Is(err, mempool.ErrStructural):
			return errs.NewTrusted(err, http.StatusBadRequest)
		case errors.Is(err, mempool.ErrDuplicate), errors.Is(err, mempool.ErrStale):
			return errs.NewTrusted(err, http.StatusConflict)
		}
		return err
	}

	resp := struct {
		Status string `json:"status"`
	}{
		Status: "transaction added to mempool",
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// ProposeBlock takes a block received from a peer, validates it and
// if that passes, adds the block to the local chain. A block whose parent
// isn't known yet is buffered and reported as accepted for later.
func (h Handlers) ProposeBlock(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to read payload: %w", err), http.StatusBadRequest)
	}

	resp := struct {
		Status string `json:"status"`
	}{
		Status: "accepted",
	}

	if err := h.State.OnBlockReceived(data); err != nil {
		switch {
		case errors.Is(err, chain.ErrOrphanBlock):
			resp.Status = "buffered"
			return web.Respond(ctx, w, resp, http.StatusAccepted)

		case errors.Is(err, state.ErrMalformed):
			return errs.NewTrusted(err, http.StatusBadRequest)

		case consensus.KindOf(err) != 0:
			return errs.NewTrusted(err, http.StatusNotAcceptable)

		case errors.Is(err, state.ErrPersistence):
			return web.NewShutdownError(err.Error())
		}

		return err
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// BlockByHash returns the block with the hash whether or not it's on the
// active chain. Peers use it to fill in missing parents.
func (h Handlers) BlockByHash(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	block, err := h.State.GetBlock(web.Param(r, "hash"))
	if err != nil {
		return errs.NewTrusted(err, http.StatusNotFound)
	}

	return web.Respond(ctx, w, database.NewBlockData(block), http.StatusOK)
}

// Status returns the current status of the node.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.QueryStatus(), http.StatusOK)
}

// BlocksByNumber returns the active blocks based on the specified to/from values.
func (h Handlers) BlocksByNumber(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	from, err := height(web.Param(r, "from"))
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	to, err := height(web.Param(r, "to"))
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	if from > to {
		return errs.NewTrusted(errors.New("from greater than to"), http.StatusBadRequest)
	}

	blocks := h.State.QueryBlocksByNumber(from, to)
	if len(blocks) == 0 {
		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}

	blockData := make([]database.BlockData, len(blocks))
	for i, block := range blocks {
		blockData[i] = database.NewBlockData(block)
	}

	return web.Respond(ctx, w, blockData, http.StatusOK)
}

// Mempool returns the set of uncommitted transactions.
func (h Handlers) Mempool(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.QueryMempool(), http.StatusOK)
}

// SubmitPeer is called by a node so they can be added to the known peer list.
func (h Handlers) SubmitPeer(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var pr peer.Peer
	if err := web.Decode(r, &pr); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	pr = peer.New(pr.Host)
	if pr.Host == "" {
		return errs.NewTrusted(errors.New("peer host is required"), http.StatusBadRequest)
	}

	if !h.State.AddKnownPeer(pr) {
		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}

	h.Log.Infow("adding peer", "traceid", v.TraceID, "host", pr.Host)

	return web.Respond(ctx, w, nil, http.StatusOK)
}

// =============================================================================

// height parses a block number where "latest" or nothing means the tip.
func height(s string) (uint64, error) {
	if s == "latest" || s == "" {
		return state.QueryLatest, nil
	}

	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid block number %q", s)
	}

	return n, nil
}
