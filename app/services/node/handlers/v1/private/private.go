// Package private maintains the group of handlers for node to node access.
package private

import (
	"context"
	"errors"
	"net/http"

	"github.com/btpc/consensus/business/web/errs"
	"github.com/btpc/consensus/foundation/blockchain/database"
	"github.com/btpc/consensus/foundation/blockchain/state"
	"github.com/btpc/consensus/foundation/web"
	"go.uber.org/zap"
)

// Handlers manages the set of node to node endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
}

// SubmitBlock takes a solved block from a miner or peer, validates it and
// if that passes, applies it to the chain and the ledger.
func (h Handlers) SubmitBlock(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var block database.Block
	if err := web.Decode(r, &block); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	h.Log.Infow("submit block", "traceid", web.GetTraceID(ctx), "hash", block.Hash(), "prev", block.Header.PrevBlock, "txs", len(block.Txs))

	if err := h.State.ProcessProposedBlock(block); err != nil {
		return errs.FromEngine(err)
	}

	_, height := h.State.QueryTip()

	resp := struct {
		Status string `json:"status"`
		Hash   string `json:"hash"`
		Height uint32 `json:"height"`
	}{
		Status: "accepted",
		Hash:   block.Hash().String(),
		Height: height,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Status returns the current status of the node.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	status, err := h.State.QueryStatus()
	if err != nil {
		return errs.FromEngine(err)
	}

	return web.Respond(ctx, w, status, http.StatusOK)
}

// SignalMining signals to start a mining operation.
func (h Handlers) SignalMining(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if h.State.Worker == nil || !h.State.IsMiningAllowed() {
		return errs.NewTrusted(errors.New("mining is turned off"), http.StatusServiceUnavailable)
	}

	h.State.Worker.SignalStartMining()

	resp := struct {
		Status string `json:"status"`
	}{
		Status: "mining signalled",
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}
