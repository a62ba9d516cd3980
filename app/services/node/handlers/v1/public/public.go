// Package public maintains the group of handlers for public access.
package public

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/btpc/consensus/business/web/errs"
	"github.com/btpc/consensus/foundation/blockchain/database"
	"github.com/btpc/consensus/foundation/blockchain/ledger"
	"github.com/btpc/consensus/foundation/blockchain/script"
	"github.com/btpc/consensus/foundation/blockchain/signature"
	"github.com/btpc/consensus/foundation/blockchain/state"
	"github.com/btpc/consensus/foundation/events"
	"github.com/btpc/consensus/foundation/validate"
	"github.com/btpc/consensus/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handlers manages the set of public node endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
	WS    websocket.Upgrader
	Evts  *events.Events
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

	return h.Evts.Stream(c, v.TraceID)
}

// SubmitTransaction validates a signed transaction against the ledger and
// adds it to the mempool.
func (h Handlers) SubmitTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var ntx newTx
	if err := web.Decode(r, &ntx); err != nil {
		if validate.IsFieldErrors(err) {
			return err
		}
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	tx := ntx.toTx()

	h.Log.Infow("submit tx", "traceid", web.GetTraceID(ctx), "txid", tx.ID(), "inputs", len(tx.Inputs), "outputs", len(tx.Outputs))

	e, err := h.State.AdmitToMempool(tx)
	if err != nil {
		return errs.FromEngine(err)
	}

	return web.Respond(ctx, w, toEntry(e), http.StatusOK)
}

// Mempool returns the pooled transactions in admission order.
func (h Handlers) Mempool(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, toEntries(h.State.QueryMempool()), http.StatusOK)
}

// UTXO returns the unspent output identified by txid and index.
func (h Handlers) UTXO(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	q := utxoQuery{
		TxID:  web.Param(r, "txid"),
		Index: web.Param(r, "index"),
	}
	if err := validate.Check(q); err != nil {
		return err
	}

	txID, err := signature.ParseHash(q.TxID)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	index, err := strconv.ParseUint(q.Index, 10, 32)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	u, err := h.State.QueryUTXO(database.OutPoint{TxID: txID, Index: uint32(index)})
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return errs.NewTrusted(err, http.StatusNotFound)
		}
		return errs.FromEngine(err)
	}

	return web.Respond(ctx, w, u, http.StatusOK)
}

// UTXOsByAddress returns the unspent outputs locked to a pubkey hash.
func (h Handlers) UTXOsByAddress(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	q := addressQuery{
		Address: web.Param(r, "pkh"),
	}
	if err := validate.Check(q); err != nil {
		return err
	}

	pkh, err := signature.ParsePubKeyHash(q.Address)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	utxos, err := h.State.QueryUTXOsByPubKeyHash(pkh)
	if err != nil {
		return errs.FromEngine(err)
	}

	bal := balance{
		Address: q.Address,
		UTXOs:   utxos,
	}
	for _, u := range utxos {
		bal.Total += u.Output.Value
	}
	if bal.UTXOs == nil {
		bal.UTXOs = []database.UTXO{}
	}

	return web.Respond(ctx, w, bal, http.StatusOK)
}

// Tip returns the block at the tip of the chain.
func (h Handlers) Tip(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	block, height := h.State.QueryTip()
	return web.Respond(ctx, w, database.NewBlockData(block, height), http.StatusOK)
}

// BlockByHeight returns the block stored at the height.
func (h Handlers) BlockByHeight(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	height, err := strconv.ParseUint(web.Param(r, "height"), 10, 32)
	if err != nil {
		return errs.NewTrusted(errors.New("invalid height"), http.StatusBadRequest)
	}

	block, err := h.State.QueryBlock(uint32(height))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return errs.NewTrusted(err, http.StatusNotFound)
		}
		return err
	}

	return web.Respond(ctx, w, database.NewBlockData(block, uint32(height)), http.StatusOK)
}

// Template returns an unsolved block on the current tip paying to the
// address given in the query string.
func (h Handlers) Template(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	q := addressQuery{
		Address: r.URL.Query().Get("address"),
	}
	if err := validate.Check(q); err != nil {
		return err
	}

	pkh, err := signature.ParsePubKeyHash(q.Address)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	lock, err := script.PayToPubKeyHash(pkh)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	block, err := h.State.NewBlockTemplate(lock)
	if err != nil {
		return errs.FromEngine(err)
	}

	_, height := h.State.QueryTip()

	return web.Respond(ctx, w, database.NewBlockData(block, height+1), http.StatusOK)
}
