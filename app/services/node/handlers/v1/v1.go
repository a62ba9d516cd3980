// Package v1 contains the full set of handler functions and routes
// supported by the v1 web api.
package v1

import (
	"net/http"

	"github.com/btpc/consensus/app/services/node/handlers/v1/private"
	"github.com/btpc/consensus/app/services/node/handlers/v1/public"
	"github.com/btpc/consensus/foundation/blockchain/state"
	"github.com/btpc/consensus/foundation/events"
	"github.com/btpc/consensus/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const version = "v1"

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log   *zap.SugaredLogger
	State *state.State
	Evts  *events.Events
}

// PublicRoutes binds all the version 1 public routes.
func PublicRoutes(app *web.App, cfg Config) {
	pbl := public.Handlers{
		Log:   cfg.Log,
		State: cfg.State,
		WS:    websocket.Upgrader{},
		Evts:  cfg.Evts,
	}

	app.Handle(http.MethodGet, version, "/events", pbl.Events)
	app.Handle(http.MethodPost, version, "/tx/submit", pbl.SubmitTransaction)
	app.Handle(http.MethodGet, version, "/tx/mempool", pbl.Mempool)
	app.Handle(http.MethodGet, version, "/utxo/address/:pkh", pbl.UTXOsByAddress)
	app.Handle(http.MethodGet, version, "/utxo/:txid/:index", pbl.UTXO)
	app.Handle(http.MethodGet, version, "/block/tip", pbl.Tip)
	app.Handle(http.MethodGet, version, "/block/:height", pbl.BlockByHeight)
	app.Handle(http.MethodGet, version, "/template", pbl.Template)
}

// PrivateRoutes binds all the version 1 private routes.
func PrivateRoutes(app *web.App, cfg Config) {
	prv := private.Handlers{
		Log:   cfg.Log,
		State: cfg.State,
	}

	app.Handle(http.MethodPost, version, "/node/block/submit", prv.SubmitBlock)
	app.Handle(http.MethodGet, version, "/node/status", prv.Status)
	app.Handle(http.MethodGet, version, "/node/mining/signal", prv.SignalMining)
}
