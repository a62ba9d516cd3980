package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/btpc/consensus/app/services/node/handlers"
	"github.com/btpc/consensus/foundation/blockchain/database/storage"
	"github.com/btpc/consensus/foundation/blockchain/genesis"
	"github.com/btpc/consensus/foundation/blockchain/ledger"
	"github.com/btpc/consensus/foundation/blockchain/ledger/leveldb"
	"github.com/btpc/consensus/foundation/blockchain/ledger/memory"
	"github.com/btpc/consensus/foundation/blockchain/script"
	"github.com/btpc/consensus/foundation/blockchain/signature"
	"github.com/btpc/consensus/foundation/blockchain/state"
	"github.com/btpc/consensus/foundation/blockchain/worker"
	"github.com/btpc/consensus/foundation/events"
	"github.com/btpc/consensus/foundation/logger"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("NODE")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	cfg := struct {
		conf.Version
		Web struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:10s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			DebugHost       string        `conf:"default:0.0.0.0:7080"`
			PublicHost      string        `conf:"default:0.0.0.0:8080"`
			PrivateHost     string        `conf:"default:0.0.0.0:9080"`
		}
		State struct {
			Network         string        `conf:"default:regtest"`
			GenesisFile     string        `conf:"help:json file overriding the network parameters"`
			DBPath          string        `conf:"default:zblock/blocks"`
			LedgerBackend   string        `conf:"default:leveldb,help:leveldb or memory"`
			LedgerPath      string        `conf:"default:zblock/utxo"`
			SelectStrategy  string        `conf:"default:feerate"`
			MinerKey        string        `conf:"help:key file of the mining beneficiary"`
			MineEmptyBlocks bool          `conf:"default:false"`
			MempoolMaxTxs   int           `conf:"default:50000"`
			MempoolMaxBytes int           `conf:"default:300000000"`
			MinFeeRate      uint64        `conf:"default:1000"`
			RejectTTL       time.Duration `conf:"default:10m"`
			MaxTxAge        time.Duration `conf:"default:336h"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "proof of work consensus node",
		},
	}

	// Parse will set the defaults and then look for any overriding values
	// in environment variables and command line flags.
	const prefix = "NODE"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	// Display the current configuration to the logs.
	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Blockchain Support

	params, err := genesis.Lookup(cfg.State.Network)
	if err != nil {
		return err
	}
	if cfg.State.GenesisFile != "" {
		if params, err = genesis.Load(cfg.State.GenesisFile); err != nil {
			return fmt.Errorf("loading genesis file: %w", err)
		}
	}
	log.Infow("startup", "status", "network", "name", params.Name, "genesis", genesis.Block(params).Hash())

	// The beneficiary of mined blocks. Without a key the node validates and
	// relays but never mines.
	var payTo []byte
	if cfg.State.MinerKey != "" {
		key, err := signature.LoadKey(cfg.State.MinerKey)
		if err != nil {
			return fmt.Errorf("unable to load miner key: %w", err)
		}

		if payTo, err = script.PayToPubKeyHash(key.PubKeyHash()); err != nil {
			return err
		}
		log.Infow("startup", "status", "mining enabled", "address", fmt.Sprintf("0x%x", key.PubKeyHash()))
	}

	chain, err := storage.NewDisk(cfg.State.DBPath)
	if err != nil {
		return fmt.Errorf("opening chain storage: %w", err)
	}

	var utxos ledger.Storage
	switch cfg.State.LedgerBackend {
	case "memory":
		utxos = memory.New()
	case "leveldb":
		ldb, err := leveldb.Open(cfg.State.LedgerPath)
		if err != nil {
			return fmt.Errorf("opening ledger: %w", err)
		}
		utxos = ldb
	default:
		return fmt.Errorf("unknown ledger backend %q", cfg.State.LedgerBackend)
	}

	// The blockchain packages accept a function of this signature to allow the
	// application to log. The viewer events are also sent to any websocket
	// client that is connected into the system through the events package.
	evts := events.New()
	ev := func(v string, args ...any) {
		s := fmt.Sprintf(v, args...)
		log.Infow(s, "traceid", "00000000-0000-0000-0000-000000000000")
		evts.Send(s)
	}

	// The state value represents the blockchain node and manages the blockchain
	// database and provides an API for application support.
	st, err := state.New(state.Config{
		Params:          params,
		PayTo:           payTo,
		Storage:         chain,
		Ledger:          utxos,
		SelectStrategy:  cfg.State.SelectStrategy,
		MempoolMaxTxs:   cfg.State.MempoolMaxTxs,
		MempoolMaxBytes: cfg.State.MempoolMaxBytes,
		MinFeeRate:      cfg.State.MinFeeRate,
		RejectTTL:       cfg.State.RejectTTL,
		MineEmptyBlocks: cfg.State.MineEmptyBlocks,
		EvHandler:       ev,
	})
	if err != nil {
		return err
	}
	defer st.Shutdown()

	// The worker package implements the mining and mempool maintenance
	// workflows. The worker will register itself with the state.
	worker.Run(st, cfg.State.MaxTxAge, ev)

	// =========================================================================
	// Start Debug Service

	log.Infow("startup", "status", "debug v1 router started", "host", cfg.Web.DebugHost)

	// Construct the mux for the debug calls.
	debugMux := handlers.DebugMux(build, log, st)

	// Start the service listening for debug requests.
	// Not concerned with shutting this down with load shedding.
	go func() {
		if err := http.ListenAndServe(cfg.Web.DebugHost, debugMux); err != nil {
			log.Errorw("shutdown", "status", "debug v1 router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Service Start/Stop Support

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	// =========================================================================
	// Start Public Service

	log.Infow("startup", "status", "initializing V1 public API support")

	publicMux := handlers.PublicMux(handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		State:    st,
		Evts:     evts,
	})

	public := http.Server{
		Addr:         cfg.Web.PublicHost,
		Handler:      publicMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	go func() {
		log.Infow("startup", "status", "public api router started", "host", public.Addr)
		serverErrors <- public.ListenAndServe()
	}()

	// =========================================================================
	// Start Private Service

	log.Infow("startup", "status", "initializing V1 private API support")

	privateMux := handlers.PrivateMux(handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		State:    st,
	})

	private := http.Server{
		Addr:         cfg.Web.PrivateHost,
		Handler:      privateMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	go func() {
		log.Infow("startup", "status", "private api router started", "host", private.Addr)
		serverErrors <- private.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	// Blocking main and waiting for shutdown.
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		// Release any web sockets that are currently active.
		log.Infow("shutdown", "status", "shutdown web socket channels")
		evts.Shutdown()

		// Give outstanding requests a deadline for completion.
		ctx, cancelPri := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPri()

		// Asking listener to shut down and shed load.
		log.Infow("shutdown", "status", "shutdown private API started")
		if err := private.Shutdown(ctx); err != nil {
			private.Close()
			return fmt.Errorf("could not stop private service gracefully: %w", err)
		}

		ctx, cancelPub := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPub()

		log.Infow("shutdown", "status", "shutdown public API started")
		if err := public.Shutdown(ctx); err != nil {
			public.Close()
			return fmt.Errorf("could not stop public service gracefully: %w", err)
		}
	}

	return nil
}
