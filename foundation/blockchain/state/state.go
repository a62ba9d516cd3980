// Package state is the core API for the blockchain and ties the chain store,
// the ledger, the validator and the mempool together.
package state

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btpc/consensus/foundation/blockchain/database"
	"github.com/btpc/consensus/foundation/blockchain/genesis"
	"github.com/btpc/consensus/foundation/blockchain/ledger"
	"github.com/btpc/consensus/foundation/blockchain/mempool"
	"github.com/btpc/consensus/foundation/blockchain/metrics"
	"github.com/btpc/consensus/foundation/blockchain/pow"
	"github.com/btpc/consensus/foundation/blockchain/validator"
)

// ErrLedgerMismatch is returned at startup when the ledger tip is not a block
// of the stored chain.
var ErrLedgerMismatch = errors.New("ledger does not match the stored chain")

// =============================================================================

// EventHandler defines a function that is called when events
// occur in the processing of persisting blocks.
type EventHandler func(v string, args ...any)

// Worker interface represents the behavior required to be implemented by any
// package providing support for mining.
type Worker interface {
	Shutdown()
	SignalStartMining()
	SignalCancelMining() (done func())
}

// =============================================================================

// Config represents the configuration required to start
// the blockchain node.
type Config struct {
	Params          genesis.Params
	PayTo           []byte
	Storage         database.Storage
	Ledger          ledger.Storage
	SelectStrategy  string
	MempoolMaxTxs   int
	MempoolMaxBytes int
	MinFeeRate      uint64
	RejectTTL       time.Duration
	MineEmptyBlocks bool
	Now             func() time.Time
	EvHandler       EventHandler
}

// State manages the blockchain database.
type State struct {
	params     genesis.Params
	payTo      []byte
	mineEmpty  bool
	now        func() time.Time
	evHandler  EventHandler
	extraNonce atomic.Uint64

	mu        sync.Mutex
	chainWork *big.Int

	db        *database.Database
	ledger    *ledger.Ledger
	validator *validator.Validator
	mempool   *mempool.Mempool

	Worker Worker
}

// New constructs a new blockchain for data management. The ledger is brought
// in line with the stored chain before the state is returned.
func New(cfg Config) (*State, error) {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	// Open the chain. An empty store is seeded with the genesis block of
	// the network.
	db, err := database.New(genesis.Block(cfg.Params), cfg.Storage, ev)
	if err != nil {
		return nil, err
	}

	l := ledger.New(cfg.Ledger, ev)

	v, err := validator.New(validator.Config{
		Params:    cfg.Params,
		Chain:     db,
		Ledger:    l,
		Now:       now,
		EvHandler: ev,
	})
	if err != nil {
		return nil, err
	}

	mp, err := mempool.New(mempool.Config{
		Validator:  v,
		Strategy:   cfg.SelectStrategy,
		MaxTxs:     cfg.MempoolMaxTxs,
		MaxBytes:   cfg.MempoolMaxBytes,
		MaxTxSize:  cfg.Params.MaxTxSize,
		MinFeeRate: cfg.MinFeeRate,
		RejectTTL:  cfg.RejectTTL,
		Now:        now,
		EvHandler:  ev,
	})
	if err != nil {
		return nil, err
	}

	state := State{
		params:    cfg.Params,
		payTo:     cfg.PayTo,
		mineEmpty: cfg.MineEmptyBlocks,
		now:       now,
		evHandler: ev,
		chainWork: new(big.Int),
		db:        db,
		ledger:    l,
		validator: v,
		mempool:   mp,
	}

	if err := state.syncLedger(); err != nil {
		return nil, err
	}

	if err := state.loadChainWork(); err != nil {
		return nil, err
	}

	_, height := db.Tip()
	metrics.ChainHeight(height)

	// The Worker is not set here. The call to worker.Run will assign itself
	// and start everything up and running for the node.

	return &state, nil
}

// Shutdown cleanly brings the node down.
func (s *State) Shutdown() error {
	s.evHandler("state: shutdown: started")
	defer s.evHandler("state: shutdown: completed")

	// Stop all blockchain writing activity.
	if s.Worker != nil {
		s.Worker.Shutdown()
	}

	return errors.Join(s.ledger.Close(), s.db.Close())
}

// =============================================================================

// syncLedger replays the stored blocks the ledger has not seen yet. A ledger
// with no tip starts from the genesis block.
func (s *State) syncLedger() error {
	_, height := s.db.Tip()

	tip, ok, err := s.ledger.Tip()
	if err != nil {
		return err
	}

	var from uint32
	if ok {
		if tip.Height > height {
			return fmt.Errorf("%w: ledger at height %d, chain at %d", ErrLedgerMismatch, tip.Height, height)
		}

		h, err := s.db.HeaderByHeight(tip.Height)
		if err != nil {
			return err
		}

		if !h.Hash().Equal(tip.Hash) {
			return fmt.Errorf("%w: ledger tip %s is not block %d", ErrLedgerMismatch, tip.Hash, tip.Height)
		}

		from = tip.Height + 1
	}

	if from <= height {
		s.evHandler("state: syncLedger: replaying blocks[%d..%d]", from, height)
	}

	for h := from; h <= height; h++ {
		block, err := s.db.GetBlock(h)
		if err != nil {
			return fmt.Errorf("read block %d: %w", h, err)
		}

		if err := s.validator.Connect(block, h); err != nil {
			return fmt.Errorf("replay block %d: %w", h, err)
		}
	}

	return nil
}

// loadChainWork sums the work of every header on the chain.
func (s *State) loadChainWork() error {
	_, height := s.db.Tip()

	work := new(big.Int)
	for h := uint32(0); h <= height; h++ {
		header, err := s.db.HeaderByHeight(h)
		if err != nil {
			return err
		}
		work.Add(work, pow.Work(header.Bits))
	}

	s.mu.Lock()
	s.chainWork = work
	s.mu.Unlock()

	return nil
}
