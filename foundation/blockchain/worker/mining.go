package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/btpc/consensus/foundation/blockchain/state"
)

// miningOperations handles mining.
func (w *Worker) miningOperations() {
	w.evHandler("worker: miningOperations: G started")
	defer w.evHandler("worker: miningOperations: G completed")

	for {
		select {
		case <-w.startMining:
			if !w.isShutdown() {
				w.runMiningOperation()
			}
		case <-w.shut:
			w.evHandler("worker: miningOperations: received shut signal")
			return
		}
	}
}

// runMiningOperation selects transactions from the mempool, solves a block
// for them and applies it to the chain.
func (w *Worker) runMiningOperation() {
	w.evHandler("worker: runMiningOperation: MINING: started")
	defer w.evHandler("worker: runMiningOperation: MINING: completed")

	if !w.state.IsMiningAllowed() {
		w.evHandler("worker: runMiningOperation: MINING: turned off")
		return
	}

	emptyBlocks := w.state.MinesEmptyBlocks()

	length := w.state.QueryMempoolLength()
	if length == 0 && !emptyBlocks {
		w.evHandler("worker: runMiningOperation: MINING: no transactions to mine: txs[%d]", length)
		return
	}

	// After running a mining operation, check if a new operation should
	// be signaled again.
	defer func() {
		if w.isShutdown() {
			return
		}
		length := w.state.QueryMempoolLength()
		if length > 0 || emptyBlocks {
			w.evHandler("worker: runMiningOperation: MINING: signal new mining operation: txs[%d]", length)
			w.SignalStartMining()
		}
	}()

	// If mining is signalled to be cancelled by a proposed block, this G
	// can't terminate until it is told it can.
	var wait chan struct{}
	defer func() {
		if wait != nil {
			w.evHandler("worker: runMiningOperation: MINING: termination signal: waiting")
			<-wait
			w.evHandler("worker: runMiningOperation: MINING: termination signal: received")
		}
	}()

	// Drain the cancel mining channel before starting.
	select {
	case <-w.cancelMining:
		w.evHandler("worker: runMiningOperation: MINING: drained cancel channel")
	default:
	}

	// Create a context so mining can be cancelled.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Can't return from this function until these G's are complete.
	var wg sync.WaitGroup
	wg.Add(2)

	// This G exists to cancel the mining operation.
	go func() {
		defer func() {
			cancel()
			wg.Done()
		}()

		select {
		case wait = <-w.cancelMining:
			w.evHandler("worker: runMiningOperation: MINING: CANCEL: requested")
		case <-ctx.Done():
		}
	}()

	// This G is performing the mining.
	go func() {
		defer func() {
			cancel()
			wg.Done()
		}()

		block, duration, err := w.state.MineNewBlock(ctx)

		w.evHandler("worker: runMiningOperation: MINING: mining duration[%v]", duration)

		if err != nil {
			switch {
			case errors.Is(err, state.ErrNoTransactions):
				w.evHandler("worker: runMiningOperation: MINING: WARNING: no transactions in mempool")
			case ctx.Err() != nil:
				w.evHandler("worker: runMiningOperation: MINING: CANCEL: complete")
			default:
				w.evHandler("worker: runMiningOperation: MINING: ERROR: %s", err)
			}
			return
		}

		w.evHandler("worker: runMiningOperation: MINING: SOLVED: blk[%s] txs[%d]", block.Hash(), len(block.Txs))
	}()

	// Wait for both G's to terminate.
	wg.Wait()
}
