// Package worker implements mining and mempool maintenance for the
// blockchain.
package worker

import (
	"sync"
	"time"

	"github.com/btpc/consensus/foundation/blockchain/state"
)

// maintenanceInterval represents the interval of expiring old mempool
// transactions.
const maintenanceInterval = time.Minute

// =============================================================================

// Worker manages the POW workflows for the blockchain.
type Worker struct {
	state        *state.State
	wg           sync.WaitGroup
	ticker       *time.Ticker
	shut         chan struct{}
	startMining  chan bool
	cancelMining chan chan struct{}
	maxTxAge     time.Duration
	evHandler    state.EventHandler
}

// Run creates a worker, registers the worker with the state package, and
// starts up all the background processes. Transactions pooled longer than
// maxTxAge are expired; zero keeps them until they are mined.
func Run(st *state.State, maxTxAge time.Duration, evHandler state.EventHandler) *Worker {
	ev := func(v string, args ...any) {
		if evHandler != nil {
			evHandler(v, args...)
		}
	}

	w := Worker{
		state:        st,
		ticker:       time.NewTicker(maintenanceInterval),
		shut:         make(chan struct{}),
		startMining:  make(chan bool, 1),
		cancelMining: make(chan chan struct{}, 1),
		maxTxAge:     maxTxAge,
		evHandler:    ev,
	}

	// Register this worker with the state package.
	st.Worker = &w

	// Load the set of operations we need to run.
	operations := []func(){
		w.maintenanceOperations,
		w.miningOperations,
	}

	// Set waitgroup to match the number of G's we need for the set
	// of operations we have.
	g := len(operations)
	w.wg.Add(g)

	// We don't want to return until we know all the G's are up and running.
	hasStarted := make(chan bool)

	// Start all the operational G's.
	for _, op := range operations {
		go func(op func()) {
			defer w.wg.Done()
			hasStarted <- true
			op()
		}(op)
	}

	// Wait for the G's to report they are running.
	for i := 0; i < g; i++ {
		<-hasStarted
	}

	// Blocks without transactions are mined from the start.
	if st.MinesEmptyBlocks() {
		w.SignalStartMining()
	}

	return &w
}

// =============================================================================
// These methods implement the state.Worker interface.

// Shutdown terminates the goroutine performing work.
func (w *Worker) Shutdown() {
	w.evHandler("worker: shutdown: started")
	defer w.evHandler("worker: shutdown: completed")

	w.evHandler("worker: shutdown: stop ticker")
	w.ticker.Stop()

	w.evHandler("worker: shutdown: signal cancel mining")
	done := w.SignalCancelMining()
	done()

	w.evHandler("worker: shutdown: terminate goroutines")
	close(w.shut)
	w.wg.Wait()
}

// SignalStartMining starts a mining operation. If there is already a signal
// pending in the channel, just return since a mining operation will start.
func (w *Worker) SignalStartMining() {
	if !w.state.IsMiningAllowed() {
		w.evHandler("worker: SignalStartMining: mining turned off")
		return
	}

	select {
	case w.startMining <- true:
	default:
	}
	w.evHandler("worker: SignalStartMining: mining signaled")
}

// SignalCancelMining signals the G executing the runMiningOperation function
// to stop immediately. That G will not return from the function until done
// is called. This allows the caller to complete any state changes before a new
// mining operation takes place.
func (w *Worker) SignalCancelMining() (done func()) {
	wait := make(chan struct{})

	select {
	case w.cancelMining <- wait:
	default:
	}
	w.evHandler("worker: SignalCancelMining: MINING: CANCEL: signaled")

	return func() { close(wait) }
}

// =============================================================================

// maintenanceOperations expires old mempool transactions.
func (w *Worker) maintenanceOperations() {
	w.evHandler("worker: maintenanceOperations: G started")
	defer w.evHandler("worker: maintenanceOperations: G completed")

	for {
		select {
		case <-w.ticker.C:
			if !w.isShutdown() && w.maxTxAge > 0 {
				if n := w.state.ExpireMempool(w.maxTxAge); n > 0 {
					w.evHandler("worker: maintenanceOperations: expired[%d]", n)
				}
			}
		case <-w.shut:
			w.evHandler("worker: maintenanceOperations: received shut signal")
			return
		}
	}
}

// isShutdown is used to test if a shutdown has been signaled.
func (w *Worker) isShutdown() bool {
	select {
	case <-w.shut:
		return true
	default:
		return false
	}
}
