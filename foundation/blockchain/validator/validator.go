// Package validator decides whether candidate blocks and transactions are
// admissible against the persisted chain and ledger, and atomically applies
// accepted blocks to the ledger.
package validator

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/btpc/consensus/foundation/blockchain/database"
	"github.com/btpc/consensus/foundation/blockchain/difficulty"
	"github.com/btpc/consensus/foundation/blockchain/genesis"
	"github.com/btpc/consensus/foundation/blockchain/ledger"
	"github.com/btpc/consensus/foundation/blockchain/pow"
	"github.com/btpc/consensus/foundation/blockchain/script"
	"github.com/btpc/consensus/foundation/blockchain/signature"
	"golang.org/x/sync/errgroup"
)

// Chain provides the validator access to the accepted chain of headers and
// the ability to append a block.
type Chain interface {
	Tip() (signature.Hash, uint32)
	HeightOf(hash signature.Hash) (uint32, bool)
	HeaderByHeight(height uint32) (database.BlockHeader, error)
	Ancestors(height uint32, n int) []database.BlockHeader
	Write(block database.Block) error
}

// Config represents the dependencies the validator needs.
type Config struct {
	Params    genesis.Params
	Chain     Chain
	Ledger    *ledger.Ledger
	Engine    *script.Engine
	Now       func() time.Time
	EvHandler func(v string, args ...any)
}

// Result describes an accepted block and the ledger changes it causes.
// Spent holds the records the block consumed from the ledger and Created
// the records it adds, which is what is needed to undo the block.
type Result struct {
	Hash    signature.Hash
	Height  uint32
	Fees    uint64
	Spent   []database.UTXO
	Created []database.UTXO
}

// Validator checks blocks and transactions against the network rules.
type Validator struct {
	params    genesis.Params
	chain     Chain
	ledger    *ledger.Ledger
	engine    *script.Engine
	now       func() time.Time
	evHandler func(v string, args ...any)
	applyMu   sync.Mutex
}

// New constructs a validator.
func New(cfg Config) (*Validator, error) {
	if cfg.Chain == nil || cfg.Ledger == nil {
		return nil, errors.New("validator requires a chain and a ledger")
	}

	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	engine := cfg.Engine
	if engine == nil {
		engine = script.NewEngine()
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	v := Validator{
		params:    cfg.Params,
		chain:     cfg.Chain,
		ledger:    cfg.Ledger,
		engine:    engine,
		now:       now,
		evHandler: ev,
	}

	return &v, nil
}

// Params returns the network rules in force.
func (v *Validator) Params() genesis.Params {
	return v.params
}

// =============================================================================

// ValidateBlock performs every check on a block that extends the current tip
// without changing any state. It runs under the ledger's read view so
// candidates can be validated in parallel.
func (v *Validator) ValidateBlock(block database.Block) (Result, error) {
	var res Result
	err := v.ledger.View(func(r ledger.Reader) error {
		var err error
		res, err = v.validateBlock(r, block)
		return err
	})
	if err != nil {
		return Result{}, v.classify(err)
	}

	return res, nil
}

// ApplyBlock validates the block and then commits its changes. The optimistic
// validation is repeated for the inputs under the ledger's exclusive section
// so two blocks racing for the same output can't both be applied. The ledger
// changes commit as one batch and the block is then appended to the chain.
func (v *Validator) ApplyBlock(block database.Block) (Result, error) {
	v.evHandler("validator: ApplyBlock: started: blk[%s]", block.Hash())
	defer v.evHandler("validator: ApplyBlock: completed")

	res, err := v.ValidateBlock(block)
	if err != nil {
		return Result{}, err
	}

	v.applyMu.Lock()
	defer v.applyMu.Unlock()

	err = v.ledger.Update(func(txn ledger.Txn) error {
		if err := connect(txn, block, res.Height); err != nil {
			switch {
			case errors.Is(err, ledger.ErrNotFound):
				return &Error{Kind: KindConcurrency, Code: CodeUTXONotFound, Err: err}
			case errors.Is(err, ledger.ErrExists):
				return &Error{Kind: KindConcurrency, Code: CodeDuplicateTransaction, Err: err}
			}
			return err
		}

		tip, _ := v.chain.Tip()
		if !tip.Equal(block.Header.PrevBlock) {
			return reject(KindConcurrency, CodePreviousBlockNotFound, "tip moved to %s", tip)
		}

		return nil
	})
	if err != nil {
		return Result{}, v.classify(err)
	}

	if err := v.chain.Write(block); err != nil {
		v.evHandler("validator: ApplyBlock: chain write failed, reverting ledger: %s", err)
		if uerr := v.Undo(res, block.Header.PrevBlock); uerr != nil {
			return Result{}, fmt.Errorf("%w: write block: %w, revert ledger: %w", ErrStorageUnavailable, err, uerr)
		}
		return Result{}, fmt.Errorf("%w: write block: %w", ErrStorageUnavailable, err)
	}

	v.evHandler("validator: ApplyBlock: applied: height[%d] spent[%d] created[%d] fees[%d]", res.Height, len(res.Spent), len(res.Created), res.Fees)

	return res, nil
}

// Connect applies the effects of a block that was already validated, such as
// the genesis block or blocks replayed from the chain store, and moves the
// ledger tip to it.
func (v *Validator) Connect(block database.Block, height uint32) error {
	v.applyMu.Lock()
	defer v.applyMu.Unlock()

	err := v.ledger.Update(func(txn ledger.Txn) error {
		if err := connect(txn, block, height); err != nil {
			return err
		}
		txn.SetTip(ledger.Tip{Hash: block.Hash(), Height: height})
		return nil
	})
	if err != nil {
		return v.classify(err)
	}

	return nil
}

// Undo reverses the ledger changes of an applied block and moves the ledger
// tip back to its parent. It is the building block for disconnecting blocks.
func (v *Validator) Undo(res Result, parent signature.Hash) error {
	return v.ledger.Update(func(txn ledger.Txn) error {
		for _, u := range res.Created {
			if err := txn.Remove(u.OutPoint); err != nil {
				return err
			}
		}
		for _, u := range res.Spent {
			if err := txn.Store(u); err != nil {
				return err
			}
		}
		txn.SetTip(ledger.Tip{Hash: parent, Height: res.Height - 1})
		return nil
	})
}

// connect stages the changes of a block in transaction order so outputs
// created and spent inside the same block never reach storage.
func connect(txn ledger.Txn, block database.Block, height uint32) error {
	hash := block.Hash()

	for i, tx := range block.Txs {
		if i > 0 {
			for _, in := range tx.Inputs {
				if err := txn.Remove(in.PrevOut); err != nil {
					return err
				}
			}
		}

		for _, u := range database.NewUTXOs(tx, height) {
			if err := txn.Store(u); err != nil {
				return err
			}
		}
	}

	txn.SetTip(ledger.Tip{Hash: hash, Height: height})

	return nil
}

// =============================================================================

// ValidateTransaction checks a loose transaction as if it were included in
// the next block and returns its fee.
func (v *Validator) ValidateTransaction(tx database.Tx) (uint64, error) {
	var fee uint64
	err := v.ledger.View(func(r ledger.Reader) error {
		if err := tx.CheckStructure(v.params.Limits()); err != nil {
			return reject(KindStructural, CodeInvalidStructure, "%s", err)
		}
		if tx.IsCoinbase() {
			return reject(KindStructural, CodeInvalidStructure, "coinbase transaction outside a block")
		}

		_, tipHeight := v.chain.Tip()
		height := tipHeight + 1

		if err := v.checkDuplicate(r, tx); err != nil {
			return err
		}

		var jobs []scriptJob
		var err error
		fee, jobs, err = v.checkInputs(r, tx, height, nil)
		if err != nil {
			return err
		}

		return v.runScripts(jobs)
	})
	if err != nil {
		return 0, v.classify(err)
	}

	return fee, nil
}

// =============================================================================

func (v *Validator) validateBlock(r ledger.Reader, block database.Block) (Result, error) {
	if err := checkCoinbaseShape(block); err != nil {
		return Result{}, err
	}

	if err := block.CheckStructure(v.params.Limits()); err != nil {
		return Result{}, reject(KindStructural, CodeInvalidStructure, "%s", err)
	}

	parentHeight, known := v.chain.HeightOf(block.Header.PrevBlock)
	if !known {
		return Result{}, reject(KindStructural, CodePreviousBlockNotFound, "parent %s is unknown", block.Header.PrevBlock)
	}
	height := parentHeight + 1

	parent, err := v.chain.HeaderByHeight(parentHeight)
	if err != nil {
		return Result{}, err
	}

	if err := v.checkHeader(block.Header, parent, height); err != nil {
		return Result{}, err
	}

	coinbase := block.Txs[0]
	cbHeight, err := script.CoinbaseHeight(coinbase.Inputs[0].SigScript)
	if err != nil {
		return Result{}, reject(KindStructural, CodeInvalidCoinbaseInput, "%s", err)
	}
	if cbHeight != height {
		return Result{}, reject(KindStructural, CodeInvalidCoinbaseInput, "coinbase commits to height %d, block is at %d", cbHeight, height)
	}

	res, jobs, err := v.checkTransactions(r, block, height)
	if err != nil {
		return Result{}, err
	}

	if err := v.runScripts(jobs); err != nil {
		return Result{}, err
	}

	total, err := coinbase.TotalOut()
	if err != nil {
		return Result{}, reject(KindValue, CodeExcessiveCoinbaseReward, "%s", err)
	}

	reward := genesis.Reward(height)
	if res.Fees > math.MaxUint64-reward {
		return Result{}, reject(KindValue, CodeExcessiveCoinbaseReward, "fees overflow")
	}
	if allowed := reward + res.Fees; total > allowed {
		return Result{}, reject(KindValue, CodeExcessiveCoinbaseReward, "coinbase pays %d, allowed %d", total, allowed)
	}

	// Only a linear history is kept. A valid block on a side branch is
	// still rejected until chain reorganization exists.
	if tipHash, _ := v.chain.Tip(); !block.Header.PrevBlock.Equal(tipHash) {
		return Result{}, reject(KindStructural, CodePreviousBlockNotFound, "parent %s is not the tip %s", block.Header.PrevBlock, tipHash)
	}

	return res, nil
}

// checkCoinbaseShape makes sure the block starts with a transaction that has
// exactly one input and it spends the null outpoint.
func checkCoinbaseShape(block database.Block) error {
	if len(block.Txs) == 0 {
		return reject(KindStructural, CodeNoCoinbaseTransaction, "block has no transactions")
	}

	cb := block.Txs[0]

	var null int
	for _, in := range cb.Inputs {
		if in.PrevOut.IsNull() {
			null++
		}
	}

	switch {
	case null == 0:
		return reject(KindStructural, CodeNoCoinbaseTransaction, "first transaction does not spend the null outpoint")
	case len(cb.Inputs) != 1:
		return reject(KindStructural, CodeInvalidCoinbaseInputs, "coinbase has %d inputs", len(cb.Inputs))
	}

	return nil
}

// checkHeader validates the proof of work, the timestamp and the difficulty
// of a header that extends parent at height.
func (v *Validator) checkHeader(h database.BlockHeader, parent database.BlockHeader, height uint32) error {
	target, err := pow.TargetFromBits(h.Bits)
	if err != nil {
		return reject(KindWork, CodeInvalidProofOfWork, "%s", err)
	}
	if hash := h.Hash(); !pow.MeetsTarget(hash, target) {
		return reject(KindWork, CodeInvalidProofOfWork, "hash %s does not meet target of bits %08x", hash, h.Bits)
	}

	mtp := MedianTimePast(v.chain.Ancestors(height-1, v.params.MTPWindow))
	if h.Timestamp <= mtp {
		return reject(KindTemporal, CodeTimestampNotGreaterThanMTP, "timestamp %d, median time past %d", h.Timestamp, mtp)
	}

	if !v.params.SkipMinBlockTime {
		if gap := int64(h.Timestamp) - int64(parent.Timestamp); gap < int64(v.params.MinBlockTime) {
			return reject(KindTemporal, CodeBlockMinedTooSoon, "%ds after parent, minimum %ds", gap, v.params.MinBlockTime)
		}
	}

	if limit := v.now().Unix() + int64(v.params.MaxFutureDrift); int64(h.Timestamp) > limit {
		return reject(KindTemporal, CodeTimestampTooFarInFuture, "timestamp %d, limit %d", h.Timestamp, limit)
	}

	var start database.BlockHeader
	if difficulty.IsAdjustmentHeight(height, v.params) {
		if start, err = v.chain.HeaderByHeight(height - v.params.AdjustmentInterval); err != nil {
			return err
		}
	}

	if err := difficulty.CheckTransition(height, h.Bits, parent, start, v.params); err != nil {
		switch {
		case errors.Is(err, difficulty.ErrUnexpectedChange):
			return &Error{Kind: KindWork, Code: CodeUnexpectedDifficultyChange, Err: err}
		case errors.Is(err, difficulty.ErrIncorrectAdjustment):
			return &Error{Kind: KindWork, Code: CodeIncorrectDifficultyAdjustment, Err: err}
		}
		return &Error{Kind: KindWork, Code: CodeInvalidProofOfWork, Err: err}
	}

	return nil
}

// MedianTimePast returns the median timestamp of the headers. The upper
// median is used for an even count. No headers yields zero.
func MedianTimePast(headers []database.BlockHeader) uint32 {
	if len(headers) == 0 {
		return 0
	}

	ts := make([]uint32, len(headers))
	for i, h := range headers {
		ts[i] = h.Timestamp
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i] < ts[j] })

	return ts[len(ts)/2]
}

// checkTransactions validates every transaction of the block against the
// ledger and the outputs created earlier in the same block.
func (v *Validator) checkTransactions(r ledger.Reader, block database.Block, height uint32) (Result, []scriptJob, error) {

	// Catch outputs consumed twice and repeated transactions before any
	// persisted state is read.
	consumed := make(map[database.OutPoint]struct{})
	txids := make(map[signature.Hash]struct{}, len(block.Txs))
	for i, tx := range block.Txs {
		id := tx.ID()
		if _, dup := txids[id]; dup {
			return Result{}, nil, reject(KindDuplication, CodeDuplicateTransaction, "transaction %s appears twice", id)
		}
		txids[id] = struct{}{}

		if i == 0 {
			continue
		}
		for _, in := range tx.Inputs {
			if _, dup := consumed[in.PrevOut]; dup {
				return Result{}, nil, reject(KindDuplication, CodeDoubleSpendInBlock, "%s spent twice", in.PrevOut)
			}
			consumed[in.PrevOut] = struct{}{}
		}
	}

	res := Result{
		Hash:   block.Hash(),
		Height: height,
	}

	created := make(map[database.OutPoint]database.UTXO)
	var order []database.OutPoint
	var jobs []scriptJob

	for i, tx := range block.Txs {
		if err := v.checkDuplicate(r, tx); err != nil {
			return Result{}, nil, err
		}

		if i > 0 {
			fee, txJobs, err := v.checkInputs(r, tx, height, created)
			if err != nil {
				return Result{}, nil, err
			}
			if res.Fees > math.MaxUint64-fee {
				return Result{}, nil, reject(KindValue, CodeInsufficientInputValue, "fees overflow")
			}
			res.Fees += fee
			jobs = append(jobs, txJobs...)

			for _, job := range txJobs {
				if _, inBlock := created[job.utxo.OutPoint]; inBlock {
					delete(created, job.utxo.OutPoint)
					continue
				}
				res.Spent = append(res.Spent, job.utxo)
			}
		}

		for _, u := range database.NewUTXOs(tx, height) {
			created[u.OutPoint] = u
			order = append(order, u.OutPoint)
		}
	}

	for _, op := range order {
		if u, ok := created[op]; ok {
			res.Created = append(res.Created, u)
		}
	}

	return res, jobs, nil
}

// checkDuplicate rejects a transaction whose outputs are already unspent in
// the ledger.
func (v *Validator) checkDuplicate(r ledger.Reader, tx database.Tx) error {
	id := tx.ID()
	for i := range tx.Outputs {
		exists, err := r.Exists(database.OutPoint{TxID: id, Index: uint32(i)})
		if err != nil {
			return err
		}
		if exists {
			return reject(KindDuplication, CodeDuplicateTransaction, "transaction %s already has unspent outputs", id)
		}
	}

	return nil
}

// scriptJob is one input whose scripts must be executed against the output
// it spends.
type scriptJob struct {
	tx    database.Tx
	index int
	utxo  database.UTXO
}

// checkInputs resolves every input of a non-coinbase transaction, enforces
// maturity and the value balance and returns the fee along with the script
// checks still to run. Outputs in pending are preferred over the ledger.
func (v *Validator) checkInputs(r ledger.Reader, tx database.Tx, height uint32, pending map[database.OutPoint]database.UTXO) (uint64, []scriptJob, error) {
	var in uint64
	jobs := make([]scriptJob, 0, len(tx.Inputs))

	for i, txIn := range tx.Inputs {
		u, ok := pending[txIn.PrevOut]
		if !ok {
			var err error
			u, err = r.Get(txIn.PrevOut)
			if err != nil {
				if errors.Is(err, ledger.ErrNotFound) {
					return 0, nil, &Error{Kind: KindLedger, Code: CodeUTXONotFound, Err: err}
				}
				return 0, nil, err
			}
		}

		if !u.IsMature(height, v.params.CoinbaseMaturity) {
			return 0, nil, reject(KindLedger, CodeImmatureCoinbase, "%s created at %d, spent at %d, maturity %d", txIn.PrevOut, u.Height, height, v.params.CoinbaseMaturity)
		}

		if in > math.MaxUint64-u.Output.Value {
			return 0, nil, reject(KindValue, CodeInsufficientInputValue, "input value overflow")
		}
		in += u.Output.Value

		jobs = append(jobs, scriptJob{tx: tx, index: i, utxo: u})
	}

	out, err := tx.TotalOut()
	if err != nil {
		return 0, nil, reject(KindStructural, CodeInvalidStructure, "%s", err)
	}

	if in < out {
		return 0, nil, reject(KindValue, CodeInsufficientInputValue, "transaction %s spends %d with %d in", tx.ID(), out, in)
	}

	return in - out, jobs, nil
}

// runScripts executes the script checks in parallel and returns the first
// failure.
func (v *Validator) runScripts(jobs []scriptJob) error {
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())

	for _, job := range jobs {
		job := job
		g.Go(func() error {
			in := job.tx.Inputs[job.index]
			sctx := script.Context{
				Message:    job.tx.SignatureHash(job.index),
				InputIndex: job.index,
			}

			if err := v.engine.Execute(in.SigScript, job.utxo.Output.PkScript, sctx); err != nil {
				return &Error{
					Kind: KindAuthorization,
					Code: CodeSignatureVerificationFailed,
					Err:  fmt.Errorf("transaction %s input %d: %w", job.tx.ID(), job.index, err),
				}
			}
			return nil
		})
	}

	return g.Wait()
}

// classify keeps rejections as they are and turns every other failure into
// a storage fault.
func (v *Validator) classify(err error) error {
	if _, ok := IsRejection(err); ok {
		return err
	}
	if errors.Is(err, ErrStorageUnavailable) {
		return err
	}

	v.evHandler("validator: storage fault: %s", err)
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}
