package state

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btpc/consensus/foundation/blockchain/database"
	"github.com/btpc/consensus/foundation/blockchain/metrics"
	"github.com/btpc/consensus/foundation/blockchain/pow"
	"github.com/btpc/consensus/foundation/blockchain/validator"
)

// ValidateAndApply runs the block through the validator and, when it is
// accepted, commits it to the ledger and the chain. The mempool is updated
// afterwards so pooled transactions the block invalidated are dropped.
func (s *State) ValidateAndApply(block database.Block) error {
	start := s.now()

	res, err := s.validator.ApplyBlock(block)
	if err != nil {
		s.logRejection("ValidateAndApply", block.Hash().String(), err)
		if rej, ok := validator.IsRejection(err); ok {
			metrics.BlockRejected(string(rej.Code))
		}
		return err
	}

	s.mu.Lock()
	s.chainWork.Add(s.chainWork, pow.Work(block.Header.Bits))
	s.mu.Unlock()

	metrics.BlockApplied(res.Height, s.now().Sub(start))

	s.evHandler("state: ValidateAndApply: update mempool")

	removed := s.mempool.BlockApplied(block)
	metrics.Mempool(s.mempool.Count(), s.mempool.Size())

	s.evHandler("state: ValidateAndApply: applied: height[%d] blk[%s] txs[%d] fees[%d] mempoolRemoved[%d]", res.Height, res.Hash, len(block.Txs), res.Fees, len(removed))

	// Send an event about this new block.
	s.blockEvent(block, res.Height)

	return nil
}

// ProcessProposedBlock takes a block received from outside the node,
// validates it and if that passes, adds the block to the local blockchain.
// Any mining in progress is on a stale tip and is cancelled.
func (s *State) ProcessProposedBlock(block database.Block) error {
	s.evHandler("state: ProcessProposedBlock: started: prevBlk[%s]: newBlk[%s]: numTrans[%d]", block.Header.PrevBlock, block.Hash(), len(block.Txs))
	defer s.evHandler("state: ProcessProposedBlock: completed: newBlk[%s]", block.Hash())

	if err := s.ValidateAndApply(block); err != nil {
		return err
	}

	// If the runMiningOperation function is being executed it needs to stop
	// immediately. The G executing runMiningOperation will not return from the
	// function until done is called. That allows this function to complete
	// its state changes before a new mining operation takes place.
	if s.Worker != nil {
		done := s.Worker.SignalCancelMining()
		defer func() {
			s.evHandler("state: ProcessProposedBlock: signal runMiningOperation to terminate")
			done()
			s.Worker.SignalStartMining()
		}()
	}

	return nil
}

// =============================================================================

// logRejection records why a block or transaction was turned away. A storage
// fault is logged as such so it is never mistaken for an invalid candidate.
func (s *State) logRejection(op string, id string, err error) {
	if rej, ok := validator.IsRejection(err); ok {
		s.evHandler("state: %s: REJECTED: id[%s] kind[%s] code[%s] reason[%s]", op, id, rej.Kind, rej.Code, err)
		return
	}

	if errors.Is(err, validator.ErrStorageUnavailable) {
		metrics.StorageFault()
		s.evHandler("state: %s: ERROR: storage unavailable: id[%s]: %s", op, id, err)
		return
	}

	s.evHandler("state: %s: REJECTED: id[%s] reason[%s]", op, id, err)
}

// blockEvent provides a specific event about a new block in the chain for
// application specific support.
func (s *State) blockEvent(block database.Block, height uint32) {
	blockHeaderJSON, err := json.Marshal(block.Header)
	if err != nil {
		blockHeaderJSON = []byte(fmt.Sprintf("%q", err.Error()))
	}

	txIDs := make([]string, len(block.Txs))
	for i, tx := range block.Txs {
		txIDs[i] = tx.ID().String()
	}

	blockTxsJSON, err := json.Marshal(txIDs)
	if err != nil {
		blockTxsJSON = []byte(fmt.Sprintf("%q", err.Error()))
	}

	s.evHandler(`viewer: block: {"hash":%q,"height":%d,"header":%s,"txs":%s}`, block.Hash(), height, string(blockHeaderJSON), string(blockTxsJSON))
}
