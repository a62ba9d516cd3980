package state

import (
	"context"
	"encoding/binary"
	"errors"
	"time"

	"github.com/btpc/consensus/foundation/blockchain/database"
	"github.com/btpc/consensus/foundation/blockchain/difficulty"
	"github.com/btpc/consensus/foundation/blockchain/genesis"
	"github.com/btpc/consensus/foundation/blockchain/metrics"
	"github.com/btpc/consensus/foundation/blockchain/pow"
	"github.com/btpc/consensus/foundation/blockchain/script"
	"github.com/btpc/consensus/foundation/blockchain/validator"
)

// Set of mining errors.
var (
	ErrNoTransactions = errors.New("no transactions in mempool")
	ErrNoBeneficiary  = errors.New("no beneficiary configured for mining")
)

// =============================================================================

// SelectBlockTemplate returns the mempool transactions the next block should
// carry, fitting in maxBytes.
func (s *State) SelectBlockTemplate(maxBytes int) []database.Tx {
	return s.mempool.SelectForBlock(maxBytes)
}

// NewBlockTemplate builds an unsolved block on the current tip. The coinbase
// pays the reward and the fees of the selected transactions to payTo. The
// timestamp is the current time moved forward as far as needed to satisfy
// the timestamp rules.
func (s *State) NewBlockTemplate(payTo []byte) (database.Block, error) {
	if len(payTo) == 0 {
		return database.Block{}, ErrNoBeneficiary
	}

	_, tipHeight := s.db.Tip()
	height := tipHeight + 1

	parent, err := s.db.HeaderByHeight(tipHeight)
	if err != nil {
		return database.Block{}, err
	}

	bits, err := difficulty.NextBits(height, parent, s.db.HeaderByHeight, s.params)
	if err != nil {
		return database.Block{}, err
	}

	var extra [8]byte
	binary.LittleEndian.PutUint64(extra[:], s.extraNonce.Add(1))

	sig, err := script.CoinbaseScript(height, extra[:])
	if err != nil {
		return database.Block{}, err
	}

	coinbase := database.Tx{
		Version: database.MinTxVersion,
		Inputs: []database.TxIn{
			{PrevOut: database.NullOutPoint, SigScript: sig, Sequence: database.NullIndex},
		},
		Outputs: []database.TxOut{
			{PkScript: append([]byte(nil), payTo...)},
		},
		ForkID: s.params.ForkID,
	}

	// The tx count varint takes at most 9 bytes.
	budget := s.params.MaxBlockSize - database.HeaderSize - 9 - coinbase.Size()

	selected := s.mempool.SelectEntries(budget)

	txs := make([]database.Tx, 0, len(selected)+1)
	txs = append(txs, coinbase)

	var fees uint64
	for _, e := range selected {
		fees += e.Fee
		txs = append(txs, e.Tx)
	}
	txs[0].Outputs[0].Value = genesis.Reward(height) + fees

	root, err := database.CalcMerkleRoot(txs)
	if err != nil {
		return database.Block{}, err
	}

	block := database.Block{
		Header: database.BlockHeader{
			Version:    database.MinBlockVersion,
			PrevBlock:  parent.Hash(),
			MerkleRoot: root,
			Timestamp:  s.nextTimestamp(parent, tipHeight),
			Bits:       bits,
		},
		Txs: txs,
	}

	s.evHandler("state: NewBlockTemplate: height[%d] txs[%d] fees[%d] bits[%08x]", height, len(txs), fees, bits)

	return block, nil
}

// MineNewBlock attempts to create a new block with a proper hash that can
// become the next block in the chain. When every nonce of a template has been
// tried a fresh template is built and mining carries on.
func (s *State) MineNewBlock(ctx context.Context) (database.Block, time.Duration, error) {
	s.evHandler("state: MineNewBlock: MINING: check mempool count")

	if !s.mineEmpty && s.mempool.Count() == 0 {
		return database.Block{}, 0, ErrNoTransactions
	}

	start := s.now()

	for {
		block, err := s.NewBlockTemplate(s.payTo)
		if err != nil {
			return database.Block{}, 0, err
		}

		target, err := pow.TargetFromBits(block.Header.Bits)
		if err != nil {
			return database.Block{}, 0, err
		}

		s.evHandler("state: MineNewBlock: MINING: perform POW: txs[%d]", len(block.Txs))

		nonce, err := pow.Mine(ctx, block.Header, target)
		if err != nil {
			if errors.Is(err, pow.ErrExhausted) {
				s.evHandler("state: MineNewBlock: MINING: nonce space exhausted, new template")
				metrics.MiningRound("exhausted")
				continue
			}
			metrics.MiningRound("cancelled")
			return database.Block{}, s.now().Sub(start), err
		}
		block.Header.Nonce = nonce

		// Just check one more time we were not cancelled.
		if ctx.Err() != nil {
			metrics.MiningRound("cancelled")
			return database.Block{}, s.now().Sub(start), ctx.Err()
		}

		s.evHandler("state: MineNewBlock: MINING: validate and update database")

		if err := s.ValidateAndApply(block); err != nil {
			metrics.MiningRound("failed")
			return database.Block{}, s.now().Sub(start), err
		}

		metrics.MiningRound("mined")
		return block, s.now().Sub(start), nil
	}
}

// =============================================================================

// nextTimestamp returns the timestamp for a block on top of parent. It is
// the current time unless that would break the median time past or minimum
// block time rules.
func (s *State) nextTimestamp(parent database.BlockHeader, parentHeight uint32) uint32 {
	ts := uint32(s.now().Unix())

	mtp := validator.MedianTimePast(s.db.Ancestors(parentHeight, s.params.MTPWindow))
	if ts <= mtp {
		ts = mtp + 1
	}

	if !s.params.SkipMinBlockTime && ts < parent.Timestamp+s.params.MinBlockTime {
		ts = parent.Timestamp + s.params.MinBlockTime
	}

	return ts
}

// IsMiningAllowed reports whether the node has a beneficiary to mine to.
func (s *State) IsMiningAllowed() bool {
	return len(s.payTo) > 0
}

// MinesEmptyBlocks reports whether blocks are mined without transactions.
func (s *State) MinesEmptyBlocks() bool {
	return s.mineEmpty
}
