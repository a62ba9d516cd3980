package state

import (
	"bytes"
	"math/big"

	"github.com/btpc/consensus/foundation/blockchain/database"
	"github.com/btpc/consensus/foundation/blockchain/genesis"
	"github.com/btpc/consensus/foundation/blockchain/ledger"
	"github.com/btpc/consensus/foundation/blockchain/mempool"
	"github.com/btpc/consensus/foundation/blockchain/script"
	"github.com/btpc/consensus/foundation/blockchain/signature"
)

// Status is a snapshot of the node's chain, ledger and mempool.
type Status struct {
	Network   string         `json:"network"`
	Height    uint32         `json:"height"`
	Tip       signature.Hash `json:"tip"`
	Bits      uint32         `json:"bits"`
	ChainWork string         `json:"chain_work"`
	Ledger    ledger.Stats   `json:"ledger"`
	Mempool   mempool.Stats  `json:"mempool"`
}

// =============================================================================

// Params returns the network rules the node runs with.
func (s *State) Params() genesis.Params {
	return s.params
}

// QueryTip returns the block at the tip of the chain and its height.
func (s *State) QueryTip() (database.Block, uint32) {
	block := s.db.LatestBlock()
	height, _ := s.db.HeightOf(block.Hash())
	return block, height
}

// QueryBlock returns the block at height.
func (s *State) QueryBlock(height uint32) (database.Block, error) {
	return s.db.GetBlock(height)
}

// QueryHeader returns the header at height.
func (s *State) QueryHeader(height uint32) (database.BlockHeader, error) {
	return s.db.HeaderByHeight(height)
}

// QueryAncestors returns up to n headers ending at the tip, oldest first.
func (s *State) QueryAncestors(n int) []database.BlockHeader {
	_, height := s.db.Tip()
	return s.db.Ancestors(height, n)
}

// QueryUTXO returns the unspent output for the outpoint.
func (s *State) QueryUTXO(op database.OutPoint) (database.UTXO, error) {
	return s.ledger.Get(op)
}

// QueryUTXOsByPubKeyHash scans the ledger for the pay-to-pubkey-hash outputs
// locked to pkh.
func (s *State) QueryUTXOsByPubKeyHash(pkh []byte) ([]database.UTXO, error) {
	var out []database.UTXO

	err := s.ledger.ForEach(func(u database.UTXO) error {
		if got, ok := script.ExtractPubKeyHash(u.Output.PkScript); ok && bytes.Equal(got, pkh) {
			out = append(out, u)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// QueryLedgerStats returns the number and total value of unspent outputs.
func (s *State) QueryLedgerStats() (ledger.Stats, error) {
	return s.ledger.Stats()
}

// QueryMempoolLength returns the current length of the mempool.
func (s *State) QueryMempoolLength() int {
	return s.mempool.Count()
}

// QueryMempool returns a copy of the mempool in admission order.
func (s *State) QueryMempool() []mempool.Entry {
	return s.mempool.Copy()
}

// QueryChainWork returns the accumulated work of the chain.
func (s *State) QueryChainWork() *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return new(big.Int).Set(s.chainWork)
}

// QueryStatus returns a snapshot of the node.
func (s *State) QueryStatus() (Status, error) {
	stats, err := s.ledger.Stats()
	if err != nil {
		return Status{}, err
	}

	block, height := s.QueryTip()

	status := Status{
		Network:   s.params.Name,
		Height:    height,
		Tip:       block.Hash(),
		Bits:      block.Header.Bits,
		ChainWork: s.QueryChainWork().String(),
		Ledger:    stats,
		Mempool:   s.mempool.Stats(),
	}

	return status, nil
}
