package public

import (
	"time"

	"github.com/btpc/consensus/foundation/blockchain/database"
	"github.com/btpc/consensus/foundation/blockchain/mempool"
	"github.com/btpc/consensus/foundation/blockchain/signature"
	"github.com/btpc/consensus/foundation/validate"
)

// newTx is the payload for submitting a signed transaction.
type newTx struct {
	Version  uint32           `json:"version" validate:"required"`
	Inputs   []database.TxIn  `json:"inputs" validate:"required,min=1"`
	Outputs  []database.TxOut `json:"outputs" validate:"required,min=1"`
	LockTime uint32           `json:"lock_time"`
	ForkID   uint8            `json:"fork_id"`
}

// Validate checks the payload is structurally complete.
func (ntx newTx) Validate() error {
	return validate.Check(ntx)
}

func (ntx newTx) toTx() database.Tx {
	return database.Tx{
		Version:  ntx.Version,
		Inputs:   ntx.Inputs,
		Outputs:  ntx.Outputs,
		LockTime: ntx.LockTime,
		ForkID:   ntx.ForkID,
	}
}

// =============================================================================

// entry is a pooled transaction with its admission data.
type entry struct {
	ID      signature.Hash `json:"id"`
	Fee     uint64         `json:"fee"`
	Size    int            `json:"size"`
	FeeRate uint64         `json:"fee_rate"`
	Added   time.Time      `json:"added"`
	Tx      database.Tx    `json:"tx"`
}

func toEntry(e mempool.Entry) entry {
	return entry{
		ID:      e.ID,
		Fee:     e.Fee,
		Size:    e.Size,
		FeeRate: e.FeeRate,
		Added:   e.Added,
		Tx:      e.Tx,
	}
}

func toEntries(entries []mempool.Entry) []entry {
	out := make([]entry, len(entries))
	for i, e := range entries {
		out[i] = toEntry(e)
	}
	return out
}

// utxoQuery identifies an output from the path parameters.
type utxoQuery struct {
	TxID  string `json:"txid" validate:"required,hexadecimal,len=130"`
	Index string `json:"index" validate:"required,numeric"`
}

// addressQuery identifies a pubkey hash from the path parameters.
type addressQuery struct {
	Address string `json:"address" validate:"required,hexadecimal,len=42"`
}

// balance is the set of outputs locked to an address.
type balance struct {
	Address string          `json:"address"`
	Total   uint64          `json:"total"`
	UTXOs   []database.UTXO `json:"utxos"`
}
