// Package genesis maintains the network profiles and the genesis block each
// network starts from.
package genesis

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/btpc/consensus/foundation/blockchain/database"
	"github.com/btpc/consensus/foundation/blockchain/script"
	"github.com/btpc/consensus/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Set of consensus constants shared by every network.
const (
	TargetBlockTime    = 600
	MTPWindow          = 11
	MinBlockTime       = 60
	MaxFutureDrift     = 7200
	CoinbaseMaturity   = 100
	AdjustmentInterval = 2016
	GenesisTimestamp   = 1735689600
)

// Params represents the rules of a network. A single value is threaded
// through every validation call and never changed after startup.
type Params struct {
	Name               string        `json:"name"`
	ForkID             uint8         `json:"fork_id"`             // Binds transactions to this network.
	PowLimitBits       uint32        `json:"pow_limit_bits"`      // Easiest target allowed.
	GenesisBits        uint32        `json:"genesis_bits"`        // Difficulty of the first period.
	GenesisTimestamp   uint32        `json:"genesis_timestamp"`   // Seconds since the unix epoch.
	TargetBlockTime    uint32        `json:"target_block_time"`   // Seconds.
	MTPWindow          int           `json:"mtp_window"`          // Ancestors used for the median time past.
	MinBlockTime       uint32        `json:"min_block_time"`      // Seconds.
	SkipMinBlockTime   bool          `json:"skip_min_block_time"` // Test networks mine faster than the minimum.
	MaxFutureDrift     uint32        `json:"max_future_drift"`    // Seconds.
	CoinbaseMaturity   uint32        `json:"coinbase_maturity"`   // Blocks before a coinbase output can be spent.
	AdjustmentInterval uint32        `json:"adjustment_interval"` // Blocks per difficulty period.
	MaxBlockSize       int           `json:"max_block_size"`
	MaxTxSize          int           `json:"max_tx_size"`
	MaxScriptSize      int           `json:"max_script_size"`
	GenesisPayTo       hexutil.Bytes `json:"genesis_pay_to"` // Lock script of the genesis coinbase.
}

// Mainnet is the production network. The genesis output is unspendable.
var Mainnet = Params{
	Name:               "mainnet",
	ForkID:             0,
	PowLimitBits:       0x3e0fffff,
	GenesisBits:        0x3e0fffff,
	GenesisTimestamp:   GenesisTimestamp,
	TargetBlockTime:    TargetBlockTime,
	MTPWindow:          MTPWindow,
	MinBlockTime:       MinBlockTime,
	MaxFutureDrift:     MaxFutureDrift,
	CoinbaseMaturity:   CoinbaseMaturity,
	AdjustmentInterval: AdjustmentInterval,
	MaxBlockSize:       1_000_000,
	MaxTxSize:          100_000,
	MaxScriptSize:      10_000,
	GenesisPayTo:       hexutil.Bytes{0x00},
}

// Testnet is the public test network.
var Testnet = Params{
	Name:               "testnet",
	ForkID:             1,
	PowLimitBits:       0x3f0fffff,
	GenesisBits:        0x3f0fffff,
	GenesisTimestamp:   GenesisTimestamp,
	TargetBlockTime:    TargetBlockTime,
	MTPWindow:          MTPWindow,
	MinBlockTime:       MinBlockTime,
	MaxFutureDrift:     MaxFutureDrift,
	CoinbaseMaturity:   CoinbaseMaturity,
	AdjustmentInterval: AdjustmentInterval,
	MaxBlockSize:       1_000_000,
	MaxTxSize:          100_000,
	MaxScriptSize:      10_000,
	GenesisPayTo:       hexutil.Bytes{0x00},
}

// Regtest is the local test network. Blocks can be mined instantly and the
// genesis output can be spent by anyone.
var Regtest = Params{
	Name:               "regtest",
	ForkID:             2,
	PowLimitBits:       0x407fffff,
	GenesisBits:        0x407fffff,
	GenesisTimestamp:   GenesisTimestamp,
	TargetBlockTime:    TargetBlockTime,
	MTPWindow:          MTPWindow,
	MinBlockTime:       MinBlockTime,
	SkipMinBlockTime:   true,
	MaxFutureDrift:     MaxFutureDrift,
	CoinbaseMaturity:   CoinbaseMaturity,
	AdjustmentInterval: AdjustmentInterval,
	MaxBlockSize:       1_000_000,
	MaxTxSize:          100_000,
	MaxScriptSize:      10_000,
	GenesisPayTo:       hexutil.Bytes{0x51},
}

// Lookup returns the profile for the named network.
func Lookup(name string) (Params, error) {
	switch name {
	case Mainnet.Name:
		return Mainnet, nil
	case Testnet.Name:
		return Testnet, nil
	case Regtest.Name:
		return Regtest, nil
	}

	return Params{}, fmt.Errorf("unknown network %q", name)
}

// Load opens and consumes a params file for a private network.
func Load(path string) (Params, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Params{}, err
	}

	var params Params
	err = json.Unmarshal(content, &params)
	if err != nil {
		return Params{}, err
	}

	if params.Name == "" || len(params.Name) > MaxNameLen {
		return Params{}, fmt.Errorf("params file %s: name must be 1 to %d bytes", path, MaxNameLen)
	}

	if params.AdjustmentInterval == 0 || params.TargetBlockTime == 0 || params.MTPWindow <= 0 {
		return Params{}, fmt.Errorf("params file %s: interval, block time and mtp window must be set", path)
	}

	return params, nil
}

// TargetTimespan is the expected duration of a difficulty period in seconds.
func (p Params) TargetTimespan() int64 {
	return int64(p.TargetBlockTime) * int64(p.AdjustmentInterval)
}

// Limits returns the size rules used by the structural checks.
func (p Params) Limits() database.Limits {
	return database.Limits{
		MaxBlockSize:  p.MaxBlockSize,
		MaxTxSize:     p.MaxTxSize,
		MaxScriptSize: p.MaxScriptSize,
		ForkID:        p.ForkID,
	}
}

// =============================================================================

// MaxNameLen is the longest network name. The name is committed to in the
// genesis coinbase script.
const MaxNameLen = 64

// Block constructs the deterministic genesis block of the network. It is
// accepted without proof of work or timestamp checks. Names past MaxNameLen
// are cut to it.
func Block(p Params) database.Block {
	name := []byte(p.Name)
	if len(name) > MaxNameLen {
		name = name[:MaxNameLen]
	}

	sig, err := script.CoinbaseScript(0, name)
	if err != nil {
		panic(fmt.Sprintf("genesis coinbase script: %v", err))
	}

	coinbase := database.Tx{
		Version: database.MinTxVersion,
		Inputs: []database.TxIn{
			{PrevOut: database.NullOutPoint, SigScript: sig, Sequence: database.NullIndex},
		},
		Outputs: []database.TxOut{
			{Value: Reward(0), PkScript: append(hexutil.Bytes{}, p.GenesisPayTo...)},
		},
		ForkID: p.ForkID,
	}

	txs := []database.Tx{coinbase}

	root, err := database.CalcMerkleRoot(txs)
	if err != nil {
		panic(fmt.Sprintf("genesis merkle root: %v", err))
	}

	return database.Block{
		Header: database.BlockHeader{
			Version:    database.MinBlockVersion,
			PrevBlock:  signature.ZeroHash,
			MerkleRoot: root,
			Timestamp:  p.GenesisTimestamp,
			Bits:       p.GenesisBits,
			Nonce:      0,
		},
		Txs: txs,
	}
}
