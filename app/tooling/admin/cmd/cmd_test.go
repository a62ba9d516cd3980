package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/btpc/consensus/foundation/blockchain/database"
	"github.com/btpc/consensus/foundation/blockchain/database/storage"
	"github.com/btpc/consensus/foundation/blockchain/genesis"
	"github.com/btpc/consensus/foundation/blockchain/ledger/leveldb"
	"github.com/btpc/consensus/foundation/blockchain/ledger/memory"
	"github.com/btpc/consensus/foundation/blockchain/script"
	"github.com/btpc/consensus/foundation/blockchain/signature"
	"github.com/btpc/consensus/foundation/blockchain/state"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)

	err := rootCmd.Execute()
	return out.String(), err
}

// mineChain writes a regtest chain of n blocks paying to key into dir.
func mineChain(t *testing.T, dir string, key *signature.PrivateKey, n int) {
	lock, err := script.PayToPubKeyHash(key.PubKeyHash())
	require.NoError(t, err)

	disk, err := storage.NewDisk(filepath.Join(dir, "blocks"))
	require.NoError(t, err)

	ldb, err := leveldb.Open(filepath.Join(dir, "utxo"))
	require.NoError(t, err)

	now := time.Unix(int64(genesis.GenesisTimestamp)+10_000_000, 0)

	st, err := state.New(state.Config{
		Params:          genesis.Regtest,
		PayTo:           lock,
		Storage:         disk,
		Ledger:          ldb,
		MineEmptyBlocks: true,
		Now:             func() time.Time { return now },
	})
	require.NoError(t, err)

	for i := 0; i < n; i++ {
		_, _, err := st.MineNewBlock(context.Background())
		require.NoError(t, err)
	}

	require.NoError(t, st.Shutdown())
}

func TestKeygenAndAddress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts", "miner.key")

	out, err := execute(t, "keygen", "--key", path)
	require.NoError(t, err)

	key, err := signature.LoadKey(path)
	require.NoError(t, err)
	require.Equal(t, fmt.Sprintf("0x%x\n", key.PubKeyHash()), out)

	_, err = execute(t, "keygen", "--key", path)
	require.Error(t, err)

	out, err = execute(t, "address", "--key", path)
	require.NoError(t, err)
	require.Contains(t, out, fmt.Sprintf("address: 0x%x", key.PubKeyHash()))
}

func TestVerifyChain(t *testing.T) {
	dir := t.TempDir()

	key, err := signature.GenerateKey()
	require.NoError(t, err)

	mineChain(t, dir, key, 3)

	disk, err := storage.NewDisk(filepath.Join(dir, "blocks"))
	require.NoError(t, err)

	res, err := VerifyChain(genesis.Regtest, disk)
	require.NoError(t, err)
	require.Equal(t, uint32(3), res.Height)
	require.Equal(t, genesis.TotalSupply(4), res.Ledger.Value)

	_, err = VerifyChain(genesis.Testnet, disk)
	require.Error(t, err)

	out, err := execute(t, "chain", "verify", "--network", "regtest", "--db", filepath.Join(dir, "blocks"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "verified 3 blocks"))
}

func TestVerifyChainRejectsTampering(t *testing.T) {
	dir := t.TempDir()

	key, err := signature.GenerateKey()
	require.NoError(t, err)

	mineChain(t, dir, key, 2)

	disk, err := storage.NewDisk(filepath.Join(dir, "blocks"))
	require.NoError(t, err)

	bd, err := disk.GetBlock(2)
	require.NoError(t, err)

	// Inflate the coinbase and re-commit the block hash so only the
	// validator can catch it.
	block := database.Block{Header: bd.Header, Txs: bd.Txs}
	block.Txs[0].Outputs[0].Value++
	root, err := database.CalcMerkleRoot(block.Txs)
	require.NoError(t, err)
	block.Header.MerkleRoot = root

	mem := storage.NewMemory()
	for h := uint32(0); h < 2; h++ {
		bd, err := disk.GetBlock(h)
		require.NoError(t, err)
		require.NoError(t, mem.Write(bd))
	}
	require.NoError(t, mem.Write(database.NewBlockData(block, 2)))

	_, err = VerifyChain(genesis.Regtest, mem)
	require.Error(t, err)
	require.Contains(t, err.Error(), "block 2 rejected")
}

func TestUTXOCommands(t *testing.T) {
	dir := t.TempDir()

	key, err := signature.GenerateKey()
	require.NoError(t, err)

	mineChain(t, dir, key, 2)

	ledgerDir := filepath.Join(dir, "utxo")

	out, err := execute(t, "utxo", "stats", "--ledger", ledgerDir)
	require.NoError(t, err)

	var stats struct {
		Count  uint64 `json:"count"`
		Value  uint64 `json:"value"`
		Height uint32 `json:"height"`
		Synced bool   `json:"synced"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	require.Equal(t, genesis.TotalSupply(3), stats.Value)
	require.Equal(t, uint32(2), stats.Height)
	require.True(t, stats.Synced)

	addr := fmt.Sprintf("0x%x", key.PubKeyHash())
	out, err = execute(t, "utxo", "list", "--ledger", ledgerDir, "--address", addr)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)

	var u database.UTXO
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &u))
	require.True(t, u.Coinbase)
}

func TestBuildPayment(t *testing.T) {
	key, err := signature.GenerateKey()
	require.NoError(t, err)

	lock, err := script.PayToPubKeyHash(key.PubKeyHash())
	require.NoError(t, err)

	now := time.Unix(int64(genesis.GenesisTimestamp)+10_000_000, 0)

	st, err := state.New(state.Config{
		Params:          genesis.Regtest,
		PayTo:           lock,
		Storage:         storage.NewMemory(),
		Ledger:          memory.New(),
		MineEmptyBlocks: true,
		Now:             func() time.Time { return now },
	})
	require.NoError(t, err)
	defer st.Shutdown()

	for i := 0; i < 100; i++ {
		_, _, err := st.MineNewBlock(context.Background())
		require.NoError(t, err)
	}

	utxos, err := st.QueryUTXOsByPubKeyHash(key.PubKeyHash())
	require.NoError(t, err)

	_, tipHeight := st.QueryTip()

	var spendable []database.UTXO
	for _, u := range utxos {
		if u.IsMature(tipHeight+1, genesis.Regtest.CoinbaseMaturity) {
			spendable = append(spendable, u)
		}
	}
	require.Len(t, spendable, 1)

	other, err := signature.GenerateKey()
	require.NoError(t, err)

	reward := spendable[0].Output.Value

	_, err = BuildPayment(key, spendable, other.PubKeyHash(), reward, 1, genesis.Regtest.ForkID)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	tx, err := BuildPayment(key, spendable, other.PubKeyHash(), 1_000, 500, genesis.Regtest.ForkID)
	require.NoError(t, err)
	require.Len(t, tx.Inputs, 1)
	require.Len(t, tx.Outputs, 2)
	require.Equal(t, reward-1_500, tx.Outputs[1].Value)

	e, err := st.AdmitToMempool(tx)
	require.NoError(t, err)
	require.Equal(t, uint64(500), e.Fee)
}
