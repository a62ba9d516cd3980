package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/btpc/consensus/foundation/blockchain/database"
	"github.com/btpc/consensus/foundation/blockchain/database/storage"
	"github.com/btpc/consensus/foundation/blockchain/genesis"
	"github.com/btpc/consensus/foundation/blockchain/ledger/memory"
	"github.com/btpc/consensus/foundation/blockchain/state"
	"github.com/spf13/cobra"
)

var chainCmd = &cobra.Command{
	Use:   "chain",
	Short: "Inspect the stored chain",
}

var chainVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Replay the stored chain through a fresh validator",
	RunE:  chainVerifyRun,
}

func init() {
	chainCmd.AddCommand(chainVerifyCmd)
	rootCmd.AddCommand(chainCmd)
}

func chainVerifyRun(cmd *cobra.Command, args []string) error {
	p, err := params()
	if err != nil {
		return err
	}

	disk, err := storage.NewDisk(dbPath)
	if err != nil {
		return err
	}
	defer disk.Close()

	result, err := VerifyChain(p, disk)
	if err != nil {
		return err
	}

	log.Infow("chain verify", "height", result.Height, "tip", result.Tip, "utxos", result.Ledger.Count, "took", result.Took)
	fmt.Fprintf(cmd.OutOrStdout(), "verified %d blocks, tip %s, %d utxos worth %d\n",
		result.Height, result.Tip, result.Ledger.Count, result.Ledger.Value)

	return nil
}

// VerifyResult describes a replayed chain.
type VerifyResult struct {
	Height uint32
	Tip    string
	Ledger struct {
		Count uint64
		Value uint64
	}
	Took time.Duration
}

// VerifyChain replays every block of the stored chain on top of the network
// genesis block with an empty ledger. The first rejected block stops the
// replay and is reported with its height.
func VerifyChain(p genesis.Params, stored database.Storage) (VerifyResult, error) {
	start := time.Now()

	st, err := state.New(state.Config{
		Params:  p,
		Storage: storage.NewMemory(),
		Ledger:  memory.New(),
	})
	if err != nil {
		return VerifyResult{}, err
	}
	defer st.Shutdown()

	gen := genesis.Block(p)

	iter := stored.ForEach()
	for height := uint32(0); ; height++ {
		bd, err := iter.Next()
		if err != nil {
			if errors.Is(err, database.ErrEndOfChain) {
				break
			}
			return VerifyResult{}, fmt.Errorf("reading block %d: %w", height, err)
		}

		block, err := database.ToBlock(bd)
		if err != nil {
			return VerifyResult{}, err
		}

		if height == 0 {
			if !block.Hash().Equal(gen.Hash()) {
				return VerifyResult{}, fmt.Errorf("stored genesis %s does not match network %s", block.Hash(), p.Name)
			}
			continue
		}

		if err := st.ValidateAndApply(block); err != nil {
			return VerifyResult{}, fmt.Errorf("block %d rejected: %w", height, err)
		}
	}

	stats, err := st.QueryLedgerStats()
	if err != nil {
		return VerifyResult{}, err
	}

	block, height := st.QueryTip()

	var res VerifyResult
	res.Height = height
	res.Tip = block.Hash().String()
	res.Ledger.Count = stats.Count
	res.Ledger.Value = stats.Value
	res.Took = time.Since(start)

	return res, nil
}
