package cmd

import (
	"encoding/json"

	"github.com/btpc/consensus/foundation/blockchain/database"
	"github.com/btpc/consensus/foundation/blockchain/genesis"
	"github.com/spf13/cobra"
)

var genesisCmd = &cobra.Command{
	Use:   "genesis",
	Short: "Print the network parameters and genesis block",
	RunE:  genesisRun,
}

func init() {
	rootCmd.AddCommand(genesisCmd)
}

func genesisRun(cmd *cobra.Command, args []string) error {
	p, err := params()
	if err != nil {
		return err
	}

	out := struct {
		Params genesis.Params     `json:"params"`
		Block  database.BlockData `json:"block"`
	}{
		Params: p,
		Block:  database.NewBlockData(genesis.Block(p), 0),
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
