package cmd

import (
	"fmt"

	"github.com/btpc/consensus/foundation/blockchain/script"
	"github.com/btpc/consensus/foundation/blockchain/signature"
	"github.com/spf13/cobra"
)

var addressCmd = &cobra.Command{
	Use:   "address",
	Short: "Print the address and lock script for the key",
	RunE:  addressRun,
}

func init() {
	rootCmd.AddCommand(addressCmd)
}

func addressRun(cmd *cobra.Command, args []string) error {
	key, err := signature.LoadKey(keyPath)
	if err != nil {
		return err
	}

	lock, err := script.PayToPubKeyHash(key.PubKeyHash())
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "address: 0x%x\nlock:    0x%x\n", key.PubKeyHash(), lock)

	return nil
}
