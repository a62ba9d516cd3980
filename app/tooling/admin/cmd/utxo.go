package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/btpc/consensus/foundation/blockchain/database"
	"github.com/btpc/consensus/foundation/blockchain/ledger"
	"github.com/btpc/consensus/foundation/blockchain/ledger/leveldb"
	"github.com/btpc/consensus/foundation/blockchain/script"
	"github.com/btpc/consensus/foundation/blockchain/signature"
	"github.com/spf13/cobra"
)

var utxoCmd = &cobra.Command{
	Use:   "utxo",
	Short: "Inspect the unspent output ledger",
}

var utxoListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the unspent outputs, optionally for one address",
	RunE:  utxoListRun,
}

var utxoStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print the number and total value of unspent outputs",
	RunE:  utxoStatsRun,
}

var address string

func init() {
	utxoListCmd.Flags().StringVarP(&address, "address", "a", "", "Only list outputs locked to this 0x address.")
	utxoCmd.AddCommand(utxoListCmd, utxoStatsCmd)
	rootCmd.AddCommand(utxoCmd)
}

func openLedger() (*ledger.Ledger, error) {
	ldb, err := leveldb.Open(utxoDir)
	if err != nil {
		return nil, fmt.Errorf("opening ledger %s: %w", utxoDir, err)
	}

	return ledger.New(ldb, nil), nil
}

func utxoListRun(cmd *cobra.Command, args []string) error {
	var pkh []byte
	if address != "" {
		var err error
		if pkh, err = signature.ParsePubKeyHash(address); err != nil {
			return err
		}
	}

	l, err := openLedger()
	if err != nil {
		return err
	}
	defer l.Close()

	enc := json.NewEncoder(cmd.OutOrStdout())

	return l.ForEach(func(u database.UTXO) error {
		if pkh != nil {
			got, ok := script.ExtractPubKeyHash(u.Output.PkScript)
			if !ok || !bytes.Equal(got, pkh) {
				return nil
			}
		}
		return enc.Encode(u)
	})
}

func utxoStatsRun(cmd *cobra.Command, args []string) error {
	l, err := openLedger()
	if err != nil {
		return err
	}
	defer l.Close()

	stats, err := l.Stats()
	if err != nil {
		return err
	}

	tip, ok, err := l.Tip()
	if err != nil {
		return err
	}

	out := struct {
		ledger.Stats
		Height uint32         `json:"height"`
		Tip    signature.Hash `json:"tip"`
		Synced bool           `json:"synced"`
	}{
		Stats:  stats,
		Height: tip.Height,
		Tip:    tip.Hash,
		Synced: ok,
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
