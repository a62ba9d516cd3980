// Package cmd contains the admin commands.
package cmd

import (
	"github.com/btpc/consensus/foundation/blockchain/genesis"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	network string
	keyPath string
	dbPath  string
	utxoDir string
)

var log = zap.NewNop().Sugar()

var rootCmd = &cobra.Command{
	Use:           "admin",
	Short:         "Administrative tasks for the consensus node",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&network, "network", "n", "regtest", "Network profile: mainnet, testnet or regtest.")
	rootCmd.PersistentFlags().StringVarP(&keyPath, "key", "k", "zblock/accounts/miner.key", "Path to the private key file.")
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "zblock/blocks", "Path to the chain storage directory.")
	rootCmd.PersistentFlags().StringVarP(&utxoDir, "ledger", "l", "zblock/utxo", "Path to the leveldb ledger directory.")
}

// Execute runs the command named on the command line.
func Execute(build string, l *zap.SugaredLogger) error {
	rootCmd.Version = build
	log = l
	return rootCmd.Execute()
}

func params() (genesis.Params, error) {
	return genesis.Lookup(network)
}
