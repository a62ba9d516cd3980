package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/btpc/consensus/foundation/blockchain/signature"
	"github.com/spf13/cobra"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a new ML-DSA key pair",
	RunE:  keygenRun,
}

var overwrite bool

func init() {
	keygenCmd.Flags().BoolVarP(&overwrite, "force", "f", false, "Overwrite an existing key file.")
	rootCmd.AddCommand(keygenCmd)
}

func keygenRun(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(keyPath); err == nil && !overwrite {
		return fmt.Errorf("key file %s exists", keyPath)
	}

	key, err := signature.GenerateKey()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return err
	}

	if err := signature.SaveKey(keyPath, key); err != nil {
		return err
	}

	log.Infow("keygen", "path", keyPath)
	fmt.Fprintf(cmd.OutOrStdout(), "0x%x\n", key.PubKeyHash())

	return nil
}
