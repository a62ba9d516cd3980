package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/btpc/consensus/foundation/blockchain/database"
	"github.com/btpc/consensus/foundation/blockchain/script"
	"github.com/btpc/consensus/foundation/blockchain/signature"
	"github.com/spf13/cobra"
)

// ErrInsufficientFunds is returned when the spendable outputs do not cover
// the payment and the fee.
var ErrInsufficientFunds = errors.New("insufficient funds")

var (
	url   string
	to    string
	value uint64
	fee   uint64
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Sign a payment with the key and submit it to a node",
	RunE:  sendRun,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&url, "url", "u", "http://localhost:8080", "Url of the node.")
	sendCmd.Flags().StringVarP(&to, "to", "t", "", "Address to pay.")
	sendCmd.Flags().Uint64VarP(&value, "value", "v", 0, "Value to send.")
	sendCmd.Flags().Uint64VarP(&fee, "fee", "f", 1000, "Fee paid to the miner.")
}

func sendRun(cmd *cobra.Command, args []string) error {
	p, err := params()
	if err != nil {
		return err
	}

	key, err := signature.LoadKey(keyPath)
	if err != nil {
		return err
	}

	toPKH, err := signature.ParsePubKeyHash(to)
	if err != nil {
		return err
	}

	client := http.Client{Timeout: 10 * time.Second}

	var tip database.BlockData
	if err := getJSON(client, fmt.Sprintf("%s/v1/block/tip", url), &tip); err != nil {
		return err
	}

	var bal struct {
		UTXOs []database.UTXO `json:"utxos"`
	}
	if err := getJSON(client, fmt.Sprintf("%s/v1/utxo/address/0x%x", url, key.PubKeyHash()), &bal); err != nil {
		return err
	}

	spendable := make([]database.UTXO, 0, len(bal.UTXOs))
	for _, u := range bal.UTXOs {
		if u.IsMature(tip.Height+1, p.CoinbaseMaturity) {
			spendable = append(spendable, u)
		}
	}

	tx, err := BuildPayment(key, spendable, toPKH, value, fee, p.ForkID)
	if err != nil {
		return err
	}

	data, err := json.Marshal(tx)
	if err != nil {
		return err
	}

	resp, err := client.Post(fmt.Sprintf("%s/v1/tx/submit", url), "application/json", bytes.NewBuffer(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("submit: status %d: %s", resp.StatusCode, body)
	}

	log.Infow("send", "txid", tx.ID(), "to", to, "value", value, "fee", fee)
	fmt.Fprintf(cmd.OutOrStdout(), "%s\n", body)

	return nil
}

// BuildPayment spends outputs of the key, in the order given, until they
// cover value plus fee. Whatever is left over is paid back to the key.
func BuildPayment(key *signature.PrivateKey, utxos []database.UTXO, toPKH []byte, value uint64, fee uint64, forkID uint8) (database.Tx, error) {
	if value == 0 {
		return database.Tx{}, errors.New("value must be positive")
	}

	payTo, err := script.PayToPubKeyHash(toPKH)
	if err != nil {
		return database.Tx{}, err
	}

	change, err := script.PayToPubKeyHash(key.PubKeyHash())
	if err != nil {
		return database.Tx{}, err
	}

	tx := database.Tx{
		Version: database.MinTxVersion,
		Outputs: []database.TxOut{{Value: value, PkScript: payTo}},
		ForkID:  forkID,
	}

	need := value + fee
	var have uint64
	for _, u := range utxos {
		if have >= need {
			break
		}
		tx.Inputs = append(tx.Inputs, database.TxIn{PrevOut: u.OutPoint, Sequence: database.NullIndex})
		have += u.Output.Value
	}

	if have < need {
		return database.Tx{}, fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, have, need)
	}

	if rest := have - need; rest > 0 {
		tx.Outputs = append(tx.Outputs, database.TxOut{Value: rest, PkScript: change})
	}

	for i := range tx.Inputs {
		sig, err := script.SignatureScript(key.Sign(tx.SignatureHash(i)), key.PublicKey())
		if err != nil {
			return database.Tx{}, err
		}
		tx.Inputs[i].SigScript = sig
	}

	return tx, nil
}

func getJSON(client http.Client, url string, v any) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("get %s: status %d: %s", url, resp.StatusCode, body)
	}

	return json.NewDecoder(resp.Body).Decode(v)
}
