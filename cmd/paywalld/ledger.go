package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/paywalld/paywalld/internal/config"
	"github.com/paywalld/paywalld/internal/invoice"
	"github.com/paywalld/paywalld/internal/ledger"
	"github.com/paywalld/paywalld/lib/transaction"
)

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show the unredeemed ledger balance",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runBalance(); err != nil {
			log.Fatalf("Error reading balance: %v", err)
		}
	},
}

var redeemCmd = &cobra.Command{
	Use:   "redeem [address]",
	Short: "Build a signed sweep transaction to an address",
	Long: `Builds and signs a transaction spending every unredeemed ledger
output, minus the fee, to the given address. Nothing is marked spent;
broadcast the printed hex yourself and then run markspent.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runRedeem(args[0]); err != nil {
			log.Fatalf("Error building sweep: %v", err)
		}
	},
}

var markSpentCmd = &cobra.Command{
	Use:   "markspent [txhex]",
	Short: "Record a broadcast sweep in the ledger",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runMarkSpent(args[0]); err != nil {
			log.Fatalf("Error marking outputs spent: %v", err)
		}
	},
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show ledger contents",
}

var showInvoicesCmd = &cobra.Command{
	Use:   "invoices",
	Short: "List every settled invoice",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runShowInvoices(); err != nil {
			log.Fatalf("Error listing invoices: %v", err)
		}
	},
}

var showOutputsCmd = &cobra.Command{
	Use:   "outputs",
	Short: "List every tracked payment output",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runShowOutputs(); err != nil {
			log.Fatalf("Error listing outputs: %v", err)
		}
	},
}

var importInvoiceCmd = &cobra.Command{
	Use:   "importinvoice [file...]",
	Short: "Import settled invoice files into the ledger",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runImportInvoice(args); err != nil {
			log.Fatalf("Error importing invoices: %v", err)
		}
	},
}

func openLedger() (*ledger.Ledger, error) {
	return ledger.Open(viper.GetString("ledger_db_path"))
}

func runBalance() error {
	ledg, err := openLedger()
	if err != nil {
		return err
	}
	defer ledg.Close()

	bal, err := ledg.ShowBalance()
	if err != nil {
		return err
	}

	out, err := json.Marshal(bal)
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runShowInvoices() error {
	ledg, err := openLedger()
	if err != nil {
		return err
	}
	defer ledg.Close()

	invoices, err := ledg.ListInvoices()
	if err != nil {
		return err
	}
	for i := range invoices {
		out, err := json.Marshal(&invoices[i])
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	}
	return nil
}

func runShowOutputs() error {
	ledg, err := openLedger()
	if err != nil {
		return err
	}
	defer ledg.Close()

	outputs, err := ledg.ListOutputs()
	if err != nil {
		return err
	}
	for i := range outputs {
		out, err := json.Marshal(&outputs[i])
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	}
	return nil
}

// masterKeyResolver serves the sweep signer from the single master key the
// server hands out addresses for.
type masterKeyResolver struct {
	xPub  string
	xPriv string
}

func (r *masterKeyResolver) ExtendedPrivKey(xPub string) (string, error) {
	if xPub != r.xPub {
		return "", fmt.Errorf("no private key for %s", xPub)
	}
	return r.xPriv, nil
}

func runRedeem(address string) error {
	params, err := config.NetworkParams()
	if err != nil {
		return err
	}

	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return fmt.Errorf("invalid address: %v", err)
	}
	if !addr.IsForNet(params) {
		return fmt.Errorf("address %s is not valid for %s", address, params.Name)
	}

	rootKey, err := loadMasterKey()
	if err != nil {
		return err
	}
	neutered, err := rootKey.Neuter()
	if err != nil {
		return err
	}

	ledg, err := openLedger()
	if err != nil {
		return err
	}
	defer ledg.Close()

	resolver := &masterKeyResolver{xPub: neutered.String(), xPriv: rootKey.String()}

	tx, err := transaction.BuildSweep(ledg, resolver, addr, viper.GetInt64("fee_per_kb"))
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return err
	}

	fmt.Printf("txid: %s\n", tx.TxHash().String())
	fmt.Println(hex.EncodeToString(buf.Bytes()))
	return nil
}

func runMarkSpent(txHex string) error {
	raw, err := hex.DecodeString(txHex)
	if err != nil {
		return fmt.Errorf("invalid transaction hex: %v", err)
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.DeserializeNoWitness(bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("invalid transaction: %v", err)
	}

	ledg, err := openLedger()
	if err != nil {
		return err
	}
	defer ledg.Close()

	if err := transaction.ProcessTransaction(ledg, tx); err != nil {
		return err
	}

	fmt.Printf("marked %d inputs spent by %s\n", len(tx.TxIn), tx.TxHash().String())
	return nil
}

func runImportInvoice(files []string) error {
	ledg, err := openLedger()
	if err != nil {
		return err
	}
	defer ledg.Close()

	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		var inv invoice.Invoice
		if err := json.Unmarshal(data, &inv); err != nil {
			return fmt.Errorf("error parsing %s: %v", file, err)
		}
		if !invoice.IsValidID(inv.ID) {
			return fmt.Errorf("%s does not contain a valid invoice", file)
		}
		if err := ledg.AddInvoice(&inv); err != nil {
			return fmt.Errorf("error importing %s: %v", file, err)
		}
		fmt.Printf("imported %s\n", inv.ID)
	}
	return nil
}
