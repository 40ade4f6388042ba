package transaction

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/paywalld/paywalld/internal/ledger"
)

type fakeUTXOSource struct {
	outputs []ledger.UnspentOutput
}

func (f *fakeUTXOSource) NextUnspentOutput(afterRowID uint) (*ledger.UnspentOutput, error) {
	for i := range f.outputs {
		if f.outputs[i].RowID > afterRowID {
			out := f.outputs[i]
			return &out, nil
		}
	}
	return nil, nil
}

type fakeKeyStore map[string]string

func (f fakeKeyStore) ExtendedPrivKey(xPub string) (string, error) {
	xPrv, ok := f[xPub]
	if !ok {
		return "", fmt.Errorf("unknown xpub %s", xPub)
	}
	return xPrv, nil
}

type spentCall struct {
	invTxHash     string
	invTxOutNum   uint32
	redeemTxHash  string
	redeemTxInNum uint32
}

type fakeSpendMarker struct {
	calls []spentCall
}

func (f *fakeSpendMarker) MarkSpent(invTxHash string, invTxOutNum uint32, redeemTxHash string, redeemTxInNum uint32) error {
	f.calls = append(f.calls, spentCall{invTxHash, invTxOutNum, redeemTxHash, redeemTxInNum})
	return nil
}

// testWallet derives payable outputs the way the server does and hands back
// everything a sweep needs: the UTXO source, the key resolver, and the
// destination address.
func testWallet(t *testing.T, amounts []int64) (*fakeUTXOSource, fakeKeyStore, btcutil.Address) {
	t.Helper()
	params := &chaincfg.MainNetParams

	seed := make([]byte, 32)
	master, err := hdkeychain.NewMaster(seed, params)
	if err != nil {
		t.Fatalf("NewMaster: %v", err)
	}
	xPub, err := master.Neuter()
	if err != nil {
		t.Fatalf("Neuter: %v", err)
	}

	src := &fakeUTXOSource{}
	for i, amount := range amounts {
		path := fmt.Sprintf("m/0/7/%d", i+1)
		derived, err := DeriveKeyFromPath(xPub, path)
		if err != nil {
			t.Fatalf("derive %s: %v", path, err)
		}
		pubKey, err := derived.ECPubKey()
		if err != nil {
			t.Fatalf("ECPubKey: %v", err)
		}
		addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(pubKey.SerializeCompressed()), params)
		if err != nil {
			t.Fatalf("NewAddressPubKeyHash: %v", err)
		}
		script, err := txscript.PayToAddrScript(addr)
		if err != nil {
			t.Fatalf("PayToAddrScript: %v", err)
		}

		src.outputs = append(src.outputs, ledger.UnspentOutput{
			RowID:          uint(i + 1),
			InvoiceID:      fmt.Sprintf("inv-%d", i+1),
			InvTxHash:      fmt.Sprintf("%064x", i+1),
			InvTxOutNum:    0,
			Amount:         amount,
			XPub:           xPub.String(),
			DerivationPath: path,
			Script:         hex.EncodeToString(script),
		})
	}

	destKey, err := DeriveKeyFromPath(master, "m/1/0")
	if err != nil {
		t.Fatalf("derive destination: %v", err)
	}
	destPub, err := destKey.ECPubKey()
	if err != nil {
		t.Fatalf("ECPubKey: %v", err)
	}
	destAddr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(destPub.SerializeCompressed()), params)
	if err != nil {
		t.Fatalf("destination address: %v", err)
	}

	return src, fakeKeyStore{xPub.String(): master.String()}, destAddr
}

func TestBuildSweep_SpendsAllOutputsMinusFee(t *testing.T) {
	src, keys, dest := testWallet(t, []int64{40000, 25000, 35000})

	tx, err := BuildSweep(src, keys, dest, 500)
	if err != nil {
		t.Fatalf("BuildSweep: %v", err)
	}

	if len(tx.TxIn) != 3 {
		t.Fatalf("inputs: got %d, want 3", len(tx.TxIn))
	}
	if len(tx.TxOut) != 1 {
		t.Fatalf("outputs: got %d, want 1", len(tx.TxOut))
	}

	// Fee formula: ceil((unsigned size + 107*inputs)/1000 * feePerKb).
	unsigned := tx.SerializeSize()
	for _, txIn := range tx.TxIn {
		unsigned -= len(txIn.SignatureScript)
	}
	estimatedSize := unsigned + sigScriptEstimate*len(tx.TxIn)
	wantFee := int64(math.Ceil(float64(estimatedSize) / 1000 * 500))
	if got := int64(100000) - tx.TxOut[0].Value; got != wantFee {
		t.Errorf("fee: got %d, want %d", got, wantFee)
	}

	// Every input's signature script must satisfy the locking script it
	// spends.
	for i := range tx.TxIn {
		lockingScript, err := hex.DecodeString(src.outputs[i].Script)
		if err != nil {
			t.Fatal(err)
		}
		vm, err := txscript.NewEngine(lockingScript, tx, i, txscript.StandardVerifyFlags,
			nil, nil, src.outputs[i].Amount, nil)
		if err != nil {
			t.Fatalf("NewEngine input %d: %v", i, err)
		}
		if err := vm.Execute(); err != nil {
			t.Errorf("input %d does not validate: %v", i, err)
		}
	}
}

func TestBuildSweep_PagesByRowID(t *testing.T) {
	src, keys, dest := testWallet(t, []int64{50000, 50000})

	// Rows at or before the advancing cursor are never revisited.
	src.outputs = src.outputs[1:]

	tx, err := BuildSweep(src, keys, dest, 500)
	if err != nil {
		t.Fatalf("BuildSweep: %v", err)
	}
	if len(tx.TxIn) != 1 {
		t.Errorf("inputs: got %d, want 1", len(tx.TxIn))
	}
}

func TestBuildSweep_InsufficientFunds(t *testing.T) {
	// No unspent outputs at all.
	empty := &fakeUTXOSource{}
	_, keys, dest := testWallet(t, nil)
	if _, err := BuildSweep(empty, keys, dest, 500); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("empty set: got %v, want ErrInsufficientFunds", err)
	}

	// A dust output below the estimated fee.
	src, keys, dest := testWallet(t, []int64{10})
	if _, err := BuildSweep(src, keys, dest, 1000); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("dust: got %v, want ErrInsufficientFunds", err)
	}
}

func TestProcessTransaction_MarksEveryInputSpent(t *testing.T) {
	src, keys, dest := testWallet(t, []int64{40000, 60000})

	tx, err := BuildSweep(src, keys, dest, 500)
	if err != nil {
		t.Fatalf("BuildSweep: %v", err)
	}

	marker := &fakeSpendMarker{}
	if err := ProcessTransaction(marker, tx); err != nil {
		t.Fatalf("ProcessTransaction: %v", err)
	}

	if len(marker.calls) != 2 {
		t.Fatalf("MarkSpent calls: got %d, want 2", len(marker.calls))
	}
	redeemTxHash := tx.TxHash().String()
	for i, call := range marker.calls {
		if call.redeemTxHash != redeemTxHash {
			t.Errorf("call %d redeem hash: %q", i, call.redeemTxHash)
		}
		if call.redeemTxInNum != uint32(i) {
			t.Errorf("call %d in num: %d", i, call.redeemTxInNum)
		}
		if call.invTxHash != src.outputs[i].InvTxHash {
			t.Errorf("call %d inv hash: %q, want %q", i, call.invTxHash, src.outputs[i].InvTxHash)
		}
	}
}
