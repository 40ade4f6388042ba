package paywall

import (
	"encoding/hex"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/wire"

	"github.com/paywalld/paywalld/internal/invoice"
)

func txWithOutputs(t *testing.T, outs ...invoice.Output) *wire.MsgTx {
	t.Helper()
	tx := wire.NewMsgTx(wire.TxVersion)
	for _, out := range outs {
		script, err := hex.DecodeString(out.Script)
		if err != nil {
			t.Fatalf("bad script hex: %v", err)
		}
		tx.AddTxOut(wire.NewTxOut(out.Amount, script))
	}
	return tx
}

func TestValidatePayment(t *testing.T) {
	a := invoice.Output{Amount: 1000, Script: "76a90188ac"}
	b := invoice.Output{Amount: 2500, Script: "76a90288ac"}

	tx := txWithOutputs(t, b, a)

	matched, err := ValidatePayment([]invoice.Output{a, b}, tx)
	if err != nil {
		t.Fatalf("ValidatePayment: %v", err)
	}
	if len(matched) != 2 || matched[0] != 1 || matched[1] != 0 {
		t.Errorf("matched = %v, want [1 0]", matched)
	}
}

func TestValidatePayment_IgnoresExtraOutputs(t *testing.T) {
	required := invoice.Output{Amount: 1000, Script: "76a90188ac"}
	change := invoice.Output{Amount: 99999, Script: "76a9ff88ac"}

	if _, err := ValidatePayment([]invoice.Output{required}, txWithOutputs(t, change, required)); err != nil {
		t.Errorf("ValidatePayment with change output: %v", err)
	}
}

func TestValidatePayment_MissingOutput(t *testing.T) {
	required := invoice.Output{Amount: 1000, Script: "76a90188ac"}
	wrongAmount := invoice.Output{Amount: 999, Script: "76a90188ac"}

	_, err := ValidatePayment([]invoice.Output{required}, txWithOutputs(t, wrongAmount))
	if !errors.Is(err, ErrPaymentMismatch) {
		t.Errorf("err = %v, want ErrPaymentMismatch", err)
	}
}

func TestValidatePayment_OutputSatisfiesOnlyOneRequirement(t *testing.T) {
	out := invoice.Output{Amount: 1000, Script: "76a90188ac"}

	// Two identical requirements need two transaction outputs.
	_, err := ValidatePayment([]invoice.Output{out, out}, txWithOutputs(t, out))
	if !errors.Is(err, ErrPaymentMismatch) {
		t.Errorf("err = %v, want ErrPaymentMismatch", err)
	}

	if _, err := ValidatePayment([]invoice.Output{out, out}, txWithOutputs(t, out, out)); err != nil {
		t.Errorf("ValidatePayment with duplicated outputs: %v", err)
	}
}
