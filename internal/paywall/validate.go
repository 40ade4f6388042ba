package paywall

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/wire"

	"github.com/paywalld/paywalld/internal/invoice"
)

// ValidatePayment checks that tx contains a distinct matching output for
// every required (amount, script) pair. Each transaction output satisfies at
// most one requirement; order and extra outputs are ignored. On success it
// returns, for each required output, the index of the transaction output
// that satisfied it.
func ValidatePayment(required []invoice.Output, tx *wire.MsgTx) ([]int, error) {
	consumed := make([]bool, len(tx.TxOut))
	matched := make([]int, 0, len(required))

	for _, item := range required {
		found := -1
		for n, txOut := range tx.TxOut {
			if consumed[n] {
				continue
			}
			if txOut.Value == item.Amount && hex.EncodeToString(txOut.PkScript) == item.Script {
				found = n
				break
			}
		}
		if found == -1 {
			return nil, fmt.Errorf("%w: %d satoshis to %s", ErrPaymentMismatch, item.Amount, item.Script)
		}
		consumed[found] = true
		matched = append(matched, found)
	}

	return matched, nil
}
