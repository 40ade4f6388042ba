package transaction

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/paywalld/paywalld/internal/ledger"
)

const (
	// MaxSweepInputs caps how many ledger outputs one sweep consumes.
	MaxSweepInputs = 1000

	// sigScriptEstimate approximates one signature + pubkey push per input.
	sigScriptEstimate = 107
)

// ErrInsufficientFunds is returned when the unspent outputs do not cover the
// estimated fee, including the case of no unspent outputs at all.
var ErrInsufficientFunds = errors.New("unspent outputs do not cover the transaction fee")

// UTXOSource pages through unspent ledger outputs in insertion order.
type UTXOSource interface {
	NextUnspentOutput(afterRowID uint) (*ledger.UnspentOutput, error)
}

// SpendMarker records redeemed outputs after the sweep is accepted.
type SpendMarker interface {
	MarkSpent(invTxHash string, invTxOutNum uint32, redeemTxHash string, redeemTxInNum uint32) error
}

// KeyResolver maps an output's recorded extended public key string to the
// matching extended private key string.
type KeyResolver interface {
	ExtendedPrivKey(xPub string) (string, error)
}

// BuildSweep selects unspent ledger outputs up to the input cap and builds a
// signed transaction sending everything, minus the estimated fee, to addrTo.
// Building marks nothing spent; call ProcessTransaction once the network has
// accepted the result.
func BuildSweep(db UTXOSource, keys KeyResolver, addrTo btcutil.Address, feePerKb int64) (*wire.MsgTx, error) {
	pkScript, err := txscript.PayToAddrScript(addrTo)
	if err != nil {
		return nil, fmt.Errorf("failed to build destination script: %v", err)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxOut(wire.NewTxOut(0, pkScript))

	var utxos []*ledger.UnspentOutput
	var valueIn int64
	lastRowID := uint(0)

	for len(utxos) < MaxSweepInputs {
		utxo, err := db.NextUnspentOutput(lastRowID)
		if err != nil {
			return nil, fmt.Errorf("failed to read unspent output: %v", err)
		}
		if utxo == nil {
			break
		}
		lastRowID = utxo.RowID

		prevHash, err := chainhash.NewHashFromStr(utxo.InvTxHash)
		if err != nil {
			return nil, fmt.Errorf("bad transaction hash %q: %v", utxo.InvTxHash, err)
		}
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(prevHash, utxo.InvTxOutNum), nil, nil))
		valueIn += utxo.Amount
		utxos = append(utxos, utxo)
	}

	estimatedSize := tx.SerializeSize() + sigScriptEstimate*len(tx.TxIn)
	estimatedFee := int64(math.Ceil(float64(estimatedSize) / 1000 * float64(feePerKb)))

	if valueIn <= estimatedFee {
		return nil, fmt.Errorf("%w: %d in, %d fee over %d inputs",
			ErrInsufficientFunds, valueIn, estimatedFee, len(tx.TxIn))
	}
	tx.TxOut[0].Value = valueIn - estimatedFee

	log.Printf("sweeping %d outputs, %d satoshis in, %d fee (%d bytes estimated)",
		len(utxos), valueIn, estimatedFee, estimatedSize)

	for i, utxo := range utxos {
		xPrvStr, err := keys.ExtendedPrivKey(utxo.XPub)
		if err != nil {
			return nil, fmt.Errorf("no signing key for output %s:%d: %v", utxo.InvTxHash, utxo.InvTxOutNum, err)
		}
		xPrv, err := hdkeychain.NewKeyFromString(xPrvStr)
		if err != nil {
			return nil, fmt.Errorf("bad extended private key: %v", err)
		}
		derived, err := DeriveKeyFromPath(xPrv, utxo.DerivationPath)
		if err != nil {
			return nil, err
		}
		privKey, err := derived.ECPrivKey()
		if err != nil {
			return nil, fmt.Errorf("failed to get private key: %v", err)
		}

		lockingScript, err := hex.DecodeString(utxo.Script)
		if err != nil {
			return nil, fmt.Errorf("bad locking script on output %s:%d: %v", utxo.InvTxHash, utxo.InvTxOutNum, err)
		}

		sigScript, err := txscript.SignatureScript(tx, i, lockingScript, txscript.SigHashAll, privKey, true)
		if err != nil {
			return nil, fmt.Errorf("failed to sign input %d: %v", i, err)
		}
		tx.TxIn[i].SignatureScript = sigScript
	}

	return tx, nil
}

// ProcessTransaction marks every input of an accepted sweep spent in the
// ledger, keyed by the new transaction's id. Safe to repeat: MarkSpent on an
// already-redeemed output is a no-op.
func ProcessTransaction(db SpendMarker, tx *wire.MsgTx) error {
	redeemTxHash := tx.TxHash().String()
	for i, txIn := range tx.TxIn {
		err := db.MarkSpent(
			txIn.PreviousOutPoint.Hash.String(),
			txIn.PreviousOutPoint.Index,
			redeemTxHash,
			uint32(i),
		)
		if err != nil {
			return fmt.Errorf("failed to mark input %d spent: %v", i, err)
		}
	}
	return nil
}
