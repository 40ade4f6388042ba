package paywall

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/paywalld/paywalld/internal/broadcast"
	"github.com/paywalld/paywalld/internal/invoice"
	"github.com/paywalld/paywalld/internal/ledger"
	"github.com/paywalld/paywalld/internal/records"
	"github.com/paywalld/paywalld/internal/session"
	"github.com/paywalld/paywalld/internal/sse"
	"github.com/paywalld/paywalld/lib/transaction"
)

// Coordinator drives the invoice lifecycle: drafting against the price list,
// validating and broadcasting payments, settling records, and notifying
// event-stream listeners. All invoice-record mutation happens under the
// session's lock.
type Coordinator struct {
	Domain string
	Params *chaincfg.Params

	Store  *records.Store
	Locks  *session.LockTable
	Hub    *sse.Hub
	Bcast  *broadcast.Client
	Ledger *ledger.Ledger

	Prices *PriceSource
	XPub   *XPubSource

	workerID int64
	startID  int64
	counter  atomic.Int64
}

// NewCoordinator wires the lifecycle together. Ledger may be nil; settlement
// then skips the spend-tracking mirror. Derivation paths are
// m/<worker>/<start>/<n> where start pins this process's run so restarts
// never reuse a path.
func NewCoordinator(domain string, params *chaincfg.Params, store *records.Store,
	locks *session.LockTable, hub *sse.Hub, bcast *broadcast.Client,
	ledg *ledger.Ledger, prices *PriceSource, xPub *XPubSource, workerID int64) *Coordinator {

	return &Coordinator{
		Domain:   domain,
		Params:   params,
		Store:    store,
		Locks:    locks,
		Hub:      hub,
		Bcast:    bcast,
		Ledger:   ledg,
		Prices:   prices,
		XPub:     xPub,
		workerID: workerID,
		startID:  time.Now().Unix(),
	}
}

// RequiresPayment reports whether the session must pay before fetching
// urlPath, along with the matched pattern that a grant would be keyed by.
// With no price list, no matching rule, or a fresh grant, the path is open.
func (c *Coordinator) RequiresPayment(sessionID, urlPath string, now time.Time) (bool, string) {
	priceList := c.Prices.Get()
	if priceList == nil {
		return false, ""
	}
	match := priceList.MatchURL(urlPath)
	if match == nil {
		return false, ""
	}
	if c.Store.CheckAccess(sessionID, match.Match, now) {
		return false, match.Match
	}
	return true, match.Match
}

// CreateInvoice returns the session's draft invoice for urlPath, minting a
// fresh one unless a reusable draft for the same matched pattern exists.
// ErrAccessible means no payment is due: the path is unpriced, the payment
// key is unavailable, or the session already holds a grant.
func (c *Coordinator) CreateInvoice(sessionID, urlPath string) (*invoice.Invoice, error) {
	now := time.Now()

	priceList := c.Prices.Get()
	xPub := c.XPub.Get()
	if priceList == nil || xPub == nil {
		return nil, ErrAccessible
	}

	match := priceList.MatchURL(urlPath)
	if match == nil || c.Store.CheckAccess(sessionID, match.Match, now) {
		return nil, ErrAccessible
	}

	if err := c.Store.Paths.EnsureSessionDirs(sessionID); err != nil {
		return nil, err
	}

	release := c.Locks.Lock(sessionID)
	defer release()

	current := c.Store.CurrentInvoices(sessionID)

	if id, ok := current[match.Match]; ok {
		inv, err := c.Store.ReadInvoice(sessionID, id)
		if err == nil && !inv.Paid() && !inv.ReuseExpired(now) {
			return inv, nil
		}
		delete(current, match.Match)
	}

	inv := invoice.New(c.Domain, match.Match, match.PriceInfo)

	derivationPath := fmt.Sprintf("m/%d/%d/%d", c.workerID, c.startID, c.counter.Add(1))
	script, err := c.lockingScript(xPub, derivationPath)
	if err != nil {
		return nil, err
	}

	inv.AddOutput(invoice.Output{
		Amount:         match.PriceInfo.Amount,
		XPub:           xPub.String(),
		DerivationPath: derivationPath,
		Script:         script,
	})

	if err := c.Store.WriteInvoice(sessionID, inv); err != nil {
		return nil, err
	}

	current[inv.URLPath] = inv.ID
	if err := c.Store.WriteCurrentInvoices(sessionID, current); err != nil {
		return nil, err
	}

	return inv, nil
}

func (c *Coordinator) lockingScript(xPub *hdkeychain.ExtendedKey, derivationPath string) (string, error) {
	childKey, err := transaction.DeriveKeyFromPath(xPub, derivationPath)
	if err != nil {
		return "", fmt.Errorf("failed to derive payment key: %v", err)
	}
	pubKey, err := childKey.ECPubKey()
	if err != nil {
		return "", fmt.Errorf("failed to derive payment key: %v", err)
	}
	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(pubKey.SerializeCompressed()), c.Params)
	if err != nil {
		return "", err
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(script), nil
}

// RequestOutput is one payable output in a payment-request document.
type RequestOutput struct {
	Amount int64  `json:"amount"`
	Script string `json:"script"`
}

// RequestDoc is a BIP270 PaymentRequest.
type RequestDoc struct {
	Network             string          `json:"network"`
	Outputs             []RequestOutput `json:"outputs"`
	CreationTimestamp   int64           `json:"creationTimestamp"`
	ExpirationTimestamp int64           `json:"expirationTimestamp"`
	Memo                string          `json:"memo"`
	PaymentURL          string          `json:"paymentUrl"`
	MerchantData        string          `json:"merchantData"`
}

// requestExpiry is how long a wallet is told the payment request stays
// valid, deliberately shorter than the invoice's validity window.
const requestExpiry = 6 * time.Minute

// PaymentRequest builds the BIP270 document for a draft invoice. A paid or
// expired invoice reads as not found.
func (c *Coordinator) PaymentRequest(sessionID, invoiceID string) (*RequestDoc, error) {
	now := time.Now()

	release := c.Locks.RLock(sessionID)
	defer release()

	inv, err := c.Store.ReadInvoice(sessionID, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Paid() || inv.Expired(now) {
		return nil, ErrExpired
	}

	outputs := make([]RequestOutput, 0, len(inv.Outputs))
	for _, out := range inv.Outputs {
		outputs = append(outputs, RequestOutput{Amount: out.Amount, Script: out.Script})
	}

	return &RequestDoc{
		Network:             "bitcoin",
		Outputs:             outputs,
		CreationTimestamp:   now.Unix(),
		ExpirationTimestamp: now.Add(requestExpiry).Unix(),
		Memo:                fmt.Sprintf("https://%s%s", c.Domain, inv.URLPath),
		PaymentURL:          fmt.Sprintf("https://%s/.bip270/pay-invoice?invoiceId=%s&sessionId=%s", c.Domain, inv.ID, sessionID),
		MerchantData:        inv.ID,
	}, nil
}

// PayInvoice validates rawTxHex against the invoice, broadcasts it, and
// settles on acceptance. The draft survives every failure path so the payer
// can retry; broadcast runs outside the session lock and the invoice is
// re-read before settling, so a concurrent duplicate settles once.
func (c *Coordinator) PayInvoice(sessionID, invoiceID, rawTxHex string) (*invoice.Invoice, error) {
	now := time.Now()

	release := c.Locks.RLock(sessionID)
	inv, err := c.Store.ReadInvoice(sessionID, invoiceID)
	if err != nil {
		release()
		return nil, err
	}
	if inv.Paid() || inv.Expired(now) {
		release()
		return nil, ErrExpired
	}

	tx, err := parseTx(rawTxHex)
	if err != nil {
		release()
		return nil, ErrInvalidTransaction
	}

	matched, err := ValidatePayment(inv.Outputs, tx)
	if err != nil {
		release()
		return nil, err
	}
	release()

	result, err := c.Bcast.Broadcast(rawTxHex)
	if err != nil {
		return nil, err
	}

	release = c.Locks.Lock(sessionID)
	defer release()

	inv, err = c.Store.ReadInvoice(sessionID, invoiceID)
	if err != nil {
		// Another payer settled it while we were broadcasting.
		if settled, serr := c.Store.ReadSettledInvoice(invoiceID); serr == nil {
			return settled, nil
		}
		return nil, err
	}
	if inv.Paid() {
		return inv, nil
	}

	txOutNum := uint32(matched[0])
	inv.PaidAt = time.Now().UnixMilli()
	inv.PaymentMethod = "bip270 " + result.Endpoint
	inv.TxID = tx.TxHash().String()
	inv.TxOutNum = &txOutNum
	inv.TxHex = rawTxHex

	if err := c.settle(sessionID, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// DevPayInvoice settles an invoice without payment by fabricating a
// transaction with exactly the required outputs. The server only routes here
// in a development environment.
func (c *Coordinator) DevPayInvoice(sessionID, invoiceID string) (*invoice.Invoice, error) {
	release := c.Locks.Lock(sessionID)
	defer release()

	inv, err := c.Store.ReadInvoice(sessionID, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Paid() {
		return inv, nil
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	for _, out := range inv.Outputs {
		script, err := hex.DecodeString(out.Script)
		if err != nil {
			return nil, err
		}
		tx.AddTxOut(wire.NewTxOut(out.Amount, script))
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}

	txOutNum := uint32(0)
	inv.PaidAt = time.Now().UnixMilli()
	inv.PaymentMethod = "dev"
	inv.TxID = tx.TxHash().String()
	inv.TxOutNum = &txOutNum
	inv.TxHex = hex.EncodeToString(buf.Bytes())

	if err := c.settle(sessionID, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// settle grants access, relocates the record to the payments area, mirrors
// the invoice into the ledger, and wakes event-stream listeners. Ledger
// failures are logged, never surfaced: the payment already happened.
func (c *Coordinator) settle(sessionID string, inv *invoice.Invoice) error {
	expiry := time.UnixMilli(inv.PaidAt).Add(invoice.GrantDuration)
	if err := c.Store.WriteAccessGrant(sessionID, inv.URLPath, expiry); err != nil {
		return err
	}
	if err := c.Store.SettleInvoice(sessionID, inv); err != nil {
		return err
	}

	if c.Ledger != nil {
		if err := c.Ledger.AddInvoice(inv); err != nil {
			log.Printf("failed to record invoice %s in ledger: %v", inv.ID, err)
		}
	}

	c.Hub.OnPayment(sse.Key(sessionID, inv.ID))
	return nil
}

func parseTx(rawTxHex string) (*wire.MsgTx, error) {
	raw, err := hex.DecodeString(rawTxHex)
	if err != nil {
		return nil, err
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	// BIP270 payments carry no witness data; segwit-aware decoding would
	// mistake an empty input count for a witness marker.
	if err := tx.DeserializeNoWitness(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return tx, nil
}
