package invoice

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/paywalld/paywalld/internal/pricing"
)

const (
	// ReuseWindow is how long a draft invoice is handed back for repeat
	// requests to the same matched pattern before a fresh one is minted.
	ReuseWindow = 5 * time.Minute

	// ValidityWindow is how long a draft invoice is payable. Expiry is
	// recomputed from the clock on every read; nothing marks it.
	ValidityWindow = 15 * time.Minute

	// GrantDuration is how long an access grant stays fresh after payment.
	GrantDuration = 6 * time.Hour
)

// Output is one payable output of an invoice. Created once, immutable,
// mirrored into the ledger for spend tracking.
type Output struct {
	Amount         int64  `json:"amount"`
	XPub           string `json:"xPub"`
	DerivationPath string `json:"derivationPath"`
	Script         string `json:"script"`
}

// Invoice is a payment request for one matched price pattern. Timestamps are
// unix milliseconds.
type Invoice struct {
	ID            string            `json:"id"`
	Created       int64             `json:"created"`
	Domain        string            `json:"domain"`
	URLPath       string            `json:"urlPath"`
	PriceInfo     pricing.PriceInfo `json:"priceInfo"`
	Outputs       []Output          `json:"outputs"`
	Subtotal      int64             `json:"subtotal"`
	PaymentMethod string            `json:"paymentMethod,omitempty"`
	PaidAt        int64             `json:"paidAt,omitempty"`
	TxID          string            `json:"txid,omitempty"`
	TxOutNum      *uint32           `json:"txOutNum,omitempty"`
	TxHex         string            `json:"txHex,omitempty"`
	RedeemTxHash  string            `json:"redeemTxHash,omitempty"`
	RedeemTxInNum *uint32           `json:"redeemTxInNum,omitempty"`
}

// New creates a draft invoice for a matched price pattern. URLPath is the
// matched pattern, not the raw request path.
func New(domain, urlPath string, priceInfo pricing.PriceInfo) *Invoice {
	return &Invoice{
		ID:        NewID(),
		Created:   time.Now().UnixMilli(),
		Domain:    domain,
		URLPath:   urlPath,
		PriceInfo: priceInfo,
		Outputs:   []Output{},
	}
}

// AddOutput appends an output and keeps the subtotal in sync.
func (inv *Invoice) AddOutput(out Output) {
	inv.Outputs = append(inv.Outputs, out)
	inv.Subtotal += out.Amount
}

func (inv *Invoice) Paid() bool {
	return inv.PaidAt != 0
}

// Expired reports whether the invoice is past its validity window at now.
func (inv *Invoice) Expired(now time.Time) bool {
	return inv.Created < now.Add(-ValidityWindow).UnixMilli()
}

// ReuseExpired reports whether the invoice is too old to hand back for a
// repeat request.
func (inv *Invoice) ReuseExpired(now time.Time) bool {
	return inv.Created < now.Add(-ReuseWindow).UnixMilli()
}

// Expiry is the unix-milli timestamp at which reuse ends; reported to the
// client on creation.
func (inv *Invoice) Expiry() int64 {
	return inv.Created + ReuseWindow.Milliseconds()
}

// NewID returns a time-sortable unique identifier in canonical form.
func NewID() string {
	return ulid.Make().String()
}

// IsValidID reports whether s is a canonical time-sortable identifier.
// Session and invoice ids arriving in query parameters are checked with this
// before touching the filesystem.
func IsValidID(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
