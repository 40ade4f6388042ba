package paywall

import "errors"

// ErrAccessible: the requested path is not priced, pricing is not
// configured, the payment key is unavailable, or the session already holds a
// fresh grant. Reported distinctly so clients stop asking for an invoice.
var ErrAccessible = errors.New("path is accessible without payment")

// ErrExpired: the addressed invoice is past its validity window. Reported
// distinctly from payment failure so a client does not retry payment against
// a dead invoice.
var ErrExpired = errors.New("invoice expired")

// ErrInvalidTransaction: the submitted payment did not parse as a
// transaction. No state changed.
var ErrInvalidTransaction = errors.New("invalid transaction")

// ErrPaymentMismatch: the transaction parsed but does not contain the
// outputs the invoice requires. The draft stays valid for a corrected retry.
var ErrPaymentMismatch = errors.New("missing output")
