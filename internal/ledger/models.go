package ledger

// InvoiceRow stores one settled invoice: indexed id/created columns plus the
// full invoice JSON.
type InvoiceRow struct {
	ID       string `gorm:"primaryKey"`
	Created  int64  `gorm:"index"`
	JSONData string
}

func (InvoiceRow) TableName() string { return "invoices" }

// OutputRow tracks one payable output through its lifecycle. The composite
// unique index on (inv_tx_hash, inv_tx_out_num) is the sole guard against
// crediting the same payment output twice. An output is unspent while
// RedeemTxHash is null and InvTxHash is not.
type OutputRow struct {
	RowID         uint    `gorm:"primaryKey;autoIncrement"`
	InvoiceID     string  `gorm:"index"`
	InvTxHash     *string `gorm:"uniqueIndex:idx_inv_txout"`
	InvTxOutNum   *uint32 `gorm:"uniqueIndex:idx_inv_txout"`
	RedeemTxHash  *string `gorm:"index"`
	RedeemTxInNum *uint32
}

func (OutputRow) TableName() string { return "invoice_outputs" }
