package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/paywalld/paywalld/internal/invoice"
)

// Ledger is the durable record of settled invoices and their payable
// outputs. All mutation runs inside a database transaction.
type Ledger struct {
	db *gorm.DB
}

// Open opens (and migrates) the sqlite ledger at dbPath.
func Open(dbPath string) (*Ledger, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %v", err)
		}
	}

	config := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Error),
	}

	db, err := gorm.Open(sqlite.Open(dbPath), config)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %v", err)
	}

	if err := db.AutoMigrate(&InvoiceRow{}, &OutputRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate ledger database: %v", err)
	}

	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AddInvoice inserts the invoice row and, if the invoice already carries a
// confirmed inbound transaction hash, its output row. Inserting a duplicate
// invoice id fails; inserting a duplicate (invTxHash, invTxOutNum) output is
// ignored so the same settlement can be re-delivered safely.
func (l *Ledger) AddInvoice(inv *invoice.Invoice) error {
	data, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("failed to encode invoice %s: %v", inv.ID, err)
	}

	return l.db.Transaction(func(tx *gorm.DB) error {
		row := InvoiceRow{ID: inv.ID, Created: inv.Created, JSONData: string(data)}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to insert invoice %s: %w", inv.ID, err)
		}

		if inv.TxID == "" {
			return nil
		}

		out := OutputRow{
			InvoiceID:     inv.ID,
			InvTxHash:     &inv.TxID,
			InvTxOutNum:   inv.TxOutNum,
			RedeemTxInNum: inv.RedeemTxInNum,
		}
		if inv.RedeemTxHash != "" {
			out.RedeemTxHash = &inv.RedeemTxHash
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&out).Error; err != nil {
			return fmt.Errorf("failed to insert output for invoice %s: %w", inv.ID, err)
		}
		return nil
	})
}

// InvoiceByID loads one invoice from its stored JSON. Returns nil when the
// id is unknown.
func (l *Ledger) InvoiceByID(id string) (*invoice.Invoice, error) {
	var row InvoiceRow
	err := l.db.First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeInvoice(&row)
}

// ListInvoices returns every stored invoice in id (creation) order.
func (l *Ledger) ListInvoices() ([]invoice.Invoice, error) {
	var rows []InvoiceRow
	if err := l.db.Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}

	invoices := make([]invoice.Invoice, 0, len(rows))
	for i := range rows {
		inv, err := decodeInvoice(&rows[i])
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	return invoices, nil
}

// ListOutputs returns every tracked output row ordered by invoice id and
// output index.
func (l *Ledger) ListOutputs() ([]OutputRow, error) {
	var rows []OutputRow
	if err := l.db.Order("invoice_id, inv_tx_out_num").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func decodeInvoice(row *InvoiceRow) (*invoice.Invoice, error) {
	var inv invoice.Invoice
	if err := json.Unmarshal([]byte(row.JSONData), &inv); err != nil {
		return nil, fmt.Errorf("failed to decode invoice %s: %v", row.ID, err)
	}
	return &inv, nil
}

// UnspentOutput is one payable-but-unredeemed output joined with the signing
// material stored on its invoice.
type UnspentOutput struct {
	RowID          uint
	InvoiceID      string
	InvTxHash      string
	InvTxOutNum    uint32
	Amount         int64
	XPub           string
	DerivationPath string
	Script         string
}

// NextUnspentOutput returns the single lowest-rowid unspent output strictly
// after the given cursor, or nil when none remain. Callers page through the
// ledger in stable insertion order by passing the returned RowID back in.
func (l *Ledger) NextUnspentOutput(afterRowID uint) (*UnspentOutput, error) {
	var row OutputRow
	err := l.db.
		Where("redeem_tx_hash IS NULL AND inv_tx_hash IS NOT NULL AND row_id > ?", afterRowID).
		Order("row_id").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	inv, err := l.InvoiceByID(row.InvoiceID)
	if err != nil {
		return nil, err
	}
	if inv == nil || len(inv.Outputs) == 0 {
		return nil, fmt.Errorf("output row %d references invoice %s without outputs", row.RowID, row.InvoiceID)
	}

	out := &UnspentOutput{
		RowID:          row.RowID,
		InvoiceID:      row.InvoiceID,
		Amount:         inv.Subtotal,
		XPub:           inv.Outputs[0].XPub,
		DerivationPath: inv.Outputs[0].DerivationPath,
		Script:         inv.Outputs[0].Script,
	}
	if row.InvTxHash != nil {
		out.InvTxHash = *row.InvTxHash
	}
	if row.InvTxOutNum != nil {
		out.InvTxOutNum = *row.InvTxOutNum
	}
	return out, nil
}

// MarkSpent records the redemption of one output. The output row and the
// parent invoice's stored JSON update in the same transaction; when no output
// row matches, nothing is patched and no error is returned, so re-processing
// the same settlement transaction is harmless.
func (l *Ledger) MarkSpent(invTxHash string, invTxOutNum uint32, redeemTxHash string, redeemTxInNum uint32) error {
	return l.db.Transaction(func(tx *gorm.DB) error {
		var row OutputRow
		err := tx.
			Where("inv_tx_hash = ? AND inv_tx_out_num = ?", invTxHash, invTxOutNum).
			First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		updates := map[string]interface{}{
			"redeem_tx_hash":    redeemTxHash,
			"redeem_tx_in_num":  redeemTxInNum,
		}
		if err := tx.Model(&OutputRow{}).Where("row_id = ?", row.RowID).Updates(updates).Error; err != nil {
			return err
		}

		var invRow InvoiceRow
		if err := tx.First(&invRow, "id = ?", row.InvoiceID).Error; err != nil {
			return err
		}
		inv, err := decodeInvoice(&invRow)
		if err != nil {
			return err
		}
		inv.RedeemTxHash = redeemTxHash
		n := redeemTxInNum
		inv.RedeemTxInNum = &n

		data, err := json.Marshal(inv)
		if err != nil {
			return err
		}
		return tx.Model(&InvoiceRow{}).Where("id = ?", row.InvoiceID).
			Update("json_data", string(data)).Error
	})
}

// Balance summarizes the invoices whose stored redemption hash is still null.
type Balance struct {
	Total int64 `json:"total"`
	Num   int64 `json:"num"`
}

// ShowBalance sums subtotal over unredeemed invoices.
func (l *Ledger) ShowBalance() (Balance, error) {
	var rows []InvoiceRow
	if err := l.db.Find(&rows).Error; err != nil {
		return Balance{}, err
	}

	var bal Balance
	for i := range rows {
		inv, err := decodeInvoice(&rows[i])
		if err != nil {
			return Balance{}, err
		}
		if inv.RedeemTxHash == "" {
			bal.Total += inv.Subtotal
			bal.Num++
		}
	}
	return bal, nil
}
