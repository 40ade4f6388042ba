package records

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/paywalld/paywalld/internal/invoice"
)

// ErrNotFound covers every way an invoice record can be unreadable: missing
// file, deleted between read and write, or unparseable contents. Filesystem
// races are never reported as corruption.
var ErrNotFound = errors.New("invoice record not found")

// CurrentFileName is the per-session pointer file mapping each matched price
// pattern to its most recent draft invoice id.
const CurrentFileName = "current.json"

// Store owns the per-session invoice record files and access grants. Callers
// mutate records only while holding the session's lock.
type Store struct {
	Paths *SitePath

	mu          sync.Mutex
	accessCache map[string]int64
}

func NewStore(paths *SitePath) *Store {
	return &Store{
		Paths:       paths,
		accessCache: make(map[string]int64),
	}
}

// ReadInvoice loads one pending invoice record for a session.
func (s *Store) ReadInvoice(sessionID, invoiceID string) (*invoice.Invoice, error) {
	return readInvoiceFile(s.Paths.SessionInvoicePath(sessionID, invoiceID))
}

// ReadSettledInvoice loads a settled invoice from the payments area.
func (s *Store) ReadSettledInvoice(invoiceID string) (*invoice.Invoice, error) {
	return readInvoiceFile(s.Paths.PaymentPath(invoiceID))
}

func readInvoiceFile(path string) (*invoice.Invoice, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ErrNotFound
	}
	var inv invoice.Invoice
	if err := json.Unmarshal(data, &inv); err != nil {
		return nil, ErrNotFound
	}
	return &inv, nil
}

// WriteInvoice persists a pending invoice record.
func (s *Store) WriteInvoice(sessionID string, inv *invoice.Invoice) error {
	data, err := json.MarshalIndent(inv, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode invoice %s: %v", inv.ID, err)
	}
	return os.WriteFile(s.Paths.SessionInvoicePath(sessionID, inv.ID), data, 0644)
}

// CurrentInvoices reads the session's pattern -> invoice id pointer map. A
// missing or corrupt file reads as empty.
func (s *Store) CurrentInvoices(sessionID string) map[string]string {
	current := make(map[string]string)
	data, err := os.ReadFile(s.Paths.SessionInvoicePath(sessionID, CurrentFileName))
	if err != nil {
		return current
	}
	if err := json.Unmarshal(data, &current); err != nil {
		return make(map[string]string)
	}
	return current
}

func (s *Store) WriteCurrentInvoices(sessionID string, current map[string]string) error {
	data, err := json.Marshal(current)
	if err != nil {
		return err
	}
	return os.WriteFile(s.Paths.SessionInvoicePath(sessionID, CurrentFileName), data, 0644)
}

// SettleInvoice persists the paid invoice and atomically relocates it from
// the session's pending area to the settled payments area.
func (s *Store) SettleInvoice(sessionID string, inv *invoice.Invoice) error {
	if err := s.WriteInvoice(sessionID, inv); err != nil {
		return err
	}
	return os.Rename(
		s.Paths.SessionInvoicePath(sessionID, inv.ID),
		s.Paths.PaymentPath(inv.ID),
	)
}

// WriteAccessGrant records that the session may fetch the matched pattern
// until expiry. The file content is the unix-milli expiry timestamp.
func (s *Store) WriteAccessGrant(sessionID, urlPath string, expiry time.Time) error {
	path := s.Paths.SessionAccessPath(sessionID, urlPath)
	if err := os.WriteFile(path, []byte(strconv.FormatInt(expiry.UnixMilli(), 10)), 0644); err != nil {
		return err
	}

	s.mu.Lock()
	s.accessCache[sessionID+"/"+urlPath] = expiry.UnixMilli()
	s.mu.Unlock()
	return nil
}

// CheckAccess reports whether the session holds a fresh grant for the
// matched pattern. Grant expiries are cached in memory; a stale or missing
// cache entry falls back to the grant file.
func (s *Store) CheckAccess(sessionID, urlPath string, now time.Time) bool {
	key := sessionID + "/" + urlPath

	s.mu.Lock()
	expiry, ok := s.accessCache[key]
	s.mu.Unlock()

	if !ok || expiry < now.UnixMilli() {
		data, err := os.ReadFile(s.Paths.SessionAccessPath(sessionID, urlPath))
		if err != nil {
			return false
		}
		expiry, err = strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return false
		}
		s.mu.Lock()
		s.accessCache[key] = expiry
		s.mu.Unlock()
	}

	return expiry > now.UnixMilli()
}
