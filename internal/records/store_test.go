package records

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/paywalld/paywalld/internal/invoice"
	"github.com/paywalld/paywalld/internal/pricing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	paths := NewSitePath(dir+"/data", dir+"/content")
	if err := paths.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}
	return NewStore(paths)
}

func TestInvoiceRoundTrip(t *testing.T) {
	s := newTestStore(t)
	sessionID := invoice.NewID()
	if err := s.Paths.EnsureSessionDirs(sessionID); err != nil {
		t.Fatalf("EnsureSessionDirs: %v", err)
	}

	inv := invoice.New("example.com", "/images/", pricing.PriceInfo{Pattern: "/images", Amount: 5000})
	inv.AddOutput(invoice.Output{Amount: 5000, XPub: "xpub", DerivationPath: "m/0/0/1", Script: "76a9"})

	if err := s.WriteInvoice(sessionID, inv); err != nil {
		t.Fatalf("WriteInvoice: %v", err)
	}

	got, err := s.ReadInvoice(sessionID, inv.ID)
	if err != nil {
		t.Fatalf("ReadInvoice: %v", err)
	}
	if got.ID != inv.ID || got.Subtotal != 5000 || got.URLPath != "/images/" {
		t.Errorf("round trip mismatch: %+v", got)
	}

	if _, err := s.ReadInvoice(sessionID, invoice.NewID()); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing invoice: got %v, want ErrNotFound", err)
	}
}

func TestSettleInvoice_MovesRecord(t *testing.T) {
	s := newTestStore(t)
	sessionID := invoice.NewID()
	if err := s.Paths.EnsureSessionDirs(sessionID); err != nil {
		t.Fatalf("EnsureSessionDirs: %v", err)
	}

	inv := invoice.New("example.com", "/images/", pricing.PriceInfo{Pattern: "/images", Amount: 5000})
	if err := s.WriteInvoice(sessionID, inv); err != nil {
		t.Fatalf("WriteInvoice: %v", err)
	}

	inv.PaidAt = time.Now().UnixMilli()
	if err := s.SettleInvoice(sessionID, inv); err != nil {
		t.Fatalf("SettleInvoice: %v", err)
	}

	if _, err := os.Stat(s.Paths.SessionInvoicePath(sessionID, inv.ID)); !os.IsNotExist(err) {
		t.Error("pending record still present after settle")
	}
	got, err := s.ReadSettledInvoice(inv.ID)
	if err != nil {
		t.Fatalf("ReadSettledInvoice: %v", err)
	}
	if got.PaidAt == 0 {
		t.Error("settled record lost paidAt")
	}
	if _, err := s.ReadInvoice(sessionID, inv.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("pending read after settle: got %v, want ErrNotFound", err)
	}
}

func TestCurrentInvoices_MissingOrCorruptReadsEmpty(t *testing.T) {
	s := newTestStore(t)
	sessionID := invoice.NewID()
	if err := s.Paths.EnsureSessionDirs(sessionID); err != nil {
		t.Fatalf("EnsureSessionDirs: %v", err)
	}

	if got := s.CurrentInvoices(sessionID); len(got) != 0 {
		t.Errorf("missing pointer file: got %v, want empty", got)
	}

	path := s.Paths.SessionInvoicePath(sessionID, CurrentFileName)
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("write corrupt pointer: %v", err)
	}
	if got := s.CurrentInvoices(sessionID); len(got) != 0 {
		t.Errorf("corrupt pointer file: got %v, want empty", got)
	}

	want := map[string]string{"/images/": invoice.NewID()}
	if err := s.WriteCurrentInvoices(sessionID, want); err != nil {
		t.Fatalf("WriteCurrentInvoices: %v", err)
	}
	got := s.CurrentInvoices(sessionID)
	if got["/images/"] != want["/images/"] {
		t.Errorf("pointer round trip: got %v, want %v", got, want)
	}
}

func TestAccessGrants(t *testing.T) {
	s := newTestStore(t)
	sessionID := invoice.NewID()
	if err := s.Paths.EnsureSessionDirs(sessionID); err != nil {
		t.Fatalf("EnsureSessionDirs: %v", err)
	}
	now := time.Now()

	if s.CheckAccess(sessionID, "/images/", now) {
		t.Error("access granted with no grant file")
	}

	if err := s.WriteAccessGrant(sessionID, "/images/", now.Add(invoice.GrantDuration)); err != nil {
		t.Fatalf("WriteAccessGrant: %v", err)
	}
	if !s.CheckAccess(sessionID, "/images/", now) {
		t.Error("fresh grant not honored")
	}
	if s.CheckAccess(sessionID, "/other/", now) {
		t.Error("grant leaked to another pattern")
	}
	if s.CheckAccess(sessionID, "/images/", now.Add(invoice.GrantDuration+time.Minute)) {
		t.Error("expired grant honored")
	}

	// A second store over the same directory sees the grant via the file.
	s2 := NewStore(s.Paths)
	if !s2.CheckAccess(sessionID, "/images/", now) {
		t.Error("grant not readable from file by fresh store")
	}
}
