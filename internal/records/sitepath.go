package records

import (
	"encoding/base64"
	"os"
	"path/filepath"
)

// SitePath resolves every filesystem location the paywall uses: served
// content, per-session invoice and access-grant records, and the settled
// payment area.
type SitePath struct {
	DataPath     string
	TempPath     string
	ContentPath  string
	SessionsPath string
	PaymentsPath string
}

func NewSitePath(dataPath, contentPath string) *SitePath {
	return &SitePath{
		DataPath:     dataPath,
		TempPath:     filepath.Join(dataPath, "temp"),
		ContentPath:  contentPath,
		SessionsPath: filepath.Join(dataPath, "sessions"),
		PaymentsPath: filepath.Join(dataPath, "payments"),
	}
}

// FilePath resolves a name inside the served content directory.
func (p *SitePath) FilePath(name string) string {
	return filepath.Join(p.ContentPath, name)
}

func (p *SitePath) SessionPath(sessionID string, sub ...string) string {
	parts := append([]string{p.SessionsPath, sessionID}, sub...)
	return filepath.Join(parts...)
}

// SessionAccessPath is the grant file for one matched pattern; the pattern is
// base64url-encoded so any path can be a file name.
func (p *SitePath) SessionAccessPath(sessionID, urlPath string) string {
	seg := ""
	if urlPath != "" {
		seg = base64.RawURLEncoding.EncodeToString([]byte(urlPath))
	}
	return p.SessionPath(sessionID, "access", seg)
}

func (p *SitePath) SessionInvoicePath(sessionID, name string) string {
	return p.SessionPath(sessionID, "invoices", name)
}

// PaymentPath is where a settled invoice file lands after the atomic rename
// out of the session's pending area.
func (p *SitePath) PaymentPath(invoiceID string) string {
	return filepath.Join(p.PaymentsPath, invoiceID)
}

func (p *SitePath) EnsureDirs() error {
	for _, dir := range []string{p.DataPath, p.TempPath, p.SessionsPath, p.PaymentsPath, p.ContentPath} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

func (p *SitePath) EnsureSessionDirs(sessionID string) error {
	if err := os.MkdirAll(p.SessionAccessPath(sessionID, ""), 0755); err != nil {
		return err
	}
	return os.MkdirAll(p.SessionPath(sessionID, "invoices"), 0755)
}
