package server

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// neverServed are operational files that live beside the content but must
// not be fetchable.
var neverServed = map[string]bool{
	"/pricelist.json": true,
	"/xpub.txt":       true,
}

// handleContent serves the static site behind the grant gate. Directory
// requests resolve to default.html; a directory reached without a trailing
// slash redirects so relative links resolve. Priced paths answer 402 with
// the payment page until the session holds a fresh grant.
func (a *App) handleContent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Invalid request method", http.StatusMethodNotAllowed)
		return
	}

	urlPath := r.URL.Path
	if neverServed[urlPath] {
		http.Error(w, "404 - Page Not Found", http.StatusNotFound)
		return
	}

	filePath, ok := a.mapURLPath(urlPath)
	if !ok {
		if _, retry := a.mapURLPath(urlPath + "/"); retry {
			http.Redirect(w, r, urlPath+"/", http.StatusFound)
			return
		}
		http.Error(w, "404 Page Not Found", http.StatusNotFound)
		return
	}

	s := sessionFrom(r)
	if need, _ := a.Coordinator.RequiresPayment(s.SessionID, urlPath, time.Now()); need {
		w.Header().Set("Content-Disposition", "inline; filename=402.html")
		a.serveStatic(w, r, "402.html", http.StatusPaymentRequired)
		return
	}

	w.Header().Set("Content-Disposition", "inline; filename="+filepath.Base(filePath))
	http.ServeFile(w, r, filePath)
}

// mapURLPath resolves a request path to a file under the content root.
// Returns false for traversal attempts, missing files, and directories
// requested without a trailing slash.
func (a *App) mapURLPath(urlPath string) (string, bool) {
	cleaned := path.Clean("/" + urlPath)
	filePath := filepath.Join(a.Store.Paths.ContentPath, filepath.FromSlash(cleaned))

	info, err := os.Stat(filePath)
	if err != nil {
		return "", false
	}

	if info.IsDir() {
		if !strings.HasSuffix(urlPath, "/") {
			return "", false
		}
		filePath = filepath.Join(filePath, "default.html")
		info, err = os.Stat(filePath)
		if err != nil || info.IsDir() {
			return "", false
		}
	}

	return filePath, true
}

// serveStatic sends one of the paywall's own pages (402.html,
// nocookie.html) with the given status, falling back to plain text when the
// static directory does not carry the page.
func (a *App) serveStatic(w http.ResponseWriter, r *http.Request, name string, status int) {
	data, err := os.ReadFile(filepath.Join(a.StaticPath, name))
	if err != nil {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		w.Write([]byte(http.StatusText(status)))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}
