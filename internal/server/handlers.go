package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/paywalld/paywalld/internal/broadcast"
	"github.com/paywalld/paywalld/internal/invoice"
	"github.com/paywalld/paywalld/internal/logger"
	"github.com/paywalld/paywalld/internal/paywall"
	"github.com/paywalld/paywalld/internal/records"
	"github.com/paywalld/paywalld/internal/sse"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Errorf("failed to encode response: %v", err)
	}
}

func (a *App) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// handleHasSession tells the nocookie page whether the cookie round trip
// worked. "0" with a cookie disabled in the browser, "1" otherwise.
func (a *App) handleHasSession(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r)
	w.WriteHeader(http.StatusOK)
	if s.SessionID == "" {
		w.Write([]byte("0"))
	} else {
		w.Write([]byte("1"))
	}
}

type newInvoiceResponse struct {
	ID       string `json:"id"`
	URLPath  string `json:"urlPath"`
	Subtotal int64  `json:"subtotal"`
	DataURL  string `json:"dataURL"`
	Expiry   int64  `json:"expiry"`
}

func (a *App) handleNewInvoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Invalid request method", http.StatusMethodNotAllowed)
		return
	}
	s := sessionFrom(r)

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	urlPath := r.PostFormValue("urlPath")
	if urlPath == "" {
		http.Error(w, "urlPath is required", http.StatusBadRequest)
		return
	}

	inv, err := a.Coordinator.CreateInvoice(s.SessionID, urlPath)
	if errors.Is(err, paywall.ErrAccessible) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "ACCESSIBLE"})
		return
	}
	if err != nil {
		logger.Errorf("failed to create invoice: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	requestURL := fmt.Sprintf("https://%s/.bip270/payment-request?invoiceId=%s&sessionId=%s",
		a.Coordinator.Domain, inv.ID, s.SessionID)

	writeJSON(w, http.StatusOK, newInvoiceResponse{
		ID:       inv.ID,
		URLPath:  inv.URLPath,
		Subtotal: inv.Subtotal,
		DataURL:  "bitcoin:?sv&r=" + url.QueryEscape(requestURL),
		Expiry:   inv.Expiry(),
	})
}

func (a *App) handlePaymentRequest(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	sessionID := query.Get("sessionId")
	invoiceID := query.Get("invoiceId")

	if !invoice.IsValidID(sessionID) || !invoice.IsValidID(invoiceID) {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	doc, err := a.Coordinator.PaymentRequest(sessionID, invoiceID)
	if errors.Is(err, records.ErrNotFound) || errors.Is(err, paywall.ErrExpired) {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Errorf("failed to build payment request: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

type payInvoiceRequest struct {
	Transaction string `json:"transaction"`
}

// payInvoiceResponse mirrors the BIP270 Payment/PaymentACK exchange with a
// numeric error for programmatic retry decisions: 0 paid, 1 output mismatch,
// 2 broadcast transport failure, 3 unparseable provider response, 4 provider
// rejection.
type payInvoiceResponse struct {
	Payment payInvoiceRequest `json:"payment"`
	Memo    string            `json:"memo"`
	Error   int               `json:"error"`
}

func (a *App) handlePayInvoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Invalid request method", http.StatusMethodNotAllowed)
		return
	}
	query := r.URL.Query()
	sessionID := query.Get("sessionId")
	invoiceID := query.Get("invoiceId")

	if !invoice.IsValidID(sessionID) || !invoice.IsValidID(invoiceID) {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	var payment payInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&payment); err != nil || payment.Transaction == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	_, err := a.Coordinator.PayInvoice(sessionID, invoiceID, payment.Transaction)
	if err == nil {
		writeJSON(w, http.StatusOK, payInvoiceResponse{Payment: payment, Memo: "Access Granted", Error: 0})
		return
	}

	switch {
	case errors.Is(err, records.ErrNotFound), errors.Is(err, paywall.ErrExpired):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, paywall.ErrInvalidTransaction):
		http.Error(w, "Bad request", http.StatusBadRequest)
	case errors.Is(err, paywall.ErrPaymentMismatch):
		writeJSON(w, http.StatusOK, payInvoiceResponse{Payment: payment, Memo: "missing output", Error: 1})
	default:
		var bErr *broadcast.Error
		if errors.As(err, &bErr) {
			switch bErr.Kind {
			case broadcast.KindTransport:
				writeJSON(w, http.StatusOK, payInvoiceResponse{Payment: payment, Memo: "broadcast failed", Error: 2})
			case broadcast.KindBadResponse:
				writeJSON(w, http.StatusOK, payInvoiceResponse{Payment: payment, Memo: "error parsing mapi response", Error: 3})
			default:
				writeJSON(w, http.StatusOK, payInvoiceResponse{Payment: payment, Memo: bErr.Description, Error: 4})
			}
			return
		}
		logger.Errorf("failed to settle payment for %s: %v", invoiceID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// handleInvoiceSSE streams READY and then a one-shot PAID for the session's
// invoice. Some mobile wallets background the browser during payment and the
// stream reconnects afterwards, so an already paid invoice fires PAID
// immediately instead of 404ing the reconnect.
func (a *App) handleInvoiceSSE(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r)
	invoiceID := r.URL.Query().Get("invoiceId")

	if !invoice.IsValidID(invoiceID) {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	inv, err := a.Store.ReadInvoice(s.SessionID, invoiceID)
	if err != nil {
		// Settled invoices move to the payments area; a reconnect still
		// deserves its PAID event.
		inv, err = a.Store.ReadSettledInvoice(invoiceID)
	}
	if err != nil || (!inv.Paid() && inv.Expired(time.Now())) {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	key := sse.Key(s.SessionID, invoiceID)
	target := sse.NewTarget()
	defer target.Close()

	a.Hub.AddTarget(key, target)

	if inv.Paid() {
		a.Hub.OnPayment(key)
	}

	// The stream lives for the rest of the invoice's payable window, which
	// runs from creation, not from this (possibly re-)connection.
	remaining := time.Until(time.UnixMilli(inv.Created).Add(invoice.ValidityWindow))
	if remaining < time.Second {
		remaining = time.Second
	}
	deadline := time.NewTimer(remaining)
	defer deadline.Stop()

	for {
		select {
		case msg := <-target.Messages():
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		case <-target.Done():
			// Drain anything queued before the close won the race.
			for {
				select {
				case msg := <-target.Messages():
					fmt.Fprintf(w, "data: %s\n\n", msg)
					flusher.Flush()
				default:
					return
				}
			}
		case <-r.Context().Done():
			return
		case <-deadline.C:
			return
		}
	}
}

func (a *App) handleDevPayInvoice(w http.ResponseWriter, r *http.Request) {
	if a.Env != "development" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	s := sessionFrom(r)
	invoiceID := r.URL.Query().Get("invoiceId")

	if !invoice.IsValidID(invoiceID) {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if _, err := a.Coordinator.DevPayInvoice(s.SessionID, invoiceID); err != nil {
		if errors.Is(err, records.ErrNotFound) {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		logger.Errorf("devpay failed for %s: %v", invoiceID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{})
}
