// Package server wires the paywall's HTTP surface: the BIP270 endpoints,
// the event stream, and the gated static content.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/paywalld/paywalld/internal/logger"
	"github.com/paywalld/paywalld/internal/paywall"
	"github.com/paywalld/paywalld/internal/records"
	"github.com/paywalld/paywalld/internal/session"
	"github.com/paywalld/paywalld/internal/sse"
)

type App struct {
	Env        string
	ListenAddr string
	StaticPath string

	Coordinator *paywall.Coordinator
	Sessions    *session.Manager
	Store       *records.Store
	Hub         *sse.Hub

	httpServer *http.Server
}

func NewApp(env, listenAddr, staticPath string, coordinator *paywall.Coordinator,
	sessions *session.Manager) *App {
	return &App{
		Env:         env,
		ListenAddr:  listenAddr,
		StaticPath:  staticPath,
		Coordinator: coordinator,
		Sessions:    sessions,
		Store:       coordinator.Store,
		Hub:         coordinator.Hub,
	}
}

// Routes builds the full handler tree.
func (a *App) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/.status", ApplyMiddleware(a.handleStatus,
		ErrorMiddleware))

	mux.HandleFunc("/.hassession", ApplyMiddleware(a.handleHasSession,
		a.withSession, ErrorMiddleware, LoggingMiddleware))

	mux.HandleFunc("/.bip270/new-invoice", ApplyMiddleware(a.handleNewInvoice,
		a.checkSession, a.withSession, ErrorMiddleware, LoggingMiddleware))

	mux.HandleFunc("/.bip270/payment-request", ApplyMiddleware(a.handlePaymentRequest,
		allowCORS, ErrorMiddleware, LoggingMiddleware))

	mux.HandleFunc("/.bip270/pay-invoice", ApplyMiddleware(a.handlePayInvoice,
		allowCORS, ErrorMiddleware, LoggingMiddleware))

	mux.HandleFunc("/.bip270/invoice-sse", ApplyMiddleware(a.handleInvoiceSSE,
		a.checkSession, a.withSession, ErrorMiddleware))

	mux.HandleFunc("/.bip270/devpay-invoice", ApplyMiddleware(a.handleDevPayInvoice,
		a.checkSession, a.withSession, ErrorMiddleware, LoggingMiddleware))

	mux.HandleFunc("/", ApplyMiddleware(a.handleContent,
		a.checkSession, a.withSession, ErrorMiddleware, LoggingMiddleware))

	return mux
}

// Start serves until the listener fails or Stop is called.
func (a *App) Start() error {
	a.httpServer = &http.Server{
		Addr:              a.ListenAddr,
		Handler:           a.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Infof("listening on %s", a.ListenAddr)
	err := a.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop drains in-flight requests and shuts down the event streams.
func (a *App) Stop(ctx context.Context) error {
	a.Hub.Close()
	if a.httpServer == nil {
		return nil
	}
	return a.httpServer.Shutdown(ctx)
}
