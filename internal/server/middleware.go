package server

import (
	"context"
	"net/http"
	"time"

	"github.com/paywalld/paywalld/internal/logger"
	"github.com/paywalld/paywalld/internal/session"
)

type contextKey string

const sessionContextKey = contextKey("session")

// sessionFrom returns the request's session. Handlers behind withSession
// always get a non-nil session; it may be empty.
func sessionFrom(r *http.Request) *session.Session {
	if s, ok := r.Context().Value(sessionContextKey).(*session.Session); ok {
		return s
	}
	return &session.Session{}
}

// withSession parses the signed session cookie into the request context.
func (a *App) withSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := a.Sessions.Read(r)
		ctx := context.WithValue(r.Context(), sessionContextKey, s)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// checkSession ensures the request carries a live session. A visitor with no
// cookie gets a fresh one plus the nocookie page, which re-checks via
// /.hassession. First touch creates the session's directories; after that
// the cookie is refreshed at most every check interval.
func (a *App) checkSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := sessionFrom(r)
		now := time.Now()

		if s.SessionID == "" {
			fresh := session.New()
			if err := a.Sessions.Write(w, fresh); err != nil {
				logger.Errorf("failed to write session cookie: %v", err)
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}
			a.serveStatic(w, r, "nocookie.html", http.StatusOK)
			return
		}

		if s.CreateTime == 0 {
			s.CreateTime = now.UnixMilli()
			s.CheckTime = now.UnixMilli()
			if err := a.Store.Paths.EnsureSessionDirs(s.SessionID); err != nil {
				logger.Errorf("failed to create session dirs for %s: %v", s.SessionID, err)
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}
			a.Sessions.Write(w, s)
		} else if s.NeedsCheck(now) {
			s.CheckTime = now.UnixMilli()
			a.Sessions.Write(w, s)
		}

		next.ServeHTTP(w, r)
	}
}

// allowCORS opens an endpoint to wallet applications on any origin.
func allowCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "OPTIONS, POST, GET")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	}
}

// LoggingMiddleware logs information about each request
func LoggingMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		next.ServeHTTP(w, r)

		logger.Infof("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	}
}

// ErrorMiddleware wraps the handler and catches any panics, returning them as 500 errors
func ErrorMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorf("panic serving %s: %v", r.URL.Path, err)
				http.Error(w, "Internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	}
}

// ApplyMiddleware applies a list of middleware to a handler
func ApplyMiddleware(h http.HandlerFunc, middleware ...func(http.HandlerFunc) http.HandlerFunc) http.HandlerFunc {
	for _, m := range middleware {
		h = m(h)
	}
	return h
}
