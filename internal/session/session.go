package session

import (
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/paywalld/paywalld/internal/invoice"
)

const (
	CookieName = "session"

	// Cookies outlive the longest access grant by an hour so a paid
	// session is never orphaned from its grants.
	cookieLifetime = 7 * time.Hour

	// checkInterval is how often an active session's lock file timestamp
	// is refreshed; directories untouched for much longer than the cookie
	// lifetime are safe to clean.
	checkInterval = 10 * time.Minute
)

// Session identifies one visitor. It travels in a signed cookie; the
// server-side state is the session's directory tree.
type Session struct {
	SessionID  string `json:"sessionId"`
	CreateTime int64  `json:"createTime"`
	CheckTime  int64  `json:"checkTime"`
}

type claims struct {
	Session
	jwt.RegisteredClaims
}

// New mints a session with a fresh time-sortable id. CreateTime stays zero
// until the session first touches server-side state.
func New() *Session {
	return &Session{SessionID: invoice.NewID()}
}

func (s *Session) NeedsCheck(now time.Time) bool {
	return s.CheckTime < now.Add(-checkInterval).UnixMilli()
}

// Manager signs and verifies the session cookie.
type Manager struct {
	secret []byte
}

func NewManager(secret []byte) *Manager {
	return &Manager{secret: secret}
}

// Read extracts the session from the request cookie. A missing, malformed,
// or badly signed cookie reads as an empty session.
func (m *Manager) Read(r *http.Request) *Session {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return &Session{}
	}

	var c claims
	token, err := jwt.ParseWithClaims(cookie.Value, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid || !invoice.IsValidID(c.SessionID) {
		return &Session{}
	}

	return &c.Session
}

// Write re-signs the session into the response cookie.
func (m *Manager) Write(w http.ResponseWriter, s *Session) error {
	expires := time.Now().Add(cookieLifetime)

	c := claims{
		Session: *s,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.secret)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    signed,
		Path:     "/",
		Expires:  expires,
		SameSite: http.SameSiteLaxMode,
		HttpOnly: true,
	})
	return nil
}
