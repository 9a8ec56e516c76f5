package web

import (
	"fmt"
	"net/http"
	"time"

	"github.com/justestif/go-shorts-feed/internal/domain"
)

const (
	sessionCookieName = "shorts_session"
	sessionCookieTTL  = 24 * time.Hour
)

// setSessionCookie remembers the feed session id so browser clients may omit it from
// heartbeat and logout bodies.
func setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sessionID,
		Path:     APIPrefix,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(sessionCookieTTL.Seconds()),
	})
}

// clearSessionCookie removes the session cookie from the response.
func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     APIPrefix,
		HttpOnly: true,
		MaxAge:   -1,
	})
}

// sessionIDFrom prefers the id in the body and falls back to the cookie.
func sessionIDFrom(r *http.Request, fromBody string) (string, error) {
	if fromBody != "" {
		return fromBody, nil
	}
	if c, err := r.Cookie(sessionCookieName); err == nil && c.Value != "" {
		return c.Value, nil
	}
	return "", fmt.Errorf("session id: %w", domain.ErrInvalidArgument)
}
