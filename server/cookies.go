package server

import (
	"net/http"
	"strings"
	"time"

	apperrors "github.com/strandhq/agentgate/internal/errors"
)

// The session cookie value is "<tenantID>:<sessionID>". The tenant prefix
// lets the authorizer do a single partition-keyed lookup; both halves are
// opaque identifiers, never tokens, and both are re-verified against the
// stored session on every request.

func (s *Server) newSessionCookie(tenantID, sessionID string, expiresAt time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     s.config.Session.CookieName,
		Value:    tenantID + ":" + sessionID,
		Path:     "/",
		MaxAge:   int(time.Until(expiresAt).Seconds()),
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}

func (s *Server) expiredSessionCookie() *http.Cookie {
	return &http.Cookie{
		Name:     s.config.Session.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}

// sessionFromCookie extracts the tenant and session identifiers from the
// request cookie. A missing or malformed cookie is ErrMissingSession.
func (s *Server) sessionFromCookie(r *http.Request) (tenantID, sessionID string, err error) {
	cookie, err := r.Cookie(s.config.Session.CookieName)
	if err != nil || cookie.Value == "" {
		return "", "", apperrors.ErrMissingSession
	}

	tenantID, sessionID, ok := strings.Cut(cookie.Value, ":")
	if !ok || tenantID == "" || sessionID == "" {
		return "", "", apperrors.ErrMissingSession
	}
	return tenantID, sessionID, nil
}
