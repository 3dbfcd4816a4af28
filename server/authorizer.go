package server

import (
	"context"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apperrors "github.com/strandhq/agentgate/internal/errors"
	"github.com/strandhq/agentgate/sessionstore"
)

// authorize gates every protected route. It validates the session cookie
// against stored session state, cross-checks every tenant identifier the
// request carries, and produces the trusted Identity for downstream use.
// Fail closed: any ambiguity is a denial.
func (s *Server) authorize(r *http.Request) (Identity, error) {
	cookieTenantID, sessionID, err := s.sessionFromCookie(r)
	if err != nil {
		return Identity{}, err
	}

	appID := s.config.Server.AppID
	ctx, cancel := context.WithTimeout(r.Context(), s.config.Session.StoreTimeoutDuration())
	defer cancel()

	session, err := s.sessions.Get(ctx, appID, cookieTenantID, sessionID)
	if err != nil {
		if apperrors.Is(err, sessionstore.ErrNotFound) {
			return Identity{}, apperrors.ErrSessionNotFound
		}
		return Identity{}, apperrors.Wrapf(err, "session lookup failed")
	}

	// The store's TTL is hygiene only; the expiry check here is the gate.
	if !session.ExpiresAt.After(time.Now()) {
		_ = s.sessions.Delete(ctx, appID, cookieTenantID, sessionID)
		return Identity{}, apperrors.ErrSessionExpired
	}

	// Client-supplied tenant/app identifiers are untrusted. Any that appear
	// must match the session's scope exactly.
	if err := checkScope(r, session); err != nil {
		return Identity{}, err
	}

	// The id_token's tenant claim was verified at session creation; it must
	// still agree with the session's scope.
	if claimTenant := tenantClaimOf(session.IDToken, s.config.OIDC.TenantClaim); claimTenant != "" && claimTenant != session.TenantID {
		return Identity{}, apperrors.ErrTenantScopeMismatch
	}

	// Reactive refresh: an expired access token on a live session triggers
	// one refresh attempt. A refresh failure invalidates the session rather
	// than continuing with a stale token. The refresh runs off the request
	// context so the exchange gets its full timeout, not the store's.
	if !session.TokenExpiry.IsZero() && !session.TokenExpiry.After(time.Now()) {
		if err := s.refreshSessionTokens(r.Context(), &session); err != nil {
			_ = s.sessions.Delete(ctx, appID, cookieTenantID, sessionID)
			return Identity{}, apperrors.ErrSessionExpired
		}
	}

	return Identity{
		AppID:            session.AppID,
		TenantID:         session.TenantID,
		SessionID:        session.SessionID,
		RuntimeSessionID: session.TenantID + "-" + uuid.NewString(),
		Subject:          session.Subject,
		Email:            session.Email,
	}, nil
}

func checkScope(r *http.Request, session sessionstore.Session) error {
	if h := r.Header.Get(HeaderTenantID); h != "" && h != session.TenantID {
		return apperrors.ErrTenantScopeMismatch
	}
	if h := r.Header.Get(HeaderAppID); h != "" && h != session.AppID {
		return apperrors.ErrTenantScopeMismatch
	}
	if pv := r.PathValue("tenantId"); pv != "" && pv != session.TenantID {
		return apperrors.ErrTenantScopeMismatch
	}
	return nil
}

// tenantClaimOf reads the tenant claim from a stored id_token. The token's
// signature was verified when the session was created, so an unverified
// parse is sufficient for the consistency check.
func tenantClaimOf(rawIDToken, claimName string) string {
	if rawIDToken == "" {
		return ""
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(rawIDToken, claims); err != nil {
		return ""
	}
	value, _ := claims[claimName].(string)
	return value
}

func (s *Server) refreshSessionTokens(ctx context.Context, session *sessionstore.Session) error {
	if session.RefreshToken == "" {
		return apperrors.ErrSessionExpired
	}

	refreshCtx, cancel := context.WithTimeout(ctx, s.config.OIDC.ExchangeTimeoutDuration())
	defer cancel()

	ts, err := s.idp.Refresh(refreshCtx, session.RefreshToken)
	if err != nil {
		log.Warn().
			Str("session_id", session.SessionID).
			Str("tenant_id", session.TenantID).
			Err(err).
			Msg("Token refresh failed, invalidating session")
		return err
	}

	refreshToken := session.RefreshToken
	if ts.RefreshToken != "" {
		refreshToken = ts.RefreshToken
	}

	// Identity scope is never touched on refresh.
	storeCtx, cancelStore := context.WithTimeout(ctx, s.config.Session.StoreTimeoutDuration())
	defer cancelStore()
	if err := s.sessions.UpdateTokens(storeCtx, session.AppID, session.TenantID, session.SessionID, ts.AccessToken, refreshToken, ts.Expiry); err != nil {
		return err
	}

	session.AccessToken = ts.AccessToken
	session.RefreshToken = refreshToken
	session.TokenExpiry = ts.Expiry
	return nil
}

// RequireSession is the middleware form of the authorizer for protected API
// routes. Denial reasons are logged server-side; clients get a generic body
// with a correlation id.
func (s *Server) RequireSession() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			identity, err := s.authorize(r)
			if err != nil {
				correlationID := uuid.NewString()
				status := http.StatusUnauthorized
				if apperrors.Is(err, apperrors.ErrTenantScopeMismatch) {
					status = http.StatusForbidden
				}
				log.Warn().
					Str("correlation_id", correlationID).
					Str("path", r.URL.Path).
					Str("source_ip", sourceIP(r)).
					Err(err).
					Msg("Request denied")
				writeErrorWithCorrelation(w, status, "unauthorized", correlationID)
				return
			}

			next(w, WithIdentity(r, identity))
		}
	}
}
