package server

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/strandhq/agentgate/audit"
	"github.com/strandhq/agentgate/idp"
	apperrors "github.com/strandhq/agentgate/internal/errors"
	"github.com/strandhq/agentgate/sessionstore"
	"github.com/strandhq/agentgate/tenants"
)

// LoginHandler starts one login attempt: it stashes state, nonce and the
// PKCE verifier server-side and redirects to the identity provider.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.loginLimiter.allow(sourceIP(r)) {
			writeError(w, http.StatusTooManyRequests, "too many login attempts")
			return
		}

		flow := sessionstore.FlowState{
			State:        uuid.NewString(),
			Nonce:        uuid.NewString(),
			CodeVerifier: idp.GenerateVerifier(),
			ReturnURL:    safeReturnURL(r.URL.Query().Get("return_to")),
			CreatedAt:    time.Now(),
			ExpiresAt:    time.Now().Add(s.config.Session.FlowTTL()),
		}

		ctx, cancel := context.WithTimeout(r.Context(), s.config.Session.StoreTimeoutDuration())
		defer cancel()

		if err := s.sessions.PutFlowState(ctx, flow); err != nil {
			log.Err(err).Msg("Failed to stash login flow state")
			s.redirectAuthError(w, r)
			return
		}

		http.Redirect(w, r, s.idp.AuthorizationURL(flow.State, flow.Nonce, flow.CodeVerifier), http.StatusFound)
	}
}

// CallbackHandler completes the login: state check, code exchange, claim
// extraction from the verified id_token, idempotent tenant onboarding,
// session creation, cookie issue. Every failure path gives the browser the
// same generic error redirect; detail goes to the server log only.
func (s *Server) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// r.FormValue supports both GET (query params) and POST (form_post
		// response mode).
		state := r.FormValue("state")
		code := r.FormValue("code")

		if errorParam := r.FormValue("error"); errorParam != "" {
			log.Warn().
				Str("error", errorParam).
				Str("error_description", r.FormValue("error_description")).
				Msg("Identity provider returned an authorization error")
			s.redirectAuthError(w, r)
			return
		}

		if code == "" || state == "" {
			log.Warn().Msg("Callback missing code or state parameter")
			s.redirectAuthError(w, r)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), s.config.Session.StoreTimeoutDuration())
		defer cancel()

		// Single-use: taking the stash deletes it, so a replayed state fails.
		flow, err := s.sessions.TakeFlowState(ctx, state)
		if err != nil {
			log.Warn().Err(apperrors.ErrInvalidState).Msg("Callback state does not match any stashed login attempt")
			s.redirectAuthError(w, r)
			return
		}

		exchangeCtx, cancelExchange := context.WithTimeout(r.Context(), s.config.OIDC.ExchangeTimeoutDuration())
		defer cancelExchange()

		ts, err := s.idp.Exchange(exchangeCtx, code, flow.CodeVerifier)
		if err != nil {
			log.Err(err).Msg("Token exchange failed")
			s.redirectAuthError(w, r)
			return
		}

		// Validate nonce to prevent replay attacks.
		if ts.Claims.Nonce != flow.Nonce {
			log.Warn().Msg("Callback id_token nonce mismatch")
			s.redirectAuthError(w, r)
			return
		}

		appID := s.config.Server.AppID
		tenantID := ts.Claims.TenantID

		tenant, _, err := s.onboardTenant(ctx, appID, tenantID)
		if err != nil {
			log.Err(err).Str("tenant_id", tenantID).Msg("Tenant onboarding failed")
			s.redirectAuthError(w, r)
			return
		}
		if tenant.Suspended() {
			log.Warn().Str("tenant_id", tenantID).Msg("Login denied for suspended tenant")
			s.redirectAuthError(w, r)
			return
		}

		session := sessionstore.Session{
			SessionID:    uuid.NewString(),
			AppID:        appID,
			TenantID:     tenantID,
			Subject:      ts.Claims.Subject,
			Email:        ts.Claims.Email,
			AccessToken:  ts.AccessToken,
			RefreshToken: ts.RefreshToken,
			IDToken:      ts.RawIDToken,
			TokenExpiry:  ts.Expiry,
			CreatedAt:    time.Now(),
			ExpiresAt:    time.Now().Add(s.config.Session.TTL()),
		}

		if err := s.sessions.Put(ctx, session); err != nil {
			log.Err(err).Msg("Failed to create session")
			s.redirectAuthError(w, r)
			return
		}

		http.SetCookie(w, s.newSessionCookie(tenantID, session.SessionID, session.ExpiresAt))

		returnURL := flow.ReturnURL
		if returnURL == "" {
			returnURL = "/"
		}
		http.Redirect(w, r, returnURL, http.StatusFound)
	}
}

// onboardTenant runs the idempotent just-in-time onboarding for a tenant's
// first login. Concurrent first logins race on the conditional create; the
// loser reads and validates the winner's record instead of erroring.
func (s *Server) onboardTenant(ctx context.Context, appID, tenantID string) (*tenants.Tenant, bool, error) {
	if tenantID == "" {
		return nil, false, apperrors.Wrapf(apperrors.ErrTokenExchange, "token claims carry no tenant")
	}

	record := sessionstore.OnboardingRecord{
		AppID:       appID,
		TenantID:    tenantID,
		AuditPrefix: audit.TenantPrefix(s.config.Audit.Prefix, appID, tenantID),
		PolicyRef:   "baseline/v1",
		OnboardedAt: time.Now(),
	}

	created, existing, err := s.sessions.CreateOnboardingIfAbsent(ctx, record)
	if err != nil {
		return nil, false, apperrors.Wrapf(err, "conditional onboarding create failed")
	}
	if !created {
		// Invariant fields of the stored record must agree with ours.
		if existing.TenantID != tenantID || existing.AppID != appID {
			return nil, false, apperrors.Wrapf(apperrors.ErrOnboardingConflict,
				"stored onboarding record is scoped to a different tenant")
		}
	}

	now := time.Now()
	tenantCreated, tenant, err := s.tenants.CreateIfAbsent(ctx, &tenants.Tenant{
		ID:                tenantID,
		AppID:             appID,
		Name:              tenantID,
		Status:            tenants.StatusActive,
		CredentialVersion: 1,
		OnboardedAt:       now,
		UpdatedAt:         now,
	})
	if err != nil {
		return nil, false, apperrors.Wrapf(err, "tenant record create failed")
	}
	return tenant, tenantCreated, nil
}

// LogoutHandler deletes the session and clears the cookie. Logout with no
// valid session still clears the cookie and succeeds.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, sessionID, err := s.sessionFromCookie(r)
		if err == nil {
			ctx, cancel := context.WithTimeout(r.Context(), s.config.Session.StoreTimeoutDuration())
			defer cancel()
			if err := s.sessions.Delete(ctx, s.config.Server.AppID, tenantID, sessionID); err != nil {
				log.Err(err).Msg("Failed to delete session on logout")
			}
		}

		http.SetCookie(w, s.expiredSessionCookie())
		w.WriteHeader(http.StatusNoContent)
	}
}

// AuthErrorHandler is the generic landing page for failed logins. It leaks
// nothing about why the flow failed.
func (s *Server) AuthErrorHandler() http.HandlerFunc {
	const page = `<!DOCTYPE html>
<html>
<head><title>Sign-in failed</title></head>
<body>
<h1>Sign-in failed</h1>
<p>Something went wrong signing you in. Please try again.</p>
<p><a href="/auth/login">Retry sign-in</a></p>
</body>
</html>`

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(page))
	}
}

// HealthzHandler reports process liveness.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (s *Server) redirectAuthError(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, RouteAuthError, http.StatusFound)
}

// safeReturnURL only accepts site-relative paths, blocking open redirects.
func safeReturnURL(raw string) string {
	if raw == "" || raw[0] != '/' {
		return ""
	}
	if len(raw) > 1 && (raw[1] == '/' || raw[1] == '\\') {
		// Protocol-relative URLs escape the site. Browsers treat a
		// backslash like a slash, so "/\" is just as dangerous as "//".
		return ""
	}
	return raw
}
