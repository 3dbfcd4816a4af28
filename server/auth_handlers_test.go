package server_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/strandhq/agentgate/idp"
	"github.com/strandhq/agentgate/internal/config"
	"github.com/strandhq/agentgate/sessionstore"
	"github.com/strandhq/agentgate/tenants"
)

func stashFlow(t *testing.T, f *fixture, state, nonce string) sessionstore.FlowState {
	t.Helper()

	flow := sessionstore.FlowState{
		State:        state,
		Nonce:        nonce,
		CodeVerifier: "stashed-verifier",
		CreatedAt:    time.Now(),
		ExpiresAt:    time.Now().Add(10 * time.Minute),
	}
	require.NoError(t, f.sessions.PutFlowState(context.Background(), flow))
	return flow
}

func scriptedExchange(f *fixture, tenantID, nonce string) {
	f.idp.exchange = func(_ context.Context, code, codeVerifier string) (*idp.TokenSet, error) {
		return &idp.TokenSet{
			AccessToken:  "upstream-access-token",
			RefreshToken: "upstream-refresh-token",
			RawIDToken:   "upstream-id-token",
			Expiry:       time.Now().Add(time.Hour),
			Claims: idp.Claims{
				TenantID: tenantID,
				Subject:  testSubject,
				Email:    testEmail,
				Nonce:    nonce,
			},
		}, nil
	}
}

func doCallback(f *fixture, state, code string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "/auth/callback?state="+url.QueryEscape(state)+"&code="+url.QueryEscape(code), nil)
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, r)
	return w
}

func sessionCookieFrom(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, cookie := range w.Result().Cookies() {
		if cookie.Name == testCookieName {
			return cookie
		}
	}
	t.Fatal("no session cookie in response")
	return nil
}

func TestLoginHandler_RedirectsAndStashesFlow(t *testing.T) {
	f := setupTestFixture(t)

	r := httptest.NewRequest(http.MethodGet, "/auth/login?return_to=/app/chat", nil)
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, r)

	require.Equal(t, http.StatusFound, w.Code)

	location, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "idp.example.com", location.Host)

	state := location.Query().Get("state")
	require.NotEmpty(t, state)

	flow, err := f.sessions.TakeFlowState(context.Background(), state)
	require.NoError(t, err)
	require.NotEmpty(t, flow.Nonce)
	require.NotEmpty(t, flow.CodeVerifier)
	require.Equal(t, "/app/chat", flow.ReturnURL)
}

func TestLoginHandler_RejectsOffsiteReturnURL(t *testing.T) {
	// Browsers normalise "\" to "/", so "/\host" escapes the site exactly
	// like "//host" does.
	offsite := []string{
		"//evil.example.com/phish",
		`/\evil.example.com/phish`,
		"https://evil.example.com/phish",
	}

	for _, returnTo := range offsite {
		f := setupTestFixture(t)

		r := httptest.NewRequest(http.MethodGet, "/auth/login?return_to="+url.QueryEscape(returnTo), nil)
		w := httptest.NewRecorder()
		f.server.ServeHTTP(w, r)

		require.Equal(t, http.StatusFound, w.Code)
		state, err := url.Parse(w.Header().Get("Location"))
		require.NoError(t, err)
		flow, err := f.sessions.TakeFlowState(context.Background(), state.Query().Get("state"))
		require.NoError(t, err)
		require.Empty(t, flow.ReturnURL, "return_to %q must be dropped", returnTo)
	}
}

func TestLoginHandler_RateLimited(t *testing.T) {
	f := setupTestFixture(t, func(cfg *config.Config) { cfg.Server.LoginRatePerIP = 1 })

	first := httptest.NewRecorder()
	f.server.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/auth/login", nil))
	require.Equal(t, http.StatusFound, first.Code)

	second := httptest.NewRecorder()
	f.server.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/auth/login", nil))
	require.Equal(t, http.StatusTooManyRequests, second.Code)
}

// TestCallbackHandler_HappyPath walks the full completion: state check,
// exchange, onboarding, session creation, cookie issue, and a follow-up
// authorized request with the fresh cookie.
func TestCallbackHandler_HappyPath(t *testing.T) {
	f := setupTestFixture(t)
	stashFlow(t, f, "state-1", "nonce-1")
	scriptedExchange(f, testTenantID, "nonce-1")

	w := doCallback(f, "state-1", "auth-code")

	require.Equal(t, http.StatusFound, w.Code)
	require.Equal(t, "/", w.Header().Get("Location"))

	cookie := sessionCookieFrom(t, w)
	require.True(t, cookie.HttpOnly)
	require.True(t, cookie.Secure)
	require.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	require.Positive(t, cookie.MaxAge)

	// The cookie value is tenant:session, both opaque.
	tenantID, sessionID, found := cutCookieValue(cookie.Value)
	require.True(t, found)
	require.Equal(t, testTenantID, tenantID)
	require.NotEmpty(t, sessionID)
	require.NotContains(t, cookie.Value, "upstream-access-token")

	// Tokens live server-side only.
	session, err := f.sessions.Get(context.Background(), testAppID, testTenantID, sessionID)
	require.NoError(t, err)
	require.Equal(t, "upstream-access-token", session.AccessToken)
	require.Equal(t, testSubject, session.Subject)

	// First login onboarded the tenant.
	record, err := f.sessions.GetOnboarding(context.Background(), testAppID, testTenantID)
	require.NoError(t, err)
	require.Equal(t, testTenantID, record.TenantID)

	tenant, err := f.tenantRepo.Get(context.Background(), testTenantID)
	require.NoError(t, err)
	require.Equal(t, tenants.StatusActive, tenant.Status)

	// The fresh cookie authorizes protected routes.
	whoami := doWhoami(f, cookie)
	require.Equal(t, http.StatusOK, whoami.Code)
}

func cutCookieValue(value string) (string, string, bool) {
	for i := 0; i < len(value); i++ {
		if value[i] == ':' {
			return value[:i], value[i+1:], true
		}
	}
	return "", "", false
}

func TestCallbackHandler_ReturnURLFromFlow(t *testing.T) {
	f := setupTestFixture(t)
	flow := stashFlow(t, f, "state-1", "nonce-1")
	flow.ReturnURL = "/app/chat"
	require.NoError(t, f.sessions.PutFlowState(context.Background(), flow))
	scriptedExchange(f, testTenantID, "nonce-1")

	w := doCallback(f, "state-1", "auth-code")
	require.Equal(t, http.StatusFound, w.Code)
	require.Equal(t, "/app/chat", w.Header().Get("Location"))
}

func TestCallbackHandler_UnknownState(t *testing.T) {
	f := setupTestFixture(t)
	scriptedExchange(f, testTenantID, "nonce-1")

	w := doCallback(f, "never-stashed", "auth-code")

	require.Equal(t, http.StatusFound, w.Code)
	require.Equal(t, "/auth/error", w.Header().Get("Location"))
	require.Empty(t, w.Result().Cookies())
}

// TestCallbackHandler_StateReplay ensures the second use of a consumed
// state fails even with a valid code.
func TestCallbackHandler_StateReplay(t *testing.T) {
	f := setupTestFixture(t)
	stashFlow(t, f, "state-1", "nonce-1")
	scriptedExchange(f, testTenantID, "nonce-1")

	first := doCallback(f, "state-1", "auth-code")
	require.Equal(t, "/", first.Header().Get("Location"))

	replay := doCallback(f, "state-1", "auth-code")
	require.Equal(t, "/auth/error", replay.Header().Get("Location"))
	require.Empty(t, replay.Result().Cookies())
}

func TestCallbackHandler_NonceMismatch(t *testing.T) {
	f := setupTestFixture(t)
	stashFlow(t, f, "state-1", "nonce-1")
	scriptedExchange(f, testTenantID, "a-different-nonce")

	w := doCallback(f, "state-1", "auth-code")

	require.Equal(t, "/auth/error", w.Header().Get("Location"))
	require.Empty(t, w.Result().Cookies())
}

func TestCallbackHandler_ProviderError(t *testing.T) {
	f := setupTestFixture(t)

	r := httptest.NewRequest(http.MethodGet, "/auth/callback?error=access_denied&error_description=user+cancelled", nil)
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, r)

	require.Equal(t, "/auth/error", w.Header().Get("Location"))
}

func TestCallbackHandler_SuspendedTenantDenied(t *testing.T) {
	f := setupTestFixture(t)
	f.seedTenant(t, testTenantID, func(tenant *tenants.Tenant) {
		tenant.Status = tenants.StatusSuspended
	})
	stashFlow(t, f, "state-1", "nonce-1")
	scriptedExchange(f, testTenantID, "nonce-1")

	w := doCallback(f, "state-1", "auth-code")

	require.Equal(t, "/auth/error", w.Header().Get("Location"))
	require.Empty(t, w.Result().Cookies())
}

// TestCallbackHandler_TokensNeverInResponse scans the whole response for
// upstream token material.
func TestCallbackHandler_TokensNeverInResponse(t *testing.T) {
	f := setupTestFixture(t)
	stashFlow(t, f, "state-1", "nonce-1")
	scriptedExchange(f, testTenantID, "nonce-1")

	w := doCallback(f, "state-1", "auth-code")

	dump := w.Body.String() + w.Header().Get("Location") + w.Header().Get("Set-Cookie")
	require.NotContains(t, dump, "upstream-access-token")
	require.NotContains(t, dump, "upstream-refresh-token")
	require.NotContains(t, dump, "upstream-id-token")
}

func TestLogoutHandler_DeletesSessionAndClearsCookie(t *testing.T) {
	f := setupTestFixture(t)
	cookie := f.seedSession(t, "sess-1")

	r := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	r.AddCookie(cookie)
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, r)

	require.Equal(t, http.StatusNoContent, w.Code)

	cleared := sessionCookieFrom(t, w)
	require.Negative(t, cleared.MaxAge)
	require.Empty(t, cleared.Value)

	_, err := f.sessions.Get(context.Background(), testAppID, testTenantID, "sess-1")
	require.ErrorIs(t, err, sessionstore.ErrNotFound)
}

func TestLogoutHandler_NoSessionStillSucceeds(t *testing.T) {
	f := setupTestFixture(t)

	r := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, r)

	require.Equal(t, http.StatusNoContent, w.Code)
}

func TestHealthz(t *testing.T) {
	f := setupTestFixture(t)

	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
}
