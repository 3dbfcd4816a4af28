package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/strandhq/agentgate/audit"
	"github.com/strandhq/agentgate/idp"
	"github.com/strandhq/agentgate/internal/config"
	"github.com/strandhq/agentgate/runtime/runtimefake"
	"github.com/strandhq/agentgate/server"
	"github.com/strandhq/agentgate/sessionstore"
	"github.com/strandhq/agentgate/tenants"
)

const (
	testAppID      = "app-1"
	testTenantID   = "tenant-1"
	testCookieName = "session_id"
	testSubject    = "user-1"
	testEmail      = "jo.bloggs@example.com"
)

// fakeIDP scripts the identity provider surface so handler tests run without
// a live issuer.
type fakeIDP struct {
	exchange func(ctx context.Context, code, codeVerifier string) (*idp.TokenSet, error)
	refresh  func(ctx context.Context, refreshToken string) (*idp.TokenSet, error)
}

func (f *fakeIDP) AuthorizationURL(state, nonce, codeVerifier string) string {
	return "https://idp.example.com/authorize?state=" + url.QueryEscape(state) +
		"&nonce=" + url.QueryEscape(nonce) +
		"&code_challenge=" + url.QueryEscape(codeVerifier)
}

func (f *fakeIDP) Exchange(ctx context.Context, code, codeVerifier string) (*idp.TokenSet, error) {
	if f.exchange == nil {
		return nil, errors.New("no exchange scripted")
	}
	return f.exchange(ctx, code, codeVerifier)
}

func (f *fakeIDP) Refresh(ctx context.Context, refreshToken string) (*idp.TokenSet, error) {
	if f.refresh == nil {
		return nil, errors.New("no refresh scripted")
	}
	return f.refresh(ctx, refreshToken)
}

type fixture struct {
	cfg        config.Config
	sessions   *sessionstore.InMemoryStore
	tenantRepo *tenants.InMemoryRepo
	idp        *fakeIDP
	runtime    *runtimefake.FakeClient
	auditStore *audit.MemStore
	server     *server.Server
}

func testConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{
			Port:           8080,
			AppName:        "agentgate",
			AppID:          testAppID,
			Environment:    "test",
			LoginRatePerIP: 600,
		},
		OIDC: config.OIDCConfig{
			Issuer:      "https://idp.example.com",
			ClientID:    "bff-client",
			RedirectURL: "https://app.example.com/auth/callback",
			TenantClaim: "tid",
		},
		Session: config.SessionConfig{
			CookieName:     testCookieName,
			TTLMinutes:     60,
			FlowTTLMinutes: 10,
		},
		Runtime: config.RuntimeConfig{
			InvokeURL:     "https://runtime.example.com/invoke",
			MaxStreamMins: 1,
		},
		Audit: config.AuditConfig{
			Enabled: true,
			Prefix:  "events",
		},
	}
}

func setupTestFixture(t *testing.T, mutate ...func(*config.Config)) *fixture {
	t.Helper()

	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	f := &fixture{
		cfg:        cfg,
		sessions:   sessionstore.NewInMemoryStore(),
		tenantRepo: tenants.NewInMemoryRepo(),
		idp:        &fakeIDP{},
		runtime:    runtimefake.New("Hello ", "world"),
		auditStore: audit.NewMemStore(),
	}

	srv, err := server.New(cfg, server.Deps{
		Sessions:    f.sessions,
		Tenants:     f.tenantRepo,
		Idempotency: f.tenantRepo,
		IDP:         f.idp,
		Runtime:     f.runtime,
		Audit:       audit.NewLogger(f.auditStore, cfg.Audit.Prefix, cfg.Audit.Enabled),
		AuditReader: audit.NewReader(f.auditStore, cfg.Audit.Prefix),
	})
	require.NoError(t, err)
	f.server = srv

	// An identity echo route for exercising the authorizer in isolation.
	srv.RegisterRouteHandler("GET /api/whoami",
		server.ChainMiddleware(whoamiHandler(), srv.APIMiddleware(srv.RequireSession())...))

	return f
}

func whoamiHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, _ := server.IdentityFromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"appId":    identity.AppID,
			"tenantId": identity.TenantID,
			"subject":  identity.Subject,
		})
	}
}

// seedSession stores a live session and returns its cookie.
func (f *fixture) seedSession(t *testing.T, sessionID string, mutate ...func(*sessionstore.Session)) *http.Cookie {
	t.Helper()

	session := sessionstore.Session{
		SessionID:    sessionID,
		AppID:        testAppID,
		TenantID:     testTenantID,
		Subject:      testSubject,
		Email:        testEmail,
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		TokenExpiry:  time.Now().Add(30 * time.Minute),
		CreatedAt:    time.Now(),
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	for _, m := range mutate {
		m(&session)
	}
	require.NoError(t, f.sessions.Put(context.Background(), session))

	return &http.Cookie{
		Name:  testCookieName,
		Value: session.TenantID + ":" + session.SessionID,
	}
}

// seedTenant stores an active tenant record.
func (f *fixture) seedTenant(t *testing.T, tenantID string, mutate ...func(*tenants.Tenant)) {
	t.Helper()

	now := time.Now()
	tenant := &tenants.Tenant{
		ID:                tenantID,
		AppID:             testAppID,
		Name:              tenantID,
		Status:            tenants.StatusActive,
		CredentialVersion: 1,
		OnboardedAt:       now,
		UpdatedAt:         now,
	}
	for _, m := range mutate {
		m(tenant)
	}
	require.NoError(t, f.tenantRepo.Upsert(context.Background(), tenant))
}

// signedIDToken mints a structurally valid JWT carrying a tenant claim. Only
// the unverified-parse consistency check reads it, so the key is arbitrary.
func signedIDToken(t *testing.T, tenantClaim string) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": testSubject,
		"tid": tenantClaim,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("test-key"))
	require.NoError(t, err)
	return signed
}
