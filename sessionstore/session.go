package sessionstore

import (
	"fmt"
	"time"
)

// Session represents one authenticated browser session. The (AppID, TenantID)
// pair is fixed at creation from verified token claims and never changes,
// including across token refresh.
type Session struct {
	// Core identity
	SessionID string `json:"session_id"`
	AppID     string `json:"app_id"`
	TenantID  string `json:"tenant_id"`
	Subject   string `json:"subject"`
	Email     string `json:"email"`

	// Tokens from the identity provider. Never exposed to the browser.
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	IDToken      string    `json:"id_token"` // raw, kept for tenant claim cross-checks
	TokenExpiry  time.Time `json:"token_expiry"`

	// Session management
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// FlowState holds the state/PKCE stash for one in-flight login attempt.
// Single use: it is consumed on callback.
type FlowState struct {
	State        string    `json:"state"`
	Nonce        string    `json:"nonce"`
	CodeVerifier string    `json:"code_verifier"`
	ReturnURL    string    `json:"return_url"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// OnboardingRecord is the idempotent marker that a tenant's baseline
// resources have been provisioned. Created once per (AppID, TenantID).
type OnboardingRecord struct {
	AppID       string    `json:"app_id"`
	TenantID    string    `json:"tenant_id"`
	AuditPrefix string    `json:"audit_prefix"`
	PolicyRef   string    `json:"policy_ref"`
	OnboardedAt time.Time `json:"onboarded_at"`
}

// SessionKey builds the partition-friendly composite key for a session.
func SessionKey(appID, tenantID, sessionID string) string {
	return fmt.Sprintf("APP#%s#TENANT#%s#SESSION#%s", appID, tenantID, sessionID)
}

// OnboardingKey builds the composite key for a tenant onboarding record.
func OnboardingKey(appID, tenantID string) string {
	return fmt.Sprintf("APP#%s#TENANT#%s#ONBOARDING", appID, tenantID)
}

// FlowKey builds the key for a login flow stash.
func FlowKey(state string) string {
	return fmt.Sprintf("FLOW#%s", state)
}
