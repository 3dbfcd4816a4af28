package sessionstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a session, flow state, or onboarding record
// does not exist (or its TTL has lapsed).
var ErrNotFound = errors.New("sessionstore: not found")

// Store is the durable key-value contract consumed by the auth handler,
// authorizer, and admin handlers. The store owns TTL expiry as hygiene, but
// callers must still verify Session.ExpiresAt themselves: lazy expiry is not
// a security gate.
type Store interface {
	// Put creates or replaces a session. The store applies a TTL aligned
	// to session.ExpiresAt.
	Put(ctx context.Context, session Session) error

	// Get retrieves a session by its composite identifiers.
	Get(ctx context.Context, appID, tenantID, sessionID string) (Session, error)

	// Delete removes a session. Deleting an absent session is not an error.
	Delete(ctx context.Context, appID, tenantID, sessionID string) error

	// UpdateTokens replaces a session's credentials after a refresh. The
	// session's identity scope is not touched.
	UpdateTokens(ctx context.Context, appID, tenantID, sessionID, accessToken, refreshToken string, tokenExpiry time.Time) error

	// CreateOnboardingIfAbsent conditionally creates the onboarding record.
	// When the record already exists the stored record is returned with
	// created=false; concurrent first logins must both succeed.
	CreateOnboardingIfAbsent(ctx context.Context, record OnboardingRecord) (created bool, existing OnboardingRecord, err error)

	// GetOnboarding retrieves the onboarding record for a tenant.
	GetOnboarding(ctx context.Context, appID, tenantID string) (OnboardingRecord, error)

	// PutFlowState stashes login flow state under its state value.
	PutFlowState(ctx context.Context, flow FlowState) error

	// TakeFlowState retrieves and deletes the flow state in one shot so a
	// state value can never be replayed.
	TakeFlowState(ctx context.Context, state string) (FlowState, error)
}
