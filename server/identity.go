package server

import (
	"context"
	"net/http"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

// ContextKeyIdentity stores the authorized identity context for the request
const ContextKeyIdentity ContextKey = "identity"

// Identity is the trusted output of authorization. It is only ever
// constructed by the authorizer from verified session state; downstream
// handlers must cross-check any tenant/app identifier in the raw request
// against it and never substitute client-supplied values.
type Identity struct {
	AppID            string
	TenantID         string
	SessionID        string
	RuntimeSessionID string
	Subject          string
	Email            string
}

// IdentityFromContext returns the identity attached by RequireSession.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(ContextKeyIdentity).(Identity)
	return identity, ok
}

// WithIdentity attaches an identity to a request's context.
func WithIdentity(r *http.Request, identity Identity) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), ContextKeyIdentity, identity))
}
