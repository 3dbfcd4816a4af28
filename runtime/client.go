// Package runtime defines the client contract for the backend agent runtime
// and an HTTP adapter that consumes its streamed output. The proxy relays
// chunks as they arrive; nothing in this package buffers a full response.
package runtime

import "context"

// InvokeRequest carries one chat invocation. AppID and TenantID come from
// the authorizer's identity context, never from the raw request body.
type InvokeRequest struct {
	AppID            string
	TenantID         string
	RuntimeSessionID string
	Prompt           string
}

// Chunk is one streamed fragment of the runtime's response.
type Chunk struct {
	Delta string
}

// Stream yields chunks in the order the runtime emitted them. Recv returns
// io.EOF when the stream completes cleanly.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// Client invokes the backend agent runtime. Cancelling the context must
// terminate the upstream call.
type Client interface {
	Invoke(ctx context.Context, req InvokeRequest) (Stream, error)
}

// CredentialSource supplies the credential presented to the runtime for a
// given tenant scope. Requested per invocation so tenant-scoped temporary
// credentials are never shared across tenants.
type CredentialSource interface {
	Scoped(ctx context.Context, appID, tenantID string) (string, error)
}

// StaticCredentials is a single shared bearer token, suitable for
// single-tenant and development deployments.
type StaticCredentials string

func (s StaticCredentials) Scoped(context.Context, string, string) (string, error) {
	return string(s), nil
}

// CredentialFunc adapts a function to CredentialSource, the hook for
// deployments that broker per-tenant temporary credentials.
type CredentialFunc func(ctx context.Context, appID, tenantID string) (string, error)

func (f CredentialFunc) Scoped(ctx context.Context, appID, tenantID string) (string, error) {
	return f(ctx, appID, tenantID)
}
