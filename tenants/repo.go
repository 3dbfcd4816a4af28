package tenants

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a tenant does not exist.
var ErrNotFound = errors.New("tenants: not found")

// Repo stores tenant records. Mutations are single-record and retry-safe;
// CreateIfAbsent carries the conditional-write semantics concurrent first
// logins rely on.
type Repo interface {
	Upsert(ctx context.Context, tenant *Tenant) error
	Get(ctx context.Context, tenantID string) (*Tenant, error)

	// CreateIfAbsent creates the tenant unless one already exists, in which
	// case the existing record is returned with created=false.
	CreateIfAbsent(ctx context.Context, tenant *Tenant) (created bool, existing *Tenant, err error)
}

// IdempotencyRepo remembers the first response produced under an
// Idempotency-Key so retried admin mutations replay instead of re-executing.
type IdempotencyRepo interface {
	// Remember stores response under key unless the key was already seen;
	// the stored (first) response is returned either way.
	Remember(ctx context.Context, key string, response []byte) (stored []byte, created bool, err error)

	// Lookup returns the stored response for a key, or ErrNotFound.
	Lookup(ctx context.Context, key string) ([]byte, error)
}
