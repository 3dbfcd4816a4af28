package tenants

import (
	"context"
	"fmt"
	"sync"
)

// InMemoryRepo is a thread-safe in-memory implementation of Repo and
// IdempotencyRepo.
type InMemoryRepo struct {
	mu        sync.RWMutex
	tenants   map[string]Tenant
	responses map[string][]byte
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		tenants:   make(map[string]Tenant),
		responses: make(map[string][]byte),
	}
}

var (
	_ Repo            = (*InMemoryRepo)(nil)
	_ IdempotencyRepo = (*InMemoryRepo)(nil)
)

// Upsert creates or updates a tenant
func (r *InMemoryRepo) Upsert(_ context.Context, tenant *Tenant) error {
	if tenant == nil || tenant.ID == "" {
		return fmt.Errorf("tenant with ID is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.tenants[tenant.ID] = *tenant
	return nil
}

// Get retrieves a tenant by ID
func (r *InMemoryRepo) Get(_ context.Context, tenantID string) (*Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tenant, ok := r.tenants[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	// Return a copy to prevent external modifications
	out := tenant
	return &out, nil
}

// CreateIfAbsent conditionally creates a tenant
func (r *InMemoryRepo) CreateIfAbsent(_ context.Context, tenant *Tenant) (bool, *Tenant, error) {
	if tenant == nil || tenant.ID == "" {
		return false, nil, fmt.Errorf("tenant with ID is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.tenants[tenant.ID]; ok {
		out := existing
		return false, &out, nil
	}

	r.tenants[tenant.ID] = *tenant
	out := *tenant
	return true, &out, nil
}

// Remember stores the first response seen under an idempotency key
func (r *InMemoryRepo) Remember(_ context.Context, key string, response []byte) ([]byte, bool, error) {
	if key == "" {
		return nil, false, fmt.Errorf("idempotency key is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if stored, ok := r.responses[key]; ok {
		return stored, false, nil
	}

	buf := make([]byte, len(response))
	copy(buf, response)
	r.responses[key] = buf
	return buf, true, nil
}

// Lookup returns the stored response for an idempotency key
func (r *InMemoryRepo) Lookup(_ context.Context, key string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.responses[key]
	if !ok {
		return nil, ErrNotFound
	}
	return stored, nil
}
