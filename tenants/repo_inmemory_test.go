package tenants_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/strandhq/agentgate/tenants"
)

func activeTenant(id string) *tenants.Tenant {
	now := time.Now()
	return &tenants.Tenant{
		ID:                id,
		AppID:             "app-1",
		Name:              id,
		Status:            tenants.StatusActive,
		CredentialVersion: 1,
		OnboardedAt:       now,
		UpdatedAt:         now,
	}
}

func TestUpsertGet_RoundTrip(t *testing.T) {
	repo := tenants.NewInMemoryRepo()
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, activeTenant("tenant-1")))

	got, err := repo.Get(ctx, "tenant-1")
	require.NoError(t, err)
	require.Equal(t, tenants.StatusActive, got.Status)
	require.False(t, got.Suspended())

	_, err = repo.Get(ctx, "tenant-2")
	require.ErrorIs(t, err, tenants.ErrNotFound)
}

func TestGet_ReturnsCopy(t *testing.T) {
	repo := tenants.NewInMemoryRepo()
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, activeTenant("tenant-1")))

	got, err := repo.Get(ctx, "tenant-1")
	require.NoError(t, err)
	got.Status = tenants.StatusSuspended

	again, err := repo.Get(ctx, "tenant-1")
	require.NoError(t, err)
	require.Equal(t, tenants.StatusActive, again.Status, "mutating a returned tenant must not alter the stored record")
}

func TestCreateIfAbsent_FirstWriterWins(t *testing.T) {
	repo := tenants.NewInMemoryRepo()
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	createdCh := make(chan bool, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, existing, err := repo.CreateIfAbsent(ctx, activeTenant("tenant-1"))
			if err == nil && existing.ID == "tenant-1" {
				createdCh <- created
			}
		}()
	}
	wg.Wait()
	close(createdCh)

	createdCount := 0
	results := 0
	for created := range createdCh {
		results++
		if created {
			createdCount++
		}
	}
	require.Equal(t, workers, results)
	require.Equal(t, 1, createdCount)
}

// TestRemember_ReplaysFirstResponse checks the idempotency contract: the
// first stored response wins and retries read it back unchanged.
func TestRemember_ReplaysFirstResponse(t *testing.T) {
	repo := tenants.NewInMemoryRepo()
	ctx := context.Background()

	first, created, err := repo.Remember(ctx, "key-1", []byte(`{"credentialVersion":2}`))
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := repo.Remember(ctx, "key-1", []byte(`{"credentialVersion":3}`))
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first, second)

	stored, err := repo.Lookup(ctx, "key-1")
	require.NoError(t, err)
	require.JSONEq(t, `{"credentialVersion":2}`, string(stored))

	_, err = repo.Lookup(ctx, "missing")
	require.ErrorIs(t, err, tenants.ErrNotFound)
}
