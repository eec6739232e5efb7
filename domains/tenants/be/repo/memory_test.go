package repo

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/service"
)

func newTenant(slug string, created time.Time) service.Tenant {
	return service.Tenant{
		ID:           uuid.New(),
		Slug:         slug,
		DisplayName:  slug,
		Status:       service.StatusActive,
		DatabaseName: slug,
		CreatedAt:    created,
		UpdatedAt:    created,
	}
}

func TestMemoryRepositoryCRUD(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	now := time.Now().UTC()

	acme, err := r.Create(ctx, newTenant("acme", now))
	require.NoError(t, err)

	_, err = r.Create(ctx, newTenant("acme", now))
	require.ErrorIs(t, err, service.ErrConflict)

	dup := newTenant("acme-2", now)
	dup.DatabaseName = "acme"
	_, err = r.Create(ctx, dup)
	require.ErrorIs(t, err, service.ErrConflict)

	got, err := r.FindBySlug(ctx, "acme")
	require.NoError(t, err)
	require.Equal(t, acme.ID, got.ID)

	exists, err := r.ExistsBySlug(ctx, "acme")
	require.NoError(t, err)
	require.True(t, exists)

	taken, err := r.ExistsByDatabaseName(ctx, "acme")
	require.NoError(t, err)
	require.True(t, taken)
	taken, err = r.ExistsByDatabaseName(ctx, "acme_2")
	require.NoError(t, err)
	require.False(t, taken)

	suspended, err := r.UpdateStatus(ctx, acme.ID, service.StatusSuspended)
	require.NoError(t, err)
	require.Equal(t, service.StatusSuspended, suspended.Status)

	require.NoError(t, r.Delete(ctx, acme.ID))
	require.ErrorIs(t, r.Delete(ctx, acme.ID), service.ErrNotFound)
	_, err = r.Get(ctx, acme.ID)
	require.ErrorIs(t, err, service.ErrNotFound)
	exists, err = r.ExistsBySlug(ctx, "acme")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestMemoryRepositoryListPagesNewestFirst(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	base := time.Now().UTC()

	for i, slug := range []string{"a", "b", "c"} {
		_, err := r.Create(ctx, newTenant(slug, base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	res, err := r.List(ctx, service.ListOptions{Page: 1, PageSize: 2})
	require.NoError(t, err)
	require.Equal(t, 3, res.TotalItems)
	require.Equal(t, 2, res.TotalPages)
	require.Equal(t, "c", res.Tenants[0].Slug)

	res, err = r.List(ctx, service.ListOptions{Page: 2, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, res.Tenants, 1)
	require.Equal(t, "a", res.Tenants[0].Slug)

	suspended := service.StatusSuspended
	res, err = r.List(ctx, service.ListOptions{Status: &suspended})
	require.NoError(t, err)
	require.Zero(t, res.TotalItems)
}

func TestMemoryRepositoryMigrations(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()

	acme, err := r.Create(ctx, newTenant("acme", time.Now()))
	require.NoError(t, err)

	inserted, err := r.RecordMigrations(ctx, acme.ID, []string{"0001", "0002"})
	require.NoError(t, err)
	require.Len(t, inserted, 2)

	inserted, err = r.RecordMigrations(ctx, acme.ID, []string{"0002", "0003", ""})
	require.NoError(t, err)
	require.Len(t, inserted, 1)

	history, err := r.ListMigrations(ctx, acme.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"0001", "0002", "0003"}, []string{history[0].Version, history[1].Version, history[2].Version})

	_, err = r.RecordMigrations(ctx, uuid.New(), []string{"0001"})
	require.ErrorIs(t, err, service.ErrNotFound)
}
