package service_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/service"
)

func newService(t *testing.T) (*service.Service, *harness) {
	t.Helper()
	h := newHarness(t)
	return service.New(h.repo, h.dir, h.dbs, zaptest.NewLogger(t)), h
}

func TestServiceGetByIDOrSlug(t *testing.T) {
	svc, h := newService(t)
	ctx := context.Background()

	created, err := h.orch.Provision(ctx, acmeRequest())
	require.NoError(t, err)

	got, err := svc.Get(ctx, created.ID.String())
	require.NoError(t, err)
	require.Equal(t, "acme", got.Slug)

	got, err = svc.Get(ctx, "ACME")
	require.NoError(t, err)
	require.Equal(t, created.ID, got.ID)

	_, err = svc.Get(ctx, "globex")
	require.ErrorIs(t, err, service.ErrNotFound)
}

func TestServiceUpdateStatusTransitions(t *testing.T) {
	svc, h := newService(t)
	ctx := context.Background()

	_, err := h.orch.Provision(ctx, acmeRequest())
	require.NoError(t, err)

	_, err = svc.UpdateStatus(ctx, "acme", service.Status("archived"))
	require.ErrorIs(t, err, service.ErrInvalidInput)

	same, err := svc.UpdateStatus(ctx, "acme", service.StatusActive)
	require.NoError(t, err)
	require.Equal(t, service.StatusActive, same.Status)

	suspended, err := svc.UpdateStatus(ctx, "acme", service.StatusSuspended)
	require.NoError(t, err)
	require.Equal(t, service.StatusSuspended, suspended.Status)

	deleted, err := svc.UpdateStatus(ctx, "acme", service.StatusDeleted)
	require.NoError(t, err)
	require.Equal(t, service.StatusDeleted, deleted.Status)

	_, err = svc.UpdateStatus(ctx, "acme", service.StatusActive)
	require.ErrorIs(t, err, service.ErrConflict)

	_, err = svc.UpdateStatus(ctx, "globex", service.StatusActive)
	require.ErrorIs(t, err, service.ErrNotFound)
}

func TestServiceRunMigrationsRecordsNewVersions(t *testing.T) {
	svc, h := newService(t)
	ctx := context.Background()

	created, err := h.orch.Provision(ctx, acmeRequest())
	require.NoError(t, err)

	applied, err := svc.RunMigrations(ctx, "acme")
	require.NoError(t, err)
	require.Empty(t, applied)

	h.dbs.versions = append(h.dbs.versions, "0004")
	applied, err = svc.RunMigrations(ctx, created.ID.String())
	require.NoError(t, err)
	require.Equal(t, []string{"0004"}, applied)

	history, err := svc.ListMigrations(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, history, 4)
	require.Equal(t, "0004", history[3].Version)
}

func TestServiceRunMigrationsFailures(t *testing.T) {
	svc, h := newService(t)
	ctx := context.Background()

	_, err := h.orch.Provision(ctx, acmeRequest())
	require.NoError(t, err)

	h.dbs.failMigrate = errBoom
	_, err = svc.RunMigrations(ctx, "acme")
	require.ErrorIs(t, err, service.ErrDatabaseProvisioning)

	h.dbs.failMigrate = nil
	_, err = svc.UpdateStatus(ctx, "acme", service.StatusDeleted)
	require.NoError(t, err)
	_, err = svc.RunMigrations(ctx, "acme")
	require.ErrorIs(t, err, service.ErrConflict)
}

func TestServiceListFiltersByStatus(t *testing.T) {
	svc, h := newService(t)
	ctx := context.Background()

	for _, slug := range []string{"acme", "globex"} {
		req := acmeRequest()
		req.Slug = slug
		req.AdminUser.Email = "admin@" + slug + ".test"
		_, err := h.orch.Provision(ctx, req)
		require.NoError(t, err)
	}
	_, err := svc.UpdateStatus(ctx, "globex", service.StatusSuspended)
	require.NoError(t, err)

	active := service.StatusActive
	res, err := svc.List(ctx, service.ListOptions{Status: &active})
	require.NoError(t, err)
	require.Equal(t, 1, res.TotalItems)
	require.Equal(t, "acme", res.Tenants[0].Slug)
}

func TestParseStatus(t *testing.T) {
	s, err := service.ParseStatus(" Suspended ")
	require.NoError(t, err)
	require.Equal(t, service.StatusSuspended, s)

	_, err = service.ParseStatus("gone")
	require.ErrorIs(t, err, service.ErrInvalidInput)
}

func TestServiceActiveSpacesPagesThroughCatalog(t *testing.T) {
	svc, h := newService(t)
	ctx := context.Background()

	now := time.Now().UTC()
	for i := 0; i < 105; i++ {
		status := service.StatusActive
		if i%50 == 0 {
			status = service.StatusSuspended
		}
		slug := fmt.Sprintf("tenant-%03d", i)
		_, err := h.repo.Create(ctx, service.Tenant{
			ID:           uuid.New(),
			Slug:         slug,
			Status:       status,
			DatabaseName: strings.ReplaceAll(slug, "-", "_"),
			CreatedAt:    now.Add(time.Duration(i) * time.Second),
			UpdatedAt:    now,
		})
		require.NoError(t, err)
	}

	spaces, err := svc.ActiveSpaces(ctx)
	require.NoError(t, err)
	require.Len(t, spaces, 102)

	seen := make(map[string]bool, len(spaces))
	for _, s := range spaces {
		require.False(t, seen[s.DatabaseName], s.DatabaseName)
		seen[s.DatabaseName] = true
	}
	require.False(t, seen["tenant_050"])
	require.True(t, seen["tenant_104"])
}
