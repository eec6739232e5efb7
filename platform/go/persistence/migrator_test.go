package persistence

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	sqlassets "github.com/zenGate-Global/palmyra-tenancy/database"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/persistence/persistencetest"
)

func TestLoadMigrationsOrdersByVersion(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"m/0010_tasks.sql": {Data: []byte("CREATE TABLE tasks (id INT)")},
		"m/0002_users.sql": {Data: []byte("CREATE TABLE users (id INT)")},
		"m/0001_init.sql":  {Data: []byte("SELECT 1")},
		"m/nested/x.sql":   {Data: []byte("ignored")},
	}

	migrations, err := LoadMigrations(fsys, "m")
	require.NoError(t, err)
	require.Len(t, migrations, 3)
	require.Equal(t, []string{"0001", "0002", "0010"}, []string{migrations[0].Version, migrations[1].Version, migrations[2].Version})
	require.Equal(t, "users", migrations[1].Name)
}

func TestLoadMigrationsRejectsBadNames(t *testing.T) {
	t.Parallel()

	_, err := LoadMigrations(fstest.MapFS{"m/init.sql": {Data: []byte("SELECT 1")}}, "m")
	require.ErrorContains(t, err, "NNNN_name.sql")

	_, err = LoadMigrations(fstest.MapFS{
		"m/0001_a.sql": {Data: []byte("SELECT 1")},
		"m/0001_b.sql": {Data: []byte("SELECT 2")},
	}, "m")
	require.ErrorContains(t, err, "declared by")
}

func TestEmbeddedTenantMigrationsLoad(t *testing.T) {
	t.Parallel()

	m, err := NewMigrator(sqlassets.TenantMigrations, sqlassets.TenantMigrationsDir, nil)
	require.NoError(t, err)
	require.NotEmpty(t, m.Migrations())
	require.Equal(t, "0001", m.Migrations()[0].Version)
}

func TestMigratorUpIsRerunnable(t *testing.T) {
	connString := persistencetest.ConnString(t)
	ctx := context.Background()

	conn, err := pgx.Connect(ctx, connString)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(context.Background()) })

	_, err = conn.Exec(ctx, `DROP SCHEMA IF EXISTS migrator_test CASCADE; CREATE SCHEMA migrator_test; SET search_path TO migrator_test`)
	require.NoError(t, err)

	fsys := fstest.MapFS{
		"m/0001_widgets.sql": {Data: []byte("CREATE TABLE widgets (id INT PRIMARY KEY); INSERT INTO widgets VALUES (1)")},
		"m/0002_gadgets.sql": {Data: []byte("CREATE TABLE gadgets (id INT PRIMARY KEY)")},
	}
	m, err := NewMigrator(fsys, "m", zaptest.NewLogger(t))
	require.NoError(t, err)

	applied, err := m.Up(ctx, conn)
	require.NoError(t, err)
	require.Equal(t, []string{"0001", "0002"}, applied)

	applied, err = m.Up(ctx, conn)
	require.NoError(t, err)
	require.Empty(t, applied)

	all, err := m.Applied(ctx, conn)
	require.NoError(t, err)
	require.Equal(t, []string{"0001", "0002"}, all)
}

func TestMigratorStopsAtFailure(t *testing.T) {
	connString := persistencetest.ConnString(t)
	ctx := context.Background()

	conn, err := pgx.Connect(ctx, connString)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(context.Background()) })

	_, err = conn.Exec(ctx, `DROP SCHEMA IF EXISTS migrator_fail CASCADE; CREATE SCHEMA migrator_fail; SET search_path TO migrator_fail`)
	require.NoError(t, err)

	fsys := fstest.MapFS{
		"m/0001_ok.sql":     {Data: []byte("CREATE TABLE ok (id INT)")},
		"m/0002_broken.sql": {Data: []byte("CREATE TABLE broken (id NOPE)")},
		"m/0003_later.sql":  {Data: []byte("CREATE TABLE later (id INT)")},
	}
	m, err := NewMigrator(fsys, "m", zaptest.NewLogger(t))
	require.NoError(t, err)

	applied, err := m.Up(ctx, conn)
	require.ErrorContains(t, err, "0002_broken")
	require.Equal(t, []string{"0001"}, applied)

	all, err := m.Applied(ctx, conn)
	require.NoError(t, err)
	require.Equal(t, []string{"0001"}, all)
}
