package persistence

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// MigrationsTable records the versions applied to a database.
const MigrationsTable = "schema_migrations"

// migrationLockKey serializes concurrent migrators against the same database.
const migrationLockKey int64 = 0x70616c6d797261

var migrationFilePattern = regexp.MustCompile(`^(\d+)_([a-z0-9_]+)\.sql$`)

// Migration is one versioned script. Version is the numeric file prefix as
// written (e.g. "0003"); versions sort lexically.
type Migration struct {
	Version string
	Name    string
	SQL     string
}

// MigrationConn is satisfied by *pgx.Conn and *pgxpool.Pool.
type MigrationConn interface {
	TxBeginner
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Migrator applies an ordered, fixed set of migrations. It is safe to run
// repeatedly and from several processes at once.
type Migrator struct {
	migrations []Migration
	logger     *zap.Logger
}

// LoadMigrations reads NNNN_name.sql files from dir in fsys, sorted by version.
func LoadMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir %s: %w", dir, err)
	}

	seen := make(map[string]string, len(entries))
	migrations := make([]Migration, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := migrationFilePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			return nil, fmt.Errorf("migration %s: name must match NNNN_name.sql", entry.Name())
		}
		if prev, ok := seen[m[1]]; ok {
			return nil, fmt.Errorf("migration version %s declared by %s and %s", m[1], prev, entry.Name())
		}
		seen[m[1]] = entry.Name()

		raw, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		migrations = append(migrations, Migration{Version: m[1], Name: m[2], SQL: string(raw)})
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

// NewMigrator loads migrations from dir in fsys.
func NewMigrator(fsys fs.FS, dir string, logger *zap.Logger) (*Migrator, error) {
	migrations, err := LoadMigrations(fsys, dir)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Migrator{migrations: migrations, logger: logger}, nil
}

// Migrations returns the known migrations in apply order.
func (m *Migrator) Migrations() []Migration {
	out := make([]Migration, len(m.migrations))
	copy(out, m.migrations)
	return out
}

func (m *Migrator) ensureTable(ctx context.Context, db MigrationConn) error {
	_, err := db.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+MigrationsTable+` (
		version TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return fmt.Errorf("create %s: %w", MigrationsTable, err)
	}
	return nil
}

// Applied lists the versions already recorded in db, in apply order.
func (m *Migrator) Applied(ctx context.Context, db MigrationConn) ([]string, error) {
	if err := m.ensureTable(ctx, db); err != nil {
		return nil, err
	}
	rows, err := db.Query(ctx, `SELECT version FROM `+MigrationsTable+` ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan applied migrations: %w", err)
	}
	return versions, nil
}

// Up applies every migration not yet recorded and returns the versions it
// applied, in order. Each migration runs in its own transaction; the first
// failure stops the run and earlier migrations stay applied.
func (m *Migrator) Up(ctx context.Context, db MigrationConn) ([]string, error) {
	if err := m.ensureTable(ctx, db); err != nil {
		return nil, err
	}

	applied := []string{}
	for _, mig := range m.migrations {
		var ran bool
		err := WithTx(ctx, db, pgx.TxOptions{}, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
				return fmt.Errorf("acquire migration lock: %w", err)
			}

			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+MigrationsTable+` WHERE version = $1)`, mig.Version).Scan(&exists); err != nil {
				return fmt.Errorf("check migration %s: %w", mig.Version, err)
			}
			if exists {
				return nil
			}

			if _, err := tx.Exec(ctx, mig.SQL); err != nil {
				return fmt.Errorf("apply migration %s_%s: %w", mig.Version, mig.Name, err)
			}
			if _, err := tx.Exec(ctx, `INSERT INTO `+MigrationsTable+` (version, name) VALUES ($1, $2)`, mig.Version, mig.Name); err != nil {
				return fmt.Errorf("record migration %s: %w", mig.Version, err)
			}
			ran = true
			return nil
		})
		if err != nil {
			return applied, err
		}
		if ran {
			m.logger.Info("migration applied", zap.String("version", mig.Version), zap.String("name", mig.Name))
			applied = append(applied, mig.Version)
		}
	}
	return applied, nil
}
