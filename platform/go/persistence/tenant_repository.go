package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Errors returned by TenantStore.
var (
	ErrNotFound = errors.New("tenant not found")
)

// TenantRecord is one row of the tenant catalog.
type TenantRecord struct {
	TenantID         uuid.UUID      `db:"tenant_id"`
	Slug             string         `db:"slug"`
	DisplayName      string         `db:"display_name"`
	Status           string         `db:"status"`
	Tier             string         `db:"tier"`
	DatabaseName     string         `db:"database_name"`
	ConnectionString string         `db:"connection_string"`
	MaxUsers         int32          `db:"max_users"`
	MaxStorageGB     int32          `db:"max_storage_gb"`
	Metadata         map[string]any `db:"metadata"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

// TenantMigrationRecord is one row of the per-tenant migration history.
type TenantMigrationRecord struct {
	MigrationID uuid.UUID `db:"migration_id"`
	TenantID    uuid.UUID `db:"tenant_id"`
	Version     string    `db:"version"`
	AppliedAt   time.Time `db:"applied_at"`
	Status      string    `db:"status"`
}

const tenantColumns = `tenant_id, slug, display_name, status, tier, database_name, connection_string,
        max_users, max_storage_gb, metadata, created_at, updated_at`

// TenantStore provides access to the tenants and tenant_migrations tables.
type TenantStore struct {
	pool            *pgxpool.Pool
	tenantsTable    string
	migrationsTable string
}

// NewTenantStore creates a store; assumes BootstrapControlPlane already created
// the tables in schema (empty means the connection's search_path).
func NewTenantStore(ctx context.Context, pool *pgxpool.Pool, schema string) (*TenantStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &TenantStore{
		pool:            pool,
		tenantsTable:    qualify(schema, "tenants"),
		migrationsTable: qualify(schema, "tenant_migrations"),
	}, nil
}

func qualify(schema, table string) string {
	if schema = strings.TrimSpace(schema); schema == "" {
		return pgx.Identifier{table}.Sanitize()
	}
	return pgx.Identifier{schema, table}.Sanitize()
}

// IsUniqueViolation reports whether err is a PostgreSQL 23505 error.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Create inserts a tenant row.
func (s *TenantStore) Create(ctx context.Context, rec TenantRecord) (TenantRecord, error) {
	if rec.TenantID == uuid.Nil {
		return TenantRecord{}, errors.New("tenant id is required")
	}
	if rec.Metadata == nil {
		rec.Metadata = map[string]any{}
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}

	query := fmt.Sprintf(`
        INSERT INTO %s (%s)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
        RETURNING %s
    `, s.tenantsTable, tenantColumns, tenantColumns)

	row := s.pool.QueryRow(ctx, query,
		rec.TenantID, rec.Slug, rec.DisplayName, rec.Status, rec.Tier, rec.DatabaseName,
		rec.ConnectionString, rec.MaxUsers, rec.MaxStorageGB, rec.Metadata, rec.CreatedAt, rec.UpdatedAt,
	)
	return scanTenantRecord(row)
}

// GetByID fetches a tenant by its canonical ID.
func (s *TenantStore) GetByID(ctx context.Context, id uuid.UUID) (TenantRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE tenant_id = $1`, tenantColumns, s.tenantsTable)
	return scanTenantRecord(s.pool.QueryRow(ctx, query, id))
}

// GetBySlug fetches a tenant by slug.
func (s *TenantStore) GetBySlug(ctx context.Context, slug string) (TenantRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE slug = $1`, tenantColumns, s.tenantsTable)
	return scanTenantRecord(s.pool.QueryRow(ctx, query, slug))
}

// ExistsBySlug reports whether any tenant, whatever its status, holds slug.
func (s *TenantStore) ExistsBySlug(ctx context.Context, slug string) (bool, error) {
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE slug = $1)`, s.tenantsTable)
	if err := s.pool.QueryRow(ctx, query, slug).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// ExistsByDatabaseName reports whether any tenant, whatever its status, is
// bound to the database name.
func (s *TenantStore) ExistsByDatabaseName(ctx context.Context, name string) (bool, error) {
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE database_name = $1)`, s.tenantsTable)
	if err := s.pool.QueryRow(ctx, query, name).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// List returns tenants newest first with an optional status filter and the
// total number of matching rows.
func (s *TenantStore) List(ctx context.Context, status *string, limit, offset int) ([]TenantRecord, int, error) {
	where := ""
	args := []any{}
	if status != nil {
		where = "WHERE status = $1"
		args = append(args, *status)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s %s", s.tenantsTable, where)
	var total int
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM %s %s
        ORDER BY created_at DESC, slug
        LIMIT %d OFFSET %d`, tenantColumns, s.tenantsTable, where, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var records []TenantRecord
	for rows.Next() {
		rec, err := scanTenantRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, err
	}

	return records, total, nil
}

// UpdateStatus sets the status and bumps updated_at.
func (s *TenantStore) UpdateStatus(ctx context.Context, id uuid.UUID, status string) (TenantRecord, error) {
	query := fmt.Sprintf(`UPDATE %s SET status = $2, updated_at = $3 WHERE tenant_id = $1 RETURNING %s`,
		s.tenantsTable, tenantColumns)
	return scanTenantRecord(s.pool.QueryRow(ctx, query, id, status, time.Now().UTC()))
}

// Delete hard-deletes a tenant row and, by cascade, its migration history.
// Only provisioning compensation calls this; lifecycle deletes go through UpdateStatus.
func (s *TenantStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE tenant_id = $1`, s.tenantsTable), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordMigrations stores applied versions for a tenant, skipping versions
// already recorded, and returns the rows it inserted.
func (s *TenantStore) RecordMigrations(ctx context.Context, tenantID uuid.UUID, versions []string) ([]TenantMigrationRecord, error) {
	if len(versions) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
        INSERT INTO %s (migration_id, tenant_id, version, applied_at, status)
        VALUES ($1, $2, $3, $4, 'success')
        ON CONFLICT (tenant_id, version) DO NOTHING
        RETURNING migration_id, tenant_id, version, applied_at, status
    `, s.migrationsTable)

	var out []TenantMigrationRecord
	err := WithTx(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		now := time.Now().UTC()
		for _, v := range versions {
			var rec TenantMigrationRecord
			err := tx.QueryRow(ctx, query, uuid.New(), tenantID, v, now).
				Scan(&rec.MigrationID, &rec.TenantID, &rec.Version, &rec.AppliedAt, &rec.Status)
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			if err != nil {
				return fmt.Errorf("record migration %s: %w", v, err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListMigrations returns a tenant's migration history in version order.
func (s *TenantStore) ListMigrations(ctx context.Context, tenantID uuid.UUID) ([]TenantMigrationRecord, error) {
	query := fmt.Sprintf(`SELECT migration_id, tenant_id, version, applied_at, status
        FROM %s WHERE tenant_id = $1 ORDER BY version`, s.migrationsTable)
	rows, err := s.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[TenantMigrationRecord])
}

func scanTenantRecord(row pgx.Row) (TenantRecord, error) {
	var rec TenantRecord
	if err := row.Scan(&rec.TenantID, &rec.Slug, &rec.DisplayName, &rec.Status, &rec.Tier, &rec.DatabaseName,
		&rec.ConnectionString, &rec.MaxUsers, &rec.MaxStorageGB, &rec.Metadata, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TenantRecord{}, ErrNotFound
		}
		return TenantRecord{}, err
	}
	return rec, nil
}
