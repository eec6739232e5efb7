package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	sqlassets "github.com/zenGate-Global/palmyra-tenancy/database"
)

// BootstrapControlPlane applies the control-plane DDL in a single transaction,
// in this order:
//  1. platform/tenants.sql
//  2. platform/tenant_migrations.sql
//
// When schema is non-empty it is created if missing and the DDL runs with
// search_path set to it; TenantStore must then be built with the same schema.
// The helper is idempotent and intended for CLI bootstrap, API startup and tests.
func BootstrapControlPlane(ctx context.Context, pool *pgxpool.Pool, schema string) error {
	if pool == nil {
		return fmt.Errorf("bootstrap control plane: pool is required")
	}

	var statements []string
	statements = append(statements, splitStatements(sqlassets.TenantsSQL)...)
	statements = append(statements, splitStatements(sqlassets.TenantMigrationsSQL)...)

	return WithTx(ctx, pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if schema = strings.TrimSpace(schema); schema != "" {
			if _, err := tx.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{schema}.Sanitize()); err != nil {
				return fmt.Errorf("create schema: %w", err)
			}
			if _, err := tx.Exec(ctx, `SELECT set_config('search_path', $1, true)`, schema); err != nil {
				return fmt.Errorf("set search_path: %w", err)
			}
		}

		for _, stmt := range statements {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("apply ddl: %w", err)
			}
		}
		return nil
	})
}

// splitStatements breaks a DDL file on semicolons. The embedded files contain
// no semicolons inside literals or function bodies.
func splitStatements(sql string) []string {
	raw := strings.Split(sql, ";")
	out := make([]string, 0, len(raw))
	for _, stmt := range raw {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
