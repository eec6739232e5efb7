package sqlassets

import "embed"

//go:embed schema/platform/tenants.sql
var TenantsSQL string

//go:embed schema/platform/tenant_migrations.sql
var TenantMigrationsSQL string

// TenantMigrations holds the ordered NNNN_name.sql scripts applied to every tenant database.
//
//go:embed migrations/tenant/*.sql
var TenantMigrations embed.FS

// TenantMigrationsDir is the directory inside TenantMigrations holding the scripts.
const TenantMigrationsDir = "migrations/tenant"
