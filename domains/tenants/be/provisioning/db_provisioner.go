package provisioning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/service"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/persistence"
)

// Concurrent CREATE DATABASE for one name fails with either code.
const (
	duplicateDatabase = "42P04"
	uniqueViolation   = "23505"
)

// DBProvisioner creates tenant databases through an administrative pool and
// migrates them through short-lived pools opened on the tenant database.
type DBProvisioner struct {
	admin      *pgxpool.Pool
	connString string
	migrator   *persistence.Migrator
	logger     *zap.Logger
}

// NewDBProvisioner builds a provisioner. admin must be connected to a database
// other than the ones it creates (usually "postgres"); connString is the
// template whose database is replaced for each tenant.
func NewDBProvisioner(admin *pgxpool.Pool, connString string, migrator *persistence.Migrator, logger *zap.Logger) *DBProvisioner {
	if admin == nil {
		panic("db provisioner requires admin pool")
	}
	if strings.TrimSpace(connString) == "" {
		panic("db provisioner requires connection string")
	}
	if migrator == nil {
		panic("db provisioner requires migrator")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DBProvisioner{admin: admin, connString: connString, migrator: migrator, logger: logger}
}

// Exists reports whether name is a database on the server.
func (p *DBProvisioner) Exists(ctx context.Context, name string) (bool, error) {
	var exists bool
	if err := p.admin.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", name).Scan(&exists); err != nil {
		return false, fmt.Errorf("check database %s: %w", name, err)
	}
	return exists, nil
}

func (p *DBProvisioner) EnsureDatabase(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("database name is required")
	}

	exists, err := p.Exists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		p.logger.Info("tenant database already exists", zap.String("database", name))
		return nil
	}

	// CREATE DATABASE cannot run inside a transaction block.
	if _, err := p.admin.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{name}.Sanitize()); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && (pgErr.Code == duplicateDatabase || pgErr.Code == uniqueViolation) {
			return nil
		}
		return fmt.Errorf("create database %s: %w", name, err)
	}

	p.logger.Info("tenant database created", zap.String("database", name))
	return nil
}

func (p *DBProvisioner) Migrate(ctx context.Context, name string) ([]string, error) {
	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{
		ConnString: p.connString,
		Database:   name,
		MaxConns:   1,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", name, err)
	}
	defer persistence.ClosePool(pool)

	applied, err := p.migrator.Up(ctx, pool)
	if err != nil {
		return applied, err
	}
	if len(applied) == 0 {
		p.logger.Info("tenant database already up to date", zap.String("database", name))
	}
	return applied, nil
}

var _ service.DatabaseProvisioner = (*DBProvisioner)(nil)
