// Package wiring builds the control-plane services the CLI commands run against.
package wiring

import (
	"context"
	"fmt"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
	"github.com/caarlos0/env/v11"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	sqlassets "github.com/zenGate-Global/palmyra-tenancy/database"
	"github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/provisioning"
	"github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/repo"
	"github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/service"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/gcp"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/keycloak"
	platformlogging "github.com/zenGate-Global/palmyra-tenancy/platform/go/logging"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/retry"
)

// Options are the knobs shared by the CLI commands. Defaults come from the
// same environment variables the API server reads; flags override them.
type Options struct {
	DatabaseURL     string `env:"DATABASE_URL"`
	AdminDatabase   string `env:"ADMIN_DATABASE" envDefault:"postgres"`
	Schema          string `env:"BOOTSTRAP_SCHEMA"`
	LogLevel        string `env:"LOG_LEVEL" envDefault:"warn"`
	DBNameMaxLen    int    `env:"DB_NAME_MAX_LEN" envDefault:"63"`
	AdminRole       string `env:"ADMIN_ROLE" envDefault:"admin"`
	FirebaseConfig  string `env:"FIREBASE_CONFIG"`
	FirebaseProject string `env:"GCLOUD_PROJECT"`

	IdentityProvider      string        `env:"IDENTITY_PROVIDER" envDefault:"keycloak"`
	KeycloakURL           string        `env:"KEYCLOAK_URL"`
	KeycloakRealm         string        `env:"KEYCLOAK_REALM"`
	KeycloakAdminUser     string        `env:"KEYCLOAK_ADMIN_USER"`
	KeycloakAdminPassword string        `env:"KEYCLOAK_ADMIN_PASSWORD"`
	KeycloakClientID      string        `env:"KEYCLOAK_CLIENT_ID" envDefault:"admin-cli"`
	KeycloakTimeout       time.Duration `env:"KEYCLOAK_TIMEOUT" envDefault:"10s"`

	BindRetryBase        time.Duration `env:"BIND_RETRY_BASE" envDefault:"2s"`
	BindRetryCap         time.Duration `env:"BIND_RETRY_CAP" envDefault:"10s"`
	BindRetryMaxAttempts int           `env:"BIND_RETRY_MAX_ATTEMPTS" envDefault:"15"`

	envErr error
}

// FromEnv loads Options from the environment.
func FromEnv() *Options {
	o := &Options{}
	o.envErr = env.Parse(o)
	return o
}

// BindDatabase registers the control-plane flags.
func (o *Options) BindDatabase(fs *pflag.FlagSet) {
	fs.StringVar(&o.DatabaseURL, "database-url", o.DatabaseURL, "control-plane PostgreSQL connection string")
	fs.StringVar(&o.Schema, "schema", o.Schema, "schema holding the tenant catalog (empty uses search_path)")
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "log level (debug, info, warn, error)")
}

// BindProvisioning registers the flags needed to create tenant databases and
// identity provider resources.
func (o *Options) BindProvisioning(fs *pflag.FlagSet) {
	fs.StringVar(&o.AdminDatabase, "admin-database", o.AdminDatabase, "database used for CREATE DATABASE")
	fs.IntVar(&o.DBNameMaxLen, "db-name-max-len", o.DBNameMaxLen, "maximum derived database name length")
	fs.StringVar(&o.AdminRole, "admin-role", o.AdminRole, "role granted to the tenant admin user")
	fs.StringVar(&o.IdentityProvider, "identity-provider", o.IdentityProvider, "identity provider (keycloak, firebase)")
	fs.StringVar(&o.KeycloakURL, "keycloak-url", o.KeycloakURL, "Keycloak base URL")
	fs.StringVar(&o.KeycloakRealm, "keycloak-realm", o.KeycloakRealm, "Keycloak realm owning tenant users")
	fs.StringVar(&o.KeycloakAdminUser, "keycloak-admin-user", o.KeycloakAdminUser, "Keycloak master realm admin user")
	fs.StringVar(&o.KeycloakAdminPassword, "keycloak-admin-password", o.KeycloakAdminPassword, "Keycloak master realm admin password")
	fs.StringVar(&o.KeycloakClientID, "keycloak-client-id", o.KeycloakClientID, "Keycloak admin client ID")
	fs.DurationVar(&o.KeycloakTimeout, "keycloak-timeout", o.KeycloakTimeout, "Keycloak admin API timeout")
	fs.StringVar(&o.FirebaseConfig, "firebase-config", o.FirebaseConfig, "Firebase service account file")
	fs.StringVar(&o.FirebaseProject, "firebase-project", o.FirebaseProject, "Firebase project ID")
	fs.DurationVar(&o.BindRetryBase, "bind-retry-base", o.BindRetryBase, "membership bind backoff step")
	fs.DurationVar(&o.BindRetryCap, "bind-retry-cap", o.BindRetryCap, "membership bind backoff cap")
	fs.IntVar(&o.BindRetryMaxAttempts, "bind-retry-max-attempts", o.BindRetryMaxAttempts, "membership bind attempt ceiling")
}

// Validate reports environment parse errors and missing required values.
func (o *Options) Validate() error {
	if o.envErr != nil {
		return fmt.Errorf("load environment: %w", o.envErr)
	}
	if o.DatabaseURL == "" {
		return fmt.Errorf("--database-url or DATABASE_URL is required")
	}
	return nil
}

func (o *Options) identityConfig(fbAuth *firebaseauth.Client) provisioning.IdentityConfig {
	return provisioning.IdentityConfig{
		Provider: o.IdentityProvider,
		Keycloak: keycloak.Config{
			BaseURL:       o.KeycloakURL,
			Realm:         o.KeycloakRealm,
			AdminUser:     o.KeycloakAdminUser,
			AdminPassword: o.KeycloakAdminPassword,
			ClientID:      o.KeycloakClientID,
			Timeout:       o.KeycloakTimeout,
		},
		Firebase:  fbAuth,
		BindRetry: retry.Policy{Base: o.BindRetryBase, Cap: o.BindRetryCap, MaxAttempts: o.BindRetryMaxAttempts},
	}
}

// Runtime holds the opened control-plane resources.
type Runtime struct {
	Logger  *zap.Logger
	Pool    *pgxpool.Pool
	Repo    *repo.PostgresRepository
	Service *service.Service

	opts      *Options
	adminPool *pgxpool.Pool
	databases *provisioning.DBProvisioner
}

// Open connects to the control plane. It does not bootstrap the catalog.
func (o *Options) Open(ctx context.Context) (*Runtime, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{Component: "cli", Level: o.LogLevel})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: o.DatabaseURL})
	if err != nil {
		return nil, fmt.Errorf("init pool: %w", err)
	}

	rt := &Runtime{Logger: logger, Pool: pool, opts: o}

	store, err := persistence.NewTenantStore(ctx, pool, o.Schema)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("init tenant store: %w", err)
	}
	rt.Repo = repo.NewPostgresRepository(store)

	rt.adminPool, err = persistence.NewPool(ctx, persistence.PoolConfig{
		ConnString: o.DatabaseURL,
		Database:   o.AdminDatabase,
		MaxConns:   1,
		SkipPing:   true,
	})
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("init admin pool: %w", err)
	}

	migrator, err := persistence.NewMigrator(sqlassets.TenantMigrations, sqlassets.TenantMigrationsDir, logger)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("load tenant migrations: %w", err)
	}
	rt.databases = provisioning.NewDBProvisioner(rt.adminPool, o.DatabaseURL, migrator, logger)
	rt.Service = service.New(rt.Repo, service.NewDirectory(rt.Repo, logger), rt.databases, logger)
	return rt, nil
}

// Orchestrator builds the provisioning saga against the configured identity provider.
func (rt *Runtime) Orchestrator(ctx context.Context) (*service.Orchestrator, error) {
	var fbAuth *firebaseauth.Client
	if rt.opts.IdentityProvider == provisioning.ProviderFirebase {
		var err error
		_, fbAuth, err = gcp.InitFirebaseAuth(ctx, gcp.Config{CredentialsFile: rt.opts.FirebaseConfig, ProjectID: rt.opts.FirebaseProject})
		if err != nil {
			return nil, err
		}
	}

	identity, err := provisioning.NewIdentityGateway(rt.opts.identityConfig(fbAuth), rt.Logger)
	if err != nil {
		return nil, err
	}

	databaseURL := rt.opts.DatabaseURL
	return service.NewOrchestrator(rt.Repo, identity, rt.databases, nil, rt.Logger, service.OrchestratorConfig{
		AdminRole:          rt.opts.AdminRole,
		DatabaseNameMaxLen: rt.opts.DBNameMaxLen,
		ConnectionString: func(database string) (string, error) {
			return persistence.RedactedConnString(databaseURL, database)
		},
	}), nil
}

// Close releases the pools and flushes the logger.
func (rt *Runtime) Close() {
	persistence.ClosePool(rt.adminPool)
	persistence.ClosePool(rt.Pool)
	if rt.Logger != nil {
		_ = rt.Logger.Sync()
	}
}
