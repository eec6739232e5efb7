package main

import (
	"time"

	"github.com/zenGate-Global/palmyra-tenancy/platform/go/keycloak"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/retry"
)

type config struct {
	Port            string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"60s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`

	DatabaseURL     string `env:"DATABASE_URL,required"`
	AdminDatabase   string `env:"ADMIN_DATABASE" envDefault:"postgres"`
	BootstrapSchema string `env:"BOOTSTRAP_SCHEMA"`
	DBNameMaxLen    int    `env:"DB_NAME_MAX_LEN" envDefault:"63"`

	AuthProvider     string `env:"AUTH_PROVIDER" envDefault:"firebase"`     // firebase | dev
	IdentityProvider string `env:"IDENTITY_PROVIDER" envDefault:"keycloak"` // keycloak | firebase
	FirebaseConfig   string `env:"FIREBASE_CONFIG"`                         // service account file; ADC when empty
	FirebaseProject  string `env:"GCLOUD_PROJECT"`

	KeycloakURL           string        `env:"KEYCLOAK_URL"`
	KeycloakRealm         string        `env:"KEYCLOAK_REALM"`
	KeycloakAdminUser     string        `env:"KEYCLOAK_ADMIN_USER"`
	KeycloakAdminPassword string        `env:"KEYCLOAK_ADMIN_PASSWORD"`
	KeycloakClientID      string        `env:"KEYCLOAK_CLIENT_ID" envDefault:"admin-cli"`
	KeycloakTimeout       time.Duration `env:"KEYCLOAK_TIMEOUT" envDefault:"10s"`

	BindRetryBase        time.Duration `env:"BIND_RETRY_BASE" envDefault:"2s"`
	BindRetryCap         time.Duration `env:"BIND_RETRY_CAP" envDefault:"10s"`
	BindRetryMaxAttempts int           `env:"BIND_RETRY_MAX_ATTEMPTS" envDefault:"15"`
	AdminRole            string        `env:"ADMIN_ROLE" envDefault:"admin"`

	TenantPoolMaxConns       int32         `env:"TENANT_POOL_MAX_CONNS" envDefault:"10"`
	TenantPoolMinConns       int32         `env:"TENANT_POOL_MIN_CONNS" envDefault:"2"`
	TenantPoolConnectTimeout time.Duration `env:"TENANT_POOL_CONNECT_TIMEOUT" envDefault:"5s"`
	TenantPoolMaxIdle        time.Duration `env:"TENANT_POOL_MAX_IDLE" envDefault:"300s"`
	TenantPoolMaxLifetime    time.Duration `env:"TENANT_POOL_MAX_LIFETIME" envDefault:"900s"`
	TenantPoolCacheSize      int           `env:"TENANT_POOL_CACHE_SIZE" envDefault:"0"`
	TenantPoolEvictionGrace  time.Duration `env:"TENANT_POOL_EVICTION_GRACE" envDefault:"60s"`
	TenantPoolWarmup         bool          `env:"TENANT_POOL_WARMUP" envDefault:"true"`
	TenantPoolWarmParallel   int           `env:"TENANT_POOL_WARM_PARALLEL" envDefault:"4"`
}

func (c config) bindRetryPolicy() retry.Policy {
	return retry.Policy{Base: c.BindRetryBase, Cap: c.BindRetryCap, MaxAttempts: c.BindRetryMaxAttempts}
}

func (c config) keycloakConfig() keycloak.Config {
	return keycloak.Config{
		BaseURL:       c.KeycloakURL,
		Realm:         c.KeycloakRealm,
		AdminUser:     c.KeycloakAdminUser,
		AdminPassword: c.KeycloakAdminPassword,
		ClientID:      c.KeycloakClientID,
		Timeout:       c.KeycloakTimeout,
	}
}

// tenantPoolTemplate is the pool configuration every tenant pool starts from.
func (c config) tenantPoolTemplate() persistence.PoolConfig {
	return persistence.PoolConfig{
		ConnString:      c.DatabaseURL,
		ConnectTimeout:  c.TenantPoolConnectTimeout,
		ValidationQuery: "SELECT 1",
		SkipPing:        true,
		MaxConns:        c.TenantPoolMaxConns,
		MinConns:        c.TenantPoolMinConns,
		MaxConnIdleTime: c.TenantPoolMaxIdle,
		MaxConnLifetime: c.TenantPoolMaxLifetime,
	}
}
