package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-tenancy/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/requesttrace"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

// ProvisionRequest asks for a new tenant environment.
type ProvisionRequest struct {
	TenantName string
	Slug       string
	Tier       string
	Limits     Limits
	Metadata   map[string]any
	AdminUser  AdminUser
}

// OrchestratorConfig tunes an Orchestrator.
type OrchestratorConfig struct {
	// AdminRole is granted to the admin user after binding; defaults to "admin".
	AdminRole string
	// DatabaseNameMaxLen caps derived database names; defaults to tenant.MaxDatabaseNameLen.
	DatabaseNameMaxLen int
	// ConnectionString returns the catalog connection string for a database.
	// When nil the catalog stores an empty string.
	ConnectionString func(databaseName string) (string, error)
	// CompensationTimeout bounds the whole compensation sequence; defaults to 30s.
	CompensationTimeout time.Duration
}

// Orchestrator drives the tenant onboarding saga: user, organization,
// database, migrations, catalog record, membership, role. Any failure before
// the role step is compensated in reverse order; the tenant database is never
// dropped automatically.
type Orchestrator struct {
	repo     Repository
	identity IdentityGateway
	db       DatabaseProvisioner
	metrics  *Metrics
	logger   *zap.Logger
	cfg      OrchestratorConfig
}

// NewOrchestrator constructs an Orchestrator. metrics may be nil.
func NewOrchestrator(repo Repository, identity IdentityGateway, db DatabaseProvisioner, metrics *Metrics, logger *zap.Logger, cfg OrchestratorConfig) *Orchestrator {
	if repo == nil {
		panic("tenants repo is required")
	}
	if identity == nil {
		panic("identity gateway is required")
	}
	if db == nil {
		panic("database provisioner is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AdminRole == "" {
		cfg.AdminRole = "admin"
	}
	if cfg.DatabaseNameMaxLen <= 0 {
		cfg.DatabaseNameMaxLen = tenant.MaxDatabaseNameLen
	}
	if cfg.CompensationTimeout <= 0 {
		cfg.CompensationTimeout = 30 * time.Second
	}
	return &Orchestrator{repo: repo, identity: identity, db: db, metrics: metrics, logger: logger, cfg: cfg}
}

func (r ProvisionRequest) validate() (ProvisionRequest, error) {
	slug, err := persistence.NormalizeSlug(r.Slug)
	if err != nil {
		return r, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	r.Slug = slug
	r.TenantName = strings.TrimSpace(r.TenantName)
	if r.TenantName == "" {
		return r, fmt.Errorf("%w: tenant name is required", ErrInvalidInput)
	}
	r.AdminUser.Email = strings.TrimSpace(r.AdminUser.Email)
	if r.AdminUser.Email == "" || !strings.Contains(r.AdminUser.Email, "@") {
		return r, fmt.Errorf("%w: admin email is required", ErrInvalidInput)
	}
	if r.AdminUser.Password == "" {
		return r, fmt.Errorf("%w: admin password is required", ErrInvalidInput)
	}
	if r.Tier == "" {
		r.Tier = "standard"
	}
	return r, nil
}

// Provision runs the saga for req. Failures are returned as *OnboardingError
// naming the step; invalid input and a slug already in the catalog are
// returned before any side effect.
func (o *Orchestrator) Provision(ctx context.Context, req ProvisionRequest) (Tenant, error) {
	req, err := req.validate()
	if err != nil {
		return Tenant{}, err
	}

	actor := requesttrace.FromContextOrAnonymous(ctx)
	logger := o.logger.With(append(actor.Fields(), zap.String("slug", req.Slug))...)

	exists, err := o.repo.ExistsBySlug(ctx, req.Slug)
	if err != nil {
		return Tenant{}, fmt.Errorf("check slug %s: %w", req.Slug, err)
	}
	if exists {
		return Tenant{}, fmt.Errorf("%w: tenant slug %s", ErrConflict, req.Slug)
	}

	// Distinct slugs can derive the same database name; another tenant's
	// database must never be reused.
	dbName := tenant.DatabaseNameWithLimit(req.Slug, o.cfg.DatabaseNameMaxLen)
	taken, err := o.repo.ExistsByDatabaseName(ctx, dbName)
	if err != nil {
		return Tenant{}, fmt.Errorf("check database %s: %w", dbName, err)
	}
	if taken {
		return Tenant{}, fmt.Errorf("%w: database %s already belongs to another tenant", ErrConflict, dbName)
	}

	ledger := newLedger(logger)
	logger.Info("tenant provisioning started", zap.String("database", dbName))

	userID, err := o.identity.CreateUser(ctx, req.AdminUser)
	if err != nil {
		return Tenant{}, o.fail(ctx, logger, ledger, req.Slug, dbName, StepUserCreation, err)
	}
	ledger.userCreated(userID)

	org, err := o.identity.CreateOrganization(ctx, req.Slug, req.TenantName, userID)
	if err != nil {
		return Tenant{}, o.fail(ctx, logger, ledger, req.Slug, dbName, StepOrgCreation, err)
	}
	ledger.organizationCreated(org.ID)

	if err := o.db.EnsureDatabase(ctx, dbName); err != nil {
		err = fmt.Errorf("%w: create database %s: %w", ErrDatabaseProvisioning, dbName, err)
		return Tenant{}, o.fail(ctx, logger, ledger, req.Slug, dbName, StepDatabaseCreation, err)
	}
	ledger.databaseEnsured(dbName)

	versions, err := o.db.Migrate(ctx, dbName)
	if err != nil {
		err = fmt.Errorf("%w: migrate database %s: %w", ErrDatabaseProvisioning, dbName, err)
		return Tenant{}, o.fail(ctx, logger, ledger, req.Slug, dbName, StepDatabaseMigration, err)
	}
	ledger.migrationsApplied(versions)

	// Catalog failures are reported under the membership step, which is the
	// next step the run had not yet reached.
	created, err := o.persist(ctx, req, dbName)
	if err != nil {
		return Tenant{}, o.fail(ctx, logger, ledger, req.Slug, dbName, StepUserOrgAssignment, err)
	}
	ledger.tenantPersisted(created.ID)

	if _, err := o.repo.RecordMigrations(ctx, created.ID, versions); err != nil {
		err = fmt.Errorf("record migrations: %w", err)
		return Tenant{}, o.fail(ctx, logger, ledger, req.Slug, dbName, StepUserOrgAssignment, err)
	}

	if !org.MemberBound {
		attempts, err := o.identity.BindUserToOrganization(ctx, org.ID, userID)
		o.metrics.bound(attempts)
		if err != nil {
			return Tenant{}, o.fail(ctx, logger, ledger, req.Slug, dbName, StepUserOrgAssignment, err)
		}
		logger.Info("admin user bound to organization", zap.Int("attempt", attempts))
	}

	if err := o.identity.AssignRole(ctx, org.ID, userID, o.cfg.AdminRole); err != nil {
		logger.Warn("admin role assignment failed; tenant provisioned without it",
			zap.String("step", string(StepRoleAssignment)),
			zap.String("role", o.cfg.AdminRole),
			zap.Error(err),
		)
	}

	o.metrics.succeeded()
	logger.Info("tenant provisioned",
		zap.String("tenant_id", created.ID.String()),
		zap.String("database", dbName),
		zap.Strings("versions", versions),
	)
	return created, nil
}

func (o *Orchestrator) persist(ctx context.Context, req ProvisionRequest, dbName string) (Tenant, error) {
	var connString string
	if o.cfg.ConnectionString != nil {
		cs, err := o.cfg.ConnectionString(dbName)
		if err != nil {
			return Tenant{}, fmt.Errorf("derive connection string: %w", err)
		}
		connString = cs
	}

	now := time.Now().UTC()
	created, err := o.repo.Create(ctx, Tenant{
		ID:               uuid.New(),
		Slug:             req.Slug,
		DisplayName:      req.TenantName,
		Status:           StatusActive,
		Tier:             req.Tier,
		DatabaseName:     dbName,
		ConnectionString: connString,
		Limits:           req.Limits,
		Metadata:         req.Metadata,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		return Tenant{}, fmt.Errorf("persist tenant: %w", err)
	}
	return created, nil
}

// fail tags err with step, compensates what the ledger recorded and returns
// the tagged original error.
func (o *Orchestrator) fail(ctx context.Context, logger *zap.Logger, ledger *Ledger, slug, dbName string, step Step, err error) error {
	oerr := &OnboardingError{Step: step, Slug: slug, DatabaseName: dbName, Err: err}

	o.metrics.failed(step)
	logger.Error("tenant provisioning failed",
		zap.String("step", string(step)),
		zap.String("database", dbName),
		zap.Error(err),
	)
	if step == StepDatabaseCreation {
		logger.Warn("tenant database may be partially created; check before retrying", zap.String("database", dbName))
	}

	o.compensate(ctx, logger, ledger)
	return oerr
}

// compensate undoes recorded side effects in reverse order: catalog record,
// user, organization. Compensation errors are logged, never returned. The
// caller's cancellation does not stop compensation.
func (o *Orchestrator) compensate(ctx context.Context, logger *zap.Logger, ledger *Ledger) {
	if ledger.Empty() {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.CompensationTimeout)
	defer cancel()

	var errs error
	run := func(action string, fn func() error) {
		err := fn()
		o.metrics.compensated(action, err)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", action, err))
			return
		}
		logger.Info("provisioning compensated", zap.String("action", action))
	}

	if ledger.TenantRecordID != uuid.Nil {
		run("delete_tenant_record", func() error {
			err := o.repo.Delete(ctx, ledger.TenantRecordID)
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		})
	}
	if ledger.UserID != "" {
		run("delete_user", func() error { return o.identity.DeleteUser(ctx, ledger.UserID) })
	}
	if ledger.OrganizationID != "" {
		run("delete_organization", func() error { return o.identity.DeleteOrganization(ctx, ledger.OrganizationID) })
	}

	if errs != nil {
		logger.Error("provisioning compensation incomplete", zap.Error(errs))
	}
	if ledger.DatabaseEnsured {
		logger.Warn("tenant database left in place for manual cleanup",
			zap.String("database", ledger.DatabaseName),
			zap.Strings("versions", ledger.MigrationsApplied),
		)
	}
}
