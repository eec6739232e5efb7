package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-tenancy/platform/go/requesttrace"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

// Status is the lifecycle state of a tenant.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusDeleted   Status = "deleted"
)

// ParseStatus converts a stored or requested value into a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusActive:
		return StatusActive, nil
	case StatusSuspended:
		return StatusSuspended, nil
	case StatusDeleted:
		return StatusDeleted, nil
	default:
		return "", fmt.Errorf("%w: unknown tenant status %q", ErrInvalidInput, s)
	}
}

// Limits caps a tenant's usage.
type Limits struct {
	MaxUsers     int `json:"maxUsers"`
	MaxStorageGB int `json:"maxStorageGB"`
}

// Tenant is a tenant catalog entry. Slug and DatabaseName never change after creation.
type Tenant struct {
	ID               uuid.UUID
	Slug             string
	DisplayName      string
	Status           Status
	Tier             string
	DatabaseName     string
	ConnectionString string
	Limits           Limits
	Metadata         map[string]any
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Space projects the routing-relevant fields of t.
func (t Tenant) Space() tenant.Space {
	return tenant.Space{TenantID: t.ID, Slug: t.Slug, DatabaseName: t.DatabaseName}
}

// Migration is one version applied to a tenant database.
type Migration struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Version   string
	AppliedAt time.Time
	Status    string
}

// ListResult wraps paginated tenants.
type ListResult struct {
	Tenants    []Tenant
	Page       int
	PageSize   int
	TotalItems int
	TotalPages int
}

// ListOptions captures filters and pagination.
type ListOptions struct {
	Page     int
	PageSize int
	Status   *Status
}

// Repository abstracts the tenant catalog.
type Repository interface {
	Create(ctx context.Context, t Tenant) (Tenant, error)
	Get(ctx context.Context, id uuid.UUID) (Tenant, error)
	FindBySlug(ctx context.Context, slug string) (Tenant, error)
	ExistsBySlug(ctx context.Context, slug string) (bool, error)
	// ExistsByDatabaseName reports whether a tenant already owns the database name.
	ExistsByDatabaseName(ctx context.Context, name string) (bool, error)
	List(ctx context.Context, opts ListOptions) (ListResult, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) (Tenant, error)
	// Delete removes the record outright; used only to compensate a failed provisioning run.
	Delete(ctx context.Context, id uuid.UUID) error
	// RecordMigrations stores versions not yet recorded for the tenant and returns the new rows.
	RecordMigrations(ctx context.Context, tenantID uuid.UUID, versions []string) ([]Migration, error)
	ListMigrations(ctx context.Context, tenantID uuid.UUID) ([]Migration, error)
}

// lookup resolves an identifier against repo: ID-shaped values by ID first, then by slug.
func lookup(ctx context.Context, repo Repository, identifier string) (Tenant, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return Tenant{}, fmt.Errorf("%w: empty tenant identifier", ErrNotFound)
	}
	if id, err := uuid.Parse(identifier); err == nil {
		t, err := repo.Get(ctx, id)
		if err == nil {
			return t, nil
		}
		if !isNotFound(err) {
			return Tenant{}, err
		}
	}
	return repo.FindBySlug(ctx, strings.ToLower(identifier))
}

// Service provides tenant administration on top of the catalog.
type Service struct {
	repo      Repository
	directory *Directory
	db        DatabaseProvisioner
	logger    *zap.Logger
}

// New constructs a Service with required dependencies.
func New(repo Repository, directory *Directory, db DatabaseProvisioner, logger *zap.Logger) *Service {
	if repo == nil {
		panic("tenants repo is required")
	}
	if directory == nil {
		panic("tenant directory is required")
	}
	if db == nil {
		panic("database provisioner is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, directory: directory, db: db, logger: logger}
}

// List tenants with optional status filter.
func (s *Service) List(ctx context.Context, opts ListOptions) (ListResult, error) {
	return s.repo.List(ctx, opts)
}

// Get returns a tenant by canonical ID or slug, bypassing the directory cache
// so status changes are visible immediately.
func (s *Service) Get(ctx context.Context, identifier string) (Tenant, error) {
	return lookup(ctx, s.repo, identifier)
}

// UpdateStatus moves a tenant to status. Deleted is terminal.
func (s *Service) UpdateStatus(ctx context.Context, identifier string, status Status) (Tenant, error) {
	if _, err := ParseStatus(string(status)); err != nil {
		return Tenant{}, err
	}

	current, err := lookup(ctx, s.repo, identifier)
	if err != nil {
		return Tenant{}, err
	}
	if current.Status == status {
		return current, nil
	}
	if current.Status == StatusDeleted {
		return Tenant{}, fmt.Errorf("%w: tenant %s is deleted", ErrConflict, current.Slug)
	}

	updated, err := s.repo.UpdateStatus(ctx, current.ID, status)
	if err != nil {
		return Tenant{}, err
	}
	s.directory.Invalidate(updated)
	s.logger.Info("tenant status updated", append(requesttrace.FromContextOrAnonymous(ctx).Fields(),
		zap.String("slug", updated.Slug),
		zap.String("from", string(current.Status)),
		zap.String("to", string(updated.Status)),
	)...)
	return updated, nil
}

// RunMigrations applies pending migrations to an existing tenant database and
// records the versions it applied.
func (s *Service) RunMigrations(ctx context.Context, identifier string) ([]string, error) {
	t, err := lookup(ctx, s.repo, identifier)
	if err != nil {
		return nil, err
	}
	if t.Status == StatusDeleted {
		return nil, fmt.Errorf("%w: tenant %s is deleted", ErrConflict, t.Slug)
	}

	versions, err := s.db.Migrate(ctx, t.DatabaseName)
	if err != nil {
		return nil, fmt.Errorf("%w: migrate %s: %w", ErrDatabaseProvisioning, t.DatabaseName, err)
	}
	if _, err := s.repo.RecordMigrations(ctx, t.ID, versions); err != nil {
		return nil, fmt.Errorf("record migrations for %s: %w", t.Slug, err)
	}

	s.logger.Info("tenant migrations applied",
		zap.String("slug", t.Slug),
		zap.String("database", t.DatabaseName),
		zap.Strings("versions", versions),
	)
	return versions, nil
}

// ListMigrations returns a tenant's migration history.
func (s *Service) ListMigrations(ctx context.Context, identifier string) ([]Migration, error) {
	t, err := lookup(ctx, s.repo, identifier)
	if err != nil {
		return nil, err
	}
	return s.repo.ListMigrations(ctx, t.ID)
}

// ResolveTenantSpace returns the routing view of an active tenant, served from the directory cache.
func (s *Service) ResolveTenantSpace(ctx context.Context, identifier string) (tenant.Space, error) {
	return s.directory.ResolveTenantSpace(ctx, identifier)
}

// ActiveSpaces pages through the catalog and returns the routing view of every active tenant.
func (s *Service) ActiveSpaces(ctx context.Context) ([]tenant.Space, error) {
	status := StatusActive
	var spaces []tenant.Space
	for page := 1; ; page++ {
		result, err := s.List(ctx, ListOptions{Page: page, PageSize: 100, Status: &status})
		if err != nil {
			return nil, fmt.Errorf("list active tenants: %w", err)
		}
		for _, t := range result.Tenants {
			spaces = append(spaces, t.Space())
		}
		if page >= result.TotalPages {
			return spaces, nil
		}
	}
}
