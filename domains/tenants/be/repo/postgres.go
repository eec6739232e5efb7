package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/service"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/persistence"
)

// PostgresRepository implements the tenant repository on the control-plane TenantStore.
type PostgresRepository struct {
	store *persistence.TenantStore
}

// NewPostgresRepository constructs a repository backed by TenantStore.
func NewPostgresRepository(store *persistence.TenantStore) *PostgresRepository {
	if store == nil {
		panic("tenant store is required")
	}
	return &PostgresRepository{store: store}
}

func (r *PostgresRepository) List(ctx context.Context, opts service.ListOptions) (service.ListResult, error) {
	page, size := normalizePage(opts)
	offset := (page - 1) * size

	var statusStr *string
	if opts.Status != nil {
		s := string(*opts.Status)
		statusStr = &s
	}

	rows, total, err := r.store.List(ctx, statusStr, size, offset)
	if err != nil {
		return service.ListResult{}, err
	}

	tenants := make([]service.Tenant, 0, len(rows))
	for _, rec := range rows {
		t, err := toServiceTenant(rec)
		if err != nil {
			return service.ListResult{}, err
		}
		tenants = append(tenants, t)
	}

	totalPages := (total + size - 1) / size
	return service.ListResult{Tenants: tenants, Page: page, PageSize: size, TotalItems: total, TotalPages: totalPages}, nil
}

func (r *PostgresRepository) Create(ctx context.Context, t service.Tenant) (service.Tenant, error) {
	out, err := r.store.Create(ctx, toRecord(t))
	if err != nil {
		return service.Tenant{}, mapConflict(err)
	}
	return toServiceTenant(out)
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (service.Tenant, error) {
	rec, err := r.store.GetByID(ctx, id)
	if err != nil {
		return service.Tenant{}, mapNotFound(err)
	}
	return toServiceTenant(rec)
}

func (r *PostgresRepository) FindBySlug(ctx context.Context, slug string) (service.Tenant, error) {
	rec, err := r.store.GetBySlug(ctx, slug)
	if err != nil {
		return service.Tenant{}, mapNotFound(err)
	}
	return toServiceTenant(rec)
}

func (r *PostgresRepository) ExistsBySlug(ctx context.Context, slug string) (bool, error) {
	return r.store.ExistsBySlug(ctx, slug)
}

func (r *PostgresRepository) ExistsByDatabaseName(ctx context.Context, name string) (bool, error) {
	return r.store.ExistsByDatabaseName(ctx, name)
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status service.Status) (service.Tenant, error) {
	rec, err := r.store.UpdateStatus(ctx, id, string(status))
	if err != nil {
		return service.Tenant{}, mapNotFound(err)
	}
	return toServiceTenant(rec)
}

func (r *PostgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return mapNotFound(r.store.Delete(ctx, id))
}

func (r *PostgresRepository) RecordMigrations(ctx context.Context, tenantID uuid.UUID, versions []string) ([]service.Migration, error) {
	recs, err := r.store.RecordMigrations(ctx, tenantID, versions)
	if err != nil {
		return nil, err
	}
	return toServiceMigrations(recs), nil
}

func (r *PostgresRepository) ListMigrations(ctx context.Context, tenantID uuid.UUID) ([]service.Migration, error) {
	recs, err := r.store.ListMigrations(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return toServiceMigrations(recs), nil
}

func toRecord(t service.Tenant) persistence.TenantRecord {
	return persistence.TenantRecord{
		TenantID:         t.ID,
		Slug:             t.Slug,
		DisplayName:      t.DisplayName,
		Status:           string(t.Status),
		Tier:             t.Tier,
		DatabaseName:     t.DatabaseName,
		ConnectionString: t.ConnectionString,
		MaxUsers:         int32(t.Limits.MaxUsers),
		MaxStorageGB:     int32(t.Limits.MaxStorageGB),
		Metadata:         t.Metadata,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
	}
}

func toServiceTenant(rec persistence.TenantRecord) (service.Tenant, error) {
	status, err := service.ParseStatus(rec.Status)
	if err != nil {
		return service.Tenant{}, fmt.Errorf("tenant %s: %w", rec.TenantID, err)
	}
	return service.Tenant{
		ID:               rec.TenantID,
		Slug:             rec.Slug,
		DisplayName:      rec.DisplayName,
		Status:           status,
		Tier:             rec.Tier,
		DatabaseName:     rec.DatabaseName,
		ConnectionString: rec.ConnectionString,
		Limits:           service.Limits{MaxUsers: int(rec.MaxUsers), MaxStorageGB: int(rec.MaxStorageGB)},
		Metadata:         rec.Metadata,
		CreatedAt:        rec.CreatedAt,
		UpdatedAt:        rec.UpdatedAt,
	}, nil
}

func toServiceMigrations(recs []persistence.TenantMigrationRecord) []service.Migration {
	out := make([]service.Migration, 0, len(recs))
	for _, m := range recs {
		out = append(out, service.Migration{
			ID:        m.MigrationID,
			TenantID:  m.TenantID,
			Version:   m.Version,
			AppliedAt: m.AppliedAt,
			Status:    m.Status,
		})
	}
	return out
}

func mapNotFound(err error) error {
	if errors.Is(err, persistence.ErrNotFound) {
		return service.ErrNotFound
	}
	return err
}

func mapConflict(err error) error {
	if persistence.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %v", service.ErrConflict, err)
	}
	return err
}

// Ensure interface compliance.
var _ service.Repository = (*PostgresRepository)(nil)
