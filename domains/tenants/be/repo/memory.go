package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/service"
)

// MemoryRepository is an in-memory catalog for tests and local development.
type MemoryRepository struct {
	mu         sync.RWMutex
	byID       map[uuid.UUID]service.Tenant
	bySlug     map[string]uuid.UUID
	migrations map[uuid.UUID][]service.Migration
}

// NewMemoryRepository constructs a MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:       make(map[uuid.UUID]service.Tenant),
		bySlug:     make(map[string]uuid.UUID),
		migrations: make(map[uuid.UUID][]service.Migration),
	}
}

func (r *MemoryRepository) List(ctx context.Context, opts service.ListOptions) (service.ListResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]service.Tenant, 0, len(r.byID))
	for _, t := range r.byID {
		if opts.Status != nil && t.Status != *opts.Status {
			continue
		}
		items = append(items, t)
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].Slug < items[j].Slug
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})

	page, pageSize := normalizePage(opts)
	start := (page - 1) * pageSize
	end := start + pageSize
	if start > len(items) {
		start = len(items)
	}
	if end > len(items) {
		end = len(items)
	}

	return service.ListResult{
		Tenants:    items[start:end],
		Page:       page,
		PageSize:   pageSize,
		TotalItems: len(items),
		TotalPages: (len(items) + pageSize - 1) / pageSize,
	}, nil
}

func (r *MemoryRepository) Create(ctx context.Context, t service.Tenant) (service.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.bySlug[t.Slug]; exists {
		return service.Tenant{}, fmt.Errorf("%w: tenant slug %s", service.ErrConflict, t.Slug)
	}
	for _, existing := range r.byID {
		if existing.DatabaseName == t.DatabaseName {
			return service.Tenant{}, fmt.Errorf("%w: database %s", service.ErrConflict, t.DatabaseName)
		}
	}

	r.byID[t.ID] = t
	r.bySlug[t.Slug] = t.ID
	return t, nil
}

func (r *MemoryRepository) Get(ctx context.Context, id uuid.UUID) (service.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.byID[id]
	if !ok {
		return service.Tenant{}, service.ErrNotFound
	}
	return t, nil
}

func (r *MemoryRepository) FindBySlug(ctx context.Context, slug string) (service.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.bySlug[slug]
	if !ok {
		return service.Tenant{}, service.ErrNotFound
	}
	return r.byID[id], nil
}

func (r *MemoryRepository) ExistsBySlug(ctx context.Context, slug string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.bySlug[slug]
	return ok, nil
}

func (r *MemoryRepository) ExistsByDatabaseName(ctx context.Context, name string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, t := range r.byID {
		if t.DatabaseName == name {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status service.Status) (service.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[id]
	if !ok {
		return service.Tenant{}, service.ErrNotFound
	}
	t.Status = status
	t.UpdatedAt = time.Now().UTC()
	r.byID[id] = t
	return t, nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[id]
	if !ok {
		return service.ErrNotFound
	}
	delete(r.byID, id)
	delete(r.bySlug, t.Slug)
	delete(r.migrations, id)
	return nil
}

func (r *MemoryRepository) RecordMigrations(ctx context.Context, tenantID uuid.UUID, versions []string) ([]service.Migration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[tenantID]; !ok {
		return nil, service.ErrNotFound
	}

	known := make(map[string]bool, len(r.migrations[tenantID]))
	for _, m := range r.migrations[tenantID] {
		known[m.Version] = true
	}

	now := time.Now().UTC()
	var inserted []service.Migration
	for _, v := range versions {
		if v == "" || known[v] {
			continue
		}
		known[v] = true
		m := service.Migration{ID: uuid.New(), TenantID: tenantID, Version: v, AppliedAt: now, Status: "success"}
		r.migrations[tenantID] = append(r.migrations[tenantID], m)
		inserted = append(inserted, m)
	}
	return inserted, nil
}

func (r *MemoryRepository) ListMigrations(ctx context.Context, tenantID uuid.UUID) ([]service.Migration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]service.Migration, len(r.migrations[tenantID]))
	copy(out, r.migrations[tenantID])
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func normalizePage(opts service.ListOptions) (int, int) {
	page := opts.Page
	if page < 1 {
		page = 1
	}
	size := opts.PageSize
	if size <= 0 {
		size = 20
	}
	return page, size
}

// Ensure interface compliance.
var _ service.Repository = (*MemoryRepository)(nil)
