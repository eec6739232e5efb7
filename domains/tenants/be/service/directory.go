package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

// Directory resolves tenant identifiers (canonical ID or slug) to catalog
// entries and caches hits for the life of the process. Misses are not cached
// so a tenant becomes resolvable as soon as provisioning persists it.
type Directory struct {
	repo   Repository
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]Tenant
}

// NewDirectory constructs a Directory over repo.
func NewDirectory(repo Repository, logger *zap.Logger) *Directory {
	if repo == nil {
		panic("tenants repo is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{repo: repo, logger: logger, cache: make(map[string]Tenant)}
}

// Resolve returns the tenant for identifier or an error wrapping ErrNotFound.
func (d *Directory) Resolve(ctx context.Context, identifier string) (Tenant, error) {
	key := strings.TrimSpace(identifier)

	d.mu.RLock()
	t, ok := d.cache[key]
	d.mu.RUnlock()
	if ok {
		return t, nil
	}

	t, err := lookup(ctx, d.repo, key)
	if err != nil {
		return Tenant{}, err
	}

	d.mu.Lock()
	d.cache[key] = t
	d.cache[t.ID.String()] = t
	d.cache[t.Slug] = t
	d.mu.Unlock()

	d.logger.Debug("tenant directory cached", zap.String("identifier", key), zap.String("slug", t.Slug))
	return t, nil
}

// ResolveTenantSpace resolves identifier and returns its routing view. Only
// active tenants are routable.
func (d *Directory) ResolveTenantSpace(ctx context.Context, identifier string) (tenant.Space, error) {
	t, err := d.Resolve(ctx, identifier)
	if err != nil {
		return tenant.Space{}, err
	}
	if t.Status != StatusActive {
		return tenant.Space{}, fmt.Errorf("%w: %s is %s", ErrTenantInactive, t.Slug, t.Status)
	}
	return t.Space(), nil
}

// Invalidate drops every cache entry pointing at t. Called after this process
// changes a tenant's status; other processes keep their entries.
func (d *Directory) Invalidate(t Tenant) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, cached := range d.cache {
		if cached.ID == t.ID {
			delete(d.cache, key)
		}
	}
}

// Len reports the number of cached identifiers.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.cache)
}
