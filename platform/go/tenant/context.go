package tenant

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// ErrTenantContextMissing is returned when an operation requires a tenant scope but none is set.
var ErrTenantContextMissing = errors.New("tenant context missing")

// Space captures the resolved routing metadata for a tenant.
// It is produced by the tenant directory and consumed by the routing data source.
type Space struct {
	TenantID     uuid.UUID
	Slug         string
	DatabaseName string
}

type ctxKey string

const tenantIDKey ctxKey = "PALMYRA_TENANT_ID"

// WithTenantID returns a derived context carrying the tenant identifier.
// The identifier may be a canonical tenant ID or a slug. A blank identifier
// yields a context with no tenant, shadowing any identifier set by a parent.
func WithTenantID(ctx context.Context, identifier string) context.Context {
	return context.WithValue(ctx, tenantIDKey, strings.TrimSpace(identifier))
}

// IDFromContext extracts the tenant identifier and a boolean indicating presence.
// Blank identifiers are reported as absent.
func IDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(tenantIDKey).(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// RequireTenantID returns the tenant identifier or ErrTenantContextMissing.
func RequireTenantID(ctx context.Context) (string, error) {
	id, ok := IDFromContext(ctx)
	if !ok {
		return "", ErrTenantContextMissing
	}
	return id, nil
}

// Scope runs fn with a context scoped to the given tenant. The scope ends when fn
// returns or panics; the caller's context is never modified.
func Scope(ctx context.Context, identifier string, fn func(ctx context.Context) error) error {
	return fn(WithTenantID(ctx, identifier))
}
