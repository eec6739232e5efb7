package service

import (
	"context"
)

// AdminUser describes the initial tenant administrator.
type AdminUser struct {
	Email         string
	Password      string
	FirstName     string
	LastName      string
	EmailVerified bool
}

// Organization is the identity-provider organization created for a tenant.
// MemberBound is true when the provider attached the initial member atomically
// at creation, so no separate bind call is needed.
type Organization struct {
	ID          string
	MemberBound bool
}

// IdentityGateway is the narrow synchronous surface of the external identity
// provider. Implementations map provider "already exists" responses to
// ErrConflict and classify other failures with ErrTransientExternal or
// ErrTerminalExternal.
type IdentityGateway interface {
	CreateUser(ctx context.Context, user AdminUser) (string, error)
	// DeleteUser treats an unknown user as success.
	DeleteUser(ctx context.Context, userID string) error
	// CreateOrganization may attach initialMemberID when the provider supports it.
	CreateOrganization(ctx context.Context, alias, name, initialMemberID string) (Organization, error)
	// DeleteOrganization treats an unknown organization as success.
	DeleteOrganization(ctx context.Context, orgID string) error
	// BindUserToOrganization retries while the provider has not yet indexed
	// userID and returns the number of attempts made.
	BindUserToOrganization(ctx context.Context, orgID, userID string) (int, error)
	AssignRole(ctx context.Context, orgID, userID, role string) error
}

// DatabaseProvisioner creates tenant databases and keeps their schema current.
type DatabaseProvisioner interface {
	// EnsureDatabase creates name through an administrative connection unless it already exists.
	EnsureDatabase(ctx context.Context, name string) error
	// Migrate applies pending migrations to name and returns the newly applied versions.
	Migrate(ctx context.Context, name string) ([]string, error)
}
