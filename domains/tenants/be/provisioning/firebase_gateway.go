package provisioning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	firebaseauth "firebase.google.com/go/v4/auth"
	"firebase.google.com/go/v4/errorutils"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/service"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/retry"
)

// firebaseUsers is the subset of *auth.Client the gateway uses.
type firebaseUsers interface {
	CreateUser(ctx context.Context, user *firebaseauth.UserToCreate) (*firebaseauth.UserRecord, error)
	GetUser(ctx context.Context, uid string) (*firebaseauth.UserRecord, error)
	DeleteUser(ctx context.Context, uid string) error
	SetCustomUserClaims(ctx context.Context, uid string, customClaims map[string]interface{}) error
}

// firebaseTenants manages Identity Platform tenants, which stand in for organizations.
type firebaseTenants interface {
	CreateTenant(ctx context.Context, displayName string) (string, error)
	DeleteTenant(ctx context.Context, id string) error
	FindTenant(ctx context.Context, displayName string) (string, bool, error)
}

type tenantManager struct {
	tm *firebaseauth.TenantManager
}

func (m tenantManager) CreateTenant(ctx context.Context, displayName string) (string, error) {
	t, err := m.tm.CreateTenant(ctx, (&firebaseauth.TenantToCreate{}).DisplayName(displayName).AllowPasswordSignUp(true))
	if err != nil {
		return "", err
	}
	return t.ID, nil
}

func (m tenantManager) DeleteTenant(ctx context.Context, id string) error {
	return m.tm.DeleteTenant(ctx, id)
}

func (m tenantManager) FindTenant(ctx context.Context, displayName string) (string, bool, error) {
	it := m.tm.Tenants(ctx, "")
	for {
		t, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return "", false, nil
		}
		if err != nil {
			return "", false, err
		}
		if t.DisplayName == displayName {
			return t.ID, true, nil
		}
	}
}

// FirebaseGateway provisions admins as Firebase Auth users and organizations
// as Identity Platform tenants. Membership and role live in custom claims,
// the same claims the token verifier reads back.
type FirebaseGateway struct {
	users   firebaseUsers
	tenants firebaseTenants
	policy  retry.Policy
	logger  *zap.Logger

	mu     sync.Mutex
	slugOf map[string]string // organization ID -> tenant slug
}

// NewFirebaseGateway wraps an initialized Firebase Auth client.
func NewFirebaseGateway(client *firebaseauth.Client, policy retry.Policy, logger *zap.Logger) *FirebaseGateway {
	if client == nil {
		panic("firebase auth client is required")
	}
	return newFirebaseGateway(client, tenantManager{tm: client.TenantManager}, policy, logger)
}

func newFirebaseGateway(users firebaseUsers, tenants firebaseTenants, policy retry.Policy, logger *zap.Logger) *FirebaseGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FirebaseGateway{
		users:   users,
		tenants: tenants,
		policy:  policy,
		logger:  logger.With(zap.String("identity_provider", "firebase")),
		slugOf:  make(map[string]string),
	}
}

// firebaseDisplayName fits a slug into tenant display name rules: 4-20
// characters, leading letter, letters, digits and hyphens.
func firebaseDisplayName(slug string) string {
	name := slug
	if name == "" || name[0] < 'a' || name[0] > 'z' {
		name = "t-" + name
	}
	for len(name) < 4 {
		name += "0"
	}
	if len(name) > 20 {
		name = strings.TrimRight(name[:20], "-")
	}
	return name
}

func classifyFirebase(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case firebaseauth.IsEmailAlreadyExists(err), errorutils.IsAlreadyExists(err):
		return fmt.Errorf("%w: firebase %s: %w", service.ErrConflict, op, err)
	case firebaseauth.IsUserNotFound(err), firebaseauth.IsTenantNotFound(err), errorutils.IsNotFound(err):
		return fmt.Errorf("%w: firebase %s: %w", service.ErrNotFound, op, err)
	case transientFirebase(err):
		return fmt.Errorf("%w: firebase %s: %w", service.ErrTransientExternal, op, err)
	default:
		return fmt.Errorf("%w: firebase %s: %w", service.ErrTerminalExternal, op, err)
	}
}

func transientFirebase(err error) bool {
	return errorutils.IsUnavailable(err) ||
		errorutils.IsInternal(err) ||
		errorutils.IsDeadlineExceeded(err) ||
		errorutils.IsResourceExhausted(err)
}

func (g *FirebaseGateway) CreateUser(ctx context.Context, user service.AdminUser) (string, error) {
	params := (&firebaseauth.UserToCreate{}).
		Email(user.Email).
		Password(user.Password).
		EmailVerified(user.EmailVerified)
	if name := strings.TrimSpace(user.FirstName + " " + user.LastName); name != "" {
		params = params.DisplayName(name)
	}

	rec, err := g.users.CreateUser(ctx, params)
	if err != nil {
		return "", classifyFirebase("create user", err)
	}
	g.logger.Info("firebase user created", zap.String("user_id", rec.UID))
	return rec.UID, nil
}

func (g *FirebaseGateway) DeleteUser(ctx context.Context, userID string) error {
	err := g.users.DeleteUser(ctx, userID)
	if firebaseauth.IsUserNotFound(err) {
		return nil
	}
	return classifyFirebase("delete user", err)
}

func (g *FirebaseGateway) CreateOrganization(ctx context.Context, alias, _ string, _ string) (service.Organization, error) {
	displayName := firebaseDisplayName(alias)
	if _, found, err := g.tenants.FindTenant(ctx, displayName); err != nil {
		return service.Organization{}, classifyFirebase("list tenants", err)
	} else if found {
		return service.Organization{}, fmt.Errorf("%w: firebase tenant %s", service.ErrConflict, displayName)
	}

	id, err := g.tenants.CreateTenant(ctx, displayName)
	if err != nil {
		return service.Organization{}, classifyFirebase("create tenant", err)
	}

	g.mu.Lock()
	g.slugOf[id] = alias
	g.mu.Unlock()

	g.logger.Info("firebase tenant created", zap.String("organization_id", id), zap.String("alias", alias))
	return service.Organization{ID: id}, nil
}

func (g *FirebaseGateway) DeleteOrganization(ctx context.Context, orgID string) error {
	err := g.tenants.DeleteTenant(ctx, orgID)
	if firebaseauth.IsTenantNotFound(err) {
		err = nil
	}

	g.mu.Lock()
	delete(g.slugOf, orgID)
	g.mu.Unlock()
	return classifyFirebase("delete tenant", err)
}

func (g *FirebaseGateway) BindUserToOrganization(ctx context.Context, orgID, userID string) (int, error) {
	return BindWithRetry(ctx, g, orgID, userID, g.policy, g.logger)
}

func (g *FirebaseGateway) AssignRole(ctx context.Context, _, userID, role string) error {
	return classifyFirebase("assign role", g.mergeClaims(ctx, userID, map[string]interface{}{
		"role":    role,
		"isAdmin": role == "admin",
	}))
}

// BindOnce writes the tenant claims the token verifier routes on.
func (g *FirebaseGateway) BindOnce(ctx context.Context, orgID, userID string) error {
	g.mu.Lock()
	slug, ok := g.slugOf[orgID]
	g.mu.Unlock()
	if !ok {
		slug = orgID
	}
	return g.mergeClaims(ctx, userID, map[string]interface{}{
		"tenant_id":       slug,
		"organization_id": orgID,
	})
}

func (g *FirebaseGateway) mergeClaims(ctx context.Context, userID string, claims map[string]interface{}) error {
	rec, err := g.users.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	merged := make(map[string]interface{}, len(rec.CustomClaims)+len(claims))
	for k, v := range rec.CustomClaims {
		merged[k] = v
	}
	for k, v := range claims {
		merged[k] = v
	}
	return g.users.SetCustomUserClaims(ctx, userID, merged)
}

func (g *FirebaseGateway) UserExists(ctx context.Context, userID string) (bool, error) {
	_, err := g.users.GetUser(ctx, userID)
	switch {
	case err == nil:
		return true, nil
	case firebaseauth.IsUserNotFound(err):
		return false, nil
	default:
		return false, err
	}
}

// Retryable treats a not-yet-visible user and unavailable backends as transient.
func (g *FirebaseGateway) Retryable(err error) bool {
	return firebaseauth.IsUserNotFound(err) || transientFirebase(err) || messageLooksNotYetVisible(err.Error())
}

var (
	_ service.IdentityGateway = (*FirebaseGateway)(nil)
	_ Binder                  = (*FirebaseGateway)(nil)
)
