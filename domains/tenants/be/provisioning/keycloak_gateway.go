package provisioning

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/service"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/keycloak"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/retry"
)

// KeycloakGateway provisions users and organizations in a Keycloak realm.
// Organizations are created empty, so membership is bound separately.
type KeycloakGateway struct {
	client *keycloak.Client
	policy retry.Policy
	logger *zap.Logger
}

// NewKeycloakGateway wraps client; policy governs membership binding.
func NewKeycloakGateway(client *keycloak.Client, policy retry.Policy, logger *zap.Logger) *KeycloakGateway {
	if client == nil {
		panic("keycloak client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeycloakGateway{client: client, policy: policy, logger: logger.With(zap.String("identity_provider", "keycloak"))}
}

// classifyKeycloak maps admin API failures onto the service taxonomy.
func classifyKeycloak(op string, err error) error {
	if err == nil {
		return nil
	}
	status := keycloak.StatusCode(err)
	switch {
	case status == http.StatusConflict:
		return fmt.Errorf("%w: keycloak %s: %w", service.ErrConflict, op, err)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: keycloak %s: %w", service.ErrNotFound, op, err)
	case status == 0, status == http.StatusTooManyRequests, status >= 500:
		return fmt.Errorf("%w: keycloak %s: %w", service.ErrTransientExternal, op, err)
	default:
		return fmt.Errorf("%w: keycloak %s: %w", service.ErrTerminalExternal, op, err)
	}
}

func (g *KeycloakGateway) CreateUser(ctx context.Context, user service.AdminUser) (string, error) {
	id, err := g.client.CreateUser(ctx, keycloak.User{
		Username:      user.Email,
		Email:         user.Email,
		FirstName:     user.FirstName,
		LastName:      user.LastName,
		Enabled:       true,
		EmailVerified: user.EmailVerified,
	}, user.Password)
	if err != nil {
		return "", classifyKeycloak("create user", err)
	}
	g.logger.Info("keycloak user created", zap.String("user_id", id))
	return id, nil
}

func (g *KeycloakGateway) DeleteUser(ctx context.Context, userID string) error {
	err := g.client.DeleteUser(ctx, userID)
	if keycloak.IsNotFound(err) {
		return nil
	}
	return classifyKeycloak("delete user", err)
}

func (g *KeycloakGateway) CreateOrganization(ctx context.Context, alias, name, _ string) (service.Organization, error) {
	id, err := g.client.CreateOrganization(ctx, keycloak.Organization{Name: name, Alias: alias})
	if err != nil {
		return service.Organization{}, classifyKeycloak("create organization", err)
	}
	g.logger.Info("keycloak organization created", zap.String("organization_id", id), zap.String("alias", alias))
	return service.Organization{ID: id}, nil
}

func (g *KeycloakGateway) DeleteOrganization(ctx context.Context, orgID string) error {
	err := g.client.DeleteOrganization(ctx, orgID)
	if keycloak.IsNotFound(err) {
		return nil
	}
	return classifyKeycloak("delete organization", err)
}

func (g *KeycloakGateway) BindUserToOrganization(ctx context.Context, orgID, userID string) (int, error) {
	return BindWithRetry(ctx, g, orgID, userID, g.policy, g.logger)
}

func (g *KeycloakGateway) AssignRole(ctx context.Context, orgID, userID, role string) error {
	return classifyKeycloak("assign role", g.client.AssignOrganizationRole(ctx, orgID, userID, role))
}

// BindOnce adds the member; an existing membership counts as bound.
func (g *KeycloakGateway) BindOnce(ctx context.Context, orgID, userID string) error {
	err := g.client.AddOrganizationMember(ctx, orgID, userID)
	if keycloak.IsConflict(err) {
		return nil
	}
	return err
}

func (g *KeycloakGateway) UserExists(ctx context.Context, userID string) (bool, error) {
	_, err := g.client.GetUser(ctx, userID)
	switch {
	case err == nil:
		return true, nil
	case keycloak.IsNotFound(err):
		return false, nil
	default:
		return false, err
	}
}

// Retryable treats 400, 5xx and transport failures as possibly transient, as
// well as any response whose message says the user is not visible yet.
func (g *KeycloakGateway) Retryable(err error) bool {
	var apiErr *keycloak.APIError
	if !errors.As(err, &apiErr) {
		return true
	}
	if apiErr.StatusCode == http.StatusBadRequest || apiErr.StatusCode >= 500 {
		return true
	}
	return messageLooksNotYetVisible(apiErr.Message)
}

var (
	_ service.IdentityGateway = (*KeycloakGateway)(nil)
	_ Binder                  = (*KeycloakGateway)(nil)
)
