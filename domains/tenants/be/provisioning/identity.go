package provisioning

import (
	"fmt"

	firebaseauth "firebase.google.com/go/v4/auth"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/service"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/keycloak"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/retry"
)

// Identity provider names accepted by NewIdentityGateway.
const (
	ProviderKeycloak = "keycloak"
	ProviderFirebase = "firebase"
)

// IdentityConfig selects and configures the identity provider that owns tenant
// users and organizations. Firebase is used only when Provider is "firebase".
type IdentityConfig struct {
	Provider  string
	Keycloak  keycloak.Config
	Firebase  *firebaseauth.Client
	BindRetry retry.Policy
}

// NewIdentityGateway builds the gateway named by cfg.Provider.
func NewIdentityGateway(cfg IdentityConfig, logger *zap.Logger) (service.IdentityGateway, error) {
	switch cfg.Provider {
	case ProviderKeycloak, "":
		client, err := keycloak.New(cfg.Keycloak, nil)
		if err != nil {
			return nil, fmt.Errorf("init keycloak client: %w", err)
		}
		return NewKeycloakGateway(client, cfg.BindRetry, logger), nil
	case ProviderFirebase:
		if cfg.Firebase == nil {
			return nil, fmt.Errorf("firebase auth client is required for the firebase identity provider")
		}
		return NewFirebaseGateway(cfg.Firebase, cfg.BindRetry, logger), nil
	default:
		return nil, fmt.Errorf("unsupported identity provider %q", cfg.Provider)
	}
}
