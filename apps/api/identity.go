package main

import (
	firebaseauth "firebase.google.com/go/v4/auth"
	"go.uber.org/zap"

	tenantsprov "github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/provisioning"
	tenantsservice "github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/service"
)

func needsFirebase(cfg config) bool {
	return cfg.AuthProvider == "firebase" || cfg.IdentityProvider == tenantsprov.ProviderFirebase
}

func buildIdentityGateway(cfg config, fbAuth *firebaseauth.Client, logger *zap.Logger) (tenantsservice.IdentityGateway, error) {
	return tenantsprov.NewIdentityGateway(tenantsprov.IdentityConfig{
		Provider:  cfg.IdentityProvider,
		Keycloak:  cfg.keycloakConfig(),
		Firebase:  fbAuth,
		BindRetry: cfg.bindRetryPolicy(),
	}, logger)
}
