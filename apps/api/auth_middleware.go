package main

import (
	"fmt"
	"net/http"
	"strings"

	firebaseauth "firebase.google.com/go/v4/auth"
	"go.uber.org/zap"

	platformauth "github.com/zenGate-Global/palmyra-tenancy/platform/go/auth"
)

// buildAuthMiddleware constructs the JWT middleware for cfg.AuthProvider. The
// tenant claim is normalized so the routing layer sees slugs in lower case.
func buildAuthMiddleware(cfg config, fbAuth *firebaseauth.Client, logger *zap.Logger) (func(http.Handler) http.Handler, error) {
	var verify platformauth.VerifyFunc
	switch cfg.AuthProvider {
	case "firebase":
		if fbAuth == nil {
			return nil, fmt.Errorf("firebase auth client is required for AUTH_PROVIDER=firebase")
		}
		verify = platformauth.FirebaseTokenVerifier(fbAuth)
	case "dev":
		logger.Warn("using dev auth middleware; do not use in production")
		verify = platformauth.UnsignedTokenVerifier()
	default:
		return nil, fmt.Errorf("unsupported auth provider %q", cfg.AuthProvider)
	}

	return platformauth.JWT(verify, extractCredentials), nil
}

func extractCredentials(claims map[string]interface{}) (*platformauth.UserCredentials, error) {
	creds, err := platformauth.DefaultCredentialExtractor(claims)
	if err != nil {
		return nil, err
	}
	if creds.TenantID != nil {
		tid := strings.ToLower(strings.TrimSpace(*creds.TenantID))
		if tid == "" {
			creds.TenantID = nil
		} else {
			creds.TenantID = &tid
		}
	}
	return creds, nil
}
