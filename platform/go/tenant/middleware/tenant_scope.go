package middleware

import (
	"net/http"

	"go.uber.org/zap"

	platformauth "github.com/zenGate-Global/palmyra-tenancy/platform/go/auth"
	platformlogging "github.com/zenGate-Global/palmyra-tenancy/platform/go/logging"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

// Config controls middleware behavior.
type Config struct {
	// Required rejects requests whose credentials carry no tenant claim.
	Required bool
}

// WithTenantScope copies the tenant claim of the authenticated caller into the
// request context for the duration of the downstream handler. The claim is
// trusted as-is; token verification happens upstream in the auth middleware.
func WithTenantScope(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			creds, ok := platformauth.UserFromContext(r.Context())
			if !ok || creds == nil || creds.TenantID == nil || *creds.TenantID == "" {
				if cfg.Required {
					http.Error(w, "tenant required", http.StatusUnauthorized)
					return
				}
				// Shadow anything an outer layer may have set.
				ctx := tenant.WithTenantID(r.Context(), "")
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			ctx := tenant.WithTenantID(r.Context(), *creds.TenantID)
			if logger, ok := platformlogging.FromContext(ctx); ok {
				ctx = platformlogging.WithLogger(ctx, logger.With(zap.String("tenant_id", *creds.TenantID)))
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
