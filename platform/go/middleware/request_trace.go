package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	platformauth "github.com/zenGate-Global/palmyra-tenancy/platform/go/auth"
	platformlogging "github.com/zenGate-Global/palmyra-tenancy/platform/go/logging"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/requesttrace"
)

// RequestTrace stores the request Actor on the context and adds its fields to the request logger.
// It must run after authentication so credentials are available when present.
func RequestTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := platformlogging.FromRequest(r, nil)
		requestID := middleware.GetReqID(r.Context())

		var actor requesttrace.Actor
		if creds, ok := platformauth.UserFromContext(r.Context()); ok && creds != nil {
			var err error
			actor, err = requesttrace.FromCredentials(creds, requestID)
			if err != nil {
				if logger != nil {
					logger.Error("build actor from credentials", zap.Error(err))
				}
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		} else {
			actor = requesttrace.Anonymous(requestID)
		}

		ctx := requesttrace.IntoContext(r.Context(), actor)
		if logger != nil {
			ctx = platformlogging.WithLogger(ctx, logger.With(actor.Fields()...))
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
