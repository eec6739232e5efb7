package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	tenantshandler "github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/handler"
	platformauth "github.com/zenGate-Global/palmyra-tenancy/platform/go/auth"
	platformlogging "github.com/zenGate-Global/palmyra-tenancy/platform/go/logging"
	platformmiddleware "github.com/zenGate-Global/palmyra-tenancy/platform/go/middleware"
	tenantmiddleware "github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant/middleware"
)

// routerDeps carries what newRouter mounts.
type routerDeps struct {
	tenants        *tenantshandler.Handler
	auth           func(http.Handler) http.Handler
	ready          func(ctx context.Context) error
	metrics        http.Handler
	requestTimeout time.Duration
	logger         *zap.Logger
}

func newRouter(d routerDeps) http.Handler {
	rootRouter := chi.NewRouter()

	rootRouter.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		chimw.Timeout(d.requestTimeout),
	)
	rootRouter.Use(platformlogging.RequestLogger(d.logger))

	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if d.ready != nil {
			if err := d.ready(r.Context()); err != nil {
				platformlogging.FromRequest(r, d.logger).Warn("readiness check failed", zap.Error(err))
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	if d.metrics != nil {
		rootRouter.Method(http.MethodGet, "/metrics", d.metrics)
	}

	apiRouter := chi.NewRouter()
	apiRouter.Use(d.auth)
	apiRouter.Use(platformmiddleware.RequestTrace)

	apiRouter.Route("/admin", func(r chi.Router) {
		r.Use(platformauth.RequireRole(platformauth.AdminRole))
		d.tenants.AdminRoutes(r)
	})

	apiRouter.Group(func(r chi.Router) {
		r.Use(tenantmiddleware.WithTenantScope(tenantmiddleware.Config{Required: true}))
		r.Get("/tenant/database", d.tenants.TenantDatabase)
	})

	apiRouter.Group(func(r chi.Router) {
		r.Use(tenantmiddleware.WithTenantScope(tenantmiddleware.Config{}))
		r.Get("/session/database", d.tenants.SessionDatabase)
	})

	rootRouter.Mount("/api/v1", apiRouter)
	return rootRouter
}
