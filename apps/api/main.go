package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
	"github.com/caarlos0/env/v11"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	sqlassets "github.com/zenGate-Global/palmyra-tenancy/database"
	tenantshandler "github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/handler"
	tenantsprov "github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/provisioning"
	tenantsrepo "github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/repo"
	tenantsservice "github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/service"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/gcp"
	platformlogging "github.com/zenGate-Global/palmyra-tenancy/platform/go/logging"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/requesttrace"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/routing"
)

func main() {
	ctx := context.Background()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "api-server",
		Level:     cfg.LogLevel,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: cfg.DatabaseURL})
	if err != nil {
		logger.Fatal("init postgres pool", zap.Error(err))
	}
	defer persistence.ClosePool(pool)

	adminPool, err := persistence.NewPool(ctx, persistence.PoolConfig{
		ConnString: cfg.DatabaseURL,
		Database:   cfg.AdminDatabase,
		MaxConns:   2,
	})
	if err != nil {
		logger.Fatal("init admin postgres pool", zap.Error(err))
	}
	defer persistence.ClosePool(adminPool)

	if err := persistence.BootstrapControlPlane(ctx, pool, cfg.BootstrapSchema); err != nil {
		logger.Fatal("bootstrap control plane", zap.Error(err))
	}

	tenantStore, err := persistence.NewTenantStore(ctx, pool, cfg.BootstrapSchema)
	if err != nil {
		logger.Fatal("init tenant store", zap.Error(err))
	}
	tenantRepo := tenantsrepo.NewPostgresRepository(tenantStore)
	directory := tenantsservice.NewDirectory(tenantRepo, logger)

	migrator, err := persistence.NewMigrator(sqlassets.TenantMigrations, sqlassets.TenantMigrationsDir, logger)
	if err != nil {
		logger.Fatal("load tenant migrations", zap.Error(err))
	}
	dbProv := tenantsprov.NewDBProvisioner(adminPool, cfg.DatabaseURL, migrator, logger)

	var fbAuth *firebaseauth.Client
	if needsFirebase(cfg) {
		_, fbAuth, err = gcp.InitFirebaseAuth(ctx, gcp.Config{CredentialsFile: cfg.FirebaseConfig, ProjectID: cfg.FirebaseProject})
		if err != nil {
			logger.Fatal("init firebase auth", zap.Error(err))
		}
	}

	identity, err := buildIdentityGateway(cfg, fbAuth, logger)
	if err != nil {
		logger.Fatal("init identity gateway", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	provisioningMetrics := tenantsservice.NewMetrics()
	registry.MustRegister(provisioningMetrics.PrometheusCollectors()...)
	routingMetrics := routing.NewMetrics()
	registry.MustRegister(routingMetrics.PrometheusCollectors()...)

	tenantService := tenantsservice.New(tenantRepo, directory, dbProv, logger)
	orchestrator := tenantsservice.NewOrchestrator(tenantRepo, identity, dbProv, provisioningMetrics, logger, tenantsservice.OrchestratorConfig{
		AdminRole:          cfg.AdminRole,
		DatabaseNameMaxLen: cfg.DBNameMaxLen,
		ConnectionString: func(database string) (string, error) {
			return persistence.RedactedConnString(cfg.DatabaseURL, database)
		},
	})

	dataSource, err := routing.New(pool, directory, routing.Config{
		PoolTemplate:  cfg.tenantPoolTemplate(),
		CacheSize:     cfg.TenantPoolCacheSize,
		EvictionGrace: cfg.TenantPoolEvictionGrace,
		Policy:        routing.DefaultPolicy(),
	}, routingMetrics, logger)
	if err != nil {
		logger.Fatal("init routing data source", zap.Error(err))
	}
	defer dataSource.Close()

	tenantHTTPHandler, err := tenantshandler.New(tenantService, orchestrator, dataSource, logger)
	if err != nil {
		logger.Fatal("init tenants handler", zap.Error(err))
	}

	authMiddleware, err := buildAuthMiddleware(cfg, fbAuth, logger)
	if err != nil {
		logger.Fatal("init auth middleware", zap.Error(err))
	}

	warmCtx, stopWarm := context.WithCancel(requesttrace.IntoContext(ctx, requesttrace.System("pool-warmup")))
	defer stopWarm()
	if cfg.TenantPoolWarmup {
		go warmPools(warmCtx, tenantService, dataSource, cfg.TenantPoolWarmParallel, logger)
	}

	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: newRouter(routerDeps{
			tenants: tenantHTTPHandler,
			auth:    authMiddleware,
			ready: func(ctx context.Context) error {
				return pingControlPlane(ctx, dataSource)
			},
			metrics:        promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			requestTimeout: cfg.RequestTimeout,
			logger:         logger,
		}),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 30*time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info("starting api server",
			zap.String("port", cfg.Port),
			zap.String("identity_provider", cfg.IdentityProvider),
			zap.String("auth_provider", cfg.AuthProvider),
		)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	stopWarm()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func pingControlPlane(ctx context.Context, ds *routing.DataSource) error {
	pool, err := ds.PoolFor(ctx, routing.KindHealth)
	if err != nil {
		return err
	}
	return pool.Ping(ctx)
}

// warmPools materializes the pools of every active tenant. It never blocks startup.
func warmPools(ctx context.Context, svc *tenantsservice.Service, ds *routing.DataSource, parallel int, logger *zap.Logger) {
	spaces, err := svc.ActiveSpaces(ctx)
	if err != nil {
		logger.Warn("list tenants for pool warmup", zap.Error(err))
		return
	}
	warmed := ds.Warm(ctx, spaces, parallel)
	logger.Info("tenant pools warmed", zap.Int("tenants", len(spaces)), zap.Int("warmed", warmed))
}
