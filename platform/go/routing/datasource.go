// Package routing selects the database connection pool backing a unit of
// work from the tenant carried on its context.
package routing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/zenGate-Global/palmyra-tenancy/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

// ErrClosed is returned once the data source has been closed.
var ErrClosed = errors.New("routing data source closed")

// Resolver maps a tenant identifier (canonical ID or slug) to its routing view.
type Resolver interface {
	ResolveTenantSpace(ctx context.Context, identifier string) (tenant.Space, error)
}

// Config tunes a DataSource.
type Config struct {
	// PoolTemplate is applied to every tenant pool; Database is overridden
	// per tenant. ConnString is usually the control-plane URL.
	PoolTemplate persistence.PoolConfig
	// CacheSize bounds the number of cached tenant pools; 0 never evicts.
	CacheSize int
	// EvictionGrace delays closing an evicted pool so callers that fetched it
	// just before eviction can finish. Defaults to DefaultEvictionGrace.
	EvictionGrace time.Duration
	Policy        Policy
}

// DefaultEvictionGrace is how long an evicted tenant pool stays open.
const DefaultEvictionGrace = time.Minute

// DefaultPoolTemplate returns tenant pool settings sized for many small pools.
func DefaultPoolTemplate(connString string) persistence.PoolConfig {
	return persistence.PoolConfig{
		ConnString:      connString,
		ConnectTimeout:  5 * time.Second,
		ValidationQuery: "SELECT 1",
		SkipPing:        true,
		MaxConns:        10,
		MinConns:        2,
		MaxConnIdleTime: 5 * time.Minute,
		MaxConnLifetime: 15 * time.Minute,
	}
}

// DataSource hands out the control-plane pool or a cached per-tenant pool.
type DataSource struct {
	master   *pgxpool.Pool
	resolver Resolver
	template persistence.PoolConfig
	policy   Policy
	cache    poolCache
	group    singleflight.Group
	metrics  *Metrics
	logger   *zap.Logger

	evictionGrace time.Duration
	retireMu      sync.Mutex
	retiring      map[*pgxpool.Pool]*time.Timer

	closeOnce sync.Once
	closed    chan struct{}
}

// New builds a DataSource. metrics may be nil.
func New(master *pgxpool.Pool, resolver Resolver, cfg Config, metrics *Metrics, logger *zap.Logger) (*DataSource, error) {
	if master == nil {
		return nil, errors.New("control-plane pool is required")
	}
	if resolver == nil {
		return nil, errors.New("tenant resolver is required")
	}
	if cfg.PoolTemplate.ConnString == "" {
		return nil, errors.New("tenant pool connection string is required")
	}
	if cfg.Policy == nil {
		cfg.Policy = DefaultPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.EvictionGrace <= 0 {
		cfg.EvictionGrace = DefaultEvictionGrace
	}

	d := &DataSource{
		master:   master,
		resolver: resolver,
		template: cfg.PoolTemplate,
		policy:   cfg.Policy,
		metrics:  metrics,
		logger:   logger,
		closed:   make(chan struct{}),

		evictionGrace: cfg.EvictionGrace,
		retiring:      make(map[*pgxpool.Pool]*time.Timer),
	}

	if cfg.CacheSize > 0 {
		c, err := newLRUCache(cfg.CacheSize, d.removePool)
		if err != nil {
			return nil, fmt.Errorf("tenant pool cache: %w", err)
		}
		d.cache = c
	} else {
		d.cache = newMapCache(d.removePool)
	}
	return d, nil
}

// ControlPlane returns the control-plane pool.
func (d *DataSource) ControlPlane() *pgxpool.Pool { return d.master }

// ResolveConnectionPool returns the pool of the tenant on ctx. Without a
// tenant, or when the tenant cannot be resolved or connected, it returns the
// control-plane pool and records why.
func (d *DataSource) ResolveConnectionPool(ctx context.Context) *pgxpool.Pool {
	identifier, ok := tenant.IDFromContext(ctx)
	if !ok {
		d.metrics.fellBack(ReasonNoTenant)
		return d.master
	}

	pool, reason, err := d.tenantPool(ctx, identifier)
	if err != nil {
		d.metrics.fellBack(reason)
		d.logger.Warn("tenant routing fell back to control plane",
			zap.String("tenant_id", identifier),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return d.master
	}
	return pool
}

// PoolFor returns the pool for an operation of kind under the routing policy.
func (d *DataSource) PoolFor(ctx context.Context, kind OperationKind) (*pgxpool.Pool, error) {
	switch d.policy.Mode(kind) {
	case ModeControlPlane:
		return d.master, nil
	case ModeTenantPreferred:
		return d.ResolveConnectionPool(ctx), nil
	default:
		identifier, err := tenant.RequireTenantID(ctx)
		if err != nil {
			return nil, err
		}
		pool, _, err := d.tenantPool(ctx, identifier)
		return pool, err
	}
}

// WithTx runs fn in a transaction on the pool PoolFor selects.
func (d *DataSource) WithTx(ctx context.Context, kind OperationKind, fn func(tx pgx.Tx) error) error {
	pool, err := d.PoolFor(ctx, kind)
	if err != nil {
		return err
	}
	return persistence.WithTx(ctx, pool, pgx.TxOptions{}, fn)
}

func (d *DataSource) tenantPool(ctx context.Context, identifier string) (*pgxpool.Pool, string, error) {
	space, err := d.resolver.ResolveTenantSpace(ctx, identifier)
	if err != nil {
		return nil, ReasonResolveError, fmt.Errorf("resolve tenant %s: %w", identifier, err)
	}
	pool, err := d.poolFor(ctx, space.DatabaseName)
	if err != nil {
		return nil, ReasonPoolError, err
	}
	return pool, "", nil
}

// poolFor returns the cached pool for database, building it at most once
// across concurrent callers.
func (d *DataSource) poolFor(ctx context.Context, database string) (*pgxpool.Pool, error) {
	select {
	case <-d.closed:
		return nil, ErrClosed
	default:
	}

	if pool, ok := d.cache.Get(database); ok {
		return pool, nil
	}

	v, err, _ := d.group.Do(database, func() (interface{}, error) {
		if pool, ok := d.cache.Get(database); ok {
			return pool, nil
		}
		cfg := d.template
		cfg.Database = database
		pool, err := persistence.NewPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("tenant pool %s: %w", database, err)
		}
		d.cache.Add(database, pool)
		d.metrics.created()
		d.logger.Info("tenant pool created", zap.String("database", database))
		return pool, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*pgxpool.Pool), nil
}

func (d *DataSource) removePool(database string, pool *pgxpool.Pool) {
	d.metrics.evicted()
	select {
	case <-d.closed:
		d.logger.Info("tenant pool closed", zap.String("database", database))
		// Close waits for acquired connections to come back.
		go pool.Close()
		return
	default:
	}

	d.logger.Info("tenant pool evicted",
		zap.String("database", database),
		zap.Duration("close_after", d.evictionGrace),
	)
	d.retireMu.Lock()
	defer d.retireMu.Unlock()
	d.retiring[pool] = time.AfterFunc(d.evictionGrace, func() { d.closeRetired(database, pool) })
}

func (d *DataSource) closeRetired(database string, pool *pgxpool.Pool) {
	d.retireMu.Lock()
	_, pending := d.retiring[pool]
	delete(d.retiring, pool)
	d.retireMu.Unlock()

	if pending {
		d.logger.Info("tenant pool closed", zap.String("database", database))
		pool.Close()
	}
}

// Len reports the number of cached tenant pools.
func (d *DataSource) Len() int { return d.cache.Len() }

// Close closes every cached tenant pool and every evicted pool still inside
// its grace period. The control-plane pool is left to its owner.
func (d *DataSource) Close() {
	d.closeOnce.Do(func() {
		close(d.closed)
		d.cache.Purge()

		d.retireMu.Lock()
		retiring := d.retiring
		d.retiring = make(map[*pgxpool.Pool]*time.Timer)
		d.retireMu.Unlock()
		for pool, timer := range retiring {
			timer.Stop()
			go pool.Close()
		}
	})
}
