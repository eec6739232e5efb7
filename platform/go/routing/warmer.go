package routing

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

// Warm builds and pings the pools of spaces with at most parallel builds in
// flight. Failures are logged and skipped. It returns the number of pools
// that answered.
func (d *DataSource) Warm(ctx context.Context, spaces []tenant.Space, parallel int) int {
	if parallel <= 0 {
		parallel = 4
	}

	var warmed atomic.Int64
	var g errgroup.Group
	g.SetLimit(parallel)
	for _, space := range spaces {
		g.Go(func() error {
			pool, err := d.poolFor(ctx, space.DatabaseName)
			if err == nil {
				err = pool.Ping(ctx)
			}
			if err != nil {
				d.logger.Warn("tenant pool warmup failed",
					zap.String("slug", space.Slug),
					zap.String("database", space.DatabaseName),
					zap.Error(err),
				)
				return nil
			}
			warmed.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	d.logger.Info("tenant pools warmed", zap.Int64("warmed", warmed.Load()), zap.Int("tenants", len(spaces)))
	return int(warmed.Load())
}
