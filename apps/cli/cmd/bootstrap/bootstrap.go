package bootstrap

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zenGate-Global/palmyra-tenancy/apps/cli/wiring"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/persistence"
)

// Command groups bootstrap helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Bootstrap platform resources",
	}

	cmd.AddCommand(controlPlaneCommand())
	return cmd
}

func controlPlaneCommand() *cobra.Command {
	opts := wiring.FromEnv()

	c := &cobra.Command{
		Use:   "control-plane",
		Short: "Create the tenant catalog tables (idempotent)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.Validate(); err != nil {
				return err
			}
			ctx := context.Background()

			pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: opts.DatabaseURL})
			if err != nil {
				return fmt.Errorf("init pool: %w", err)
			}
			defer persistence.ClosePool(pool)

			if err := persistence.BootstrapControlPlane(ctx, pool, opts.Schema); err != nil {
				return err
			}

			schema := opts.Schema
			if schema == "" {
				schema = "(search_path)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Control plane ready in schema %s\n", schema)
			return nil
		},
	}

	opts.BindDatabase(c.Flags())
	return c
}
