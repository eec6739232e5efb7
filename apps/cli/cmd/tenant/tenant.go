package tenantcmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zenGate-Global/palmyra-tenancy/apps/cli/wiring"
	"github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/service"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/requesttrace"
)

// Command groups tenant lifecycle helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Provision and administer tenants",
	}

	cmd.AddCommand(provisionCommand())
	cmd.AddCommand(migrateCommand())
	cmd.AddCommand(statusCommand())
	cmd.AddCommand(migrationsCommand())
	return cmd
}

func cliContext() context.Context {
	return requesttrace.IntoContext(context.Background(), requesttrace.System("cli"))
}

func provisionCommand() *cobra.Command {
	opts := wiring.FromEnv()
	var req service.ProvisionRequest

	c := &cobra.Command{
		Use:   "provision",
		Short: "Run the onboarding saga: admin user, organization, database, migrations, catalog record",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cliContext()

			rt, err := opts.Open(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			orch, err := rt.Orchestrator(ctx)
			if err != nil {
				return err
			}

			created, err := orch.Provision(ctx, req)
			if err != nil {
				if step, ok := service.FailedStep(err); ok {
					return fmt.Errorf("provisioning failed at %s: %w", step, err)
				}
				return err
			}
			return writeJSON(cmd.OutOrStdout(), tenantView(created))
		},
	}

	f := c.Flags()
	opts.BindDatabase(f)
	opts.BindProvisioning(f)
	f.StringVar(&req.TenantName, "name", "", "tenant display name")
	f.StringVar(&req.Slug, "slug", "", "tenant slug (lowercase letters, digits, hyphens)")
	f.StringVar(&req.Tier, "tier", "standard", "tenant tier")
	f.IntVar(&req.Limits.MaxUsers, "max-users", 0, "user limit")
	f.IntVar(&req.Limits.MaxStorageGB, "max-storage-gb", 0, "storage limit in GB")
	f.StringVar(&req.AdminUser.Email, "admin-email", "", "admin user email")
	f.StringVar(&req.AdminUser.Password, "admin-password", "", "admin user initial password")
	f.StringVar(&req.AdminUser.FirstName, "admin-first-name", "", "admin user first name")
	f.StringVar(&req.AdminUser.LastName, "admin-last-name", "", "admin user last name")
	f.BoolVar(&req.AdminUser.EmailVerified, "admin-email-verified", false, "mark the admin email as verified")

	_ = c.MarkFlagRequired("name")
	_ = c.MarkFlagRequired("slug")
	_ = c.MarkFlagRequired("admin-email")
	_ = c.MarkFlagRequired("admin-password")
	return c
}

func migrateCommand() *cobra.Command {
	opts := wiring.FromEnv()

	c := &cobra.Command{
		Use:   "migrate <tenant>",
		Short: "Apply pending migrations to a tenant database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cliContext()
			rt, err := opts.Open(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			applied, err := rt.Service.RunMigrations(ctx, args[0])
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Tenant %s is up to date\n", args[0])
				return nil
			}
			for _, v := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", v)
			}
			return nil
		},
	}

	opts.BindDatabase(c.Flags())
	opts.BindProvisioning(c.Flags())
	return c
}

func statusCommand() *cobra.Command {
	opts := wiring.FromEnv()

	c := &cobra.Command{
		Use:   "status <tenant> [active|suspended|deleted]",
		Short: "Show a tenant, or move it to a new status",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cliContext()
			rt, err := opts.Open(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			if len(args) == 1 {
				t, err := rt.Service.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), tenantView(t))
			}

			status, err := service.ParseStatus(args[1])
			if err != nil {
				return err
			}
			t, err := rt.Service.UpdateStatus(ctx, args[0], status)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), tenantView(t))
		},
	}

	opts.BindDatabase(c.Flags())
	return c
}

func migrationsCommand() *cobra.Command {
	opts := wiring.FromEnv()

	c := &cobra.Command{
		Use:   "migrations <tenant>",
		Short: "List the migrations recorded for a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cliContext()
			rt, err := opts.Open(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			history, err := rt.Service.ListMigrations(ctx, args[0])
			if err != nil {
				return err
			}
			return writeMigrations(cmd.OutOrStdout(), history)
		},
	}

	opts.BindDatabase(c.Flags())
	return c
}

type tenantOutput struct {
	TenantID     string         `json:"tenantId"`
	Slug         string         `json:"slug"`
	Name         string         `json:"tenantName"`
	Status       string         `json:"status"`
	Tier         string         `json:"tier"`
	DatabaseName string         `json:"databaseName"`
	Connection   string         `json:"connectionString,omitempty"`
	Limits       service.Limits `json:"limits"`
	CreatedAt    time.Time      `json:"createdAt"`
}

func tenantView(t service.Tenant) tenantOutput {
	return tenantOutput{
		TenantID:     t.ID.String(),
		Slug:         t.Slug,
		Name:         t.DisplayName,
		Status:       string(t.Status),
		Tier:         t.Tier,
		DatabaseName: t.DatabaseName,
		Connection:   t.ConnectionString,
		Limits:       t.Limits,
		CreatedAt:    t.CreatedAt,
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeMigrations(w io.Writer, history []service.Migration) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tSTATUS\tAPPLIED AT")
	for _, m := range history {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", m.Version, m.Status, m.AppliedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}
