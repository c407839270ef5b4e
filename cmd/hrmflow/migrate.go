package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/BaSui01/hrmflow/internal/migration"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

type migrateOptions struct {
	root   *rootOptions
	dbType string
	dbURL  string
}

// newMigrator 优先使用 --db-type/--db-url，否则读取配置文件
func (o *migrateOptions) newMigrator() (migration.Migrator, error) {
	if o.dbURL != "" {
		if o.dbType == "" {
			return nil, fmt.Errorf("--db-type is required with --db-url")
		}
		return migration.NewMigratorFromURL(o.dbType, o.dbURL)
	}
	cfg, err := o.root.loadConfig()
	if err != nil {
		return nil, err
	}
	if o.dbType != "" {
		cfg.Database.Driver = o.dbType
	}
	return migration.NewMigratorFromConfig(cfg)
}

// run opens a migrator, runs fn through the CLI wrapper and closes it.
func (o *migrateOptions) run(cmd *cobra.Command, fn func(ctx context.Context, cli *migration.CLI) error) error {
	m, err := o.newMigrator()
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	cli := migration.NewCLI(m)
	cli.SetOutput(cmd.OutOrStdout())
	return fn(cmd.Context(), cli)
}

func newMigrateCmd(root *rootOptions) *cobra.Command {
	opts := &migrateOptions{root: root}
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration commands",
	}
	cmd.PersistentFlags().StringVar(&opts.dbType, "db-type", "", "database type: postgres, mysql, sqlite (default: from config)")
	cmd.PersistentFlags().StringVar(&opts.dbURL, "db-url", "", "database URL (default: from config)")

	simple := func(use, short string, fn func(*migration.CLI, context.Context) error) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return opts.run(cmd, func(ctx context.Context, cli *migration.CLI) error { return fn(cli, ctx) })
			},
		}
	}

	cmd.AddCommand(
		simple("up", "Apply all pending migrations", (*migration.CLI).RunUp),
		simple("down", "Roll back the last migration", (*migration.CLI).RunDown),
		simple("reset", "Roll back all migrations", (*migration.CLI).RunDownAll),
		simple("status", "Show migration status", (*migration.CLI).RunStatus),
		simple("version", "Show current migration version", (*migration.CLI).RunVersion),
		&cobra.Command{
			Use:   "goto <version>",
			Short: "Migrate up or down to a specific version",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := strconv.ParseUint(args[0], 10, 32)
				if err != nil {
					return fmt.Errorf("invalid version %q: %w", args[0], err)
				}
				return opts.run(cmd, func(ctx context.Context, cli *migration.CLI) error {
					return cli.RunGoto(ctx, uint(v))
				})
			},
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Force the recorded version without running migrations (clears dirty state)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q: %w", args[0], err)
				}
				return opts.run(cmd, func(ctx context.Context, cli *migration.CLI) error {
					return cli.RunForce(ctx, v)
				})
			},
		},
		&cobra.Command{
			Use:   "steps <n>",
			Short: "Apply n migrations (negative n rolls back)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid step count %q: %w", args[0], err)
				}
				return opts.run(cmd, func(ctx context.Context, cli *migration.CLI) error {
					return cli.RunSteps(ctx, n)
				})
			},
		},
	)
	return cmd
}
